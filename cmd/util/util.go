package util

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/lib/names"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags and configuration
// --------------------------------------------------------------------------

// SetupGlobalFlags adds the flags every command understands
func SetupGlobalFlags(cmd *cobra.Command) {
	key := "names"
	cmd.PersistentFlags().String(key, "", WrapString("Static name table, comma-separated entries of the form /name=carrier://host:port"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Timeout in seconds for connecting, reading and writing (0 disables it)"))

	key = "carrier"
	cmd.PersistentFlags().String(key, common.DefaultCarrier, WrapString("Carrier used for new connections (tcp, fast_tcp, text, text_ack)"))

	key = "send-delegate"
	cmd.PersistentFlags().String(key, "", WrapString("Delegate carrier compressing the data this side sends (zstd, snappy)"))

	key = "recv-delegate"
	cmd.PersistentFlags().String(key, "", WrapString("Delegate carrier compressing the replies this side receives (zstd, snappy)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// SetupListenFlags adds the flags of commands that open a listening port
func SetupListenFlags(cmd *cobra.Command) {
	key := "listen"
	cmd.Flags().String(key, "tcp://127.0.0.1:0", WrapString("Contact to listen on (e.g. tcp://0.0.0.0:10002 or tcp:///tmp/port.sock). Ignored if the port name is in the name table"))

	key = "max-payload"
	cmd.Flags().Int(key, common.DefaultMaxPayloadBytes/1024, WrapString("Largest accepted message in KB"))

	key = "tcp-nodelay"
	cmd.Flags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on accepted connections"))

	key = "tcp-keepalive"
	cmd.Flags().Int(key, 0, WrapString("The keepalive interval for TCP connections (in seconds)"))
}

// InitConfig loads .env files and binds environment variables with the prefix DPORT_
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dport")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetNames returns the name table given with --names
func GetNames() (*names.Table, error) {
	table, err := names.ParseTable(viper.GetString("names"))
	if err != nil {
		return nil, fmt.Errorf("invalid --names: %w", err)
	}
	return table, nil
}

// GetTimeout returns the configured timeout
func GetTimeout() time.Duration {
	return time.Duration(viper.GetInt("timeout")) * time.Second
}

// WithTimeout bounds ctx by the configured timeout, if there is one
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := GetTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// GetConnectOptions returns the options for new connections
func GetConnectOptions() common.ConnectOptions {
	return common.ConnectOptions{
		Carrier:      viper.GetString("carrier"),
		SendDelegate: viper.GetString("send-delegate"),
		RecvDelegate: viper.GetString("recv-delegate"),
	}
}

// GetPortConfig returns the configuration of a port named name. The port
// listens on the address of name in the table, otherwise on --listen.
// With listen false the port does not accept connections.
func GetPortConfig(name string, table *names.Table, listen bool) (common.PortConfig, error) {
	config := common.DefaultPortConfig(name)
	config.Timeout = GetTimeout()
	config.Carrier = viper.GetString("carrier")
	config.LogLevel = viper.GetString("log-level")
	config.Address = common.Address{}

	if !listen {
		return config, nil
	}

	if kb := viper.GetInt("max-payload"); kb > 0 {
		config.MaxPayloadBytes = kb * 1024
	}
	config.TCPConf.TCPNoDelay = viper.GetBool("tcp-nodelay")
	config.TCPConf.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")

	if addr, err := table.Resolve(context.Background(), name); err == nil {
		config.Address = addr
		return config, nil
	}
	addr, err := common.ParseContact(viper.GetString("listen"))
	if err != nil {
		return config, err
	}
	config.Address = addr
	return config, nil
}

// AnonymousName returns a unique port name for short-lived command ports
func AnonymousName(prefix string) string {
	return fmt.Sprintf("/dport/%s/%s", prefix, uuid.NewString()[:8])
}

// --------------------------------------------------------------------------
// Bottle input
// --------------------------------------------------------------------------

// ReadBottles parses every non-empty line of r as Bottle text and calls fn
// with it until r ends or fn returns an error
func ReadBottles(r io.Reader, fn func(b *bottle.Bottle) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), common.DefaultMaxPayloadBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b, err := bottle.Parse(line)
		if err != nil {
			return fmt.Errorf("cannot parse %q: %w", line, err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return scanner.Err()
}
