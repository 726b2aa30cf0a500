package common

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultCarrier is used for outputs when no carrier is requested
	DefaultCarrier = "tcp"
	// DefaultMaxPayloadBytes limits the size of a single framed message
	DefaultMaxPayloadBytes = 16 * 1024 * 1024
)

// --------------------------------------------------------------------------
// Socket configuration
// --------------------------------------------------------------------------

// SocketConf holds settings that apply to every stream socket
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds settings that apply to TCP sockets only
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Port configuration struct
// --------------------------------------------------------------------------

// PortConfig holds all configuration parameters of one port
type PortConfig struct {
	// Name the port registers under (e.g. "/sensor/out")
	Name string

	// Address to listen on. Host "" means the port does not accept connections
	Address Address

	// Carrier used for outputs if ConnectOptions does not name one
	Carrier string

	// Timeout applied to every read and write (handshake and messages), 0 disables it
	Timeout time.Duration

	// MaxPayloadBytes rejects frames larger than this
	MaxPayloadBytes int

	// Socket settings
	SocketConf SocketConf
	TCPConf    TCPConf

	// Logging configuration
	LogLevel string
}

// DefaultPortConfig returns the configuration used when nothing else is set
func DefaultPortConfig(name string) PortConfig {
	return PortConfig{
		Name:            name,
		Address:         Address{Host: "127.0.0.1", Port: 0, Carrier: DefaultCarrier},
		Carrier:         DefaultCarrier,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		TCPConf:         TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		LogLevel:        "info",
	}
}

// PayloadLimit returns MaxPayloadBytes or the default if unset
func (c *PortConfig) PayloadLimit() int {
	if c.MaxPayloadBytes <= 0 {
		return DefaultMaxPayloadBytes
	}
	return c.MaxPayloadBytes
}

// String returns a formatted string representation of the configuration
func (c *PortConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Port identity
	addSection("Port")
	addField("Name", c.Name)
	if c.Address.Host != "" {
		addField("Listen", c.Address.Contact())
	} else {
		addField("Listen", "(output only)")
	}
	addField("Default Carrier", c.Carrier)

	// Limits
	addSection("Limits")
	if c.Timeout > 0 {
		addField("Timeout", c.Timeout.String())
	} else {
		addField("Timeout", "none")
	}
	addField("Max Payload", fmt.Sprintf("%d bytes", c.PayloadLimit()))

	// Socket settings
	addSection("Socket")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.SocketConf.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.SocketConf.ReadBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.TCPConf.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPConf.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPConf.TCPLingerSec))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Connect options
// --------------------------------------------------------------------------

// ConnectOptions control how AddOutput connects to a destination
type ConnectOptions struct {
	// Carrier is the primary carrier, DefaultCarrier if empty
	Carrier string
	// SendDelegate transforms payloads this side sends (e.g. "zstd")
	SendDelegate string
	// RecvDelegate transforms replies this side receives
	RecvDelegate string
	// Timeout overrides PortConfig.Timeout for this connection if > 0
	Timeout time.Duration
}

// CarrierOrDefault returns the requested carrier or DefaultCarrier
func (o ConnectOptions) CarrierOrDefault() string {
	if o.Carrier == "" {
		return DefaultCarrier
	}
	return o.Carrier
}
