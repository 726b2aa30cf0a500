package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dPort/cmd/util"
	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/core"
	"github.com/ValentinKolb/dPort/rpc/port"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("port")

// shutdownTimeout bounds the shutdown of the metrics endpoint
const shutdownTimeout = 2 * time.Second

var (
	ServeCmd = &cobra.Command{
		Use:   "serve [name] [dest...]",
		Short: "Run a relay port",
		Long: `Run a port that forwards every message of its inputs to all of its outputs.
rpc messages are forwarded as rpc and the first reply goes back to the sender.
Outputs can be added at start (dest...) or later with "dport connect".

The configuration can be set via command line flags or environment variables.
The format of the environment variables is DPORT_<flag> (e.g. DPORT_TIMEOUT=15)`,
		Args: cobra.MinimumNArgs(1),
		RunE: run,
	}
)

func init() {
	cmdUtil.SetupListenFlags(ServeCmd)

	key := "metrics-endpoint"
	ServeCmd.Flags().String(key, "", cmdUtil.WrapString("The address on which Prometheus metrics are served under /metrics (e.g. :9100), empty disables it"))
}

// run starts the relay port and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := cmdUtil.GetNames()
	if err != nil {
		return err
	}
	config, err := cmdUtil.GetPortConfig(args[0], table, true)
	if err != nil {
		return err
	}
	Logger.Infof("starting relay %s", config.Name)
	Logger.Infof("%s", config.String())

	p, err := port.Open(config, port.Options{Names: table})
	if err != nil {
		return err
	}
	defer p.Close()
	p.SetReader(relay(p))
	_, _ = fmt.Fprintf(os.Stderr, "%s listening on %s\n", p.Name(), p.Address().Contact())

	opts := cmdUtil.GetConnectOptions()
	for _, dest := range args[1:] {
		connectCtx, cancel := cmdUtil.WithTimeout(ctx)
		err := p.AddOutput(connectCtx, dest, opts)
		cancel()
		if err != nil {
			return err
		}
	}

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		srv := newMetricsServer(endpoint, config.LogLevel == "debug")
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	Logger.Infof("stopping relay %s", config.Name)
	return nil
}

// relay returns a reader that forwards every message to the outputs of p
func relay(p *port.Port) core.ReadHandler {
	return func(msg core.Message) *bottle.Bottle {
		if !common.WantsReply(msg.Kind) {
			if !p.Write(msg.Content) {
				Logger.Debugf("%s has no output, dropping message from %s", p.Name(), msg.Route.From)
			}
			return nil
		}

		ctx, cancel := cmdUtil.WithTimeout(context.Background())
		defer cancel()
		reply, err := p.WriteRPC(ctx, msg.Content)
		if err != nil {
			return common.NewFailResponse(err)
		}
		return reply
	}
}
