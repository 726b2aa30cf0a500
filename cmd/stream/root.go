package stream

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dPort/cmd/util"
	"github.com/ValentinKolb/dPort/rpc/port"
)

// drainPoll is how often drain checks for packets still in flight
const drainPoll = 10 * time.Millisecond

func init() {
	util.SetupListenFlags(ReadCmd)
	util.SetupListenFlags(WriteCmd)

	ReadCmd.Flags().Bool("reply", false, util.WrapString("Answer rpc messages with the received message instead of an empty reply"))
	ReadCmd.Flags().Bool("envelope", false, util.WrapString("Print the route of every message in front of it"))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openPort opens the port name, listening unless it is output only
func openPort(name string, listen bool) (*port.Port, error) {
	table, err := util.GetNames()
	if err != nil {
		return nil, err
	}
	config, err := util.GetPortConfig(name, table, listen)
	if err != nil {
		return nil, err
	}
	p, err := port.Open(config, port.Options{Names: table})
	if err != nil {
		return nil, err
	}
	if listen {
		_, _ = fmt.Fprintf(os.Stderr, "%s listening on %s\n", p.Name(), p.Address().Contact())
	}
	return p, nil
}

// connectOutputs adds an output to every destination
func connectOutputs(ctx context.Context, p *port.Port, dests []string) error {
	opts := util.GetConnectOptions()
	for _, dest := range dests {
		connectCtx, cancel := util.WithTimeout(ctx)
		err := p.AddOutput(connectCtx, dest, opts)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// drain waits until every written message was acknowledged by all outputs
func drain(ctx context.Context, p *port.Port) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for p.Describe().PacketsInFlight > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d messages not delivered: %w", p.Describe().PacketsInFlight, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
