package port

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/lib/names"
	"github.com/ValentinKolb/dPort/rpc/carrier"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/core"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("port")

// DefaultInboxSize is the number of received messages buffered for Read
const DefaultInboxSize = 64

// ErrClosed is returned by Read and the rpc calls of a closed port
var ErrClosed = errors.New("port closed")

// Options are the optional collaborators of a Port
type Options struct {
	// Names resolves destinations and publishes the listen address,
	// names.Default() if nil
	Names names.INameService
	// Registry of carriers, carrier.Default() if nil
	Registry *carrier.Registry
	// InboxSize is the capacity of the Read buffer, DefaultInboxSize if <= 0
	InboxSize int
}

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// Message is a message returned by Read
type Message struct {
	Route   common.Route
	Kind    common.MessageKind
	Content *bottle.Bottle

	reply   chan *bottle.Bottle
	replied atomic.Bool
}

// WantsReply reports whether the sender waits for a reply
func (m *Message) WantsReply() bool {
	return m.reply != nil
}

// Reply answers the message. Only the first reply is sent.
func (m *Message) Reply(b *bottle.Bottle) error {
	if m.reply == nil {
		return common.NewError(common.CodeStream, nil, "message from %s does not want a reply", m.Route.From)
	}
	if !m.replied.CompareAndSwap(false, true) {
		return common.NewError(common.CodeStream, nil, "message from %s was answered already", m.Route.From)
	}
	m.reply <- b
	return nil
}

// --------------------------------------------------------------------------
// Port
// --------------------------------------------------------------------------

// Port is a named endpoint that reads from its inputs and broadcasts to its
// outputs. Received messages are buffered for Read unless a reader callback
// is installed with SetReader.
type Port struct {
	core   *core.Core
	config common.PortConfig

	inbox     chan *Message
	done      chan struct{}
	closeOnce sync.Once

	lastMu sync.Mutex
	last   *Message
}

// Open creates a running port. With an empty config.Address.Host the port
// does not listen and can only connect to others.
func Open(config common.PortConfig, opts Options) (*Port, error) {
	if config.Name == "" {
		return nil, common.NewError(common.CodeConfiguration, nil, "port name must not be empty")
	}
	if opts.Names == nil {
		opts.Names = names.Default()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}

	p := &Port{
		core:   core.New(config, core.Options{Registry: opts.Registry, Names: opts.Names}),
		config: config,
		inbox:  make(chan *Message, opts.InboxSize),
		done:   make(chan struct{}),
	}
	p.core.SetReader(p.handle)

	if config.Address.Host != "" {
		if err := p.core.Listen(config.Address); err != nil {
			return nil, err
		}
	}
	if err := p.core.Start(); err != nil {
		_ = p.core.Close()
		return nil, err
	}
	return p, nil
}

// Name returns the registered name of the port
func (p *Port) Name() string {
	return p.core.Name()
}

// Address returns the bound address, invalid for ports without listener
func (p *Port) Address() common.Address {
	return p.core.Address()
}

// Config returns the configuration the port was opened with
func (p *Port) Config() common.PortConfig {
	return p.config
}

// Describe returns a snapshot of the connections of the port
func (p *Port) Describe() core.Report {
	return p.core.Describe()
}

// Close disconnects everything and unregisters the port. Blocked Read calls
// return ErrClosed.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.core.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// AddOutput connects to dest (a registered name or a contact string) and
// sends to it from now on
func (p *Port) AddOutput(ctx context.Context, dest string, opts common.ConnectOptions) error {
	return p.core.AddOutput(ctx, dest, opts)
}

// AddInput connects to src and asks it to send to this port
func (p *Port) AddInput(ctx context.Context, src string, opts common.ConnectOptions) error {
	return p.core.AddInput(ctx, src, opts)
}

// RemoveOutput disconnects all outputs to dest and returns how many there were
func (p *Port) RemoveOutput(dest string) int {
	return p.core.RemoveUnit(common.NewRoute(p.Name(), dest, "*"), true)
}

// RemoveInput disconnects all inputs from src and returns how many there were
func (p *Port) RemoveInput(src string) int {
	return p.core.RemoveUnit(common.NewRoute(src, p.Name(), "*"), true)
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Write broadcasts b to all outputs. It returns false if there was none.
func (p *Port) Write(b *bottle.Bottle) bool {
	return p.core.Send(b, nil)
}

// WriteRPC broadcasts b as rpc and returns the first reply
func (p *Port) WriteRPC(ctx context.Context, b *bottle.Bottle) (*bottle.Bottle, error) {
	sink := core.NewReplySink()
	if !p.core.Send(b, sink) {
		return nil, p.undelivered()
	}
	return sink.Wait(ctx)
}

// Admin sends an administrative command to the ports on the other end of
// the outputs and returns the first answer
func (p *Port) Admin(ctx context.Context, cmd *bottle.Bottle) (*bottle.Bottle, error) {
	sink := core.NewReplySink()
	if !p.core.SendAdmin(cmd, sink) {
		return nil, p.undelivered()
	}
	return sink.Wait(ctx)
}

func (p *Port) undelivered() error {
	select {
	case <-p.done:
		return ErrClosed
	default:
		return common.NewError(common.CodeStream, nil, "port %s has no output", p.Name())
	}
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// SetReader installs a callback that receives every message instead of
// Read. The callback runs on the goroutine of the connection. Passing nil
// switches back to Read.
func (p *Port) SetReader(h core.ReadHandler) {
	if h == nil {
		p.core.SetReader(p.handle)
		return
	}
	p.core.SetReader(h)
}

// Read waits for the next message. A message that wants a reply can be
// answered with Reply (or Message.Reply) until the next Read.
func (p *Port) Read(ctx context.Context) (*Message, error) {
	select {
	case m := <-p.inbox:
		if m.WantsReply() {
			p.lastMu.Lock()
			p.last = m
			p.lastMu.Unlock()
		}
		return m, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers the last message returned by Read that wants a reply
func (p *Port) Reply(b *bottle.Bottle) error {
	p.lastMu.Lock()
	m := p.last
	p.last = nil
	p.lastMu.Unlock()

	if m == nil {
		return common.NewError(common.CodeStream, nil, "nothing to reply to")
	}
	return m.Reply(b)
}

// handle queues a received message for Read and waits for the reply if the
// sender wants one. Without a reply within the configured timeout the sender
// gets an empty one.
func (p *Port) handle(msg core.Message) *bottle.Bottle {
	m := &Message{Route: msg.Route, Kind: msg.Kind, Content: msg.Content}
	if common.WantsReply(msg.Kind) {
		m.reply = make(chan *bottle.Bottle, 1)
	}

	select {
	case p.inbox <- m:
	case <-p.done:
		return nil
	}
	if m.reply == nil {
		return nil
	}

	var timeout <-chan time.Time
	if p.config.Timeout > 0 {
		timer := time.NewTimer(p.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case b := <-m.reply:
		return b
	case <-timeout:
		Logger.Warningf("%s did not reply to %s in time", p.Name(), msg.Route.From)
		return nil
	case <-p.done:
		return nil
	}
}
