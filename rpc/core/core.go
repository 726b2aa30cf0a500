package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/lib/names"
	"github.com/ValentinKolb/dPort/rpc/carrier"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/protocol"
	"github.com/ValentinKolb/dPort/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("port/core")

// acceptRetryDelay is the pause after a failed accept before trying again
const acceptRetryDelay = 50 * time.Millisecond

var errNoReader = errors.New("port has no reader")

// Options are the collaborators of a Core
type Options struct {
	// Registry of carriers, carrier.Default() if nil
	Registry *carrier.Registry
	// Names resolves destinations and publishes the listen address, may be nil
	// (then only contact strings can be used as destination)
	Names names.INameService
}

// Core owns the network presence of one port and the set of its connections.
// The unit list and the phase are guarded by stateMu; broadcasting hands
// packets to the units under that lock without doing any I/O.
type Core struct {
	id       string
	config   common.PortConfig
	registry *carrier.Registry
	names    names.INameService

	// serializes Close calls
	closeMu sync.Mutex

	stateMu    sync.Mutex
	phase      Phase
	units      []*unit
	listener   net.Listener
	server     transport.IServerConnector
	address    common.Address
	registered bool
	cancel     context.CancelFunc
	loopDone   chan struct{}

	// wake nudges the accept loop to reap units
	wake chan struct{}
	// wg tracks every unit goroutine
	wg sync.WaitGroup

	reader  atomic.Pointer[ReadHandler]
	pool    *PacketPool
	metrics *portMetrics
}

// New creates a dormant Core
func New(config common.PortConfig, opts Options) *Core {
	if opts.Registry == nil {
		opts.Registry = carrier.Default()
	}
	if config.Carrier == "" {
		config.Carrier = common.DefaultCarrier
	}

	c := &Core{
		id:       uuid.NewString(),
		config:   config,
		registry: opts.Registry,
		names:    opts.Names,
		phase:    PhaseDormant,
		wake:     make(chan struct{}, 1),
		pool:     NewPacketPool(),
	}
	c.metrics = newPortMetrics(config.Name, func() float64 {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		return float64(len(c.units))
	})
	return c
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Name returns the name of the port
func (c *Core) Name() string {
	return c.config.Name
}

// Config returns the configuration the Core was created with
func (c *Core) Config() common.PortConfig {
	return c.config
}

// Phase returns the current lifecycle phase
func (c *Core) Phase() Phase {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.phase
}

// Address returns the bound address, valid after Listen
func (c *Core) Address() common.Address {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.address
}

// SetReader installs the handler for received messages. nil drops them.
func (c *Core) SetReader(h ReadHandler) {
	if h == nil {
		c.reader.Store(nil)
		return
	}
	c.reader.Store(&h)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Listen binds the acceptor to addr and registers the bound address under
// the name of the port. Port 0 picks a free port.
func (c *Core) Listen(addr common.Address) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.phase != PhaseDormant && c.phase != PhaseFinished {
		return common.NewError(common.CodeConfiguration, nil, "port %s cannot listen while %s", c.config.Name, c.phase)
	}
	if !addr.Valid() {
		return common.NewError(common.CodeAddress, nil, "cannot listen on invalid address %s", addr)
	}
	if addr.Carrier == "" {
		addr.Carrier = c.config.Carrier
	}
	if _, err := c.registry.Primary(addr.Carrier); err != nil {
		return err
	}

	server := transport.ServerFor(addr)
	l, err := server.Listen(addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		addr.Port = tcpAddr.Port
	}
	addr.Name = c.config.Name

	c.registered = false
	if c.names != nil && c.config.Name != "" {
		if addr, err = c.names.Register(c.config.Name, addr); err != nil {
			_ = l.Close()
			return err
		}
		c.registered = true
	}

	c.listener = l
	c.server = server
	c.address = addr
	c.units = nil
	c.phase = PhaseListening
	Logger.Debugf("port %s bound to %s", c.config.Name, addr.Contact())
	return nil
}

// Start runs the accept loop and returns once it is running. Starting a
// dormant Core gives a port that only connects outwards.
func (c *Core) Start() error {
	c.stateMu.Lock()
	if c.phase != PhaseListening && c.phase != PhaseDormant && c.phase != PhaseFinished {
		phase := c.phase
		c.stateMu.Unlock()
		return common.NewError(common.CodeConfiguration, nil, "port %s cannot start while %s", c.config.Name, phase)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	c.phase = PhaseRunning
	listener := c.listener
	c.stateMu.Unlock()

	ready := make(chan struct{})
	go c.acceptLoop(ctx, listener, ready)
	<-ready

	portSets.Store(c.id, c.metrics.set)
	if listener != nil {
		Logger.Infof("port %s listening on %s", c.config.Name, c.address.Contact())
	} else {
		Logger.Infof("port %s running without listener", c.config.Name)
	}
	return nil
}

// Close stops the accept loop and all units. When it returns no goroutine
// of the Core is running, the unit list is empty and the phase is finished.
// Calling Close again is a no-op.
func (c *Core) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	c.stateMu.Lock()
	if c.phase == PhaseDormant || c.phase == PhaseFinished {
		c.stateMu.Unlock()
		return nil
	}
	wasRunning := c.phase == PhaseRunning
	c.phase = PhaseClosing
	units := append([]*unit(nil), c.units...)
	for _, u := range units {
		u.doom()
	}
	cancel, listener := c.cancel, c.listener
	c.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			Logger.Debugf("closing listener of %s: %v", c.config.Name, err)
		}
	}
	if wasRunning {
		<-c.loopDone
	}

	for _, u := range units {
		u.stop()
	}
	c.wg.Wait()

	c.stateMu.Lock()
	c.units = nil
	c.listener = nil
	c.cancel = nil
	c.phase = PhaseFinished
	registered := c.registered
	c.registered = false
	c.stateMu.Unlock()

	portSets.Delete(c.id)
	if registered {
		if err := c.names.Unregister(c.config.Name); err != nil {
			Logger.Warningf("unregistering %s: %v", c.config.Name, err)
		}
	}
	Logger.Infof("port %s closed", c.config.Name)
	return nil
}

// acceptLoop hands accepted connections to new units and reaps finished
// units whenever it wakes up. Accept itself runs on a helper goroutine so the
// loop can select over cancellation, wake-ups and new connections.
func (c *Core) acceptLoop(ctx context.Context, l net.Listener, ready chan<- struct{}) {
	defer close(c.loopDone)

	conns := make(chan net.Conn)
	acceptorDone := make(chan struct{})
	acceptorExited := (<-chan struct{})(acceptorDone)
	if l == nil {
		close(acceptorDone)
		acceptorExited = nil
	} else {
		go c.accept(ctx, l, conns, acceptorDone)
	}
	close(ready)

	for {
		c.ReapUnits()
		select {
		case <-ctx.Done():
			<-acceptorDone
			return
		case <-acceptorExited:
			Logger.Errorf("port %s stopped accepting connections", c.config.Name)
			acceptorExited = nil
		case <-c.wake:
		case conn := <-conns:
			c.acceptConn(conn)
		}
	}
}

// accept feeds accepted connections to the accept loop until ctx is done
// or the listener is closed
func (c *Core) accept(ctx context.Context, l net.Listener, conns chan<- net.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Warningf("accept on %s failed: %v", c.address.Contact(), err)
			select {
			case <-time.After(acceptRetryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case conns <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

func (c *Core) acceptConn(conn net.Conn) {
	if err := c.server.UpgradeConnection(conn, c.config); err != nil {
		Logger.Debugf("upgrading connection from %s: %v", conn.RemoteAddr(), err)
	}
	proto := protocol.New(conn, c.protocolOptions(0))
	u := newUnit(c, proto, DirectionInput)
	if !c.spawn(u, u.runInbound) {
		_ = proto.Close()
	}
}

// spawn appends u to the unit list and starts its goroutine, unless the Core
// stopped running
func (c *Core) spawn(u *unit, run func()) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.phase != PhaseRunning {
		return false
	}
	c.units = append(c.units, u)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run()
	}()
	return true
}

// --------------------------------------------------------------------------
// Units
// --------------------------------------------------------------------------

// AddOutput connects to dest (a registered name or a contact string) and
// adds an output unit for it. Nothing is registered if resolving, dialing
// or the handshake fails.
func (c *Core) AddOutput(ctx context.Context, dest string, opts common.ConnectOptions) error {
	return c.connect(ctx, dest, opts, DirectionOutput)
}

// AddInput connects to src and asks it to send to this port. The connection
// is opened by this side but carries messages from src.
func (c *Core) AddInput(ctx context.Context, src string, opts common.ConnectOptions) error {
	return c.connect(ctx, src, opts, DirectionInput)
}

func (c *Core) connect(ctx context.Context, peer string, opts common.ConnectOptions, dir Direction) error {
	if phase := c.Phase(); phase != PhaseRunning {
		return common.NewError(common.CodeConfiguration, nil, "port %s cannot connect while %s", c.config.Name, phase)
	}

	addr, err := c.resolve(ctx, peer)
	if err != nil {
		return common.NewError(common.CodeConnect, err, "resolving %s", peer)
	}
	if opts.Carrier == "" {
		opts.Carrier = addr.Carrier
	}
	if opts.Carrier == "" {
		opts.Carrier = c.config.Carrier
	}
	if _, err := c.registry.Primary(opts.Carrier); err != nil {
		return common.NewError(common.CodeConnect, err, "connecting to %s", peer)
	}
	if c.connected(peer, opts.Carrier, dir) {
		Logger.Infof("%s is already connected to %s", c.config.Name, peer)
		return nil
	}

	conn, err := transport.ClientFor(addr).Connect(ctx, addr, c.config)
	if err != nil {
		return common.NewError(common.CodeConnect, err, "connecting to %s at %s", peer, addr.Contact())
	}

	proto := protocol.New(conn, c.protocolOptions(opts.Timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	err = proto.Open(peer, opts, dir == DirectionInput)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = proto.Close()
		if common.CodeOf(err) == common.CodeHandshake {
			c.metrics.handshakeFailures.Inc()
		}
		return common.NewError(common.CodeConnect, err, "handshake with %s", peer)
	}
	_ = conn.SetDeadline(time.Time{})

	u := newUnit(c, proto, dir)
	u.route = proto.Route()
	u.active = true
	if !c.spawn(u, u.run) {
		_ = proto.Close()
		return common.NewError(common.CodeConfiguration, nil, "port %s closed while connecting", c.config.Name)
	}
	Logger.Infof("%s %s connected", dir, u.route)
	return nil
}

// connected reports whether an active unit for the peer already exists
func (c *Core) connected(peer, carrierName string, dir Direction) bool {
	route := common.NewRoute(c.config.Name, peer, carrierName)
	if dir == DirectionInput {
		route = common.NewRoute(peer, c.config.Name, carrierName)
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, u := range c.units {
		if u.active && u.direction == dir && !u.doomed.Load() && !u.finished.Load() && u.route == route {
			return true
		}
	}
	return false
}

func (c *Core) resolve(ctx context.Context, peer string) (common.Address, error) {
	if common.IsContact(peer) || c.names == nil {
		return common.ParseContact(peer)
	}
	return c.names.Resolve(ctx, peer)
}

// RemoveUnit dooms every active unit whose route matches pattern (fields
// that are "" or "*" match anything) and returns how many were matched.
// With synchronous set it returns once they stopped, otherwise the accept
// loop stops them.
func (c *Core) RemoveUnit(pattern common.Route, synchronous bool) int {
	return c.removeUnits(pattern, synchronous, nil)
}

// removeUnits is RemoveUnit that does not wait for except, the unit the call came in on
func (c *Core) removeUnits(pattern common.Route, synchronous bool, except *unit) int {
	var matched []*unit
	c.stateMu.Lock()
	for _, u := range c.units {
		if u.active && !u.finished.Load() && u.route.Matches(pattern) && u.doom() {
			matched = append(matched, u)
		}
	}
	c.stateMu.Unlock()

	for _, u := range matched {
		Logger.Infof("removing %s %s", u.direction, u.route)
	}

	if !synchronous {
		c.wakeReaper()
		return len(matched)
	}
	for _, u := range matched {
		if u == except {
			continue
		}
		u.stop()
		u.join()
	}
	return len(matched)
}

// ReapUnits stops doomed units and drops finished ones from the unit list
func (c *Core) ReapUnits() {
	var doomed []*unit

	c.stateMu.Lock()
	kept := c.units[:0]
	for _, u := range c.units {
		if u.finished.Load() {
			continue
		}
		if u.doomed.Load() {
			doomed = append(doomed, u)
		}
		kept = append(kept, u)
	}
	for i := len(kept); i < len(c.units); i++ {
		c.units[i] = nil
	}
	c.units = kept
	c.stateMu.Unlock()

	// unit goroutines wake the loop again once they are finished
	for _, u := range doomed {
		u.stop()
	}
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send broadcasts content to every active output unit and reports whether
// at least one took it. With a reply sink the message is sent as rpc; the
// first reply is stored in the sink. Without outputs nothing happens.
func (c *Core) Send(content *bottle.Bottle, reply *ReplySink) bool {
	kind := common.KindData
	if reply != nil {
		kind = common.KindRPC
	}
	return c.send(kind, content, reply)
}

// SendAdmin broadcasts an administrative command, answered by the ports on
// the other side instead of their readers
func (c *Core) SendAdmin(content *bottle.Bottle, reply *ReplySink) bool {
	return c.send(common.KindAdmin, content, reply)
}

func (c *Core) send(kind common.MessageKind, content *bottle.Bottle, reply *ReplySink) bool {
	pkt := c.pool.Get(kind, content, reply)

	delivered := 0
	c.stateMu.Lock()
	if c.phase == PhaseRunning {
		for _, u := range c.units {
			if u.direction != DirectionOutput || !u.active || u.doomed.Load() || u.finished.Load() {
				continue
			}
			pkt.Retain()
			if u.queue.Push(pkt) {
				delivered++
			} else {
				pkt.Release()
			}
		}
	}
	c.stateMu.Unlock()
	pkt.Release()

	if delivered == 0 {
		c.metrics.undelivered.Inc()
		return false
	}
	c.metrics.sent.Add(delivered)
	return true
}

// --------------------------------------------------------------------------
// Diagnostics
// --------------------------------------------------------------------------

// UnitReport describes one connection
type UnitReport struct {
	ID          uuid.UUID
	Direction   Direction
	Route       common.Route
	Remote      string
	Since       time.Time
	Doomed      bool
	Queued      int
	Sent        int64
	Received    int64
	Errors      int64
	MeanPayload float64
	MaxPayload  int64
}

// Report is a snapshot of a Core
type Report struct {
	Name            string
	Address         common.Address
	Phase           Phase
	Units           []UnitReport
	PacketsInFlight int
}

// Describe returns a snapshot of all active, unfinished units
func (c *Core) Describe() Report {
	inFlight, _ := c.pool.Stats()

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	report := Report{
		Name:            c.config.Name,
		Address:         c.address,
		Phase:           c.phase,
		PacketsInFlight: inFlight,
	}
	for _, u := range c.units {
		if !u.active || u.finished.Load() {
			continue
		}
		report.Units = append(report.Units, UnitReport{
			ID:          u.id,
			Direction:   u.direction,
			Route:       u.route,
			Remote:      u.proto.RemoteAddr().String(),
			Since:       u.since,
			Doomed:      u.doomed.Load(),
			Queued:      u.queue.Len(),
			Sent:        u.metrics.sent.Count(),
			Received:    u.metrics.received.Count(),
			Errors:      u.metrics.errors.Count(),
			MeanPayload: u.metrics.payload.Mean(),
			MaxPayload:  u.metrics.payload.Max(),
		})
	}
	return report
}

// --------------------------------------------------------------------------
// Unit callbacks (docu see unitOwner)
// --------------------------------------------------------------------------

// activate is called by an accepted unit after its handshake. A peer that
// connected in reverse wants to receive, so the unit becomes an output.
func (c *Core) activate(u *unit) bool {
	if u.proto.IsReverse() {
		return c.adoptOutput(u)
	}
	return c.adopt(u, DirectionInput)
}

// adoptOutput registers an accepted connection as output of this port
func (c *Core) adoptOutput(u *unit) bool {
	return c.adopt(u, DirectionOutput)
}

func (c *Core) adopt(u *unit, dir Direction) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.phase != PhaseRunning || u.doomed.Load() {
		return false
	}
	u.route = u.proto.Route()
	u.direction = dir
	u.active = true
	Logger.Infof("%s %s connected from %s", dir, u.route, u.proto.RemoteAddr())
	return true
}

func (c *Core) deliver(msg Message) *bottle.Bottle {
	c.metrics.received.Inc()

	h := c.reader.Load()
	if h == nil {
		Logger.Debugf("%s has no reader, dropping message from %s", c.config.Name, msg.Route.From)
		if common.WantsReply(msg.Kind) {
			return common.NewFailResponse(errNoReader)
		}
		return nil
	}
	return (*h)(msg)
}

func (c *Core) handshakeFailed(u *unit, err error) {
	c.metrics.handshakeFailures.Inc()
	if u.doomed.Load() || protocol.IsClosed(err) {
		Logger.Debugf("handshake from %s aborted: %v", u.proto.RemoteAddr(), err)
		return
	}
	Logger.Warningf("handshake from %s failed: %v", u.proto.RemoteAddr(), err)
}

func (c *Core) markFinished(u *unit) {
	c.stateMu.Lock()
	u.finished.Store(true)
	c.stateMu.Unlock()
}

func (c *Core) wakeReaper() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Core) protocolOptions(timeout time.Duration) protocol.Options {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	return protocol.Options{
		LocalName:  c.config.Name,
		Registry:   c.registry,
		Timeout:    timeout,
		MaxPayload: c.config.PayloadLimit(),
	}
}
