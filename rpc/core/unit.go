package core

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/lib/util"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/protocol"
	"github.com/google/uuid"
)

// Message is one message received by an input unit
type Message struct {
	Route   common.Route
	Kind    common.MessageKind
	Content *bottle.Bottle
}

// ReadHandler receives the messages of all input units. It is called on the
// goroutine of the receiving unit, so calls for different connections run
// concurrently. The returned bottle is sent back for rpc messages and
// ignored otherwise.
type ReadHandler func(msg Message) *bottle.Bottle

// unitOwner is everything a unit may ask of the Core owning it
type unitOwner interface {
	activate(u *unit) bool
	deliver(msg Message) *bottle.Bottle
	handleAdmin(u *unit, cmd *bottle.Bottle) *bottle.Bottle
	handshakeFailed(u *unit, err error)
	markFinished(u *unit)
	wakeReaper()
}

// unit is one live connection of a port. It runs on its own goroutine and
// either reads messages (input) or transmits the packets handed to it (output).
type unit struct {
	id      uuid.UUID
	owner   unitOwner
	proto   *protocol.Protocol
	queue   *util.Queue[Packet]
	metrics *unitMetrics
	since   time.Time

	// guarded by the state lock of the owner
	route     common.Route
	direction Direction
	active    bool

	doomed   atomic.Bool
	finished atomic.Bool
	done     chan struct{}
}

func newUnit(owner unitOwner, proto *protocol.Protocol, direction Direction) *unit {
	return &unit{
		id:        uuid.New(),
		owner:     owner,
		proto:     proto,
		queue:     util.NewQueue[Packet](),
		metrics:   newUnitMetrics(),
		since:     time.Now(),
		direction: direction,
		done:      make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// runInbound runs the responder handshake of an accepted connection, then
// serves it in the direction the peer asked for
func (u *unit) runInbound() {
	defer u.exit()

	if err := u.proto.Accept(); err != nil {
		u.owner.handshakeFailed(u, err)
		return
	}
	if !u.owner.activate(u) {
		return
	}
	u.serve()
}

// run serves a unit whose handshake was done by the caller
func (u *unit) run() {
	defer u.exit()
	u.serve()
}

func (u *unit) serve() {
	if u.direction == DirectionOutput {
		u.sendLoop()
	} else {
		u.readLoop()
	}
}

// exit is deferred by every unit goroutine. Once finished is set no packet
// can be handed to the unit anymore, so draining the queue afterwards
// releases every packet it still holds.
func (u *unit) exit() {
	if r := recover(); r != nil {
		Logger.Errorf("unit %s on %s crashed: %v", u.id, u.route, r)
	}

	u.owner.markFinished(u)
	u.queue.Close()
	for {
		pkt, ok := u.queue.TryPop()
		if !ok {
			break
		}
		pkt.Release()
	}
	_ = u.proto.Close()
	close(u.done)
	u.owner.wakeReaper()
}

// doom marks the unit for removal. No packets are handed to it afterwards.
// Returns false if it was doomed already.
func (u *unit) doom() bool {
	if !u.doomed.CompareAndSwap(false, true) {
		return false
	}
	u.queue.Close()
	return true
}

// stop dooms the unit and interrupts any blocked I/O
func (u *unit) stop() {
	u.doom()
	_ = u.proto.Close()
}

func (u *unit) join() {
	<-u.done
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

func (u *unit) sendLoop() {
	for {
		pkt, ok := u.queue.Pop()
		if !ok {
			return
		}
		if !u.doomed.Load() {
			u.transmit(pkt)
		}
		pkt.Release()
		if !u.proto.IsOk() {
			return
		}
	}
}

// transmit writes one packet and waits for its reply and acknowledgement.
// The next packet is not framed before the acknowledgement arrived.
func (u *unit) transmit(pkt *Packet) {
	kind := pkt.Kind()
	wantsReply := pkt.Reply() != nil && common.WantsReply(kind)
	if wantsReply && !u.proto.Capabilities().SupportsReply {
		Logger.Warningf("carrier %s on %s does not support replies, sending without waiting", u.route.Carrier, u.route)
		kind, wantsReply = common.KindData, false
	}

	if err := u.proto.WriteMessage(kind, pkt.Content()); err != nil {
		u.fail("send", err)
		return
	}
	u.metrics.sent.Inc(1)
	u.metrics.payload.Update(int64(u.proto.LastPayloadSize()))

	if wantsReply {
		reply, err := u.proto.ExpectReply()
		switch {
		case err != nil && !u.proto.IsOk():
			u.fail("reply", err)
			return
		case err != nil:
			u.metrics.errors.Inc(1)
			Logger.Warningf("dropping malformed reply on %s: %v", u.route, err)
		case !pkt.Reply().offer(u.route, reply):
			Logger.Debugf("dropping reply on %s, another output answered first", u.route)
		}
	}

	if err := u.proto.ExpectAck(); err != nil {
		u.fail("ack", err)
	}
}

// --------------------------------------------------------------------------
// Input
// --------------------------------------------------------------------------

func (u *unit) readLoop() {
	for !u.doomed.Load() {
		kind, content, err := u.proto.ReadMessage()
		if err != nil && !u.proto.IsOk() {
			u.fail("read", err)
			return
		}

		var reply *bottle.Bottle
		switch {
		case err != nil:
			u.metrics.errors.Inc(1)
			Logger.Warningf("malformed message on %s: %v", u.route, err)
			reply = common.NewFailResponse(err)
		case kind == common.KindAdmin:
			u.metrics.received.Inc(1)
			reply = u.owner.handleAdmin(u, content)
		default:
			u.metrics.received.Inc(1)
			u.metrics.payload.Update(int64(u.proto.LastPayloadSize()))
			reply = u.owner.deliver(Message{Route: u.route, Kind: kind, Content: content})
		}

		if err := u.answer(kind, reply); err != nil {
			u.fail("reply", err)
			return
		}
	}
}

// answer writes the reply for kinds that want one and acknowledges the message
func (u *unit) answer(kind common.MessageKind, reply *bottle.Bottle) error {
	if common.WantsReply(kind) {
		if reply == nil {
			reply = bottle.New()
		}
		if err := u.proto.WriteReply(reply); err != nil {
			return err
		}
	}
	return u.proto.SendAck()
}

// fail logs the error that ends the unit
func (u *unit) fail(op string, err error) {
	u.metrics.errors.Inc(1)
	if u.doomed.Load() || protocol.IsClosed(err) {
		Logger.Debugf("%s on %s ended: %v", op, u.route, err)
		return
	}
	Logger.Warningf("%s on %s failed: %v", op, u.route, err)
}
