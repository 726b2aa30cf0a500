package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/common"
)

// --------------------------------------------------------------------------
// Packet
// --------------------------------------------------------------------------

// Packet tracks one broadcast message until every output unit it was handed
// to is done with it. The pending count starts at one for the reference of
// the sender; each hand-off adds one and every holder calls Release exactly
// once. The last release returns the packet to its pool.
type Packet struct {
	kind    common.MessageKind
	content *bottle.Bottle
	reply   *ReplySink
	pending atomic.Int32
	pool    *PacketPool
}

// Kind returns the message kind the packet is sent with
func (p *Packet) Kind() common.MessageKind {
	return p.kind
}

// Content returns the message. It must not be modified.
func (p *Packet) Content() *bottle.Bottle {
	return p.content
}

// Reply returns the sink collecting the reply, nil for one way messages
func (p *Packet) Reply() *ReplySink {
	return p.reply
}

// Pending returns the number of holders that have not released the packet
func (p *Packet) Pending() int32 {
	return p.pending.Load()
}

// Retain registers one more holder. Only valid while the caller holds a reference.
func (p *Packet) Retain() {
	if p.pending.Add(1) <= 1 {
		panic("core: retain of a released packet")
	}
}

// Release drops one reference. The last holder completes the reply sink
// and returns the packet to its pool.
func (p *Packet) Release() {
	n := p.pending.Add(-1)
	if n < 0 {
		panic("core: packet released more often than retained")
	}
	if n > 0 {
		return
	}
	if p.reply != nil {
		p.reply.complete()
	}
	if p.pool != nil {
		p.pool.put(p)
	}
}

// --------------------------------------------------------------------------
// Packet pool
// --------------------------------------------------------------------------

// PacketPool recycles packets. It has its own lock so that broadcasting does
// not contend with the unit bookkeeping of the Core.
type PacketPool struct {
	mu    sync.Mutex
	free  []*Packet
	inUse int
}

// NewPacketPool creates an empty pool
func NewPacketPool() *PacketPool {
	return &PacketPool{}
}

// Get returns a packet holding a copy of content with a pending count of one
func (pp *PacketPool) Get(kind common.MessageKind, content *bottle.Bottle, reply *ReplySink) *Packet {
	pp.mu.Lock()
	var p *Packet
	if n := len(pp.free); n > 0 {
		p = pp.free[n-1]
		pp.free[n-1] = nil
		pp.free = pp.free[:n-1]
	} else {
		p = &Packet{pool: pp}
	}
	pp.inUse++
	pp.mu.Unlock()

	p.kind = kind
	p.content = content.Copy()
	p.reply = reply
	p.pending.Store(1)
	return p
}

func (pp *PacketPool) put(p *Packet) {
	p.content = nil
	p.reply = nil

	pp.mu.Lock()
	pp.inUse--
	pp.free = append(pp.free, p)
	pp.mu.Unlock()
}

// Stats returns the number of packets in flight and waiting for reuse
func (pp *PacketPool) Stats() (inUse, free int) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.inUse, len(pp.free)
}

// --------------------------------------------------------------------------
// Reply sink
// --------------------------------------------------------------------------

// ReplySink receives the reply to a broadcast rpc. The first reply wins;
// the sink is complete once every output unit is done with the message.
type ReplySink struct {
	mu       sync.Mutex
	reply    *bottle.Bottle
	from     common.Route
	received bool
	first    chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewReplySink creates an empty sink
func NewReplySink() *ReplySink {
	return &ReplySink{first: make(chan struct{}), done: make(chan struct{})}
}

// offer stores the reply if it is the first one and reports whether it was taken
func (s *ReplySink) offer(from common.Route, reply *bottle.Bottle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received {
		return false
	}
	s.reply, s.from, s.received = reply, from, true
	close(s.first)
	return true
}

func (s *ReplySink) complete() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once all output units are done with the message
func (s *ReplySink) Done() <-chan struct{} {
	return s.done
}

// Reply returns the reply and the route it arrived on, ok is false if no
// output unit delivered one
func (s *ReplySink) Reply() (reply *bottle.Bottle, from common.Route, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.from, s.received
}

// Wait blocks until the first reply arrives, the sink is complete or ctx is done
func (s *ReplySink) Wait(ctx context.Context) (*bottle.Bottle, error) {
	select {
	case <-s.first:
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	reply, _, ok := s.Reply()
	if !ok {
		return nil, common.NewError(common.CodeStream, nil, "no output delivered a reply")
	}
	return reply, nil
}
