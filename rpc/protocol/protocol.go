package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/carrier"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("port/protocol")

const (
	// bufferSize of the buffered reader and writer of every connection
	bufferSize = 32 * 1024
	// closeFlushTimeout bounds the best-effort flush of a pending ack on Close
	closeFlushTimeout = 100 * time.Millisecond
)

// Options configure a Protocol
type Options struct {
	// LocalName is the name of the port owning the connection
	LocalName string
	// Registry used to look up carriers and delegates, carrier.Default() if nil
	Registry *carrier.Registry
	// Timeout applied to every read and write except waiting for the next
	// message, 0 disables it
	Timeout time.Duration
	// MaxPayload rejects larger frames, common.DefaultMaxPayloadBytes if <= 0
	MaxPayload int
}

// Protocol turns a byte stream into a sequence of framed bottles using the
// negotiated carrier. Handshake and framing methods must be called from one
// goroutine (the owning connection unit); Close and IsOk may be called from
// any goroutine.
type Protocol struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	wmu  sync.Mutex

	opts      Options
	initiator bool

	carrier    carrier.IStreamCarrier
	caps       carrier.Capabilities
	header     carrier.Header
	route      common.Route
	serializer serializer.IRPCSerializer

	// owned by the framing goroutine
	writeSeq uint32
	readSeq  uint32
	unacked  bool
	lastSize int

	// set by ReadMessage, cleared by SendAck or the flush in Close
	pendingAck atomic.Bool
	ackSeq     atomic.Uint32

	// outgoing transforms payloads this side writes, incoming payloads it reads
	outgoing lazyDelegate
	incoming lazyDelegate

	ok        atomic.Bool
	closeOnce sync.Once
}

// New wraps a connection. Run Accept (responder) or Open (initiator) before framing.
func New(conn net.Conn, opts Options) *Protocol {
	if opts.Registry == nil {
		opts.Registry = carrier.Default()
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = common.DefaultMaxPayloadBytes
	}

	p := &Protocol{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufferSize),
		w:    bufio.NewWriterSize(conn, bufferSize),
		opts: opts,
	}
	p.ok.Store(true)
	return p
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Route returns the route of the connection, valid after the handshake
func (p *Protocol) Route() common.Route {
	return p.route
}

// Carrier returns the negotiated carrier, nil before the handshake
func (p *Protocol) Carrier() carrier.IStreamCarrier {
	return p.carrier
}

// Capabilities returns the capabilities of the negotiated carrier
func (p *Protocol) Capabilities() carrier.Capabilities {
	return p.caps
}

// Header returns the negotiated header
func (p *Protocol) Header() carrier.Header {
	return p.header
}

// IsReverse reports whether the connection carries messages from the
// responder to the initiator
func (p *Protocol) IsReverse() bool {
	return p.header.Reverse
}

// IsInitiator reports whether this side opened the connection
func (p *Protocol) IsInitiator() bool {
	return p.initiator
}

// RemoteAddr returns the address of the peer
func (p *Protocol) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// LastPayloadSize returns the wire size of the last message written or read
func (p *Protocol) LastPayloadSize() int {
	return p.lastSize
}

// IsOk reports whether the stream is healthy and no delegate failed to resolve
func (p *Protocol) IsOk() bool {
	return p.ok.Load() && p.outgoing.err == nil && p.incoming.err == nil
}

// --------------------------------------------------------------------------
// Handshake, responder side
// --------------------------------------------------------------------------

// Accept runs the responder side of the handshake
func (p *Protocol) Accept() error {
	steps := []func() error{
		p.ExpectProtocolSpecifier,
		p.ExpectSenderSpecifier,
		p.ExpectExtraHeader,
		p.RespondToHeader,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	Logger.Debugf("accepted %s from %s", p.route, p.conn.RemoteAddr())
	return nil
}

// ExpectProtocolSpecifier reads the fingerprint and selects the carrier.
// An unknown fingerprint gets the diagnostic banner written back.
func (p *Protocol) ExpectProtocolSpecifier() error {
	p.readDeadline()
	fp := make([]byte, carrier.FingerprintSize)
	if _, err := io.ReadFull(p.r, fp); err != nil {
		return p.fail(common.CodeHandshake, err, "reading protocol specifier")
	}

	c, ok := p.opts.Registry.Sniff(fp)
	if !ok {
		p.writeBanner(fp)
		return p.fail(common.CodeUnknownCarrier, nil, "Protocol not found for fingerprint %q", fp)
	}
	p.setCarrier(c)
	return nil
}

// ExpectSenderSpecifier reads the name of the initiating port
func (p *Protocol) ExpectSenderSpecifier() error {
	p.readDeadline()
	if err := p.carrier.ExpectSenderSpecifier(p.r, &p.header); err != nil {
		return p.fail(common.CodeHandshake, err, "reading sender specifier")
	}
	if p.header.Sender == "" {
		p.header.Sender = p.conn.RemoteAddr().String()
	}
	return nil
}

// ExpectExtraHeader reads the carrier specific extra header (delegates, direction)
func (p *Protocol) ExpectExtraHeader() error {
	p.readDeadline()
	if err := p.carrier.ExpectExtraHeader(p.r, &p.header); err != nil {
		return p.fail(common.CodeHandshake, err, "reading extra header")
	}

	// the initiator's send delegate is what this side receives
	p.incoming = lazyDelegate{name: p.header.SendDelegate}
	p.outgoing = lazyDelegate{name: p.header.RecvDelegate}

	if p.header.Reverse {
		p.route = common.NewRoute(p.opts.LocalName, p.header.Sender, p.carrier.Name())
	} else {
		p.route = common.NewRoute(p.header.Sender, p.opts.LocalName, p.carrier.Name())
	}
	return nil
}

// RespondToHeader acknowledges the header to the initiator
func (p *Protocol) RespondToHeader() error {
	p.header.Receiver = p.opts.LocalName
	err := p.write(func(w *bufio.Writer) error {
		return p.carrier.RespondToHeader(w, p.header)
	})
	if err != nil {
		return p.fail(common.CodeHandshake, err, "responding to header")
	}
	return nil
}

// --------------------------------------------------------------------------
// Handshake, initiator side
// --------------------------------------------------------------------------

// Open runs the initiator side of the handshake towards the port named dest.
// With reverse set the peer sends to this side instead of receiving.
func (p *Protocol) Open(dest string, opts common.ConnectOptions, reverse bool) error {
	if err := p.Prepare(dest, opts, reverse); err != nil {
		return err
	}
	if err := p.SendHeader(); err != nil {
		return err
	}
	return p.ExpectReplyToHeader()
}

// Prepare selects the carrier and builds the header without any I/O.
// Configuration problems are reported here.
func (p *Protocol) Prepare(dest string, opts common.ConnectOptions, reverse bool) error {
	c, err := p.opts.Registry.Primary(opts.CarrierOrDefault())
	if err != nil {
		p.ok.Store(false)
		return err
	}
	header := carrier.Header{
		Sender:       p.opts.LocalName,
		Receiver:     dest,
		SendDelegate: opts.SendDelegate,
		RecvDelegate: opts.RecvDelegate,
		Reverse:      reverse,
	}
	if c.Capabilities().TextMode && (header.HasDelegates() || reverse) {
		p.ok.Store(false)
		return common.NewError(common.CodeConfiguration, carrier.ErrTextHeader, "carrier %q", c.Name())
	}

	p.initiator = true
	p.setCarrier(c)
	p.header = header
	p.outgoing = lazyDelegate{name: opts.SendDelegate}
	p.incoming = lazyDelegate{name: opts.RecvDelegate}
	if reverse {
		p.route = common.NewRoute(dest, p.opts.LocalName, c.Name())
	} else {
		p.route = common.NewRoute(p.opts.LocalName, dest, c.Name())
	}
	return nil
}

// SendHeader writes fingerprint, sender specifier and extra header
func (p *Protocol) SendHeader() error {
	err := p.write(func(w *bufio.Writer) error {
		return p.carrier.SendHeader(w, p.header)
	})
	if err != nil {
		return p.fail(common.CodeHandshake, err, "sending header")
	}
	return nil
}

// ExpectReplyToHeader waits for the responder to accept the header
func (p *Protocol) ExpectReplyToHeader() error {
	p.readDeadline()
	expected := p.header.Receiver
	if err := p.carrier.ExpectReplyToHeader(p.r, &p.header); err != nil {
		return p.fail(common.CodeHandshake, err, "waiting for reply to header")
	}
	if p.header.Receiver != expected {
		Logger.Debugf("%s answered as %s", expected, p.header.Receiver)
	}
	Logger.Debugf("opened %s to %s", p.route, p.conn.RemoteAddr())
	return nil
}

// --------------------------------------------------------------------------
// Framing
// --------------------------------------------------------------------------

// WriteMessage frames and writes one message. On carriers that require
// acknowledgement the previous message must have been acknowledged
// (ExpectAck) before the next one is written.
func (p *Protocol) WriteMessage(kind common.MessageKind, b *bottle.Bottle) error {
	if !p.IsOk() {
		return common.NewError(common.CodeStream, nil, "connection %s is closed", p.route)
	}
	if p.unacked {
		return common.NewError(common.CodeStream, nil, "message %d on %s was not acknowledged", p.writeSeq, p.route)
	}

	payload, err := p.encode(b)
	if err != nil {
		return err
	}

	p.writeSeq++
	p.lastSize = len(payload)
	frame := carrier.Frame{Kind: kind, Seq: p.writeSeq, Payload: payload}
	if err := p.write(func(w *bufio.Writer) error { return p.carrier.WriteFrame(w, frame) }); err != nil {
		return p.fail(common.CodeStream, err, "writing message")
	}
	p.unacked = p.caps.RequiresAck
	return nil
}

// ExpectReply reads the reply to the last written message
func (p *Protocol) ExpectReply() (*bottle.Bottle, error) {
	f, err := p.readFrame(common.KindReply)
	if err != nil {
		return nil, err
	}
	if f.Kind != common.KindReply || (!p.caps.TextMode && f.Seq != p.writeSeq) {
		return nil, p.fail(common.CodeStream, nil, "expected reply to %d, got %s %d", p.writeSeq, f.Kind, f.Seq)
	}
	return p.decode(f.Payload)
}

// ExpectAck waits for the acknowledgement of the last written message.
// It returns immediately on carriers without acknowledgement.
func (p *Protocol) ExpectAck() error {
	if !p.caps.RequiresAck {
		return nil
	}
	f, err := p.readFrame(common.KindAck)
	if err != nil {
		return err
	}
	if f.Kind != common.KindAck || (!p.caps.TextMode && f.Seq != p.writeSeq) {
		return p.fail(common.CodeStream, nil, "expected ack of %d, got %s %d", p.writeSeq, f.Kind, f.Seq)
	}
	p.unacked = false
	return nil
}

// ReadMessage waits for the next message and returns its kind and content.
// A payload that cannot be decoded is reported as error while the
// connection stays usable (IsOk remains true); the ack is still owed.
func (p *Protocol) ReadMessage() (common.MessageKind, *bottle.Bottle, error) {
	f, err := p.expectIndex()
	if err != nil {
		return 0, nil, err
	}
	b, err := p.decode(f.Payload)
	return f.Kind, b, err
}

// expectIndex reads the next message frame and records the owed ack.
// Waiting for the frame to begin is not bounded by the timeout, an idle
// connection stays open; once it began the frame must arrive in time.
func (p *Protocol) expectIndex() (carrier.Frame, error) {
	if err := p.awaitFrame(); err != nil {
		return carrier.Frame{}, err
	}
	f, err := p.readFrame(0)
	if err != nil {
		return f, err
	}
	switch f.Kind {
	case common.KindData, common.KindRPC, common.KindAdmin:
	default:
		return f, p.fail(common.CodeStream, nil, "unexpected %s frame while waiting for a message", f.Kind)
	}

	p.readSeq = f.Seq
	p.lastSize = len(f.Payload)
	if p.caps.RequiresAck {
		p.ackSeq.Store(f.Seq)
		p.pendingAck.Store(true)
	}
	return f, nil
}

// WriteReply writes the reply to the last read message
func (p *Protocol) WriteReply(b *bottle.Bottle) error {
	if !p.IsOk() {
		return common.NewError(common.CodeStream, nil, "connection %s is closed", p.route)
	}
	payload, err := p.encode(b)
	if err != nil {
		return err
	}
	frame := carrier.Frame{Kind: common.KindReply, Seq: p.readSeq, Payload: payload}
	if err := p.write(func(w *bufio.Writer) error { return p.carrier.WriteFrame(w, frame) }); err != nil {
		return p.fail(common.CodeStream, err, "writing reply")
	}
	return nil
}

// SendAck acknowledges the last read message if the carrier requires it
func (p *Protocol) SendAck() error {
	if !p.pendingAck.CompareAndSwap(true, false) {
		return nil
	}
	frame := carrier.Frame{Kind: common.KindAck, Seq: p.ackSeq.Load()}
	if err := p.write(func(w *bufio.Writer) error { return p.carrier.WriteFrame(w, frame) }); err != nil {
		return p.fail(common.CodeStream, err, "writing ack")
	}
	return nil
}

// Close flushes a pending acknowledgement best-effort and closes the stream.
// It is safe to call concurrently with a blocked read and more than once.
func (p *Protocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.ok.Load() && p.pendingAck.Load() && p.wmu.TryLock() {
			if p.pendingAck.CompareAndSwap(true, false) {
				_ = p.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
				frame := carrier.Frame{Kind: common.KindAck, Seq: p.ackSeq.Load()}
				if p.carrier.WriteFrame(p.w, frame) == nil {
					_ = p.w.Flush()
				}
			}
			p.wmu.Unlock()
		}
		p.ok.Store(false)
		err = p.conn.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (p *Protocol) setCarrier(c carrier.IStreamCarrier) {
	p.carrier = c
	p.caps = c.Capabilities()
	p.serializer = serializer.ForMode(p.caps.TextMode)
}

// fail marks the protocol inactive and returns an error of the given class
func (p *Protocol) fail(code common.ErrorCode, err error, format string, args ...interface{}) error {
	p.ok.Store(false)
	return common.NewError(code, err, format, args...)
}

func (p *Protocol) readDeadline() {
	if p.opts.Timeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.opts.Timeout))
	}
}

// write runs fn on the buffered writer and flushes, guarded by the write lock
func (p *Protocol) write(fn func(w *bufio.Writer) error) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if p.opts.Timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.Timeout))
	}
	if err := fn(p.w); err != nil {
		return err
	}
	return p.w.Flush()
}

// awaitFrame blocks without deadline until the first byte of a frame is buffered
func (p *Protocol) awaitFrame() error {
	if !p.IsOk() {
		return common.NewError(common.CodeStream, nil, "connection %s is closed", p.route)
	}
	_ = p.conn.SetReadDeadline(time.Time{})
	if _, err := p.r.Peek(1); err != nil {
		return p.fail(common.CodeStream, err, "reading from %s", p.route)
	}
	return nil
}

func (p *Protocol) readFrame(expect common.MessageKind) (carrier.Frame, error) {
	if !p.IsOk() {
		return carrier.Frame{}, common.NewError(common.CodeStream, nil, "connection %s is closed", p.route)
	}
	p.readDeadline()
	f, err := p.carrier.ReadFrame(p.r, expect, p.opts.MaxPayload)
	if err != nil {
		return f, p.fail(common.CodeStream, err, "reading from %s", p.route)
	}
	return f, nil
}

// encode serializes b and applies the outgoing delegate
func (p *Protocol) encode(b *bottle.Bottle) ([]byte, error) {
	payload, err := p.serializer.Serialize(b)
	if err != nil {
		return nil, common.NewError(common.CodeStream, err, "serializing message")
	}
	d, err := p.resolve(&p.outgoing)
	if err != nil || d == nil {
		return payload, err
	}
	if payload, err = d.Encode(payload); err != nil {
		return nil, p.fail(common.CodeStream, err, "delegate %s", d.Name())
	}
	return payload, nil
}

// decode applies the incoming delegate and deserializes the payload
func (p *Protocol) decode(payload []byte) (*bottle.Bottle, error) {
	d, err := p.resolve(&p.incoming)
	if err != nil {
		return nil, err
	}
	if d != nil {
		if payload, err = d.Decode(payload, p.opts.MaxPayload); err != nil {
			return nil, p.fail(common.CodeStream, err, "delegate %s", d.Name())
		}
	}

	b := &bottle.Bottle{}
	if err := p.serializer.Deserialize(payload, b); err != nil {
		return nil, common.NewError(common.CodeStream, err, "malformed payload")
	}
	return b, nil
}

// resolve resolves a delegate on first use. Failure is permanent and closes
// the connection.
func (p *Protocol) resolve(d *lazyDelegate) (carrier.IDelegate, error) {
	if d.name == "" {
		return nil, nil
	}
	if !d.resolved {
		d.resolved = true
		d.delegate, d.err = p.opts.Registry.Delegate(d.name)
		if d.err != nil {
			Logger.Warningf("delegate %q on %s cannot be resolved: %v", d.name, p.route, d.err)
			d.err = common.NewError(common.CodeHandshake, d.err, "delegate %q", d.name)
			p.ok.Store(false)
			_ = p.conn.Close()
		}
	}
	return d.delegate, d.err
}

// writeBanner tells a human on the other end what this port speaks
func (p *Protocol) writeBanner(fp []byte) {
	Logger.Warningf("unknown protocol %q from %s", fp, p.conn.RemoteAddr())
	_ = p.write(func(w *bufio.Writer) error {
		_, err := w.WriteString(Banner(p.opts.LocalName, p.opts.Registry))
		return err
	})
}

// Banner returns the diagnostic text written for an unknown fingerprint
func Banner(localName string, registry *carrier.Registry) string {
	var sb strings.Builder
	sb.WriteString("Protocol not found.\n")
	sb.WriteString(fmt.Sprintf("This is port %s. Carriers spoken here: %s\n",
		localName, strings.Join(registry.StreamNames(), ", ")))
	sb.WriteString("To talk to this port by hand, type:\n")
	sb.WriteString("  CONNECT /your/name\n")
	sb.WriteString("followed by one bottle per line, e.g.:\n")
	sb.WriteString("  d\n  1 2 \"hello\"\n")
	sb.WriteString("Use 'a' instead of 'd' for admin commands ([help], [list]) and 'q' to quit.\n")
	return sb.String()
}

// lazyDelegate resolves a delegate by name on first use
type lazyDelegate struct {
	name     string
	resolved bool
	delegate carrier.IDelegate
	err      error
}

// IsClosed reports whether err means the peer or this side closed the stream
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
