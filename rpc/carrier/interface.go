package carrier

import (
	"bufio"

	"github.com/ValentinKolb/dPort/rpc/common"
)

// FingerprintSize is the number of bytes that open every connection
const FingerprintSize = 8

// --------------------------------------------------------------------------
// Capabilities
// --------------------------------------------------------------------------

// Capabilities describes how a carrier behaves on the wire. It is returned
// by value and never changes for a carrier.
type Capabilities struct {
	// RequiresAck: every message is acknowledged before the next one may be sent
	RequiresAck bool
	// TextMode: payloads travel as bottle text lines
	TextMode bool
	// BareMode: messages are written without a kind line (text carriers only)
	BareMode bool
	// SupportsReply: the carrier can carry a reply for rpc messages
	SupportsReply bool
	// ModifiesIncoming: the carrier transforms received bytes (delegates only)
	ModifiesIncoming bool
	// ModifiesOutgoing: the carrier transforms sent bytes (delegates only)
	ModifiesOutgoing bool
}

// IsDelegate reports whether a carrier with these capabilities may only be
// attached as a send or receive delegate
func (c Capabilities) IsDelegate() bool {
	return c.ModifiesIncoming || c.ModifiesOutgoing
}

// --------------------------------------------------------------------------
// Handshake and frame data
// --------------------------------------------------------------------------

// Header is the negotiated connection header
type Header struct {
	// Sender is the name of the initiating port
	Sender string
	// Receiver is the name of the accepting port, known to the initiator up front
	// and reported back by carriers whose response names the responder
	Receiver string
	// SendDelegate transforms initiator to responder payloads
	SendDelegate string
	// RecvDelegate transforms responder to initiator payloads
	RecvDelegate string
	// Reverse asks the responder to send to the initiator instead of receiving from it
	Reverse bool
}

// HasDelegates reports whether the header requests any delegate
func (h Header) HasDelegates() bool {
	return h.SendDelegate != "" || h.RecvDelegate != ""
}

// Frame is one framed message on a connection
type Frame struct {
	Kind    common.MessageKind
	Seq     uint32
	Payload []byte
}

// --------------------------------------------------------------------------
// Carrier interfaces
// --------------------------------------------------------------------------

// ICarrier is implemented by every carrier
type ICarrier interface {
	// Name returns the registry name (e.g. "tcp")
	Name() string
	// Fingerprint returns the 8 bytes that open a connection of this carrier,
	// nil for delegates which are never selected by sniffing
	Fingerprint() []byte
	// Capabilities returns the immutable capability descriptor
	Capabilities() Capabilities
}

// IStreamCarrier is a primary carrier. It owns the handshake and framing of a
// connection. All methods operate on the buffered stream of one connection and
// must not retain it. Writers are flushed by the caller.
type IStreamCarrier interface {
	ICarrier

	// SendHeader writes the fingerprint, sender specifier and extra header (initiator)
	SendHeader(w *bufio.Writer, h Header) error
	// ExpectReplyToHeader reads the responder's acceptance (initiator)
	ExpectReplyToHeader(r *bufio.Reader, h *Header) error

	// ExpectSenderSpecifier reads the initiator's name; the fingerprint has
	// already been consumed (responder)
	ExpectSenderSpecifier(r *bufio.Reader, h *Header) error
	// ExpectExtraHeader reads carrier specific negotiation data (responder)
	ExpectExtraHeader(r *bufio.Reader, h *Header) error
	// RespondToHeader writes the acceptance (responder)
	RespondToHeader(w *bufio.Writer, h Header) error

	// WriteFrame writes one frame
	WriteFrame(w *bufio.Writer, f Frame) error
	// ReadFrame reads one frame. expect is KindReply or KindAck when the caller
	// waits for one of those and 0 when any message may arrive; carriers whose
	// framing is not self describing use it to interpret the input.
	// Payloads larger than limit are rejected.
	ReadFrame(r *bufio.Reader, expect common.MessageKind, limit int) (Frame, error)
}

// IDelegate transforms payload bytes. Delegates are never used as primary
// carrier, they are attached to a connection through the Header.
type IDelegate interface {
	ICarrier

	// Encode transforms bytes before they are framed
	Encode(data []byte) ([]byte, error)
	// Decode reverses Encode after a frame was read; the result must not exceed limit bytes
	Decode(data []byte, limit int) ([]byte, error)
}
