package carrier

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/dPort/rpc/common"
)

const (
	// frameHeaderSize is kind, sequence number and payload length, 4 bytes each
	frameHeaderSize = 12

	flagReverse byte = 1 << 0
)

var (
	// acceptWord is written by the responder once the header is accepted
	acceptWord = []byte{'Y', 'A', 0, 0, 0, 0, 'O', 'K'}
)

// binaryCarrier frames messages with a fixed size header:
//   - 4 bytes: kind (vocab code, big endian)
//   - 4 bytes: sequence number (big endian)
//   - 4 bytes: payload length (big endian)
//   - N bytes: payload
type binaryCarrier struct {
	name        string
	fingerprint []byte
	caps        Capabilities
}

// NewTCPCarrier creates the default binary carrier, every message is acknowledged
func NewTCPCarrier() IStreamCarrier {
	return &binaryCarrier{
		name:        "tcp",
		fingerprint: []byte{'Y', 'A', 0x64, 0x1E, 0, 0, 'R', 'P'},
		caps:        Capabilities{RequiresAck: true, SupportsReply: true},
	}
}

// NewFastTCPCarrier creates a binary carrier without acknowledgements
func NewFastTCPCarrier() IStreamCarrier {
	return &binaryCarrier{
		name:        "fast_tcp",
		fingerprint: []byte{'Y', 'A', 0x65, 0x1E, 0, 0, 'R', 'P'},
		caps:        Capabilities{RequiresAck: false, SupportsReply: true},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ICarrier)
// --------------------------------------------------------------------------

func (c *binaryCarrier) Name() string {
	return c.name
}

func (c *binaryCarrier) Fingerprint() []byte {
	return c.fingerprint
}

func (c *binaryCarrier) Capabilities() Capabilities {
	return c.caps
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IStreamCarrier)
// --------------------------------------------------------------------------

func (c *binaryCarrier) SendHeader(w *bufio.Writer, h Header) error {
	if _, err := w.Write(c.fingerprint); err != nil {
		return err
	}
	if err := writeString(w, h.Sender); err != nil {
		return err
	}

	// extra header: flags and the two delegate names
	var flags byte
	if h.Reverse {
		flags |= flagReverse
	}
	if err := w.WriteByte(flags); err != nil {
		return err
	}
	if err := writeString(w, h.SendDelegate); err != nil {
		return err
	}
	return writeString(w, h.RecvDelegate)
}

func (c *binaryCarrier) ExpectReplyToHeader(r *bufio.Reader, _ *Header) error {
	word := make([]byte, len(acceptWord))
	if _, err := io.ReadFull(r, word); err != nil {
		return err
	}
	if !bytes.Equal(word, acceptWord) {
		return fmt.Errorf("%w: unexpected response %q", ErrRejected, word)
	}
	return nil
}

func (c *binaryCarrier) ExpectSenderSpecifier(r *bufio.Reader, h *Header) error {
	sender, err := readString(r)
	if err != nil {
		return err
	}
	h.Sender = sender
	return nil
}

func (c *binaryCarrier) ExpectExtraHeader(r *bufio.Reader, h *Header) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	h.Reverse = flags&flagReverse != 0

	if h.SendDelegate, err = readString(r); err != nil {
		return err
	}
	h.RecvDelegate, err = readString(r)
	return err
}

func (c *binaryCarrier) RespondToHeader(w *bufio.Writer, _ Header) error {
	_, err := w.Write(acceptWord)
	return err
}

func (c *binaryCarrier) WriteFrame(w *bufio.Writer, f Frame) error {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(f.Kind))
	binary.BigEndian.PutUint32(header[4:8], f.Seq)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

func (c *binaryCarrier) ReadFrame(r *bufio.Reader, _ common.MessageKind, limit int) (Frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Kind: common.MessageKind(binary.BigEndian.Uint32(header[0:4])),
		Seq:  binary.BigEndian.Uint32(header[4:8]),
	}
	if !knownKind(f.Kind) {
		return Frame{}, fmt.Errorf("%w: unknown kind %#x", ErrBadFrame, uint32(f.Kind))
	}

	size := binary.BigEndian.Uint32(header[8:12])
	if int64(size) > int64(limit) {
		return Frame{}, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, limit)
	}

	f.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func knownKind(k common.MessageKind) bool {
	switch k {
	case common.KindData, common.KindRPC, common.KindAdmin, common.KindReply, common.KindAck:
		return true
	}
	return false
}
