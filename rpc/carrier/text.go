package carrier

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/dPort/rpc/common"
)

const (
	ackLine     = "<ACK>"
	welcomeWord = "Welcome"
)

// ErrTextHeader is returned when a header needs fields the text carriers cannot carry
var ErrTextHeader = errors.New("text carriers support neither delegates nor reverse connections")

// textCarrier is a line based carrier a human can type into a raw socket:
//
//	CONNECT /me        (fingerprint and sender)
//	Welcome /port      (response)
//	d                  (kind line: d data, r rpc, a admin, q quit)
//	1 2 "three"        (bottle text line)
//
// A line that is not a kind line is read as a data message. Replies are a
// single bottle text line, acknowledgements the line <ACK>.
type textCarrier struct {
	name        string
	fingerprint []byte
	caps        Capabilities
}

// NewTextCarrier creates the plain text carrier
func NewTextCarrier() IStreamCarrier {
	return &textCarrier{
		name:        "text",
		fingerprint: []byte("CONNECT "),
		caps:        Capabilities{TextMode: true, SupportsReply: true},
	}
}

// NewTextAckCarrier creates the text carrier that acknowledges every message
func NewTextAckCarrier() IStreamCarrier {
	return &textCarrier{
		name:        "text_ack",
		fingerprint: []byte("CONNACK "),
		caps:        Capabilities{TextMode: true, SupportsReply: true, RequiresAck: true},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ICarrier)
// --------------------------------------------------------------------------

func (c *textCarrier) Name() string {
	return c.name
}

func (c *textCarrier) Fingerprint() []byte {
	return c.fingerprint
}

func (c *textCarrier) Capabilities() Capabilities {
	return c.caps
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IStreamCarrier)
// --------------------------------------------------------------------------

func (c *textCarrier) SendHeader(w *bufio.Writer, h Header) error {
	if h.HasDelegates() || h.Reverse {
		return ErrTextHeader
	}
	if strings.ContainsAny(h.Sender, "\r\n") {
		return fmt.Errorf("%w: sender name contains a line break", ErrBadFrame)
	}
	if _, err := w.Write(c.fingerprint); err != nil {
		return err
	}
	_, err := w.WriteString(h.Sender + "\n")
	return err
}

func (c *textCarrier) ExpectReplyToHeader(r *bufio.Reader, h *Header) error {
	line, err := readLine(r, maxNameLength)
	if err != nil {
		return err
	}
	word, name, _ := strings.Cut(line, " ")
	if word != welcomeWord {
		return fmt.Errorf("%w: unexpected response %q", ErrRejected, line)
	}
	if name = strings.TrimSpace(name); name != "" {
		h.Receiver = name
	}
	return nil
}

func (c *textCarrier) ExpectSenderSpecifier(r *bufio.Reader, h *Header) error {
	line, err := readLine(r, maxNameLength)
	if err != nil {
		return err
	}
	h.Sender = strings.TrimSpace(line)
	return nil
}

func (c *textCarrier) ExpectExtraHeader(_ *bufio.Reader, _ *Header) error {
	return nil
}

func (c *textCarrier) RespondToHeader(w *bufio.Writer, h Header) error {
	_, err := w.WriteString(welcomeWord + " " + h.Receiver + "\n")
	return err
}

func (c *textCarrier) WriteFrame(w *bufio.Writer, f Frame) error {
	if f.Kind == common.KindAck {
		_, err := w.WriteString(ackLine + "\n")
		return err
	}
	if bytes.ContainsAny(f.Payload, "\r\n") {
		return fmt.Errorf("%w: text payload contains a line break", ErrBadFrame)
	}

	if f.Kind != common.KindReply && !(c.caps.BareMode && f.Kind == common.KindData) {
		letter, ok := kindLetters[f.Kind]
		if !ok {
			return fmt.Errorf("%w: kind %s cannot be sent as text", ErrBadFrame, f.Kind)
		}
		if _, err := w.WriteString(letter + "\n"); err != nil {
			return err
		}
	}
	if _, err := w.Write(f.Payload); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func (c *textCarrier) ReadFrame(r *bufio.Reader, expect common.MessageKind, limit int) (Frame, error) {
	switch expect {
	case common.KindAck:
		line, err := readLine(r, limit)
		if err != nil {
			return Frame{}, err
		}
		if strings.TrimSpace(line) != ackLine {
			return Frame{}, fmt.Errorf("%w: expected %s, got %q", ErrBadFrame, ackLine, line)
		}
		return Frame{Kind: common.KindAck}, nil

	case common.KindReply:
		line, err := readLine(r, limit)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: common.KindReply, Payload: []byte(line)}, nil
	}

	for {
		line, err := readLine(r, limit)
		if err != nil {
			return Frame{}, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "q" {
			return Frame{}, io.EOF
		}

		kind, isKindLine := letterKinds[trimmed]
		if !isKindLine {
			// a bottle typed without kind line
			return Frame{Kind: common.KindData, Payload: []byte(line)}, nil
		}
		payload, err := readLine(r, limit)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: kind, Payload: []byte(payload)}, nil
	}
}

var (
	kindLetters = map[common.MessageKind]string{
		common.KindData:  "d",
		common.KindRPC:   "r",
		common.KindAdmin: "a",
	}
	letterKinds = map[string]common.MessageKind{
		"d": common.KindData,
		"r": common.KindRPC,
		"a": common.KindAdmin,
	}
)
