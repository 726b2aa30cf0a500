package serializer

import (
	"bytes"

	"github.com/ValentinKolb/dPort/lib/bottle"
)

// textSerializerImpl writes and reads the human-readable bottle encoding.
// The text form never contains a raw newline, so it can be framed by lines.
type textSerializerImpl struct {
	// strict rejects binary input instead of sniffing it
	strict bool
}

// NewTextSerializer creates a new text serializer that also accepts binary input
func NewTextSerializer() IRPCSerializer {
	return &textSerializerImpl{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCSerializer)
// --------------------------------------------------------------------------

func (s *textSerializerImpl) Name() string {
	return "text"
}

func (s *textSerializerImpl) Serialize(b *bottle.Bottle) ([]byte, error) {
	return b.MarshalText()
}

func (s *textSerializerImpl) Deserialize(data []byte, b *bottle.Bottle) error {
	if !s.strict && bottle.IsBinary(data) {
		return b.UnmarshalBinary(data)
	}
	return b.UnmarshalText(bytes.TrimRight(data, "\r\n"))
}
