package serializer

import (
	"github.com/ValentinKolb/dPort/lib/bottle"
)

// autoSerializerImpl writes binary and sniffs the encoding on read, so
// a peer typing text into a binary connection is still understood
type autoSerializerImpl struct {
	binary binarySerializerImpl
	text   textSerializerImpl
}

// NewAutoSerializer creates a new serializer that writes binary and reads both encodings
func NewAutoSerializer() IRPCSerializer {
	return &autoSerializerImpl{text: textSerializerImpl{strict: true}}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCSerializer)
// --------------------------------------------------------------------------

func (s *autoSerializerImpl) Name() string {
	return "auto"
}

func (s *autoSerializerImpl) Serialize(b *bottle.Bottle) ([]byte, error) {
	return s.binary.Serialize(b)
}

func (s *autoSerializerImpl) Deserialize(data []byte, b *bottle.Bottle) error {
	if bottle.IsBinary(data) {
		return s.binary.Deserialize(data, b)
	}
	return s.text.Deserialize(data, b)
}
