package serializer

import (
	"github.com/ValentinKolb/dPort/lib/bottle"
)

// binarySerializerImpl writes and reads the binary bottle encoding
type binarySerializerImpl struct{}

// NewBinarySerializer creates a new binary serializer
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCSerializer)
// --------------------------------------------------------------------------

func (s *binarySerializerImpl) Name() string {
	return "binary"
}

func (s *binarySerializerImpl) Serialize(b *bottle.Bottle) ([]byte, error) {
	return b.MarshalBinary()
}

func (s *binarySerializerImpl) Deserialize(data []byte, b *bottle.Bottle) error {
	return b.UnmarshalBinary(data)
}
