package serializer

import "github.com/ValentinKolb/dPort/lib/bottle"

// IRPCSerializer is the interface for all Bottle serializers
type IRPCSerializer interface {
	// Name returns the name of the encoding (e.g. "binary", "text")
	Name() string
	// Serialize serializes a Bottle into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(b *bottle.Bottle) ([]byte, error)
	// Deserialize deserializes a byte array into a Bottle
	// It replaces the content of b and returns an error if any
	Deserialize(data []byte, b *bottle.Bottle) error
}

// ForMode returns the serializer a carrier uses to write payloads.
// Text mode carriers write the text form, all others the binary form.
// Both read either form.
func ForMode(textMode bool) IRPCSerializer {
	if textMode {
		return NewTextSerializer()
	}
	return NewAutoSerializer()
}
