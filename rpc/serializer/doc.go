// Package serializer provides Bottle serialization for the port protocol.
// It defines a common interface and the implementations carriers pick from
// depending on whether they are text or binary carriers.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: The compact binary bottle encoding (little endian
//     32 bit words, specialized lists).
//
//   - textSerializerImpl: The human-readable encoding operators type into a
//     text carrier connection. It also accepts binary input.
//
//   - autoSerializerImpl: Writes binary and sniffs the encoding of input, used
//     by binary carriers so text and binary encodings are interchangeable on read.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.ForMode(carrier.Capabilities().TextMode)
//	data, err := s.Serialize(b)
//	// ... send data ...
//	received := &bottle.Bottle{}
//	err = s.Deserialize(receivedData, received)
package serializer
