package serializer

import (
	"math"
	"testing"

	"github.com/ValentinKolb/dPort/lib/bottle"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"Binary": NewBinarySerializer,
	"Text":   NewTextSerializer,
	"Auto":   NewAutoSerializer,
}

// testBottles creates a set of test bottles with different value types
func testBottles() []*bottle.Bottle {
	nested := bottle.New(bottle.String("inner"), bottle.Int32(-1))

	return []*bottle.Bottle{
		// Empty bottle
		bottle.New(),

		// Command with arguments
		bottle.New(bottle.VocabValue(bottle.EncodeVocab("set")), bottle.String("gain"), bottle.Float64(0.5)),

		// Specialized list of ints
		bottle.New(bottle.Int32(1), bottle.Int32(2), bottle.Int32(3)),

		// Strings that need quoting
		bottle.New(bottle.String("hello world"), bottle.String(`"quoted" \ back`), bottle.String("")),

		// Every value type, nested
		bottle.New(
			bottle.Int32(math.MaxInt32),
			bottle.Float64(-1e-9),
			bottle.Blob([]byte{0, 1, 254, 255}),
			bottle.List(nested),
			bottle.List(bottle.New()),
		),
	}
}

// TestSerializerRoundTrip tests that bottles can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	bottles := testBottles()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, b := range bottles {
				// Serialize
				data, err := serializer.Serialize(b)
				if err != nil {
					t.Errorf("Failed to serialize bottle %d: %v", i, err)
					continue
				}

				// Deserialize
				result := &bottle.Bottle{}
				err = serializer.Deserialize(data, result)
				if err != nil {
					t.Errorf("Failed to deserialize bottle %d: %v", i, err)
					continue
				}

				// Compare
				if !b.Equal(result) {
					t.Errorf("Bottle %d doesn't match after round trip:\nOriginal: %s\nResult: %s", i, b, result)
				}
			}
		})
	}
}

// TestCrossEncoding tests that text and binary encodings are interchangeable on read
func TestCrossEncoding(t *testing.T) {
	binary := NewBinarySerializer()
	text := NewTextSerializer()
	auto := NewAutoSerializer()

	for i, b := range testBottles() {
		binData, _ := binary.Serialize(b)
		textData, _ := text.Serialize(b)

		for _, tc := range []struct {
			name string
			s    IRPCSerializer
			data []byte
		}{
			{"auto<-binary", auto, binData},
			{"auto<-text", auto, textData},
			{"text<-binary", text, binData},
			{"text<-text+newline", text, append(textData, '\r', '\n')},
		} {
			result := &bottle.Bottle{}
			if err := tc.s.Deserialize(tc.data, result); err != nil {
				t.Errorf("%s: bottle %d failed: %v", tc.name, i, err)
				continue
			}
			if !b.Equal(result) {
				t.Errorf("%s: bottle %d mismatch: %s vs %s", tc.name, i, b, result)
			}
		}
	}
}

// TestForMode tests serializer selection by carrier mode
func TestForMode(t *testing.T) {
	if ForMode(true).Name() != "text" {
		t.Errorf("text mode should use the text serializer")
	}
	if ForMode(false).Name() != "auto" {
		t.Errorf("binary mode should use the auto serializer")
	}
}

// TestDeserializeErrors tests that garbage input is rejected
func TestDeserializeErrors(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			var garbage []byte
			if name == "Binary" {
				garbage = []byte{0, 1, 0, 0, 5, 0}
			} else {
				garbage = []byte("(unbalanced")
			}
			if err := serializer.Deserialize(garbage, &bottle.Bottle{}); err == nil {
				t.Errorf("%s: garbage should not deserialize", name)
			}
		})
	}
}
