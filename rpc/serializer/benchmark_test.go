package serializer

import (
	"testing"

	"github.com/ValentinKolb/dPort/lib/bottle"
)

// benchmarkBottles returns a set of bottles for targeted benchmarking
func benchmarkBottles() map[string]*bottle.Bottle {
	large := bottle.New()
	for i := 0; i < 1024; i++ {
		large.AddFloat64(float64(i) * 0.25)
	}

	return map[string]*bottle.Bottle{
		"Empty":   bottle.New(),
		"Command": bottle.New(bottle.VocabValue(bottle.EncodeVocab("set")), bottle.String("gain"), bottle.Float64(0.5)),
		"Strings": bottle.New(bottle.String("medium length value for testing serialization"), bottle.String("with \"quotes\"")),
		"Blob":    bottle.New(bottle.Blob(make([]byte, 1024))),
		"Floats":  large,
		"Nested": bottle.New(
			bottle.List(bottle.New(bottle.String("width"), bottle.Int32(640))),
			bottle.List(bottle.New(bottle.String("height"), bottle.Int32(480))),
		),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various bottles
func BenchmarkSerialize(b *testing.B) {
	bottles := benchmarkBottles()

	for name, factory := range testSerializers {
		for bottleName, msg := range bottles {
			b.Run(name+"_"+bottleName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various bottles
func BenchmarkDeserialize(b *testing.B) {
	bottles := benchmarkBottles()
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all bottles with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for bottleName, msg := range bottles {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", bottleName, name, err)
			}
			serializedData[name][bottleName] = data
		}
	}

	// Benchmark deserialization
	for name, factory := range testSerializers {
		for bottleName := range bottles {
			b.Run(name+"_"+bottleName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][bottleName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					msg := &bottle.Bottle{}
					if err := serializer.Deserialize(data, msg); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
