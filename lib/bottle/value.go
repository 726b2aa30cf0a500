package bottle

import (
	"bytes"
	"math"
	"strings"
)

// --------------------------------------------------------------------------
// Value Kinds
// --------------------------------------------------------------------------

// Kind identifies the type of a Value
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt32
	KindFloat64
	KindString
	KindVocab
	KindBlob
	KindList
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindVocab:
		return "vocab"
	case KindBlob:
		return "blob"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// --------------------------------------------------------------------------
// Vocab
// --------------------------------------------------------------------------

// Vocab is a keyword of up to four characters packed into a 32-bit word.
// The first character occupies the lowest byte.
type Vocab uint32

// EncodeVocab packs up to four characters of s into a Vocab.
// Characters beyond the fourth are ignored.
func EncodeVocab(s string) Vocab {
	var v Vocab
	for i := 0; i < len(s) && i < 4; i++ {
		v |= Vocab(s[i]) << (8 * i)
	}
	return v
}

// String unpacks the vocab into its characters (trailing zero bytes dropped).
func (v Vocab) String() string {
	var sb strings.Builder
	for i := 0; i < 4; i++ {
		c := byte(v >> (8 * i))
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// IsText reports whether the vocab reads back unchanged from its text form.
// Its characters must be a prefix without zero bytes and contain no delimiter.
func (v Vocab) IsText() bool {
	ended := false
	for i := 0; i < 4; i++ {
		c := byte(v >> (8 * i))
		switch {
		case c == 0:
			ended = true
		case ended, strings.IndexByte(delimiters, c) >= 0:
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is a single typed element of a Bottle. The zero Value is invalid and
// is what Bottle.Get returns for out of range indices.
type Value struct {
	kind Kind
	num  int64
	flt  float64
	str  string
	blob []byte
	list *Bottle
}

// Int32 creates an int32 value
func Int32(v int32) Value { return Value{kind: KindInt32, num: int64(v)} }

// Float64 creates a float64 value
func Float64(v float64) Value { return Value{kind: KindFloat64, flt: v} }

// String creates a string value
func String(v string) Value { return Value{kind: KindString, str: v} }

// VocabValue creates a vocab value
func VocabValue(v Vocab) Value { return Value{kind: KindVocab, num: int64(v)} }

// Blob creates a binary blob value. The bytes are copied.
func Blob(v []byte) Value {
	return Value{kind: KindBlob, blob: append([]byte{}, v...)}
}

// List creates a nested list value holding a deep copy of b.
func List(b *Bottle) Value {
	if b == nil {
		return Value{kind: KindList, list: &Bottle{}}
	}
	return Value{kind: KindList, list: b.Copy()}
}

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value holds anything at all
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) IsInt32() bool   { return v.kind == KindInt32 }
func (v Value) IsFloat64() bool { return v.kind == KindFloat64 }
func (v Value) IsString() bool  { return v.kind == KindString }
func (v Value) IsVocab() bool   { return v.kind == KindVocab }
func (v Value) IsBlob() bool    { return v.kind == KindBlob }
func (v Value) IsList() bool    { return v.kind == KindList }

// AsInt32 returns the value as int32. Floats are truncated, other kinds yield 0.
func (v Value) AsInt32() int32 {
	switch v.kind {
	case KindInt32, KindVocab:
		return int32(v.num)
	case KindFloat64:
		return int32(v.flt)
	default:
		return 0
	}
}

// AsFloat64 returns the value as float64. Integers are converted, other kinds yield 0.
func (v Value) AsFloat64() float64 {
	switch v.kind {
	case KindFloat64:
		return v.flt
	case KindInt32:
		return float64(v.num)
	default:
		return 0
	}
}

// AsString returns the string content. Vocabs return their characters so that
// keywords can be compared with either representation.
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindVocab:
		return Vocab(v.num).String()
	default:
		return ""
	}
}

// AsVocab returns the vocab code, or 0 for other kinds
func (v Value) AsVocab() Vocab {
	if v.kind != KindVocab {
		return 0
	}
	return Vocab(v.num)
}

// AsBlob returns the blob bytes (not a copy), or nil for other kinds
func (v Value) AsBlob() []byte {
	if v.kind != KindBlob {
		return nil
	}
	return v.blob
}

// AsList returns the nested list, or nil for other kinds.
func (v Value) AsList() *Bottle {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Equal reports structural equality. Floats compare bitwise so that NaN equals
// itself after a round trip.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInvalid:
		return true
	case KindInt32, KindVocab:
		return v.num == o.num
	case KindFloat64:
		return math.Float64bits(v.flt) == math.Float64bits(o.flt)
	case KindString:
		return v.str == o.str
	case KindBlob:
		return bytes.Equal(v.blob, o.blob)
	case KindList:
		return v.list.Equal(o.list)
	default:
		return false
	}
}

// copyValue returns a deep copy of v
func copyValue(v Value) Value {
	switch v.kind {
	case KindBlob:
		return Blob(v.blob)
	case KindList:
		return List(v.list)
	default:
		return v
	}
}

// String returns the text encoding of the single value
func (v Value) String() string {
	var sb strings.Builder
	writeTextValue(&sb, v)
	return sb.String()
}
