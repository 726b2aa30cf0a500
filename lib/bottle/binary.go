package bottle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary type tags. A list tag may be or-ed with an atom tag to mark a
// specialized list whose elements are written without individual tags.
const (
	tagInt32   uint32 = 1
	tagVocab   uint32 = 1 + 8
	tagFloat64 uint32 = 2 + 8
	tagString  uint32 = 4
	tagBlob    uint32 = 4 + 8
	tagList    uint32 = 256
)

var (
	ErrTruncated    = errors.New("bottle: truncated binary data")
	ErrUnknownTag   = errors.New("bottle: unknown type tag")
	ErrTrailingData = errors.New("bottle: trailing data after bottle")
	ErrNotAList     = errors.New("bottle: binary data does not start with a list tag")
	ErrTooDeep      = errors.New("bottle: lists nested too deeply")
)

// MaxDepth is the deepest list nesting the decoders accept
const MaxDepth = 1024

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// MarshalBinary encodes the bottle in the binary wire format
func (b *Bottle) MarshalBinary() ([]byte, error) {
	w := &binaryWriter{buf: make([]byte, 0, 64)}
	w.writeValue(Value{kind: KindList, list: b}, true)
	return w.buf, nil
}

// IsBinary reports whether data looks like a binary encoded bottle rather than text.
// A binary bottle starts with a little endian list tag, whose second byte is
// 0x01; printable text never has that shape.
func IsBinary(data []byte) bool {
	return len(data) >= 8 && data[1] == 0x01 && data[2] == 0 && data[3] == 0
}

type binaryWriter struct {
	buf []byte
}

func (w *binaryWriter) putUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// writeValue writes v, prefixed by its tag when withTag is set
func (w *binaryWriter) writeValue(v Value, withTag bool) {
	if withTag {
		w.putUint32(tagOf(v))
	}

	switch v.kind {
	case KindInt32, KindVocab:
		w.putUint32(uint32(v.num))
	case KindFloat64:
		w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v.flt))
	case KindString:
		w.putUint32(uint32(len(v.str) + 1))
		w.buf = append(w.buf, v.str...)
		w.buf = append(w.buf, 0)
	case KindBlob:
		w.putUint32(uint32(len(v.blob)))
		w.buf = append(w.buf, v.blob...)
	case KindList:
		sub := specialization(v.list)
		w.putUint32(uint32(v.list.Size()))
		for _, e := range v.list.Values() {
			w.writeValue(e, sub == 0)
		}
	}
}

// atomTag returns the tag of a non-list value
func atomTag(v Value) uint32 {
	switch v.kind {
	case KindInt32:
		return tagInt32
	case KindVocab:
		return tagVocab
	case KindFloat64:
		return tagFloat64
	case KindString:
		return tagString
	case KindBlob:
		return tagBlob
	default:
		return tagList
	}
}

// tagOf returns the full tag of v, including the specialization of lists
func tagOf(v Value) uint32 {
	if v.kind == KindList {
		return tagList | specialization(v.list)
	}
	return atomTag(v)
}

// specialization returns the shared atom tag of all elements, or 0 when the
// list is empty, mixed, or contains lists
func specialization(b *Bottle) uint32 {
	if b.Size() == 0 {
		return 0
	}
	first := atomTag(b.Get(0))
	if first == tagList {
		return 0
	}
	for _, v := range b.Values()[1:] {
		if atomTag(v) != first {
			return 0
		}
	}
	return first
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// UnmarshalBinary decodes data into b, replacing its content
func (b *Bottle) UnmarshalBinary(data []byte) error {
	r := &binaryReader{data: data}
	tag, err := r.uint32()
	if err != nil {
		return err
	}
	if tag&tagList == 0 {
		return ErrNotAList
	}
	list, err := r.readList(tag&^tagList, 0)
	if err != nil {
		return err
	}
	if r.pos != len(r.data) {
		return ErrTrailingData
	}
	b.values = list.values
	return nil
}

// ParseBinary decodes a binary bottle
func ParseBinary(data []byte) (*Bottle, error) {
	b := &Bottle{}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return b, nil
}

type binaryReader struct {
	data []byte
	pos  int
}

func (r *binaryReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *binaryReader) uint32() (uint32, error) {
	raw, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// readList reads the element count and elements of a list whose tag has
// already been consumed. depth is the number of enclosing lists.
func (r *binaryReader) readList(sub uint32, depth int) (*Bottle, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	if sub != 0 && !isAtomTag(sub) {
		return nil, fmt.Errorf("%w: list specialization %d", ErrUnknownTag, sub)
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	// every encoded element takes at least 4 bytes
	if int64(count)*4 > int64(len(r.data)-r.pos) {
		return nil, ErrTruncated
	}

	list := &Bottle{values: make([]Value, 0, count)}
	for i := uint32(0); i < count; i++ {
		tag := sub
		if tag == 0 {
			if tag, err = r.uint32(); err != nil {
				return nil, err
			}
		}
		v, err := r.readValue(tag, depth)
		if err != nil {
			return nil, err
		}
		list.values = append(list.values, v)
	}
	return list, nil
}

func (r *binaryReader) readValue(tag uint32, depth int) (Value, error) {
	if tag&tagList != 0 {
		nested, err := r.readList(tag&^tagList, depth+1)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindList, list: nested}, nil
	}

	switch tag {
	case tagInt32:
		v, err := r.uint32()
		return Int32(int32(v)), err
	case tagVocab:
		v, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		if !Vocab(v).IsText() {
			return Value{}, fmt.Errorf("%w: vocab %#08x", ErrBadToken, v)
		}
		return VocabValue(Vocab(v)), nil
	case tagFloat64:
		raw, err := r.take(8)
		if err != nil {
			return Value{}, err
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case tagString:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		if len(raw) > 0 && raw[len(raw)-1] == 0 {
			raw = raw[:len(raw)-1]
		}
		return String(string(raw)), nil
	case tagBlob:
		n, err := r.uint32()
		if err != nil {
			return Value{}, err
		}
		raw, err := r.take(int(n))
		if err != nil {
			return Value{}, err
		}
		return Blob(raw), nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func isAtomTag(tag uint32) bool {
	switch tag {
	case tagInt32, tagVocab, tagFloat64, tagString, tagBlob:
		return true
	}
	return false
}
