package bottle

// Bottle is an ordered list of values. The zero value is an empty Bottle
// ready to use. A Bottle is not safe for concurrent mutation, concurrent
// reads are fine.
type Bottle struct {
	values []Value
}

// New creates a Bottle holding the given values
func New(values ...Value) *Bottle {
	b := &Bottle{}
	for _, v := range values {
		b.Add(v)
	}
	return b
}

// Add appends a value and returns the Bottle for chaining
func (b *Bottle) Add(v Value) *Bottle {
	b.values = append(b.values, copyValue(v))
	return b
}

func (b *Bottle) AddInt32(v int32) *Bottle     { return b.Add(Int32(v)) }
func (b *Bottle) AddFloat64(v float64) *Bottle { return b.Add(Float64(v)) }
func (b *Bottle) AddString(v string) *Bottle   { return b.Add(String(v)) }
func (b *Bottle) AddVocab(v Vocab) *Bottle     { return b.Add(VocabValue(v)) }
func (b *Bottle) AddBlob(v []byte) *Bottle     { return b.Add(Blob(v)) }

// AddList appends an empty nested list and returns it so it can be filled in place.
func (b *Bottle) AddList() *Bottle {
	nested := &Bottle{}
	b.values = append(b.values, Value{kind: KindList, list: nested})
	return nested
}

// Size returns the number of top level values
func (b *Bottle) Size() int {
	if b == nil {
		return 0
	}
	return len(b.values)
}

// Get returns the value at index i, or an invalid Value when out of range
func (b *Bottle) Get(i int) Value {
	if b == nil || i < 0 || i >= len(b.values) {
		return Value{}
	}
	return b.values[i]
}

// Values returns the values of the bottle. The slice must not be modified.
func (b *Bottle) Values() []Value {
	if b == nil {
		return nil
	}
	return b.values
}

// Clear removes all values
func (b *Bottle) Clear() {
	b.values = b.values[:0]
}

// Copy returns a deep copy of the bottle
func (b *Bottle) Copy() *Bottle {
	out := &Bottle{}
	if b == nil {
		return out
	}
	out.values = make([]Value, 0, len(b.values))
	for _, v := range b.values {
		out.values = append(out.values, copyValue(v))
	}
	return out
}

// Tail returns a copy of the bottle without its first element
func (b *Bottle) Tail() *Bottle {
	out := &Bottle{}
	for i := 1; i < b.Size(); i++ {
		out.Add(b.values[i])
	}
	return out
}

// Equal reports structural equality. A nil Bottle equals an empty one.
func (b *Bottle) Equal(o *Bottle) bool {
	if b.Size() != o.Size() {
		return false
	}
	for i := 0; i < b.Size(); i++ {
		if !b.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// Find looks up key in a property style bottle and returns the associated value.
// Both nested pairs "(key value)" and flat sequences "key value" are searched,
// nested pairs first. Keys match strings and vocabs alike.
func (b *Bottle) Find(key string) (Value, bool) {
	for _, v := range b.Values() {
		if nested := v.AsList(); nested != nil && nested.Size() > 0 && nested.Get(0).AsString() == key {
			return nested.Get(1), true
		}
	}
	for i, v := range b.Values() {
		if (v.IsString() || v.IsVocab()) && v.AsString() == key && i+1 < len(b.values) {
			return b.values[i+1], true
		}
	}
	return Value{}, false
}
