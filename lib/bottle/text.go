package bottle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnbalanced = errors.New("bottle: unbalanced brackets")
	ErrBadToken   = errors.New("bottle: malformed token")
)

// delimiters end a bare token
const delimiters = " \t\r\n\"()[]{}"

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// String returns the text encoding of the bottle
func (b *Bottle) String() string {
	var sb strings.Builder
	writeTextItems(&sb, b.Values())
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler
func (b *Bottle) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func writeTextItems(sb *strings.Builder, values []Value) {
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		writeTextValue(sb, v)
	}
}

func writeTextValue(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindInt32:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat64:
		sb.WriteString(formatFloat(v.flt))
	case KindString:
		writeString(sb, v.str)
	case KindVocab:
		sb.WriteByte('[')
		sb.WriteString(Vocab(v.num).String())
		sb.WriteByte(']')
	case KindBlob:
		sb.WriteByte('{')
		for i, c := range v.blob {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.Itoa(int(c)))
		}
		sb.WriteByte('}')
	case KindList:
		sb.WriteByte('(')
		writeTextItems(sb, v.list.Values())
		sb.WriteByte(')')
	}
}

// formatFloat always produces a token that parses back as a float
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// writeString writes s bare if it reads back as the same string, quoted otherwise
func writeString(sb *strings.Builder, s string) {
	if s != "" && !strings.ContainsAny(s, delimiters+"\\") && classify(s).kind == KindString {
		sb.WriteString(s)
		return
	}

	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Parse decodes the text encoding of a bottle
func Parse(text string) (*Bottle, error) {
	p := &textParser{src: text}
	values, err := p.parseItems(0, 0)
	if err != nil {
		return nil, err
	}
	return &Bottle{values: values}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Bottle) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	b.values = parsed.values
	return nil
}

type textParser struct {
	src string
	pos int
}

func (p *textParser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

// parseItems reads values until the closing byte (0 for end of input).
// depth is the number of enclosing parentheses.
func (p *textParser) parseItems(closing byte, depth int) ([]Value, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w at offset %d", ErrTooDeep, p.pos)
	}
	values := []Value{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if closing != 0 {
				return nil, fmt.Errorf("%w: missing %q", ErrUnbalanced, closing)
			}
			return values, nil
		}

		c := p.src[p.pos]
		if c == closing {
			p.pos++
			return values, nil
		}

		switch c {
		case '(':
			p.pos++
			nested, err := p.parseItems(')', depth+1)
			if err != nil {
				return nil, err
			}
			values = append(values, Value{kind: KindList, list: &Bottle{values: nested}})
		case '"':
			s, err := p.parseQuoted()
			if err != nil {
				return nil, err
			}
			values = append(values, String(s))
		case '[':
			v, err := p.parseVocab()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		case '{':
			v, err := p.parseBlob()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		case ')', ']', '}':
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrUnbalanced, c, p.pos)
		default:
			values = append(values, classify(p.bareToken()))
		}
	}
}

// bareToken reads up to the next delimiter
func (p *textParser) bareToken() string {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte(delimiters, p.src[p.pos]) < 0 {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *textParser) parseQuoted() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		switch c {
		case '"':
			return sb.String(), nil
		case '\\':
			if p.pos >= len(p.src) {
				return "", fmt.Errorf("%w: dangling escape", ErrBadToken)
			}
			e := p.src[p.pos]
			p.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(e)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("%w: unterminated string", ErrBadToken)
}

func (p *textParser) parseVocab() (Value, error) {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return Value{}, fmt.Errorf("%w: missing ']'", ErrUnbalanced)
	}
	word := strings.TrimSpace(p.src[p.pos+1 : p.pos+end])
	if len(word) > 4 || strings.ContainsAny(word, delimiters) {
		return Value{}, fmt.Errorf("%w: vocab %q", ErrBadToken, word)
	}
	p.pos += end + 1
	return VocabValue(EncodeVocab(word)), nil
}

func (p *textParser) parseBlob() (Value, error) {
	p.pos++ // opening brace
	var data []byte
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return Value{}, fmt.Errorf("%w: missing '}'", ErrUnbalanced)
		}
		if p.src[p.pos] == '}' {
			p.pos++
			return Blob(data), nil
		}
		token := p.bareToken()
		n, err := strconv.ParseUint(token, 10, 8)
		if err != nil {
			return Value{}, fmt.Errorf("%w: blob byte %q", ErrBadToken, token)
		}
		data = append(data, byte(n))
	}
}

// classify turns a bare token into an int32, float64 or string value
func classify(token string) Value {
	switch token {
	case "inf", "+inf":
		return Float64(math.Inf(1))
	case "-inf":
		return Float64(math.Inf(-1))
	case "nan":
		return Float64(math.NaN())
	}

	digits := strings.TrimLeft(token, "+-")
	if len(token)-len(digits) > 1 || digits == "" {
		return String(token)
	}
	if c := digits[0]; (c < '0' || c > '9') && c != '.' {
		return String(token)
	}

	if n, ok := parseInteger(token, digits); ok {
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return Int32(int32(n))
		}
		return Float64(float64(n))
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return Float64(f)
	}
	return String(token)
}

// parseInteger parses decimal and 0x hex integers; digits is token without its sign
func parseInteger(token, digits string) (int64, bool) {
	negative := token[0] == '-'
	var n uint64
	var err error
	if len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
		n, err = strconv.ParseUint(digits[2:], 16, 64)
	} else {
		n, err = strconv.ParseUint(digits, 10, 64)
	}
	if err != nil || n > math.MaxInt64 {
		return 0, false
	}
	if negative {
		return -int64(n), true
	}
	return int64(n), true
}
