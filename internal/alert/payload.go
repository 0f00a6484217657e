// Package alert turns loosely-typed webhook bodies into chat messages.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the JSON type of a payload value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindOther // nested object or array, kept as compact JSON text
)

// Value is one scalar (or opaque nested) payload value.
//
// Numbers keep their literal text so rendering never reformats what the sender
// wrote ("45000.50" stays "45000.50").
type Value struct {
	kind Kind
	text string
	b    bool
}

func NullValue() Value            { return Value{kind: KindNull} }
func StringValue(s string) Value  { return Value{kind: KindString, text: s} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NumberValue(f float64) Value { return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders the value as plain text. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.text
	}
}

// Blank reports whether the value is null or an empty string.
func (v Value) Blank() bool {
	return v.kind == KindNull || (v.kind == KindString && strings.TrimSpace(v.text) == "")
}

// Arithmetic on decimals rescales by 10^exponent, so only prices of a sane
// size are treated as numbers.
const (
	maxNumberLen   = 64
	maxNumberScale = 32
)

// Decimal parses numbers and numeric strings. Anything else, and numbers too
// long or too far from 1 to be a price, reports false.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.kind != KindNumber && v.kind != KindString {
		return decimal.Decimal{}, false
	}
	text := strings.TrimSpace(v.text)
	if len(text) > maxNumberLen {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if exp := d.Exponent(); exp < -maxNumberScale || exp > maxNumberScale {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Falsy reports null, blank strings, false and numeric zero.
func (v Value) Falsy() bool {
	switch v.kind {
	case KindBool:
		return !v.b
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		return err == nil && f == 0
	}
	return v.Blank()
}

// Payload is an ordered string -> Value mapping.
// The zero value is an empty payload ready to use.
type Payload struct {
	keys []string
	vals map[string]Value
}

// NewPayload builds a payload from alternating key/value pairs, in order.
func NewPayload(kv ...any) *Payload {
	p := &Payload{}
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		p.Set(k, valueOf(kv[i+1]))
	}
	return p
}

func valueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return Value{kind: KindNumber, text: strconv.Itoa(t)}
	case float64:
		return NumberValue(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return NullValue()
		}
		return Value{kind: KindOther, text: string(b)}
	}
}

// Set stores v under k. Re-setting a key keeps its original position.
func (p *Payload) Set(k string, v Value) {
	if p.vals == nil {
		p.vals = map[string]Value{}
	}
	if _, ok := p.vals[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.vals[k] = v
}

func (p *Payload) Get(k string) (Value, bool) {
	v, ok := p.vals[k]
	return v, ok
}

// Lookup returns the value for k, or null when absent.
func (p *Payload) Lookup(k string) Value {
	return p.vals[k]
}

func (p *Payload) Has(k string) bool {
	_, ok := p.vals[k]
	return ok
}

func (p *Payload) Len() int { return len(p.keys) }

// Keys returns keys in insertion order.
func (p *Payload) Keys() []string { return append([]string(nil), p.keys...) }

var errNotObject = errors.New("payload is not a JSON object")

// Parse decodes body as a JSON object, keeping key order. Bodies that are not a
// single JSON object (plain text, arrays, scalars, trailing garbage) become
// {"message": <body as text>}; Parse never fails.
func Parse(body []byte) *Payload {
	p, err := parseObject(body)
	if err != nil {
		return NewPayload("message", strings.ToValidUTF8(string(body), "�"))
	}
	return p
}

func parseObject(body []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	p := &Payload{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, errNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		v, err := valueFromRaw(raw)
		if err != nil {
			return nil, err
		}
		p.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if _, err := dec.Token(); err != io.EOF {
		return nil, errNotObject
	}
	return p, nil
}

func valueFromRaw(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NullValue(), nil
	}
	switch raw[0] {
	case 'n':
		return NullValue(), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return Value{}, err
		}
		return Value{kind: KindOther, text: buf.String()}, nil
	default:
		return Value{kind: KindNumber, text: string(raw)}, nil
	}
}
