// Package tuple implements the typed row model the B+tree indexes and
// stores in its leaves: fields, tuples, tuple descriptors and the
// predicate operators used by range scans.
package tuple

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Type identifies a field's static type, the way TupleDesc entries are
// tagged.
type Type byte

const (
	IntType Type = iota
	StringType
)

// StringFieldLen is the fixed on-disk width of a StringField, matching the
// original's 128-byte convention.
const StringFieldLen = 128

// Field is one column value. Implementations are comparable and
// serializable to a fixed-width wire form.
type Field interface {
	Type() Type
	Compare(op Op, other Field) bool
	Serialize() []byte
	String() string
}

// IntField wraps a 64-bit signed integer.
type IntField struct{ Value int64 }

func (f IntField) Type() Type { return IntType }

func (f IntField) Serialize() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(f.Value))
	return buf
}

func (f IntField) String() string { return fmt.Sprintf("%d", f.Value) }

func (f IntField) Compare(op Op, other Field) bool {
	o, ok := other.(IntField)
	if !ok {
		return false
	}
	return compareOrdered(op, f.Value, o.Value)
}

func DecodeIntField(b []byte) IntField {
	return IntField{Value: int64(binary.BigEndian.Uint64(b))}
}

// StringField wraps a string, stored null-padded to StringFieldLen bytes.
type StringField struct{ Value string }

func (f StringField) Type() Type { return StringType }

func (f StringField) Serialize() []byte {
	buf := make([]byte, StringFieldLen)
	v := f.Value
	if len(v) > StringFieldLen {
		v = v[:StringFieldLen]
	}
	copy(buf, v)
	return buf
}

func (f StringField) String() string { return f.Value }

func (f StringField) Compare(op Op, other Field) bool {
	o, ok := other.(StringField)
	if !ok {
		return false
	}
	return compareOrdered(op, f.Value, o.Value)
}

func DecodeStringField(b []byte) StringField {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return StringField{Value: strings.TrimRight(string(b[:n]), "\x00")}
}

func compareOrdered[T int64 | string](op Op, a, b T) bool {
	switch op {
	case Equals:
		return a == b
	case NotEquals:
		return a != b
	case LessThan:
		return a < b
	case LessThanOrEqual:
		return a <= b
	case GreaterThan:
		return a > b
	case GreaterThanOrEqual:
		return a >= b
	default:
		return false
	}
}
