package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindNumber
	KindString
)

var kindNames = [...]string{
	KindNil:    "nil",
	KindBool:   "boolean",
	KindNumber: "number",
	KindString: "string",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", k)
}

// Value is a Mote runtime value: nil, a boolean, a double-precision number,
// or an immutable string.
//
// Values are small and passed by copy. The zero Value is nil.
type Value struct {
	kind ValueKind
	num  float64 // number payload; 1/0 for booleans
	str  string
}

// Pre-defined singleton values.
var (
	Nil   = Value{kind: KindNil}
	True  = Value{kind: KindBool, num: 1}
	False = Value{kind: KindBool, num: 0}
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// FromBool returns True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromFloat64 wraps a number.
func FromFloat64(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// FromString wraps a string. The Value owns its text.
func FromString(s string) Value {
	return Value{kind: KindString, str: s}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsString() bool { return v.kind == KindString }

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

// Bool returns the boolean payload. Panics if v is not a boolean.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("vm: Bool called on " + v.kind.String())
	}
	return v.num != 0
}

// Float64 returns the numeric payload. Panics if v is not a number.
func (v Value) Float64() float64 {
	if v.kind != KindNumber {
		panic("vm: Float64 called on " + v.kind.String())
	}
	return v.num
}

// Str returns the string payload. Panics if v is not a string.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("vm: Str called on " + v.kind.String())
	}
	return v.str
}

// ---------------------------------------------------------------------------
// Semantics
// ---------------------------------------------------------------------------

// IsFalsy reports whether v is nil or false. Every other value, including
// 0 and the empty string, is truthy.
func (v Value) IsFalsy() bool {
	return v.kind == KindNil || (v.kind == KindBool && v.num == 0)
}

// IsTruthy is the negation of IsFalsy.
func (v Value) IsTruthy() bool {
	return !v.IsFalsy()
}

// Equal reports whether a and b are the same kind and hold the same payload.
// Values of different kinds are never equal; this is not an error.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	}
	return false
}

// String renders v the way the print statement does.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return v.str
	}
	return fmt.Sprintf("<invalid value kind %d>", v.kind)
}

// formatNumber prints n in plain decimal, never with an exponent.
func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// GoString renders v for debugging, quoting strings.
func (v Value) GoString() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	return v.String()
}
