package ir

import (
	"fmt"
	"math"
)

// Literal is a constant numeric value with its type.
type Literal struct {
	Type Type
	I32  int32
	I64  int64
	F32  float32
	F64  float64
}

// LitI32 returns an i32 literal.
func LitI32(v int32) Literal { return Literal{Type: I32, I32: v} }

// LitI64 returns an i64 literal.
func LitI64(v int64) Literal { return Literal{Type: I64, I64: v} }

// LitF32 returns an f32 literal.
func LitF32(v float32) Literal { return Literal{Type: F32, F32: v} }

// LitF64 returns an f64 literal.
func LitF64(v float64) Literal { return Literal{Type: F64, F64: v} }

// MakeZero returns the zero literal of a numeric type. Reference types have
// no literal zero; their default is a null, built with MakeRefNull.
func MakeZero(t Type) Literal {
	switch t.Kind() {
	case KindI32, KindI64, KindF32, KindF64:
		return Literal{Type: t}
	}
	panic(fmt.Sprintf("ir: no zero literal for %s", t))
}

func (l Literal) String() string {
	switch l.Type.Kind() {
	case KindI32:
		return fmt.Sprintf("i32.const %d", l.I32)
	case KindI64:
		return fmt.Sprintf("i64.const %d", l.I64)
	case KindF32:
		return fmt.Sprintf("f32.const %g", l.F32)
	case KindF64:
		return fmt.Sprintf("f64.const %g", l.F64)
	}
	return "invalid literal"
}

// Bits returns the literal's canonical bit pattern, used for content
// hashing; distinct NaN payloads and signed zeros stay distinct.
func (l Literal) Bits() uint64 {
	switch l.Type.Kind() {
	case KindI32:
		return uint64(uint32(l.I32))
	case KindI64:
		return uint64(l.I64)
	case KindF32:
		return uint64(math.Float32bits(l.F32))
	case KindF64:
		return math.Float64bits(l.F64)
	}
	return 0
}
