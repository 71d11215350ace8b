package ir

import (
	"fmt"
	"math"
)

// Literal is a 32-bit constant word. The interpretation (signed, unsigned or
// float) is determined by the DataType of the containing Value.
type Literal struct {
	bits uint32
}

func LiteralInt(v int32) Literal      { return Literal{bits: uint32(v)} }
func LiteralUint(v uint32) Literal    { return Literal{bits: v} }
func LiteralFloat(v float32) Literal  { return Literal{bits: math.Float32bits(v)} }
func LiteralBool(v bool) Literal {
	if v {
		return Literal{bits: 1}
	}
	return Literal{}
}

func (l Literal) SignedInt() int32    { return int32(l.bits) }
func (l Literal) UnsignedInt() uint32 { return l.bits }
func (l Literal) Real() float32       { return math.Float32frombits(l.bits) }
func (l Literal) Bits() uint32        { return l.bits }
func (l Literal) IsTrue() bool        { return l.bits != 0 }

func (l Literal) String() string {
	return fmt.Sprintf("%d", int32(l.bits))
}

// SmallImmediate is the 6-bit encoding of a fixed set of constants which can
// be used directly as the second ALU operand.
type SmallImmediate uint8

// SmallImmediateFromInteger returns the encoding for the given integer, if
// one exists (only [-16, 15] are encodable).
func SmallImmediateFromInteger(v int32) (SmallImmediate, bool) {
	if v >= 0 && v <= 15 {
		return SmallImmediate(v), true
	}
	if v >= -16 && v < 0 {
		return SmallImmediate(32 + v), true
	}
	return 0, false
}

// SmallImmediateFromRotation returns the encoding for a full-vector rotation
// by offset elements (offset in [1, 15]).
func SmallImmediateFromRotation(offset uint8) (SmallImmediate, bool) {
	if offset == 0 || offset > 15 {
		return 0, false
	}
	return SmallImmediate(48 + offset), true
}

// Integer returns the integer constant represented by the encoding, if the
// encoding is one of the integer ranges.
func (i SmallImmediate) Integer() (int32, bool) {
	switch {
	case i <= 15:
		return int32(i), true
	case i >= 16 && i <= 31:
		return int32(i) - 32, true
	}
	return 0, false
}

// RotationOffset returns the vector-rotation distance, if the encoding is a
// rotation constant.
func (i SmallImmediate) RotationOffset() (uint8, bool) {
	if i >= 49 && i <= 63 {
		return uint8(i) - 48, true
	}
	return 0, false
}

func (i SmallImmediate) String() string {
	if v, ok := i.Integer(); ok {
		return fmt.Sprintf("%d", v)
	}
	if off, ok := i.RotationOffset(); ok {
		return fmt.Sprintf("<<%d", off)
	}
	return fmt.Sprintf("imm(%d)", uint8(i))
}

// ValueKind discriminates the Value union.
type ValueKind uint8

const (
	ValueUndefined ValueKind = iota
	ValueLiteral
	ValueSmallImmediate
	ValueRegister
	ValueLocal
)

// Value is the operand type of all instructions: a literal word, a small
// immediate, a hardware register, a reference to a Local or undefined.
// Values are plain data and are copied freely.
type Value struct {
	Kind  ValueKind
	Type  DataType
	lit   Literal
	imm   SmallImmediate
	reg   Register
	local *Local
}

// UndefValue is the undefined value.
var UndefValue = Value{}

var (
	IntZero   = NewLiteralValue(LiteralInt(0), TypeInt32)
	IntOne    = NewLiteralValue(LiteralInt(1), TypeInt32)
	BoolTrue  = NewLiteralValue(LiteralBool(true), TypeBool)
	BoolFalse = NewLiteralValue(LiteralBool(false), TypeBool)
)

func NewLiteralValue(lit Literal, t DataType) Value {
	return Value{Kind: ValueLiteral, Type: t, lit: lit}
}

func NewSmallImmediateValue(imm SmallImmediate, t DataType) Value {
	return Value{Kind: ValueSmallImmediate, Type: t, imm: imm}
}

func NewRegisterValue(reg Register, t DataType) Value {
	return Value{Kind: ValueRegister, Type: t, reg: reg}
}

func (v Value) IsUndefined() bool { return v.Kind == ValueUndefined }

// CheckLocal returns the referenced Local, or nil.
func (v Value) CheckLocal() *Local {
	if v.Kind == ValueLocal {
		return v.local
	}
	return nil
}

// Local returns the referenced Local and panics when the value is not a
// local reference.
func (v Value) Local() *Local {
	if v.Kind != ValueLocal {
		panic(fmt.Sprintf("ir: value %s is not a local", v))
	}
	return v.local
}

// CheckRegister returns the hardware register, if the value is one.
func (v Value) CheckRegister() (Register, bool) {
	if v.Kind == ValueRegister {
		return v.reg, true
	}
	return Register{}, false
}

// LiteralValue returns the constant word of a literal or an integer small
// immediate.
func (v Value) LiteralValue() (Literal, bool) {
	switch v.Kind {
	case ValueLiteral:
		return v.lit, true
	case ValueSmallImmediate:
		if i, ok := v.imm.Integer(); ok {
			return LiteralInt(i), true
		}
	}
	return Literal{}, false
}

// SmallImmediate returns the raw 6-bit encoding, if the value is one.
func (v Value) SmallImmediate() (SmallImmediate, bool) {
	if v.Kind == ValueSmallImmediate {
		return v.imm, true
	}
	return 0, false
}

func (v Value) HasRegister(reg Register) bool {
	return v.Kind == ValueRegister && v.reg == reg
}

func (v Value) HasLocal(local *Local) bool {
	return v.Kind == ValueLocal && v.local == local
}

func (v Value) HasLiteral(lit Literal) bool {
	l, ok := v.LiteralValue()
	return ok && l == lit
}

// Equals compares the value contents, ignoring the attached type. Literals
// and integer small immediates representing the same word are considered
// equal.
func (v Value) Equals(other Value) bool {
	if la, aok := v.LiteralValue(); aok {
		lb, bok := other.LiteralValue()
		return bok && la == lb
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueUndefined:
		return true
	case ValueSmallImmediate:
		return v.imm == other.imm
	case ValueRegister:
		return v.reg == other.reg
	case ValueLocal:
		return v.local == other.local
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case ValueUndefined:
		return "undef"
	case ValueLiteral:
		if v.Type.Float {
			return fmt.Sprintf("%s %g", v.Type, v.lit.Real())
		}
		return fmt.Sprintf("%s %s", v.Type, v.lit)
	case ValueSmallImmediate:
		return fmt.Sprintf("%s %s", v.Type, v.imm)
	case ValueRegister:
		return fmt.Sprintf("%s %s", v.Type, v.reg)
	case ValueLocal:
		return fmt.Sprintf("%s %s", v.Type, v.local.Name)
	}
	return "(invalid)"
}
