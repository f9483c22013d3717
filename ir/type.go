// Package ir implements the intermediate representation of lifted machine
// code: constants, values and their use-def links, instructions, basic blocks
// and routines.
package ir

// Type is the type of an IR value.
type Type uint8

// IR types.
const (
	// TypeNone is the type of instructions which produce no value, and the
	// type of invalid constants.
	TypeNone Type = iota
	// Boolean.
	TypeI1
	// Integers.
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	// Floating-point numbers.
	TypeF32
	TypeF64
	TypeF80
	// Address in the address space of the lifted image.
	TypePointer
	// Vectors.
	TypeI8x16
	TypeI16x8
	TypeI32x4
	TypeI64x2
	TypeF32x4
	TypeF64x2
	TypeI32x8
	TypeI64x4
	TypeF32x8
	TypeF64x4
	// Basic block used as a jump target.
	TypeLabel
	// Architecture register identifier.
	TypeReg
	// Operator identifier.
	TypeOp

	numTypes
)

// typeInfo describes the layout of a type.
type typeInfo struct {
	name string
	// Size in number of bits; 1 for booleans.
	bits int
	// Lane type of vectors; TypeNone for scalars.
	lane Type
}

var types = [numTypes]typeInfo{
	TypeNone:    {name: "none"},
	TypeI1:      {name: "i1", bits: 1},
	TypeI8:      {name: "i8", bits: 8},
	TypeI16:     {name: "i16", bits: 16},
	TypeI32:     {name: "i32", bits: 32},
	TypeI64:     {name: "i64", bits: 64},
	TypeI128:    {name: "i128", bits: 128},
	TypeF32:     {name: "f32", bits: 32},
	TypeF64:     {name: "f64", bits: 64},
	TypeF80:     {name: "f80", bits: 80},
	TypePointer: {name: "ptr", bits: 64},
	TypeI8x16:   {name: "i8x16", bits: 128, lane: TypeI8},
	TypeI16x8:   {name: "i16x8", bits: 128, lane: TypeI16},
	TypeI32x4:   {name: "i32x4", bits: 128, lane: TypeI32},
	TypeI64x2:   {name: "i64x2", bits: 128, lane: TypeI64},
	TypeF32x4:   {name: "f32x4", bits: 128, lane: TypeF32},
	TypeF64x2:   {name: "f64x2", bits: 128, lane: TypeF64},
	TypeI32x8:   {name: "i32x8", bits: 256, lane: TypeI32},
	TypeI64x4:   {name: "i64x4", bits: 256, lane: TypeI64},
	TypeF32x8:   {name: "f32x8", bits: 256, lane: TypeF32},
	TypeF64x4:   {name: "f64x4", bits: 256, lane: TypeF64},
	TypeLabel:   {name: "label"},
	TypeReg:     {name: "reg", bits: 32},
	TypeOp:      {name: "op", bits: 8},
}

// String returns the string representation of the type.
func (t Type) String() string {
	if t >= numTypes {
		return "invalid"
	}
	return types[t].name
}

// Bits returns the size of the type in number of bits.
func (t Type) Bits() int {
	if t >= numTypes {
		return 0
	}
	return types[t].bits
}

// Size returns the size of the type in number of bytes.
func (t Type) Size() int {
	return (t.Bits() + 7) / 8
}

// IsBool reports whether t is the boolean type.
func (t Type) IsBool() bool { return t == TypeI1 }

// IsInt reports whether t is a scalar integer type (excluding booleans).
func (t Type) IsInt() bool { return t >= TypeI8 && t <= TypeI128 }

// IsFloat reports whether t is a scalar floating-point type.
func (t Type) IsFloat() bool { return t >= TypeF32 && t <= TypeF80 }

// IsPointer reports whether t is the pointer type.
func (t Type) IsPointer() bool { return t == TypePointer }

// IsVector reports whether t is a vector type.
func (t Type) IsVector() bool { return t < numTypes && types[t].lane != TypeNone }

// IsArith reports whether t is a scalar arithmetic type; booleans, integers
// and floating-point numbers.
func (t Type) IsArith() bool { return t >= TypeI1 && t <= TypeF80 }

// Lane returns the lane type of a vector type, or t itself for scalars.
func (t Type) Lane() Type {
	if t.IsVector() {
		return types[t].lane
	}
	return t
}

// Lanes returns the number of lanes of a vector type, or 1 for scalars.
func (t Type) Lanes() int {
	if t.IsVector() {
		return t.Bits() / t.Lane().Bits()
	}
	return 1
}

// IntType returns the integer type of the given bit width, or TypeNone if no
// such type exists.
func IntType(bits int) Type {
	switch bits {
	case 1:
		return TypeI1
	case 8:
		return TypeI8
	case 16:
		return TypeI16
	case 32:
		return TypeI32
	case 64:
		return TypeI64
	case 128:
		return TypeI128
	}
	return TypeNone
}
