package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strings"

	"github.com/holiman/uint256"
)

// Constant is a typed constant value. Payloads of up to 16 bytes are stored
// inline; larger payloads (256-bit vectors) are stored out of line and never
// mutated after construction, so copies of a Constant share them safely.
//
// The zero Constant has type TypeNone and represents "no value", the result of
// undefined operations.
type Constant struct {
	typ Type
	buf [16]byte
	ext []byte
}

// NewConstant returns a constant of type t with the given little-endian
// payload. Missing bytes are zero and excess bytes are dropped.
func NewConstant(t Type, data []byte) Constant {
	c := Constant{typ: t}
	n := t.Size()
	if n > len(c.buf) {
		c.ext = make([]byte, n)
		copy(c.ext, data)
		return c
	}
	copy(c.buf[:n], data)
	if t == TypeI1 {
		c.buf[0] &= 1
	}
	return c
}

// NewBool returns a boolean constant.
func NewBool(v bool) Constant {
	c := Constant{typ: TypeI1}
	if v {
		c.buf[0] = 1
	}
	return c
}

// NewInt returns an integer (or pointer) constant of type t, truncating v to
// the width of t.
func NewInt(t Type, v int64) Constant {
	return NewUint(t, uint64(v)).signFill(v < 0)
}

// NewUint returns an integer (or pointer) constant of type t, truncating v to
// the width of t.
func NewUint(t Type, v uint64) Constant {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return NewConstant(t, b[:])
}

// NewI128 returns a 128-bit integer constant.
func NewI128(lo, hi uint64) Constant {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], lo)
	binary.LittleEndian.PutUint64(b[8:], hi)
	return NewConstant(TypeI128, b[:])
}

// NewPointer returns a pointer constant.
func NewPointer(addr uint64) Constant {
	return NewUint(TypePointer, addr)
}

// NewF32 returns a 32-bit floating-point constant.
func NewF32(v float32) Constant {
	return NewUint(TypeF32, uint64(math.Float32bits(v)))
}

// NewF64 returns a 64-bit floating-point constant.
func NewF64(v float64) Constant {
	return NewUint(TypeF64, math.Float64bits(v))
}

// NewF80 returns an 80-bit extended precision floating-point constant.
func NewF80(v float64) Constant {
	b := encodeF80(v)
	return NewConstant(TypeF80, b[:])
}

// NewReg returns a register identifier constant.
func NewReg(id uint32) Constant {
	return NewUint(TypeReg, uint64(id))
}

// NewOperator returns an operator identifier constant.
func NewOperator(op Operator) Constant {
	return NewUint(TypeOp, uint64(op))
}

// signFill sets the bytes of integer types wider than 64 bits to the sign of
// the 64-bit payload.
func (c Constant) signFill(neg bool) Constant {
	if !neg || c.typ.Size() <= 8 {
		return c
	}
	d := c.data()
	for i := 8; i < len(d); i++ {
		d[i] = 0xFF
	}
	return c
}

// Type returns the type of the constant.
func (c Constant) Type() Type { return c.typ }

// IsValid reports whether c holds a value.
func (c Constant) IsValid() bool { return c.typ != TypeNone && c.typ < numTypes }

// Bytes returns a copy of the little-endian payload of the constant.
func (c Constant) Bytes() []byte {
	return append([]byte(nil), c.data()...)
}

// data returns the payload of the constant. Callers must not mutate shared
// out of line payloads.
func (c *Constant) data() []byte {
	if c.ext != nil {
		return c.ext
	}
	return c.buf[:c.typ.Size()]
}

// Equal reports whether c and d have the same type and bit pattern.
func (c Constant) Equal(d Constant) bool {
	return c.typ == d.typ && bytes.Equal(c.data(), d.data())
}

// IsZero reports whether every bit of the constant is zero.
func (c Constant) IsZero() bool {
	for _, b := range c.data() {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bool returns the truth value of the constant; non-zero values are true.
func (c Constant) Bool() bool {
	if c.typ.IsFloat() {
		return c.Float64() != 0
	}
	return !c.IsZero()
}

// Uint64 returns the low 64 bits of the constant, zero-extended.
func (c Constant) Uint64() uint64 {
	var b [8]byte
	copy(b[:], c.data())
	return binary.LittleEndian.Uint64(b[:])
}

// Int64 returns the low 64 bits of the constant, sign-extended from the width
// of its type.
func (c Constant) Int64() int64 {
	v := c.Uint64()
	w := c.typ.Bits()
	if w >= 64 || w == 0 {
		return int64(v)
	}
	shift := uint(64 - w)
	return int64(v<<shift) >> shift
}

// Float64 returns the value of a floating-point constant.
func (c Constant) Float64() float64 {
	switch c.typ {
	case TypeF32:
		return float64(math.Float32frombits(uint32(c.Uint64())))
	case TypeF64:
		return math.Float64frombits(c.Uint64())
	case TypeF80:
		var b [10]byte
		copy(b[:], c.data())
		return decodeF80(b)
	}
	return 0
}

// Reg returns the register identifier of a register constant.
func (c Constant) Reg() uint32 { return uint32(c.Uint64()) }

// Operator returns the operator of an operator constant.
func (c Constant) Operator() Operator { return Operator(c.Uint64()) }

// Lane returns lane i of a vector constant.
func (c Constant) Lane(i int) Constant {
	lt := c.typ.Lane()
	n := lt.Size()
	return NewConstant(lt, c.data()[i*n:(i+1)*n])
}

// String returns the string representation of the constant.
func (c Constant) String() string {
	switch {
	case !c.IsValid():
		return "none"
	case c.typ == TypeI1:
		if c.Bool() {
			return "true"
		}
		return "false"
	case c.typ.IsInt() || c.typ.IsPointer():
		z := c.u256()
		if z.IsUint64() {
			return fmt.Sprintf("0x%x", z.Uint64())
		}
		return z.Hex()
	case c.typ.IsFloat():
		return fmt.Sprintf("%g", c.Float64())
	case c.typ.IsVector():
		lanes := make([]string, c.typ.Lanes())
		for i := range lanes {
			lanes[i] = c.Lane(i).String()
		}
		return "<" + strings.Join(lanes, ", ") + ">"
	case c.typ == TypeReg:
		return fmt.Sprintf("reg%d", c.Reg())
	case c.typ == TypeOp:
		return c.Operator().String()
	}
	return fmt.Sprintf("%x", c.data())
}

// ### [ Arithmetic ] ##########################################################

// Apply applies the operator op to c and rhs. rhs is ignored by unary
// operators. The result is "no value" if the operation is undefined for the
// operand types or values; e.g. division by zero or a shift amount exceeding
// the operand width.
func (c Constant) Apply(op Operator, rhs Constant) Constant {
	if !c.IsValid() || !op.IsValid() {
		return Constant{}
	}
	if op.IsBinary() && !rhs.IsValid() {
		return Constant{}
	}
	switch t := c.typ; {
	case t.IsVector():
		return c.applyVector(op, rhs)
	case t.IsFloat():
		return c.applyFloat(op, rhs)
	case t.IsBool(), t.IsInt(), t.IsPointer():
		return c.applyInt(op, rhs)
	case t == TypeReg, t == TypeOp:
		if rhs.typ == t && (op == OpEq || op == OpNe) {
			return NewBool(c.Equal(rhs) == (op == OpEq))
		}
	}
	return Constant{}
}

// isShift reports whether the right-hand side of op is a bit count rather than
// a value of the left-hand side type.
func isShift(op Operator) bool {
	switch op {
	case OpShl, OpLShr, OpAShr, OpRotl, OpRotr:
		return true
	}
	return false
}

// intWidth returns the width in bits of an integer-like type; 0 if t is not
// integer-like.
func intWidth(t Type) int {
	switch {
	case t.IsBool(), t.IsInt(), t.IsPointer():
		return t.Bits()
	}
	return 0
}

func (c Constant) applyInt(op Operator, rhs Constant) Constant {
	w := intWidth(c.typ)
	x := c.u256()
	z := new(uint256.Int)
	if op.IsUnary() {
		switch op {
		case OpNeg:
			z.Neg(x)
		case OpNot:
			z.Not(x)
		case OpPopcnt:
			z.SetUint64(uint64(popcount(x)))
		case OpCtz:
			z.SetUint64(uint64(trailingZeros(x, w)))
		case OpClz:
			z.SetUint64(uint64(w - x.BitLen()))
		case OpBswap:
			if w < 16 || w%8 != 0 {
				return Constant{}
			}
			b := c.Bytes()
			for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
				b[i], b[j] = b[j], b[i]
			}
			return NewConstant(c.typ, b)
		}
		return fromU256(c.typ, z)
	}

	if intWidth(rhs.typ) == 0 {
		return Constant{}
	}
	y := rhs.u256()
	if isShift(op) {
		if op == OpRotl || op == OpRotr {
			n := uint(new(uint256.Int).Mod(y, uint256.NewInt(uint64(w))).Uint64())
			if op == OpRotr {
				n = (uint(w) - n) % uint(w)
			}
			if n == 0 {
				return fromU256(c.typ, x)
			}
			hi := new(uint256.Int).Lsh(x, n)
			lo := new(uint256.Int).Rsh(x, uint(w)-n)
			return fromU256(c.typ, z.Or(hi, lo))
		}
		if !y.IsUint64() || y.Uint64() >= uint64(w) {
			return Constant{}
		}
		n := uint(y.Uint64())
		switch op {
		case OpShl:
			z.Lsh(x, n)
		case OpLShr:
			z.Rsh(x, n)
		case OpAShr:
			z.SRsh(signExtend(x, w), n)
		}
		return fromU256(c.typ, z)
	}

	if intWidth(rhs.typ) != w {
		return Constant{}
	}
	if op.IsSigned() {
		x, y = signExtend(x, w), signExtend(y, w)
	}
	switch op {
	case OpAdd:
		z.Add(x, y)
	case OpSub:
		z.Sub(x, y)
	case OpMul:
		z.Mul(x, y)
	case OpUDiv, OpURem, OpSDiv, OpSRem:
		if y.IsZero() {
			return Constant{}
		}
		switch op {
		case OpUDiv:
			z.Div(x, y)
		case OpURem:
			z.Mod(x, y)
		case OpSDiv:
			z.SDiv(x, y)
		case OpSRem:
			z.SMod(x, y)
		}
	case OpAnd:
		z.And(x, y)
	case OpOr:
		z.Or(x, y)
	case OpXor:
		z.Xor(x, y)
	case OpUMin:
		z.Set(pick(x.Lt(y), x, y))
	case OpUMax:
		z.Set(pick(x.Gt(y), x, y))
	case OpSMin:
		z.Set(pick(x.Slt(y), x, y))
	case OpSMax:
		z.Set(pick(x.Sgt(y), x, y))
	case OpEq:
		return NewBool(x.Eq(y))
	case OpNe:
		return NewBool(!x.Eq(y))
	case OpUlt:
		return NewBool(x.Lt(y))
	case OpUle:
		return NewBool(!x.Gt(y))
	case OpUgt:
		return NewBool(x.Gt(y))
	case OpUge:
		return NewBool(!x.Lt(y))
	case OpSlt:
		return NewBool(x.Slt(y))
	case OpSle:
		return NewBool(!x.Sgt(y))
	case OpSgt:
		return NewBool(x.Sgt(y))
	case OpSge:
		return NewBool(!x.Slt(y))
	default:
		return Constant{}
	}
	return fromU256(c.typ, z)
}

func (c Constant) applyFloat(op Operator, rhs Constant) Constant {
	a := c.Float64()
	if op.IsUnary() {
		if op == OpNeg {
			return newFloat(c.typ, -a)
		}
		return Constant{}
	}
	if rhs.typ != c.typ {
		return Constant{}
	}
	b := rhs.Float64()
	switch op {
	case OpAdd:
		return newFloat(c.typ, a+b)
	case OpSub:
		return newFloat(c.typ, a-b)
	case OpMul:
		return newFloat(c.typ, a*b)
	case OpUDiv, OpSDiv:
		if b == 0 {
			return Constant{}
		}
		return newFloat(c.typ, a/b)
	case OpURem, OpSRem:
		if b == 0 {
			return Constant{}
		}
		return newFloat(c.typ, math.Mod(a, b))
	case OpUMin, OpSMin:
		return newFloat(c.typ, math.Min(a, b))
	case OpUMax, OpSMax:
		return newFloat(c.typ, math.Max(a, b))
	case OpEq:
		return NewBool(a == b)
	case OpNe:
		return NewBool(a != b)
	case OpUlt, OpSlt:
		return NewBool(a < b)
	case OpUle, OpSle:
		return NewBool(a <= b)
	case OpUgt, OpSgt:
		return NewBool(a > b)
	case OpUge, OpSge:
		return NewBool(a >= b)
	}
	return Constant{}
}

// applyVector applies op lane-wise, except for comparisons which compare the
// whole vector for (in)equality.
func (c Constant) applyVector(op Operator, rhs Constant) Constant {
	if op.IsCmp() {
		if rhs.typ != c.typ || (op != OpEq && op != OpNe) {
			return Constant{}
		}
		return NewBool(c.Equal(rhs) == (op == OpEq))
	}
	lt := c.typ.Lane()
	n := lt.Size()
	out := make([]byte, c.typ.Size())
	for i := 0; i < c.typ.Lanes(); i++ {
		var b Constant
		switch {
		case op.IsUnary():
		case rhs.typ == c.typ:
			b = rhs.Lane(i)
		case isShift(op) && intWidth(rhs.typ) != 0:
			b = rhs
		default:
			return Constant{}
		}
		r := c.Lane(i).Apply(op, b)
		if !r.IsValid() {
			return Constant{}
		}
		copy(out[i*n:], r.data())
	}
	return NewConstant(c.typ, out)
}

// ### [ Casts ] ###############################################################

// CastZX converts c to type t, treating integers as unsigned; integers are
// zero-extended or truncated. Booleans convert to 0 or 1.
func (c Constant) CastZX(t Type) Constant {
	return c.cast(t, false)
}

// CastSX converts c to type t, treating integers as signed; integers are
// sign-extended or truncated. Booleans convert to 0 or -1.
func (c Constant) CastSX(t Type) Constant {
	return c.cast(t, true)
}

func (c Constant) cast(t Type, signed bool) Constant {
	if !c.IsValid() || t == TypeNone {
		return Constant{}
	}
	if c.typ == t {
		return c
	}
	src := c.typ
	isIntLike := func(t Type) bool { return t.IsInt() || t.IsPointer() || t.IsBool() }
	switch {
	case t.IsBool() && (src.IsArith() || src.IsPointer()):
		return NewBool(c.Bool())
	case isIntLike(src) && isIntLike(t):
		x := c.u256()
		if signed {
			x = signExtend(x, intWidth(src))
		}
		return fromU256(t, x)
	case isIntLike(src) && t.IsFloat():
		x := c.u256()
		b := x.ToBig()
		if signed && x.Rsh(x, uint(intWidth(src)-1)).Uint64()&1 != 0 {
			b.Sub(b, new(big.Int).Lsh(big.NewInt(1), uint(intWidth(src))))
		}
		f, _ := new(big.Float).SetInt(b).Float64()
		return newFloat(t, f)
	case src.IsFloat() && t.IsFloat():
		return newFloat(t, c.Float64())
	case src.IsFloat() && (t.IsInt() || t.IsPointer()):
		f := c.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Constant{}
		}
		b, _ := big.NewFloat(math.Trunc(f)).Int(nil)
		w := intWidth(t)
		limit := new(big.Int).Lsh(big.NewInt(1), uint(w))
		if signed {
			half := new(big.Int).Rsh(limit, 1)
			if b.Cmp(half) >= 0 || b.Cmp(new(big.Int).Neg(half)) < 0 {
				return Constant{}
			}
			if b.Sign() < 0 {
				b.Add(b, limit)
			}
		} else if b.Sign() < 0 || b.Cmp(limit) >= 0 {
			return Constant{}
		}
		z, overflow := uint256.FromBig(b)
		if overflow {
			return Constant{}
		}
		return fromU256(t, z)
	}
	return Constant{}
}

// Bitcast reinterprets the bits of c as type t. The widths must match, except
// that pointers convert to and from 32- and 64-bit integers by zero-extension
// or truncation.
func (c Constant) Bitcast(t Type) Constant {
	if !c.IsValid() || t == TypeNone {
		return Constant{}
	}
	bitcastable := func(t Type) bool {
		return t.IsArith() || t.IsPointer() || t.IsVector()
	}
	if !bitcastable(c.typ) || !bitcastable(t) {
		return Constant{}
	}
	switch {
	case c.typ.IsPointer() && (t == TypeI32 || t == TypeI64),
		t.IsPointer() && (c.typ == TypeI32 || c.typ == TypeI64):
		return NewConstant(t, c.data())
	case c.typ.Bits() != t.Bits():
		return Constant{}
	}
	return NewConstant(t, c.data())
}

// ### [ Helper functions ] ####################################################

// u256 returns the payload of the constant as an unsigned 256-bit integer.
func (c Constant) u256() *uint256.Int {
	var b [32]byte
	copy(b[:], c.data())
	z := new(uint256.Int)
	for i := range z {
		z[i] = binary.LittleEndian.Uint64(b[8*i:])
	}
	return z
}

// fromU256 returns a constant of type t holding the low bits of z.
func fromU256(t Type, z *uint256.Int) Constant {
	var b [32]byte
	for i := range z {
		binary.LittleEndian.PutUint64(b[8*i:], z[i])
	}
	return NewConstant(t, b[:])
}

// signExtend sign-extends the w-bit integer x to 256 bits.
func signExtend(x *uint256.Int, w int) *uint256.Int {
	if w >= 256 {
		return x
	}
	sign := new(uint256.Int).Rsh(x, uint(w-1))
	if sign.Uint64()&1 == 0 {
		return x
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(w))
	mask.SubUint64(mask, 1)
	return new(uint256.Int).Or(x, mask.Not(mask))
}

func pick(cond bool, x, y *uint256.Int) *uint256.Int {
	if cond {
		return x
	}
	return y
}

func popcount(x *uint256.Int) int {
	n := 0
	for _, limb := range x {
		n += bits.OnesCount64(limb)
	}
	return n
}

// trailingZeros returns the number of trailing zero bits of the w-bit integer
// x; w if x is zero.
func trailingZeros(x *uint256.Int, w int) int {
	n := 0
	for _, limb := range x {
		if limb != 0 {
			return n + bits.TrailingZeros64(limb)
		}
		n += 64
	}
	return w
}

// newFloat returns a floating-point constant of type t.
func newFloat(t Type, f float64) Constant {
	switch t {
	case TypeF32:
		return NewF32(float32(f))
	case TypeF64:
		return NewF64(f)
	case TypeF80:
		return NewF80(f)
	}
	return Constant{}
}

// encodeF80 encodes f in x87 extended precision format.
func encodeF80(f float64) [10]byte {
	var b [10]byte
	var sign uint16
	if math.Signbit(f) {
		sign = 0x8000
	}
	var exp uint16
	var mant uint64
	switch {
	case math.IsNaN(f):
		exp, mant = 0x7FFF, 0xC000000000000000
	case math.IsInf(f, 0):
		exp, mant = 0x7FFF, 0x8000000000000000
	case f == 0:
	default:
		frac, e := math.Frexp(math.Abs(f))
		mant = uint64(math.Ldexp(frac, 64))
		exp = uint16(e - 1 + 16383)
	}
	binary.LittleEndian.PutUint64(b[:8], mant)
	binary.LittleEndian.PutUint16(b[8:], sign|exp)
	return b
}

// decodeF80 decodes the x87 extended precision number b.
func decodeF80(b [10]byte) float64 {
	mant := binary.LittleEndian.Uint64(b[:8])
	se := binary.LittleEndian.Uint16(b[8:])
	neg := se&0x8000 != 0
	exp := int(se & 0x7FFF)
	var f float64
	switch {
	case exp == 0x7FFF && mant<<1 == 0:
		f = math.Inf(1)
	case exp == 0x7FFF:
		return math.NaN()
	case exp == 0 && mant == 0:
		f = 0
	default:
		f = math.Ldexp(float64(mant), exp-16383-63)
	}
	if neg {
		f = -f
	}
	return f
}
