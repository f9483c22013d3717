package ir

// Operator is an arithmetic, bitwise or comparison operator applied by unop,
// binop and cmp instructions and by Constant.Apply.
type Operator uint8

// Operators.
const (
	OpNone Operator = iota

	// Unary operators.
	OpNeg
	OpNot
	OpPopcnt
	OpCtz
	OpClz
	OpBswap

	// Binary operators.
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpRotl
	OpRotr
	OpUMin
	OpUMax
	OpSMin
	OpSMax

	// Comparison operators; the result is of type i1.
	OpEq
	OpNe
	OpUlt
	OpUle
	OpUgt
	OpUge
	OpSlt
	OpSle
	OpSgt
	OpSge

	numOperators
)

// opInfo describes the algebraic properties of an operator.
type opInfo struct {
	name        string
	unary       bool
	commutative bool
	cmp         bool
	// Unsigned and signed counterpart; the operator itself if signedness is
	// irrelevant.
	unsigned, signed Operator
	// Operator undoing (or, for comparisons, negating) the operator; OpNone if
	// none exists.
	inverse Operator
}

var operators = [numOperators]opInfo{
	OpNone:   {name: "none"},
	OpNeg:    {name: "neg", unary: true, inverse: OpNeg},
	OpNot:    {name: "not", unary: true, inverse: OpNot},
	OpPopcnt: {name: "popcnt", unary: true},
	OpCtz:    {name: "ctz", unary: true},
	OpClz:    {name: "clz", unary: true},
	OpBswap:  {name: "bswap", unary: true, inverse: OpBswap},
	OpAdd:    {name: "add", commutative: true, inverse: OpSub},
	OpSub:    {name: "sub", inverse: OpAdd},
	OpMul:    {name: "mul", commutative: true},
	OpUDiv:   {name: "udiv", unsigned: OpUDiv, signed: OpSDiv},
	OpSDiv:   {name: "sdiv", unsigned: OpUDiv, signed: OpSDiv},
	OpURem:   {name: "urem", unsigned: OpURem, signed: OpSRem},
	OpSRem:   {name: "srem", unsigned: OpURem, signed: OpSRem},
	OpAnd:    {name: "and", commutative: true},
	OpOr:     {name: "or", commutative: true},
	OpXor:    {name: "xor", commutative: true, inverse: OpXor},
	OpShl:    {name: "shl"},
	OpLShr:   {name: "lshr", unsigned: OpLShr, signed: OpAShr},
	OpAShr:   {name: "ashr", unsigned: OpLShr, signed: OpAShr},
	OpRotl:   {name: "rotl", inverse: OpRotr},
	OpRotr:   {name: "rotr", inverse: OpRotl},
	OpUMin:   {name: "umin", commutative: true, unsigned: OpUMin, signed: OpSMin},
	OpUMax:   {name: "umax", commutative: true, unsigned: OpUMax, signed: OpSMax},
	OpSMin:   {name: "smin", commutative: true, unsigned: OpUMin, signed: OpSMin},
	OpSMax:   {name: "smax", commutative: true, unsigned: OpUMax, signed: OpSMax},
	OpEq:     {name: "eq", cmp: true, commutative: true, inverse: OpNe},
	OpNe:     {name: "ne", cmp: true, commutative: true, inverse: OpEq},
	OpUlt:    {name: "ult", cmp: true, unsigned: OpUlt, signed: OpSlt, inverse: OpUge},
	OpUle:    {name: "ule", cmp: true, unsigned: OpUle, signed: OpSle, inverse: OpUgt},
	OpUgt:    {name: "ugt", cmp: true, unsigned: OpUgt, signed: OpSgt, inverse: OpUle},
	OpUge:    {name: "uge", cmp: true, unsigned: OpUge, signed: OpSge, inverse: OpUlt},
	OpSlt:    {name: "slt", cmp: true, unsigned: OpUlt, signed: OpSlt, inverse: OpSge},
	OpSle:    {name: "sle", cmp: true, unsigned: OpUle, signed: OpSle, inverse: OpSgt},
	OpSgt:    {name: "sgt", cmp: true, unsigned: OpUgt, signed: OpSgt, inverse: OpSle},
	OpSge:    {name: "sge", cmp: true, unsigned: OpUge, signed: OpSge, inverse: OpSlt},
}

// String returns the mnemonic of the operator.
func (op Operator) String() string {
	if op >= numOperators {
		return "invalid"
	}
	return operators[op].name
}

// IsValid reports whether op is a known operator other than OpNone.
func (op Operator) IsValid() bool { return op > OpNone && op < numOperators }

// IsUnary reports whether op takes a single operand.
func (op Operator) IsUnary() bool { return op.IsValid() && operators[op].unary }

// IsBinary reports whether op takes two operands; comparisons included.
func (op Operator) IsBinary() bool { return op.IsValid() && !operators[op].unary }

// IsCmp reports whether op is a comparison.
func (op Operator) IsCmp() bool { return op.IsValid() && operators[op].cmp }

// IsCommutative reports whether the operands of op may be swapped.
func (op Operator) IsCommutative() bool { return op.IsValid() && operators[op].commutative }

// Unsigned returns the unsigned counterpart of op.
func (op Operator) Unsigned() Operator {
	if !op.IsValid() || operators[op].unsigned == OpNone {
		return op
	}
	return operators[op].unsigned
}

// Signed returns the signed counterpart of op.
func (op Operator) Signed() Operator {
	if !op.IsValid() || operators[op].signed == OpNone {
		return op
	}
	return operators[op].signed
}

// IsSigned reports whether op interprets its operands as signed integers.
func (op Operator) IsSigned() bool {
	return op.IsValid() && operators[op].signed == op && operators[op].unsigned != op
}

// Inverse returns the operator undoing op (x op y inverse y == x), or the
// negation of a comparison. It returns OpNone if op has no inverse.
func (op Operator) Inverse() Operator {
	if !op.IsValid() {
		return OpNone
	}
	return operators[op].inverse
}

// Swapped returns the comparison equivalent to op with its operands swapped,
// or op itself for commutative operators. It returns OpNone if op cannot be
// swapped.
func (op Operator) Swapped() Operator {
	switch op {
	case OpUlt:
		return OpUgt
	case OpUle:
		return OpUge
	case OpUgt:
		return OpUlt
	case OpUge:
		return OpUle
	case OpSlt:
		return OpSgt
	case OpSle:
		return OpSge
	case OpSgt:
		return OpSlt
	case OpSge:
		return OpSle
	}
	if op.IsCommutative() {
		return op
	}
	return OpNone
}
