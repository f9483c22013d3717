// Package symbolic translates IR operands into bounded-depth expression trees,
// simplifies them algebraically, and evaluates them to constants where
// possible.
package symbolic

import (
	"fmt"

	"github.com/mewmew/lifter/ir"
)

// Expr is a symbolic expression.
//
// Expression nodes have one of the following underlying types.
//
//	*symbolic.Const
//	*symbolic.Var
//	*symbolic.Unary
//	*symbolic.Binary
//	*symbolic.Cast
//	*symbolic.Select
type Expr interface {
	// Type returns the type of the expression.
	Type() ir.Type
	// String returns the textual form of the expression.
	String() string
	// isExpr ensures that only expression nodes can be assigned to the Expr
	// interface.
	isExpr()
}

// Const is a constant expression.
type Const struct {
	Value ir.Constant
}

// Var is an opaque IR value; e.g. a register read, a memory load, or an
// instruction beyond the depth limit.
type Var struct {
	Value ir.Value
}

// Unary is a unary operation.
type Unary struct {
	Op ir.Operator
	X  Expr
}

// Binary is a binary operation or comparison.
type Binary struct {
	Op   ir.Operator
	X, Y Expr
}

// Cast is a conversion of X to type To; Opcode is one of ir.OpcodeCastZX,
// ir.OpcodeCastSX and ir.OpcodeBitcast.
type Cast struct {
	Opcode ir.Opcode
	To     ir.Type
	X      Expr
}

// Select evaluates to X if Cond holds and to Y otherwise.
type Select struct {
	Cond, X, Y Expr
}

func (*Const) isExpr()  {}
func (*Var) isExpr()    {}
func (*Unary) isExpr()  {}
func (*Binary) isExpr() {}
func (*Cast) isExpr()   {}
func (*Select) isExpr() {}

// Type returns the type of the expression.
func (e *Const) Type() ir.Type  { return e.Value.Type() }
func (e *Var) Type() ir.Type    { return e.Value.Type() }
func (e *Unary) Type() ir.Type  { return e.X.Type() }
func (e *Cast) Type() ir.Type   { return e.To }
func (e *Select) Type() ir.Type { return e.X.Type() }

// Type returns the type of the expression; i1 for comparisons.
func (e *Binary) Type() ir.Type {
	if e.Op.IsCmp() {
		return ir.TypeI1
	}
	return e.X.Type()
}

func (e *Const) String() string { return e.Value.String() }
func (e *Var) String() string   { return e.Value.Ident() }

func (e *Unary) String() string {
	return fmt.Sprintf("(%v %v)", e.Op, e.X)
}

func (e *Binary) String() string {
	return fmt.Sprintf("(%v %v %v)", e.Op, e.X, e.Y)
}

func (e *Cast) String() string {
	return fmt.Sprintf("(%v.%v %v)", e.Opcode, e.To, e.X)
}

func (e *Select) String() string {
	return fmt.Sprintf("(select %v %v %v)", e.Cond, e.X, e.Y)
}

// ToExpression returns the expression computed by the given operand, expanding
// the instructions it references up to depth levels deep. The result is nil if
// the operand holds no value.
func ToExpression(op *ir.Operand, depth int) Expr {
	if op.IsConstant() {
		c := op.Constant()
		if !c.IsValid() {
			return nil
		}
		return &Const{Value: c}
	}
	v := op.Value()
	if v == nil {
		return nil
	}
	return FromValue(v, depth)
}

// FromValue returns the expression computed by v, expanding the instructions
// it references up to depth levels deep. The result is nil if an expanded
// instruction has an operand holding no value.
func FromValue(v ir.Value, depth int) Expr {
	switch v := v.(type) {
	case *ir.ConstantValue:
		return &Const{Value: v.Constant}
	case *ir.Instruction:
		if depth <= 0 {
			return &Var{Value: v}
		}
		return fromInst(v, depth)
	}
	return &Var{Value: v}
}

// fromInst returns the expression computed by the instruction inst.
func fromInst(inst *ir.Instruction, depth int) Expr {
	var subs []Expr
	sub := func(indices ...int) bool {
		for _, i := range indices {
			x := ToExpression(inst.Operand(i), depth-1)
			if x == nil {
				return false
			}
			subs = append(subs, x)
		}
		return true
	}
	switch op := inst.Opcode(); op {
	case ir.OpcodeUnop:
		if !sub(1) {
			return nil
		}
		return &Unary{Op: inst.Operator(), X: subs[0]}
	case ir.OpcodeBinop, ir.OpcodeCmp:
		if !sub(1, 2) {
			return nil
		}
		return &Binary{Op: inst.Operator(), X: subs[0], Y: subs[1]}
	case ir.OpcodeCastZX, ir.OpcodeCastSX, ir.OpcodeBitcast:
		if !sub(0) {
			return nil
		}
		return &Cast{Opcode: op, To: inst.Type(), X: subs[0]}
	case ir.OpcodeSelect:
		if !sub(0, 1, 2) {
			return nil
		}
		return &Select{Cond: subs[0], X: subs[1], Y: subs[2]}
	}
	return &Var{Value: inst}
}

// Equal reports whether the expressions a and b are structurally equal.
// Opaque values are equal only if they are the same value.
func Equal(a, b Expr) bool {
	switch a := a.(type) {
	case *Const:
		b, ok := b.(*Const)
		return ok && a.Value.Equal(b.Value)
	case *Var:
		b, ok := b.(*Var)
		return ok && a.Value == b.Value
	case *Unary:
		b, ok := b.(*Unary)
		return ok && a.Op == b.Op && Equal(a.X, b.X)
	case *Binary:
		b, ok := b.(*Binary)
		return ok && a.Op == b.Op && Equal(a.X, b.X) && Equal(a.Y, b.Y)
	case *Cast:
		b, ok := b.(*Cast)
		return ok && a.Opcode == b.Opcode && a.To == b.To && Equal(a.X, b.X)
	case *Select:
		b, ok := b.(*Select)
		return ok && Equal(a.Cond, b.Cond) && Equal(a.X, b.X) && Equal(a.Y, b.Y)
	}
	return false
}
