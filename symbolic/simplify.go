package symbolic

import (
	"github.com/mewmew/lifter/ir"
)

// ConcreteValue returns the constant value of the expression e, or the "no
// value" constant if e does not simplify to a constant.
func ConcreteValue(e Expr) ir.Constant {
	if e == nil {
		return ir.Constant{}
	}
	if c, ok := Simplify(e).(*Const); ok {
		return c.Value
	}
	return ir.Constant{}
}

// Bind returns a copy of e in which every opaque value bound by env is
// replaced with its constant.
func Bind(e Expr, env func(v ir.Value) (ir.Constant, bool)) Expr {
	switch e := e.(type) {
	case *Var:
		if c, ok := env(e.Value); ok {
			return &Const{Value: c}
		}
		return e
	case *Unary:
		return &Unary{Op: e.Op, X: Bind(e.X, env)}
	case *Binary:
		return &Binary{Op: e.Op, X: Bind(e.X, env), Y: Bind(e.Y, env)}
	case *Cast:
		return &Cast{Opcode: e.Opcode, To: e.To, X: Bind(e.X, env)}
	case *Select:
		return &Select{Cond: Bind(e.Cond, env), X: Bind(e.X, env), Y: Bind(e.Y, env)}
	}
	return e
}

// Simplify returns e with constant subexpressions folded and algebraic
// identities applied. Expressions are never simplified into a result of a
// different type.
func Simplify(e Expr) Expr {
	switch e := e.(type) {
	case *Unary:
		return simplifyUnary(e.Op, Simplify(e.X))
	case *Binary:
		return simplifyBinary(e.Op, Simplify(e.X), Simplify(e.Y))
	case *Cast:
		return simplifyCast(e.Opcode, e.To, Simplify(e.X))
	case *Select:
		cond, x, y := Simplify(e.Cond), Simplify(e.X), Simplify(e.Y)
		if c, ok := cond.(*Const); ok {
			if c.Value.Bool() {
				return x
			}
			return y
		}
		if Equal(x, y) {
			return x
		}
		return &Select{Cond: cond, X: x, Y: y}
	}
	return e
}

func simplifyUnary(op ir.Operator, x Expr) Expr {
	if c, ok := x.(*Const); ok {
		if r := c.Value.Apply(op, ir.Constant{}); r.IsValid() {
			return &Const{Value: r}
		}
	}
	// neg (neg x) = x, not (not x) = x
	if inner, ok := x.(*Unary); ok && inner.Op == op && op.Inverse() == op {
		return inner.X
	}
	return &Unary{Op: op, X: x}
}

func simplifyBinary(op ir.Operator, x, y Expr) Expr {
	cx, xconst := x.(*Const)
	cy, yconst := y.(*Const)
	if xconst && yconst {
		if r := cx.Value.Apply(op, cy.Value); r.IsValid() {
			return &Const{Value: r}
		}
		return &Binary{Op: op, X: x, Y: y}
	}
	// Move constants to the right-hand side.
	if xconst && !yconst {
		if swapped := op.Swapped(); swapped != ir.OpNone {
			op, x, y = swapped, y, x
			cy, yconst = cx, true
		}
	}
	t := x.Type()
	if !isIntLike(t) {
		return &Binary{Op: op, X: x, Y: y}
	}
	if Equal(x, y) {
		switch op {
		case ir.OpSub, ir.OpXor:
			return zero(t)
		case ir.OpAnd, ir.OpOr, ir.OpUMin, ir.OpUMax, ir.OpSMin, ir.OpSMax:
			return x
		case ir.OpEq, ir.OpUle, ir.OpUge, ir.OpSle, ir.OpSge:
			return &Const{Value: ir.NewBool(true)}
		case ir.OpNe, ir.OpUlt, ir.OpUgt, ir.OpSlt, ir.OpSgt:
			return &Const{Value: ir.NewBool(false)}
		}
	}
	if yconst && cy.Value.IsZero() {
		switch op {
		case ir.OpAnd, ir.OpMul:
			return zero(t)
		case ir.OpAdd, ir.OpSub, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpLShr, ir.OpAShr, ir.OpRotl, ir.OpRotr:
			return x
		}
	}
	return &Binary{Op: op, X: x, Y: y}
}

func simplifyCast(opcode ir.Opcode, to ir.Type, x Expr) Expr {
	if x.Type() == to {
		return x
	}
	if c, ok := x.(*Const); ok {
		var r ir.Constant
		switch opcode {
		case ir.OpcodeCastZX:
			r = c.Value.CastZX(to)
		case ir.OpcodeCastSX:
			r = c.Value.CastSX(to)
		case ir.OpcodeBitcast:
			r = c.Value.Bitcast(to)
		}
		if r.IsValid() {
			return &Const{Value: r}
		}
	}
	return &Cast{Opcode: opcode, To: to, X: x}
}

// ### [ Helper functions ] ####################################################

// isIntLike reports whether t is a boolean, integer or pointer type.
func isIntLike(t ir.Type) bool {
	return t.IsBool() || t.IsInt() || t.IsPointer()
}

// zero returns the zero constant of the integer-like type t.
func zero(t ir.Type) Expr {
	return &Const{Value: ir.NewUint(t, 0)}
}
