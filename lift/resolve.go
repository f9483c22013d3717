package lift

import (
	"github.com/pkg/errors"

	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/symbolic"
)

// resolve lifts the jump targets of the terminator of b and rewrites external
// jumps with resolved targets to jumps between blocks.
//
// Lifting a target may split the block holding the terminator, so successor
// edges are added from the block of the terminator after the targets are
// lifted.
func (f *funcLifter) resolve(b *ir.BasicBlock) error {
	term := b.Terminator()
	for term != nil {
		switch term.Opcode() {
		case ir.OpcodeXjmp:
			target := term.Operand(0)
			if !f.coerce(target) {
				dbg.Printf("unresolved jump at 0x%X: %v", term.IP, term)
				if f.l.resolver != nil {
					f.l.resolver.OnUnresolvedJump(f.m, term)
				}
				return nil
			}
			tb, err := f.liftTarget(target.Constant())
			if err != nil {
				return err
			}
			src := term.Block()
			term.ReplaceWith(ir.NewJmp(tb))
			src.AddJump(tb)
			return nil
		case ir.OpcodeXjs:
			cond := term.Operand(0)
			if f.coerce(cond) {
				taken := term.Operand(2)
				if cond.Constant().Bool() {
					taken = term.Operand(1)
				}
				jmp := ir.NewXjmp(operandValue(taken))
				term.ReplaceWith(jmp)
				term = jmp
				continue
			}
			// Both targets are coerced before either is lifted; a pair is
			// resolved all or nothing.
			okT, okF := f.coerce(term.Operand(1)), f.coerce(term.Operand(2))
			if !okT || !okF {
				dbg.Printf("unresolved conditional jump at 0x%X: %v", term.IP, term)
				return nil
			}
			tb, err := f.liftTarget(term.Operand(1).Constant())
			if err != nil {
				return err
			}
			fb, err := f.liftTarget(term.Operand(2).Constant())
			if err != nil {
				return err
			}
			src := term.Block()
			term.ReplaceWith(ir.NewJs(cond.Value(), tb, fb))
			src.AddJump(tb)
			src.AddJump(fb)
			return nil
		default:
			return nil
		}
	}
	return nil
}

// liftTarget lifts the block at the jump target c.
func (f *funcLifter) liftTarget(c ir.Constant) (*ir.BasicBlock, error) {
	if err := f.t.Checkpoint(); err != nil {
		return nil, errors.WithStack(err)
	}
	return f.liftBlock(c.Uint64())
}

// coerce reports whether the operand is constant, replacing it in place with
// its concrete value if it can be evaluated.
func (f *funcLifter) coerce(op *ir.Operand) bool {
	if op.IsConstant() {
		return op.Constant().IsValid()
	}
	c := symbolic.ConcreteValue(symbolic.ToExpression(op, f.l.cfg.MaxCoerceDepth))
	if !c.IsValid() || c.Type() != op.Type() {
		return false
	}
	op.SetConstant(c)
	return true
}

// operandValue returns the value of the operand as a value usable by
// instruction factories.
func operandValue(op *ir.Operand) ir.Value {
	if op.IsConstant() {
		return ir.Const(op.Constant())
	}
	return op.Value()
}
