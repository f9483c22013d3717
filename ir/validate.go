package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError is a structural defect of the IR detected by Validate.
type ValidationError struct {
	// Offending instruction; nil for block-level defects.
	Inst *Instruction
	// Offending block; nil for instruction-level defects outside blocks.
	Block *BasicBlock
	// Index of the offending operand; -1 if the defect is not tied to an
	// operand.
	Operand int
	// Expected and actual type of the offending operand.
	Expected, Actual Type
	// Description of the defect.
	Msg string
}

// Error returns the diagnostic message of the validation error.
func (e *ValidationError) Error() string {
	var where string
	switch {
	case e.Inst != nil && e.Inst.block != nil:
		where = fmt.Sprintf("block %s: %s (%v): ", e.Inst.block.Ident(), e.Inst.Ident(), e.Inst.opcode)
	case e.Inst != nil:
		where = fmt.Sprintf("%s (%v): ", e.Inst.Ident(), e.Inst.opcode)
	case e.Block != nil:
		where = fmt.Sprintf("block %s: ", e.Block.Ident())
	}
	if e.Operand >= 0 {
		return fmt.Sprintf("%soperand %d: %s; expected %v, got %v", where, e.Operand, e.Msg, e.Expected, e.Actual)
	}
	return where + e.Msg
}

func (inst *Instruction) invalid(operand int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Inst: inst, Block: inst.block, Operand: operand, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the operand count, operand types and constness of the
// instruction against its opcode descriptor.
func (inst *Instruction) Validate() error {
	if inst.opcode == OpcodeInvalid || inst.opcode >= numOpcodes {
		return inst.invalid(-1, "invalid opcode %d", inst.opcode)
	}
	info := &opcodes[inst.opcode]
	for i := range inst.templates {
		switch t := inst.templates[i]; {
		case i < info.templates && (t == TypeNone || t == TypeLabel || t == TypeOp || t >= numTypes):
			return inst.invalid(-1, "invalid template type %d: %v", i, t)
		case i >= info.templates && t != TypeNone:
			return inst.invalid(-1, "unexpected template type %d: %v", i, t)
		}
	}
	n := len(inst.operands)
	switch {
	case info.variadic && n < len(info.args)-1:
		return inst.invalid(-1, "expected at least %d operands, got %d", len(info.args)-1, n)
	case !info.variadic && n != len(info.args):
		return inst.invalid(-1, "expected %d operands, got %d", len(info.args), n)
	}
	for i := range inst.operands {
		spec := info.args[min(i, len(info.args)-1)]
		op := &inst.operands[i]
		want, got := inst.resolve(spec), op.Type()
		if spec.constant && !op.IsConstant() {
			err := inst.invalid(i, "expected constant")
			err.Expected, err.Actual = want, got
			return err
		}
		if got != want {
			err := inst.invalid(i, "type mismatch")
			err.Expected, err.Actual = want, got
			return err
		}
	}
	return inst.validateOpcode()
}

// validateOpcode performs the opcode specific checks of Validate.
func (inst *Instruction) validateOpcode() error {
	to, from := inst.templates[0], inst.templates[1]
	switch inst.opcode {
	case OpcodeUnop:
		if !inst.Operator().IsUnary() {
			return inst.invalid(-1, "operator %v is not unary", inst.Operator())
		}
	case OpcodeBinop:
		if op := inst.Operator(); !op.IsBinary() || op.IsCmp() {
			return inst.invalid(-1, "operator %v is not a binary arithmetic operator", op)
		}
	case OpcodeCmp:
		if !inst.Operator().IsCmp() {
			return inst.invalid(-1, "operator %v is not a comparison", inst.Operator())
		}
	case OpcodeCastZX, OpcodeCastSX:
		castable := func(t Type) bool { return t.IsArith() || t.IsPointer() }
		if !castable(to) || !castable(from) {
			return inst.invalid(-1, "invalid cast from %v to %v", from, to)
		}
	case OpcodeBitcast:
		ptrInt := func(a, b Type) bool { return a.IsPointer() && (b == TypeI32 || b == TypeI64) }
		if to.Bits() != from.Bits() && !ptrInt(to, from) && !ptrInt(from, to) {
			return inst.invalid(-1, "invalid bitcast from %v (%d bits) to %v (%d bits)", from, from.Bits(), to, to.Bits())
		}
	case OpcodeExtract:
		lane := inst.operands[1].Constant().Uint64()
		if !from.IsVector() || from.Lane() != to || lane >= uint64(from.Lanes()) {
			return inst.invalid(1, "invalid lane %d of %v", lane, from)
		}
	case OpcodeInsert:
		lane := inst.operands[1].Constant().Uint64()
		if !to.IsVector() || to.Lane() != from || lane >= uint64(to.Lanes()) {
			return inst.invalid(1, "invalid lane %d of %v", lane, to)
		}
	}
	return nil
}

// Validate checks the structure of the block:
//
//   - all phi instructions precede all other instructions;
//   - at most one terminator is present, and it is the last instruction;
//   - every instruction is valid;
//   - instructions of the block only reference instructions of the same block
//     defined before them.
//
// References to instructions of other blocks are assumed to respect
// dominance and are not checked.
func (b *BasicBlock) Validate() error {
	seen := make(map[*Instruction]bool)
	phis := true
	for inst := range b.Instructions() {
		if inst.block != b {
			return &ValidationError{Inst: inst, Block: b, Operand: -1, Msg: "instruction linked into wrong block"}
		}
		if inst.IsPhi() {
			if !phis {
				return inst.invalid(-1, "phi instruction after non-phi instruction")
			}
		} else {
			phis = false
		}
		if inst.IsTerminator() && inst.next != nil {
			return inst.invalid(-1, "terminator is not the last instruction of the block")
		}
		if err := inst.Validate(); err != nil {
			return err
		}
		for i := range inst.operands {
			def, ok := inst.operands[i].Value().(*Instruction)
			if !ok || def.block != b || inst.IsPhi() {
				continue
			}
			if !seen[def] {
				err := inst.invalid(i, "reference to %s not defined earlier in the block", def.Ident())
				err.Expected, err.Actual = def.Type(), def.Type()
				return err
			}
		}
		seen[inst] = true
	}
	return nil
}

// Validate checks every block of the routine, and the symmetry of successor
// and predecessor edges.
func (r *Routine) Validate() error {
	for _, b := range r.blocks {
		if b.routine != r {
			return errors.Errorf("block %s not owned by routine", b.Ident())
		}
		if err := b.Validate(); err != nil {
			return errors.WithStack(err)
		}
		for _, succ := range b.succs {
			if count(succ.preds, b) != count(b.succs, succ) {
				return errors.Errorf("asymmetric edge %s -> %s", b.Ident(), succ.Ident())
			}
		}
		for _, pred := range b.preds {
			if count(pred.succs, b) != count(b.preds, pred) {
				return errors.Errorf("asymmetric edge %s -> %s", pred.Ident(), b.Ident())
			}
		}
	}
	return nil
}

// count returns the number of occurrences of b in blocks.
func count(blocks []*BasicBlock, b *BasicBlock) int {
	n := 0
	for _, block := range blocks {
		if block == b {
			n++
		}
	}
	return n
}
