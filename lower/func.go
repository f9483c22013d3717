package lower

import (
	"fmt"
	"math/big"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"

	llvm "github.com/llir/llvm/ir"

	"github.com/mewmew/lifter/ir"
)

// funcLowerer lowers one routine into an LLVM IR function.
type funcLowerer struct {
	l *Lowerer
	f *llvm.Func
	// Current LLVM IR block being lowered into.
	cur *llvm.Block

	// Maps from IR block to LLVM IR block.
	blocks map[*ir.BasicBlock]*llvm.Block
	// Maps from IR instruction to LLVM IR value.
	values map[*ir.Instruction]value.Value
	// Phi instructions, filled once all blocks are lowered.
	phis []phiFixup
}

type phiFixup struct {
	inst *ir.Instruction
	phi  *llvm.InstPhi
}

func newFuncLowerer(l *Lowerer, f *llvm.Func) *funcLowerer {
	return &funcLowerer{
		l:      l,
		f:      f,
		blocks: make(map[*ir.BasicBlock]*llvm.Block),
		values: make(map[*ir.Instruction]value.Value),
	}
}

// lowerRoutine lowers the blocks of r in routine order, entry first.
func (fl *funcLowerer) lowerRoutine(r *ir.Routine) error {
	// The LLVM IR entry block must not have predecessors.
	if len(r.Entry.Predecessors()) > 0 {
		fl.f.NewBlock("entry")
	}
	order := []*ir.BasicBlock{r.Entry}
	for _, b := range r.Blocks() {
		if b != r.Entry {
			order = append(order, b)
		}
	}
	for _, b := range order {
		fl.blocks[b] = fl.f.NewBlock(fmt.Sprintf("block_%08X", b.IP))
	}
	if len(r.Entry.Predecessors()) > 0 {
		fl.f.Blocks[0].NewBr(fl.blocks[r.Entry])
	}
	for _, b := range order {
		if err := fl.lowerBlock(b); err != nil {
			return errors.WithStack(err)
		}
	}
	return fl.fixPhis()
}

// lowerBlock lowers the instructions of the given block.
func (fl *funcLowerer) lowerBlock(b *ir.BasicBlock) error {
	fl.cur = fl.blocks[b]
	for inst := range b.Instructions() {
		v, err := fl.lowerInst(inst)
		if err != nil {
			return errors.Wrapf(err, "unable to lower instruction %v at 0x%X", inst, inst.IP)
		}
		if v != nil {
			fl.values[inst] = v
		}
	}
	if fl.cur.Term == nil {
		fl.cur.NewUnreachable()
	}
	return nil
}

// fixPhis adds the incoming values of lowered phi instructions.
func (fl *funcLowerer) fixPhis() error {
	for _, fix := range fl.phis {
		preds := fix.inst.Block().Predecessors()
		if len(preds) != fix.inst.NumOperands() {
			return errors.Errorf("phi %s has %d operands but %d predecessors", fix.inst.Ident(), fix.inst.NumOperands(), len(preds))
		}
		for i, pred := range preds {
			x, err := fl.operand(fix.inst.Operand(i))
			if err != nil {
				return errors.WithStack(err)
			}
			fix.phi.Incs = append(fix.phi.Incs, llvm.NewIncoming(x, fl.blocks[pred]))
		}
	}
	return nil
}

// operand returns the LLVM IR value of the given operand.
func (fl *funcLowerer) operand(op *ir.Operand) (value.Value, error) {
	if op.IsConstant() {
		return lowerConst(op.Constant())
	}
	switch v := op.Value().(type) {
	case *ir.Instruction:
		if x, ok := fl.values[v]; ok {
			return x, nil
		}
		return nil, errors.Errorf("use of %s before its definition", v.Ident())
	case *ir.BasicBlock:
		if x, ok := fl.blocks[v]; ok {
			return x, nil
		}
		return nil, errors.Errorf("use of block %s of another routine", v.Ident())
	case nil:
		return nil, errors.New("use of detached operand")
	default:
		panic(fmt.Errorf("support for value %T not yet implemented", v))
	}
}

// operands returns the LLVM IR values of the operands of inst starting at
// operand i.
func (fl *funcLowerer) operands(inst *ir.Instruction, i int) ([]value.Value, error) {
	var xs []value.Value
	for ; i < inst.NumOperands(); i++ {
		x, err := fl.operand(inst.Operand(i))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		xs = append(xs, x)
	}
	return xs, nil
}

// lowerConst returns the LLVM IR constant of the given constant.
func lowerConst(c ir.Constant) (constant.Constant, error) {
	t := c.Type()
	switch {
	case t.IsBool():
		return constant.NewBool(c.Bool()), nil
	case t.IsInt():
		return newInt(llType(t).(*types.IntType), c), nil
	case t.IsFloat():
		return constant.NewFloat(llType(t).(*types.FloatType), c.Float64()), nil
	case t.IsPointer():
		addr := newInt(types.I64, c)
		return constant.NewIntToPtr(addr, types.I8Ptr), nil
	case t.IsVector():
		vt := llType(t).(*types.VectorType)
		elems := make([]constant.Constant, t.Lanes())
		for i := range elems {
			elem, err := lowerConst(c.Lane(i))
			if err != nil {
				return nil, errors.WithStack(err)
			}
			elems[i] = elem
		}
		return &constant.Vector{Typ: vt, Elems: elems}, nil
	}
	return nil, errors.Errorf("unable to lower constant %v of type %v", c, t)
}

// newInt returns the LLVM IR integer constant of the little-endian payload of
// c.
func newInt(t *types.IntType, c ir.Constant) *constant.Int {
	buf := c.Bytes()
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return &constant.Int{Typ: t, X: new(big.Int).SetBytes(buf)}
}
