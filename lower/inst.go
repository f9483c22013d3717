package lower

import (
	"fmt"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"

	llvm "github.com/llir/llvm/ir"

	"github.com/mewmew/lifter/ir"
)

// lowerInst lowers the given instruction into the current block, and returns
// the LLVM IR value of its result; nil if it produces no value.
func (fl *funcLowerer) lowerInst(inst *ir.Instruction) (value.Value, error) {
	switch inst.Opcode() {
	case ir.OpcodePhi:
		// Incoming values are added once all blocks are lowered.
		phi := &llvm.InstPhi{Typ: llType(inst.Type())}
		fl.cur.Insts = append(fl.cur.Insts, phi)
		fl.phis = append(fl.phis, phiFixup{inst: inst, phi: phi})
		return phi, nil
	case ir.OpcodeUndef:
		return constant.NewUndef(llType(inst.Type())), nil
	case ir.OpcodeReadReg:
		return fl.lowerReadReg(inst), nil
	}
	args, err := fl.operands(inst, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch inst.Opcode() {
	case ir.OpcodeWriteReg:
		fl.lowerWriteReg(inst, args[1])
		return nil, nil
	case ir.OpcodeLoad:
		t := llType(inst.Type())
		addr := fl.cur.NewBitCast(args[0], types.NewPointer(t))
		return fl.cur.NewLoad(t, addr), nil
	case ir.OpcodeStore:
		t := llType(inst.Template(0))
		addr := fl.cur.NewBitCast(args[0], types.NewPointer(t))
		fl.cur.NewStore(args[1], addr)
		return nil, nil
	case ir.OpcodeUnop:
		return fl.lowerUnop(inst.Operator(), inst.Type(), args[1]), nil
	case ir.OpcodeBinop:
		return fl.lowerBinop(inst.Operator(), inst.Type(), args[1], args[2]), nil
	case ir.OpcodeCmp:
		return fl.lowerCmp(inst.Operator(), inst.Operand(1).Type(), args[1], args[2]), nil
	case ir.OpcodeCastZX:
		return fl.convert(args[0], inst.Template(1), inst.Template(0), false), nil
	case ir.OpcodeCastSX:
		return fl.convert(args[0], inst.Template(1), inst.Template(0), true), nil
	case ir.OpcodeBitcast:
		return fl.bitcast(args[0], inst.Template(1), inst.Template(0)), nil
	case ir.OpcodeSelect:
		return fl.cur.NewSelect(args[0], args[1], args[2]), nil
	case ir.OpcodeExtract:
		return fl.cur.NewExtractElement(args[0], args[1]), nil
	case ir.OpcodeInsert:
		return fl.cur.NewInsertElement(args[0], args[2], args[1]), nil
	case ir.OpcodeCall:
		fl.cur.NewCall(fl.callee(inst.Operand(0), args[0]))
		return nil, nil
	case ir.OpcodeJmp:
		fl.cur.NewBr(fl.blocks[inst.Operand(0).Value().(*ir.BasicBlock)])
		return nil, nil
	case ir.OpcodeJs:
		t := fl.blocks[inst.Operand(1).Value().(*ir.BasicBlock)]
		f := fl.blocks[inst.Operand(2).Value().(*ir.BasicBlock)]
		fl.cur.NewCondBr(args[0], t, f)
		return nil, nil
	case ir.OpcodeXjmp:
		fl.lowerXjmp(args[0])
		return nil, nil
	case ir.OpcodeXjs:
		fl.lowerXjmp(fl.cur.NewSelect(args[0], args[1], args[2]))
		return nil, nil
	case ir.OpcodeRet:
		fl.cur.NewRet(nil)
		return nil, nil
	case ir.OpcodeTrap:
		fl.cur.NewCall(fl.l.declare("llvm.trap", types.Void))
		fl.cur.NewUnreachable()
		return nil, nil
	case ir.OpcodeUnreachable:
		fl.cur.NewUnreachable()
		return nil, nil
	}
	return nil, errors.Errorf("support for opcode %v not yet implemented", inst.Opcode())
}

// ### [ Registers ] ###########################################################

// lowerReadReg lowers a register read to a load of the register global
// converted to the read type.
func (fl *funcLowerer) lowerReadReg(inst *ir.Instruction) value.Value {
	t := inst.Type()
	g, st := fl.l.register(inst.Arch, inst.Operand(0).Constant().Reg(), t)
	v := fl.cur.NewLoad(llType(st), g)
	if st == t {
		return v
	}
	switch {
	case t.IsPointer():
		return fl.cur.NewIntToPtr(v, types.I8Ptr)
	case t.IsFloat():
		bits := fl.resize(v, ir.TypeI64, ir.IntType(t.Bits()), false)
		return fl.cur.NewBitCast(bits, llType(t))
	}
	return fl.cur.NewTrunc(v, llType(t))
}

// lowerWriteReg lowers a register write to a store of the written value
// zero-extended to the register global.
func (fl *funcLowerer) lowerWriteReg(inst *ir.Instruction, x value.Value) {
	t := inst.Template(0)
	g, st := fl.l.register(inst.Arch, inst.Operand(0).Constant().Reg(), t)
	v := x
	switch {
	case st == t:
	case t.IsPointer():
		v = fl.cur.NewPtrToInt(x, types.I64)
	case t.IsFloat():
		it := ir.IntType(t.Bits())
		v = fl.resize(fl.cur.NewBitCast(x, llType(it)), it, ir.TypeI64, false)
	default:
		v = fl.cur.NewZExt(x, types.I64)
	}
	fl.cur.NewStore(v, g)
}

// ### [ Operators ] ###########################################################

// lowerUnop lowers the unary operator op applied to x of type t.
func (fl *funcLowerer) lowerUnop(op ir.Operator, t ir.Type, x value.Value) value.Value {
	lt := llType(t)
	switch {
	case t.IsFloat() && op == ir.OpNeg:
		return fl.cur.NewFNeg(x)
	case t.IsBool() && op == ir.OpNot:
		return fl.cur.NewXor(x, constant.True)
	case t.IsInt():
		it := lt.(*types.IntType)
		switch op {
		case ir.OpNeg:
			return fl.cur.NewSub(constant.NewInt(it, 0), x)
		case ir.OpNot:
			return fl.cur.NewXor(x, constant.NewInt(it, -1))
		case ir.OpPopcnt:
			return fl.intrinsic("ctpop", t, x)
		case ir.OpCtz:
			return fl.intrinsic("cttz", t, x, constant.False)
		case ir.OpClz:
			return fl.intrinsic("ctlz", t, x, constant.False)
		case ir.OpBswap:
			if t.Bits()%16 == 0 {
				return fl.intrinsic("bswap", t, x)
			}
		}
	}
	return fl.helper(op, t, lt, x)
}

// lowerBinop lowers the binary operator op applied to x and y of type t.
func (fl *funcLowerer) lowerBinop(op ir.Operator, t ir.Type, x, y value.Value) value.Value {
	if t.IsFloat() {
		switch op {
		case ir.OpAdd:
			return fl.cur.NewFAdd(x, y)
		case ir.OpSub:
			return fl.cur.NewFSub(x, y)
		case ir.OpMul:
			return fl.cur.NewFMul(x, y)
		case ir.OpUDiv, ir.OpSDiv:
			return fl.cur.NewFDiv(x, y)
		case ir.OpURem, ir.OpSRem:
			return fl.cur.NewFRem(x, y)
		}
		return fl.helper(op, t, llType(t), x, y)
	}
	switch op {
	case ir.OpAdd:
		return fl.cur.NewAdd(x, y)
	case ir.OpSub:
		return fl.cur.NewSub(x, y)
	case ir.OpMul:
		return fl.cur.NewMul(x, y)
	case ir.OpUDiv:
		return fl.cur.NewUDiv(x, y)
	case ir.OpSDiv:
		return fl.cur.NewSDiv(x, y)
	case ir.OpURem:
		return fl.cur.NewURem(x, y)
	case ir.OpSRem:
		return fl.cur.NewSRem(x, y)
	case ir.OpAnd:
		return fl.cur.NewAnd(x, y)
	case ir.OpOr:
		return fl.cur.NewOr(x, y)
	case ir.OpXor:
		return fl.cur.NewXor(x, y)
	case ir.OpShl:
		return fl.cur.NewShl(x, y)
	case ir.OpLShr:
		return fl.cur.NewLShr(x, y)
	case ir.OpAShr:
		return fl.cur.NewAShr(x, y)
	}
	if !t.IsInt() {
		return fl.helper(op, t, llType(t), x, y)
	}
	switch op {
	case ir.OpRotl:
		return fl.intrinsic("fshl", t, x, x, y)
	case ir.OpRotr:
		return fl.intrinsic("fshr", t, x, x, y)
	case ir.OpUMin, ir.OpUMax, ir.OpSMin, ir.OpSMax:
		// min(x, y) = x < y ? x : y
		cmp := map[ir.Operator]ir.Operator{
			ir.OpUMin: ir.OpUlt, ir.OpUMax: ir.OpUgt,
			ir.OpSMin: ir.OpSlt, ir.OpSMax: ir.OpSgt,
		}[op]
		cond := fl.cur.NewICmp(ipreds[cmp], x, y)
		return fl.cur.NewSelect(cond, x, y)
	}
	return fl.helper(op, t, llType(t), x, y)
}

var ipreds = map[ir.Operator]enum.IPred{
	ir.OpEq:  enum.IPredEQ,
	ir.OpNe:  enum.IPredNE,
	ir.OpUlt: enum.IPredULT,
	ir.OpUle: enum.IPredULE,
	ir.OpUgt: enum.IPredUGT,
	ir.OpUge: enum.IPredUGE,
	ir.OpSlt: enum.IPredSLT,
	ir.OpSle: enum.IPredSLE,
	ir.OpSgt: enum.IPredSGT,
	ir.OpSge: enum.IPredSGE,
}

// Floating-point comparisons are ordered; signedness is irrelevant.
var fpreds = map[ir.Operator]enum.FPred{
	ir.OpEq:  enum.FPredOEQ,
	ir.OpNe:  enum.FPredUNE,
	ir.OpUlt: enum.FPredOLT,
	ir.OpUle: enum.FPredOLE,
	ir.OpUgt: enum.FPredOGT,
	ir.OpUge: enum.FPredOGE,
	ir.OpSlt: enum.FPredOLT,
	ir.OpSle: enum.FPredOLE,
	ir.OpSgt: enum.FPredOGT,
	ir.OpSge: enum.FPredOGE,
}

// lowerCmp lowers the comparison op of x and y of type t.
func (fl *funcLowerer) lowerCmp(op ir.Operator, t ir.Type, x, y value.Value) value.Value {
	switch {
	case t.IsFloat():
		return fl.cur.NewFCmp(fpreds[op], x, y)
	case t.IsBool(), t.IsInt(), t.IsPointer():
		return fl.cur.NewICmp(ipreds[op], x, y)
	}
	return fl.helper(op, t, types.I1, x, y)
}

// intrinsic calls the LLVM intrinsic "llvm.<name>.<t>" with the given
// arguments; the first argument is of type t.
func (fl *funcLowerer) intrinsic(name string, t ir.Type, args ...value.Value) value.Value {
	lt := llType(t)
	var params []types.Type
	for _, arg := range args {
		params = append(params, arg.Type())
	}
	f := fl.l.declare(fmt.Sprintf("llvm.%s.%v", name, t), lt, params...)
	return fl.cur.NewCall(f, args...)
}

// helper calls the external helper function implementing op on type t.
func (fl *funcLowerer) helper(op ir.Operator, t ir.Type, ret types.Type, args ...value.Value) value.Value {
	var params []types.Type
	for _, arg := range args {
		params = append(params, arg.Type())
	}
	f := fl.l.declare(fmt.Sprintf("__op.%v.%v", op, t), ret, params...)
	return fl.cur.NewCall(f, args...)
}

// ### [ Conversions ] #########################################################

// convert lowers a zero- or sign-extending conversion of x from the type from
// to the type to.
func (fl *funcLowerer) convert(x value.Value, from, to ir.Type, signed bool) value.Value {
	intLike := func(t ir.Type) bool { return t.IsBool() || t.IsInt() }
	switch {
	case from == to:
		return x
	case intLike(from) && intLike(to):
		return fl.resize(x, from, to, signed)
	case from.IsPointer() && intLike(to):
		return fl.resize(fl.cur.NewPtrToInt(x, types.I64), ir.TypeI64, to, signed)
	case intLike(from) && to.IsPointer():
		return fl.cur.NewIntToPtr(fl.resize(x, from, ir.TypeI64, signed), types.I8Ptr)
	case from.IsFloat() && to.IsFloat():
		if to.Bits() > from.Bits() {
			return fl.cur.NewFPExt(x, llType(to))
		}
		return fl.cur.NewFPTrunc(x, llType(to))
	case intLike(from) && to.IsFloat():
		if signed {
			return fl.cur.NewSIToFP(x, llType(to))
		}
		return fl.cur.NewUIToFP(x, llType(to))
	case from.IsFloat() && intLike(to):
		if signed {
			return fl.cur.NewFPToSI(x, llType(to))
		}
		return fl.cur.NewFPToUI(x, llType(to))
	}
	return fl.bitcast(x, from, to)
}

// resize lowers a conversion between integer types of x.
func (fl *funcLowerer) resize(x value.Value, from, to ir.Type, signed bool) value.Value {
	switch {
	case to.Bits() > from.Bits() && signed:
		return fl.cur.NewSExt(x, llType(to))
	case to.Bits() > from.Bits():
		return fl.cur.NewZExt(x, llType(to))
	case to.Bits() < from.Bits():
		return fl.cur.NewTrunc(x, llType(to))
	}
	return x
}

// bitcast lowers a reinterpretation of the bits of x.
func (fl *funcLowerer) bitcast(x value.Value, from, to ir.Type) value.Value {
	switch {
	case from == to:
		return x
	case from.IsPointer():
		return fl.resize(fl.cur.NewPtrToInt(x, types.I64), ir.TypeI64, to, false)
	case to.IsPointer():
		return fl.cur.NewIntToPtr(fl.resize(x, from, ir.TypeI64, false), types.I8Ptr)
	}
	return fl.cur.NewBitCast(x, llType(to))
}

// ### [ Control flow ] ########################################################

// callee returns the function called by a call instruction with the given
// target.
func (fl *funcLowerer) callee(target *ir.Operand, x value.Value) value.Value {
	if c := target.Constant(); c.IsValid() {
		return fl.l.function(c.Uint64())
	}
	return fl.cur.NewBitCast(x, types.NewPointer(types.NewFunc(types.Void)))
}

// lowerXjmp lowers a jump to a target not resolved to a block into a call of
// the external dispatcher "__xjmp".
func (fl *funcLowerer) lowerXjmp(target value.Value) {
	fl.cur.NewCall(fl.l.declare("__xjmp", types.Void, types.I8Ptr), target)
	fl.cur.NewUnreachable()
}
