package x86

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/mewmew/lifter/ir"
)

// lifter lifts a single x86 instruction into a basic block.
type lifter struct {
	arch *Arch
	b    *ir.BasicBlock
	inst x86asm.Inst
	// Address (VA) of the instruction.
	addr uint64
}

// liftInst lifts the x86 instruction to equivalent IR instructions.
func (l *lifter) liftInst() error {
	switch l.inst.Op {
	case x86asm.NOP:
		return nil
	case x86asm.MOV:
		return l.liftInstMOV()
	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		return l.liftInstMOVX()
	case x86asm.LEA:
		return l.liftInstLEA()
	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.CMP, x86asm.TEST:
		return l.liftInstArith()
	case x86asm.INC, x86asm.DEC:
		return l.liftInstINCDEC()
	case x86asm.NEG:
		return l.liftInstNEG()
	case x86asm.NOT:
		return l.liftInstNOT()
	case x86asm.SHL, x86asm.SHR, x86asm.SAR:
		return l.liftInstShift()
	case x86asm.IMUL:
		return l.liftInstIMUL()
	case x86asm.PUSH:
		return l.liftInstPUSH()
	case x86asm.POP:
		return l.liftInstPOP()
	case x86asm.LEAVE:
		return l.liftInstLEAVE()
	case x86asm.CALL:
		return l.liftInstCALL()
	case x86asm.RET:
		return l.liftInstRET()
	case x86asm.JMP:
		return l.liftInstJMP()
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return l.liftInstJrCXZ()
	case x86asm.INT:
		l.emit(ir.NewTrap(fmt.Sprintf("interrupt %v", l.inst.Args[0])))
		return nil
	case x86asm.HLT:
		l.emit(ir.NewTrap("halt"))
		return nil
	case x86asm.UD2:
		l.emit(ir.NewTrap("undefined instruction"))
		return nil
	}
	if cc, ok := condCodes[l.inst.Op]; ok {
		switch {
		case l.inst.Op >= x86asm.JA && l.inst.Op <= x86asm.JS:
			return l.liftInstJcc(cc)
		case l.inst.Op >= x86asm.CMOVA && l.inst.Op <= x86asm.CMOVS:
			return l.liftInstCMOVcc(cc)
		default:
			return l.liftInstSETcc(cc)
		}
	}
	dump(l.inst)
	return errors.Errorf("support for instruction %v not yet implemented; unable to lift instruction at 0x%X", l.inst.Op, l.addr)
}

// ### [ Data transfer ] #######################################################

// liftInstMOV lifts the given x86 MOV instruction.
func (l *lifter) liftInstMOV() error {
	dst, src := l.inst.Args[0], l.inst.Args[1]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := l.read(src, t)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.write(dst, v)
}

// liftInstMOVX lifts the given x86 MOVZX, MOVSX or MOVSXD instruction.
func (l *lifter) liftInstMOVX() error {
	dst, src := l.inst.Args[0], l.inst.Args[1]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	st, err := l.argType(src)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := l.read(src, st)
	if err != nil {
		return errors.WithStack(err)
	}
	if st != t {
		if l.inst.Op == x86asm.MOVZX {
			v = l.emit(ir.NewCastZX(t, v))
		} else {
			v = l.emit(ir.NewCastSX(t, v))
		}
	}
	return l.write(dst, v)
}

// liftInstLEA lifts the given x86 LEA instruction.
func (l *lifter) liftInstLEA() error {
	dst := l.inst.Args[0]
	m, ok := l.inst.Args[1].(x86asm.Mem)
	if !ok {
		return errors.Errorf("invalid LEA source operand %v at 0x%X", l.inst.Args[1], l.addr)
	}
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	addr, err := l.effectiveAddr(m)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.write(dst, l.extend(addr, t))
}

// ### [ Arithmetic ] ##########################################################

// liftInstArith lifts the given x86 ADD, SUB, AND, OR, XOR, CMP or TEST
// instruction.
func (l *lifter) liftInstArith() error {
	dst, src := l.inst.Args[0], l.inst.Args[1]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	y, err := l.read(src, t)
	if err != nil {
		return errors.WithStack(err)
	}
	var op ir.Operator
	switch l.inst.Op {
	case x86asm.ADD:
		op = ir.OpAdd
	case x86asm.SUB, x86asm.CMP:
		op = ir.OpSub
	case x86asm.AND, x86asm.TEST:
		op = ir.OpAnd
	case x86asm.OR:
		op = ir.OpOr
	case x86asm.XOR:
		op = ir.OpXor
	}
	r := l.emit(ir.NewBinop(op, x, y))
	switch op {
	case ir.OpAdd:
		l.setAddFlags(x, y, r, true)
	case ir.OpSub:
		l.setSubFlags(x, y, r, true)
	default:
		l.setLogicFlags(r)
	}
	if l.inst.Op == x86asm.CMP || l.inst.Op == x86asm.TEST {
		return nil
	}
	return l.write(dst, r)
}

// liftInstINCDEC lifts the given x86 INC or DEC instruction.
func (l *lifter) liftInstINCDEC() error {
	dst := l.inst.Args[0]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	one := ir.Const(ir.NewUint(t, 1))
	var r *ir.Instruction
	if l.inst.Op == x86asm.INC {
		r = l.emit(ir.NewBinop(ir.OpAdd, x, one))
		l.setAddFlags(x, one, r, false)
	} else {
		r = l.emit(ir.NewBinop(ir.OpSub, x, one))
		l.setSubFlags(x, one, r, false)
	}
	return l.write(dst, r)
}

// liftInstNEG lifts the given x86 NEG instruction.
func (l *lifter) liftInstNEG() error {
	dst := l.inst.Args[0]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	zero := ir.Const(ir.NewUint(t, 0))
	r := l.emit(ir.NewBinop(ir.OpSub, zero, x))
	l.setSubFlags(zero, x, r, true)
	return l.write(dst, r)
}

// liftInstNOT lifts the given x86 NOT instruction.
func (l *lifter) liftInstNOT() error {
	dst := l.inst.Args[0]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.write(dst, l.emit(ir.NewUnop(ir.OpNot, x)))
}

// liftInstShift lifts the given x86 SHL, SHR or SAR instruction.
func (l *lifter) liftInstShift() error {
	dst, src := l.inst.Args[0], l.inst.Args[1]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	mask := uint64(0x1F)
	if t == ir.TypeI64 {
		mask = 0x3F
	}
	if imm, ok := src.(x86asm.Imm); ok && uint64(imm)&mask == 0 {
		// Shifts by zero leave the operand and the flags unchanged.
		return nil
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	n, err := l.readAs(src, t)
	if err != nil {
		return errors.WithStack(err)
	}
	n = l.emit(ir.NewBinop(ir.OpAnd, n, ir.Const(ir.NewUint(t, mask))))
	op := ir.OpShl
	switch l.inst.Op {
	case x86asm.SHR:
		op = ir.OpLShr
	case x86asm.SAR:
		op = ir.OpAShr
	}
	r := l.emit(ir.NewBinop(op, x, n))
	l.setResultFlags(r)
	l.clobberFlags(regCF, regOF)
	return l.write(dst, r)
}

// liftInstIMUL lifts the given two- or three-operand x86 IMUL instruction.
func (l *lifter) liftInstIMUL() error {
	if l.inst.Args[1] == nil {
		return errors.Errorf("support for one-operand IMUL not yet implemented; unable to lift instruction at 0x%X", l.addr)
	}
	dst := l.inst.Args[0]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, y := dst, l.inst.Args[1]
	if l.inst.Args[2] != nil {
		x, y = l.inst.Args[1], l.inst.Args[2]
	}
	a, err := l.read(x, t)
	if err != nil {
		return errors.WithStack(err)
	}
	b, err := l.read(y, t)
	if err != nil {
		return errors.WithStack(err)
	}
	r := l.emit(ir.NewBinop(ir.OpMul, a, b))
	l.clobberFlags(regCF, regOF, regZF, regSF, regPF)
	return l.write(dst, r)
}

// ### [ Stack ] ###############################################################

// push pushes v onto the stack.
func (l *lifter) push(v ir.Value) error {
	sp, err := l.readReg(l.arch.stackReg())
	if err != nil {
		return errors.WithStack(err)
	}
	size := uint64(v.Type().Size())
	sp = l.emit(ir.NewBinop(ir.OpSub, sp, l.word(size)))
	l.emit(ir.NewStore(l.ptr(sp), v))
	return l.writeReg(l.arch.stackReg(), sp)
}

// pop pops a value of type t from the stack.
func (l *lifter) pop(t ir.Type) (ir.Value, error) {
	sp, err := l.readReg(l.arch.stackReg())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	v := l.emit(ir.NewLoad(t, l.ptr(sp)))
	sp = l.emit(ir.NewBinop(ir.OpAdd, sp, l.word(uint64(t.Size()))))
	if err := l.writeReg(l.arch.stackReg(), sp); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

// liftInstPUSH lifts the given x86 PUSH instruction.
func (l *lifter) liftInstPUSH() error {
	src := l.inst.Args[0]
	t, err := l.argType(src)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := l.read(src, t)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.push(v)
}

// liftInstPOP lifts the given x86 POP instruction.
func (l *lifter) liftInstPOP() error {
	dst := l.inst.Args[0]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := l.pop(t)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.write(dst, v)
}

// liftInstLEAVE lifts the given x86 LEAVE instruction.
func (l *lifter) liftInstLEAVE() error {
	fp, err := l.readReg(l.arch.frameReg())
	if err != nil {
		return errors.WithStack(err)
	}
	if err := l.writeReg(l.arch.stackReg(), fp); err != nil {
		return errors.WithStack(err)
	}
	v, err := l.pop(l.arch.wordType())
	if err != nil {
		return errors.WithStack(err)
	}
	return l.writeReg(l.arch.frameReg(), v)
}

// ### [ Control flow ] ########################################################

// next returns the address of the instruction following the instruction.
func (l *lifter) next() uint64 {
	return l.addr + uint64(l.inst.Len)
}

// target returns the target address of the given branch operand.
func (l *lifter) target(arg x86asm.Arg) (ir.Value, error) {
	if rel, ok := arg.(x86asm.Rel); ok {
		return ir.Const(ir.NewPointer(l.next() + uint64(int64(rel)))), nil
	}
	v, err := l.read(arg, l.arch.wordType())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return l.ptr(v), nil
}

// liftInstCALL lifts the given x86 CALL instruction. The callee is assumed to
// return to the following instruction with the stack pointer restored.
func (l *lifter) liftInstCALL() error {
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	l.emit(ir.NewCall(target))
	return nil
}

// liftInstRET lifts the given x86 RET instruction.
func (l *lifter) liftInstRET() error {
	ret, err := l.pop(l.arch.wordType())
	if err != nil {
		return errors.WithStack(err)
	}
	if imm, ok := l.inst.Args[0].(x86asm.Imm); ok && imm != 0 {
		sp, err := l.readReg(l.arch.stackReg())
		if err != nil {
			return errors.WithStack(err)
		}
		sp = l.emit(ir.NewBinop(ir.OpAdd, sp, l.word(uint64(imm))))
		if err := l.writeReg(l.arch.stackReg(), sp); err != nil {
			return errors.WithStack(err)
		}
	}
	l.emit(ir.NewRet(l.ptr(ret)))
	return nil
}

// liftInstJMP lifts the given x86 JMP instruction.
func (l *lifter) liftInstJMP() error {
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	l.emit(ir.NewXjmp(target))
	return nil
}

// liftInstJcc lifts the given x86 conditional jump instruction.
func (l *lifter) liftInstJcc(cc condCode) error {
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	cond := l.cond(cc)
	l.emit(ir.NewXjs(cond, target, ir.Const(ir.NewPointer(l.next()))))
	return nil
}

// liftInstJrCXZ lifts the given x86 JCXZ, JECXZ or JRCXZ instruction.
func (l *lifter) liftInstJrCXZ() error {
	r := x86asm.RCX
	switch l.inst.Op {
	case x86asm.JCXZ:
		r = x86asm.CX
	case x86asm.JECXZ:
		r = x86asm.ECX
	}
	cx, err := l.readReg(r)
	if err != nil {
		return errors.WithStack(err)
	}
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	cond := l.emit(ir.NewCmp(ir.OpEq, cx, ir.Const(ir.NewUint(cx.Type(), 0))))
	l.emit(ir.NewXjs(cond, target, ir.Const(ir.NewPointer(l.next()))))
	return nil
}

// liftInstCMOVcc lifts the given x86 conditional move instruction.
func (l *lifter) liftInstCMOVcc(cc condCode) error {
	dst, src := l.inst.Args[0], l.inst.Args[1]
	t, err := l.argType(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.read(dst, t)
	if err != nil {
		return errors.WithStack(err)
	}
	y, err := l.read(src, t)
	if err != nil {
		return errors.WithStack(err)
	}
	return l.write(dst, l.emit(ir.NewSelect(l.cond(cc), y, x)))
}

// liftInstSETcc lifts the given x86 conditional set instruction.
func (l *lifter) liftInstSETcc(cc condCode) error {
	return l.write(l.inst.Args[0], l.emit(ir.NewCastZX(ir.TypeI8, l.cond(cc))))
}

// ### [ Operands ] ############################################################

// emit appends inst to the basic block.
func (l *lifter) emit(inst *ir.Instruction) *ir.Instruction {
	return l.b.Append(inst)
}

// word returns a word-sized integer constant.
func (l *lifter) word(v uint64) ir.Value {
	return ir.Const(ir.NewUint(l.arch.wordType(), v))
}

// extend zero-extends or truncates the integer v to type t.
func (l *lifter) extend(v ir.Value, t ir.Type) ir.Value {
	if v.Type() == t {
		return v
	}
	return l.emit(ir.NewCastZX(t, v))
}

// ptr converts the word-sized address v to a pointer.
func (l *lifter) ptr(v ir.Value) ir.Value {
	return l.emit(ir.NewBitcast(ir.TypePointer, v))
}

// argType returns the type of the given register, memory or immediate
// argument.
func (l *lifter) argType(arg x86asm.Arg) (ir.Type, error) {
	switch arg := arg.(type) {
	case x86asm.Reg:
		return l.regType(arg)
	case x86asm.Mem:
		if t := ir.IntType(8 * l.inst.MemBytes); t != ir.TypeNone {
			return t, nil
		}
		return ir.TypeNone, errors.Errorf("support for %d-byte memory operands not yet implemented; unable to lift instruction at 0x%X", l.inst.MemBytes, l.addr)
	case x86asm.Imm:
		return ir.IntType(l.inst.DataSize), nil
	}
	return ir.TypeNone, errors.Errorf("support for instruction argument %T not yet implemented; unable to lift instruction at 0x%X", arg, l.addr)
}

// effectiveAddr returns the word-sized effective address of the memory
// operand m.
func (l *lifter) effectiveAddr(m x86asm.Mem) (ir.Value, error) {
	switch m.Segment {
	case 0, x86asm.CS, x86asm.DS, x86asm.ES, x86asm.SS:
	default:
		return nil, errors.Errorf("support for segment %v not yet implemented; unable to lift instruction at 0x%X", m.Segment, l.addr)
	}
	var addr ir.Value
	add := func(v ir.Value) {
		if addr == nil {
			addr = v
			return
		}
		addr = l.emit(ir.NewBinop(ir.OpAdd, addr, v))
	}
	disp := uint64(m.Disp)
	switch m.Base {
	case 0:
	case x86asm.IP, x86asm.EIP, x86asm.RIP:
		disp += l.next()
	default:
		base, err := l.readWord(m.Base)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		add(base)
	}
	if m.Scale != 0 && m.Index != 0 {
		index, err := l.readWord(m.Index)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if m.Scale > 1 {
			index = l.emit(ir.NewBinop(ir.OpMul, index, l.word(uint64(m.Scale))))
		}
		add(index)
	}
	if disp != 0 || addr == nil {
		add(l.word(disp))
	}
	return addr, nil
}

// read reads the given register, memory or immediate argument as type t.
func (l *lifter) read(arg x86asm.Arg, t ir.Type) (ir.Value, error) {
	switch arg := arg.(type) {
	case x86asm.Reg:
		return l.readReg(arg)
	case x86asm.Mem:
		addr, err := l.effectiveAddr(arg)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return l.emit(ir.NewLoad(t, l.ptr(addr))), nil
	case x86asm.Imm:
		return ir.Const(ir.NewInt(t, int64(arg))), nil
	}
	return nil, errors.Errorf("support for instruction argument %T not yet implemented; unable to lift instruction at 0x%X", arg, l.addr)
}

// readAs reads the given argument and converts it to the integer type t.
func (l *lifter) readAs(arg x86asm.Arg, t ir.Type) (ir.Value, error) {
	if _, ok := arg.(x86asm.Imm); ok {
		return l.read(arg, t)
	}
	at, err := l.argType(arg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	v, err := l.read(arg, at)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return l.extend(v, t), nil
}

// write writes v to the given register or memory argument.
func (l *lifter) write(arg x86asm.Arg, v ir.Value) error {
	switch arg := arg.(type) {
	case x86asm.Reg:
		return l.writeReg(arg, v)
	case x86asm.Mem:
		addr, err := l.effectiveAddr(arg)
		if err != nil {
			return errors.WithStack(err)
		}
		l.emit(ir.NewStore(l.ptr(addr), v))
		return nil
	}
	return errors.Errorf("support for destination argument %T not yet implemented; unable to lift instruction at 0x%X", arg, l.addr)
}
