package arm64

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/mewmew/lifter/ir"
)

// lifter lifts a single AArch64 instruction into a basic block.
type lifter struct {
	b    *ir.BasicBlock
	inst arm64asm.Inst
	// Address (VA) of the instruction.
	addr uint64
}

// liftInst lifts the AArch64 instruction to equivalent IR instructions.
func (l *lifter) liftInst() error {
	switch l.inst.Op {
	case arm64asm.NOP:
		return nil
	case arm64asm.MOV:
		return l.liftInstMOV()
	case arm64asm.MOVZ, arm64asm.MOVN, arm64asm.MOVK:
		return l.liftInstMOVWide()
	case arm64asm.ADD, arm64asm.ADDS, arm64asm.SUB, arm64asm.SUBS,
		arm64asm.AND, arm64asm.ANDS, arm64asm.ORR, arm64asm.EOR:
		return l.liftInstArith(l.inst.Args[0], l.inst.Args[1], l.inst.Args[2])
	case arm64asm.CMP, arm64asm.CMN, arm64asm.TST:
		return l.liftInstArith(nil, l.inst.Args[0], l.inst.Args[1])
	case arm64asm.ADR, arm64asm.ADRP:
		return l.liftInstADR()
	case arm64asm.CSEL:
		return l.liftInstCSEL()
	case arm64asm.CSET:
		return l.liftInstCSET()
	case arm64asm.LDR, arm64asm.STR:
		return l.liftInstLoadStore()
	case arm64asm.LDP, arm64asm.STP:
		return l.liftInstLoadStorePair()
	case arm64asm.B:
		return l.liftInstB()
	case arm64asm.BL, arm64asm.BLR:
		return l.liftInstBL()
	case arm64asm.BR:
		return l.liftInstBR()
	case arm64asm.RET:
		return l.liftInstRET()
	case arm64asm.CBZ, arm64asm.CBNZ:
		return l.liftInstCBZ()
	case arm64asm.BRK:
		l.emit(ir.NewTrap(fmt.Sprintf("breakpoint %v", l.inst.Args[0])))
		return nil
	case arm64asm.HLT:
		l.emit(ir.NewTrap("halt"))
		return nil
	}
	dump(l.inst)
	return errors.Errorf("support for instruction %v not yet implemented; unable to lift instruction at 0x%X", l.inst.Op, l.addr)
}

// ### [ Data processing ] #####################################################

// liftInstMOV lifts the given AArch64 MOV instruction.
func (l *lifter) liftInstMOV() error {
	dst, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := l.operand(l.inst.Args[1], dst.typ())
	if err != nil {
		return errors.WithStack(err)
	}
	l.writeReg(dst, v)
	return nil
}

// liftInstMOVWide lifts the given AArch64 MOVZ, MOVN or MOVK instruction.
func (l *lifter) liftInstMOVWide() error {
	dst, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	is, ok := l.inst.Args[1].(arm64asm.ImmShift)
	if !ok {
		return errors.Errorf("invalid %v immediate operand %v at 0x%X", l.inst.Op, l.inst.Args[1], l.addr)
	}
	imm, shift, err := parseImmShift(is)
	if err != nil {
		return errors.WithStack(err)
	}
	t := dst.typ()
	switch l.inst.Op {
	case arm64asm.MOVZ:
		l.writeReg(dst, l.imm(t, imm<<shift))
	case arm64asm.MOVN:
		l.writeReg(dst, l.imm(t, ^(imm<<shift)))
	case arm64asm.MOVK:
		old := l.readReg(dst)
		kept := l.emit(ir.NewBinop(ir.OpAnd, old, l.imm(t, ^(uint64(0xFFFF)<<shift))))
		l.writeReg(dst, l.emit(ir.NewBinop(ir.OpOr, kept, l.imm(t, imm<<shift))))
	}
	return nil
}

// arithOps maps from data processing instruction to binary operator.
var arithOps = map[arm64asm.Op]ir.Operator{
	arm64asm.ADD:  ir.OpAdd,
	arm64asm.ADDS: ir.OpAdd,
	arm64asm.CMN:  ir.OpAdd,
	arm64asm.SUB:  ir.OpSub,
	arm64asm.SUBS: ir.OpSub,
	arm64asm.CMP:  ir.OpSub,
	arm64asm.AND:  ir.OpAnd,
	arm64asm.ANDS: ir.OpAnd,
	arm64asm.TST:  ir.OpAnd,
	arm64asm.ORR:  ir.OpOr,
	arm64asm.EOR:  ir.OpXor,
}

// liftInstArith lifts the given AArch64 data processing instruction computing
// dst = x op y. A nil dst only sets the status flags.
func (l *lifter) liftInstArith(dstArg, xArg, yArg arm64asm.Arg) error {
	xr, err := decodeReg(xArg)
	if err != nil {
		return errors.WithStack(err)
	}
	t := xr.typ()
	var dst gpr
	if dstArg != nil {
		if dst, err = decodeReg(dstArg); err != nil {
			return errors.WithStack(err)
		}
		t = dst.typ()
	}
	x := l.extend(l.readReg(xr), t, false)
	y, err := l.operand(yArg, t)
	if err != nil {
		return errors.WithStack(err)
	}
	r := l.emit(ir.NewBinop(arithOps[l.inst.Op], x, y))
	switch l.inst.Op {
	case arm64asm.ADDS, arm64asm.CMN:
		l.setAddFlags(x, y, r)
	case arm64asm.SUBS, arm64asm.CMP:
		l.setSubFlags(x, y, r)
	case arm64asm.ANDS, arm64asm.TST:
		l.setLogicFlags(r)
	}
	if dstArg != nil {
		l.writeReg(dst, r)
	}
	return nil
}

// liftInstADR lifts the given AArch64 ADR or ADRP instruction.
func (l *lifter) liftInstADR() error {
	dst, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	rel, ok := l.inst.Args[1].(arm64asm.PCRel)
	if !ok {
		return errors.Errorf("invalid %v operand %v at 0x%X", l.inst.Op, l.inst.Args[1], l.addr)
	}
	base := l.addr
	if l.inst.Op == arm64asm.ADRP {
		base &^= 0xFFF
	}
	l.writeReg(dst, l.imm(ir.TypeI64, base+uint64(int64(rel))))
	return nil
}

// liftInstCSEL lifts the given AArch64 CSEL instruction.
func (l *lifter) liftInstCSEL() error {
	dst, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	x, err := l.operand(l.inst.Args[1], dst.typ())
	if err != nil {
		return errors.WithStack(err)
	}
	y, err := l.operand(l.inst.Args[2], dst.typ())
	if err != nil {
		return errors.WithStack(err)
	}
	c, ok := l.inst.Args[3].(arm64asm.Cond)
	if !ok {
		return errors.Errorf("invalid CSEL condition %v at 0x%X", l.inst.Args[3], l.addr)
	}
	l.writeReg(dst, l.emit(ir.NewSelect(l.cond(c), x, y)))
	return nil
}

// liftInstCSET lifts the given AArch64 CSET instruction.
func (l *lifter) liftInstCSET() error {
	dst, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	c, ok := l.inst.Args[1].(arm64asm.Cond)
	if !ok {
		return errors.Errorf("invalid CSET condition %v at 0x%X", l.inst.Args[1], l.addr)
	}
	l.writeReg(dst, l.emit(ir.NewCastZX(dst.typ(), l.cond(c))))
	return nil
}

// ### [ Loads and stores ] ####################################################

// liftInstLoadStore lifts the given AArch64 LDR or STR instruction.
func (l *lifter) liftInstLoadStore() error {
	rt, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	addr, writeback, err := l.memAddr(l.inst.Args[1])
	if err != nil {
		return errors.WithStack(err)
	}
	l.transfer(rt, addr)
	writeback()
	return nil
}

// liftInstLoadStorePair lifts the given AArch64 LDP or STP instruction.
func (l *lifter) liftInstLoadStorePair() error {
	rt1, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	rt2, err := decodeReg(l.inst.Args[1])
	if err != nil {
		return errors.WithStack(err)
	}
	addr, writeback, err := l.memAddr(l.inst.Args[2])
	if err != nil {
		return errors.WithStack(err)
	}
	l.transfer(rt1, addr)
	size := l.imm(ir.TypeI64, uint64(rt1.bits/8))
	l.transfer(rt2, l.emit(ir.NewBinop(ir.OpAdd, addr, size)))
	writeback()
	return nil
}

// transfer loads rt from or stores rt to the given address, depending on the
// instruction.
func (l *lifter) transfer(rt gpr, addr ir.Value) {
	ptr := l.emit(ir.NewBitcast(ir.TypePointer, addr))
	switch l.inst.Op {
	case arm64asm.LDR, arm64asm.LDP:
		l.writeReg(rt, l.emit(ir.NewLoad(rt.typ(), ptr)))
	default:
		l.emit(ir.NewStore(ptr, l.readReg(rt)))
	}
}

// memAddr returns the address of the given memory operand, and a function
// performing the base register update of pre-index and post-index addressing.
func (l *lifter) memAddr(arg arm64asm.Arg) (ir.Value, func(), error) {
	switch arg := arg.(type) {
	case arm64asm.PCRel:
		addr := l.imm(ir.TypeI64, l.addr+uint64(int64(arg)))
		return addr, func() {}, nil
	case arm64asm.MemImmediate:
		base, err := decodeReg(arg.Base)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		off, err := parseMemOffset(arg)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		b := l.readReg(base)
		sum := b
		if off != 0 {
			sum = l.emit(ir.NewBinop(ir.OpAdd, b, l.imm(ir.TypeI64, uint64(off))))
		}
		switch arg.Mode {
		case arm64asm.AddrOffset:
			return sum, func() {}, nil
		case arm64asm.AddrPreIndex:
			return sum, func() { l.writeReg(base, sum) }, nil
		case arm64asm.AddrPostIndex:
			return b, func() { l.writeReg(base, sum) }, nil
		}
	}
	return nil, nil, errors.Errorf("support for memory operand %v not yet implemented; unable to lift instruction at 0x%X", arg, l.addr)
}

// ### [ Control flow ] ########################################################

// next returns the address of the instruction following the instruction.
func (l *lifter) next() uint64 {
	return l.addr + instLen
}

// target returns the target address of the given branch operand.
func (l *lifter) target(arg arm64asm.Arg) (ir.Value, error) {
	if rel, ok := arg.(arm64asm.PCRel); ok {
		return ir.Const(ir.NewPointer(l.addr + uint64(int64(rel)))), nil
	}
	g, err := decodeReg(arg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return l.emit(ir.NewBitcast(ir.TypePointer, l.readReg(g))), nil
}

// liftInstB lifts the given AArch64 B or B.cond instruction.
func (l *lifter) liftInstB() error {
	if c, ok := l.inst.Args[0].(arm64asm.Cond); ok {
		target, err := l.target(l.inst.Args[1])
		if err != nil {
			return errors.WithStack(err)
		}
		l.emit(ir.NewXjs(l.cond(c), target, ir.Const(ir.NewPointer(l.next()))))
		return nil
	}
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	l.emit(ir.NewXjmp(target))
	return nil
}

// liftInstBL lifts the given AArch64 BL or BLR instruction. The callee is
// assumed to return to the following instruction.
func (l *lifter) liftInstBL() error {
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	l.writeReg(gpr{id: 30, bits: 64}, l.imm(ir.TypeI64, l.next()))
	l.emit(ir.NewCall(target))
	return nil
}

// liftInstBR lifts the given AArch64 BR instruction.
func (l *lifter) liftInstBR() error {
	target, err := l.target(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	l.emit(ir.NewXjmp(target))
	return nil
}

// liftInstRET lifts the given AArch64 RET instruction.
func (l *lifter) liftInstRET() error {
	var arg arm64asm.Arg = arm64asm.X30
	if l.inst.Args[0] != nil {
		arg = l.inst.Args[0]
	}
	target, err := l.target(arg)
	if err != nil {
		return errors.WithStack(err)
	}
	l.emit(ir.NewRet(target))
	return nil
}

// liftInstCBZ lifts the given AArch64 CBZ or CBNZ instruction.
func (l *lifter) liftInstCBZ() error {
	g, err := decodeReg(l.inst.Args[0])
	if err != nil {
		return errors.WithStack(err)
	}
	target, err := l.target(l.inst.Args[1])
	if err != nil {
		return errors.WithStack(err)
	}
	op := ir.OpEq
	if l.inst.Op == arm64asm.CBNZ {
		op = ir.OpNe
	}
	cond := l.emit(ir.NewCmp(op, l.readReg(g), l.imm(g.typ(), 0)))
	l.emit(ir.NewXjs(cond, target, ir.Const(ir.NewPointer(l.next()))))
	return nil
}

// ### [ Operands ] ############################################################

// emit appends inst to the basic block.
func (l *lifter) emit(inst *ir.Instruction) *ir.Instruction {
	return l.b.Append(inst)
}

// imm returns an integer constant of type t.
func (l *lifter) imm(t ir.Type, v uint64) ir.Value {
	return ir.Const(ir.NewUint(t, v))
}

// extend converts the integer v to type t, sign-extending if signed is set
// and zero-extending or truncating otherwise.
func (l *lifter) extend(v ir.Value, t ir.Type, signed bool) ir.Value {
	switch {
	case v.Type() == t:
		return v
	case signed && v.Type().Bits() < t.Bits():
		return l.emit(ir.NewCastSX(t, v))
	}
	return l.emit(ir.NewCastZX(t, v))
}

// operand returns the value of the given register, immediate or shifted
// register argument as type t.
func (l *lifter) operand(arg arm64asm.Arg, t ir.Type) (ir.Value, error) {
	switch arg := arg.(type) {
	case arm64asm.Reg, arm64asm.RegSP:
		g, err := decodeReg(arg)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return l.extend(l.readReg(g), t, false), nil
	case arm64asm.Imm:
		return l.imm(t, uint64(arg.Imm)), nil
	case arm64asm.Imm64:
		return l.imm(t, arg.Imm), nil
	case arm64asm.ImmShift:
		imm, shift, err := parseImmShift(arg)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return l.imm(t, imm<<shift), nil
	case arm64asm.RegExtshiftAmount:
		return l.shiftedReg(arg, t)
	}
	return nil, errors.Errorf("support for instruction argument %T not yet implemented; unable to lift instruction at 0x%X", arg, l.addr)
}

// shiftOps maps from register shift to binary operator.
var shiftOps = map[string]ir.Operator{
	"LSL": ir.OpShl,
	"LSR": ir.OpLShr,
	"ASR": ir.OpAShr,
	"ROR": ir.OpRotr,
}

// shiftedReg returns the value of the given shifted or extended register
// argument as type t.
func (l *lifter) shiftedReg(arg arm64asm.RegExtshiftAmount, t ir.Type) (ir.Value, error) {
	sr, err := parseShiftedReg(arg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	g, err := decodeReg(sr.reg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	v := l.readReg(g)
	op := ir.OpShl
	switch kind := sr.kind; {
	case kind == "":
		v = l.extend(v, t, false)
	case shiftOps[kind] != ir.OpNone:
		v = l.extend(v, t, false)
		op = shiftOps[kind]
	case len(kind) == 4 && (kind[:3] == "UXT" || kind[:3] == "SXT"):
		// Extended register; UXTB, UXTH, UXTW, UXTX and signed variants.
		bits := map[byte]int{'B': 8, 'H': 16, 'W': 32, 'X': 64}[kind[3]]
		v = l.extend(v, ir.IntType(bits), false)
		v = l.extend(v, t, kind[0] == 'S')
	default:
		return nil, errors.Errorf("support for register shift %q not yet implemented; unable to lift instruction at 0x%X", kind, l.addr)
	}
	if sr.amount != 0 {
		v = l.emit(ir.NewBinop(op, v, l.imm(t, uint64(sr.amount))))
	}
	return v, nil
}

// ### [ Helper functions ] ####################################################

// parseImmShift returns the immediate and left shift amount of the given
// shifted immediate, formatted as "#0x10" or "#0x1, LSL #12".
func parseImmShift(is arm64asm.ImmShift) (uint64, uint, error) {
	s := is.String()
	immStr, shiftStr, hasShift := strings.Cut(s, ", ")
	imm, err := strconv.ParseUint(strings.TrimPrefix(immStr, "#"), 0, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid immediate %q", s)
	}
	if !hasShift {
		return imm, 0, nil
	}
	kind, amount, ok := strings.Cut(shiftStr, " #")
	if !ok || kind != "LSL" {
		return 0, 0, errors.Errorf("support for immediate shift %q not yet implemented", s)
	}
	n, err := strconv.ParseUint(amount, 10, 8)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "invalid immediate shift %q", s)
	}
	return imm, uint(n), nil
}

// shiftedRegister is a register argument with an optional shift or extension.
type shiftedRegister struct {
	reg arm64asm.Reg
	// Shift or extension; LSL, UXTW, etc. Empty if absent.
	kind string
	// Shift amount.
	amount uint
}

// parseShiftedReg parses the given shifted register argument, formatted as
// "X2", "X2, LSL #3" or "W2, SXTW".
func parseShiftedReg(arg arm64asm.RegExtshiftAmount) (shiftedRegister, error) {
	s := arg.String()
	name, shift, hasShift := strings.Cut(s, ", ")
	reg, err := parseReg(name)
	if err != nil {
		return shiftedRegister{}, errors.WithStack(err)
	}
	sr := shiftedRegister{reg: reg}
	if !hasShift {
		return sr, nil
	}
	kind, amount, hasAmount := strings.Cut(shift, " #")
	sr.kind = kind
	if hasAmount {
		n, err := strconv.ParseUint(amount, 10, 8)
		if err != nil {
			return shiftedRegister{}, errors.Wrapf(err, "invalid shift amount %q", s)
		}
		sr.amount = uint(n)
	}
	return sr, nil
}

// parseReg parses the given general purpose register name.
func parseReg(name string) (arm64asm.Reg, error) {
	switch name {
	case "WZR":
		return arm64asm.WZR, nil
	case "XZR":
		return arm64asm.XZR, nil
	}
	if len(name) >= 2 && (name[0] == 'W' || name[0] == 'X') {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 && n <= 30 {
			if name[0] == 'W' {
				return arm64asm.W0 + arm64asm.Reg(n), nil
			}
			return arm64asm.X0 + arm64asm.Reg(n), nil
		}
	}
	return 0, errors.Wrapf(errInvalidReg, "register %q", name)
}

// parseMemOffset returns the immediate offset of the given memory operand,
// formatted as "[X1]", "[X1,#8]", "[SP,#-16]!" or "[X1],#8".
func parseMemOffset(m arm64asm.MemImmediate) (int64, error) {
	s := m.String()
	i := strings.IndexByte(s, '#')
	if i < 0 {
		return 0, nil
	}
	num := strings.TrimRight(s[i+1:], "]!")
	off, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid memory offset %q", s)
	}
	return off, nil
}
