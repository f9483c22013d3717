package x86

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/mewmew/lifter/ir"
)

// setResultFlags sets ZF, SF and PF based on the result r.
func (l *lifter) setResultFlags(r ir.Value) {
	zero := ir.Const(ir.NewUint(r.Type(), 0))
	l.writeFlag(regZF, l.emit(ir.NewCmp(ir.OpEq, r, zero)))
	l.writeFlag(regSF, l.emit(ir.NewCmp(ir.OpSlt, r, zero)))
	// PF is set if the low byte of the result has an even number of set bits.
	low := r
	if r.Type() != ir.TypeI8 {
		low = l.emit(ir.NewCastZX(ir.TypeI8, r))
	}
	n := l.emit(ir.NewUnop(ir.OpPopcnt, low))
	odd := l.emit(ir.NewBinop(ir.OpAnd, n, ir.Const(ir.NewUint(ir.TypeI8, 1))))
	l.writeFlag(regPF, l.emit(ir.NewCmp(ir.OpEq, odd, ir.Const(ir.NewUint(ir.TypeI8, 0)))))
}

// setAddFlags sets the status flags of r = x + y. CF is left untouched unless
// carry is set.
func (l *lifter) setAddFlags(x, y, r ir.Value, carry bool) {
	l.setResultFlags(r)
	if carry {
		l.writeFlag(regCF, l.emit(ir.NewCmp(ir.OpUlt, r, x)))
	}
	// Signed overflow if both operands have the same sign and the sign of the
	// result differs.
	xr := l.emit(ir.NewBinop(ir.OpXor, x, r))
	yr := l.emit(ir.NewBinop(ir.OpXor, y, r))
	l.writeFlag(regOF, l.isNeg(l.emit(ir.NewBinop(ir.OpAnd, xr, yr))))
}

// setSubFlags sets the status flags of r = x - y. CF is left untouched unless
// carry is set.
func (l *lifter) setSubFlags(x, y, r ir.Value, carry bool) {
	l.setResultFlags(r)
	if carry {
		l.writeFlag(regCF, l.emit(ir.NewCmp(ir.OpUlt, x, y)))
	}
	// Signed overflow if the operands have different signs and the sign of the
	// result differs from x.
	xy := l.emit(ir.NewBinop(ir.OpXor, x, y))
	xr := l.emit(ir.NewBinop(ir.OpXor, x, r))
	l.writeFlag(regOF, l.isNeg(l.emit(ir.NewBinop(ir.OpAnd, xy, xr))))
}

// setLogicFlags sets the status flags of the bitwise operation result r.
func (l *lifter) setLogicFlags(r ir.Value) {
	l.setResultFlags(r)
	l.writeFlag(regCF, ir.Const(ir.NewBool(false)))
	l.writeFlag(regOF, ir.Const(ir.NewBool(false)))
}

// clobberFlags marks the given status flags as undefined.
func (l *lifter) clobberFlags(flags ...uint32) {
	for _, flag := range flags {
		l.writeFlag(flag, l.emit(ir.NewUndef(ir.TypeI1)))
	}
}

// isNeg returns whether the signed integer v is negative.
func (l *lifter) isNeg(v ir.Value) ir.Value {
	return l.emit(ir.NewCmp(ir.OpSlt, v, ir.Const(ir.NewUint(v.Type(), 0))))
}

// Condition codes of Jcc, CMOVcc and SETcc instructions.
type condCode uint8

const (
	ccO condCode = iota
	ccNO
	ccB
	ccAE
	ccE
	ccNE
	ccBE
	ccA
	ccS
	ccNS
	ccP
	ccNP
	ccL
	ccGE
	ccLE
	ccG
)

// condCodes maps from conditional instruction to condition code.
var condCodes = map[x86asm.Op]condCode{
	x86asm.JO: ccO, x86asm.JNO: ccNO, x86asm.JB: ccB, x86asm.JAE: ccAE,
	x86asm.JE: ccE, x86asm.JNE: ccNE, x86asm.JBE: ccBE, x86asm.JA: ccA,
	x86asm.JS: ccS, x86asm.JNS: ccNS, x86asm.JP: ccP, x86asm.JNP: ccNP,
	x86asm.JL: ccL, x86asm.JGE: ccGE, x86asm.JLE: ccLE, x86asm.JG: ccG,

	x86asm.CMOVO: ccO, x86asm.CMOVNO: ccNO, x86asm.CMOVB: ccB, x86asm.CMOVAE: ccAE,
	x86asm.CMOVE: ccE, x86asm.CMOVNE: ccNE, x86asm.CMOVBE: ccBE, x86asm.CMOVA: ccA,
	x86asm.CMOVS: ccS, x86asm.CMOVNS: ccNS, x86asm.CMOVP: ccP, x86asm.CMOVNP: ccNP,
	x86asm.CMOVL: ccL, x86asm.CMOVGE: ccGE, x86asm.CMOVLE: ccLE, x86asm.CMOVG: ccG,

	x86asm.SETO: ccO, x86asm.SETNO: ccNO, x86asm.SETB: ccB, x86asm.SETAE: ccAE,
	x86asm.SETE: ccE, x86asm.SETNE: ccNE, x86asm.SETBE: ccBE, x86asm.SETA: ccA,
	x86asm.SETS: ccS, x86asm.SETNS: ccNS, x86asm.SETP: ccP, x86asm.SETNP: ccNP,
	x86asm.SETL: ccL, x86asm.SETGE: ccGE, x86asm.SETLE: ccLE, x86asm.SETG: ccG,
}

// cond returns the boolean value of the given condition code. Odd condition
// codes negate the preceding even one.
func (l *lifter) cond(cc condCode) ir.Value {
	var v ir.Value
	switch cc &^ 1 {
	case ccO:
		v = l.readFlag(regOF)
	case ccB:
		v = l.readFlag(regCF)
	case ccE:
		v = l.readFlag(regZF)
	case ccBE:
		v = l.emit(ir.NewBinop(ir.OpOr, l.readFlag(regCF), l.readFlag(regZF)))
	case ccS:
		v = l.readFlag(regSF)
	case ccP:
		v = l.readFlag(regPF)
	case ccL:
		v = l.emit(ir.NewCmp(ir.OpNe, l.readFlag(regSF), l.readFlag(regOF)))
	case ccLE:
		lt := l.emit(ir.NewCmp(ir.OpNe, l.readFlag(regSF), l.readFlag(regOF)))
		v = l.emit(ir.NewBinop(ir.OpOr, l.readFlag(regZF), lt))
	}
	if cc&1 != 0 {
		v = l.emit(ir.NewUnop(ir.OpNot, v))
	}
	return v
}
