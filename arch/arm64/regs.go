package arm64

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/mewmew/lifter/ir"
)

// Registers X0 through X30 are numbered 0 through 30; the stack pointer is
// register 31. Status flags are numbered past the general purpose registers.
const regSP uint32 = 31

// Status flag registers.
const (
	regN uint32 = 0x100 + iota
	regZ
	regC
	regV
)

// flagNames maps from status flag register to register name.
var flagNames = map[uint32]string{
	regN: "n",
	regZ: "z",
	regC: "c",
	regV: "v",
}

// errInvalidReg is returned for register operands outside of the general
// purpose register file; such instructions are lifted as undefined
// instructions.
var errInvalidReg = errors.New("invalid register")

// gpr is a general purpose register operand.
type gpr struct {
	// Register number.
	id uint32
	// Width of the register in bits; 32 for W registers and 64 for X
	// registers.
	bits int
	// Zero register; reads as zero and discards writes.
	zero bool
}

// decodeReg returns the general purpose register of the given register
// argument. Register 31 of a RegSP argument is the stack pointer, and the zero
// register otherwise.
func decodeReg(arg arm64asm.Arg) (gpr, error) {
	var r arm64asm.Reg
	sp := false
	switch arg := arg.(type) {
	case arm64asm.Reg:
		r = arg
	case arm64asm.RegSP:
		r, sp = arm64asm.Reg(arg), true
	default:
		return gpr{}, errors.Errorf("invalid register argument %T", arg)
	}
	var g gpr
	switch {
	case r >= arm64asm.W0 && r <= arm64asm.W30:
		g = gpr{id: uint32(r - arm64asm.W0), bits: 32}
	case r == arm64asm.WZR:
		g = gpr{id: regSP, bits: 32, zero: !sp}
	case r >= arm64asm.X0 && r <= arm64asm.X30:
		g = gpr{id: uint32(r - arm64asm.X0), bits: 64}
	case r == arm64asm.XZR:
		g = gpr{id: regSP, bits: 64, zero: !sp}
	default:
		return gpr{}, errors.Wrapf(errInvalidReg, "register %v", r)
	}
	return g, nil
}

// typ returns the type of the register.
func (g gpr) typ() ir.Type {
	return ir.IntType(g.bits)
}

// readReg reads the general purpose register g.
func (l *lifter) readReg(g gpr) ir.Value {
	if g.zero {
		return ir.Const(ir.NewUint(g.typ(), 0))
	}
	v := l.emit(ir.NewReadReg(ir.TypeI64, g.id))
	if g.bits == 64 {
		return v
	}
	return l.emit(ir.NewCastZX(g.typ(), v))
}

// writeReg writes v to the general purpose register g. Writes to W registers
// clear the upper half of the X register; writes to the zero register are
// discarded.
func (l *lifter) writeReg(g gpr, v ir.Value) {
	if g.zero {
		return
	}
	if v.Type() != ir.TypeI64 {
		v = l.emit(ir.NewCastZX(ir.TypeI64, v))
	}
	l.emit(ir.NewWriteReg(g.id, v))
}

// readFlag reads the given status flag.
func (l *lifter) readFlag(flag uint32) ir.Value {
	return l.emit(ir.NewReadReg(ir.TypeI1, flag))
}

// writeFlag writes v to the given status flag.
func (l *lifter) writeFlag(flag uint32, v ir.Value) {
	l.emit(ir.NewWriteReg(flag, v))
}

// setNZ sets N and Z based on the result r.
func (l *lifter) setNZ(r ir.Value) {
	zero := ir.Const(ir.NewUint(r.Type(), 0))
	l.writeFlag(regN, l.emit(ir.NewCmp(ir.OpSlt, r, zero)))
	l.writeFlag(regZ, l.emit(ir.NewCmp(ir.OpEq, r, zero)))
}

// setAddFlags sets the status flags of r = x + y.
func (l *lifter) setAddFlags(x, y, r ir.Value) {
	l.setNZ(r)
	l.writeFlag(regC, l.emit(ir.NewCmp(ir.OpUlt, r, x)))
	xr := l.emit(ir.NewBinop(ir.OpXor, x, r))
	yr := l.emit(ir.NewBinop(ir.OpXor, y, r))
	l.writeFlag(regV, l.isNeg(l.emit(ir.NewBinop(ir.OpAnd, xr, yr))))
}

// setSubFlags sets the status flags of r = x - y. C is set if no borrow
// occurs.
func (l *lifter) setSubFlags(x, y, r ir.Value) {
	l.setNZ(r)
	l.writeFlag(regC, l.emit(ir.NewCmp(ir.OpUge, x, y)))
	xy := l.emit(ir.NewBinop(ir.OpXor, x, y))
	xr := l.emit(ir.NewBinop(ir.OpXor, x, r))
	l.writeFlag(regV, l.isNeg(l.emit(ir.NewBinop(ir.OpAnd, xy, xr))))
}

// setLogicFlags sets the status flags of the bitwise operation result r.
func (l *lifter) setLogicFlags(r ir.Value) {
	l.setNZ(r)
	l.writeFlag(regC, ir.Const(ir.NewBool(false)))
	l.writeFlag(regV, ir.Const(ir.NewBool(false)))
}

// isNeg returns whether the signed integer v is negative.
func (l *lifter) isNeg(v ir.Value) ir.Value {
	return l.emit(ir.NewCmp(ir.OpSlt, v, ir.Const(ir.NewUint(v.Type(), 0))))
}

// cond returns the boolean value of the given condition. Odd condition values
// negate the preceding even one, except for AL and NV which always hold.
func (l *lifter) cond(c arm64asm.Cond) ir.Value {
	base := c.Value >> 1
	invert := (c.Value&1 == 1) != c.Invert
	var v ir.Value
	switch base {
	case 0: // EQ
		v = l.readFlag(regZ)
	case 1: // CS
		v = l.readFlag(regC)
	case 2: // MI
		v = l.readFlag(regN)
	case 3: // VS
		v = l.readFlag(regV)
	case 4: // HI
		nz := l.emit(ir.NewUnop(ir.OpNot, l.readFlag(regZ)))
		v = l.emit(ir.NewBinop(ir.OpAnd, l.readFlag(regC), nz))
	case 5: // GE
		v = l.emit(ir.NewCmp(ir.OpEq, l.readFlag(regN), l.readFlag(regV)))
	case 6: // GT
		ge := l.emit(ir.NewCmp(ir.OpEq, l.readFlag(regN), l.readFlag(regV)))
		nz := l.emit(ir.NewUnop(ir.OpNot, l.readFlag(regZ)))
		v = l.emit(ir.NewBinop(ir.OpAnd, nz, ge))
	default:
		return ir.Const(ir.NewBool(true))
	}
	if invert {
		v = l.emit(ir.NewUnop(ir.OpNot, v))
	}
	return v
}
