package x86

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/mewmew/lifter/ir"
)

// Status flag registers, numbered past the x86asm register set.
const (
	regCF uint32 = 0x100 + iota
	regPF
	regZF
	regSF
	regOF
)

// flagNames maps from status flag register to register name.
var flagNames = map[uint32]string{
	regCF: "cf",
	regPF: "pf",
	regZF: "zf",
	regSF: "sf",
	regOF: "of",
}

// errInvalidReg is returned for register operands outside of the register
// model; such instructions are lifted as undefined instructions.
var errInvalidReg = errors.New("invalid register")

// regSlot locates a general purpose (sub-)register within its full-width
// register.
type regSlot struct {
	// Full-width register; RAX through R15 in 64-bit mode and EAX through EDI
	// in 32-bit mode.
	full x86asm.Reg
	// Width of the register in bits.
	bits int
	// Bit offset of the register within the full-width register; 8 for AH,
	// CH, DH and BH.
	shift int
}

// slot returns the location of the general purpose register r.
func (a *Arch) slot(r x86asm.Reg) (regSlot, error) {
	var i int
	s := regSlot{}
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		i = int(r - x86asm.AL)
		s.bits = 8
		switch {
		case i >= 4 && i < 8:
			// AH, CH, DH and BH.
			i -= 4
			s.shift = 8
		case i >= 8:
			// SPL, BPL, SIL, DIL and R8B through R15B.
			if a.mode != 64 {
				return regSlot{}, errors.Wrapf(errInvalidReg, "register %v in %d-bit mode", r, a.mode)
			}
			i -= 4
		}
	case r >= x86asm.AX && r <= x86asm.R15W:
		i = int(r - x86asm.AX)
		s.bits = 16
	case r >= x86asm.EAX && r <= x86asm.R15L:
		i = int(r - x86asm.EAX)
		s.bits = 32
	case r >= x86asm.RAX && r <= x86asm.R15:
		i = int(r - x86asm.RAX)
		s.bits = 64
	default:
		return regSlot{}, errors.Wrapf(errInvalidReg, "register %v", r)
	}
	if a.mode != 64 && (i >= 8 || s.bits == 64) {
		return regSlot{}, errors.Wrapf(errInvalidReg, "register %v in %d-bit mode", r, a.mode)
	}
	if a.mode == 64 {
		s.full = x86asm.RAX + x86asm.Reg(i)
	} else {
		s.full = x86asm.EAX + x86asm.Reg(i)
	}
	return s, nil
}

// stackReg returns the stack pointer register.
func (a *Arch) stackReg() x86asm.Reg {
	if a.mode == 64 {
		return x86asm.RSP
	}
	return x86asm.ESP
}

// frameReg returns the frame pointer register.
func (a *Arch) frameReg() x86asm.Reg {
	if a.mode == 64 {
		return x86asm.RBP
	}
	return x86asm.EBP
}

// regType returns the type of the general purpose register r.
func (l *lifter) regType(r x86asm.Reg) (ir.Type, error) {
	s, err := l.arch.slot(r)
	if err != nil {
		return ir.TypeNone, errors.WithStack(err)
	}
	return ir.IntType(s.bits), nil
}

// readReg reads the general purpose register r.
func (l *lifter) readReg(r x86asm.Reg) (ir.Value, error) {
	s, err := l.arch.slot(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	word := l.arch.wordType()
	var v ir.Value = l.emit(ir.NewReadReg(word, uint32(s.full)))
	if s.bits == word.Bits() {
		return v, nil
	}
	if s.shift != 0 {
		v = l.emit(ir.NewBinop(ir.OpLShr, v, l.word(uint64(s.shift))))
	}
	return l.emit(ir.NewCastZX(ir.IntType(s.bits), v)), nil
}

// readWord reads the general purpose register r, zero-extended to the word
// size.
func (l *lifter) readWord(r x86asm.Reg) (ir.Value, error) {
	v, err := l.readReg(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return l.extend(v, l.arch.wordType()), nil
}

// writeReg writes v to the general purpose register r. Writes to 32-bit
// registers in 64-bit mode clear the upper half of the full-width register;
// writes to 8-bit and 16-bit registers preserve the remaining bits.
func (l *lifter) writeReg(r x86asm.Reg, v ir.Value) error {
	s, err := l.arch.slot(r)
	if err != nil {
		return errors.WithStack(err)
	}
	word := l.arch.wordType()
	switch {
	case s.bits == word.Bits():
		l.emit(ir.NewWriteReg(uint32(s.full), v))
	case s.bits == 32:
		l.emit(ir.NewWriteReg(uint32(s.full), l.extend(v, word)))
	default:
		old := l.emit(ir.NewReadReg(word, uint32(s.full)))
		keep := ^((uint64(1)<<uint(s.bits) - 1) << uint(s.shift))
		kept := l.emit(ir.NewBinop(ir.OpAnd, old, l.word(keep)))
		var ext ir.Value = l.extend(v, word)
		if s.shift != 0 {
			ext = l.emit(ir.NewBinop(ir.OpShl, ext, l.word(uint64(s.shift))))
		}
		l.emit(ir.NewWriteReg(uint32(s.full), l.emit(ir.NewBinop(ir.OpOr, kept, ext))))
	}
	return nil
}

// readFlag reads the given status flag.
func (l *lifter) readFlag(flag uint32) ir.Value {
	return l.emit(ir.NewReadReg(ir.TypeI1, flag))
}

// writeFlag writes v to the given status flag.
func (l *lifter) writeFlag(flag uint32, v ir.Value) {
	l.emit(ir.NewWriteReg(flag, v))
}
