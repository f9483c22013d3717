// Package x86 implements decoding and lifting of x86 machine code in 32-bit
// and 64-bit mode.
package x86

import (
	"encoding/hex"
	"io"
	"log"
	"os"
	"strings"

	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/ir"
)

var (
	// dbg is a logger which logs debug messages with "x86:" prefix to standard
	// error.
	dbg = log.New(os.Stderr, term.MagentaBold("x86:")+" ", 0)
)

// SetLogOutput sets the output destination of debug messages.
func SetLogOutput(w io.Writer) {
	dbg.SetOutput(w)
}

func init() {
	arch.Register(New(32))
	arch.Register(New(64))
}

// Arch is the x86 architecture in a given processor mode.
type Arch struct {
	// Processor mode (32 or 64-bit execution mode).
	mode int
}

// New returns the x86 architecture in the given processor mode (32 or 64).
func New(mode int) *Arch {
	return &Arch{mode: mode}
}

// ID returns the identifier tagging IR lifted from the architecture.
func (a *Arch) ID() ir.ArchID {
	if a.mode == 64 {
		return arch.X86_64
	}
	return arch.X86
}

// Name returns the name of the architecture.
func (a *Arch) Name() string {
	if a.mode == 64 {
		return "x86_64"
	}
	return "x86"
}

// RegName returns the name of the given register.
func (a *Arch) RegName(reg uint32) string {
	if name, ok := flagNames[reg]; ok {
		return name
	}
	return strings.ToLower(x86asm.Reg(reg).String())
}

// Disassemble decodes the leading bytes in code as a single x86 instruction,
// located at the address va.
func (a *Arch) Disassemble(code []byte, va uint64) (*arch.Inst, error) {
	inst, err := x86asm.Decode(code, a.mode)
	if err != nil {
		end := min(len(code), 16)
		dbg.Printf("unable to decode instruction at 0x%X:\n%s", va, hex.Dump(code[:end]))
		return nil, errors.Errorf("unable to decode instruction at address 0x%X; %v", va, err)
	}
	return &arch.Inst{Addr: va, Len: inst.Len, Data: inst}, nil
}

// Lift appends IR instructions implementing the given x86 instruction to b.
func (a *Arch) Lift(b *ir.BasicBlock, inst *arch.Inst) error {
	asmInst, ok := inst.Data.(x86asm.Inst)
	if !ok {
		return errors.Errorf("invalid instruction type %T; expected x86asm.Inst", inst.Data)
	}
	l := &lifter{arch: a, b: b, inst: asmInst, addr: inst.Addr}
	mark := b.Back()
	err := l.liftInst()
	if errors.Cause(err) == errInvalidReg {
		dbg.Printf("%v", err)
		b.Truncate(mark)
		b.Append(ir.NewTrap("undefined instruction"))
		return nil
	}
	return err
}

// wordType returns the type of general purpose registers.
func (a *Arch) wordType() ir.Type {
	if a.mode == 64 {
		return ir.TypeI64
	}
	return ir.TypeI32
}

// dump logs the decoded form of the given instruction.
func dump(inst x86asm.Inst) {
	dbg.Print(pretty.Sprint(inst))
}
