// Package arm64 implements decoding and lifting of AArch64 machine code.
package arm64

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/ir"
)

var (
	// dbg is a logger which logs debug messages with "arm64:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("arm64:")+" ", 0)
)

// SetLogOutput sets the output destination of debug messages.
func SetLogOutput(w io.Writer) {
	dbg.SetOutput(w)
}

func init() {
	arch.Register(New())
}

// instLen is the length in bytes of every AArch64 instruction.
const instLen = 4

// Arch is the AArch64 architecture.
type Arch struct{}

// New returns the AArch64 architecture.
func New() *Arch {
	return &Arch{}
}

// ID returns the identifier tagging IR lifted from the architecture.
func (a *Arch) ID() ir.ArchID { return arch.ARM64 }

// Name returns the name of the architecture.
func (a *Arch) Name() string { return "arm64" }

// RegName returns the name of the given register.
func (a *Arch) RegName(reg uint32) string {
	if name, ok := flagNames[reg]; ok {
		return name
	}
	if reg == regSP {
		return "sp"
	}
	return fmt.Sprintf("x%d", reg)
}

// Disassemble decodes the leading four bytes in code as a single AArch64
// instruction, located at the address va.
func (a *Arch) Disassemble(code []byte, va uint64) (*arch.Inst, error) {
	inst, err := arm64asm.Decode(code)
	if err != nil {
		dbg.Printf("unable to decode instruction at 0x%X:\n%s", va, hex.Dump(code[:min(len(code), instLen)]))
		return nil, errors.Errorf("unable to decode instruction at address 0x%X; %v", va, err)
	}
	return &arch.Inst{Addr: va, Len: instLen, Data: inst}, nil
}

// Lift appends IR instructions implementing the given AArch64 instruction to
// b.
func (a *Arch) Lift(b *ir.BasicBlock, inst *arch.Inst) error {
	asmInst, ok := inst.Data.(arm64asm.Inst)
	if !ok {
		return errors.Errorf("invalid instruction type %T; expected arm64asm.Inst", inst.Data)
	}
	l := &lifter{b: b, inst: asmInst, addr: inst.Addr}
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

// dump logs the decoded form of the given instruction.
func dump(inst arm64asm.Inst) {
	dbg.Print(pretty.Sprint(inst))
}
