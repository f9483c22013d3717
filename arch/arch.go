// Package arch defines the interface between the lifting pipeline and the
// instruction set architectures it lifts, and a registry of the supported
// architectures.
package arch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mewmew/lifter/ir"
)

// Architecture identifiers.
const (
	X86 ir.ArchID = iota + 1
	X86_64
	ARM64
)

// ErrUnknownArch is returned by Lookup for unregistered architecture names.
var ErrUnknownArch = errors.New("unknown architecture")

// Inst is a decoded machine instruction.
type Inst struct {
	// Address (VA) of the instruction.
	Addr uint64
	// Length of the instruction in bytes.
	Len int
	// Architecture specific form of the instruction.
	Data fmt.Stringer
}

// String returns the assembly form of the instruction.
func (inst *Inst) String() string {
	if inst.Data == nil {
		return "<invalid>"
	}
	return inst.Data.String()
}

// Architecture decodes and lifts machine instructions of an instruction set.
// Implementations must be stateless; an architecture is shared by all
// concurrent lifts.
type Architecture interface {
	// ID returns the identifier tagging IR lifted from the architecture.
	ID() ir.ArchID
	// Name returns the name of the architecture.
	Name() string
	// RegName returns the name of the given register.
	RegName(reg uint32) string
	// Disassemble decodes the machine instruction at the start of code,
	// located at the address va.
	Disassemble(code []byte, va uint64) (*Inst, error)
	// Lift appends IR instructions implementing inst to the block b. A failure
	// to lift the instruction is reported as an error; b may hold a partial
	// translation in that case.
	Lift(b *ir.BasicBlock, inst *Inst) error
}

var (
	mu sync.RWMutex
	// Maps from architecture name to architecture.
	archs = make(map[string]Architecture)
)

// Register registers the architecture under its name, and its register names
// for printing IR.
func Register(a Architecture) {
	mu.Lock()
	defer mu.Unlock()
	archs[a.Name()] = a
	ir.RegisterArch(a.ID(), a.Name(), a.RegName)
}

// Lookup returns the architecture registered under the given name.
func Lookup(name string) (Architecture, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := archs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownArch, "lookup %q", name)
	}
	return a, nil
}

// Names returns the sorted names of the registered architectures.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	var names []string
	for name := range archs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
