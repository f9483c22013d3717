// Package lower translates lifted routines into LLVM IR.
//
// Machine registers are modelled as global variables; register reads and
// writes lower to loads and stores of the 64-bit global of the register. IR
// operators lower to native LLVM instructions or intrinsics where these exist,
// and to calls to external helper functions named "__op.<operator>.<type>"
// otherwise.
package lower

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	llvm "github.com/llir/llvm/ir"

	"github.com/mewmew/lifter/ir"
)

var (
	// dbg is a logger which logs debug messages with "lower:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("lower:")+" ", 0)
)

// SetLogOutput sets the output destination of debug messages.
func SetLogOutput(w io.Writer) {
	dbg.SetOutput(w)
}

// Lowerer translates lifted routines into functions of an LLVM IR module.
type Lowerer struct {
	// LLVM IR module.
	Module *llvm.Module
	// Names returns the name of the function at the given RVA; optional.
	Names func(rva uint64) (string, bool)

	// Maps from function RVA to LLVM IR function.
	funcs map[uint64]*llvm.Func
	// Maps from register to the global variable holding it.
	regs map[regKey]*llvm.Global
	// Maps from name to declared intrinsic or helper function.
	decls map[string]*llvm.Func
}

// regKey identifies the global variable of a register. Registers are stored
// as i64 unless accessed as a wider type.
type regKey struct {
	arch ir.ArchID
	reg  uint32
	typ  ir.Type
}

// New returns a new lowerer into an empty LLVM IR module.
func New() *Lowerer {
	return &Lowerer{
		Module: llvm.NewModule(),
		funcs:  make(map[uint64]*llvm.Func),
		regs:   make(map[regKey]*llvm.Global),
		decls:  make(map[string]*llvm.Func),
	}
}

// Routine lowers the given routine into a new LLVM IR module.
func Routine(r *ir.Routine) (*llvm.Module, error) {
	l := New()
	if _, err := l.Lower(r); err != nil {
		return nil, errors.WithStack(err)
	}
	return l.Module, nil
}

// Lower lowers the given routine into a function definition of the module.
func (l *Lowerer) Lower(r *ir.Routine) (*llvm.Func, error) {
	if r.Entry == nil {
		return nil, errors.Errorf("unable to lower routine at 0x%X; missing entry block", r.IP)
	}
	f := l.function(r.IP)
	if len(f.Blocks) > 0 {
		return nil, errors.Errorf("function %q at 0x%X already lowered", f.Name(), r.IP)
	}
	dbg.Printf("lowering routine at 0x%X to %q", r.IP, f.Name())
	fl := newFuncLowerer(l, f)
	if err := fl.lowerRoutine(r); err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

// function returns the LLVM IR function of the routine at the given RVA,
// declaring it if not present.
func (l *Lowerer) function(rva uint64) *llvm.Func {
	if f, ok := l.funcs[rva]; ok {
		return f
	}
	name := fmt.Sprintf("func_%08X", rva)
	if l.Names != nil {
		if sym, ok := l.Names(rva); ok {
			name = sym
		}
	}
	f := l.Module.NewFunc(name, types.Void)
	l.funcs[rva] = f
	return f
}

// register returns the global variable holding the given register when
// accessed as type t, and the type it is stored as.
func (l *Lowerer) register(arch ir.ArchID, reg uint32, t ir.Type) (*llvm.Global, ir.Type) {
	st := storageType(t)
	key := regKey{arch: arch, reg: reg, typ: st}
	if g, ok := l.regs[key]; ok {
		return g, st
	}
	name := arch.RegName(reg)
	if st != ir.TypeI64 {
		name = fmt.Sprintf("%s.%v", name, st)
	}
	var init constant.Constant = constant.NewZeroInitializer(llType(st))
	if st == ir.TypeI64 {
		init = constant.NewInt(types.I64, 0)
	}
	g := l.Module.NewGlobalDef(name, init)
	l.regs[key] = g
	return g, st
}

// declare returns the external function of the given name and signature,
// declaring it if not present.
func (l *Lowerer) declare(name string, ret types.Type, params ...types.Type) *llvm.Func {
	if f, ok := l.decls[name]; ok {
		return f
	}
	var ps []*llvm.Param
	for _, param := range params {
		ps = append(ps, llvm.NewParam("", param))
	}
	f := l.Module.NewFunc(name, ret, ps...)
	l.decls[name] = f
	return f
}

// storageType returns the type of the global variable holding registers
// accessed as type t.
func storageType(t ir.Type) ir.Type {
	if t.Bits() <= 64 && !t.IsVector() {
		return ir.TypeI64
	}
	return t
}

// llType returns the LLVM IR type of the given IR type.
func llType(t ir.Type) types.Type {
	switch t {
	case ir.TypeI1:
		return types.I1
	case ir.TypeI8:
		return types.I8
	case ir.TypeI16:
		return types.I16
	case ir.TypeI32:
		return types.I32
	case ir.TypeI64:
		return types.I64
	case ir.TypeI128:
		return types.I128
	case ir.TypeF32:
		return types.Float
	case ir.TypeF64:
		return types.Double
	case ir.TypeF80:
		return types.X86_FP80
	case ir.TypePointer:
		return types.I8Ptr
	case ir.TypeNone:
		return types.Void
	}
	if t.IsVector() {
		return types.NewVector(uint64(t.Lanes()), llType(t.Lane()))
	}
	panic(fmt.Errorf("support for type %v not yet implemented", t))
}
