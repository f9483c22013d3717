package ir

import (
	"fmt"
	"strings"
)

// Instruction is an IR instruction: an opcode, up to two template types
// instantiating generic opcodes and a fixed number of operands. Instructions
// are values; their type is the type of their result.
type Instruction struct {
	valueBase

	opcode    Opcode
	templates [2]Type
	// Operand slots; the backing array is never reallocated since uses embedded
	// in the operands are linked by address.
	operands []Operand

	// Architecture of the originating machine instruction.
	Arch ArchID
	// Address (RVA) of the originating machine instruction.
	IP uint64
	// Sequential name within the owning routine.
	Name uint32
	// Diagnostic message of trap instructions.
	Message string

	block      *BasicBlock
	prev, next *Instruction
}

// newInstruction allocates an instruction with n operands holding "no value".
func newInstruction(op Opcode, n int, templates ...Type) *Instruction {
	inst := &Instruction{
		opcode:   op,
		operands: make([]Operand, n),
	}
	copy(inst.templates[:], templates)
	for i := range inst.operands {
		inst.operands[i].use.user = inst
		inst.operands[i].use.index = i
	}
	return inst
}

// build returns a validated instruction with the given operands.
func build(op Opcode, templates []Type, args ...Value) *Instruction {
	inst := newInstruction(op, len(args), templates...)
	for i, arg := range args {
		inst.operands[i].SetValue(arg)
	}
	check(inst.Validate())
	return inst
}

// ### [ Factories ] ###########################################################

// NewReadReg returns an instruction reading the register reg as type t.
func NewReadReg(t Type, reg uint32) *Instruction {
	return build(OpcodeReadReg, []Type{t}, Const(NewReg(reg)))
}

// NewWriteReg returns an instruction writing v to the register reg.
func NewWriteReg(reg uint32, v Value) *Instruction {
	return build(OpcodeWriteReg, []Type{v.Type()}, Const(NewReg(reg)), v)
}

// NewLoad returns an instruction loading a value of type t from addr.
func NewLoad(t Type, addr Value) *Instruction {
	return build(OpcodeLoad, []Type{t}, addr)
}

// NewStore returns an instruction storing v to addr.
func NewStore(addr, v Value) *Instruction {
	return build(OpcodeStore, []Type{v.Type()}, addr, v)
}

// NewUnop returns an instruction applying the unary operator op to x.
func NewUnop(op Operator, x Value) *Instruction {
	return build(OpcodeUnop, []Type{x.Type()}, Const(NewOperator(op)), x)
}

// NewBinop returns an instruction applying the binary operator op to x and y.
func NewBinop(op Operator, x, y Value) *Instruction {
	return build(OpcodeBinop, []Type{x.Type()}, Const(NewOperator(op)), x, y)
}

// NewCmp returns an instruction comparing x and y with the comparison op.
func NewCmp(op Operator, x, y Value) *Instruction {
	return build(OpcodeCmp, []Type{x.Type()}, Const(NewOperator(op)), x, y)
}

// NewCastZX returns an instruction converting x to t, zero-extending
// integers.
func NewCastZX(t Type, x Value) *Instruction {
	return build(OpcodeCastZX, []Type{t, x.Type()}, x)
}

// NewCastSX returns an instruction converting x to t, sign-extending
// integers.
func NewCastSX(t Type, x Value) *Instruction {
	return build(OpcodeCastSX, []Type{t, x.Type()}, x)
}

// NewBitcast returns an instruction reinterpreting the bits of x as t.
func NewBitcast(t Type, x Value) *Instruction {
	return build(OpcodeBitcast, []Type{t, x.Type()}, x)
}

// NewSelect returns an instruction selecting x if cond holds and y otherwise.
func NewSelect(cond, x, y Value) *Instruction {
	return build(OpcodeSelect, []Type{x.Type()}, cond, x, y)
}

// NewExtract returns an instruction extracting the given lane of the vector
// vec.
func NewExtract(vec Value, lane int) *Instruction {
	t := vec.Type()
	return build(OpcodeExtract, []Type{t.Lane(), t}, vec, Const(NewUint(TypeI32, uint64(lane))))
}

// NewInsert returns an instruction replacing the given lane of the vector vec
// with x.
func NewInsert(vec Value, lane int, x Value) *Instruction {
	return build(OpcodeInsert, []Type{vec.Type(), x.Type()}, vec, Const(NewUint(TypeI32, uint64(lane))), x)
}

// NewPhi returns a phi instruction of type t with one incoming value per
// predecessor.
func NewPhi(t Type, incoming ...Value) *Instruction {
	return build(OpcodePhi, []Type{t}, incoming...)
}

// NewUndef returns an instruction producing an undefined value of type t.
func NewUndef(t Type) *Instruction {
	return build(OpcodeUndef, []Type{t})
}

// NewCall returns an instruction calling the routine at target.
func NewCall(target Value) *Instruction {
	return build(OpcodeCall, nil, target)
}

// NewJmp returns an unconditional jump to the block target.
func NewJmp(target *BasicBlock) *Instruction {
	return build(OpcodeJmp, nil, target)
}

// NewJs returns a conditional jump to t if cond holds and to f otherwise.
func NewJs(cond Value, t, f *BasicBlock) *Instruction {
	return build(OpcodeJs, nil, cond, t, f)
}

// NewXjmp returns an unconditional jump to an address not yet resolved to a
// block.
func NewXjmp(target Value) *Instruction {
	return build(OpcodeXjmp, nil, target)
}

// NewXjs returns a conditional jump to the address t if cond holds and to the
// address f otherwise.
func NewXjs(cond, t, f Value) *Instruction {
	return build(OpcodeXjs, nil, cond, t, f)
}

// NewRet returns a return to the address ret.
func NewRet(ret Value) *Instruction {
	return build(OpcodeRet, nil, ret)
}

// NewTrap returns a trap carrying the given diagnostic message.
func NewTrap(msg string) *Instruction {
	inst := build(OpcodeTrap, nil)
	inst.Message = msg
	return inst
}

// NewUnreachable returns an instruction marking unreachable code.
func NewUnreachable() *Instruction {
	return build(OpcodeUnreachable, nil)
}

// ### [ Accessors ] ###########################################################

// Opcode returns the opcode of the instruction.
func (inst *Instruction) Opcode() Opcode { return inst.opcode }

// Template returns template type i of the instruction.
func (inst *Instruction) Template(i int) Type { return inst.templates[i] }

// Type returns the type of the result of the instruction; TypeNone if it
// produces no value.
func (inst *Instruction) Type() Type {
	return inst.resolve(opcodes[inst.opcode].result)
}

func (inst *Instruction) resolve(s typeSpec) Type {
	if s.tmpl >= 0 {
		return inst.templates[s.tmpl]
	}
	return s.t
}

// Ident returns the identifier of the instruction result.
func (inst *Instruction) Ident() string {
	return fmt.Sprintf("%%%d", inst.Name)
}

// NumOperands returns the number of operands of the instruction.
func (inst *Instruction) NumOperands() int { return len(inst.operands) }

// Operand returns operand i of the instruction.
func (inst *Instruction) Operand(i int) *Operand { return &inst.operands[i] }

// SetOperand replaces operand i of the instruction with v.
func (inst *Instruction) SetOperand(i int, v Value) {
	inst.operands[i].SetValue(v)
}

// Operator returns the operator of unop, binop and cmp instructions.
func (inst *Instruction) Operator() Operator {
	switch inst.opcode {
	case OpcodeUnop, OpcodeBinop, OpcodeCmp:
		return inst.operands[0].Constant().Operator()
	}
	return OpNone
}

// IsTerminator reports whether the instruction ends a basic block.
func (inst *Instruction) IsTerminator() bool { return inst.opcode.IsTerminator() }

// IsPhi reports whether the instruction is a phi instruction.
func (inst *Instruction) IsPhi() bool { return inst.opcode == OpcodePhi }

// Block returns the basic block containing the instruction, or nil if the
// instruction is an orphan.
func (inst *Instruction) Block() *BasicBlock { return inst.block }

// IsOrphan reports whether the instruction is not linked into a block.
func (inst *Instruction) IsOrphan() bool { return inst.block == nil }

// Next returns the next instruction of the block, or nil.
func (inst *Instruction) Next() *Instruction { return inst.next }

// Prev returns the previous instruction of the block, or nil.
func (inst *Instruction) Prev() *Instruction { return inst.prev }

// ### [ Mutation ] ############################################################

// EraseOperand removes operand i, shifting the following operands down by one
// slot. Uses of the shifted operands are relinked at their new location.
func (inst *Instruction) EraseOperand(i int) {
	ops := inst.operands
	ops[i].Reset()
	for j := i; j+1 < len(ops); j++ {
		ops[j] = ops[j+1]
		ops[j].use.index = j
		ops[j].use.relink()
	}
	last := len(ops) - 1
	ops[last] = Operand{}
	inst.operands = ops[:last]
}

// Erase unlinks the instruction from its block and releases its operands. The
// instruction must have no uses left.
func (inst *Instruction) Erase() {
	assert(!inst.HasUses(), "erasing %s (%v) with %d remaining uses", inst.Ident(), inst.opcode, inst.NumUses())
	if inst.block != nil {
		inst.block.unlink(inst)
	}
	inst.dropOperands()
}

// ReplaceWith inserts repl in place of the instruction, relinks all uses to
// repl and erases the instruction. repl inherits the provenance of the
// instruction.
func (inst *Instruction) ReplaceWith(repl *Instruction) {
	if repl.IP == 0 {
		repl.IP = inst.IP
	}
	if repl.Arch == ArchNone {
		repl.Arch = inst.Arch
	}
	if inst.block != nil {
		inst.block.Insert(inst, repl)
	}
	inst.ReplaceAllUsesWith(repl)
	inst.Erase()
}

func (inst *Instruction) dropOperands() {
	for i := range inst.operands {
		inst.operands[i].Reset()
	}
}

// String returns the textual form of the instruction.
func (inst *Instruction) String() string {
	buf := &strings.Builder{}
	if inst.Type() != TypeNone {
		fmt.Fprintf(buf, "%s = ", inst.Ident())
	}
	buf.WriteString(inst.opcode.String())
	for i := 0; i < inst.opcode.NumTemplates(); i++ {
		fmt.Fprintf(buf, ".%v", inst.templates[i])
	}
	for i := range inst.operands {
		if i == 0 {
			buf.WriteString(" ")
		} else {
			buf.WriteString(", ")
		}
		op := &inst.operands[i]
		if op.IsConstant() && op.c.Type() == TypeReg {
			buf.WriteString(inst.Arch.RegName(op.c.Reg()))
			continue
		}
		buf.WriteString(op.String())
	}
	if inst.Message != "" {
		fmt.Fprintf(buf, " %q", inst.Message)
	}
	return buf.String()
}
