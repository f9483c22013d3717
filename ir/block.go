package ir

import (
	"fmt"
	"iter"
	"strings"
)

// BasicBlock is a basic block; a sequence of instructions covering the machine
// code in [IP, EndIP), terminated by at most one control flow instruction.
// Basic blocks are values of type label, used as jump targets.
//
// Successor and predecessor edges are maintained exclusively through AddJump
// and DelJump.
type BasicBlock struct {
	valueBase

	// Sequential name within the owning routine.
	Name uint32
	// Address (RVA) of the first machine instruction of the block.
	IP uint64
	// Address (RVA) following the last machine instruction of the block.
	EndIP uint64
	// Architecture of the machine code of the block.
	Arch ArchID

	routine     *Routine
	first, last *Instruction
	n           int
	succs       []*BasicBlock
	preds       []*BasicBlock
}

// Type returns the label type.
func (b *BasicBlock) Type() Type { return TypeLabel }

// Ident returns the identifier of the block.
func (b *BasicBlock) Ident() string { return fmt.Sprintf("$%d", b.Name) }

// Routine returns the routine owning the block, or nil if the block has been
// destroyed.
func (b *BasicBlock) Routine() *Routine { return b.routine }

// Len returns the number of instructions of the block.
func (b *BasicBlock) Len() int { return b.n }

// Empty reports whether the block contains no instructions.
func (b *BasicBlock) Empty() bool { return b.n == 0 }

// Front returns the first instruction of the block, or nil.
func (b *BasicBlock) Front() *Instruction { return b.first }

// Back returns the last instruction of the block, or nil.
func (b *BasicBlock) Back() *Instruction { return b.last }

// Instructions returns an iterator over the instructions of the block in
// program order. The instruction yielded last may be erased during
// iteration.
func (b *BasicBlock) Instructions() iter.Seq[*Instruction] {
	return func(yield func(*Instruction) bool) {
		for inst := b.first; inst != nil; {
			next := inst.next
			if !yield(inst) {
				return
			}
			inst = next
		}
	}
}

// Phis returns an iterator over the leading phi instructions of the block.
func (b *BasicBlock) Phis() iter.Seq[*Instruction] {
	return func(yield func(*Instruction) bool) {
		for inst := b.first; inst != nil && inst.IsPhi(); inst = inst.next {
			if !yield(inst) {
				return
			}
		}
	}
}

// Terminator returns the terminator of the block, or nil if the block is not
// terminated.
func (b *BasicBlock) Terminator() *Instruction {
	if b.last != nil && b.last.IsTerminator() {
		return b.last
	}
	return nil
}

// Successors returns the successors of the block. The returned slice must not
// be modified.
func (b *BasicBlock) Successors() []*BasicBlock { return b.succs }

// Predecessors returns the predecessors of the block. The returned slice must
// not be modified.
func (b *BasicBlock) Predecessors() []*BasicBlock { return b.preds }

// PredIndex returns the index of pred among the predecessors of the block, or
// -1.
func (b *BasicBlock) PredIndex(pred *BasicBlock) int {
	for i, p := range b.preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// ### [ Instruction list ] ####################################################

// Insert links the orphan instruction inst before pos, or at the end of the
// block if pos is nil. The instruction inherits the architecture of the block
// if unset and is named by the owning routine.
func (b *BasicBlock) Insert(pos, inst *Instruction) *Instruction {
	assert(inst.IsOrphan(), "inserting %s which is linked into block %v", inst.Ident(), inst.block)
	assert(pos == nil || pos.block == b, "insertion position not in block %s", b.Ident())
	if inst.Arch == ArchNone {
		inst.Arch = b.Arch
	}
	if b.routine != nil {
		inst.Name = b.routine.nextInstName
		b.routine.nextInstName++
	}
	inst.block = b
	if pos == nil {
		inst.prev = b.last
		if b.last != nil {
			b.last.next = inst
		} else {
			b.first = inst
		}
		b.last = inst
	} else {
		inst.prev = pos.prev
		inst.next = pos
		if pos.prev != nil {
			pos.prev.next = inst
		} else {
			b.first = inst
		}
		pos.prev = inst
	}
	b.n++
	return inst
}

// Append links the orphan instruction inst at the end of the block.
func (b *BasicBlock) Append(inst *Instruction) *Instruction {
	return b.Insert(nil, inst)
}

// unlink removes inst from the instruction list of the block, leaving it an
// orphan.
func (b *BasicBlock) unlink(inst *Instruction) {
	if inst.prev != nil {
		inst.prev.next = inst.next
	} else {
		b.first = inst.next
	}
	if inst.next != nil {
		inst.next.prev = inst.prev
	} else {
		b.last = inst.prev
	}
	inst.prev, inst.next, inst.block = nil, nil, nil
	b.n--
}

// ### [ Control flow ] ########################################################

// AddJump adds a control flow edge from the block to target.
func (b *BasicBlock) AddJump(target *BasicBlock) {
	b.succs = append(b.succs, target)
	target.preds = append(target.preds, b)
}

// DelJump removes a control flow edge from the block to target. If fixPhis is
// set, the phi operands of target corresponding to the removed predecessor
// edge are erased, keeping phi arity equal to the number of predecessors.
func (b *BasicBlock) DelJump(target *BasicBlock, fixPhis bool) {
	si := indexOf(b.succs, target)
	pi := target.PredIndex(b)
	assert(si >= 0 && pi >= 0, "no edge %s -> %s", b.Ident(), target.Ident())
	if si < 0 || pi < 0 {
		return
	}
	b.succs = append(b.succs[:si], b.succs[si+1:]...)
	target.preds = append(target.preds[:pi], target.preds[pi+1:]...)
	if !fixPhis {
		return
	}
	for phi := range target.Phis() {
		if pi < phi.NumOperands() {
			phi.EraseOperand(pi)
		}
	}
}

// Split moves the instructions from boundary to the end of the block into a
// new block appended to the routine, which takes over the successor edges and
// end address of the block. The new block starts at the address of boundary,
// or at the end address of the block if boundary is nil. The block keeps the
// instructions preceding boundary, so existing references to it stay valid.
//
// No control flow edge is added between the two blocks. Splitting at the
// first instruction is rejected and returns nil.
func (b *BasicBlock) Split(boundary *Instruction) *BasicBlock {
	assert(boundary == nil || boundary.block == b, "split boundary not in block %s", b.Ident())
	assert(boundary == nil || boundary != b.first, "splitting block %s at its first instruction", b.Ident())
	if boundary != nil && (boundary.block != b || boundary == b.first) {
		return nil
	}
	ip := b.EndIP
	if boundary != nil {
		ip = boundary.IP
	}
	nb := b.routine.AddBlock(ip)
	nb.Arch = b.Arch
	nb.EndIP = b.EndIP
	b.EndIP = ip

	// Move instruction sub-list.
	if boundary != nil {
		nb.first, nb.last = boundary, b.last
		b.last = boundary.prev
		b.last.next = nil
		boundary.prev = nil
		for inst := boundary; inst != nil; inst = inst.next {
			inst.block = nb
			b.n--
			nb.n++
		}
	}

	// Move successor edges.
	nb.succs, b.succs = b.succs, nil
	for _, succ := range nb.succs {
		for i, pred := range succ.preds {
			if pred == b {
				succ.preds[i] = nb
			}
		}
	}
	return nb
}

// Truncate erases the instructions following mark, or all instructions of the
// block if mark is nil. Uses of the erased instructions are detached.
func (b *BasicBlock) Truncate(mark *Instruction) {
	assert(mark == nil || mark.block == b, "truncating block %s at instruction of another block", b.Ident())
	for inst := b.last; inst != nil && inst != mark; inst = b.last {
		inst.ReplaceAllUsesWith(nil)
		inst.Erase()
	}
}

// Destroy releases the instructions of the block, removes all its control
// flow edges and removes it from its routine. Uses of the instructions and of
// the block itself are detached.
func (b *BasicBlock) Destroy() {
	for inst := range b.Instructions() {
		inst.dropOperands()
	}
	for inst := range b.Instructions() {
		inst.ReplaceAllUsesWith(nil)
		b.unlink(inst)
	}
	for len(b.succs) > 0 {
		b.DelJump(b.succs[0], true)
	}
	for len(b.preds) > 0 {
		b.preds[0].DelJump(b, false)
	}
	b.ReplaceAllUsesWith(nil)
	if b.routine != nil {
		b.routine.remove(b)
	}
}

// String returns the textual form of the block.
func (b *BasicBlock) String() string {
	buf := &strings.Builder{}
	fmt.Fprintf(buf, "%s: ; [0x%x, 0x%x)", b.Ident(), b.IP, b.EndIP)
	if len(b.preds) > 0 {
		fmt.Fprintf(buf, " preds: %s", idents(b.preds))
	}
	if len(b.succs) > 0 {
		fmt.Fprintf(buf, " succs: %s", idents(b.succs))
	}
	for inst := range b.Instructions() {
		fmt.Fprintf(buf, "\n\t%-40s ; 0x%x", inst, inst.IP)
	}
	return buf.String()
}

// ### [ Helper functions ] ####################################################

func indexOf(blocks []*BasicBlock, b *BasicBlock) int {
	for i, block := range blocks {
		if block == b {
			return i
		}
	}
	return -1
}

func idents(blocks []*BasicBlock) string {
	names := make([]string, len(blocks))
	for i, b := range blocks {
		names[i] = b.Ident()
	}
	return strings.Join(names, ", ")
}
