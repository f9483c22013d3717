package ir

import (
	"fmt"
	"strings"
)

// Routine is the control flow graph of a lifted function; it owns its basic
// blocks.
type Routine struct {
	// Address (RVA) of the routine entry point.
	IP uint64
	// Architecture of the routine entry point.
	Arch ArchID
	// Entry basic block; the first block added to the routine.
	Entry *BasicBlock

	blocks        []*BasicBlock
	nextBlockName uint32
	nextInstName  uint32
}

// NewRoutine returns a new empty routine with the given entry point.
func NewRoutine(ip uint64, arch ArchID) *Routine {
	return &Routine{IP: ip, Arch: arch}
}

// AddBlock appends a new empty block starting at ip to the routine. The first
// block added becomes the entry block.
func (r *Routine) AddBlock(ip uint64) *BasicBlock {
	b := &BasicBlock{
		Name:    r.nextBlockName,
		IP:      ip,
		EndIP:   ip,
		Arch:    r.Arch,
		routine: r,
	}
	r.nextBlockName++
	r.blocks = append(r.blocks, b)
	if r.Entry == nil {
		r.Entry = b
	}
	return b
}

// DelBlock destroys the given block of the routine.
func (r *Routine) DelBlock(b *BasicBlock) {
	assert(b.routine == r, "deleting block %s not owned by routine", b.Ident())
	b.Destroy()
}

// remove removes b from the block list of the routine.
func (r *Routine) remove(b *BasicBlock) {
	if i := indexOf(r.blocks, b); i >= 0 {
		r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
	}
	if r.Entry == b {
		r.Entry = nil
	}
	b.routine = nil
}

// Blocks returns the blocks of the routine. The returned slice must not be
// modified.
func (r *Routine) Blocks() []*BasicBlock { return r.blocks }

// Len returns the number of blocks of the routine.
func (r *Routine) Len() int { return len(r.blocks) }

// BlockAt returns the block starting at ip, or nil.
func (r *Routine) BlockAt(ip uint64) *BasicBlock {
	for _, b := range r.blocks {
		if b.IP == ip {
			return b
		}
	}
	return nil
}

// NumInstructions returns the total number of instructions of the routine.
func (r *Routine) NumInstructions() int {
	n := 0
	for _, b := range r.blocks {
		n += b.n
	}
	return n
}

// TopologicalSort orders the blocks of the routine in reverse post-order of a
// depth-first walk from the entry block, and renames them by position. The
// entry block comes first; blocks unreachable from the entry trail in their
// previous order.
func (r *Routine) TopologicalSort() {
	if r.Entry == nil {
		return
	}
	// Post-order names descend from the number of blocks, so sorting by name
	// yields reverse post-order.
	name := make(map[*BasicBlock]int, len(r.blocks))
	next := len(r.blocks)
	type frame struct {
		b    *BasicBlock
		succ int
	}
	name[r.Entry] = -1
	stack := []frame{{b: r.Entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.succ < len(top.b.succs) {
			succ := top.b.succs[top.succ]
			top.succ++
			if _, ok := name[succ]; !ok {
				name[succ] = -1
				stack = append(stack, frame{b: succ})
			}
			continue
		}
		next--
		name[top.b] = next
		stack = stack[:len(stack)-1]
	}
	reachable := make([]*BasicBlock, len(r.blocks)-next)
	var unreachable []*BasicBlock
	for _, b := range r.blocks {
		if n, ok := name[b]; ok {
			reachable[n-next] = b
		} else {
			unreachable = append(unreachable, b)
		}
	}
	r.blocks = append(reachable, unreachable...)
	for i, b := range r.blocks {
		b.Name = uint32(i)
	}
	r.nextBlockName = uint32(len(r.blocks))
}

// Renumber renames blocks by position and instructions sequentially in
// program order.
func (r *Routine) Renumber() {
	var n uint32
	for i, b := range r.blocks {
		b.Name = uint32(i)
		for inst := range b.Instructions() {
			inst.Name = n
			n++
		}
	}
	r.nextBlockName = uint32(len(r.blocks))
	r.nextInstName = n
}

// String returns the textual form of the routine.
func (r *Routine) String() string {
	buf := &strings.Builder{}
	fmt.Fprintf(buf, "routine_%X(%v) {\n", r.IP, r.Arch)
	for i, b := range r.blocks {
		if i != 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(buf, "%v\n", b)
	}
	buf.WriteString("}")
	return buf.String()
}
