package lift

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/sched"
)

// funcLifter holds the state of the lift of one routine. Recursive lifts of
// branch targets run synchronously on the task of the routine, so the state
// needs no locking.
type funcLifter struct {
	l *Lifter
	t *sched.Task
	m *Method
	r *ir.Routine
	// Addresses of the machine instructions decoded into each block, in
	// ascending order.
	bounds map[*ir.BasicBlock][]uint64
}

// liftBlock returns the block starting at the given address, lifting it if not
// yet present.
func (f *funcLifter) liftBlock(ip uint64) (*ir.BasicBlock, error) {
	if b := f.r.BlockAt(ip); b != nil {
		return b, nil
	}
	misaligned := false
	for _, b := range f.r.Blocks() {
		if ip <= b.IP || ip >= b.EndIP {
			continue
		}
		if f.isBoundary(b, ip) {
			return f.splitBlock(b, ip), nil
		}
		misaligned = true
	}
	if misaligned {
		if f.l.cfg.Misaligned == MisalignedFail {
			return nil, errors.Wrapf(ErrMisalignedJump, "jump to 0x%X", ip)
		}
		warn.Printf("misaligned jump to 0x%X in function at 0x%X; lifting overlapping block", ip, f.m.RVA)
	}
	if len(f.l.img.Slice(ip)) == 0 {
		return nil, errors.Wrapf(ErrOutOfBounds, "jump to 0x%X", ip)
	}
	if max := f.l.cfg.MaxBlocks; max > 0 && f.r.Len() >= max {
		return nil, errors.Wrapf(ErrFailed, "function at 0x%X exceeds %d blocks", f.m.RVA, max)
	}
	b := f.r.AddBlock(ip)
	if err := f.decodeBlock(b); err != nil {
		return nil, err
	}
	if err := f.resolve(b); err != nil {
		return nil, err
	}
	return b, nil
}

// isBoundary reports whether a machine instruction of b starts at ip.
func (f *funcLifter) isBoundary(b *ir.BasicBlock, ip uint64) bool {
	bounds := f.bounds[b]
	i := sort.Search(len(bounds), func(i int) bool { return bounds[i] >= ip })
	return i < len(bounds) && bounds[i] == ip
}

// splitBlock splits b at the machine instruction starting at ip, and returns
// the new block starting at ip. b falls through to the new block.
func (f *funcLifter) splitBlock(b *ir.BasicBlock, ip uint64) *ir.BasicBlock {
	dbg.Printf("splitting block at 0x%X at 0x%X", b.IP, ip)
	// The jump ending a block split before carries the address of the last
	// instruction preceding that split; it starts the new block if no other
	// instruction is at or after ip.
	var boundary *ir.Instruction
	for inst := range b.Instructions() {
		if inst.IP >= ip || inst.IsTerminator() {
			boundary = inst
			break
		}
	}
	// Instructions preceding ip may have lifted to no IR at all; pad the block
	// so that the boundary is never its first instruction.
	var pad *ir.Instruction
	if boundary == b.Front() {
		pad = b.Insert(boundary, ir.NewUndef(ir.TypeI1))
		pad.IP = b.IP
	}
	nb := b.Split(boundary)
	if pad != nil {
		pad.Erase()
	}
	nb.IP, b.EndIP = ip, ip
	if boundary.IP < ip {
		boundary.IP = ip
	}
	jmp := ir.NewJmp(nb)
	jmp.IP = b.IP
	if last := b.Back(); last != nil {
		jmp.IP = last.IP
	}
	b.Append(jmp)
	b.AddJump(nb)

	bounds := f.bounds[b]
	i := sort.Search(len(bounds), func(i int) bool { return bounds[i] >= ip })
	f.bounds[b], f.bounds[nb] = bounds[:i:i], bounds[i:]
	return nb
}

// decodeBlock decodes machine instructions into b until a terminator is
// lifted. Undecodable and unliftable instructions end the block with a trap.
func (f *funcLifter) decodeBlock(b *ir.BasicBlock) error {
	a := f.m.Arch
	for addr := b.IP; ; {
		code := f.l.img.Slice(addr)
		if len(code) == 0 {
			f.trap(b, addr, fmt.Sprintf("unable to decode instruction at address 0x%X; end of section", addr))
			return nil
		}
		inst, err := a.Disassemble(code, addr)
		if err != nil {
			warn.Printf("%v", err)
			f.trap(b, addr, err.Error())
			return nil
		}
		if err := f.t.Checkpoint(); err != nil {
			return errors.WithStack(err)
		}
		mark := b.Back()
		err = a.Lift(b, inst)
		f.tag(b, mark, addr)
		f.bounds[b] = append(f.bounds[b], addr)
		addr += uint64(inst.Len)
		b.EndIP = addr
		if err != nil {
			warn.Printf("%v", err)
			b.Truncate(mark)
			f.trap(b, inst.Addr, err.Error())
			return nil
		}
		if term := b.Terminator(); term != nil {
			return nil
		}
	}
}

// tag sets the provenance of the instructions appended to b after mark.
func (f *funcLifter) tag(b *ir.BasicBlock, mark *ir.Instruction, addr uint64) {
	inst := b.Front()
	if mark != nil {
		inst = mark.Next()
	}
	for ; inst != nil; inst = inst.Next() {
		inst.IP = addr
		inst.Arch = f.m.Arch.ID()
	}
}

// trap ends b with a trap carrying the given diagnostic.
func (f *funcLifter) trap(b *ir.BasicBlock, addr uint64, msg string) {
	trap := ir.NewTrap(msg)
	trap.IP = addr
	trap.Arch = f.m.Arch.ID()
	b.Append(trap)
}
