package ir

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Routine", func() {
	var r *Routine

	BeforeEach(func() {
		r = NewRoutine(0x400000, ArchID(7))
	})

	It("should make the first block the entry", func() {
		entry := r.AddBlock(0x400000)
		other := r.AddBlock(0x400010)
		Expect(r.Entry).To(BeIdenticalTo(entry))
		Expect(r.BlockAt(0x400010)).To(BeIdenticalTo(other))
		Expect(r.BlockAt(0x400020)).To(BeNil())
		Expect(other.Ident()).To(Equal("$1"))
	})

	It("should order blocks in reverse post-order", func() {
		// Blocks are added out of control flow order; the unreachable block u
		// trails the result.
		u := r.AddBlock(0x50)
		r.Entry = nil
		exit := r.AddBlock(0x40)
		entry := r.AddBlock(0x00)
		r.Entry = entry
		left := r.AddBlock(0x10)
		right := r.AddBlock(0x20)
		entry.AddJump(left)
		entry.AddJump(right)
		left.AddJump(exit)
		right.AddJump(exit)
		exit.AddJump(entry)
		u.AddJump(exit)

		r.TopologicalSort()
		blocks := r.Blocks()
		Expect(blocks).To(HaveLen(5))
		Expect(blocks[0]).To(BeIdenticalTo(entry))
		Expect(blocks[3]).To(BeIdenticalTo(exit))
		Expect(blocks[4]).To(BeIdenticalTo(u))
		Expect(blocks[1:3]).To(ConsistOf(left, right))
		for i, b := range blocks {
			Expect(b.Name).To(Equal(uint32(i)))
		}
		Expect(r.AddBlock(0x60).Name).To(Equal(uint32(5)))
	})

	It("should renumber instructions in program order", func() {
		b0 := r.AddBlock(0)
		b1 := r.AddBlock(1)
		x := b1.Append(NewUndef(TypeI64))
		y := b0.Append(NewUndef(TypeI64))
		z := b0.Append(NewUndef(TypeI64))
		r.Renumber()
		Expect([]uint32{y.Name, z.Name, x.Name}).To(Equal([]uint32{0, 1, 2}))
		Expect(r.NumInstructions()).To(Equal(3))
		Expect(b1.Append(NewUndef(TypeI64)).Name).To(Equal(uint32(3)))
	})

	It("should print blocks and instructions", func() {
		RegisterArch(ArchID(7), "toy7", nil)
		b := r.AddBlock(0x400000)
		b.EndIP = 0x400002
		x := b.Append(NewReadReg(TypeI64, 3))
		x.IP = 0x400000
		t := b.Append(NewTrap("halt"))
		t.IP = 0x400001
		Expect(r.String()).To(Equal("routine_400000(toy7) {\n" +
			"$0: ; [0x400000, 0x400002)\n" +
			fmt.Sprintf("\t%-40s ; 0x400000\n", "%0 = read_reg.i64 reg3") +
			fmt.Sprintf("\t%-40s ; 0x400001\n", `trap "halt"`) +
			"}"))
	})
})
