package lift_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/bin"
	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/lift"
)

var _ = Describe("Lifter on x86-64", func() {
	var amd64 arch.Architecture

	BeforeEach(func() {
		var err error
		amd64, err = arch.Lookup("x86_64")
		Expect(err).NotTo(HaveOccurred())
	})

	liftX86 := func(code []byte) (*ir.Routine, error) {
		l := lift.New(bin.NewRaw(0x140000000, "x86_64", code), lift.DefaultConfig(), nil)
		return l.Lift(context.Background(), 0, amd64)
	}

	It("should lift a two-way branch into three blocks", func() {
		code := []byte{
			0x48, 0x85, 0xC9, // test rcx, rcx
			0x74, 0x05, // jz +5
			0x48, 0x8D, 0x04, 0x0A, // lea rax, [rdx+rcx]
			0xC3,                   // ret
			0x4A, 0x8D, 0x04, 0x02, // lea rax, [rdx+r8]
			0xC3, // ret
		}
		r, err := liftX86(code)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Len()).To(Equal(3))
		Expect(r.Validate()).To(Succeed())

		entry := r.Entry
		Expect(entry.IP).To(Equal(uint64(0)))
		Expect(entry.EndIP).To(Equal(uint64(5)))
		Expect(entry.Terminator().Opcode()).To(Equal(ir.OpcodeJs))

		taken, next := r.BlockAt(10), r.BlockAt(5)
		Expect(taken).NotTo(BeNil())
		Expect(next).NotTo(BeNil())
		Expect(entry.Successors()).To(Equal([]*ir.BasicBlock{taken, next}))
		for _, b := range []*ir.BasicBlock{taken, next} {
			Expect(b.Terminator().Opcode()).To(Equal(ir.OpcodeRet))
			Expect(b.EndIP - b.IP).To(Equal(uint64(5)))
			Expect(b.Predecessors()).To(Equal([]*ir.BasicBlock{entry}))
			Expect(b.Successors()).To(BeEmpty())
			for inst := range b.Instructions() {
				Expect(inst.Arch).To(Equal(arch.X86_64))
			}
		}
	})

	It("should trap on truncated instructions", func() {
		r, err := liftX86([]byte{0x48})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Len()).To(Equal(1))
		Expect(r.Entry.Len()).To(Equal(1))
		Expect(r.Entry.Front().Opcode()).To(Equal(ir.OpcodeTrap))
		Expect(r.Entry.Successors()).To(BeEmpty())
	})
})
