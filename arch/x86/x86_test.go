package x86_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/mewmew/lifter/arch"
	_ "github.com/mewmew/lifter/arch/x86"
	"github.com/mewmew/lifter/ir"
)

// liftCode decodes and lifts the instructions of code located at va into a new
// block.
func liftCode(a arch.Architecture, code []byte, va uint64) (*ir.BasicBlock, error) {
	b := ir.NewRoutine(va, a.ID()).AddBlock(va)
	for len(code) > 0 {
		inst, err := a.Disassemble(code, va)
		if err != nil {
			return b, err
		}
		if err := a.Lift(b, inst); err != nil {
			return b, err
		}
		code = code[inst.Len:]
		va += uint64(inst.Len)
	}
	return b, nil
}

// opcodes returns the opcodes of the instructions of b.
func opcodes(b *ir.BasicBlock) []ir.Opcode {
	var ops []ir.Opcode
	for inst := range b.Instructions() {
		ops = append(ops, inst.Opcode())
	}
	return ops
}

var _ = Describe("x86", func() {
	var amd64, i386 arch.Architecture

	BeforeEach(func() {
		var err error
		amd64, err = arch.Lookup("x86_64")
		Expect(err).NotTo(HaveOccurred())
		i386, err = arch.Lookup("x86")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should be registered in both processor modes", func() {
		Expect(arch.Names()).To(ContainElements("x86", "x86_64"))
		Expect(amd64.ID()).To(Equal(arch.X86_64))
		Expect(i386.ID()).To(Equal(arch.X86))
		Expect(arch.X86_64.String()).To(Equal("x86_64"))
		_, err := arch.Lookup("z80")
		Expect(errors.Cause(err)).To(Equal(arch.ErrUnknownArch))
	})

	Context("when disassembling", func() {
		It("should decode instruction lengths", func() {
			inst, err := amd64.Disassemble([]byte{0x48, 0x85, 0xC9, 0x74, 0x05}, 0x1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Len).To(Equal(3))
			Expect(inst.Addr).To(Equal(uint64(0x1000)))
			Expect(inst.String()).To(ContainSubstring("TEST"))
		})

		It("should fail on truncated instructions", func() {
			_, err := amd64.Disassemble([]byte{0x48}, 0)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when lifting", func() {
		It("should lift register arithmetic with flags", func() {
			// add rax, rcx
			b, err := liftCode(amd64, []byte{0x48, 0x01, 0xC8}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Validate()).To(Succeed())
			back := b.Back()
			Expect(back.Opcode()).To(Equal(ir.OpcodeWriteReg))
			Expect(back.Operand(0).Constant().Reg()).To(Equal(uint32(x86asm.RAX)))
			written := map[string]bool{}
			for inst := range b.Instructions() {
				if inst.Opcode() == ir.OpcodeWriteReg {
					written[amd64.RegName(inst.Operand(0).Constant().Reg())] = true
				}
			}
			Expect(written).To(HaveKey("zf"))
			Expect(written).To(HaveKey("cf"))
			Expect(written).To(HaveKey("of"))
			Expect(written).To(HaveKey("rax"))
		})

		It("should zero-extend 32-bit register writes in 64-bit mode", func() {
			// mov eax, 1
			b, err := liftCode(amd64, []byte{0xB8, 0x01, 0x00, 0x00, 0x00}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(opcodes(b)).To(Equal([]ir.Opcode{ir.OpcodeCastZX, ir.OpcodeWriteReg}))
			Expect(b.Back().Operand(1).Type()).To(Equal(ir.TypeI64))
		})

		It("should merge 8-bit register writes", func() {
			// mov ah, 1
			b, err := liftCode(amd64, []byte{0xB4, 0x01}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Validate()).To(Succeed())
			Expect(opcodes(b)).To(ContainElement(ir.OpcodeReadReg))
			Expect(b.Back().Opcode()).To(Equal(ir.OpcodeWriteReg))
		})

		It("should use 32-bit registers in 32-bit mode", func() {
			// mov eax, 1
			b, err := liftCode(i386, []byte{0xB8, 0x01, 0x00, 0x00, 0x00}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(opcodes(b)).To(Equal([]ir.Opcode{ir.OpcodeWriteReg}))
			Expect(b.Back().Operand(1).Type()).To(Equal(ir.TypeI32))
			Expect(i386.RegName(b.Back().Operand(0).Constant().Reg())).To(Equal("eax"))
		})

		It("should lift relative jumps to constant targets", func() {
			// jmp +5
			b, err := liftCode(amd64, []byte{0xEB, 0x05}, 0x1000)
			Expect(err).NotTo(HaveOccurred())
			term := b.Terminator()
			Expect(term).NotTo(BeNil())
			Expect(term.Opcode()).To(Equal(ir.OpcodeXjmp))
			Expect(term.Operand(0).Constant().Uint64()).To(Equal(uint64(0x1007)))
		})

		It("should lift conditional jumps to both targets", func() {
			// test rcx, rcx; jz +5
			b, err := liftCode(amd64, []byte{0x48, 0x85, 0xC9, 0x74, 0x05}, 0)
			Expect(err).NotTo(HaveOccurred())
			term := b.Terminator()
			Expect(term).NotTo(BeNil())
			Expect(term.Opcode()).To(Equal(ir.OpcodeXjs))
			Expect(term.Operand(1).Constant().Uint64()).To(Equal(uint64(10)))
			Expect(term.Operand(2).Constant().Uint64()).To(Equal(uint64(5)))
			Expect(b.Validate()).To(Succeed())
		})

		It("should lift returns through the stack", func() {
			// ret
			b, err := liftCode(amd64, []byte{0xC3}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Terminator().Opcode()).To(Equal(ir.OpcodeRet))
			Expect(opcodes(b)).To(ContainElement(ir.OpcodeLoad))
		})

		It("should lift push and pop", func() {
			// push rbp; mov rbp, rsp; pop rbp
			b, err := liftCode(amd64, []byte{0x55, 0x48, 0x89, 0xE5, 0x5D}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Validate()).To(Succeed())
			Expect(opcodes(b)).To(ContainElements(ir.OpcodeStore, ir.OpcodeLoad))
		})

		It("should lift invalid registers as undefined instructions", func() {
			// mov eax, ds
			b, err := liftCode(amd64, []byte{0x8C, 0xD8}, 0)
			Expect(err).NotTo(HaveOccurred())
			term := b.Terminator()
			Expect(term).NotTo(BeNil())
			Expect(term.Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(term.Message).To(Equal("undefined instruction"))
		})

		It("should keep the IR of preceding instructions before undefined instructions", func() {
			// mov eax, 1; mov eax, ds
			b, err := liftCode(amd64, []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0x8C, 0xD8}, 0)
			Expect(err).NotTo(HaveOccurred())
			term := b.Back()
			Expect(term.Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(term.Message).To(Equal("undefined instruction"))
			Expect(term.Prev().Opcode()).To(Equal(ir.OpcodeWriteReg))
			Expect(b.Validate()).To(Succeed())
		})

		It("should report unsupported instructions", func() {
			// cpuid
			_, err := liftCode(amd64, []byte{0x0F, 0xA2}, 0)
			Expect(err).To(MatchError(ContainSubstring("not yet implemented")))
		})

		It("should lift traps", func() {
			// int3
			b, err := liftCode(amd64, []byte{0xCC}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Terminator().Opcode()).To(Equal(ir.OpcodeTrap))
		})
	})
})
