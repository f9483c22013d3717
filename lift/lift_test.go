package lift_test

import (
	"context"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/mewmew/lifter/bin"
	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/lift"
)

var _ = Describe("Lifter", func() {
	var (
		toy *toyArch
		cfg lift.Config
		ctx context.Context
	)

	BeforeEach(func() {
		toy = &toyArch{}
		cfg = lift.DefaultConfig()
		cfg.Workers = 2
		ctx = context.Background()
	})

	newLifter := func(code []byte, resolver lift.Resolver) *lift.Lifter {
		return lift.New(bin.NewRaw(0, "toy", code), cfg, resolver)
	}

	liftCode := func(code []byte) (*ir.Routine, error) {
		return newLifter(code, nil).Lift(ctx, 0, toy)
	}

	Context("when decoding straight-line code", func() {
		It("should lift a single block", func() {
			r, err := liftCode([]byte{0x00, 0x07, 0x05, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(1))
			b := r.Entry
			Expect(b.IP).To(Equal(uint64(0)))
			Expect(b.EndIP).To(Equal(uint64(4)))
			Expect(b.Len()).To(Equal(2))
			Expect(b.Front().Opcode()).To(Equal(ir.OpcodeWriteReg))
			Expect(b.Front().IP).To(Equal(uint64(1)))
			Expect(b.Front().Arch).To(Equal(toyID))
			Expect(b.Terminator().Opcode()).To(Equal(ir.OpcodeRet))
			Expect(b.Terminator().IP).To(Equal(uint64(3)))
			Expect(r.Validate()).To(Succeed())
		})
	})

	Context("when resolving jumps", func() {
		It("should lift the target of a direct jump", func() {
			r, err := liftCode([]byte{0x02, 0x01, 0xFF, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(2))
			target := r.BlockAt(3)
			Expect(target).NotTo(BeNil())
			Expect(r.Entry.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(r.Entry.Terminator().Operand(0).Value()).To(BeIdenticalTo(target))
			Expect(r.Entry.Successors()).To(Equal([]*ir.BasicBlock{target}))
			Expect(target.Predecessors()).To(Equal([]*ir.BasicBlock{r.Entry}))
			Expect(r.Validate()).To(Succeed())
		})

		It("should lift both targets of a conditional jump", func() {
			r, err := liftCode([]byte{0x03, 0x02, 0x01, 0x00, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(3))
			taken, next := r.BlockAt(4), r.BlockAt(2)
			Expect(taken).NotTo(BeNil())
			Expect(next).NotTo(BeNil())
			term := r.Entry.Terminator()
			Expect(term.Opcode()).To(Equal(ir.OpcodeJs))
			Expect(term.Operand(1).Value()).To(BeIdenticalTo(taken))
			Expect(term.Operand(2).Value()).To(BeIdenticalTo(next))
			Expect(r.Entry.Successors()).To(Equal([]*ir.BasicBlock{taken, next}))
			Expect(r.BlockAt(3)).To(BeNil())
			Expect(r.Validate()).To(Succeed())
		})

		It("should coerce computed jump targets", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()
			resolver := NewMockResolver(mockCtrl)

			r, err := newLifter([]byte{0x05, 0x03, 0xFF, 0x01}, resolver).Lift(ctx, 0, toy)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(2))
			Expect(r.Entry.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(r.Entry.Successors()).To(Equal([]*ir.BasicBlock{r.BlockAt(3)}))
		})

		It("should rewrite conditional jumps on constant conditions", func() {
			r, err := liftCode([]byte{0x06, 0x01, 0xFF, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(2))
			Expect(r.Entry.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(r.Entry.Successors()).To(Equal([]*ir.BasicBlock{r.BlockAt(3)}))
			Expect(r.BlockAt(2)).To(BeNil())
			Expect(r.Validate()).To(Succeed())
		})

		It("should report unresolved jumps to the resolver", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()
			resolver := NewMockResolver(mockCtrl)
			resolver.EXPECT().
				OnUnresolvedJump(gomock.Any(), gomock.Any()).
				Do(func(m *lift.Method, jump *ir.Instruction) {
					Expect(m.RVA).To(Equal(uint64(0)))
					Expect(jump.Opcode()).To(Equal(ir.OpcodeXjmp))
				}).
				Times(1)

			r, err := newLifter([]byte{0x04}, resolver).Lift(ctx, 0, toy)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(1))
			Expect(r.Entry.Terminator().Opcode()).To(Equal(ir.OpcodeXjmp))
			Expect(r.Entry.Successors()).To(BeEmpty())
		})
	})

	Context("when jumping into lifted blocks", func() {
		It("should split the block at the jump target", func() {
			r, err := liftCode([]byte{0x00, 0x07, 0x05, 0x03, 0xFC, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(3))
			entry, loop, exit := r.BlockAt(0), r.BlockAt(1), r.BlockAt(5)
			Expect(entry).To(BeIdenticalTo(r.Entry))
			Expect(loop).NotTo(BeNil())
			Expect(exit).NotTo(BeNil())

			Expect(entry.EndIP).To(Equal(uint64(1)))
			Expect(entry.Len()).To(Equal(1))
			Expect(entry.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(entry.Successors()).To(Equal([]*ir.BasicBlock{loop}))

			Expect(loop.EndIP).To(Equal(uint64(5)))
			Expect(loop.Front().Opcode()).To(Equal(ir.OpcodeWriteReg))
			Expect(loop.Terminator().Opcode()).To(Equal(ir.OpcodeJs))
			Expect(loop.Successors()).To(Equal([]*ir.BasicBlock{loop, exit}))
			Expect(loop.Predecessors()).To(ConsistOf(entry, loop))
			Expect(r.Validate()).To(Succeed())
		})

		It("should split at instructions lifted to no IR", func() {
			// mov r2, 1; nop; jcc -3; ret
			r, err := liftCode([]byte{0x07, 0x01, 0x00, 0x03, 0xFD, 0x01})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(3))
			entry, loop, exit := r.Entry, r.BlockAt(2), r.BlockAt(5)
			Expect(loop).NotTo(BeNil())
			Expect(exit).NotTo(BeNil())

			Expect(entry.EndIP).To(Equal(uint64(2)))
			Expect(entry.Len()).To(Equal(2))
			Expect(entry.Front().Opcode()).To(Equal(ir.OpcodeWriteReg))
			Expect(entry.Successors()).To(Equal([]*ir.BasicBlock{loop}))

			Expect(loop.EndIP).To(Equal(uint64(5)))
			Expect(loop.Front().Opcode()).To(Equal(ir.OpcodeReadReg))
			Expect(loop.Successors()).To(Equal([]*ir.BasicBlock{loop, exit}))
			Expect(loop.Predecessors()).To(ConsistOf(entry, loop))
			Expect(r.Validate()).To(Succeed())
		})

		It("should split blocks shortened by an earlier split", func() {
			// mov r2, 1; nop; nop; jcc -3; jmp -6
			r, err := liftCode([]byte{0x07, 0x01, 0x00, 0x00, 0x03, 0xFD, 0x02, 0xFA})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Validate()).To(Succeed())
			Expect(r.Len()).To(Equal(4))
			entry, mid, loop, back := r.Entry, r.BlockAt(2), r.BlockAt(3), r.BlockAt(6)
			Expect(mid).NotTo(BeNil())
			Expect(loop).NotTo(BeNil())
			Expect(back).NotTo(BeNil())

			Expect(entry.EndIP).To(Equal(uint64(2)))
			Expect(entry.Len()).To(Equal(2))
			Expect(entry.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(entry.Successors()).To(Equal([]*ir.BasicBlock{mid}))

			Expect(mid.EndIP).To(Equal(uint64(3)))
			Expect(mid.Len()).To(Equal(1))
			Expect(mid.Terminator().Opcode()).To(Equal(ir.OpcodeJmp))
			Expect(mid.Terminator().Operand(0).Value()).To(BeIdenticalTo(loop))
			Expect(mid.Terminator().IP).To(Equal(uint64(2)))
			Expect(mid.Successors()).To(Equal([]*ir.BasicBlock{loop}))
			Expect(mid.Predecessors()).To(ConsistOf(entry, back))

			Expect(loop.EndIP).To(Equal(uint64(6)))
			Expect(loop.Terminator().Opcode()).To(Equal(ir.OpcodeJs))
			Expect(loop.Successors()).To(Equal([]*ir.BasicBlock{loop, back}))
			Expect(loop.Predecessors()).To(ConsistOf(mid, loop))

			Expect(back.Successors()).To(Equal([]*ir.BasicBlock{mid}))
		})

		It("should lift overlapping blocks on misaligned jumps", func() {
			r, err := liftCode([]byte{0x07, 0x01, 0x02, 0xFD})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(2))
			overlap := r.BlockAt(1)
			Expect(overlap).NotTo(BeNil())
			Expect(overlap.Terminator().Opcode()).To(Equal(ir.OpcodeRet))
			Expect(r.Entry.EndIP).To(Equal(uint64(4)))
			Expect(r.Entry.Successors()).To(Equal([]*ir.BasicBlock{overlap}))
		})

		It("should fail on misaligned jumps if configured to", func() {
			cfg.Misaligned = lift.MisalignedFail
			_, err := liftCode([]byte{0x07, 0x01, 0x02, 0xFD})
			Expect(errors.Cause(err)).To(Equal(lift.ErrMisalignedJump))
		})
	})

	Context("when decoding fails", func() {
		It("should end the block with a trap on undecodable bytes", func() {
			r, err := liftCode([]byte{0xFF})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(1))
			Expect(r.Entry.Len()).To(Equal(1))
			trap := r.Entry.Front()
			Expect(trap.Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(trap.Message).To(ContainSubstring("invalid opcode 0xFF"))
			Expect(r.Entry.Successors()).To(BeEmpty())
		})

		It("should end the block with a trap on truncated instructions", func() {
			r, err := liftCode([]byte{0x00, 0x02})
			Expect(err).NotTo(HaveOccurred())
			trap := r.Entry.Terminator()
			Expect(trap.Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(trap.IP).To(Equal(uint64(1)))
			Expect(trap.Message).To(ContainSubstring("truncated"))
		})

		It("should discard partial IR of unliftable instructions", func() {
			r, err := liftCode([]byte{0x00, 0xFE})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Entry.Len()).To(Equal(1))
			trap := r.Entry.Front()
			Expect(trap.Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(trap.IP).To(Equal(uint64(1)))
			Expect(trap.Message).To(ContainSubstring("not yet implemented"))
			Expect(r.Entry.EndIP).To(Equal(uint64(2)))
		})

		It("should keep lifting sibling blocks", func() {
			r, err := liftCode([]byte{0x03, 0x01, 0x01, 0xFF})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(3))
			Expect(r.BlockAt(3).Terminator().Opcode()).To(Equal(ir.OpcodeTrap))
			Expect(r.BlockAt(2).Terminator().Opcode()).To(Equal(ir.OpcodeRet))
		})
	})

	Context("when addressing fails", func() {
		It("should fail on jumps out of the image", func() {
			l := newLifter([]byte{0x02, 0x10}, nil)
			_, err := l.Lift(ctx, 0, toy)
			Expect(errors.Cause(err)).To(Equal(lift.ErrOutOfBounds))

			m := l.Method(0, toy)
			r, err := m.Wait(ctx, lift.PhaseLift)
			Expect(errors.Cause(err)).To(Equal(lift.ErrOutOfBounds))
			Expect(r).To(BeNil())
			Expect(m.Failed(lift.PhaseLift)).To(BeTrue())
			Expect(m.Routine(lift.PhaseLift)).To(BeNil())
		})

		It("should fail on entry points out of the image", func() {
			_, err := newLifter([]byte{0x01}, nil).Lift(ctx, 0x100, toy)
			Expect(errors.Cause(err)).To(Equal(lift.ErrOutOfBounds))
		})

		It("should bound the number of blocks", func() {
			cfg.MaxBlocks = 2
			_, err := liftCode([]byte{0x02, 0x00, 0x02, 0x00, 0x01})
			Expect(errors.Cause(err)).To(Equal(lift.ErrFailed))
		})
	})

	Context("when lifting repeatedly", func() {
		It("should return the published routine", func() {
			l := newLifter([]byte{0x03, 0x02, 0x01, 0x00, 0x01}, nil)
			r1, err := l.Lift(ctx, 0, toy)
			Expect(err).NotTo(HaveOccurred())
			decodes := toy.decodes.Load()
			r2, err := l.Lift(ctx, 0, toy)
			Expect(err).NotTo(HaveOccurred())
			Expect(r2).To(BeIdenticalTo(r1))
			Expect(toy.decodes.Load()).To(Equal(decodes))
			Expect(l.Method(0, toy).Routine(lift.PhaseLift)).To(BeIdenticalTo(r1))
		})

		It("should join concurrent lifts of the same function", func() {
			l := newLifter([]byte{0x03, 0x02, 0x01, 0x00, 0x01}, nil)
			f1 := l.LiftAsync(ctx, 0, toy)
			f2 := l.LiftAsync(ctx, 0, toy)
			r1, err := f1.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			r2, err := f2.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(r2).To(BeIdenticalTo(r1))
			Expect(toy.decodes.Load()).To(Equal(int64(3)))
			Expect(l.Methods()).To(HaveLen(1))
		})

		It("should lift distinct functions separately", func() {
			l := newLifter([]byte{0x01, 0x01}, nil)
			r0, err := l.Lift(ctx, 0, toy)
			Expect(err).NotTo(HaveOccurred())
			r1, err := l.Lift(ctx, 1, toy)
			Expect(err).NotTo(HaveOccurred())
			Expect(r1).NotTo(BeIdenticalTo(r0))
			ms := l.Methods()
			Expect(ms).To(HaveLen(2))
			Expect(ms[0].RVA).To(Equal(uint64(0)))
			Expect(ms[1].RVA).To(Equal(uint64(1)))
		})
	})

	Context("when canceled", func() {
		It("should discard the partial routine", func() {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			toy.onDecode = cancel
			l := newLifter([]byte{0x00, 0x01}, nil)
			_, err := l.Lift(ctx, 0, toy)
			Expect(errors.Cause(err)).To(Equal(lift.ErrCanceled))

			m := l.Method(0, toy)
			_, err = m.Wait(context.Background(), lift.PhaseLift)
			Expect(errors.Cause(err)).To(Equal(lift.ErrCanceled))
			Expect(m.Failed(lift.PhaseLift)).To(BeTrue())
			Expect(m.Routine(lift.PhaseLift)).To(BeNil())
		})
	})
})

var _ = Describe("Method", func() {
	var (
		l   *lift.Lifter
		toy *toyArch
		ctx context.Context
	)

	BeforeEach(func() {
		toy = &toyArch{}
		l = lift.New(bin.NewRaw(0, "toy", []byte{0x01}), lift.DefaultConfig(), nil)
		ctx = context.Background()
	})

	It("should publish external phases", func() {
		r, err := l.Lift(ctx, 0, toy)
		Expect(err).NotTo(HaveOccurred())
		m := l.Method(0, toy)
		Expect(m.Done(lift.PhaseSSA)).To(BeFalse())
		Expect(m.Begin(lift.PhaseSSA)).To(BeTrue())
		Expect(m.Begin(lift.PhaseSSA)).To(BeFalse())

		go func() {
			defer GinkgoRecover()
			Expect(m.Publish(lift.PhaseSSA, r, nil)).To(Succeed())
		}()
		ssa, err := m.Wait(ctx, lift.PhaseSSA)
		Expect(err).NotTo(HaveOccurred())
		Expect(ssa).To(BeIdenticalTo(r))
		Expect(m.Done(lift.PhaseSSA)).To(BeTrue())
		Expect(m.Failed(lift.PhaseSSA)).To(BeFalse())
		Expect(m.Publish(lift.PhaseSSA, r, nil)).NotTo(Succeed())
	})

	It("should reject publishing phases not begun", func() {
		m := l.Method(0, toy)
		Expect(m.Publish(lift.PhaseOptimized, nil, nil)).NotTo(Succeed())
	})

	It("should reject invalid phases", func() {
		m := l.Method(0, toy)
		phase := lift.Phase(7)
		ok, err := m.Begin(phase)
		Expect(errors.Cause(err)).To(Equal(lift.ErrInvalidPhase))
		Expect(ok).To(BeFalse())
		Expect(errors.Cause(m.Publish(phase, nil, nil))).To(Equal(lift.ErrInvalidPhase))
		_, err = m.Wait(ctx, phase)
		Expect(errors.Cause(err)).To(Equal(lift.ErrInvalidPhase))
		Expect(m.Done(phase)).To(BeFalse())
		Expect(m.Routine(phase)).To(BeNil())
		Expect(phase.String()).To(Equal("phase7"))
	})

	It("should mark phases published without routine failed", func() {
		m := l.Method(0, toy)
		Expect(m.Begin(lift.PhaseOptimized)).To(BeTrue())
		Expect(m.Publish(lift.PhaseOptimized, nil, nil)).To(Succeed())
		_, err := m.Wait(ctx, lift.PhaseOptimized)
		Expect(errors.Cause(err)).To(Equal(lift.ErrFailed))
		Expect(m.Failed(lift.PhaseOptimized)).To(BeTrue())
	})

	It("should stop waiting when canceled", func() {
		m := l.Method(0, toy)
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.Wait(ctx, lift.PhaseSSA)
		Expect(errors.Cause(err)).To(Equal(lift.ErrCanceled))
	})

	It("should name phases", func() {
		Expect(lift.PhaseLift.String()).To(Equal("lift"))
		Expect(lift.PhaseOptimized.String()).To(Equal("optimized"))
	})
})

var _ = Describe("Config", func() {
	It("should validate the misaligned jump policy", func() {
		cfg := lift.DefaultConfig()
		Expect(cfg.Validate()).To(Succeed())
		cfg.Misaligned = "ignore"
		Expect(cfg.Validate()).NotTo(Succeed())
	})
})
