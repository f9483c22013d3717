package symbolic_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/symbolic"
)

func i64(v uint64) ir.Value {
	return ir.Const(ir.NewUint(ir.TypeI64, v))
}

var _ = Describe("Expression", func() {
	var rax, rcx *ir.Instruction

	BeforeEach(func() {
		rax = ir.NewReadReg(ir.TypeI64, 0)
		rcx = ir.NewReadReg(ir.TypeI64, 1)
	})

	Context("when translating operands", func() {
		It("should translate constant operands", func() {
			add := ir.NewBinop(ir.OpAdd, rax, i64(8))
			e := symbolic.ToExpression(add.Operand(2), 4)
			Expect(e).To(Equal(&symbolic.Const{Value: ir.NewUint(ir.TypeI64, 8)}))
		})

		It("should translate detached operands to no expression", func() {
			add := ir.NewBinop(ir.OpAdd, rax, i64(8))
			rax.ReplaceAllUsesWith(nil)
			Expect(symbolic.ToExpression(add.Operand(1), 4)).To(BeNil())
		})

		It("should treat register reads as opaque", func() {
			e := symbolic.FromValue(rax, 4)
			Expect(e).To(Equal(&symbolic.Var{Value: rax}))
			Expect(symbolic.ConcreteValue(e).IsValid()).To(BeFalse())
		})

		It("should bound the expansion depth", func() {
			add := ir.NewBinop(ir.OpAdd, rax, i64(8))
			mul := ir.NewBinop(ir.OpMul, add, i64(2))
			shallow := symbolic.FromValue(mul, 1).(*symbolic.Binary)
			Expect(shallow.X).To(Equal(&symbolic.Var{Value: add}))
			deep := symbolic.FromValue(mul, 2).(*symbolic.Binary)
			Expect(deep.X).To(BeAssignableToTypeOf(&symbolic.Binary{}))
			Expect(symbolic.FromValue(mul, 0)).To(Equal(&symbolic.Var{Value: mul}))
		})

		It("should print expressions", func() {
			add := ir.NewBinop(ir.OpAdd, rax, i64(8))
			cmp := ir.NewCmp(ir.OpUlt, add, i64(0x10))
			Expect(symbolic.FromValue(cmp, 4).String()).To(Equal("(ult (add %0 0x8) 0x10)"))
		})
	})

	Context("when simplifying", func() {
		It("should fold constant subexpressions", func() {
			add := ir.NewBinop(ir.OpAdd, i64(0x1000), i64(0x20))
			ptr := ir.NewBitcast(ir.TypePointer, add)
			c := symbolic.ConcreteValue(symbolic.FromValue(ptr, 4))
			Expect(c.Type()).To(Equal(ir.TypePointer))
			Expect(c.Uint64()).To(Equal(uint64(0x1020)))
		})

		It("should cancel self-inverse operations", func() {
			for _, op := range []ir.Operator{ir.OpXor, ir.OpSub} {
				inst := ir.NewBinop(op, rax, rax)
				c := symbolic.ConcreteValue(symbolic.FromValue(inst, 4))
				Expect(c.IsValid()).To(BeTrue())
				Expect(c.IsZero()).To(BeTrue())
			}
		})

		It("should absorb multiplication and conjunction with zero", func() {
			for _, op := range []ir.Operator{ir.OpAnd, ir.OpMul} {
				inst := ir.NewBinop(op, i64(0), rcx)
				c := symbolic.ConcreteValue(symbolic.FromValue(inst, 4))
				Expect(c.Equal(ir.NewUint(ir.TypeI64, 0))).To(BeTrue())
			}
		})

		It("should drop additive identities", func() {
			add := ir.NewBinop(ir.OpAdd, rcx, i64(0))
			Expect(symbolic.Simplify(symbolic.FromValue(add, 4))).To(Equal(&symbolic.Var{Value: rcx}))
		})

		It("should decide comparisons of equal operands", func() {
			eq := ir.NewCmp(ir.OpEq, rax, rax)
			lt := ir.NewCmp(ir.OpSlt, rax, rax)
			Expect(symbolic.ConcreteValue(symbolic.FromValue(eq, 4)).Bool()).To(BeTrue())
			c := symbolic.ConcreteValue(symbolic.FromValue(lt, 4))
			Expect(c.IsValid()).To(BeTrue())
			Expect(c.Bool()).To(BeFalse())
		})

		It("should select on constant conditions", func() {
			cond := ir.NewCmp(ir.OpUlt, i64(1), i64(2))
			sel := ir.NewSelect(cond, i64(0x401000), rcx)
			c := symbolic.ConcreteValue(symbolic.FromValue(sel, 4))
			Expect(c.Uint64()).To(Equal(uint64(0x401000)))
		})

		It("should select between equal operands", func() {
			cond := ir.NewCmp(ir.OpUlt, rax, rcx)
			sel := ir.NewSelect(cond, i64(0x10), i64(0x10))
			Expect(symbolic.ConcreteValue(symbolic.FromValue(sel, 4)).Uint64()).To(Equal(uint64(0x10)))
		})

		It("should not cancel floating-point operations", func() {
			x := ir.NewReadReg(ir.TypeF64, 2)
			sub := ir.NewBinop(ir.OpSub, x, x)
			Expect(symbolic.ConcreteValue(symbolic.FromValue(sub, 4)).IsValid()).To(BeFalse())
		})

		It("should leave undefined operations unevaluated", func() {
			div := ir.NewBinop(ir.OpUDiv, i64(1), i64(0))
			Expect(symbolic.ConcreteValue(symbolic.FromValue(div, 4)).IsValid()).To(BeFalse())
		})
	})

	Context("when binding values", func() {
		It("should evaluate expressions over bound registers", func() {
			add := ir.NewBinop(ir.OpAdd, rax, rcx)
			shl := ir.NewBinop(ir.OpShl, add, i64(4))
			env := func(v ir.Value) (ir.Constant, bool) {
				switch v {
				case rax:
					return ir.NewUint(ir.TypeI64, 1), true
				case rcx:
					return ir.NewUint(ir.TypeI64, 2), true
				}
				return ir.Constant{}, false
			}
			e := symbolic.Bind(symbolic.FromValue(shl, 4), env)
			Expect(symbolic.ConcreteValue(e).Uint64()).To(Equal(uint64(0x30)))
		})
	})
})
