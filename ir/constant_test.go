package ir

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Constant", func() {
	Context("integer arithmetic", func() {
		It("should wrap around at the type width", func() {
			c := NewUint(TypeI8, 0xFF).Apply(OpAdd, NewUint(TypeI8, 1))
			Expect(c.Type()).To(Equal(TypeI8))
			Expect(c.Uint64()).To(Equal(uint64(0)))
		})

		It("should yield no value on division by zero", func() {
			for _, op := range []Operator{OpUDiv, OpSDiv, OpURem, OpSRem} {
				c := NewUint(TypeI32, 10).Apply(op, NewUint(TypeI32, 0))
				Expect(c.IsValid()).To(BeFalse(), op.String())
			}
		})

		It("should dispatch signed operators on sign-extended operands", func() {
			x := NewInt(TypeI32, -7)
			Expect(x.Apply(OpSDiv, NewInt(TypeI32, 2)).Int64()).To(Equal(int64(-3)))
			Expect(x.Apply(OpSRem, NewInt(TypeI32, 2)).Int64()).To(Equal(int64(-1)))
			Expect(x.Apply(OpUDiv, NewInt(TypeI32, 2)).Uint64()).To(Equal(uint64(0x7FFFFFFC)))
		})

		It("should compare signed and unsigned", func() {
			x, y := NewInt(TypeI32, -1), NewInt(TypeI32, 1)
			Expect(x.Apply(OpUlt, y).Bool()).To(BeFalse())
			Expect(x.Apply(OpSlt, y).Bool()).To(BeTrue())
			Expect(x.Apply(OpSge, y).Type()).To(Equal(TypeI1))
		})

		It("should handle 128-bit integers", func() {
			c := NewI128(1<<63, 0).Apply(OpMul, NewI128(2, 0))
			Expect(c.Equal(NewI128(0, 1))).To(BeTrue())
			Expect(NewInt(TypeI128, -1).Equal(NewI128(math.MaxUint64, math.MaxUint64))).To(BeTrue())
		})

		It("should shift and rotate", func() {
			Expect(NewUint(TypeI8, 0x80).Apply(OpAShr, NewUint(TypeI8, 7)).Uint64()).To(Equal(uint64(0xFF)))
			Expect(NewUint(TypeI8, 0x80).Apply(OpLShr, NewUint(TypeI8, 7)).Uint64()).To(Equal(uint64(1)))
			Expect(NewUint(TypeI8, 0x81).Apply(OpRotl, NewUint(TypeI8, 1)).Uint64()).To(Equal(uint64(0x03)))
			Expect(NewUint(TypeI8, 0x81).Apply(OpRotr, NewUint(TypeI8, 1)).Uint64()).To(Equal(uint64(0xC0)))
			Expect(NewUint(TypeI8, 1).Apply(OpShl, NewUint(TypeI8, 8)).IsValid()).To(BeFalse())
		})

		It("should apply unary operators", func() {
			Expect(NewUint(TypeI16, 0x00F0).Apply(OpCtz, Constant{}).Uint64()).To(Equal(uint64(4)))
			Expect(NewUint(TypeI16, 0x00F0).Apply(OpClz, Constant{}).Uint64()).To(Equal(uint64(8)))
			Expect(NewUint(TypeI16, 0x00F0).Apply(OpPopcnt, Constant{}).Uint64()).To(Equal(uint64(4)))
			Expect(NewUint(TypeI32, 0x11223344).Apply(OpBswap, Constant{}).Uint64()).To(Equal(uint64(0x44332211)))
			Expect(NewInt(TypeI64, 5).Apply(OpNeg, Constant{}).Int64()).To(Equal(int64(-5)))
		})

		It("should reject mismatched operand widths", func() {
			Expect(NewUint(TypeI32, 1).Apply(OpAdd, NewUint(TypeI64, 1)).IsValid()).To(BeFalse())
		})
	})

	Context("floating-point arithmetic", func() {
		It("should compute in the type precision", func() {
			Expect(NewF64(1.5).Apply(OpAdd, NewF64(2.25)).Float64()).To(Equal(3.75))
			Expect(NewF32(1).Apply(OpSDiv, NewF32(4)).Float64()).To(Equal(0.25))
			Expect(NewF64(1).Apply(OpUDiv, NewF64(0)).IsValid()).To(BeFalse())
			Expect(NewF64(1).Apply(OpSlt, NewF64(2)).Bool()).To(BeTrue())
		})

		It("should round-trip 80-bit extended precision", func() {
			for _, f := range []float64{0, 1.5, -3.25, 1e300, math.Inf(-1)} {
				Expect(NewF80(f).Float64()).To(Equal(f))
			}
			Expect(math.IsNaN(NewF80(math.NaN()).Float64())).To(BeTrue())
		})
	})

	Context("vector arithmetic", func() {
		It("should apply operators lane-wise", func() {
			x := NewConstant(TypeI32x4, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
			y := NewConstant(TypeI32x4, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})
			z := x.Apply(OpAdd, y)
			Expect(z.Lane(0).Uint64()).To(Equal(uint64(2)))
			Expect(z.Lane(2).Uint64()).To(Equal(uint64(4)))
			Expect(z.Lane(3).Uint64()).To(Equal(uint64(0)))
		})

		It("should compare whole vectors for equality only", func() {
			x := NewConstant(TypeF64x4, make([]byte, 32))
			Expect(x.Apply(OpEq, x).Bool()).To(BeTrue())
			Expect(x.Apply(OpNe, x).Bool()).To(BeFalse())
			Expect(x.Apply(OpUlt, x).IsValid()).To(BeFalse())
		})

		It("should keep out of line payloads independent", func() {
			b := make([]byte, 32)
			x := NewConstant(TypeI64x4, b)
			b[0] = 1
			Expect(x.IsZero()).To(BeTrue())
			Expect(x.Equal(NewConstant(TypeI64x4, nil))).To(BeTrue())
		})
	})

	Context("casts", func() {
		It("should zero- and sign-extend integers", func() {
			Expect(NewUint(TypeI8, 0xFF).CastZX(TypeI32).Uint64()).To(Equal(uint64(0xFF)))
			Expect(NewUint(TypeI8, 0xFF).CastSX(TypeI32).Uint64()).To(Equal(uint64(0xFFFFFFFF)))
			Expect(NewUint(TypeI64, 0x1234).CastZX(TypeI8).Uint64()).To(Equal(uint64(0x34)))
			Expect(NewInt(TypeI32, -2).CastSX(TypeI128).Equal(NewInt(TypeI128, -2))).To(BeTrue())
		})

		It("should convert booleans", func() {
			Expect(NewBool(true).CastZX(TypeI16).Uint64()).To(Equal(uint64(1)))
			Expect(NewBool(true).CastSX(TypeI16).Uint64()).To(Equal(uint64(0xFFFF)))
			Expect(NewUint(TypeI32, 7).CastZX(TypeI1).Bool()).To(BeTrue())
			Expect(NewF64(0).CastZX(TypeI1).Bool()).To(BeFalse())
		})

		It("should convert between integers and floats", func() {
			Expect(NewInt(TypeI32, -1).CastSX(TypeF64).Float64()).To(Equal(-1.0))
			Expect(NewInt(TypeI32, -1).CastZX(TypeF64).Float64()).To(Equal(4294967295.0))
			Expect(NewF64(3.7).CastSX(TypeI32).Int64()).To(Equal(int64(3)))
			Expect(NewF64(-1).CastZX(TypeI32).IsValid()).To(BeFalse())
			Expect(NewF64(300).CastSX(TypeI8).IsValid()).To(BeFalse())
			Expect(NewF64(0.5).CastZX(TypeF32).Float64()).To(Equal(0.5))
		})

		It("should bitcast equal widths only", func() {
			Expect(NewF64(1).Bitcast(TypeI64).Uint64()).To(Equal(math.Float64bits(1)))
			Expect(NewUint(TypeI32, 1).Bitcast(TypeI64).IsValid()).To(BeFalse())
			Expect(NewI128(1, 2).Bitcast(TypeI64x2).Lane(1).Uint64()).To(Equal(uint64(2)))
			Expect(NewUint(TypeI32, 0x1000).Bitcast(TypePointer).Equal(NewPointer(0x1000))).To(BeTrue())
			Expect(NewPointer(0x100001000).Bitcast(TypeI32).Uint64()).To(Equal(uint64(0x1000)))
			Expect(NewReg(1).Bitcast(TypeI32).IsValid()).To(BeFalse())
		})
	})
})

var _ = Describe("Operator", func() {
	It("should expose signed and unsigned counterparts", func() {
		Expect(OpUDiv.Signed()).To(Equal(OpSDiv))
		Expect(OpSlt.Unsigned()).To(Equal(OpUlt))
		Expect(OpAdd.Signed()).To(Equal(OpAdd))
		Expect(OpAShr.IsSigned()).To(BeTrue())
		Expect(OpEq.IsSigned()).To(BeFalse())
	})

	It("should expose commutativity and inverses", func() {
		Expect(OpAdd.IsCommutative()).To(BeTrue())
		Expect(OpSub.IsCommutative()).To(BeFalse())
		Expect(OpAdd.Inverse()).To(Equal(OpSub))
		Expect(OpUlt.Inverse()).To(Equal(OpUge))
		Expect(OpMul.Inverse()).To(Equal(OpNone))
		Expect(OpSle.Swapped()).To(Equal(OpSge))
		Expect(OpShl.Swapped()).To(Equal(OpNone))
	})
})
