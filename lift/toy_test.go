package lift_test

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/ir"
)

// toyArch is a byte-coded architecture:
//
//	00       nop
//	01       ret
//	02 rel8  jmp rel8
//	03 rel8  jcc rel8, on r0
//	04       jmp r1
//	05 imm8  jmp (r1 ^ r1) + imm8
//	06 rel8  jcc rel8, on r1 == r1
//	07 imm8  mov r2, imm8
//	FD       hlt
//	FE       unliftable
//
// Any other opcode is undecodable.
type toyArch struct {
	// Number of decoded instructions.
	decodes atomic.Int64
	// Invoked on every decode.
	onDecode func()
}

const toyID ir.ArchID = 200

var toyLens = map[byte]int{
	0x00: 1, 0x01: 1, 0x02: 2, 0x03: 2, 0x04: 1,
	0x05: 2, 0x06: 2, 0x07: 2, 0xFD: 1, 0xFE: 1,
}

type toyInst struct {
	op, imm byte
}

func (inst toyInst) String() string {
	return fmt.Sprintf("%02X %02X", inst.op, inst.imm)
}

func (a *toyArch) ID() ir.ArchID             { return toyID }
func (a *toyArch) Name() string              { return "toy" }
func (a *toyArch) RegName(reg uint32) string { return fmt.Sprintf("r%d", reg) }

func (a *toyArch) Disassemble(code []byte, va uint64) (*arch.Inst, error) {
	a.decodes.Add(1)
	if a.onDecode != nil {
		a.onDecode()
	}
	n, ok := toyLens[code[0]]
	if !ok {
		return nil, errors.Errorf("invalid opcode 0x%02X at 0x%X", code[0], va)
	}
	if len(code) < n {
		return nil, errors.Errorf("truncated instruction at 0x%X", va)
	}
	inst := toyInst{op: code[0]}
	if n == 2 {
		inst.imm = code[1]
	}
	return &arch.Inst{Addr: va, Len: n, Data: inst}, nil
}

func ptr(addr uint64) ir.Value {
	return ir.Const(ir.NewPointer(addr))
}

func i64(v uint64) ir.Value {
	return ir.Const(ir.NewUint(ir.TypeI64, v))
}

func (a *toyArch) Lift(b *ir.BasicBlock, inst *arch.Inst) error {
	ti := inst.Data.(toyInst)
	next := inst.Addr + uint64(inst.Len)
	rel := next + uint64(int64(int8(ti.imm)))
	switch ti.op {
	case 0x00:
	case 0x01:
		b.Append(ir.NewRet(ptr(0)))
	case 0x02:
		b.Append(ir.NewXjmp(ptr(rel)))
	case 0x03:
		cond := b.Append(ir.NewReadReg(ir.TypeI1, 0))
		b.Append(ir.NewXjs(cond, ptr(rel), ptr(next)))
	case 0x04:
		x := b.Append(ir.NewReadReg(ir.TypeI64, 1))
		target := b.Append(ir.NewBitcast(ir.TypePointer, x))
		b.Append(ir.NewXjmp(target))
	case 0x05:
		x := b.Append(ir.NewReadReg(ir.TypeI64, 1))
		zero := b.Append(ir.NewBinop(ir.OpXor, x, x))
		sum := b.Append(ir.NewBinop(ir.OpAdd, zero, i64(uint64(ti.imm))))
		target := b.Append(ir.NewBitcast(ir.TypePointer, sum))
		b.Append(ir.NewXjmp(target))
	case 0x06:
		x := b.Append(ir.NewReadReg(ir.TypeI64, 1))
		cond := b.Append(ir.NewCmp(ir.OpEq, x, x))
		b.Append(ir.NewXjs(cond, ptr(rel), ptr(next)))
	case 0x07:
		b.Append(ir.NewWriteReg(2, i64(uint64(ti.imm))))
	case 0xFD:
		b.Append(ir.NewTrap("halt"))
	case 0xFE:
		b.Append(ir.NewReadReg(ir.TypeI64, 1))
		return errors.Errorf("support for instruction %v not yet implemented", inst)
	}
	return nil
}
