package ir

// operandKind discriminates the contents of an operand.
type operandKind uint8

const (
	operandConst operandKind = iota
	operandUse
)

// Operand is an instruction operand slot holding either a constant or a use
// of another value. The zero Operand (and any operand after Reset) holds the
// "no value" constant.
type Operand struct {
	kind operandKind
	c    Constant
	use  Use
}

// IsConstant reports whether the operand holds a constant.
func (op *Operand) IsConstant() bool { return op.kind == operandConst }

// IsValue reports whether the operand references a value.
func (op *Operand) IsValue() bool { return op.kind == operandUse }

// Constant returns the constant held by the operand; "no value" if the
// operand references a value.
func (op *Operand) Constant() Constant {
	if op.kind != operandConst {
		return Constant{}
	}
	return op.c
}

// Value returns the value referenced by the operand, or nil if the operand
// holds a constant or is detached.
func (op *Operand) Value() Value {
	if op.kind != operandUse {
		return nil
	}
	return op.use.value
}

// Use returns the use embedded in the operand, or nil if the operand holds a
// constant.
func (op *Operand) Use() *Use {
	if op.kind != operandUse {
		return nil
	}
	return &op.use
}

// Type returns the type of the constant or referenced value; TypeNone if the
// operand is detached.
func (op *Operand) Type() Type {
	if op.kind == operandConst {
		return op.c.Type()
	}
	if op.use.value == nil {
		return TypeNone
	}
	return op.use.value.Type()
}

// Reset releases the use held by the operand, if any, leaving the operand
// holding the "no value" constant.
func (op *Operand) Reset() {
	if op.kind == operandUse {
		op.use.unlink()
	}
	op.kind = operandConst
	op.c = Constant{}
}

// SetConstant replaces the contents of the operand with the constant c.
func (op *Operand) SetConstant(c Constant) {
	op.Reset()
	op.c = c
}

// SetValue replaces the contents of the operand with a use of v. Constant
// values are stored as constants.
func (op *Operand) SetValue(v Value) {
	if cv, ok := v.(*ConstantValue); ok {
		op.SetConstant(cv.Constant)
		return
	}
	op.Reset()
	if v == nil {
		return
	}
	op.kind = operandUse
	op.use.set(v)
}

// String returns the textual form of the operand.
func (op *Operand) String() string {
	switch {
	case op.kind == operandConst:
		return op.c.String()
	case op.use.value == nil:
		return "<detached>"
	}
	return op.use.value.Ident()
}
