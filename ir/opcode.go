package ir

// Opcode is the operation performed by an instruction.
type Opcode uint8

// Opcodes.
const (
	OpcodeInvalid Opcode = iota

	// Register and memory access.
	OpcodeReadReg
	OpcodeWriteReg
	OpcodeLoad
	OpcodeStore

	// Arithmetic.
	OpcodeUnop
	OpcodeBinop
	OpcodeCmp
	OpcodeCastZX
	OpcodeCastSX
	OpcodeBitcast
	OpcodeSelect
	OpcodeExtract
	OpcodeInsert
	OpcodePhi
	OpcodeUndef

	// Calls.
	OpcodeCall

	// Terminators.
	OpcodeJmp
	OpcodeJs
	OpcodeXjmp
	OpcodeXjs
	OpcodeRet
	OpcodeTrap
	OpcodeUnreachable

	numOpcodes
)

// typeSpec specifies the expected type of an operand or result.
type typeSpec struct {
	// Fixed type; used if tmpl < 0.
	t Type
	// Index of the template type slot providing the type; -1 if fixed.
	tmpl int8
	// Operand must be a constant.
	constant bool
}

func fixed(t Type) typeSpec   { return typeSpec{t: t, tmpl: -1} }
func tmpl(i int8) typeSpec    { return typeSpec{tmpl: i} }
func constOf(t Type) typeSpec { return typeSpec{t: t, tmpl: -1, constant: true} }

// opcodeInfo describes an opcode.
type opcodeInfo struct {
	name string
	// Number of template types carried by instructions of the opcode.
	templates int
	result    typeSpec
	args      []typeSpec
	// The last argument may repeat any number of times (including zero).
	variadic   bool
	sideEffect bool
	terminator bool
}

var none = fixed(TypeNone)

var opcodes = [numOpcodes]opcodeInfo{
	OpcodeInvalid:     {name: "invalid", result: none},
	OpcodeReadReg:     {name: "read_reg", templates: 1, result: tmpl(0), args: []typeSpec{constOf(TypeReg)}},
	OpcodeWriteReg:    {name: "write_reg", templates: 1, result: none, args: []typeSpec{constOf(TypeReg), tmpl(0)}, sideEffect: true},
	OpcodeLoad:        {name: "load", templates: 1, result: tmpl(0), args: []typeSpec{fixed(TypePointer)}, sideEffect: true},
	OpcodeStore:       {name: "store", templates: 1, result: none, args: []typeSpec{fixed(TypePointer), tmpl(0)}, sideEffect: true},
	OpcodeUnop:        {name: "unop", templates: 1, result: tmpl(0), args: []typeSpec{constOf(TypeOp), tmpl(0)}},
	OpcodeBinop:       {name: "binop", templates: 1, result: tmpl(0), args: []typeSpec{constOf(TypeOp), tmpl(0), tmpl(0)}},
	OpcodeCmp:         {name: "cmp", templates: 1, result: fixed(TypeI1), args: []typeSpec{constOf(TypeOp), tmpl(0), tmpl(0)}},
	OpcodeCastZX:      {name: "cast_zx", templates: 2, result: tmpl(0), args: []typeSpec{tmpl(1)}},
	OpcodeCastSX:      {name: "cast_sx", templates: 2, result: tmpl(0), args: []typeSpec{tmpl(1)}},
	OpcodeBitcast:     {name: "bitcast", templates: 2, result: tmpl(0), args: []typeSpec{tmpl(1)}},
	OpcodeSelect:      {name: "select", templates: 1, result: tmpl(0), args: []typeSpec{fixed(TypeI1), tmpl(0), tmpl(0)}},
	OpcodeExtract:     {name: "extract", templates: 2, result: tmpl(0), args: []typeSpec{tmpl(1), constOf(TypeI32)}},
	OpcodeInsert:      {name: "insert", templates: 2, result: tmpl(0), args: []typeSpec{tmpl(0), constOf(TypeI32), tmpl(1)}},
	OpcodePhi:         {name: "phi", templates: 1, result: tmpl(0), args: []typeSpec{tmpl(0)}, variadic: true},
	OpcodeUndef:       {name: "undef", templates: 1, result: tmpl(0)},
	OpcodeCall:        {name: "call", result: none, args: []typeSpec{fixed(TypePointer)}, sideEffect: true},
	OpcodeJmp:         {name: "jmp", result: none, args: []typeSpec{fixed(TypeLabel)}, sideEffect: true, terminator: true},
	OpcodeJs:          {name: "js", result: none, args: []typeSpec{fixed(TypeI1), fixed(TypeLabel), fixed(TypeLabel)}, sideEffect: true, terminator: true},
	OpcodeXjmp:        {name: "xjmp", result: none, args: []typeSpec{fixed(TypePointer)}, sideEffect: true, terminator: true},
	OpcodeXjs:         {name: "xjs", result: none, args: []typeSpec{fixed(TypeI1), fixed(TypePointer), fixed(TypePointer)}, sideEffect: true, terminator: true},
	OpcodeRet:         {name: "ret", result: none, args: []typeSpec{fixed(TypePointer)}, sideEffect: true, terminator: true},
	OpcodeTrap:        {name: "trap", result: none, sideEffect: true, terminator: true},
	OpcodeUnreachable: {name: "unreachable", result: none, sideEffect: true, terminator: true},
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if op >= numOpcodes {
		return "invalid"
	}
	return opcodes[op].name
}

// IsTerminator reports whether instructions of the opcode end a basic block.
func (op Opcode) IsTerminator() bool { return op < numOpcodes && opcodes[op].terminator }

// HasSideEffect reports whether instructions of the opcode have effects other
// than producing their result.
func (op Opcode) HasSideEffect() bool { return op < numOpcodes && opcodes[op].sideEffect }

// IsPure reports whether instructions of the opcode only compute a result from
// their operands.
func (op Opcode) IsPure() bool { return op > OpcodeInvalid && op < numOpcodes && !opcodes[op].sideEffect }

// NumTemplates returns the number of template types carried by instructions
// of the opcode.
func (op Opcode) NumTemplates() int {
	if op >= numOpcodes {
		return 0
	}
	return opcodes[op].templates
}
