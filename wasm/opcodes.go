package wasm

import "math/bits"

// Opcode is a single-byte bytecode operation. Statement opcodes occupy
// 0x00-0x0d, expression opcodes with immediates 0x10-0x1b, and the
// simple (pure signature-driven) expression opcodes the blocks above
// 0x20, grouped per operand type.
type Opcode = byte

// Statement opcodes.
const (
	OpcodeNop          Opcode = 0x00
	OpcodeIf           Opcode = 0x01
	OpcodeIfThen       Opcode = 0x02
	OpcodeBlock        Opcode = 0x03
	OpcodeSwitch       Opcode = 0x04
	OpcodeSwitchNf     Opcode = 0x05
	OpcodeLoop         Opcode = 0x06
	OpcodeContinue     Opcode = 0x07
	OpcodeBreak        Opcode = 0x08
	OpcodeReturn       Opcode = 0x09
	OpcodeInfiniteLoop Opcode = 0x0a
	OpcodeSetLocal     Opcode = 0x0b
	OpcodeStoreGlobal  Opcode = 0x0c
	OpcodeStoreMem     Opcode = 0x0d
)

// Expression opcodes with immediates or non-uniform typing.
const (
	OpcodeI8Const      Opcode = 0x10
	OpcodeI32Const     Opcode = 0x11
	OpcodeI64Const     Opcode = 0x12
	OpcodeF32Const     Opcode = 0x13
	OpcodeF64Const     Opcode = 0x14
	OpcodeGetLocal     Opcode = 0x15
	OpcodeLoadGlobal   Opcode = 0x16
	OpcodeLoadMem      Opcode = 0x17
	OpcodeCallFunction Opcode = 0x18
	OpcodeTernary      Opcode = 0x19
	OpcodeComma        Opcode = 0x1a
	OpcodeBoolNot      Opcode = 0x1b
)

// Simple i32 expression opcodes.
const (
	OpcodeI32Add Opcode = 0x20 + iota
	OpcodeI32Sub
	OpcodeI32Mul
	OpcodeI32DivS
	OpcodeI32DivU
	OpcodeI32RemS
	OpcodeI32RemU
	OpcodeI32And
	OpcodeI32Ior
	OpcodeI32Xor
	OpcodeI32Shl
	OpcodeI32ShrU
	OpcodeI32ShrS
	OpcodeI32Eq
	OpcodeI32Ne
	OpcodeI32LtS
	OpcodeI32LeS
	OpcodeI32LtU
	OpcodeI32LeU
	OpcodeI32GtS
	OpcodeI32GeS
	OpcodeI32GtU
	OpcodeI32GeU
)

// Simple i64 expression opcodes. The block mirrors the i32 block at a
// fixed offset so the two stay in lockstep.
const (
	OpcodeI64Add Opcode = 0x40 + iota
	OpcodeI64Sub
	OpcodeI64Mul
	OpcodeI64DivS
	OpcodeI64DivU
	OpcodeI64RemS
	OpcodeI64RemU
	OpcodeI64And
	OpcodeI64Ior
	OpcodeI64Xor
	OpcodeI64Shl
	OpcodeI64ShrU
	OpcodeI64ShrS
	OpcodeI64Eq
	OpcodeI64Ne
	OpcodeI64LtS
	OpcodeI64LeS
	OpcodeI64LtU
	OpcodeI64LeU
	OpcodeI64GtS
	OpcodeI64GeS
	OpcodeI64GtU
	OpcodeI64GeU
)

// Simple f32 expression opcodes.
const (
	OpcodeF32Add Opcode = 0x60 + iota
	OpcodeF32Sub
	OpcodeF32Mul
	OpcodeF32Div
	OpcodeF32Abs
	OpcodeF32Neg
	OpcodeF32Sqrt
	OpcodeF32Eq
	OpcodeF32Ne
	OpcodeF32Lt
	OpcodeF32Le
	OpcodeF32Gt
	OpcodeF32Ge
)

// Simple f64 expression opcodes.
const (
	OpcodeF64Add Opcode = 0x70 + iota
	OpcodeF64Sub
	OpcodeF64Mul
	OpcodeF64Div
	OpcodeF64Abs
	OpcodeF64Neg
	OpcodeF64Sqrt
	OpcodeF64Eq
	OpcodeF64Ne
	OpcodeF64Lt
	OpcodeF64Le
	OpcodeF64Gt
	OpcodeF64Ge
)

// Conversion opcodes.
const (
	OpcodeI32SConvertF32 Opcode = 0x90 + iota
	OpcodeI32SConvertF64
	OpcodeI32UConvertF32
	OpcodeI32UConvertF64
	OpcodeI32ConvertI64
	OpcodeI64SConvertI32
	OpcodeI64UConvertI32
	OpcodeF32SConvertI32
	OpcodeF32UConvertI32
	OpcodeF32ConvertF64
	OpcodeF64SConvertI32
	OpcodeF64UConvertI32
	OpcodeF64ConvertF32
)

var opcodeNames = map[Opcode]string{
	OpcodeNop:          "Nop",
	OpcodeIf:           "If",
	OpcodeIfThen:       "IfThen",
	OpcodeBlock:        "Block",
	OpcodeSwitch:       "Switch",
	OpcodeSwitchNf:     "SwitchNf",
	OpcodeLoop:         "Loop",
	OpcodeContinue:     "Continue",
	OpcodeBreak:        "Break",
	OpcodeReturn:       "Return",
	OpcodeInfiniteLoop: "InfiniteLoop",
	OpcodeSetLocal:     "SetLocal",
	OpcodeStoreGlobal:  "StoreGlobal",
	OpcodeStoreMem:     "StoreMem",

	OpcodeI8Const:      "I8Const",
	OpcodeI32Const:     "I32Const",
	OpcodeI64Const:     "I64Const",
	OpcodeF32Const:     "F32Const",
	OpcodeF64Const:     "F64Const",
	OpcodeGetLocal:     "GetLocal",
	OpcodeLoadGlobal:   "LoadGlobal",
	OpcodeLoadMem:      "LoadMem",
	OpcodeCallFunction: "CallFunction",
	OpcodeTernary:      "Ternary",
	OpcodeComma:        "Comma",
	OpcodeBoolNot:      "BoolNot",

	OpcodeI32Add: "I32Add", OpcodeI32Sub: "I32Sub", OpcodeI32Mul: "I32Mul",
	OpcodeI32DivS: "I32DivS", OpcodeI32DivU: "I32DivU",
	OpcodeI32RemS: "I32RemS", OpcodeI32RemU: "I32RemU",
	OpcodeI32And: "I32And", OpcodeI32Ior: "I32Ior", OpcodeI32Xor: "I32Xor",
	OpcodeI32Shl: "I32Shl", OpcodeI32ShrU: "I32ShrU", OpcodeI32ShrS: "I32ShrS",
	OpcodeI32Eq: "I32Eq", OpcodeI32Ne: "I32Ne",
	OpcodeI32LtS: "I32LtS", OpcodeI32LeS: "I32LeS",
	OpcodeI32LtU: "I32LtU", OpcodeI32LeU: "I32LeU",
	OpcodeI32GtS: "I32GtS", OpcodeI32GeS: "I32GeS",
	OpcodeI32GtU: "I32GtU", OpcodeI32GeU: "I32GeU",

	OpcodeI64Add: "I64Add", OpcodeI64Sub: "I64Sub", OpcodeI64Mul: "I64Mul",
	OpcodeI64DivS: "I64DivS", OpcodeI64DivU: "I64DivU",
	OpcodeI64RemS: "I64RemS", OpcodeI64RemU: "I64RemU",
	OpcodeI64And: "I64And", OpcodeI64Ior: "I64Ior", OpcodeI64Xor: "I64Xor",
	OpcodeI64Shl: "I64Shl", OpcodeI64ShrU: "I64ShrU", OpcodeI64ShrS: "I64ShrS",
	OpcodeI64Eq: "I64Eq", OpcodeI64Ne: "I64Ne",
	OpcodeI64LtS: "I64LtS", OpcodeI64LeS: "I64LeS",
	OpcodeI64LtU: "I64LtU", OpcodeI64LeU: "I64LeU",
	OpcodeI64GtS: "I64GtS", OpcodeI64GeS: "I64GeS",
	OpcodeI64GtU: "I64GtU", OpcodeI64GeU: "I64GeU",

	OpcodeF32Add: "F32Add", OpcodeF32Sub: "F32Sub", OpcodeF32Mul: "F32Mul",
	OpcodeF32Div: "F32Div", OpcodeF32Abs: "F32Abs", OpcodeF32Neg: "F32Neg",
	OpcodeF32Sqrt: "F32Sqrt", OpcodeF32Eq: "F32Eq", OpcodeF32Ne: "F32Ne",
	OpcodeF32Lt: "F32Lt", OpcodeF32Le: "F32Le",
	OpcodeF32Gt: "F32Gt", OpcodeF32Ge: "F32Ge",

	OpcodeF64Add: "F64Add", OpcodeF64Sub: "F64Sub", OpcodeF64Mul: "F64Mul",
	OpcodeF64Div: "F64Div", OpcodeF64Abs: "F64Abs", OpcodeF64Neg: "F64Neg",
	OpcodeF64Sqrt: "F64Sqrt", OpcodeF64Eq: "F64Eq", OpcodeF64Ne: "F64Ne",
	OpcodeF64Lt: "F64Lt", OpcodeF64Le: "F64Le",
	OpcodeF64Gt: "F64Gt", OpcodeF64Ge: "F64Ge",

	OpcodeI32SConvertF32: "I32SConvertF32",
	OpcodeI32SConvertF64: "I32SConvertF64",
	OpcodeI32UConvertF32: "I32UConvertF32",
	OpcodeI32UConvertF64: "I32UConvertF64",
	OpcodeI32ConvertI64:  "I32ConvertI64",
	OpcodeI64SConvertI32: "I64SConvertI32",
	OpcodeI64UConvertI32: "I64UConvertI32",
	OpcodeF32SConvertI32: "F32SConvertI32",
	OpcodeF32UConvertI32: "F32UConvertI32",
	OpcodeF32ConvertF64:  "F32ConvertF64",
	OpcodeF64SConvertI32: "F64SConvertI32",
	OpcodeF64UConvertI32: "F64UConvertI32",
	OpcodeF64ConvertF32:  "F64ConvertF32",
}

// OpcodeName returns the canonical name of an opcode, or "unknown".
func OpcodeName(op Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown"
}

var opcodeSigs map[Opcode]*FunctionSig

func init() {
	ss := NewSigSet()
	i_ii := ss.Intern(ValueTypeI32, ValueTypeI32, ValueTypeI32)
	i_i := ss.Intern(ValueTypeI32, ValueTypeI32)
	l_ll := ss.Intern(ValueTypeI64, ValueTypeI64, ValueTypeI64)
	i_ll := ss.Intern(ValueTypeI32, ValueTypeI64, ValueTypeI64)
	f_ff := ss.Intern(ValueTypeF32, ValueTypeF32, ValueTypeF32)
	f_f := ss.Intern(ValueTypeF32, ValueTypeF32)
	i_ff := ss.Intern(ValueTypeI32, ValueTypeF32, ValueTypeF32)
	d_dd := ss.Intern(ValueTypeF64, ValueTypeF64, ValueTypeF64)
	d_d := ss.Intern(ValueTypeF64, ValueTypeF64)
	i_dd := ss.Intern(ValueTypeI32, ValueTypeF64, ValueTypeF64)
	i_f := ss.Intern(ValueTypeI32, ValueTypeF32)
	i_d := ss.Intern(ValueTypeI32, ValueTypeF64)
	i_l := ss.Intern(ValueTypeI32, ValueTypeI64)
	l_i := ss.Intern(ValueTypeI64, ValueTypeI32)
	f_i := ss.Intern(ValueTypeF32, ValueTypeI32)
	f_d := ss.Intern(ValueTypeF32, ValueTypeF64)
	d_i := ss.Intern(ValueTypeF64, ValueTypeI32)
	d_f := ss.Intern(ValueTypeF64, ValueTypeF32)

	opcodeSigs = map[Opcode]*FunctionSig{
		OpcodeBoolNot: i_i,

		OpcodeI32SConvertF32: i_f,
		OpcodeI32SConvertF64: i_d,
		OpcodeI32UConvertF32: i_f,
		OpcodeI32UConvertF64: i_d,
		OpcodeI32ConvertI64:  i_l,
		OpcodeI64SConvertI32: l_i,
		OpcodeI64UConvertI32: l_i,
		OpcodeF32SConvertI32: f_i,
		OpcodeF32UConvertI32: f_i,
		OpcodeF32ConvertF64:  f_d,
		OpcodeF64SConvertI32: d_i,
		OpcodeF64UConvertI32: d_i,
		OpcodeF64ConvertF32:  d_f,
	}

	for op := OpcodeI32Add; op <= OpcodeI32GeU; op++ {
		opcodeSigs[op] = i_ii
	}
	for op := OpcodeI64Add; op <= OpcodeI64ShrS; op++ {
		opcodeSigs[op] = l_ll
	}
	for op := OpcodeI64Eq; op <= OpcodeI64GeU; op++ {
		opcodeSigs[op] = i_ll
	}
	for op := OpcodeF32Add; op <= OpcodeF32Div; op++ {
		opcodeSigs[op] = f_ff
	}
	for op := OpcodeF32Abs; op <= OpcodeF32Sqrt; op++ {
		opcodeSigs[op] = f_f
	}
	for op := OpcodeF32Eq; op <= OpcodeF32Ge; op++ {
		opcodeSigs[op] = i_ff
	}
	for op := OpcodeF64Add; op <= OpcodeF64Div; op++ {
		opcodeSigs[op] = d_dd
	}
	for op := OpcodeF64Abs; op <= OpcodeF64Sqrt; op++ {
		opcodeSigs[op] = d_d
	}
	for op := OpcodeF64Eq; op <= OpcodeF64Ge; op++ {
		opcodeSigs[op] = i_dd
	}
}

// SignatureOf returns the interned signature of a simple expression
// opcode, or nil for statement opcodes and opcodes with immediates.
func SignatureOf(op Opcode) *FunctionSig {
	return opcodeSigs[op]
}

// LoadStoreOpcode returns the opcode that, followed by the memory
// access type byte, encodes a load or store of the given type. The
// second return is false for an invalid access type.
func LoadStoreOpcode(t MemType, isStore bool) (Opcode, bool) {
	if !IsValidMemType(t) {
		return OpcodeNop, false
	}
	if isStore {
		return OpcodeStoreMem, true
	}
	return OpcodeLoadMem, true
}

// IsSupported reports whether an opcode is supported on this target.
// 64-bit integer operations are unavailable on 32-bit targets.
func IsSupported(op Opcode) bool {
	if bits.UintSize == 64 {
		return true
	}
	switch {
	case op >= OpcodeI64Add && op <= OpcodeI64GeU:
		return false
	case op == OpcodeI64Const, op == OpcodeI32ConvertI64,
		op == OpcodeI64SConvertI32, op == OpcodeI64UConvertI32:
		return false
	}
	return true
}
