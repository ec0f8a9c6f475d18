package wasm

// ValueType is the type of a value produced by an expression, a local,
// a parameter or a function return. Stmt is the pseudo-type of a
// statement: it is not a legal parameter or local type.
type ValueType = byte

const (
	ValueTypeStmt ValueType = 0x00
	ValueTypeI32  ValueType = 0x01
	ValueTypeI64  ValueType = 0x02
	ValueTypeF32  ValueType = 0x03
	ValueTypeF64  ValueType = 0x04
)

// ValueTypeName returns the canonical name of a value type.
// Note that ValueTypeName returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeStmt:
		return "stmt"
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// MemType is the element type of a memory access or a global variable,
// including the narrow integer variants.
type MemType = byte

const (
	MemTypeI8 MemType = iota
	MemTypeU8
	MemTypeI16
	MemTypeU16
	MemTypeI32
	MemTypeU32
	MemTypeI64
	MemTypeU64
	MemTypeF32
	MemTypeF64

	numMemTypes
)

// MemTypeName returns the canonical name of a memory access type.
func MemTypeName(t MemType) string {
	switch t {
	case MemTypeI8:
		return "i8"
	case MemTypeU8:
		return "u8"
	case MemTypeI16:
		return "i16"
	case MemTypeU16:
		return "u16"
	case MemTypeI32:
		return "i32"
	case MemTypeU32:
		return "u32"
	case MemTypeI64:
		return "i64"
	case MemTypeU64:
		return "u64"
	case MemTypeF32:
		return "f32"
	case MemTypeF64:
		return "f64"
	}
	return "unknown"
}

var memTypeSizes = [numMemTypes]byte{1, 1, 2, 2, 4, 4, 8, 8, 4, 8}

// MemSize returns the byte size of a memory access type. The natural
// alignment of a type equals its size.
func MemSize(t MemType) byte {
	if t >= numMemTypes {
		return 0
	}
	return memTypeSizes[t]
}

// ValueTypeOf widens a memory access type to the value type a load of
// it produces: narrow integers widen to i32.
func ValueTypeOf(t MemType) ValueType {
	switch t {
	case MemTypeI8, MemTypeU8, MemTypeI16, MemTypeU16, MemTypeI32, MemTypeU32:
		return ValueTypeI32
	case MemTypeI64, MemTypeU64:
		return ValueTypeI64
	case MemTypeF32:
		return ValueTypeF32
	case MemTypeF64:
		return ValueTypeF64
	}
	return ValueTypeStmt
}

// IsValidMemType reports whether t names one of the ten access types.
func IsValidMemType(t MemType) bool { return t < numMemTypes }

// FunctionSig describes a function signature: zero or one return value
// and an ordered list of parameter types. Signatures are immutable
// after construction and may be shared freely.
type FunctionSig struct {
	Return ValueType // ValueTypeStmt means no return value
	Params []ValueType
}

// ReturnCount returns 0 for void signatures and 1 otherwise.
func (s *FunctionSig) ReturnCount() int {
	if s.Return == ValueTypeStmt {
		return 0
	}
	return 1
}

// ParamCount returns the number of parameters.
func (s *FunctionSig) ParamCount() int { return len(s.Params) }

// String renders the signature in a compact diagnostic form, e.g.
// "(i32,i32)->i32".
func (s *FunctionSig) String() string {
	str := "("
	for i, p := range s.Params {
		if i > 0 {
			str += ","
		}
		str += ValueTypeName(p)
	}
	if s.Return == ValueTypeStmt {
		return str + ")->()"
	}
	return str + ")->" + ValueTypeName(s.Return)
}

// Equal reports whether two signatures have identical return and
// parameter types.
func (s *FunctionSig) Equal(other *FunctionSig) bool {
	if s.Return != other.Return || len(s.Params) != len(other.Params) {
		return false
	}
	for i, p := range s.Params {
		if p != other.Params[i] {
			return false
		}
	}
	return true
}

// sigKey is the interning key for signatures within a SigSet.
func (s *FunctionSig) sigKey() string {
	b := make([]byte, 0, len(s.Params)+1)
	b = append(b, s.Return)
	b = append(b, s.Params...)
	return string(b)
}

// SigSet interns signatures so that identical signatures share one
// *FunctionSig, mirroring per-zone interning in the original design.
type SigSet struct {
	sigs map[string]*FunctionSig
}

// NewSigSet returns an empty signature set.
func NewSigSet() *SigSet {
	return &SigSet{sigs: map[string]*FunctionSig{}}
}

// Intern returns the canonical *FunctionSig for the given shape.
func (ss *SigSet) Intern(ret ValueType, params ...ValueType) *FunctionSig {
	s := &FunctionSig{Return: ret, Params: params}
	if existing, ok := ss.sigs[s.sigKey()]; ok {
		return existing
	}
	ss.sigs[s.sigKey()] = s
	return s
}
