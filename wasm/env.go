package wasm

// FunctionEnv is the per-function decode context consumed by the
// verifier: the signature, the module view and the local layout.
// Parameter indices 0..P-1 precede locals; locals are ordered i32,
// i64, f32, f64.
type FunctionEnv struct {
	Module *Module
	Sig    *FunctionSig

	LocalI32Count uint16
	LocalI64Count uint16
	LocalF32Count uint16
	LocalF64Count uint16

	// TotalLocals counts parameters plus declared locals. Call
	// SumLocals after mutating the counts.
	TotalLocals int
}

// NewFunctionEnv builds the decode context for a module function.
func NewFunctionEnv(m *Module, fn *Function) *FunctionEnv {
	env := &FunctionEnv{
		Module:        m,
		Sig:           fn.Sig,
		LocalI32Count: fn.LocalI32Count,
		LocalI64Count: fn.LocalI64Count,
		LocalF32Count: fn.LocalF32Count,
		LocalF64Count: fn.LocalF64Count,
	}
	env.SumLocals()
	return env
}

// SumLocals recomputes TotalLocals from the signature and the per-type
// counts.
func (e *FunctionEnv) SumLocals() {
	e.TotalLocals = len(e.Sig.Params) +
		int(e.LocalI32Count) + int(e.LocalI64Count) +
		int(e.LocalF32Count) + int(e.LocalF64Count)
}

// AddLocals declares n more locals of the given type and returns the
// index of the first one.
func (e *FunctionEnv) AddLocals(t ValueType, n int) int {
	first := e.TotalLocals
	switch t {
	case ValueTypeI32:
		e.LocalI32Count += uint16(n)
	case ValueTypeI64:
		e.LocalI64Count += uint16(n)
	case ValueTypeF32:
		e.LocalF32Count += uint16(n)
	case ValueTypeF64:
		e.LocalF64Count += uint16(n)
	}
	e.SumLocals()
	// Locals are grouped by type; the returned index is only stable
	// when locals are allocated in type order.
	return first
}

// LocalType returns the type of local i, or false when i is out of
// range.
func (e *FunctionEnv) LocalType(i int) (ValueType, bool) {
	if i < 0 || i >= e.TotalLocals {
		return ValueTypeStmt, false
	}
	if i < len(e.Sig.Params) {
		return e.Sig.Params[i], true
	}
	j := i - len(e.Sig.Params)
	if j < int(e.LocalI32Count) {
		return ValueTypeI32, true
	}
	j -= int(e.LocalI32Count)
	if j < int(e.LocalI64Count) {
		return ValueTypeI64, true
	}
	j -= int(e.LocalI64Count)
	if j < int(e.LocalF32Count) {
		return ValueTypeF32, true
	}
	return ValueTypeF64, true
}
