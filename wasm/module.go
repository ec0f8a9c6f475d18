package wasm

import (
	"bytes"
	"fmt"
)

// Size limits for decoding. Module size and memory size fail before
// any table is parsed; function size fails as its entry is decoded.
const (
	minModuleSize   = 8 // header only
	maxModuleSize   = 16 << 20
	maxFunctionSize = 128 << 10
	maxMemSizeLog2  = 30
)

type (
	// Module is the static, decoded representation of a binary module.
	// Bytes keeps the original byte range alive for name and code
	// lookup; code and name offsets index into it.
	Module struct {
		MemSizeLog2 byte
		MemExport   bool

		Globals      []*Global
		Functions    []*Function
		DataSegments []*DataSegment

		// GlobalsSize is the byte size of the globals area once
		// AssignGlobalOffsets has run.
		GlobalsSize uint32

		Bytes []byte
	}

	// Global is one entry of the globals table. Offset is assigned by
	// AssignGlobalOffsets, not read from the wire.
	Global struct {
		NameOffset uint32
		Type       MemType
		Offset     uint32
		Exported   bool
	}

	// Function is one entry of the function table.
	Function struct {
		Sig        *FunctionSig
		NameOffset uint32
		CodeStart  uint32
		CodeEnd    uint32

		LocalI32Count uint16
		LocalI64Count uint16
		LocalF32Count uint16
		LocalF64Count uint16

		Exported bool
		External bool
	}

	// DataSegment describes one region of initialized linear memory.
	DataSegment struct {
		DestAddr     uint32
		SourceOffset uint32
		SourceSize   uint32
		Init         bool
	}
)

// MemSizeBytes returns the linear memory size in bytes.
func (m *Module) MemSizeBytes() uint32 { return 1 << m.MemSizeLog2 }

// Name reads the NUL-terminated name at the given module offset, used
// for diagnostics and export registration. Offset 0 means unnamed.
func (m *Module) Name(offset uint32) string {
	if offset == 0 || offset >= uint32(len(m.Bytes)) {
		return ""
	}
	rest := m.Bytes[offset:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

// FunctionName returns the function's name or a positional fallback.
func (m *Module) FunctionName(index int) string {
	if name := m.Name(m.Functions[index].NameOffset); name != "" {
		return name
	}
	return fmt.Sprintf("func#%d", index)
}

// AssignGlobalOffsets computes the offset of every global in a single
// pass, rounding up to each global's natural alignment, and records
// the total size of the globals area.
func (m *Module) AssignGlobalOffsets() {
	var offset uint32
	for _, g := range m.Globals {
		size := uint32(MemSize(g.Type))
		offset = (offset + size - 1) &^ (size - 1)
		g.Offset = offset
		offset += size
	}
	m.GlobalsSize = offset
}

// FuncBodyVerifier checks one decoded function body, typically by
// building its IR graph. It keeps the decoder free of a dependency on
// the verifier package.
type FuncBodyVerifier func(m *Module, index int) *CodeError

// DecodeConfig controls DecodeModule.
type DecodeConfig struct {
	// VerifyFunctions hands every non-external function body to
	// Verifier; the first failure aborts the decode, annotated with
	// the function index.
	VerifyFunctions bool
	Verifier        FuncBodyVerifier
}

// DecodeModule parses the binary module format: an 8-byte header
// followed by the globals, function and data segment tables. The
// returned module references the input bytes.
func DecodeModule(moduleBytes []byte, config DecodeConfig) (*Module, error) {
	if len(moduleBytes) < minModuleSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrModuleTooSmall, len(moduleBytes))
	}
	if len(moduleBytes) > maxModuleSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrModuleTooLarge, len(moduleBytes))
	}

	d := NewDecoder(moduleBytes)
	m := &Module{Bytes: moduleBytes}

	m.MemSizeLog2 = d.U8()
	m.MemExport = d.U8() != 0
	globalsCount := d.U16()
	functionsCount := d.U16()
	dataSegmentsCount := d.U16()

	if m.MemSizeLog2 > maxMemSizeLog2 {
		return nil, fmt.Errorf("%w: 1<<%d", ErrMemoryTooLarge, m.MemSizeLog2)
	}

	ss := NewSigSet()
	for i := 0; i < int(globalsCount); i++ {
		g, err := decodeGlobal(d, i)
		if err != nil {
			return nil, err
		}
		m.Globals = append(m.Globals, g)
	}
	for i := 0; i < int(functionsCount); i++ {
		fn, err := decodeFunction(d, ss, i, uint32(len(moduleBytes)))
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, fn)
	}
	for i := 0; i < int(dataSegmentsCount); i++ {
		s, err := decodeDataSegment(d, i)
		if err != nil {
			return nil, err
		}
		m.DataSegments = append(m.DataSegments, s)
	}
	if err := d.Error(); err != nil {
		return nil, err
	}

	m.AssignGlobalOffsets()

	if config.VerifyFunctions && config.Verifier != nil {
		for i, fn := range m.Functions {
			if fn.External {
				continue
			}
			if cerr := config.Verifier(m, i); cerr != nil {
				cerr.Func = i
				return nil, cerr
			}
		}
	}
	return m, nil
}

func decodeGlobal(d *Decoder, index int) (*Global, error) {
	g := &Global{}
	g.NameOffset = d.OffsetU32()
	typePC := d.PC()
	g.Type = d.U8()
	g.Exported = d.U8() != 0
	if err := d.Error(); err != nil {
		return nil, err
	}
	if !IsValidMemType(g.Type) {
		return nil, codeErr(ErrInvalidMemType, typePC,
			fmt.Sprintf("global %d has type 0x%x", index, g.Type))
	}
	return g, nil
}

func decodeFunction(d *Decoder, ss *SigSet, index int, moduleSize uint32) (*Function, error) {
	sig, err := decodeSignature(d, ss)
	if err != nil {
		return nil, err
	}
	fn := &Function{Sig: sig}
	fn.NameOffset = d.OffsetU32()
	codePC := d.PC()
	fn.CodeStart = d.U32()
	fn.CodeEnd = d.U32()
	fn.LocalI32Count = d.U16()
	fn.LocalI64Count = d.U16()
	fn.LocalF32Count = d.U16()
	fn.LocalF64Count = d.U16()
	fn.Exported = d.U8() != 0
	fn.External = d.U8() != 0
	if err := d.Error(); err != nil {
		return nil, err
	}
	if fn.CodeStart > fn.CodeEnd || fn.CodeEnd > moduleSize {
		return nil, codeErr(ErrOffsetOutOfBounds, codePC,
			fmt.Sprintf("function %d code range [%d,%d)", index, fn.CodeStart, fn.CodeEnd))
	}
	if fn.CodeEnd-fn.CodeStart > maxFunctionSize {
		return nil, fmt.Errorf("%w: function %d is %d bytes",
			ErrFunctionTooLarge, index, fn.CodeEnd-fn.CodeStart)
	}
	return fn, nil
}

func decodeSignature(d *Decoder, ss *SigSet) (*FunctionSig, error) {
	sigPC := d.PC()
	paramCount := d.U8()
	ret := d.U8()
	if ret > ValueTypeF64 {
		return nil, codeErr(ErrInvalidSignature, sigPC,
			fmt.Sprintf("return type 0x%x", ret))
	}
	params := make([]ValueType, 0, paramCount)
	for i := 0; i < int(paramCount); i++ {
		paramPC := d.PC()
		p := d.U8()
		if d.Failed() {
			break
		}
		if p == ValueTypeStmt || p > ValueTypeF64 {
			return nil, codeErr(ErrInvalidSignature, paramPC,
				fmt.Sprintf("parameter %d has type 0x%x", i, p))
		}
		params = append(params, p)
	}
	if err := d.Error(); err != nil {
		return nil, err
	}
	return ss.Intern(ret, params...), nil
}

func decodeDataSegment(d *Decoder, index int) (*DataSegment, error) {
	s := &DataSegment{}
	s.DestAddr = d.U32()
	s.SourceOffset = d.OffsetU32()
	s.SourceSize = d.U32()
	s.Init = d.U8() != 0
	if err := d.Error(); err != nil {
		return nil, err
	}
	if uint64(s.SourceOffset)+uint64(s.SourceSize) > uint64(d.Len()) {
		return nil, codeErr(ErrOffsetOutOfBounds, d.PC(),
			fmt.Sprintf("data segment %d source [%d,+%d)", index, s.SourceOffset, s.SourceSize))
	}
	return s, nil
}
