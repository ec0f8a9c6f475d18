package asmwasm

import (
	"encoding/binary"
	"fmt"

	"github.com/protowasm/protowasm/wasm"
)

// ModuleBuilder accumulates functions, globals and data segments and
// writes them out in the binary module format.
type ModuleBuilder struct {
	memSizeLog2 byte
	memExport   bool

	funcs    []*FunctionBuilder
	globals  []*globalDecl
	segments []*segmentDecl
}

type globalDecl struct {
	name     string
	typ      wasm.MemType
	exported bool
}

type segmentDecl struct {
	destAddr uint32
	data     []byte
	init     bool
}

// NewModuleBuilder returns a builder with a default 64KiB memory.
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{memSizeLog2: 16}
}

// SetMemory sets the linear memory size (1 << log2 bytes) and whether
// the memory is exported.
func (b *ModuleBuilder) SetMemory(log2 byte, export bool) {
	b.memSizeLog2 = log2
	b.memExport = export
}

// AddFunction appends an empty function and returns its index.
func (b *ModuleBuilder) AddFunction(name string) uint16 {
	b.funcs = append(b.funcs, &FunctionBuilder{name: name, ret: wasm.ValueTypeStmt})
	return uint16(len(b.funcs) - 1)
}

// FunctionAt returns the builder for function index i.
func (b *ModuleBuilder) FunctionAt(i uint16) *FunctionBuilder {
	return b.funcs[int(i)]
}

// AddGlobal appends a global and returns its index.
func (b *ModuleBuilder) AddGlobal(name string, t wasm.MemType, exported bool) uint16 {
	b.globals = append(b.globals, &globalDecl{name: name, typ: t, exported: exported})
	return uint16(len(b.globals) - 1)
}

// AddDataSegment appends an initialized memory region; its bytes are
// embedded in the module image.
func (b *ModuleBuilder) AddDataSegment(destAddr uint32, data []byte, init bool) {
	b.segments = append(b.segments, &segmentDecl{destAddr: destAddr, data: data, init: init})
}

const (
	headerSize       = 8
	globalEntrySize  = 6
	segmentEntrySize = 13
)

// Build writes the module image: header, globals table, function
// table, data segment table, code bodies, segment bytes, then the
// NUL-terminated name pool.
func (b *ModuleBuilder) Build() ([]byte, error) {
	if len(b.funcs) > 0xffff || len(b.globals) > 0xffff || len(b.segments) > 0xffff {
		return nil, fmt.Errorf("asmwasm: table counts exceed u16")
	}

	tableEnd := headerSize + globalEntrySize*len(b.globals) + segmentEntrySize*len(b.segments)
	for _, f := range b.funcs {
		tableEnd += f.entrySize()
	}

	// Lay out bodies, segment bytes and names behind the tables.
	offset := tableEnd
	type bodyLayout struct{ start, end int }
	bodies := make([]bodyLayout, len(b.funcs))
	for i, f := range b.funcs {
		body, err := f.finishBody()
		if err != nil {
			return nil, err
		}
		bodies[i] = bodyLayout{start: offset, end: offset + len(body)}
		offset += len(body)
	}
	segStarts := make([]int, len(b.segments))
	for i, s := range b.segments {
		segStarts[i] = offset
		offset += len(s.data)
	}
	names := map[string]int{}
	var pool []string // first-use order
	nameOffset := func(name string) int {
		if name == "" {
			return 0
		}
		if at, ok := names[name]; ok {
			return at
		}
		names[name] = offset
		pool = append(pool, name)
		at := offset
		offset += len(name) + 1
		return at
	}
	globalNames := make([]int, len(b.globals))
	for i, g := range b.globals {
		globalNames[i] = nameOffset(g.name)
	}
	funcNames := make([]int, len(b.funcs))
	for i, f := range b.funcs {
		funcNames[i] = nameOffset(f.name)
	}

	out := make([]byte, 0, offset)
	u16 := func(v int) { out = binary.LittleEndian.AppendUint16(out, uint16(v)) }
	u32 := func(v int) { out = binary.LittleEndian.AppendUint32(out, uint32(v)) }

	out = append(out, b.memSizeLog2, boolByte(b.memExport))
	u16(len(b.globals))
	u16(len(b.funcs))
	u16(len(b.segments))

	for i, g := range b.globals {
		u32(globalNames[i])
		out = append(out, g.typ, boolByte(g.exported))
	}
	for i, f := range b.funcs {
		out = append(out, byte(len(f.params)), f.ret)
		out = append(out, f.params...)
		u32(funcNames[i])
		u32(bodies[i].start)
		u32(bodies[i].end)
		counts := f.localCounts()
		for _, c := range counts {
			u16(c)
		}
		out = append(out, boolByte(f.exported), boolByte(f.external))
	}
	for i, s := range b.segments {
		u32(int(s.destAddr))
		u32(segStarts[i])
		u32(len(s.data))
		out = append(out, boolByte(s.init))
	}
	for _, f := range b.funcs {
		out = append(out, f.body...)
	}
	for _, s := range b.segments {
		out = append(out, s.data...)
	}
	// Name pool, in first-use order.
	for _, name := range pool {
		out = append(out, name...)
		out = append(out, 0)
	}
	return out, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// FunctionBuilder accumulates one function: signature, locals and
// body bytes. Local variables may be allocated in any type order; the
// body records the positions of local-index immediates so they can be
// renumbered into the grouped i32/i64/f32/f64 layout when the module
// is built.
type FunctionBuilder struct {
	name   string
	ret    wasm.ValueType
	params []wasm.ValueType
	locals []wasm.ValueType // allocation order

	body        []byte
	localFixups []int // body positions holding allocation-order ids

	exported bool
	external bool

	finished bool
}

// ReturnType sets the function's return type.
func (f *FunctionBuilder) ReturnType(t wasm.ValueType) { f.ret = t }

// Exported marks the function exported by name.
func (f *FunctionBuilder) Exported(v bool) { f.exported = v }

// External marks the function as resolved through the embedder.
func (f *FunctionBuilder) External(v bool) { f.external = v }

// AddParam appends a parameter and returns its index.
func (f *FunctionBuilder) AddParam(t wasm.ValueType) (int, error) {
	if len(f.locals) > 0 {
		return 0, fmt.Errorf("asmwasm: parameters must precede locals")
	}
	if len(f.params) >= 0xff {
		return 0, fmt.Errorf("asmwasm: too many parameters")
	}
	f.params = append(f.params, t)
	return len(f.params) - 1, nil
}

// AddLocal appends a local variable and returns its allocation id,
// the value EmitLocalIndex takes.
func (f *FunctionBuilder) AddLocal(t wasm.ValueType) int {
	f.locals = append(f.locals, t)
	return len(f.params) + len(f.locals) - 1
}

// AppendCode appends raw body bytes.
func (f *FunctionBuilder) AppendCode(code ...byte) {
	f.body = append(f.body, code...)
}

// EmitLocalIndex appends a local-index immediate, recorded for
// renumbering.
func (f *FunctionBuilder) EmitLocalIndex(allocID int) {
	f.localFixups = append(f.localFixups, len(f.body))
	f.body = append(f.body, byte(allocID))
}

func (f *FunctionBuilder) entrySize() int {
	return 2 + len(f.params) + 4 + 4 + 4 + 8 + 1 + 1
}

// localCounts returns the i32, i64, f32, f64 local counts.
func (f *FunctionBuilder) localCounts() [4]int {
	var counts [4]int
	for _, t := range f.locals {
		counts[t-wasm.ValueTypeI32]++
	}
	return counts
}

// finishBody renumbers local-index immediates from allocation order
// into the grouped layout and returns the final body bytes.
func (f *FunctionBuilder) finishBody() ([]byte, error) {
	if f.external {
		if len(f.body) > 0 {
			return nil, fmt.Errorf("asmwasm: external function %q has a body", f.name)
		}
		return nil, nil
	}
	if f.finished {
		return f.body, nil
	}
	total := len(f.params) + len(f.locals)
	if total > 0xff {
		return nil, fmt.Errorf("asmwasm: function %q has %d locals, limit 255", f.name, total)
	}

	// Final indices: parameters first, then locals grouped by type in
	// i32, i64, f32, f64 order, allocation order within a group.
	counts := f.localCounts()
	groupStart := [4]int{}
	at := len(f.params)
	for t := 0; t < 4; t++ {
		groupStart[t] = at
		at += counts[t]
	}
	finalIndex := make([]int, total)
	for i := range f.params {
		finalIndex[i] = i
	}
	seen := [4]int{}
	for i, t := range f.locals {
		group := int(t - wasm.ValueTypeI32)
		finalIndex[len(f.params)+i] = groupStart[group] + seen[group]
		seen[group]++
	}
	for _, pos := range f.localFixups {
		f.body[pos] = byte(finalIndex[f.body[pos]])
	}
	f.finished = true
	return f.body, nil
}
