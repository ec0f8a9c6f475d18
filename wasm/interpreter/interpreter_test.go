package interpreter

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protowasm/protowasm/asmwasm"
	"github.com/protowasm/protowasm/wasm"
	"github.com/protowasm/protowasm/wasm/ir"
)

func verifier(m *wasm.Module, index int) *wasm.CodeError {
	fn := m.Functions[index]
	_, cerr := ir.BuildGraph(wasm.NewFunctionEnv(m, fn), fn.CodeStart, fn.CodeEnd)
	return cerr
}

// funcSpec assembles one function from raw bytecode; every function is
// exported as "f<index>".
type funcSpec struct {
	ret    wasm.ValueType
	params []wasm.ValueType
	locals []wasm.ValueType
	body   []byte
}

type moduleSpec struct {
	memLog2 byte
	globals []wasm.MemType
	funcs   []funcSpec
}

func instantiate(t *testing.T, spec moduleSpec) *wasm.Instance {
	t.Helper()
	b := asmwasm.NewModuleBuilder()
	if spec.memLog2 == 0 {
		spec.memLog2 = 8
	}
	b.SetMemory(spec.memLog2, false)
	for i, g := range spec.globals {
		b.AddGlobal(fmt.Sprintf("g%d", i), g, false)
	}
	for i, f := range spec.funcs {
		fb := b.FunctionAt(b.AddFunction(fmt.Sprintf("f%d", i)))
		fb.ReturnType(f.ret)
		fb.Exported(true)
		for _, p := range f.params {
			_, err := fb.AddParam(p)
			require.NoError(t, err)
		}
		for _, l := range f.locals {
			fb.AddLocal(l)
		}
		fb.AppendCode(f.body...)
	}
	bin, err := b.Build()
	require.NoError(t, err)
	m, err := wasm.DecodeModule(bin, wasm.DecodeConfig{VerifyFunctions: true, Verifier: verifier})
	require.NoError(t, err)
	instance, err := wasm.NewStore(NewEngine()).Instantiate(m, t.Name())
	require.NoError(t, err)
	return instance
}

// run instantiates a single-function module and returns a caller.
func run(t *testing.T, ret wasm.ValueType, params []wasm.ValueType, body []byte) func(args ...uint64) (uint64, error) {
	t.Helper()
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: ret, params: params, body: body},
	}})
	return func(args ...uint64) (uint64, error) {
		return instance.Call("f0", args...)
	}
}

func callI32(t *testing.T, instance *wasm.Instance, name string, args ...int32) int32 {
	t.Helper()
	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = wasm.EncodeI32(a)
	}
	v, err := instance.Call(name, raw...)
	require.NoError(t, err)
	return wasm.DecodeI32(v)
}

// Bytecode fragments.
func cat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func i8(v int8) []byte { return []byte{wasm.OpcodeI8Const, byte(v)} }

func i32c(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const},
		binary.LittleEndian.AppendUint32(nil, uint32(v))...)
}

func i64c(v int64) []byte {
	return append([]byte{wasm.OpcodeI64Const},
		binary.LittleEndian.AppendUint64(nil, uint64(v))...)
}

func f32c(v float32) []byte {
	return append([]byte{wasm.OpcodeF32Const},
		binary.LittleEndian.AppendUint32(nil, uint32(wasm.EncodeF32(v)))...)
}

func f64c(v float64) []byte {
	return append([]byte{wasm.OpcodeF64Const},
		binary.LittleEndian.AppendUint64(nil, wasm.EncodeF64(v))...)
}

func getLocal(i byte) []byte { return []byte{wasm.OpcodeGetLocal, i} }

func setLocal(i byte, val []byte) []byte {
	return cat([]byte{wasm.OpcodeSetLocal, i}, val)
}

func ret(val []byte) []byte { return cat([]byte{wasm.OpcodeReturn}, val) }

func binop(op wasm.Opcode, l, r []byte) []byte { return cat([]byte{op}, l, r) }

func unop(op wasm.Opcode, e []byte) []byte { return cat([]byte{op}, e) }

func block(stmts ...[]byte) []byte {
	return cat(append([][]byte{[]byte{wasm.OpcodeBlock, byte(len(stmts))}}, stmts...)...)
}

func loop(stmts ...[]byte) []byte {
	return cat(append([][]byte{[]byte{wasm.OpcodeLoop, byte(len(stmts))}}, stmts...)...)
}

func ifStmt(cond, then []byte) []byte { return cat([]byte{wasm.OpcodeIf}, cond, then) }

func ifThen(cond, then, els []byte) []byte {
	return cat([]byte{wasm.OpcodeIfThen}, cond, then, els)
}

func notOf(e []byte) []byte { return cat([]byte{wasm.OpcodeBoolNot}, e) }

func brk(depth byte) []byte { return []byte{wasm.OpcodeBreak, depth} }

func loadMem(t wasm.MemType, addr []byte) []byte {
	return cat([]byte{wasm.OpcodeLoadMem, t}, addr)
}

func storeMem(t wasm.MemType, addr, val []byte) []byte {
	return cat([]byte{wasm.OpcodeStoreMem, t}, addr, val)
}

func loadGlobal(i byte) []byte { return []byte{wasm.OpcodeLoadGlobal, i} }

func storeGlobal(i byte, val []byte) []byte {
	return cat([]byte{wasm.OpcodeStoreGlobal, i}, val)
}

func callFn(i byte, args ...[]byte) []byte {
	return cat(append([][]byte{{wasm.OpcodeCallFunction, i}}, args...)...)
}

var (
	i32Param = []wasm.ValueType{wasm.ValueTypeI32}
	i32x2    = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}
	i64x2    = []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI64}
	noParams []wasm.ValueType
)

// Scenario 1: constant return.
func TestRunInt8Const(t *testing.T) {
	call := run(t, wasm.ValueTypeI32, noParams, ret(i8(121)))
	v, err := call()
	require.NoError(t, err)
	assert.Equal(t, int32(121), wasm.DecodeI32(v))
}

func TestRunInt8ConstFallthru(t *testing.T) {
	call := run(t, wasm.ValueTypeI32, noParams, cat(i8(-99), i8(123)))
	v, err := call()
	require.NoError(t, err)
	assert.Equal(t, int32(123), wasm.DecodeI32(v))
}

// Scenario 2: parameter passthrough.
func TestRunParamPassthrough(t *testing.T) {
	for _, body := range [][]byte{ret(getLocal(0)), getLocal(0)} {
		call := run(t, wasm.ValueTypeI32, i32Param, body)
		for _, input := range []int32{0x7fffffff, -1, 0, 42} {
			v, err := call(wasm.EncodeI32(input))
			require.NoError(t, err)
			assert.Equal(t, input, wasm.DecodeI32(v))
		}
	}
}

// Scenario 3: addition.
func TestRunInt32Add(t *testing.T) {
	call := run(t, wasm.ValueTypeI32, noParams,
		ret(binop(wasm.OpcodeI32Add, i8(11), i8(44))))
	v, err := call()
	require.NoError(t, err)
	assert.Equal(t, int32(55), wasm.DecodeI32(v))
}

// Scenario 4: countdown loop.
func TestRunCountdown(t *testing.T) {
	body := block(
		loop(
			ifStmt(notOf(getLocal(0)), brk(0)),
			setLocal(0, binop(wasm.OpcodeI32Sub, getLocal(0), i8(1)))),
		ret(getLocal(0)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})
	for _, input := range []int32{1, 10, 100} {
		assert.Equal(t, int32(0), callI32(t, instance, "f0", input))
	}
}

// Scenario 5: memory sum over 20 randomly initialized u32 cells.
func TestRunMemI32Sum(t *testing.T) {
	const numElems = 20
	body := block(
		loop(
			ifStmt(notOf(getLocal(0)), brk(0)),
			block(
				setLocal(1, binop(wasm.OpcodeI32Add,
					getLocal(1),
					loadMem(wasm.MemTypeI32, getLocal(0)))),
				setLocal(0, binop(wasm.OpcodeI32Sub, getLocal(0), i8(4))))),
		ret(getLocal(1)))
	instance := instantiate(t, moduleSpec{memLog2: 7, funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param,
			locals: []wasm.ValueType{wasm.ValueTypeI32}, body: body},
	}})

	rng := rand.New(rand.NewSource(88))
	cells := make([]uint32, numElems)
	for i := range cells {
		cells[i] = rng.Uint32()
		binary.LittleEndian.PutUint32(instance.Memory[i*4:], cells[i])
	}
	var expected uint32
	for i := numElems - 1; i > 0; i-- {
		expected += cells[i]
	}
	got := callI32(t, instance, "f0", int32(4*(numElems-1)))
	assert.Equal(t, int32(expected), got)
}

// Scenario 6: switch with fallthrough.
func TestRunSwitchFallthru(t *testing.T) {
	body := block(
		cat([]byte{wasm.OpcodeSwitch, 4}, getLocal(0),
			[]byte{wasm.OpcodeNop},
			ret(i8(45)),
			[]byte{wasm.OpcodeNop},
			ret(i8(47))),
		ret(getLocal(0)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})

	tests := map[int32]int32{-1: -1, 0: 45, 1: 45, 2: 47, 3: 47, 4: 4}
	for input, expected := range tests {
		assert.Equal(t, expected, callI32(t, instance, "f0", input), input)
	}
}

func TestRunSwitchNf(t *testing.T) {
	const cases = 4
	sw := []byte{wasm.OpcodeSwitchNf, cases}
	sw = append(sw, getLocal(0)...)
	for j := int32(0); j < cases; j++ {
		sw = append(sw, setLocal(0, i32c(10+j))...)
	}
	body := block(sw, ret(getLocal(0)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})

	for input := int32(-1); input < cases+3; input++ {
		expected := input
		if input >= 0 && input < cases {
			expected = 10 + input
		}
		assert.Equal(t, expected, callI32(t, instance, "f0", input), input)
	}
}

// Scenario 7: inter-function call with a forward reference. Function 0
// is compiled before function 1 exists, so its call site targets a
// placeholder until link.
func TestRunCallWithForwardReference(t *testing.T) {
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, body: ret(callFn(1, i8(77), i8(22)))},
		{ret: wasm.ValueTypeI32, params: i32x2,
			body: ret(binop(wasm.OpcodeI32Add, getLocal(0), getLocal(1)))},
	}})
	assert.Equal(t, int32(99), callI32(t, instance, "f0"))

	// The caller was patched, the leaf was not, and linking again is
	// a fixed point.
	assert.True(t, instance.Linker.Code(0).Patched())
	assert.False(t, instance.Linker.Code(1).Patched())
	assert.Zero(t, instance.Linker.Link())
}

func TestRunVoidCallForEffect(t *testing.T) {
	// f0 stores through memory, f1 calls it for effect and reloads.
	store := storeMem(wasm.MemTypeI32, i8(8), i32c(-414444))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeStmt, body: store},
		{ret: wasm.ValueTypeI32,
			body: cat(callFn(0), loadMem(wasm.MemTypeI32, i8(8)))},
	}})
	assert.Equal(t, int32(-414444), callI32(t, instance, "f1"))
	assert.Equal(t, int32(-414444),
		int32(binary.LittleEndian.Uint32(instance.Memory[8:])))
}

func TestRunWhileCountdown(t *testing.T) {
	// The emitter's while lowering: Loop(2, If(!cond, Break(0)), body).
	body := block(
		loop(
			ifStmt(notOf(getLocal(0)), brk(0)),
			setLocal(0, binop(wasm.OpcodeI32Sub, getLocal(0), i8(1)))),
		ret(getLocal(0)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})
	assert.Equal(t, int32(0), callI32(t, instance, "f0", 37))
}

func TestRunLoopBreakToOuterBlock(t *testing.T) {
	body := cat(
		block(
			loop(
				ifStmt(getLocal(0), brk(1)),
				setLocal(0, i8(93)))),
		getLocal(0))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})
	assert.Equal(t, int32(93), callI32(t, instance, "f0", 0))
	assert.Equal(t, int32(3), callI32(t, instance, "f0", 3))
	assert.Equal(t, int32(-22), callI32(t, instance, "f0", -22))
}

func TestRunIfThen(t *testing.T) {
	body := ifThen(getLocal(0), ret(i8(11)), ret(i8(22)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})
	assert.Equal(t, int32(11), callI32(t, instance, "f0", 1))
	assert.Equal(t, int32(11), callI32(t, instance, "f0", -7))
	assert.Equal(t, int32(22), callI32(t, instance, "f0", 0))
}

func TestRunInfiniteLoopNotTaken(t *testing.T) {
	body := ifThen(getLocal(0),
		[]byte{wasm.OpcodeInfiniteLoop},
		ret(i8(45)))
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param, body: body},
	}})
	assert.Equal(t, int32(45), callI32(t, instance, "f0", 0))
}

func TestRunTernaryAndComma(t *testing.T) {
	instance := instantiate(t, moduleSpec{funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, params: i32Param,
			body: ret(cat([]byte{wasm.OpcodeTernary}, getLocal(0), i8(11), i8(22)))},
		{ret: wasm.ValueTypeI32, params: i32Param,
			body: ret(cat([]byte{wasm.OpcodeComma}, getLocal(0), i8(17)))},
	}})
	assert.Equal(t, int32(11), callI32(t, instance, "f0", 1))
	assert.Equal(t, int32(22), callI32(t, instance, "f0", 0))
	assert.Equal(t, int32(17), callI32(t, instance, "f1", 55))
}

func TestRunVoidReturn(t *testing.T) {
	call := run(t, wasm.ValueTypeStmt, noParams, []byte{wasm.OpcodeReturn})
	_, err := call()
	require.NoError(t, err)
}

func TestRunInt32Binops(t *testing.T) {
	tests := []struct {
		op             wasm.Opcode
		expected, a, b int64 // truncated to i32
	}{
		{wasm.OpcodeI32Add, 88888888, 33333333, 55555555},
		{wasm.OpcodeI32Sub, -1111111, 7777777, 8888888},
		{wasm.OpcodeI32Mul, 65130756, 88734, 734},
		{wasm.OpcodeI32DivS, -66, -4777344, 72384},
		{wasm.OpcodeI32DivU, 805306368, 0xF0000000, 5},
		{wasm.OpcodeI32RemS, -3, -3003, 1000},
		{wasm.OpcodeI32RemU, 4, 4004, 1000},
		{wasm.OpcodeI32And, 0xEE, 0xFFEE, 0xFF0000FF},
		{wasm.OpcodeI32Ior, 0xF0FF00FF, 0xF0F000EE, 0x000F0011},
		{wasm.OpcodeI32Xor, 0xABCDEF01, 0xABCDEFFF, 0xFE},
		{wasm.OpcodeI32Shl, 0xA0000000, 0xA, 28},
		{wasm.OpcodeI32ShrU, 0x07000010, 0x70000100, 4},
		{wasm.OpcodeI32ShrS, 0xFF000000, 0x80000000, 7},
		{wasm.OpcodeI32Eq, 1, -99, -99},
		{wasm.OpcodeI32Ne, 0, -97, -97},
		{wasm.OpcodeI32LtS, 1, -4, 4},
		{wasm.OpcodeI32LeS, 0, -2, -3},
		{wasm.OpcodeI32LtU, 1, 0, -6},
		{wasm.OpcodeI32LeU, 1, 98978, 0xF0000000},
		{wasm.OpcodeI32GtS, 1, 4, -4},
		{wasm.OpcodeI32GeS, 0, -3, -2},
		{wasm.OpcodeI32GtU, 1, -6, 0},
		{wasm.OpcodeI32GeU, 1, 0xF0000000, 98978},
	}
	for _, tc := range tests {
		t.Run(wasm.OpcodeName(tc.op), func(t *testing.T) {
			expected, a, b := int32(tc.expected), int32(tc.a), int32(tc.b)
			constCall := run(t, wasm.ValueTypeI32, noParams,
				ret(binop(tc.op, i32c(a), i32c(b))))
			v, err := constCall()
			require.NoError(t, err)
			assert.Equal(t, expected, wasm.DecodeI32(v))

			paramCall := run(t, wasm.ValueTypeI32, i32x2,
				ret(binop(tc.op, getLocal(0), getLocal(1))))
			v, err = paramCall(wasm.EncodeI32(a), wasm.EncodeI32(b))
			require.NoError(t, err)
			assert.Equal(t, expected, wasm.DecodeI32(v))
		})
	}
}

func TestRunInt64Binop(t *testing.T) {
	call := run(t, wasm.ValueTypeI64, i64x2,
		ret(binop(wasm.OpcodeI64Add, getLocal(0), getLocal(1))))
	v, err := call(wasm.EncodeI64(3333333333333), wasm.EncodeI64(5555555555555))
	require.NoError(t, err)
	assert.Equal(t, int64(8888888888888), wasm.DecodeI64(v))
}

func TestRunFloat32Add(t *testing.T) {
	call := run(t, wasm.ValueTypeI32, noParams,
		ret(unop(wasm.OpcodeI32SConvertF32,
			binop(wasm.OpcodeF32Add, f32c(11.5), f32c(44.5)))))
	v, err := call()
	require.NoError(t, err)
	assert.Equal(t, int32(56), wasm.DecodeI32(v))
}

func TestRunFloat64Add(t *testing.T) {
	call := run(t, wasm.ValueTypeI32, noParams,
		ret(unop(wasm.OpcodeI32SConvertF64,
			binop(wasm.OpcodeF64Add, f64c(13.5), f64c(43.5)))))
	v, err := call()
	require.NoError(t, err)
	assert.Equal(t, int32(57), wasm.DecodeI32(v))
}

func TestRunFloatUnops(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		expected int32
	}{
		{"f32 abs", ret(unop(wasm.OpcodeI32SConvertF32,
			unop(wasm.OpcodeF32Abs, f32c(-9.125)))), 9},
		{"f32 neg", ret(unop(wasm.OpcodeI32SConvertF32,
			unop(wasm.OpcodeF32Neg, f32c(213.125)))), -213},
		{"f32 sqrt", ret(unop(wasm.OpcodeI32SConvertF32,
			unop(wasm.OpcodeF32Sqrt, f32c(144.4)))), 12},
		{"f64 abs", ret(unop(wasm.OpcodeI32SConvertF64,
			unop(wasm.OpcodeF64Abs, f64c(-209.125)))), 209},
		{"f64 sqrt", ret(unop(wasm.OpcodeI32SConvertF64,
			unop(wasm.OpcodeF64Sqrt, f64c(169.4)))), 13},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			call := run(t, wasm.ValueTypeI32, noParams, tc.body)
			v, err := call()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, wasm.DecodeI32(v))
		})
	}
}

func TestRunLoadExtension(t *testing.T) {
	tests := []struct {
		memType  wasm.MemType
		expected int32
	}{
		{wasm.MemTypeI8, -2}, // 0xfe sign-extended
		{wasm.MemTypeU8, 0xfe},
		{wasm.MemTypeI16, -514}, // 0xfdfe sign-extended
		{wasm.MemTypeU16, 0xfdfe},
	}
	for _, tc := range tests {
		t.Run(wasm.MemTypeName(tc.memType), func(t *testing.T) {
			instance := instantiate(t, moduleSpec{memLog2: 4, funcs: []funcSpec{
				{ret: wasm.ValueTypeI32, params: i32Param,
					body: ret(loadMem(tc.memType, getLocal(0)))},
			}})
			instance.Memory[0] = 0xfe
			instance.Memory[1] = 0xfd
			assert.Equal(t, tc.expected, callI32(t, instance, "f0", 0))
		})
	}
}

func TestRunNarrowStoreTruncates(t *testing.T) {
	body := block(
		storeMem(wasm.MemTypeI8, i8(0), i32c(0x1ff)),
		ret(loadMem(wasm.MemTypeU8, i8(0))))
	instance := instantiate(t, moduleSpec{memLog2: 4, funcs: []funcSpec{
		{ret: wasm.ValueTypeI32, body: body},
	}})
	assert.Equal(t, int32(0xff), callI32(t, instance, "f0"))
	assert.Equal(t, byte(0), instance.Memory[1])
}

func TestRunGlobals(t *testing.T) {
	// global0 accumulates across calls; global1 is a narrow i16.
	body := block(
		storeGlobal(0, binop(wasm.OpcodeI32Add, loadGlobal(0), getLocal(0))),
		storeGlobal(1, i32c(0x1ffff)),
		ret(loadGlobal(0)))
	instance := instantiate(t, moduleSpec{
		globals: []wasm.MemType{wasm.MemTypeI32, wasm.MemTypeI16},
		funcs: []funcSpec{
			{ret: wasm.ValueTypeI32, params: i32Param, body: body},
			{ret: wasm.ValueTypeI32, body: ret(loadGlobal(1))},
		}})

	assert.Equal(t, int32(5), callI32(t, instance, "f0", 5))
	assert.Equal(t, int32(12), callI32(t, instance, "f0", 7))
	// The i16 store truncated 0x1ffff to 0xffff, which loads back
	// sign-extended.
	assert.Equal(t, int32(-1), callI32(t, instance, "f1"))
}

func TestRunTraps(t *testing.T) {
	t.Run("divide by zero", func(t *testing.T) {
		call := run(t, wasm.ValueTypeI32, noParams,
			ret(binop(wasm.OpcodeI32DivS, i8(1), i8(0))))
		_, err := call()
		assert.ErrorIs(t, err, ErrDivideByZero)
	})
	t.Run("load out of bounds", func(t *testing.T) {
		instance := instantiate(t, moduleSpec{memLog2: 4, funcs: []funcSpec{
			{ret: wasm.ValueTypeI32, params: i32Param,
				body: ret(loadMem(wasm.MemTypeI32, getLocal(0)))},
		}})
		_, err := instance.Call("f0", wasm.EncodeI32(14))
		assert.ErrorIs(t, err, ErrMemoryOutOfBounds)
		// The last in-bounds address still works.
		assert.NotPanics(t, func() { callI32(t, instance, "f0", 12) })
	})
	t.Run("store out of bounds", func(t *testing.T) {
		instance := instantiate(t, moduleSpec{memLog2: 4, funcs: []funcSpec{
			{ret: wasm.ValueTypeStmt, params: i32Param,
				body: storeMem(wasm.MemTypeI64, getLocal(0), i64c(1))},
		}})
		_, err := instance.Call("f0", wasm.EncodeI32(9))
		assert.ErrorIs(t, err, ErrMemoryOutOfBounds)
	})
	t.Run("negative address wraps to out of bounds", func(t *testing.T) {
		instance := instantiate(t, moduleSpec{memLog2: 4, funcs: []funcSpec{
			{ret: wasm.ValueTypeI32, params: i32Param,
				body: ret(loadMem(wasm.MemTypeI32, getLocal(0)))},
		}})
		_, err := instance.Call("f0", wasm.EncodeI32(-4))
		assert.ErrorIs(t, err, ErrMemoryOutOfBounds)
	})
}

func TestRunDataSegmentsInitializeMemory(t *testing.T) {
	b := asmwasm.NewModuleBuilder()
	b.SetMemory(4, true)
	fb := b.FunctionAt(b.AddFunction("read"))
	fb.ReturnType(wasm.ValueTypeI32)
	fb.Exported(true)
	fb.AppendCode(ret(loadMem(wasm.MemTypeI32, i8(4)))...)
	b.AddDataSegment(4, []byte{0x44, 0x33, 0x22, 0x11}, true)

	bin, err := b.Build()
	require.NoError(t, err)
	m, err := wasm.DecodeModule(bin, wasm.DecodeConfig{VerifyFunctions: true, Verifier: verifier})
	require.NoError(t, err)
	instance, err := wasm.NewStore(NewEngine()).Instantiate(m, "segments")
	require.NoError(t, err)

	assert.Equal(t, int32(0x11223344), callI32(t, instance, "read"))
	_, ok := instance.Exports["memory"]
	assert.True(t, ok)
}
