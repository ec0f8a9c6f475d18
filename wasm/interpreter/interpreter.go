// Package interpreter is a code generator that lowers the IR graph of
// a function into a directly executable code object. It stands in for
// a native back end: values use the raw uint64 representation, memory
// accesses are bounds-checked and trap, and direct calls go through
// patchable call sites so the linker can resolve forward references.
package interpreter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/protowasm/protowasm/wasm"
	"github.com/protowasm/protowasm/wasm/ir"
)

var (
	ErrMemoryOutOfBounds = errors.New("memory access out of bounds")
	ErrDivideByZero      = errors.New("integer divide by zero")
)

// Engine implements wasm.CodeGenerator.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Compile verifies the function body, builds its IR graph and wraps a
// tree-walking evaluator around it. Direct calls resolve their targets
// through the instance linker, which may hand out placeholders.
func (e *Engine) Compile(instance *wasm.Instance, index int) (*wasm.Code, error) {
	m := instance.Module
	fn := m.Functions[index]
	env := wasm.NewFunctionEnv(m, fn)
	graph, cerr := ir.BuildGraph(env, fn.CodeStart, fn.CodeEnd)
	if cerr != nil {
		cerr.Func = index
		return nil, cerr
	}

	c := &compiled{instance: instance, graph: graph, sites: map[*ir.Node]*wasm.CallSite{}}
	code := &wasm.Code{Sig: fn.Sig}
	for _, n := range graph.Nodes {
		if n.Kind != ir.KindCall {
			continue
		}
		callee := m.Functions[n.Index]
		site := &wasm.CallSite{
			Index:  n.Index,
			Target: instance.Linker.FunctionCode(n.Index, callee.Sig),
		}
		c.sites[n] = site
		code.Relocations = append(code.Relocations, site)
	}
	code.Body = c.call
	return code, nil
}

type compiled struct {
	instance *wasm.Instance
	graph    *ir.Graph
	sites    map[*ir.Node]*wasm.CallSite
}

// control signals thread break/continue/return out of nested
// statements.
type control byte

const (
	ctrlNext control = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

type outcome struct {
	ctrl  control
	depth int
	value uint64
}

var next = outcome{ctrl: ctrlNext}

type frame struct {
	locals []uint64
	// last is the value of the most recently executed expression
	// statement; it serves as the fallthru return value.
	last uint64
}

func (c *compiled) call(args []uint64) (uint64, error) {
	fr := &frame{locals: make([]uint64, c.graph.Env.TotalLocals)}
	copy(fr.locals, args)

	o, err := c.execList(fr, c.graph.Body)
	if err != nil {
		return 0, err
	}
	if o.ctrl == ctrlReturn {
		return o.value, nil
	}
	return fr.last, nil
}

func (c *compiled) execList(fr *frame, stmts []*ir.Node) (outcome, error) {
	for _, s := range stmts {
		o, err := c.execStmt(fr, s)
		if err != nil || o.ctrl != ctrlNext {
			return o, err
		}
	}
	return next, nil
}

func (c *compiled) execStmt(fr *frame, n *ir.Node) (outcome, error) {
	switch n.Kind {
	case ir.KindNop:
		return next, nil

	case ir.KindBlock:
		o, err := c.execList(fr, n.Body)
		if err != nil {
			return o, err
		}
		return unwindLabel(o), nil

	case ir.KindLoop:
		for {
			o, err := c.execList(fr, n.Body)
			if err != nil {
				return o, err
			}
			switch o.ctrl {
			case ctrlNext:
				// back edge
			case ctrlBreak:
				if o.depth == 0 {
					return next, nil
				}
				o.depth--
				return o, nil
			case ctrlContinue:
				if o.depth == 0 {
					continue
				}
				o.depth--
				return o, nil
			case ctrlReturn:
				return o, nil
			}
		}

	case ir.KindIf:
		cond, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		if uint32(cond) != 0 {
			return c.execList(fr, n.Body)
		}
		return next, nil

	case ir.KindIfThen:
		cond, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		if uint32(cond) != 0 {
			return c.execList(fr, n.Body)
		}
		return c.execStmt(fr, n.Else)

	case ir.KindSwitch:
		key, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		k := wasm.DecodeI32(key)
		if k < 0 || int(k) >= len(n.Body) {
			return next, nil
		}
		if n.NoFallthru {
			return c.execStmt(fr, n.Body[k])
		}
		// The selected case and every following case run in order.
		for i := int(k); i < len(n.Body); i++ {
			o, err := c.execStmt(fr, n.Body[i])
			if err != nil || o.ctrl != ctrlNext {
				return o, err
			}
		}
		return next, nil

	case ir.KindReturn:
		var value uint64
		if len(n.In) > 0 {
			v, err := c.eval(fr, n.In[0])
			if err != nil {
				return next, err
			}
			value = v
		}
		return outcome{ctrl: ctrlReturn, value: value}, nil

	case ir.KindBreak:
		return outcome{ctrl: ctrlBreak, depth: n.Depth}, nil

	case ir.KindContinue:
		return outcome{ctrl: ctrlContinue, depth: n.Depth}, nil

	case ir.KindSetLocal:
		v, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		fr.locals[n.Index] = v
		return next, nil

	case ir.KindStoreGlobal:
		v, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		g := c.instance.Module.Globals[n.Index]
		storeBytes(c.instance.Globals, g.Offset, n.MemType, v)
		return next, nil

	case ir.KindStoreMem:
		addr, err := c.eval(fr, n.In[0])
		if err != nil {
			return next, err
		}
		v, err := c.eval(fr, n.In[1])
		if err != nil {
			return next, err
		}
		if !memInBounds(c.instance.Memory, uint32(addr), n.MemType) {
			return next, fmt.Errorf("%w: store %s at %d",
				ErrMemoryOutOfBounds, wasm.MemTypeName(n.MemType), uint32(addr))
		}
		storeBytes(c.instance.Memory, uint32(addr), n.MemType, v)
		return next, nil

	default:
		// An expression at statement position; its value is the
		// fallthru candidate.
		v, err := c.eval(fr, n)
		if err != nil {
			return next, err
		}
		fr.last = v
		return next, nil
	}
}

// unwindLabel consumes one label on the way out of a Block.
func unwindLabel(o outcome) outcome {
	switch o.ctrl {
	case ctrlBreak:
		if o.depth == 0 {
			return next
		}
		o.depth--
	case ctrlContinue:
		// A continue never targets a block; it just passes through.
		o.depth--
	}
	return o
}

func (c *compiled) eval(fr *frame, n *ir.Node) (uint64, error) {
	switch n.Kind {
	case ir.KindConst:
		return n.Value, nil

	case ir.KindParam, ir.KindGetLocal:
		return fr.locals[n.Index], nil

	case ir.KindLoadGlobal:
		g := c.instance.Module.Globals[n.Index]
		return loadBytes(c.instance.Globals, g.Offset, n.MemType), nil

	case ir.KindLoadMem:
		addr, err := c.eval(fr, n.In[0])
		if err != nil {
			return 0, err
		}
		if !memInBounds(c.instance.Memory, uint32(addr), n.MemType) {
			return 0, fmt.Errorf("%w: load %s at %d",
				ErrMemoryOutOfBounds, wasm.MemTypeName(n.MemType), uint32(addr))
		}
		return loadBytes(c.instance.Memory, uint32(addr), n.MemType), nil

	case ir.KindCall:
		args := make([]uint64, len(n.In))
		for i, arg := range n.In {
			v, err := c.eval(fr, arg)
			if err != nil {
				return 0, err
			}
			args[i] = v
		}
		return c.sites[n].Target.Call(args)

	case ir.KindTernary:
		cond, err := c.eval(fr, n.In[0])
		if err != nil {
			return 0, err
		}
		if uint32(cond) != 0 {
			return c.eval(fr, n.In[1])
		}
		return c.eval(fr, n.In[2])

	case ir.KindComma:
		if _, err := c.eval(fr, n.In[0]); err != nil {
			return 0, err
		}
		return c.eval(fr, n.In[1])

	case ir.KindUnop:
		v, err := c.eval(fr, n.In[0])
		if err != nil {
			return 0, err
		}
		return evalUnop(n.Op, v)

	case ir.KindBinop:
		l, err := c.eval(fr, n.In[0])
		if err != nil {
			return 0, err
		}
		r, err := c.eval(fr, n.In[1])
		if err != nil {
			return 0, err
		}
		return evalBinop(n.Op, l, r)

	default:
		panic(fmt.Sprintf("interpreter: unexpected %s node in expression position", n.Kind))
	}
}

func memInBounds(buf []byte, addr uint32, t wasm.MemType) bool {
	size := uint64(wasm.MemSize(t))
	return uint64(addr)+size <= uint64(len(buf))
}

// loadBytes reads a value of the given access type, sign- or
// zero-extending narrow integers into the raw representation of the
// widened value type.
func loadBytes(buf []byte, addr uint32, t wasm.MemType) uint64 {
	switch t {
	case wasm.MemTypeI8:
		return wasm.EncodeI32(int32(int8(buf[addr])))
	case wasm.MemTypeU8:
		return uint64(buf[addr])
	case wasm.MemTypeI16:
		return wasm.EncodeI32(int32(int16(binary.LittleEndian.Uint16(buf[addr:]))))
	case wasm.MemTypeU16:
		return uint64(binary.LittleEndian.Uint16(buf[addr:]))
	case wasm.MemTypeI32, wasm.MemTypeU32, wasm.MemTypeF32:
		return uint64(binary.LittleEndian.Uint32(buf[addr:]))
	case wasm.MemTypeI64, wasm.MemTypeU64, wasm.MemTypeF64:
		return binary.LittleEndian.Uint64(buf[addr:])
	}
	panic("interpreter: invalid access type")
}

// storeBytes truncates the raw value to the access width and writes it
// little-endian.
func storeBytes(buf []byte, addr uint32, t wasm.MemType, raw uint64) {
	switch t {
	case wasm.MemTypeI8, wasm.MemTypeU8:
		buf[addr] = byte(raw)
	case wasm.MemTypeI16, wasm.MemTypeU16:
		binary.LittleEndian.PutUint16(buf[addr:], uint16(raw))
	case wasm.MemTypeI32, wasm.MemTypeU32, wasm.MemTypeF32:
		binary.LittleEndian.PutUint32(buf[addr:], uint32(raw))
	case wasm.MemTypeI64, wasm.MemTypeU64, wasm.MemTypeF64:
		binary.LittleEndian.PutUint64(buf[addr:], raw)
	default:
		panic("interpreter: invalid access type")
	}
}

func b2i(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func evalUnop(op wasm.Opcode, v uint64) (uint64, error) {
	switch op {
	case wasm.OpcodeBoolNot:
		return b2i(uint32(v) == 0), nil

	case wasm.OpcodeF32Abs:
		return wasm.EncodeF32(float32(math.Abs(float64(wasm.DecodeF32(v))))), nil
	case wasm.OpcodeF32Neg:
		return wasm.EncodeF32(-wasm.DecodeF32(v)), nil
	case wasm.OpcodeF32Sqrt:
		return wasm.EncodeF32(float32(math.Sqrt(float64(wasm.DecodeF32(v))))), nil
	case wasm.OpcodeF64Abs:
		return wasm.EncodeF64(math.Abs(wasm.DecodeF64(v))), nil
	case wasm.OpcodeF64Neg:
		return wasm.EncodeF64(-wasm.DecodeF64(v)), nil
	case wasm.OpcodeF64Sqrt:
		return wasm.EncodeF64(math.Sqrt(wasm.DecodeF64(v))), nil

	case wasm.OpcodeI32SConvertF32:
		return wasm.EncodeI32(int32(wasm.DecodeF32(v))), nil
	case wasm.OpcodeI32SConvertF64:
		return wasm.EncodeI32(int32(wasm.DecodeF64(v))), nil
	case wasm.OpcodeI32UConvertF32:
		return uint64(uint32(wasm.DecodeF32(v))), nil
	case wasm.OpcodeI32UConvertF64:
		return uint64(uint32(wasm.DecodeF64(v))), nil
	case wasm.OpcodeI32ConvertI64:
		return wasm.EncodeI32(int32(wasm.DecodeI64(v))), nil
	case wasm.OpcodeI64SConvertI32:
		return wasm.EncodeI64(int64(wasm.DecodeI32(v))), nil
	case wasm.OpcodeI64UConvertI32:
		return uint64(uint32(v)), nil
	case wasm.OpcodeF32SConvertI32:
		return wasm.EncodeF32(float32(wasm.DecodeI32(v))), nil
	case wasm.OpcodeF32UConvertI32:
		return wasm.EncodeF32(float32(uint32(v))), nil
	case wasm.OpcodeF32ConvertF64:
		return wasm.EncodeF32(float32(wasm.DecodeF64(v))), nil
	case wasm.OpcodeF64SConvertI32:
		return wasm.EncodeF64(float64(wasm.DecodeI32(v))), nil
	case wasm.OpcodeF64UConvertI32:
		return wasm.EncodeF64(float64(uint32(v))), nil
	case wasm.OpcodeF64ConvertF32:
		return wasm.EncodeF64(float64(wasm.DecodeF32(v))), nil
	}
	panic(fmt.Sprintf("interpreter: unknown unop %s", wasm.OpcodeName(op)))
}

func evalBinop(op wasm.Opcode, l, r uint64) (uint64, error) {
	switch op {
	case wasm.OpcodeI32Add:
		return wasm.EncodeI32(wasm.DecodeI32(l) + wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32Sub:
		return wasm.EncodeI32(wasm.DecodeI32(l) - wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32Mul:
		return wasm.EncodeI32(wasm.DecodeI32(l) * wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32DivS:
		a, b := wasm.DecodeI32(l), wasm.DecodeI32(r)
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt32 && b == -1 {
			return wasm.EncodeI32(math.MinInt32), nil
		}
		return wasm.EncodeI32(a / b), nil
	case wasm.OpcodeI32DivU:
		if uint32(r) == 0 {
			return 0, ErrDivideByZero
		}
		return uint64(uint32(l) / uint32(r)), nil
	case wasm.OpcodeI32RemS:
		a, b := wasm.DecodeI32(l), wasm.DecodeI32(r)
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt32 && b == -1 {
			return 0, nil
		}
		return wasm.EncodeI32(a % b), nil
	case wasm.OpcodeI32RemU:
		if uint32(r) == 0 {
			return 0, ErrDivideByZero
		}
		return uint64(uint32(l) % uint32(r)), nil
	case wasm.OpcodeI32And:
		return uint64(uint32(l) & uint32(r)), nil
	case wasm.OpcodeI32Ior:
		return uint64(uint32(l) | uint32(r)), nil
	case wasm.OpcodeI32Xor:
		return uint64(uint32(l) ^ uint32(r)), nil
	case wasm.OpcodeI32Shl:
		return uint64(uint32(l) << (uint32(r) & 31)), nil
	case wasm.OpcodeI32ShrU:
		return uint64(uint32(l) >> (uint32(r) & 31)), nil
	case wasm.OpcodeI32ShrS:
		return wasm.EncodeI32(wasm.DecodeI32(l) >> (uint32(r) & 31)), nil
	case wasm.OpcodeI32Eq:
		return b2i(uint32(l) == uint32(r)), nil
	case wasm.OpcodeI32Ne:
		return b2i(uint32(l) != uint32(r)), nil
	case wasm.OpcodeI32LtS:
		return b2i(wasm.DecodeI32(l) < wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32LeS:
		return b2i(wasm.DecodeI32(l) <= wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32LtU:
		return b2i(uint32(l) < uint32(r)), nil
	case wasm.OpcodeI32LeU:
		return b2i(uint32(l) <= uint32(r)), nil
	case wasm.OpcodeI32GtS:
		return b2i(wasm.DecodeI32(l) > wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32GeS:
		return b2i(wasm.DecodeI32(l) >= wasm.DecodeI32(r)), nil
	case wasm.OpcodeI32GtU:
		return b2i(uint32(l) > uint32(r)), nil
	case wasm.OpcodeI32GeU:
		return b2i(uint32(l) >= uint32(r)), nil

	case wasm.OpcodeI64Add:
		return wasm.EncodeI64(wasm.DecodeI64(l) + wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64Sub:
		return wasm.EncodeI64(wasm.DecodeI64(l) - wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64Mul:
		return wasm.EncodeI64(wasm.DecodeI64(l) * wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64DivS:
		a, b := wasm.DecodeI64(l), wasm.DecodeI64(r)
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt64 && b == -1 {
			return wasm.EncodeI64(math.MinInt64), nil
		}
		return wasm.EncodeI64(a / b), nil
	case wasm.OpcodeI64DivU:
		if r == 0 {
			return 0, ErrDivideByZero
		}
		return l / r, nil
	case wasm.OpcodeI64RemS:
		a, b := wasm.DecodeI64(l), wasm.DecodeI64(r)
		if b == 0 {
			return 0, ErrDivideByZero
		}
		if a == math.MinInt64 && b == -1 {
			return 0, nil
		}
		return wasm.EncodeI64(a % b), nil
	case wasm.OpcodeI64RemU:
		if r == 0 {
			return 0, ErrDivideByZero
		}
		return l % r, nil
	case wasm.OpcodeI64And:
		return l & r, nil
	case wasm.OpcodeI64Ior:
		return l | r, nil
	case wasm.OpcodeI64Xor:
		return l ^ r, nil
	case wasm.OpcodeI64Shl:
		return l << (r & 63), nil
	case wasm.OpcodeI64ShrU:
		return l >> (r & 63), nil
	case wasm.OpcodeI64ShrS:
		return wasm.EncodeI64(wasm.DecodeI64(l) >> (r & 63)), nil
	case wasm.OpcodeI64Eq:
		return b2i(l == r), nil
	case wasm.OpcodeI64Ne:
		return b2i(l != r), nil
	case wasm.OpcodeI64LtS:
		return b2i(wasm.DecodeI64(l) < wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64LeS:
		return b2i(wasm.DecodeI64(l) <= wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64LtU:
		return b2i(l < r), nil
	case wasm.OpcodeI64LeU:
		return b2i(l <= r), nil
	case wasm.OpcodeI64GtS:
		return b2i(wasm.DecodeI64(l) > wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64GeS:
		return b2i(wasm.DecodeI64(l) >= wasm.DecodeI64(r)), nil
	case wasm.OpcodeI64GtU:
		return b2i(l > r), nil
	case wasm.OpcodeI64GeU:
		return b2i(l >= r), nil

	case wasm.OpcodeF32Add:
		return wasm.EncodeF32(wasm.DecodeF32(l) + wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Sub:
		return wasm.EncodeF32(wasm.DecodeF32(l) - wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Mul:
		return wasm.EncodeF32(wasm.DecodeF32(l) * wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Div:
		return wasm.EncodeF32(wasm.DecodeF32(l) / wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Eq:
		return b2i(wasm.DecodeF32(l) == wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Ne:
		return b2i(wasm.DecodeF32(l) != wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Lt:
		return b2i(wasm.DecodeF32(l) < wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Le:
		return b2i(wasm.DecodeF32(l) <= wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Gt:
		return b2i(wasm.DecodeF32(l) > wasm.DecodeF32(r)), nil
	case wasm.OpcodeF32Ge:
		return b2i(wasm.DecodeF32(l) >= wasm.DecodeF32(r)), nil

	case wasm.OpcodeF64Add:
		return wasm.EncodeF64(wasm.DecodeF64(l) + wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Sub:
		return wasm.EncodeF64(wasm.DecodeF64(l) - wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Mul:
		return wasm.EncodeF64(wasm.DecodeF64(l) * wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Div:
		return wasm.EncodeF64(wasm.DecodeF64(l) / wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Eq:
		return b2i(wasm.DecodeF64(l) == wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Ne:
		return b2i(wasm.DecodeF64(l) != wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Lt:
		return b2i(wasm.DecodeF64(l) < wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Le:
		return b2i(wasm.DecodeF64(l) <= wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Gt:
		return b2i(wasm.DecodeF64(l) > wasm.DecodeF64(r)), nil
	case wasm.OpcodeF64Ge:
		return b2i(wasm.DecodeF64(l) >= wasm.DecodeF64(r)), nil
	}
	panic(fmt.Sprintf("interpreter: unknown binop %s", wasm.OpcodeName(op)))
}
