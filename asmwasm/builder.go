package asmwasm

import (
	"fmt"
	"math"

	"github.com/protowasm/protowasm/wasm"
)

// opcode rows are indexed by type class: signed, unsigned, f32, f64.
// OpcodeNop marks a combination the dialect rejects.
var binopTable = map[Token][4]wasm.Opcode{
	TokAdd:    {wasm.OpcodeI32Add, wasm.OpcodeI32Add, wasm.OpcodeF32Add, wasm.OpcodeF64Add},
	TokSub:    {wasm.OpcodeI32Sub, wasm.OpcodeI32Sub, wasm.OpcodeF32Sub, wasm.OpcodeF64Sub},
	TokMul:    {wasm.OpcodeI32Mul, wasm.OpcodeI32Mul, wasm.OpcodeF32Mul, wasm.OpcodeF64Mul},
	TokDiv:    {wasm.OpcodeI32DivS, wasm.OpcodeI32DivU, wasm.OpcodeF32Div, wasm.OpcodeF64Div},
	TokBitAnd: {wasm.OpcodeI32And, wasm.OpcodeI32And},
	TokBitOr:  {wasm.OpcodeI32Ior, wasm.OpcodeI32Ior},
	TokBitXor: {wasm.OpcodeI32Xor, wasm.OpcodeI32Xor},
	TokShl:    {wasm.OpcodeI32Shl, wasm.OpcodeI32Shl},
	TokSar:    {wasm.OpcodeI32ShrS, wasm.OpcodeI32ShrS},
	TokShr:    {wasm.OpcodeI32ShrU, wasm.OpcodeI32ShrU},
	TokEq:     {wasm.OpcodeI32Eq, wasm.OpcodeI32Eq, wasm.OpcodeF32Eq, wasm.OpcodeF64Eq},
	TokNe:     {wasm.OpcodeI32Ne, wasm.OpcodeI32Ne, wasm.OpcodeF32Ne, wasm.OpcodeF64Ne},
	TokLt:     {wasm.OpcodeI32LtS, wasm.OpcodeI32LtU, wasm.OpcodeF32Lt, wasm.OpcodeF64Lt},
	TokLe:     {wasm.OpcodeI32LeS, wasm.OpcodeI32LeU, wasm.OpcodeF32Le, wasm.OpcodeF64Le},
	TokGt:     {wasm.OpcodeI32GtS, wasm.OpcodeI32GtU, wasm.OpcodeF32Gt, wasm.OpcodeF64Gt},
	TokGe:     {wasm.OpcodeI32GeS, wasm.OpcodeI32GeU, wasm.OpcodeF32Ge, wasm.OpcodeF64Ge},
}

// ignoreSign lists the tokens where signed and unsigned int operands
// may mix.
var ignoreSign = map[Token]bool{
	TokAdd: true, TokSub: true, TokMul: true,
	TokBitAnd: true, TokBitOr: true, TokBitXor: true,
	TokShl: true, TokSar: true, TokShr: true,
}

// Compile lowers a typed module AST into the binary module format.
func Compile(m *Module) ([]byte, error) {
	c := &compiler{
		builder: NewModuleBuilder(),
		indexes: map[string]uint16{},
		decls:   map[string]*FuncDecl{},
	}
	for _, decl := range m.Funcs {
		if _, dup := c.indexes[decl.Name]; dup {
			return nil, fmt.Errorf("asmwasm: duplicate function %q", decl.Name)
		}
		c.indexes[decl.Name] = c.builder.AddFunction(decl.Name)
		c.decls[decl.Name] = decl
	}
	for _, decl := range m.Funcs {
		if err := c.compileFunction(decl); err != nil {
			return nil, fmt.Errorf("asmwasm: function %q: %w", decl.Name, err)
		}
	}
	return c.builder.Build()
}

type compiler struct {
	builder *ModuleBuilder
	indexes map[string]uint16
	decls   map[string]*FuncDecl

	cur    *FunctionBuilder
	ret    Type
	locals map[string]localVar

	// breakables tracks the enclosing labeled constructs so break and
	// continue can compute their relative depth; each entry knows
	// whether it is a loop.
	breakables []bool
}

type localVar struct {
	id  int
	typ Type
}

func (c *compiler) compileFunction(decl *FuncDecl) error {
	index := c.indexes[decl.Name]
	c.cur = c.builder.FunctionAt(index)
	c.ret = decl.Ret
	c.locals = map[string]localVar{}
	c.breakables = c.breakables[:0]

	c.cur.ReturnType(decl.Ret.ValueType())
	c.cur.Exported(decl.Exported)
	for _, p := range decl.Params {
		if p.Type.ValueType() == wasm.ValueTypeStmt {
			return fmt.Errorf("parameter %q has no value type", p.Name)
		}
		id, err := c.cur.AddParam(p.Type.ValueType())
		if err != nil {
			return err
		}
		c.locals[p.Name] = localVar{id: id, typ: p.Type}
	}
	return c.compileStmtList(decl.Body)
}

// compileStmtList wraps a statement list in a Block, the unit break
// depths count.
func (c *compiler) compileStmtList(stmts []Stmt) error {
	if len(stmts) > 0xff {
		return fmt.Errorf("statement list has %d entries, limit 255", len(stmts))
	}
	c.cur.AppendCode(wasm.OpcodeBlock, byte(len(stmts)))
	c.breakables = append(c.breakables, false)
	defer func() { c.breakables = c.breakables[:len(c.breakables)-1] }()
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileStmt(s Stmt) error {
	switch s := s.(type) {
	case *EmptyStmt:
		c.cur.AppendCode(wasm.OpcodeNop)
		return nil

	case *ExprStmt:
		return c.compileExpr(s.X)

	case *AssignStmt:
		v, err := c.lookupOrInsertLocal(s.Name, s.Type)
		if err != nil {
			return err
		}
		if s.Value.exprType().ValueType() != v.typ.ValueType() {
			return fmt.Errorf("assigning %s value to %s variable %q",
				s.Value.exprType(), v.typ, s.Name)
		}
		c.cur.AppendCode(wasm.OpcodeSetLocal)
		c.cur.EmitLocalIndex(v.id)
		return c.compileExpr(s.Value)

	case *BlockStmt:
		return c.compileStmtList(s.Stmts)

	case *IfStmt:
		if s.Else != nil {
			c.cur.AppendCode(wasm.OpcodeIfThen)
		} else {
			c.cur.AppendCode(wasm.OpcodeIf)
		}
		if err := c.compileIntCond(s.Cond); err != nil {
			return err
		}
		if err := c.compileStmtOrNop(s.Then); err != nil {
			return err
		}
		if s.Else != nil {
			return c.compileStmt(s.Else)
		}
		return nil

	case *WhileStmt:
		// while (c) b  =>  Loop(2, If(!c, Break(0)), b)
		c.cur.AppendCode(wasm.OpcodeLoop, 2)
		c.breakables = append(c.breakables, true)
		defer func() { c.breakables = c.breakables[:len(c.breakables)-1] }()
		c.cur.AppendCode(wasm.OpcodeIf, wasm.OpcodeBoolNot)
		if err := c.compileIntCond(s.Cond); err != nil {
			return err
		}
		c.cur.AppendCode(wasm.OpcodeBreak, 0)
		return c.compileStmtOrNop(s.Body)

	case *BreakStmt:
		depth, err := c.loopDepth("break")
		if err != nil {
			return err
		}
		c.cur.AppendCode(wasm.OpcodeBreak, depth)
		return nil

	case *ContinueStmt:
		depth, err := c.loopDepth("continue")
		if err != nil {
			return err
		}
		c.cur.AppendCode(wasm.OpcodeContinue, depth)
		return nil

	case *ReturnStmt:
		c.cur.AppendCode(wasm.OpcodeReturn)
		if c.ret == TypeStmt {
			if s.Value != nil {
				return fmt.Errorf("void function returns a value")
			}
			return nil
		}
		if s.Value == nil {
			return fmt.Errorf("missing return value")
		}
		if s.Value.exprType().ValueType() != c.ret.ValueType() {
			return fmt.Errorf("returning %s from %s function", s.Value.exprType(), c.ret)
		}
		return c.compileExpr(s.Value)

	default:
		return fmt.Errorf("unsupported statement %T", s)
	}
}

func (c *compiler) compileStmtOrNop(s Stmt) error {
	if s == nil {
		c.cur.AppendCode(wasm.OpcodeNop)
		return nil
	}
	return c.compileStmt(s)
}

// loopDepth computes the relative depth from the innermost label to
// the innermost enclosing loop.
func (c *compiler) loopDepth(what string) (byte, error) {
	for i := len(c.breakables) - 1; i >= 0; i-- {
		if c.breakables[i] {
			return byte(len(c.breakables) - 1 - i), nil
		}
	}
	return 0, fmt.Errorf("%s outside a loop", what)
}

func (c *compiler) lookupOrInsertLocal(name string, typ Type) (localVar, error) {
	if v, ok := c.locals[name]; ok {
		if v.typ != typ {
			return localVar{}, fmt.Errorf("variable %q is %s, used as %s", name, v.typ, typ)
		}
		return v, nil
	}
	vt := typ.ValueType()
	if vt == wasm.ValueTypeStmt {
		return localVar{}, fmt.Errorf("variable %q has no value type", name)
	}
	v := localVar{id: c.cur.AddLocal(vt), typ: typ}
	c.locals[name] = v
	return v, nil
}

func (c *compiler) compileIntCond(e Expr) error {
	if e.exprType().ValueType() != wasm.ValueTypeI32 {
		return fmt.Errorf("condition is %s, expected an int", e.exprType())
	}
	return c.compileExpr(e)
}

func (c *compiler) compileExpr(e Expr) error {
	switch e := e.(type) {
	case *NumberLit:
		return c.compileNumber(e)

	case *VarRef:
		v, err := c.lookupOrInsertLocal(e.Name, e.Type)
		if err != nil {
			return err
		}
		c.cur.AppendCode(wasm.OpcodeGetLocal)
		c.cur.EmitLocalIndex(v.id)
		return nil

	case *BinaryExpr:
		row, ok := binopTable[e.Op]
		if !ok {
			return fmt.Errorf("unsupported operator %d", e.Op)
		}
		index, err := typeIndexOf(e.L, e.R, ignoreSign[e.Op])
		if err != nil {
			return err
		}
		op := row[index]
		if op == wasm.OpcodeNop {
			return fmt.Errorf("operator %d not defined for %s operands", e.Op, e.L.exprType())
		}
		c.cur.AppendCode(op)
		if err := c.compileExpr(e.L); err != nil {
			return err
		}
		return c.compileExpr(e.R)

	case *NotExpr:
		if e.X.exprType().ValueType() != wasm.ValueTypeI32 {
			return fmt.Errorf("logical not of %s, expected an int", e.X.exprType())
		}
		c.cur.AppendCode(wasm.OpcodeBoolNot)
		return c.compileExpr(e.X)

	case *CallExpr:
		return c.compileCall(e)

	case *CondExpr:
		if e.Then.exprType().ValueType() != e.Else.exprType().ValueType() {
			return fmt.Errorf("ternary arms disagree: %s vs %s",
				e.Then.exprType(), e.Else.exprType())
		}
		c.cur.AppendCode(wasm.OpcodeTernary)
		if err := c.compileIntCond(e.Cond); err != nil {
			return err
		}
		if err := c.compileExpr(e.Then); err != nil {
			return err
		}
		return c.compileExpr(e.Else)

	case *CommaExpr:
		c.cur.AppendCode(wasm.OpcodeComma)
		if err := c.compileExpr(e.L); err != nil {
			return err
		}
		return c.compileExpr(e.R)

	default:
		return fmt.Errorf("unsupported expression %T", e)
	}
}

func (c *compiler) compileNumber(n *NumberLit) error {
	switch n.Type {
	case TypeSigned, TypeUnsigned:
		v := int64(n.Value)
		if float64(v) != n.Value {
			return fmt.Errorf("int literal %v is not integral", n.Value)
		}
		if v >= math.MinInt8 && v <= math.MaxInt8 {
			c.cur.AppendCode(wasm.OpcodeI8Const, byte(int8(v)))
			return nil
		}
		if v < math.MinInt32 || v > math.MaxUint32 {
			return fmt.Errorf("int literal %v out of range", n.Value)
		}
		bits := uint32(v)
		c.cur.AppendCode(wasm.OpcodeI32Const,
			byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		return nil
	case TypeFloat:
		bits := math.Float32bits(float32(n.Value))
		c.cur.AppendCode(wasm.OpcodeF32Const,
			byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		return nil
	case TypeDouble:
		bits := math.Float64bits(n.Value)
		c.cur.AppendCode(wasm.OpcodeF64Const,
			byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24),
			byte(bits>>32), byte(bits>>40), byte(bits>>48), byte(bits>>56))
		return nil
	}
	return fmt.Errorf("literal %v has no value type", n.Value)
}

func (c *compiler) compileCall(e *CallExpr) error {
	decl, ok := c.decls[e.Callee]
	if !ok {
		return fmt.Errorf("call to undeclared function %q", e.Callee)
	}
	index := c.indexes[e.Callee]
	if index > 0xff {
		return fmt.Errorf("function index %d of %q exceeds one byte", index, e.Callee)
	}
	if len(e.Args) != len(decl.Params) {
		return fmt.Errorf("%q takes %d arguments, got %d",
			e.Callee, len(decl.Params), len(e.Args))
	}
	if e.Type.ValueType() != decl.Ret.ValueType() {
		return fmt.Errorf("call to %q typed %s, declared %s", e.Callee, e.Type, decl.Ret)
	}
	c.cur.AppendCode(wasm.OpcodeCallFunction, byte(index))
	for i, arg := range e.Args {
		if arg.exprType().ValueType() != decl.Params[i].Type.ValueType() {
			return fmt.Errorf("argument %d of %q is %s, expected %s",
				i, e.Callee, arg.exprType(), decl.Params[i].Type)
		}
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}
	return nil
}

func typeIndexOf(l, r Expr, ignoreSign bool) (int, error) {
	li, ri := l.exprType().index(), r.exprType().index()
	if li < 0 || ri < 0 {
		return 0, fmt.Errorf("operand has no value type")
	}
	if li != ri && !(ignoreSign && li <= 1 && ri <= 1) {
		return 0, fmt.Errorf("operand types disagree: %s vs %s", l.exprType(), r.exprType())
	}
	return li, nil
}
