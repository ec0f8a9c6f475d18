package ir

import (
	"fmt"

	"github.com/protowasm/protowasm/wasm"
)

// label is one entry of the control stack. Only Block and Loop
// introduce labels; depth 0 is the innermost.
type label struct {
	node   *Node
	isLoop bool

	// Snapshots of the SSA state at every Break targeting this label.
	breakDefs    [][]*Node
	breakEffects []*Node

	// Snapshots at every Continue targeting this loop; they feed the
	// header phis' back-edge inputs.
	contDefs    [][]*Node
	contEffects []*Node
}

type builder struct {
	env *wasm.FunctionEnv
	d   *wasm.Decoder
	g   *Graph

	nextID int

	// defs is the current SSA definition per local; effect the tail of
	// the effect chain.
	defs   []*Node
	effect *Node
	labels []*label
}

// BuildGraph runs the single-pass verifier over the function body at
// [pcStart, pcEnd) within the module bytes and returns the typed IR
// graph, or the first error with its offending PC.
func BuildGraph(env *wasm.FunctionEnv, pcStart, pcEnd uint32) (*Graph, *wasm.CodeError) {
	b := &builder{
		env: env,
		d:   wasm.NewDecoderAt(env.Module.Bytes, pcStart, pcEnd),
		g:   &Graph{Sig: env.Sig, Env: env},
	}

	start := b.newNode(KindStart, wasm.ValueTypeStmt, pcStart)
	b.g.Entry = start
	b.effect = start

	for i := 0; i < env.TotalLocals; i++ {
		t, _ := env.LocalType(i)
		var def *Node
		if i < len(env.Sig.Params) {
			def = b.newNode(KindParam, t, pcStart)
			def.Index = uint32(i)
			b.g.Params = append(b.g.Params, def)
		} else {
			def = b.zeroConst(t, pcStart)
		}
		b.g.Locals = append(b.g.Locals, def)
		b.defs = append(b.defs, def)
	}

	for b.d.Remaining() > 0 && !b.d.Failed() {
		if s := b.decodeStmt(); s != nil {
			b.g.Body = append(b.g.Body, s)
		}
	}
	if err := b.d.Error(); err != nil {
		return nil, err
	}

	terminal, fallthru := tailOf(b.g.Body)
	b.g.Terminal = terminal
	b.g.Fallthru = fallthru
	if env.Sig.Return != wasm.ValueTypeStmt && !terminal {
		if fallthru == nil {
			b.d.Fail(wasm.ErrTypeMismatch, pcEnd,
				fmt.Sprintf("function falls off the end without a %s value",
					wasm.ValueTypeName(env.Sig.Return)))
		} else if fallthru.Type != env.Sig.Return {
			b.d.FailAt(wasm.ErrTypeMismatch, fallthru.PC, pcEnd,
				fmt.Sprintf("fallthru value is %s, function returns %s",
					wasm.ValueTypeName(fallthru.Type), wasm.ValueTypeName(env.Sig.Return)))
		}
	}
	if err := b.d.Error(); err != nil {
		return nil, err
	}
	return b.g, nil
}

func (b *builder) newNode(kind NodeKind, t wasm.ValueType, pc uint32) *Node {
	n := &Node{ID: b.nextID, Kind: kind, Type: t, PC: pc}
	b.nextID++
	b.g.Nodes = append(b.g.Nodes, n)
	return n
}

func (b *builder) zeroConst(t wasm.ValueType, pc uint32) *Node {
	n := b.newNode(KindConst, t, pc)
	switch t {
	case wasm.ValueTypeI32:
		n.Op = wasm.OpcodeI32Const
	case wasm.ValueTypeI64:
		n.Op = wasm.OpcodeI64Const
	case wasm.ValueTypeF32:
		n.Op = wasm.OpcodeF32Const
	case wasm.ValueTypeF64:
		n.Op = wasm.OpcodeF64Const
	}
	return n
}

func (b *builder) snapshot() []*Node {
	return append([]*Node(nil), b.defs...)
}

func (b *builder) restore(defs []*Node) {
	copy(b.defs, defs)
}

// expect checks an operand's type. expectPC is the position that
// established the expectation and becomes the error's secondary point.
func (b *builder) expect(t wasm.ValueType, operand *Node, expectPC uint32) {
	if operand == nil || b.d.Failed() || operand.Type == t {
		return
	}
	if operand.Type == wasm.ValueTypeStmt {
		b.d.Fail(wasm.ErrValueExpectedStmtFound, operand.PC,
			fmt.Sprintf("expected %s", wasm.ValueTypeName(t)))
		return
	}
	b.d.FailAt(wasm.ErrTypeMismatch, operand.PC, expectPC,
		fmt.Sprintf("found %s, expected %s",
			wasm.ValueTypeName(operand.Type), wasm.ValueTypeName(t)))
}

func isStmtOpcode(op wasm.Opcode) bool { return op <= wasm.OpcodeStoreMem }

// decodeStmt decodes one statement; an expression at statement
// position is legal and keeps its value for fallthru analysis.
func (b *builder) decodeStmt() *Node {
	if b.d.Failed() {
		return nil
	}
	pc := b.d.PC()
	op := b.d.U8()
	if b.d.Failed() {
		return nil
	}
	switch op {
	case wasm.OpcodeNop:
		return b.newNode(KindNop, wasm.ValueTypeStmt, pc)
	case wasm.OpcodeBlock:
		count := b.d.U8()
		return b.decodeBlock(pc, int(count))
	case wasm.OpcodeLoop:
		count := b.d.U8()
		return b.decodeLoop(pc, int(count))
	case wasm.OpcodeInfiniteLoop:
		return b.decodeLoop(pc, 0)
	case wasm.OpcodeIf:
		return b.decodeIf(pc, false)
	case wasm.OpcodeIfThen:
		return b.decodeIf(pc, true)
	case wasm.OpcodeSwitch:
		return b.decodeSwitch(pc, false)
	case wasm.OpcodeSwitchNf:
		return b.decodeSwitch(pc, true)
	case wasm.OpcodeReturn:
		return b.decodeReturn(pc)
	case wasm.OpcodeBreak:
		return b.decodeBreak(pc)
	case wasm.OpcodeContinue:
		return b.decodeContinue(pc)
	case wasm.OpcodeSetLocal:
		return b.decodeSetLocal(pc)
	case wasm.OpcodeStoreGlobal:
		return b.decodeStoreGlobal(pc)
	case wasm.OpcodeStoreMem:
		return b.decodeStoreMem(pc)
	default:
		return b.decodeExprOp(op, pc)
	}
}

// decodeExpr decodes one expression; a statement opcode here is an
// error.
func (b *builder) decodeExpr() *Node {
	if b.d.Failed() {
		return nil
	}
	pc := b.d.PC()
	op := b.d.U8()
	if b.d.Failed() {
		return nil
	}
	if isStmtOpcode(op) {
		b.d.Fail(wasm.ErrValueExpectedStmtFound, pc, wasm.OpcodeName(op))
		return nil
	}
	return b.decodeExprOp(op, pc)
}

func (b *builder) decodeExprOp(op wasm.Opcode, pc uint32) *Node {
	switch op {
	case wasm.OpcodeI8Const:
		n := b.newNode(KindConst, wasm.ValueTypeI32, pc)
		n.Op = op
		n.Value = wasm.EncodeI32(int32(int8(b.d.U8())))
		return n
	case wasm.OpcodeI32Const:
		n := b.newNode(KindConst, wasm.ValueTypeI32, pc)
		n.Op = op
		n.Value = uint64(b.d.U32())
		return n
	case wasm.OpcodeI64Const:
		n := b.newNode(KindConst, wasm.ValueTypeI64, pc)
		n.Op = op
		n.Value = b.d.U64()
		return n
	case wasm.OpcodeF32Const:
		n := b.newNode(KindConst, wasm.ValueTypeF32, pc)
		n.Op = op
		n.Value = uint64(b.d.U32())
		return n
	case wasm.OpcodeF64Const:
		n := b.newNode(KindConst, wasm.ValueTypeF64, pc)
		n.Op = op
		n.Value = b.d.U64()
		return n
	case wasm.OpcodeGetLocal:
		return b.decodeGetLocal(pc)
	case wasm.OpcodeLoadGlobal:
		return b.decodeLoadGlobal(pc)
	case wasm.OpcodeLoadMem:
		return b.decodeLoadMem(pc)
	case wasm.OpcodeCallFunction:
		return b.decodeCall(pc)
	case wasm.OpcodeTernary:
		return b.decodeTernary(pc)
	case wasm.OpcodeComma:
		return b.decodeComma(pc)
	default:
		return b.decodeSimple(op, pc)
	}
}

func (b *builder) decodeBlock(pc uint32, count int) *Node {
	node := b.newNode(KindBlock, wasm.ValueTypeStmt, pc)
	lbl := &label{node: node}
	b.labels = append(b.labels, lbl)
	for i := 0; i < count && !b.d.Failed(); i++ {
		if s := b.decodeStmt(); s != nil {
			node.Body = append(node.Body, s)
		}
	}
	b.labels = b.labels[:len(b.labels)-1]
	if b.d.Failed() {
		return nil
	}
	if len(lbl.breakDefs) > 0 {
		// The block exit merges the fall-out state with every break.
		b.mergeDefs(node, append(lbl.breakDefs, b.snapshot()))
		b.mergeEffects(node, append(lbl.breakEffects, b.effect))
	}
	return node
}

func (b *builder) decodeLoop(pc uint32, count int) *Node {
	node := b.newNode(KindLoop, wasm.ValueTypeStmt, pc)
	if count == 0 {
		node.Infinite = true
		return node
	}

	// Insert header phis for every local and for the effect; trivial
	// ones are removed once the loop is sealed.
	entryDefs := b.snapshot()
	phis := make([]*Node, len(b.defs))
	for i, def := range b.defs {
		t, _ := b.env.LocalType(i)
		phi := b.newNode(KindPhi, t, pc)
		phi.Index = uint32(i)
		phi.In = []*Node{def}
		phis[i] = phi
		b.defs[i] = phi
	}
	ephi := b.newNode(KindEffectPhi, wasm.ValueTypeStmt, pc)
	ephi.In = []*Node{b.effect}
	b.effect = ephi
	node.Phis = append(append([]*Node(nil), phis...), ephi)

	lbl := &label{node: node, isLoop: true}
	b.labels = append(b.labels, lbl)
	for i := 0; i < count && !b.d.Failed(); i++ {
		if s := b.decodeStmt(); s != nil {
			node.Body = append(node.Body, s)
		}
	}
	if b.d.Failed() {
		b.labels = b.labels[:len(b.labels)-1]
		return nil
	}

	// Seal: the body end and every Continue feed the back edge.
	backDefs := append(lbl.contDefs, b.snapshot())
	backEffects := append(lbl.contEffects, b.effect)
	for i, phi := range phis {
		for _, defs := range backDefs {
			phi.In = append(phi.In, defs[i])
		}
	}
	ephi.In = append(ephi.In, backEffects...)
	// The loop's own label is still on the stack, so its break
	// snapshots are rewritten along with every other reference.
	b.removeTrivialPhis(node)
	b.labels = b.labels[:len(b.labels)-1]

	if len(lbl.breakDefs) == 0 {
		node.Infinite = true
		b.restore(entryDefs)
		return node
	}
	// Break is the only way out; the post-loop state merges the break
	// snapshots.
	b.mergeDefs(node, lbl.breakDefs)
	b.mergeEffects(node, lbl.breakEffects)
	return node
}

// removeTrivialPhis drops header phis whose back-edge inputs all equal
// the entry definition (or the phi itself) and rewrites every
// reference to them.
func (b *builder) removeTrivialPhis(loop *Node) {
	kept := loop.Phis[:0]
	for _, phi := range loop.Phis {
		entry := phi.In[0]
		trivial := true
		for _, in := range phi.In[1:] {
			if in != phi && in != entry {
				trivial = false
				break
			}
		}
		if !trivial {
			kept = append(kept, phi)
			continue
		}
		b.replaceNode(phi, entry)
	}
	loop.Phis = kept
}

// replaceNode rewrites every reference to old (SSA defs, phi inputs,
// GetLocal annotations, pending label snapshots) with new, and drops
// old from the node list.
func (b *builder) replaceNode(old, new *Node) {
	for _, n := range b.g.Nodes {
		if n.Def == old {
			n.Def = new
		}
		if n.Kind == KindPhi || n.Kind == KindEffectPhi {
			for i, in := range n.In {
				if in == old {
					n.In[i] = new
				}
			}
		}
	}
	for i, def := range b.defs {
		if def == old {
			b.defs[i] = new
		}
	}
	if b.effect == old {
		b.effect = new
	}
	for _, lbl := range b.labels {
		for _, defs := range lbl.breakDefs {
			for i, def := range defs {
				if def == old {
					defs[i] = new
				}
			}
		}
		for i, eff := range lbl.breakEffects {
			if eff == old {
				lbl.breakEffects[i] = new
			}
		}
		for _, defs := range lbl.contDefs {
			for i, def := range defs {
				if def == old {
					defs[i] = new
				}
			}
		}
		for i, eff := range lbl.contEffects {
			if eff == old {
				lbl.contEffects[i] = new
			}
		}
	}
	nodes := b.g.Nodes[:0]
	for _, n := range b.g.Nodes {
		if n != old {
			nodes = append(nodes, n)
		}
	}
	b.g.Nodes = nodes
}

func (b *builder) decodeIf(pc uint32, hasElse bool) *Node {
	kind := KindIf
	if hasElse {
		kind = KindIfThen
	}
	node := b.newNode(kind, wasm.ValueTypeStmt, pc)
	cond := b.decodeExpr()
	b.expect(wasm.ValueTypeI32, cond, pc)
	node.In = []*Node{cond}

	entryDefs := b.snapshot()
	entryEffect := b.effect

	then := b.decodeStmt()
	if then != nil {
		node.Body = []*Node{then}
	}
	thenDefs := b.snapshot()
	thenEffect := b.effect

	if hasElse {
		b.restore(entryDefs)
		b.effect = entryEffect
		node.Else = b.decodeStmt()
		if b.d.Failed() {
			return nil
		}
		b.mergeDefs(node, [][]*Node{thenDefs, b.snapshot()})
		b.mergeEffects(node, []*Node{thenEffect, b.effect})
	} else {
		if b.d.Failed() {
			return nil
		}
		b.mergeDefs(node, [][]*Node{entryDefs, thenDefs})
		b.mergeEffects(node, []*Node{entryEffect, thenEffect})
	}
	return node
}

func (b *builder) decodeSwitch(pc uint32, noFallthru bool) *Node {
	node := b.newNode(KindSwitch, wasm.ValueTypeStmt, pc)
	node.NoFallthru = noFallthru
	count := int(b.d.U8())
	key := b.decodeExpr()
	b.expect(wasm.ValueTypeI32, key, pc)
	node.In = []*Node{key}

	entryDefs := b.snapshot()
	entryEffect := b.effect
	// An out-of-range key executes no case, so the entry state is one
	// of the merged exits.
	exitDefs := [][]*Node{entryDefs}
	exitEffects := []*Node{entryEffect}

	for i := 0; i < count && !b.d.Failed(); i++ {
		if noFallthru {
			b.restore(entryDefs)
			b.effect = entryEffect
		}
		if s := b.decodeStmt(); s != nil {
			node.Body = append(node.Body, s)
		}
		exitDefs = append(exitDefs, b.snapshot())
		exitEffects = append(exitEffects, b.effect)
	}
	if b.d.Failed() {
		return nil
	}
	b.mergeDefs(node, exitDefs)
	b.mergeEffects(node, exitEffects)
	return node
}

func (b *builder) decodeReturn(pc uint32) *Node {
	node := b.newNode(KindReturn, wasm.ValueTypeStmt, pc)
	if b.env.Sig.Return != wasm.ValueTypeStmt {
		val := b.decodeExpr()
		b.expect(b.env.Sig.Return, val, pc)
		if val != nil {
			node.In = []*Node{val}
		}
	}
	node.Effect = b.effect
	return node
}

func (b *builder) decodeBreak(pc uint32) *Node {
	node := b.newNode(KindBreak, wasm.ValueTypeStmt, pc)
	depth := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	if depth >= len(b.labels) {
		b.d.Fail(wasm.ErrBreakDepthOutOfRange, pc,
			fmt.Sprintf("depth %d with %d labels", depth, len(b.labels)))
		return nil
	}
	node.Depth = depth
	target := b.labels[len(b.labels)-1-depth]
	target.breakDefs = append(target.breakDefs, b.snapshot())
	target.breakEffects = append(target.breakEffects, b.effect)
	return node
}

func (b *builder) decodeContinue(pc uint32) *Node {
	node := b.newNode(KindContinue, wasm.ValueTypeStmt, pc)
	depth := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	if depth >= len(b.labels) {
		b.d.Fail(wasm.ErrBreakDepthOutOfRange, pc,
			fmt.Sprintf("depth %d with %d labels", depth, len(b.labels)))
		return nil
	}
	target := b.labels[len(b.labels)-1-depth]
	if !target.isLoop {
		b.d.Fail(wasm.ErrBreakDepthOutOfRange, pc, "continue target is not a loop")
		return nil
	}
	node.Depth = depth
	target.contDefs = append(target.contDefs, b.snapshot())
	target.contEffects = append(target.contEffects, b.effect)
	return node
}

func (b *builder) decodeSetLocal(pc uint32) *Node {
	index := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	t, ok := b.env.LocalType(index)
	if !ok {
		b.d.Fail(wasm.ErrLocalIndexOutOfRange, pc,
			fmt.Sprintf("local %d of %d", index, b.env.TotalLocals))
		return nil
	}
	node := b.newNode(KindSetLocal, wasm.ValueTypeStmt, pc)
	node.Index = uint32(index)
	val := b.decodeExpr()
	b.expect(t, val, pc)
	if b.d.Failed() {
		return nil
	}
	node.In = []*Node{val}
	b.defs[index] = val
	return node
}

func (b *builder) decodeStoreGlobal(pc uint32) *Node {
	index := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	if index >= len(b.env.Module.Globals) {
		b.d.Fail(wasm.ErrGlobalIndexOutOfRange, pc,
			fmt.Sprintf("global %d of %d", index, len(b.env.Module.Globals)))
		return nil
	}
	mt := b.env.Module.Globals[index].Type
	node := b.newNode(KindStoreGlobal, wasm.ValueTypeStmt, pc)
	node.Index = uint32(index)
	node.MemType = mt
	val := b.decodeExpr()
	b.expect(wasm.ValueTypeOf(mt), val, pc)
	if b.d.Failed() {
		return nil
	}
	node.In = []*Node{val}
	b.thread(node)
	return node
}

func (b *builder) decodeStoreMem(pc uint32) *Node {
	mt := b.d.U8()
	if b.d.Failed() {
		return nil
	}
	if !wasm.IsValidMemType(mt) {
		b.d.Fail(wasm.ErrInvalidMemType, pc, fmt.Sprintf("0x%x", mt))
		return nil
	}
	node := b.newNode(KindStoreMem, wasm.ValueTypeStmt, pc)
	node.MemType = mt
	addr := b.decodeExpr()
	b.expect(wasm.ValueTypeI32, addr, pc)
	val := b.decodeExpr()
	b.expect(wasm.ValueTypeOf(mt), val, pc)
	if b.d.Failed() {
		return nil
	}
	node.In = []*Node{addr, val}
	b.thread(node)
	return node
}

func (b *builder) decodeGetLocal(pc uint32) *Node {
	index := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	t, ok := b.env.LocalType(index)
	if !ok {
		b.d.Fail(wasm.ErrLocalIndexOutOfRange, pc,
			fmt.Sprintf("local %d of %d", index, b.env.TotalLocals))
		return nil
	}
	node := b.newNode(KindGetLocal, t, pc)
	node.Index = uint32(index)
	node.Def = b.defs[index]
	return node
}

func (b *builder) decodeLoadGlobal(pc uint32) *Node {
	index := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	if index >= len(b.env.Module.Globals) {
		b.d.Fail(wasm.ErrGlobalIndexOutOfRange, pc,
			fmt.Sprintf("global %d of %d", index, len(b.env.Module.Globals)))
		return nil
	}
	mt := b.env.Module.Globals[index].Type
	node := b.newNode(KindLoadGlobal, wasm.ValueTypeOf(mt), pc)
	node.Index = uint32(index)
	node.MemType = mt
	b.thread(node)
	return node
}

func (b *builder) decodeLoadMem(pc uint32) *Node {
	mt := b.d.U8()
	if b.d.Failed() {
		return nil
	}
	if !wasm.IsValidMemType(mt) {
		b.d.Fail(wasm.ErrInvalidMemType, pc, fmt.Sprintf("0x%x", mt))
		return nil
	}
	node := b.newNode(KindLoadMem, wasm.ValueTypeOf(mt), pc)
	node.MemType = mt
	addr := b.decodeExpr()
	b.expect(wasm.ValueTypeI32, addr, pc)
	if b.d.Failed() {
		return nil
	}
	node.In = []*Node{addr}
	b.thread(node)
	return node
}

func (b *builder) decodeCall(pc uint32) *Node {
	index := int(b.d.U8())
	if b.d.Failed() {
		return nil
	}
	if index >= len(b.env.Module.Functions) {
		b.d.Fail(wasm.ErrFunctionIndexOutOfRange, pc,
			fmt.Sprintf("function %d of %d", index, len(b.env.Module.Functions)))
		return nil
	}
	sig := b.env.Module.Functions[index].Sig
	node := b.newNode(KindCall, sig.Return, pc)
	node.Index = uint32(index)
	// Arguments are consumed left-to-right, no re-ordering.
	for _, paramType := range sig.Params {
		arg := b.decodeExpr()
		b.expect(paramType, arg, pc)
		if b.d.Failed() {
			return nil
		}
		node.In = append(node.In, arg)
	}
	b.thread(node)
	return node
}

func (b *builder) decodeTernary(pc uint32) *Node {
	node := b.newNode(KindTernary, wasm.ValueTypeStmt, pc)
	cond := b.decodeExpr()
	b.expect(wasm.ValueTypeI32, cond, pc)
	thenVal := b.decodeExpr()
	if thenVal != nil && thenVal.Type == wasm.ValueTypeStmt {
		b.d.Fail(wasm.ErrValueExpectedStmtFound, thenVal.PC, "ternary arm has no value")
	}
	elseVal := b.decodeExpr()
	if !b.d.Failed() && elseVal != nil && elseVal.Type != thenVal.Type {
		b.d.FailAt(wasm.ErrTypeMismatch, elseVal.PC, thenVal.PC,
			fmt.Sprintf("ternary arms disagree: %s vs %s",
				wasm.ValueTypeName(thenVal.Type), wasm.ValueTypeName(elseVal.Type)))
	}
	if b.d.Failed() {
		return nil
	}
	node.Type = thenVal.Type
	node.In = []*Node{cond, thenVal, elseVal}
	return node
}

func (b *builder) decodeComma(pc uint32) *Node {
	node := b.newNode(KindComma, wasm.ValueTypeStmt, pc)
	first := b.decodeExpr()
	second := b.decodeExpr()
	if b.d.Failed() {
		return nil
	}
	if second.Type == wasm.ValueTypeStmt {
		b.d.Fail(wasm.ErrValueExpectedStmtFound, second.PC, "comma result has no value")
		return nil
	}
	node.Type = second.Type
	node.In = []*Node{first, second}
	return node
}

func (b *builder) decodeSimple(op wasm.Opcode, pc uint32) *Node {
	sig := wasm.SignatureOf(op)
	if sig == nil {
		b.d.Fail(wasm.ErrUnknownOpcode, pc, fmt.Sprintf("0x%x", op))
		return nil
	}
	if !wasm.IsSupported(op) {
		b.d.Fail(wasm.ErrUnknownOpcode, pc,
			fmt.Sprintf("%s unsupported on this target", wasm.OpcodeName(op)))
		return nil
	}
	kind := KindBinop
	if len(sig.Params) == 1 {
		kind = KindUnop
	}
	node := b.newNode(kind, sig.Return, pc)
	node.Op = op
	for _, paramType := range sig.Params {
		operand := b.decodeExpr()
		b.expect(paramType, operand, pc)
		if b.d.Failed() {
			return nil
		}
		node.In = append(node.In, operand)
	}
	return node
}

// thread appends a side-effecting node to the effect chain.
func (b *builder) thread(node *Node) {
	node.Effect = b.effect
	b.effect = node
}

// mergeDefs joins the per-local SSA state of several predecessors at a
// merge point, materializing a phi per local whose definitions differ.
func (b *builder) mergeDefs(at *Node, lists [][]*Node) {
	for i := range b.defs {
		first := lists[0][i]
		differs := false
		for _, defs := range lists[1:] {
			if defs[i] != first {
				differs = true
				break
			}
		}
		if !differs {
			b.defs[i] = first
			continue
		}
		t, _ := b.env.LocalType(i)
		phi := b.newNode(KindPhi, t, at.PC)
		phi.Index = uint32(i)
		for _, defs := range lists {
			phi.In = append(phi.In, defs[i])
		}
		at.Phis = append(at.Phis, phi)
		b.defs[i] = phi
	}
}

func (b *builder) mergeEffects(at *Node, effects []*Node) {
	first := effects[0]
	differs := false
	for _, e := range effects[1:] {
		if e != first {
			differs = true
			break
		}
	}
	if !differs {
		b.effect = first
		return
	}
	ephi := b.newNode(KindEffectPhi, wasm.ValueTypeStmt, at.PC)
	ephi.In = append(ephi.In, effects...)
	at.Phis = append(at.Phis, ephi)
	b.effect = ephi
}

// tailOf analyzes the tail position of a statement list: whether it
// always terminates (Return or infinite loop) and otherwise which
// trailing expression provides the fallthru value.
func tailOf(body []*Node) (terminal bool, fallthru *Node) {
	if len(body) == 0 {
		return false, nil
	}
	return tailOfNode(body[len(body)-1])
}

func tailOfNode(n *Node) (terminal bool, fallthru *Node) {
	if n == nil {
		return false, nil
	}
	switch n.Kind {
	case KindReturn:
		return true, nil
	case KindLoop:
		return n.Infinite, nil
	case KindBlock:
		return tailOf(n.Body)
	case KindIfThen:
		thenTerminal, _ := tailOf(n.Body)
		elseTerminal, _ := tailOfNode(n.Else)
		return thenTerminal && elseTerminal, nil
	default:
		if n.Type != wasm.ValueTypeStmt {
			return false, n
		}
		return false, nil
	}
}
