// Package ir builds the typed intermediate representation consumed by
// code generators. The graph is produced by a single type-directed
// pass over a function body: value producers are nodes, side effects
// are threaded on an effect chain, and control-flow merges materialize
// phi nodes.
package ir

import (
	"github.com/protowasm/protowasm/wasm"
)

// NodeKind discriminates IR nodes.
type NodeKind byte

const (
	KindStart NodeKind = iota

	// Statement nodes.
	KindNop
	KindBlock
	KindIf
	KindIfThen
	KindLoop
	KindSwitch
	KindReturn
	KindBreak
	KindContinue
	KindSetLocal
	KindStoreGlobal
	KindStoreMem

	// Expression nodes.
	KindParam
	KindConst
	KindGetLocal
	KindLoadGlobal
	KindLoadMem
	KindCall
	KindUnop
	KindBinop
	KindTernary
	KindComma

	// Merge artifacts.
	KindPhi
	KindEffectPhi
)

var kindNames = map[NodeKind]string{
	KindStart: "Start", KindNop: "Nop", KindBlock: "Block", KindIf: "If",
	KindIfThen: "IfThen", KindLoop: "Loop", KindSwitch: "Switch",
	KindReturn: "Return", KindBreak: "Break", KindContinue: "Continue",
	KindSetLocal: "SetLocal", KindStoreGlobal: "StoreGlobal",
	KindStoreMem: "StoreMem", KindParam: "Param", KindConst: "Const",
	KindGetLocal: "GetLocal", KindLoadGlobal: "LoadGlobal",
	KindLoadMem: "LoadMem", KindCall: "Call", KindUnop: "Unop",
	KindBinop: "Binop", KindTernary: "Ternary", KindComma: "Comma",
	KindPhi: "Phi", KindEffectPhi: "EffectPhi",
}

func (k NodeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node is one vertex of the IR graph. Type is ValueTypeStmt for
// statements. In holds value operands left-to-right; control
// constructs keep their sub-statements in Body (and Else for the
// else arm of IfThen). Effect links a side-effecting node to its
// predecessor on the effect chain, giving memory, global and call
// operations a total order.
type Node struct {
	ID   int
	Kind NodeKind
	Type wasm.ValueType
	PC   uint32

	// Op is the source opcode for Const/Unop/Binop nodes.
	Op wasm.Opcode

	// Index is the local, global or function index, depending on Kind.
	Index uint32
	// MemType qualifies LoadMem/StoreMem/LoadGlobal/StoreGlobal.
	MemType wasm.MemType
	// Value is a constant's payload in the raw uint64 representation.
	Value uint64

	In   []*Node
	Body []*Node
	Else *Node

	// Depth of a Break or Continue, in enclosing labeled constructs.
	Depth int
	// NoFallthru marks a SwitchNf node.
	NoFallthru bool
	// Infinite marks a Loop with no break targeting its own label;
	// control never falls through to its successor.
	Infinite bool

	// Effect is the previous node on the effect chain, nil for pure
	// nodes; the first side effect links to the Start node.
	Effect *Node

	// Phis lists the phi nodes a merge point (IfThen join, Loop
	// header, Block exit reached by breaks) materialized.
	Phis []*Node

	// Def annotates a GetLocal with the reaching SSA definition and a
	// Phi with the merged local's index (via Index).
	Def *Node
}

// Graph is the result of verifying one function body.
type Graph struct {
	// Entry is the start node; its effect chain threads every
	// side-effecting node in the body.
	Entry *Node
	// Body is the top-level statement list of the function.
	Body []*Node
	// Fallthru is the trailing expression serving as the return value
	// when the body does not end in a terminator, or nil.
	Fallthru *Node
	// Terminal reports that every path out of the body ends in a
	// Return or an infinite loop.
	Terminal bool

	// Params holds the parameter nodes, Locals the initial definition
	// of every local (parameters first).
	Params []*Node
	Locals []*Node

	// Nodes lists every node in creation order.
	Nodes []*Node

	Sig *wasm.FunctionSig
	Env *wasm.FunctionEnv
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.Nodes) }
