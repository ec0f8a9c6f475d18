package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigIV() *FunctionSig { return &FunctionSig{Return: ValueTypeI32} }

func TestLinkerPlaceholderIsMemoized(t *testing.T) {
	l := NewLinker(2)
	p0 := l.FunctionCode(0, sigIV())
	assert.Same(t, p0, l.FunctionCode(0, sigIV()))
	assert.True(t, l.IsPlaceholder(p0))
	assert.Nil(t, p0.Body)

	p1 := l.FunctionCode(1, sigIV())
	assert.NotSame(t, p0, p1)
}

func TestLinkerReturnsFinalOncePresent(t *testing.T) {
	l := NewLinker(1)
	code := &Code{Sig: sigIV(), Body: func([]uint64) (uint64, error) { return 7, nil }}
	l.Finish(0, code)
	assert.Same(t, code, l.FunctionCode(0, sigIV()))
	assert.False(t, l.IsPlaceholder(code))
}

func TestLinkerPatchesForwardReferences(t *testing.T) {
	l := NewLinker(2)

	// Function 0 is compiled first and calls the not-yet-compiled
	// function 1 through a placeholder.
	site := &CallSite{Index: 1, Target: l.FunctionCode(1, sigIV())}
	caller := &Code{Sig: sigIV(), Relocations: []*CallSite{site}}
	caller.Body = func(args []uint64) (uint64, error) { return site.Target.Call(args) }
	l.Finish(0, caller)

	callee := &Code{Sig: sigIV(), Body: func([]uint64) (uint64, error) { return 99, nil }}
	l.Finish(1, callee)

	patches := l.Link()
	assert.Equal(t, 1, patches)
	assert.Same(t, callee, site.Target)
	assert.True(t, caller.Patched())
	assert.False(t, callee.Patched())

	v, err := l.Code(0).Call(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)
}

func TestLinkerFixedPoint(t *testing.T) {
	l := NewLinker(3)
	var sites []*CallSite
	for i := uint32(0); i < 3; i++ {
		// Every function calls all three functions. A callee already
		// finished is referenced directly, the rest through placeholders.
		var relocs []*CallSite
		for j := uint32(0); j < 3; j++ {
			site := &CallSite{Index: j, Target: l.FunctionCode(j, sigIV())}
			relocs = append(relocs, site)
			sites = append(sites, site)
		}
		l.Finish(i, &Code{Sig: sigIV(), Relocations: relocs,
			Body: func([]uint64) (uint64, error) { return 0, nil }})
	}

	// Function i reaches callees i..2 through placeholders, so 3+2+1
	// sites patch.
	assert.Equal(t, 6, l.Link())
	for _, site := range sites {
		assert.False(t, l.IsPlaceholder(site.Target))
	}
	// Linking again is a fixed point.
	assert.Equal(t, 0, l.Link())
}

func TestCallingPlaceholderPanics(t *testing.T) {
	l := NewLinker(1)
	p := l.FunctionCode(0, sigIV())
	assert.Panics(t, func() { _, _ = p.Call(nil) })
}

func TestLinkPanicsOnMissingFunction(t *testing.T) {
	l := NewLinker(2)
	site := &CallSite{Index: 1, Target: l.FunctionCode(1, sigIV())}
	l.Finish(0, &Code{Sig: sigIV(), Relocations: []*CallSite{site},
		Body: func([]uint64) (uint64, error) { return 0, nil }})
	assert.Panics(t, func() { l.Link() })
}
