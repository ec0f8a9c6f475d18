package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderReadsLittleEndian(t *testing.T) {
	d := NewDecoder([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77})
	assert.Equal(t, byte(0x11), d.U8())
	assert.Equal(t, uint16(0x3322), d.U16())
	assert.Equal(t, uint32(0x77665544), d.U32())
	assert.False(t, d.Failed())
	assert.Equal(t, uint32(7), d.PC())
}

func TestDecoderLatchesOnShortRead(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x02})
	assert.Equal(t, uint32(0), d.U32())
	require.True(t, d.Failed())

	err := d.Error()
	require.NotNil(t, err)
	assert.Equal(t, ErrUnexpectedEnd, err.Kind)
	assert.Equal(t, uint32(0), err.PC)

	// All subsequent reads short-circuit.
	assert.Equal(t, byte(0), d.U8())
	assert.Equal(t, uint16(0), d.U16())
	assert.Equal(t, uint32(0), d.Remaining())
}

func TestDecoderFirstErrorWins(t *testing.T) {
	d := NewDecoder([]byte{0x01})
	d.Fail(ErrUnknownOpcode, 0, "first")
	d.Fail(ErrTypeMismatch, 1, "second")
	err := d.Error()
	require.NotNil(t, err)
	assert.Equal(t, ErrUnknownOpcode, err.Kind)
	assert.Equal(t, "first", err.Msg)
}

func TestDecoderOffsetU32(t *testing.T) {
	t.Run("in range", func(t *testing.T) {
		d := NewDecoder([]byte{0x08, 0, 0, 0, 0, 0, 0, 0})
		assert.Equal(t, uint32(8), d.OffsetU32())
		assert.False(t, d.Failed())
	})
	t.Run("out of range", func(t *testing.T) {
		d := NewDecoder([]byte{0x09, 0, 0, 0, 0, 0, 0, 0})
		assert.Equal(t, uint32(0), d.OffsetU32())
		require.True(t, d.Failed())
		assert.Equal(t, ErrOffsetOutOfBounds, d.Error().Kind)
		assert.Equal(t, uint32(0), d.Error().PC)
	})
}

func TestDecoderAtReportsModuleRelativePCs(t *testing.T) {
	bytes := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	d := NewDecoderAt(bytes, 2, 4)
	assert.Equal(t, uint32(2), d.PC())
	assert.Equal(t, byte(0xcc), d.U8())
	assert.Equal(t, byte(0xdd), d.U8())
	d.U8()
	require.True(t, d.Failed())
	assert.Equal(t, uint32(4), d.Error().PC)
}
