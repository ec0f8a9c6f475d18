package wasm

import "math"

// Values cross the engine boundary as raw uint64 bit patterns:
// integers zero-extended, floats via their IEEE 754 encoding.

func EncodeI32(v int32) uint64   { return uint64(uint32(v)) }
func EncodeI64(v int64) uint64   { return uint64(v) }
func EncodeF32(v float32) uint64 { return uint64(math.Float32bits(v)) }
func EncodeF64(v float64) uint64 { return math.Float64bits(v) }

func DecodeI32(raw uint64) int32   { return int32(uint32(raw)) }
func DecodeI64(raw uint64) int64   { return int64(raw) }
func DecodeF32(raw uint64) float32 { return math.Float32frombits(uint32(raw)) }
func DecodeF64(raw uint64) float64 { return math.Float64frombits(raw) }
