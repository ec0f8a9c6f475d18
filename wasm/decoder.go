package wasm

import "encoding/binary"

// Decoder reads little-endian fixed-width values out of a bounded byte
// range with a single latched error. Positions are reported relative
// to the module origin, so a Decoder over a function body constructed
// with NewDecoderAt yields module-relative PCs in its errors.
//
// The first failing read latches the error; every later read
// short-circuits and returns zero so callers only need to check before
// committing a structural decision.
type Decoder struct {
	bytes []byte
	start uint32 // first readable position, relative to bytes[0]
	cur   uint32
	end   uint32

	kind  ErrorKind
	errPC uint32
	errPT uint32
	hasPT bool
	msg   string
}

// NewDecoder returns a Decoder over the whole byte slice, with
// positions reported from its first byte.
func NewDecoder(bytes []byte) *Decoder {
	return &Decoder{bytes: bytes, start: 0, cur: 0, end: uint32(len(bytes))}
}

// NewDecoderAt returns a Decoder over bytes[start:end) whose reported
// positions remain relative to bytes[0].
func NewDecoderAt(bytes []byte, start, end uint32) *Decoder {
	return &Decoder{bytes: bytes, start: start, cur: start, end: end}
}

// PC returns the current module-relative position.
func (d *Decoder) PC() uint32 { return d.cur }

// Len returns the total number of readable bytes in the range.
func (d *Decoder) Len() uint32 { return d.end - d.start }

// Failed reports whether an error has been latched.
func (d *Decoder) Failed() bool { return d.kind != ErrNone }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() uint32 {
	if d.Failed() {
		return 0
	}
	return d.end - d.cur
}

// Error returns the latched error, or nil.
func (d *Decoder) Error() *CodeError {
	if d.kind == ErrNone {
		return nil
	}
	return &CodeError{Kind: d.kind, PC: d.errPC, PT: d.errPT, HasPT: d.hasPT, Func: -1, Msg: d.msg}
}

// Fail latches an error at the given module-relative position. The
// first latched error wins.
func (d *Decoder) Fail(kind ErrorKind, pc uint32, msg string) {
	if d.kind != ErrNone {
		return
	}
	d.kind = kind
	d.errPC = pc
	d.msg = msg
}

// FailAt latches an error with a secondary point of interest.
func (d *Decoder) FailAt(kind ErrorKind, pc, pt uint32, msg string) {
	if d.kind != ErrNone {
		return
	}
	d.Fail(kind, pc, msg)
	d.errPT = pt
	d.hasPT = true
}

func (d *Decoder) short(width uint32) bool {
	if d.Failed() {
		return true
	}
	if d.end-d.cur < width {
		d.Fail(ErrUnexpectedEnd, d.PC(), "")
		return true
	}
	return false
}

// U8 reads one byte.
func (d *Decoder) U8() byte {
	if d.short(1) {
		return 0
	}
	v := d.bytes[d.cur]
	d.cur++
	return v
}

// U16 reads a little-endian uint16.
func (d *Decoder) U16() uint16 {
	if d.short(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.bytes[d.cur:])
	d.cur += 2
	return v
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	if d.short(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.bytes[d.cur:])
	d.cur += 4
	return v
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	if d.short(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.bytes[d.cur:])
	d.cur += 8
	return v
}

// OffsetU32 reads a uint32 and checks it is a valid offset into the
// decoder's byte range, latching ErrOffsetOutOfBounds otherwise.
func (d *Decoder) OffsetU32() uint32 {
	pc := d.PC()
	v := d.U32()
	if d.Failed() {
		return 0
	}
	if v > d.Len() {
		d.Fail(ErrOffsetOutOfBounds, pc, "")
		return 0
	}
	return v
}
