package gp

import (
	"encoding/binary"
	"fmt"
)

// reader decodes little-endian fields and latches the first error, so a
// parser can read a whole structure and check once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.fail(fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, r.off, len(r.buf), ErrMalformed))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u24() uint32 {
	if !r.need(3) {
		return 0
	}
	b := r.buf[r.off:]
	r.off += 3
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if n == 0 || !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v
}

func (r *reader) key() Key {
	var k Key
	if r.need(16) {
		copy(k[:], r.buf[r.off:])
		r.off += 16
	}
	return k
}

func (r *reader) rest() []byte {
	if r.err != nil || r.off >= len(r.buf) {
		return nil
	}
	return r.bytes(len(r.buf) - r.off)
}

func (r *reader) remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}

func putU16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func putU24(b []byte, v uint32) []byte { return append(b, byte(v), byte(v>>8), byte(v>>16)) }
func putU32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func putU64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }

func boolBit(v bool, shift uint) uint32 {
	if v {
		return 1 << shift
	}
	return 0
}

func bit(v uint32, shift uint) bool { return v&(1<<shift) != 0 }
