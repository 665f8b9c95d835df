// Package cursor provides bounds-checked reading over an in-memory buffer,
// plus the small numeric helpers shared by the OAT and DEX codecs.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrTruncated = errors.New("cursor: read past end of buffer")
	ErrBounds    = errors.New("cursor: slice out of bounds")
)

// Buffer is a read cursor over a byte slice. All multi-byte reads are
// little-endian. Reads advance the cursor; the ...At variants and Slice
// do not.
type Buffer struct {
	data []byte
	off  int
	base uint64 // absolute offset of data[0], for diagnostics
}

// New returns a Buffer over data with absolute base offset 0.
func New(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewAt returns a Buffer over data whose first byte sits at absolute
// offset base in the enclosing file.
func NewAt(data []byte, base uint64) *Buffer {
	return &Buffer{data: data, base: base}
}

// Len returns the total buffer length.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// Pos returns the cursor position relative to the buffer start.
func (b *Buffer) Pos() int { return b.off }

// AbsPos returns the cursor position as an absolute file offset.
func (b *Buffer) AbsPos() uint64 { return b.base + uint64(b.off) }

// Seek moves the cursor to off within the buffer.
func (b *Buffer) Seek(off int) error {
	if off < 0 || off > len(b.data) {
		return fmt.Errorf("%w: seek to %d in %d-byte buffer", ErrBounds, off, len(b.data))
	}
	b.off = off
	return nil
}

// Slice returns a sub-Buffer of n bytes starting at off, without moving
// the cursor. The sub-buffer's absolute base reflects its position.
func (b *Buffer) Slice(off, n int) (*Buffer, error) {
	if off < 0 || n < 0 || off+n > len(b.data) || off+n < off {
		return nil, fmt.Errorf("%w: [%d,%d) in %d-byte buffer", ErrBounds, off, off+n, len(b.data))
	}
	return &Buffer{data: b.data[off : off+n], base: b.base + uint64(off)}, nil
}

// SliceFrom returns a sub-Buffer from off to the end of the buffer.
func (b *Buffer) SliceFrom(off int) (*Buffer, error) {
	if off < 0 || off > len(b.data) {
		return nil, fmt.Errorf("%w: from %d in %d-byte buffer", ErrBounds, off, len(b.data))
	}
	return &Buffer{data: b.data[off:], base: b.base + uint64(off)}, nil
}

// Bytes reads n bytes and advances the cursor. The returned slice
// aliases the underlying buffer.
func (b *Buffer) Bytes(n int) ([]byte, error) {
	if n < 0 || b.off+n > len(b.data) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d of %d", ErrTruncated, n, b.off, len(b.data))
	}
	out := b.data[b.off : b.off+n]
	b.off += n
	return out, nil
}

// BytesAt reads n bytes at off without moving the cursor.
func (b *Buffer) BytesAt(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(b.data) || off+n < off {
		return nil, fmt.Errorf("%w: %d bytes at offset %d of %d", ErrTruncated, n, off, len(b.data))
	}
	return b.data[off : off+n], nil
}

// Uint32 reads a little-endian 32-bit word.
func (b *Buffer) Uint32() (uint32, error) {
	p, err := b.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// Uint16 reads a little-endian 16-bit value.
func (b *Buffer) Uint16() (uint16, error) {
	p, err := b.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// Int32 reads a little-endian signed 32-bit value.
func (b *Buffer) Int32() (int32, error) {
	v, err := b.Uint32()
	return int32(v), err
}

// Int16 reads a little-endian signed 16-bit value.
func (b *Buffer) Int16() (int16, error) {
	v, err := b.Uint16()
	return int16(v), err
}

// Uint32At reads a 32-bit word at off without moving the cursor.
func (b *Buffer) Uint32At(off int) (uint32, error) {
	p, err := b.BytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// Skip advances the cursor by n bytes.
func (b *Buffer) Skip(n int) error {
	if n < 0 || b.off+n > len(b.data) {
		return fmt.Errorf("%w: skip %d at offset %d of %d", ErrTruncated, n, b.off, len(b.data))
	}
	b.off += n
	return nil
}

// ULEB128 reads an unsigned LEB128 value of at most five bytes.
func (b *Buffer) ULEB128() (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		p, err := b.Bytes(1)
		if err != nil {
			return 0, err
		}
		v |= uint32(p[0]&0x7f) << (7 * i)
		if p[0]&0x80 == 0 {
			return v, nil
		}
	}
	return v, nil
}

// Align rounds x up to the next multiple of w. w must be a power of two.
func Align(x, w uint32) uint32 {
	return (x + w - 1) &^ (w - 1)
}

// Align4 rounds x up to the next multiple of 4.
func Align4(x uint32) uint32 { return Align(x, 4) }

// NextPowerOfTwo returns the smallest power of two >= n. n must be > 0.
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}

// PopCount returns the number of set bits in x.
func PopCount(x uint32) int { return bits.OnesCount32(x) }
