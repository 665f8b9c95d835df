// Package sink provides the output side of the OAT codec: a counting
// writer with a movable seek reference, and an Adler-32 checksumming
// wrapper layered on top of it.
package sink

import (
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
)

var ErrClosed = errors.New("sink: write after checksum finalized")

// Counting wraps an io.WriteSeeker, tracking bytes written and a seek
// reference. Seeks are expressed relative to the reference, which lets
// an OAT image embedded at file offset 4096 address itself from zero.
type Counting struct {
	w   io.WriteSeeker
	n   uint64
	ref int64
}

// NewCounting returns a Counting sink with seek reference 0.
func NewCounting(w io.WriteSeeker) *Counting {
	return &Counting{w: w}
}

func (c *Counting) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	if err != nil {
		return n, fmt.Errorf("sink: write: %w", err)
	}
	return n, nil
}

// BytesWritten returns the count of bytes written since the last reset.
func (c *Counting) BytesWritten() uint64 { return c.n }

// ResetBytesWritten zeroes the written-byte counter.
func (c *Counting) ResetBytesWritten() { c.n = 0 }

// SetSeekRefToCurrent makes the current file position the new origin
// for SeekBegin.
func (c *Counting) SetSeekRefToCurrent() error {
	pos, err := c.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sink: seek: %w", err)
	}
	c.ref = pos
	return nil
}

// SetSeekRef sets the SeekBegin origin to an absolute file position.
func (c *Counting) SetSeekRef(pos int64) { c.ref = pos }

// SeekBegin positions the writer at off bytes past the seek reference.
func (c *Counting) SeekBegin(off int64) error {
	if _, err := c.w.Seek(c.ref+off, io.SeekStart); err != nil {
		return fmt.Errorf("sink: seek: %w", err)
	}
	return nil
}

// WriteZeros writes n zero bytes.
func (c *Counting) WriteZeros(n uint32) error {
	return writeZeros(c, n)
}

const stagingSize = 50 * 1024

// Checksumming layers Adler-32 accumulation over a Counting sink.
// Writes are staged in a fixed buffer; each flush feeds the hash and
// then the underlying sink, so the checksum covers exactly the bytes
// written through this wrapper.
type Checksumming struct {
	c     *Counting
	h     hash.Hash32
	buf   []byte
	fill  int
	final bool
}

// NewChecksumming wraps c. Bytes already written to c are not part of
// the checksum.
func NewChecksumming(c *Counting) *Checksumming {
	return &Checksumming{c: c, h: adler32.New(), buf: make([]byte, stagingSize)}
}

func (s *Checksumming) Write(p []byte) (int, error) {
	if s.final {
		return 0, ErrClosed
	}
	total := 0
	for len(p) > 0 {
		if s.fill == len(s.buf) {
			if err := s.flush(); err != nil {
				return total, err
			}
		}
		n := copy(s.buf[s.fill:], p)
		s.fill += n
		p = p[n:]
		total += n
	}
	return total, nil
}

func (s *Checksumming) flush() error {
	if s.fill == 0 {
		return nil
	}
	s.h.Write(s.buf[:s.fill])
	if _, err := s.c.Write(s.buf[:s.fill]); err != nil {
		return err
	}
	s.fill = 0
	return nil
}

// BytesWritten returns the byte count written through the wrapper,
// staged bytes included, on top of whatever the underlying sink had
// already counted.
func (s *Checksumming) BytesWritten() uint64 {
	return s.c.BytesWritten() + uint64(s.fill)
}

// Sum flushes staged bytes and returns the Adler-32 of everything
// written through the wrapper. Further writes fail.
func (s *Checksumming) Sum() (uint32, error) {
	if err := s.flush(); err != nil {
		return 0, err
	}
	s.final = true
	return s.h.Sum32(), nil
}

// WriteZeros writes n zero bytes through the checksum.
func (s *Checksumming) WriteZeros(n uint32) error {
	return writeZeros(s, n)
}

func writeZeros(w io.Writer, n uint32) error {
	var zeros [4096]byte
	for n > 0 {
		chunk := n
		if chunk > uint32(len(zeros)) {
			chunk = uint32(len(zeros))
		}
		if _, err := w.Write(zeros[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Adler32 computes the OAT checksum of buf in one shot.
func Adler32(buf []byte) uint32 {
	return adler32.Checksum(buf)
}
