package cursor

import (
	"errors"
	"testing"
)

func TestReadsAdvance(t *testing.T) {
	b := New([]byte{0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0xff})
	v16, err := b.Uint16()
	if err != nil {
		t.Fatal(err)
	}
	if v16 != 1 {
		t.Errorf("Uint16 = %d, want 1", v16)
	}
	v32, err := b.Uint32()
	if err != nil {
		t.Fatal(err)
	}
	if v32 != 2 {
		t.Errorf("Uint32 = %d, want 2", v32)
	}
	if b.Pos() != 6 || b.Remaining() != 1 {
		t.Errorf("pos=%d remaining=%d, want 6/1", b.Pos(), b.Remaining())
	}
}

func TestTruncatedReads(t *testing.T) {
	b := New([]byte{0x01, 0x02})
	if _, err := b.Uint32(); !errors.Is(err, ErrTruncated) {
		t.Errorf("Uint32 on short buffer: err = %v, want ErrTruncated", err)
	}
	// A failed read must not move the cursor.
	if b.Pos() != 0 {
		t.Errorf("pos after failed read = %d, want 0", b.Pos())
	}
	if _, err := b.Uint16(); err != nil {
		t.Errorf("Uint16 after failed Uint32: %v", err)
	}
}

func TestSliceBounds(t *testing.T) {
	b := New(make([]byte, 16))
	tests := []struct {
		name   string
		off, n int
		ok     bool
	}{
		{"inside", 4, 8, true},
		{"exact", 0, 16, true},
		{"empty_at_end", 16, 0, true},
		{"past_end", 8, 9, false},
		{"negative_off", -1, 4, false},
		{"negative_len", 4, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := b.Slice(tt.off, tt.n)
			if tt.ok && err != nil {
				t.Fatalf("Slice(%d,%d): %v", tt.off, tt.n, err)
			}
			if !tt.ok && !errors.Is(err, ErrBounds) {
				t.Fatalf("Slice(%d,%d): err = %v, want ErrBounds", tt.off, tt.n, err)
			}
			if tt.ok && s.Len() != tt.n {
				t.Errorf("len = %d, want %d", s.Len(), tt.n)
			}
		})
	}
}

func TestAbsPosThroughSlices(t *testing.T) {
	b := New(make([]byte, 64))
	s, err := b.Slice(16, 32)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Skip(4); err != nil {
		t.Fatal(err)
	}
	if got := s.AbsPos(); got != 20 {
		t.Errorf("AbsPos = %d, want 20", got)
	}
	ss, err := s.SliceFrom(8)
	if err != nil {
		t.Fatal(err)
	}
	if got := ss.AbsPos(); got != 24 {
		t.Errorf("nested AbsPos = %d, want 24", got)
	}
}

func TestULEB128(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want uint32
		rest int
	}{
		{"one_byte", []byte{0x00}, 0, 0},
		{"small", []byte{0x7f}, 127, 0},
		{"two_bytes", []byte{0x80, 0x01}, 128, 0},
		{"multi", []byte{0xb4, 0x07}, 0x3b4, 0},
		{"max_five", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff, 0},
		{"stops_after_five", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, 0xffffffff, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.in)
			v, err := b.ULEB128()
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.want {
				t.Errorf("value = %#x, want %#x", v, tt.want)
			}
			if b.Remaining() != tt.rest {
				t.Errorf("remaining = %d, want %d", b.Remaining(), tt.rest)
			}
		})
	}

	b := New([]byte{0x80, 0x80})
	if _, err := b.ULEB128(); !errors.Is(err, ErrTruncated) {
		t.Errorf("unterminated ULEB128: err = %v, want ErrTruncated", err)
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		x, w, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 4, 8},
		{4095, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, tt := range tests {
		if got := Align(tt.x, tt.w); got != tt.want {
			t.Errorf("Align(%d,%d) = %d, want %d", tt.x, tt.w, got, tt.want)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct{ n, want uint32 }{
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{100, 128},
		{65535, 65536},
	}
	for _, tt := range tests {
		if got := NextPowerOfTwo(tt.n); got != tt.want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func FuzzULEB128(f *testing.F) {
	f.Add([]byte{0x80, 0x01})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	f.Fuzz(func(t *testing.T, data []byte) {
		b := New(data)
		v, err := b.ULEB128()
		if err == nil && b.Pos() > 5 {
			t.Errorf("consumed %d bytes for value %#x, max is 5", b.Pos(), v)
		}
	})
}
