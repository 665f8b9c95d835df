package oat

import (
	"encoding/binary"
	"fmt"
	"io"

	"oatforge/internal/cursor"
	"oatforge/internal/dex"
)

// LookupEntrySize is the on-disk size of one lookup table entry.
const LookupEntrySize = 8

// LookupEntry is one slot of the type lookup hash table.
//
//	str_offset  data  next_pos_delta
//
// str_offset is the DEX-relative offset of the class-name string data;
// zero marks an empty slot. data packs the high hash bits with the
// class_def index. next_pos_delta links collision chains, zero ends a
// chain.
type LookupEntry struct {
	StrOffset    uint32 `json:"str_offset"`
	Data         uint16 `json:"data"`
	NextPosDelta uint16 `json:"next_pos_delta"`
}

// Empty reports whether the slot is unoccupied.
func (e LookupEntry) Empty() bool { return e.StrOffset == 0 }

// LookupTable is the per-DEX type lookup hash table of modern OAT
// files. Entry count is always a power of two.
type LookupTable struct {
	Entries []LookupEntry
}

// SupportedLookupSize reports whether a DEX with n class_defs gets a
// lookup table at all.
func SupportedLookupSize(n uint32) bool {
	return n != 0 && n <= 65535
}

// LookupEntryCount returns the slot count for n class_defs, zero when
// no table is built.
func LookupEntryCount(n uint32) uint32 {
	if !SupportedLookupSize(n) {
		return 0
	}
	return cursor.NextPowerOfTwo(n)
}

// HashClassName hashes a class descriptor, stopping at the first NUL.
func HashClassName(name []byte) uint32 {
	var h uint32
	for _, c := range name {
		if c == 0 {
			break
		}
		h = h*31 + uint32(c)
	}
	return h
}

func lookupData(classDefIdx uint32, hash, mask uint32) uint16 {
	return (uint16(hash) & ^uint16(mask)) | uint16(classDefIdx)
}

// ClassDefIdx extracts the class_def index from a slot given the table
// mask.
func (e LookupEntry) ClassDefIdx(mask uint32) uint16 {
	return e.Data & uint16(mask)
}

// BuildLookupTable constructs the table for one DEX file. Returns nil
// when the class count is unsupported.
func BuildLookupTable(ix *dex.Index) (*LookupTable, error) {
	n := ix.NumClassDefs()
	count := LookupEntryCount(n)
	if count == 0 {
		return nil, nil
	}
	mask := count - 1
	t := &LookupTable{Entries: make([]LookupEntry, count)}

	type pending struct {
		entry LookupEntry
		hash  uint32
	}
	var deferred []pending

	for i := uint32(0); i < n; i++ {
		name, err := ix.ClassName(i)
		if err != nil {
			return nil, fmt.Errorf("%w: class %d: %v", ErrInvalidDex, i, err)
		}
		strOff, err := ix.ClassNameOffset(i)
		if err != nil {
			return nil, fmt.Errorf("%w: class %d: %v", ErrInvalidDex, i, err)
		}
		h := HashClassName(name)
		e := LookupEntry{StrOffset: strOff, Data: lookupData(i, h, mask)}
		slot := h & mask
		if t.Entries[slot].Empty() {
			t.Entries[slot] = e
		} else {
			deferred = append(deferred, pending{entry: e, hash: h})
		}
	}

	for _, p := range deferred {
		// Walk the existing chain to its tail.
		tail := p.hash & mask
		for t.Entries[tail].NextPosDelta != 0 {
			tail = (tail + uint32(t.Entries[tail].NextPosDelta)) & mask
		}
		// Probe forward for a free slot.
		delta := uint32(1)
		for !t.Entries[(tail+delta)&mask].Empty() {
			delta++
			if delta > mask {
				return nil, fmt.Errorf("%w: lookup table full", ErrInvalidDex)
			}
		}
		t.Entries[tail].NextPosDelta = uint16(delta)
		t.Entries[(tail+delta)&mask] = p.entry
	}
	return t, nil
}

// ParseLookupTable reads the table for a DEX with numClassDefs classes
// at off in the OAT buffer.
func ParseLookupTable(b *cursor.Buffer, off uint32, numClassDefs uint32) (*LookupTable, error) {
	count := LookupEntryCount(numClassDefs)
	if count == 0 {
		return nil, nil
	}
	s, err := b.Slice(int(off), int(count)*LookupEntrySize)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup table: %v", ErrTruncated, err)
	}
	t := &LookupTable{Entries: make([]LookupEntry, count)}
	for i := range t.Entries {
		e := &t.Entries[i]
		e.StrOffset, _ = s.Uint32()
		e.Data, _ = s.Uint16()
		if e.NextPosDelta, err = s.Uint16(); err != nil {
			return nil, fmt.Errorf("%w: lookup table: %v", ErrTruncated, err)
		}
	}
	return t, nil
}

// Size returns the encoded byte size of the table.
func (t *LookupTable) Size() uint32 {
	if t == nil {
		return 0
	}
	return uint32(len(t.Entries)) * LookupEntrySize
}

// Mask returns the slot-index mask.
func (t *LookupTable) Mask() uint32 { return uint32(len(t.Entries)) - 1 }

// Write encodes the table.
func (t *LookupTable) Write(w io.Writer) error {
	var buf [LookupEntrySize]byte
	for _, e := range t.Entries {
		binary.LittleEndian.PutUint32(buf[0:], e.StrOffset)
		binary.LittleEndian.PutUint16(buf[4:], e.Data)
		binary.LittleEndian.PutUint16(buf[6:], e.NextPosDelta)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Find walks the table for a class name, using match to confirm a
// candidate slot by its string offset. Returns the class_def index.
func (t *LookupTable) Find(name []byte, match func(strOffset uint32) bool) (uint16, bool) {
	if t == nil || len(t.Entries) == 0 {
		return 0, false
	}
	mask := t.Mask()
	h := HashClassName(name)
	slot := h & mask
	for {
		e := t.Entries[slot]
		if !e.Empty() && e.Data&^uint16(mask) == uint16(h)&^uint16(mask) && match(e.StrOffset) {
			return e.ClassDefIdx(mask), true
		}
		if e.NextPosDelta == 0 {
			return 0, false
		}
		slot = (slot + uint32(e.NextPosDelta)) & mask
	}
}
