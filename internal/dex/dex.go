// Package dex parses the DEX file header and projects the identifier
// tables an OAT container needs: class names per class_def and method
// counts per class.
//
// Only the tables the container format touches are decoded. Code items,
// annotations, and debug info are left untouched.
package dex

import (
	"errors"
	"fmt"

	"oatforge/internal/cursor"
)

var (
	ErrBadHeader = errors.New("dex: bad header")
	ErrBadIndex  = errors.New("dex: identifier out of range")
)

// HeaderSize is the size of the DEX file header.
const HeaderSize = 112

// Header is the fixed 112-byte DEX file header.
//
//	magic[8]  checksum  signature[20]
//	file_size  header_size  endian_tag  link_size  link_off  map_off
//	string_ids  type_ids  proto_ids  field_ids  method_ids  class_defs
//	data                                       (each: size, off)
type Header struct {
	Magic         [8]byte `json:"-"`
	Checksum      uint32  `json:"checksum"`
	Signature     [20]byte `json:"-"`
	FileSize      uint32  `json:"file_size"`
	HeaderSize    uint32  `json:"header_size"`
	EndianTag     uint32  `json:"endian_tag"`
	LinkSize      uint32  `json:"link_size"`
	LinkOff       uint32  `json:"link_off"`
	MapOff        uint32  `json:"map_off"`
	StringIDsSize uint32  `json:"string_ids_size"`
	StringIDsOff  uint32  `json:"string_ids_off"`
	TypeIDsSize   uint32  `json:"type_ids_size"`
	TypeIDsOff    uint32  `json:"type_ids_off"`
	ProtoIDsSize  uint32  `json:"proto_ids_size"`
	ProtoIDsOff   uint32  `json:"proto_ids_off"`
	FieldIDsSize  uint32  `json:"field_ids_size"`
	FieldIDsOff   uint32  `json:"field_ids_off"`
	MethodIDsSize uint32  `json:"method_ids_size"`
	MethodIDsOff  uint32  `json:"method_ids_off"`
	ClassDefsSize uint32  `json:"class_defs_size"`
	ClassDefsOff  uint32  `json:"class_defs_off"`
	DataSize      uint32  `json:"data_size"`
	DataOff       uint32  `json:"data_off"`
}

// ClassDef is the 32-byte class_def_item.
type ClassDef struct {
	ClassIdx        uint16
	AccessFlags     uint32
	SuperclassIdx   uint16
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

// ParseHeader decodes the header at the start of buf.
func ParseHeader(b *cursor.Buffer) (Header, error) {
	var h Header
	if b.Len() < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes, need %d", ErrBadHeader, b.Len(), HeaderSize)
	}
	magic, _ := b.Bytes(8)
	copy(h.Magic[:], magic)
	h.Checksum, _ = b.Uint32()
	sig, _ := b.Bytes(20)
	copy(h.Signature[:], sig)
	for _, dst := range []*uint32{
		&h.FileSize, &h.HeaderSize, &h.EndianTag, &h.LinkSize, &h.LinkOff, &h.MapOff,
		&h.StringIDsSize, &h.StringIDsOff,
		&h.TypeIDsSize, &h.TypeIDsOff,
		&h.ProtoIDsSize, &h.ProtoIDsOff,
		&h.FieldIDsSize, &h.FieldIDsOff,
		&h.MethodIDsSize, &h.MethodIDsOff,
		&h.ClassDefsSize, &h.ClassDefsOff,
		&h.DataSize, &h.DataOff,
	} {
		v, err := b.Uint32()
		if err != nil {
			return h, err
		}
		*dst = v
	}
	return h, nil
}

const (
	classDefSize = 32
	methodIDSize = 8
	typeIDSize   = 4
	stringIDSize = 4
)

// Index projects the identifier tables of a single in-memory DEX file.
type Index struct {
	buf *cursor.Buffer
	hdr Header

	// method count per class, indexed by type index.
	methodCounts []uint32
}

// NewIndex validates table bounds against the buffer and builds the
// per-class method counts in one pass over method_ids.
func NewIndex(b *cursor.Buffer) (*Index, error) {
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	ix := &Index{buf: b, hdr: hdr}

	for _, tbl := range []struct {
		name      string
		off, size uint32
		entry     int
	}{
		{"string_ids", hdr.StringIDsOff, hdr.StringIDsSize, stringIDSize},
		{"type_ids", hdr.TypeIDsOff, hdr.TypeIDsSize, typeIDSize},
		{"method_ids", hdr.MethodIDsOff, hdr.MethodIDsSize, methodIDSize},
		{"class_defs", hdr.ClassDefsOff, hdr.ClassDefsSize, classDefSize},
	} {
		end := uint64(tbl.off) + uint64(tbl.size)*uint64(tbl.entry)
		if end > uint64(b.Len()) {
			return nil, fmt.Errorf("%w: %s table [%#x,%#x) exceeds %d-byte file",
				ErrBadHeader, tbl.name, tbl.off, end, b.Len())
		}
	}

	ix.methodCounts = make([]uint32, hdr.TypeIDsSize)
	for i := uint32(0); i < hdr.MethodIDsSize; i++ {
		off := int(hdr.MethodIDsOff) + int(i)*methodIDSize
		raw, err := b.BytesAt(off, 2)
		if err != nil {
			return nil, err
		}
		classIdx := uint16(raw[0]) | uint16(raw[1])<<8
		if int(classIdx) < len(ix.methodCounts) {
			ix.methodCounts[classIdx]++
		}
	}
	return ix, nil
}

// Header returns the decoded file header.
func (ix *Index) Header() Header { return ix.hdr }

// NumClassDefs returns class_defs_size.
func (ix *Index) NumClassDefs() uint32 { return ix.hdr.ClassDefsSize }

// ClassDef decodes class_def_item i.
func (ix *Index) ClassDef(i uint32) (ClassDef, error) {
	var cd ClassDef
	if i >= ix.hdr.ClassDefsSize {
		return cd, fmt.Errorf("%w: class_def %d of %d", ErrBadIndex, i, ix.hdr.ClassDefsSize)
	}
	off := int(ix.hdr.ClassDefsOff) + int(i)*classDefSize
	b, err := ix.buf.Slice(off, classDefSize)
	if err != nil {
		return cd, err
	}
	cd.ClassIdx, _ = b.Uint16()
	b.Skip(2)
	cd.AccessFlags, _ = b.Uint32()
	cd.SuperclassIdx, _ = b.Uint16()
	b.Skip(2)
	cd.InterfacesOff, _ = b.Uint32()
	cd.SourceFileIdx, _ = b.Uint32()
	cd.AnnotationsOff, _ = b.Uint32()
	cd.ClassDataOff, _ = b.Uint32()
	if cd.StaticValuesOff, err = b.Uint32(); err != nil {
		return cd, err
	}
	return cd, nil
}

// ClassNameOffset returns the file-relative offset of the class-name
// string data for class_def i. The offset points at the ULEB128 length
// prefix.
func (ix *Index) ClassNameOffset(i uint32) (uint32, error) {
	cd, err := ix.ClassDef(i)
	if err != nil {
		return 0, err
	}
	if uint32(cd.ClassIdx) >= ix.hdr.TypeIDsSize {
		return 0, fmt.Errorf("%w: type %d of %d", ErrBadIndex, cd.ClassIdx, ix.hdr.TypeIDsSize)
	}
	descIdx, err := ix.buf.Uint32At(int(ix.hdr.TypeIDsOff) + int(cd.ClassIdx)*typeIDSize)
	if err != nil {
		return 0, err
	}
	if descIdx >= ix.hdr.StringIDsSize {
		return 0, fmt.Errorf("%w: string %d of %d", ErrBadIndex, descIdx, ix.hdr.StringIDsSize)
	}
	return ix.buf.Uint32At(int(ix.hdr.StringIDsOff) + int(descIdx)*stringIDSize)
}

// ClassName returns the L+1 bytes that follow the ULEB128 length prefix
// L of class_def i's name. For ASCII names that is the name plus its
// terminating NUL. The prefix counts UTF-16 units, so for names with
// multi-byte MUTF-8 characters the returned bytes stop before the NUL.
func (ix *Index) ClassName(i uint32) ([]byte, error) {
	strOff, err := ix.ClassNameOffset(i)
	if err != nil {
		return nil, err
	}
	b, err := ix.buf.SliceFrom(int(strOff))
	if err != nil {
		return nil, err
	}
	n, err := b.ULEB128()
	if err != nil {
		return nil, err
	}
	return b.Bytes(int(n) + 1)
}

// ClassNameString returns the name of class_def i without the NUL.
func (ix *Index) ClassNameString(i uint32) (string, error) {
	raw, err := ix.ClassName(i)
	if err != nil {
		return "", err
	}
	return string(raw[:len(raw)-1]), nil
}

// StringAt decodes the name string at a file-relative offset pointing
// at a ULEB128 length prefix. The terminating NUL is not included.
func (ix *Index) StringAt(off uint32) (string, error) {
	b, err := ix.buf.SliceFrom(int(off))
	if err != nil {
		return "", err
	}
	n, err := b.ULEB128()
	if err != nil {
		return "", err
	}
	raw, err := b.Bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// MethodCount returns the number of method_ids entries whose class is
// the class of class_def i.
func (ix *Index) MethodCount(i uint32) (uint32, error) {
	cd, err := ix.ClassDef(i)
	if err != nil {
		return 0, err
	}
	if int(cd.ClassIdx) >= len(ix.methodCounts) {
		return 0, nil
	}
	return ix.methodCounts[cd.ClassIdx], nil
}
