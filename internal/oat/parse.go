package oat

import (
	"fmt"

	"oatforge/internal/cursor"
	"oatforge/internal/dex"
	"oatforge/internal/memacct"
)

// Mode selects how Parse reacts to structural damage.
type Mode int

const (
	// ModeStrict stops at the first structural error.
	ModeStrict Mode = iota
	// ModeBestEffort records a diagnostic and keeps decoding where the
	// format permits.
	ModeBestEffort
)

// Options controls parsing behavior.
type Options struct {
	Mode Mode
	// DexFilesOnly stops after the listing and DEX headers, skipping
	// class tables and lookup tables.
	DexFilesOnly bool
	// Account tracks consumed byte ranges for memory-usage dumps.
	Account bool
}

// DexEntry is one DEX file of the container, combining the listing
// record with everything derived from it.
type DexEntry struct {
	Location         string `json:"location"`
	LocationChecksum uint32 `json:"location_checksum"`
	FileOffset       uint32 `json:"file_offset"`

	// Modern listings only.
	ClassesOffset     uint32 `json:"classes_offset,omitempty"`
	LookupTableOffset uint32 `json:"lookup_table_offset,omitempty"`

	DexHeader    dex.Header   `json:"dex_header"`
	ClassOffsets []uint32     `json:"-"`
	Classes      []ClassInfo  `json:"classes,omitempty"`
	Lookup       *LookupTable `json:"-"`

	index *dex.Index
}

// NumClasses returns class_defs_size of the underlying DEX.
func (e *DexEntry) NumClasses() uint32 { return e.DexHeader.ClassDefsSize }

// FileSize returns file_size of the underlying DEX.
func (e *DexEntry) FileSize() uint32 { return e.DexHeader.FileSize }

// ClassName returns the descriptor of class_def i, or "" when the DEX
// index is unavailable.
func (e *DexEntry) ClassName(i uint32) string {
	if e.index == nil {
		return ""
	}
	s, err := e.index.ClassNameString(i)
	if err != nil {
		return ""
	}
	return s
}

// Index exposes the projected DEX identifier tables, nil when the DEX
// could not be indexed.
func (e *DexEntry) Index() *dex.Index { return e.index }

// File is a parsed OAT image. Parse never fails outright: Status and
// Err describe how far decoding got, and the populated fields are
// always safe to dump.
type File struct {
	Common  CommonHeader
	Version Version
	Header  Header
	KV      []KVPair
	Dexes   []*DexEntry

	Status Status
	Err    error
	Diags  Diags

	// OatOffset is where the OAT image starts in the input buffer:
	// 0x1000 for ELF-wrapped input, 0 otherwise.
	OatOffset uint32

	Acct *memacct.Accounter

	buf *cursor.Buffer
}

const elfMagic = 0x464C457F

// Parse decodes an OAT image, unwrapping a leading ELF shell if
// present.
func Parse(raw []byte, opts Options) *File {
	f := &File{Status: StatusFailure}
	if opts.Account {
		f.Acct = memacct.New(uint64(len(raw)))
	}

	outer := cursor.New(raw)
	if w, err := outer.Uint32At(0); err == nil && w == elfMagic {
		f.OatOffset = 0x1000
	}
	b, err := outer.SliceFrom(int(f.OatOffset))
	if err != nil {
		f.fail(ErrTruncated, 0, "ELF shell with no OAT payload")
		return f
	}
	f.buf = b
	f.Acct.Consume(0, uint64(f.OatOffset))

	f.Common, err = ParseCommonHeader(b)
	if err != nil {
		f.fail(ErrTruncated, b.AbsPos(), "common header: %v", err)
		return f
	}
	f.Acct.Consume(uint64(f.OatOffset), uint64(f.OatOffset)+CommonHeaderSize)
	if f.Common.Magic != Magic {
		f.Status = StatusBadMagic
		f.Err = fmt.Errorf("%w: %#08x", ErrBadMagic, f.Common.Magic)
		return f
	}
	f.Version = VersionFromWord(f.Common.Version)
	if f.Version == VersionUnknown {
		f.Status = StatusUnknownVersion
		f.Err = fmt.Errorf("%w: %#08x", ErrUnknownVersion, f.Common.Version)
		return f
	}

	f.Header, err = ParseHeader(b, f.Version)
	if err != nil {
		f.fail(ErrTruncated, b.AbsPos(), "oat header: %v", err)
		return f
	}
	f.Acct.Consume(uint64(f.OatOffset)+CommonHeaderSize, uint64(f.OatOffset)+uint64(HeaderSize(f.Version)))

	kvRaw, err := b.Bytes(int(f.Header.KeyValueStoreSize))
	if err != nil {
		f.fail(ErrTruncated, b.AbsPos(), "key-value store of %d bytes", f.Header.KeyValueStoreSize)
		return f
	}
	f.KV = ParseKeyValueStore(kvRaw)
	f.consume(uint64(HeaderSize(f.Version)), uint64(f.Header.KeyValueStoreSize))

	if f.Version.Legacy() {
		err = f.parseLegacy(b, opts)
	} else {
		err = f.parseModern(b, opts)
	}
	if err != nil || f.Err != nil {
		return f
	}
	f.Status = StatusSuccess
	return f
}

// ParseDexFilesOnly enumerates the DEX files of an OAT image without
// decoding class tables or lookup tables.
func ParseDexFilesOnly(raw []byte, mode Mode) *File {
	return Parse(raw, Options{Mode: mode, DexFilesOnly: true})
}

func (f *File) fail(kind error, off uint64, format string, args ...any) {
	f.Status = StatusFailure
	f.Err = fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
	f.Diags.Addf(off, DiagTruncated, format, args...)
}

// consume marks an OAT-relative range in the accounter.
func (f *File) consume(off, n uint64) {
	f.Acct.Consume(uint64(f.OatOffset)+off, uint64(f.OatOffset)+off+n)
}

// dexAt indexes the DEX file at fileOffset in the OAT buffer.
func (f *File) dexAt(b *cursor.Buffer, fileOffset uint32) (*dex.Index, error) {
	db, err := b.SliceFrom(int(fileOffset))
	if err != nil {
		return nil, fmt.Errorf("%w: dex at %#x: %v", ErrInvalidDex, fileOffset, err)
	}
	ix, err := dex.NewIndex(db)
	if err != nil {
		return nil, fmt.Errorf("%w: dex at %#x: %v", ErrInvalidDex, fileOffset, err)
	}
	f.consume(uint64(fileOffset), uint64(ix.Header().FileSize))
	return ix, nil
}

func (f *File) parseListingCommon(b *cursor.Buffer) (*DexEntry, error) {
	locLen, err := b.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: listing: location length", ErrTruncated)
	}
	loc, err := b.Bytes(int(locLen))
	if err != nil {
		return nil, fmt.Errorf("%w: listing: %d-byte location", ErrTruncated, locLen)
	}
	e := &DexEntry{Location: string(loc)}
	if e.LocationChecksum, err = b.Uint32(); err != nil {
		return nil, fmt.Errorf("%w: listing: location checksum", ErrTruncated)
	}
	if e.FileOffset, err = b.Uint32(); err != nil {
		return nil, fmt.Errorf("%w: listing: file offset", ErrTruncated)
	}
	return e, nil
}

func (f *File) parseLegacy(b *cursor.Buffer, opts Options) error {
	for i := uint32(0); i < f.Header.DexFileCount; i++ {
		start := uint64(b.Pos())
		e, err := f.parseListingCommon(b)
		if err != nil {
			f.fail(ErrTruncated, b.AbsPos(), "dex %d: %v", i, err)
			return err
		}
		ix, err := f.dexAt(b, e.FileOffset)
		if err != nil {
			// Without the DEX header the class offset count is unknown
			// and the listing cannot be resynced.
			f.fail(ErrInvalidDex, b.AbsPos(), "dex %d: %v", i, err)
			return err
		}
		e.index = ix
		e.DexHeader = ix.Header()

		numClasses := e.DexHeader.ClassDefsSize
		e.ClassOffsets = make([]uint32, numClasses)
		for j := range e.ClassOffsets {
			if e.ClassOffsets[j], err = b.Uint32(); err != nil {
				f.fail(ErrTruncated, b.AbsPos(), "dex %d: class offset %d", i, j)
				return err
			}
		}
		f.consume(start, uint64(b.Pos())-start)

		if !opts.DexFilesOnly {
			if err := f.parseLegacyClasses(b, e, i, opts); err != nil {
				return err
			}
		}
		f.Dexes = append(f.Dexes, e)
	}
	return nil
}

func (f *File) parseLegacyClasses(b *cursor.Buffer, e *DexEntry, dexIdx uint32, opts Options) error {
	e.Classes = make([]ClassInfo, 0, len(e.ClassOffsets))
	for j, off := range e.ClassOffsets {
		cb, err := b.SliceFrom(int(off))
		if err != nil {
			return f.classFailure(opts, uint64(off), "dex %d class %d: info at %#x out of range", dexIdx, j, off)
		}
		var ci ClassInfo
		st, err := cb.Int16()
		if err != nil {
			return f.classFailure(opts, uint64(off), "dex %d class %d: truncated info", dexIdx, j)
		}
		ty, err := cb.Uint16()
		if err != nil {
			return f.classFailure(opts, uint64(off), "dex %d class %d: truncated info", dexIdx, j)
		}
		ci.Status, ci.Type = ClassStatus(st), ClassType(ty)
		consumed := uint64(ClassInfoSize)

		switch ci.Type {
		case ClassSomeCompiled:
			bitmapSize, err := cb.Uint32()
			if err != nil {
				return f.classFailure(opts, uint64(off), "dex %d class %d: bitmap size", dexIdx, j)
			}
			bitmap, err := cb.Bytes(int(bitmapSize))
			if err != nil {
				return f.classFailure(opts, uint64(off), "dex %d class %d: %d-byte bitmap", dexIdx, j, bitmapSize)
			}
			methods := 0
			for k := 0; k+4 <= len(bitmap); k += 4 {
				methods += cursor.PopCount(uint32(bitmap[k]) | uint32(bitmap[k+1])<<8 |
					uint32(bitmap[k+2])<<16 | uint32(bitmap[k+3])<<24)
			}
			if err := cb.Skip(methods * 4); err != nil {
				return f.classFailure(opts, uint64(off), "dex %d class %d: %d method words", dexIdx, j, methods)
			}
			consumed += 4 + uint64(bitmapSize) + uint64(methods)*4
		case ClassAllCompiled:
			n, err := e.index.MethodCount(uint32(j))
			if err != nil {
				return f.classFailure(opts, uint64(off), "dex %d class %d: method count: %v", dexIdx, j, err)
			}
			if err := cb.Skip(int(n) * 4); err != nil {
				return f.classFailure(opts, uint64(off), "dex %d class %d: %d method words", dexIdx, j, n)
			}
			consumed += uint64(n) * 4
		}
		f.consume(uint64(off), consumed)
		e.Classes = append(e.Classes, ci)
	}
	return nil
}

func (f *File) parseModern(b *cursor.Buffer, opts Options) error {
	for i := uint32(0); i < f.Header.DexFileCount; i++ {
		start := uint64(b.Pos())
		e, err := f.parseListingCommon(b)
		if err != nil {
			f.fail(ErrTruncated, b.AbsPos(), "dex %d: %v", i, err)
			return err
		}
		if e.ClassesOffset, err = b.Uint32(); err != nil {
			f.fail(ErrTruncated, b.AbsPos(), "dex %d: classes offset", i)
			return err
		}
		if e.LookupTableOffset, err = b.Uint32(); err != nil {
			f.fail(ErrTruncated, b.AbsPos(), "dex %d: lookup table offset", i)
			return err
		}
		f.consume(start, uint64(b.Pos())-start)

		ix, err := f.dexAt(b, e.FileOffset)
		if err != nil {
			if opts.Mode == ModeStrict {
				f.fail(ErrInvalidDex, uint64(e.FileOffset), "dex %d: %v", i, err)
				return err
			}
			f.Diags.Addf(uint64(e.FileOffset), DiagBadDex, "dex %d: %v", i, err)
			f.Dexes = append(f.Dexes, e)
			continue
		}
		e.index = ix
		e.DexHeader = ix.Header()

		if !opts.DexFilesOnly {
			if err := f.parseModernClasses(b, e, i, opts); err != nil {
				return err
			}
			e.Lookup, err = ParseLookupTable(b, e.LookupTableOffset, e.NumClasses())
			if err != nil {
				if opts.Mode == ModeStrict {
					f.fail(ErrTruncated, uint64(e.LookupTableOffset), "dex %d: %v", i, err)
					return err
				}
				f.Diags.Addf(uint64(e.LookupTableOffset), DiagTruncated, "dex %d: %v", i, err)
			} else {
				f.consume(uint64(e.LookupTableOffset), uint64(e.Lookup.Size()))
			}
		}
		f.Dexes = append(f.Dexes, e)
	}
	return nil
}

func (f *File) parseModernClasses(b *cursor.Buffer, e *DexEntry, dexIdx uint32, opts Options) error {
	numClasses := e.NumClasses()
	tbl, err := b.Slice(int(e.ClassesOffset), int(numClasses)*4)
	if err != nil {
		return f.classFailure(opts, uint64(e.ClassesOffset), "dex %d: class offset table: %v", dexIdx, err)
	}
	f.consume(uint64(e.ClassesOffset), uint64(numClasses)*4)
	e.ClassOffsets = make([]uint32, numClasses)
	e.Classes = make([]ClassInfo, 0, numClasses)
	for j := range e.ClassOffsets {
		e.ClassOffsets[j], _ = tbl.Uint32()
		off := e.ClassOffsets[j]
		cb, err := b.Slice(int(off), ClassInfoSize)
		if err != nil {
			return f.classFailure(opts, uint64(off), "dex %d class %d: info at %#x out of range", dexIdx, j, off)
		}
		st, _ := cb.Int16()
		ty, _ := cb.Uint16()
		ci := ClassInfo{Status: ClassStatus(st), Type: ClassType(ty)}
		if ci.Type != ClassNoneCompiled {
			f.Status = StatusFailure
			f.Err = fmt.Errorf("%w: dex %d class %d: %s", ErrUnsupportedClassType, dexIdx, j, ci.Type)
			f.Diags.Addf(uint64(off), DiagClassType, "dex %d class %d: %s", dexIdx, j, ci.Type)
			if opts.Mode == ModeStrict {
				return f.Err
			}
		}
		f.consume(uint64(off), ClassInfoSize)
		e.Classes = append(e.Classes, ci)
	}
	return nil
}

// classFailure applies the damage policy for per-class structures:
// strict mode fails the parse, best-effort records a diagnostic and
// moves on.
func (f *File) classFailure(opts Options, off uint64, format string, args ...any) error {
	if opts.Mode == ModeStrict {
		f.fail(ErrTruncated, off, format, args...)
		return f.Err
	}
	f.Diags.Addf(off, DiagTruncated, format, args...)
	return nil
}
