package oat

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"oatforge/internal/cursor"
	"oatforge/internal/elfshell"
	"oatforge/internal/sink"
)

// BuildOptions parameterizes a container build.
type BuildOptions struct {
	Version Version
	Arch    string
	Inputs  []DexInput
	// WriteELF wraps the image in an ELF shell: 4096 bytes of prologue
	// followed by the unchanged OAT bytes.
	WriteELF bool
	// ArtImageLocation is recorded in the key-value store; for V_064 it
	// is additionally read as an ART image to seed the image fields of
	// the header.
	ArtImageLocation string
}

// imageInfo carries the three ART image header fields a V_064 build
// copies into its own header.
type imageInfo struct {
	patchDelta  int32
	oatChecksum uint32
	dataBegin   uint32
}

// artImageHeaderSize is the 13-word ART image header.
const artImageHeaderSize = 52

// readImageInfo reads an ART image header. A missing, unreadable, or
// short file yields nil: the header image fields stay zero.
func readImageInfo(path string) *imageInfo {
	raw, err := os.ReadFile(path)
	if err != nil {
		logrus.Debugf("oat: no art image at %q: %v", path, err)
		return nil
	}
	if len(raw) < artImageHeaderSize {
		logrus.Debugf("oat: art image %q too short (%d bytes)", path, len(raw))
		return nil
	}
	le := binary.LittleEndian
	return &imageInfo{
		oatChecksum: le.Uint32(raw[16:]),
		dataBegin:   le.Uint32(raw[24:]),
		patchDelta:  int32(le.Uint32(raw[36:])),
	}
}

func buildHeader(p *plan, isa InstructionSet, img *imageInfo) Header {
	h := Header{
		ISA:               isa,
		ISAFeaturesBitmap: 1,
		DexFileCount:      uint32(len(p.dexes)),
		ExecutableOffset:  p.oatSize,
		KeyValueStoreSize: p.kvSize,
	}
	if img != nil {
		h.ImagePatchDelta = img.patchDelta
		h.ImageFileLocationOatChecksum = img.oatChecksum
		h.ImageFileLocationOatDataBegin = img.dataBegin
	}
	return h
}

// Build assembles an OAT image onto w, which must support seeking so
// the common header can be rewritten once the body checksum is known.
func Build(w io.WriteSeeker, opts BuildOptions) error {
	if opts.Version == VersionUnknown {
		return fmt.Errorf("%w: %q", ErrBuildUnsupportedVersion, opts.Version)
	}
	isa, ok := ISAFromString(opts.Arch)
	if !ok {
		return fmt.Errorf("%w: arch %q", ErrBuildUnsupportedVersion, opts.Arch)
	}
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("%w: no dex inputs", ErrInvalidDex)
	}

	pairs := BuildKeyValueStore(opts.ArtImageLocation)

	var img *imageInfo
	if opts.Version == V064 {
		img = readImageInfo(opts.ArtImageLocation)
	}

	p, err := planLayout(opts.Version, pairs, opts.Inputs)
	if err != nil {
		return err
	}

	cw := sink.NewCounting(w)
	if opts.WriteELF {
		if err := cw.WriteZeros(0x1000); err != nil {
			return fmt.Errorf("%w: %v", ErrBuildIo, err)
		}
		if err := cw.SetSeekRefToCurrent(); err != nil {
			return fmt.Errorf("%w: %v", ErrBuildIo, err)
		}
		cw.ResetBytesWritten()
	}

	// The common words go out as placeholders through the raw sink;
	// they are outside the checksum and rewritten at the end.
	placeholder := CommonHeader{Magic: headerPlaceholder, Version: headerPlaceholder, Checksum: headerPlaceholder}
	if err := WriteCommon(cw, placeholder); err != nil {
		return fmt.Errorf("%w: header: %v", ErrBuildIo, err)
	}
	hdr := buildHeader(p, isa, img)
	if err := hdr.Write(cw, opts.Version); err != nil {
		return fmt.Errorf("%w: header: %v", ErrBuildIo, err)
	}

	cks := sink.NewChecksumming(cw)
	if err := writeBody(cks, p); err != nil {
		return err
	}
	sum, err := cks.Sum()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildIo, err)
	}

	if err := cw.SeekBegin(0); err != nil {
		return fmt.Errorf("%w: %v", ErrBuildIo, err)
	}
	final := CommonHeader{Magic: Magic, Version: uint32(opts.Version), Checksum: sum}
	if err := WriteCommon(cw, final); err != nil {
		return fmt.Errorf("%w: header rewrite: %v", ErrBuildIo, err)
	}

	if opts.WriteELF {
		cw.SetSeekRef(0)
		if err := cw.SeekBegin(0); err != nil {
			return fmt.Errorf("%w: %v", ErrBuildIo, err)
		}
		shell := elfshell.New(machineFor(isa), p.oatSize, computeBssSize(p))
		if err := shell.Write(cw); err != nil {
			return fmt.Errorf("%w: elf shell: %v", ErrBuildIo, err)
		}
	}
	return nil
}

// writeBody emits everything after the full header, in layout order,
// cross-checking each planned offset against the write position.
func writeBody(cks *sink.Checksumming, p *plan) error {
	wrap := func(err error, what string) error {
		return fmt.Errorf("%w: %s: %v", ErrBuildIo, what, err)
	}

	if err := WriteKeyValueStore(cks, p.pairs); err != nil {
		return wrap(err, "key-value store")
	}
	if err := writeListing(cks, p); err != nil {
		return err
	}

	// The listing needs no alignment of its own; pad to put the first
	// DEX body on a word boundary.
	preDex := p.headerSize + p.kvSize + p.listingSize
	if err := cks.WriteZeros(cursor.Align4(preDex) - preDex); err != nil {
		return wrap(err, "padding")
	}

	for _, pd := range p.dexes {
		if got := uint32(cks.BytesWritten()); got != pd.fileOffset {
			return fmt.Errorf("%w: dex %q at %#x, planned %#x", ErrBuildIo, pd.location, got, pd.fileOffset)
		}
		if _, err := cks.Write(pd.data); err != nil {
			return wrap(err, "dex body")
		}
		size := uint32(len(pd.data))
		if err := cks.WriteZeros(cursor.Align4(size) - size); err != nil {
			return wrap(err, "dex padding")
		}
	}

	if p.version.Legacy() {
		if err := writeLegacyClasses(cks, p); err != nil {
			return err
		}
	} else {
		if err := writeModernClasses(cks, p); err != nil {
			return err
		}
		for _, pd := range p.dexes {
			if pd.lookup == nil {
				continue
			}
			if got := uint32(cks.BytesWritten()); got != pd.lookupOffset {
				return fmt.Errorf("%w: lookup table for %q at %#x, planned %#x", ErrBuildIo, pd.location, got, pd.lookupOffset)
			}
			if err := pd.lookup.Write(cks); err != nil {
				return wrap(err, "lookup table")
			}
		}
	}

	return cks.WriteZeros(p.oatSize - uint32(cks.BytesWritten()))
}

func writeListing(cks *sink.Checksumming, p *plan) error {
	var word [4]byte
	le := binary.LittleEndian
	putWord := func(v uint32) error {
		le.PutUint32(word[:], v)
		_, err := cks.Write(word[:])
		return err
	}
	for _, pd := range p.dexes {
		if err := putWord(uint32(len(pd.location))); err != nil {
			return fmt.Errorf("%w: listing: %v", ErrBuildIo, err)
		}
		if _, err := io.WriteString(cks, pd.location); err != nil {
			return fmt.Errorf("%w: listing: %v", ErrBuildIo, err)
		}
		words := []uint32{pd.checksum, pd.fileOffset}
		if p.version.Legacy() {
			words = append(words, pd.classOffsets...)
		} else {
			words = append(words, pd.classesOffset, pd.lookupOffset)
		}
		for _, v := range words {
			if err := putWord(v); err != nil {
				return fmt.Errorf("%w: listing: %v", ErrBuildIo, err)
			}
		}
	}
	return nil
}

// writeLegacyClasses emits one contiguous run of ClassInfo records; the
// per-class offsets already live in the listing.
func writeLegacyClasses(cks *sink.Checksumming, p *plan) error {
	for _, pd := range p.dexes {
		if len(pd.classOffsets) == 0 {
			continue
		}
		if got := uint32(cks.BytesWritten()); got != pd.classOffsets[0] {
			return fmt.Errorf("%w: class block for %q at %#x, planned %#x", ErrBuildIo, pd.location, got, pd.classOffsets[0])
		}
		for range pd.classOffsets {
			if err := builtClassInfo.Write(cks); err != nil {
				return fmt.Errorf("%w: class info: %v", ErrBuildIo, err)
			}
		}
	}
	return nil
}

// writeModernClasses emits, per DEX, the offset words pointing just
// past themselves and then the ClassInfo records they point at.
func writeModernClasses(cks *sink.Checksumming, p *plan) error {
	var word [4]byte
	for _, pd := range p.dexes {
		if got := uint32(cks.BytesWritten()); got != pd.classesOffset {
			return fmt.Errorf("%w: class table for %q at %#x, planned %#x", ErrBuildIo, pd.location, got, pd.classesOffset)
		}
		n := pd.numClasses()
		infoBase := pd.classesOffset + n*4
		for i := uint32(0); i < n; i++ {
			binary.LittleEndian.PutUint32(word[:], infoBase+i*ClassInfoSize)
			if _, err := cks.Write(word[:]); err != nil {
				return fmt.Errorf("%w: class offsets: %v", ErrBuildIo, err)
			}
		}
		for i := uint32(0); i < n; i++ {
			if err := builtClassInfo.Write(cks); err != nil {
				return fmt.Errorf("%w: class info: %v", ErrBuildIo, err)
			}
		}
	}
	return nil
}

// bss sizing mirrors the ART oat writer for 32-bit targets: per DEX,
// aligned regions for type, method, string, and field pointers, the
// first two floored at one pointer.
const bssPointerSize = 4

func computeBssSize(p *plan) uint32 {
	floored := func(n uint32) uint32 {
		if n == 0 {
			return bssPointerSize
		}
		return n * bssPointerSize
	}
	var total uint32
	for _, pd := range p.dexes {
		hdr := pd.ix.Header()
		methOff := cursor.Align4(floored(hdr.TypeIDsSize))
		strOff := cursor.Align4(methOff + floored(hdr.MethodIDsSize))
		fieldOff := cursor.Align4(strOff + hdr.StringIDsSize*bssPointerSize)
		total += cursor.Align4(fieldOff + hdr.FieldIDsSize*bssPointerSize)
	}
	return total
}

func machineFor(isa InstructionSet) elf.Machine {
	switch isa {
	case ISAArm, ISAThumb2:
		return elf.EM_ARM
	case ISAArm64:
		return elf.EM_AARCH64
	case ISAX86:
		return elf.EM_386
	case ISAX86_64:
		return elf.EM_X86_64
	case ISAMips, ISAMips64:
		return elf.EM_MIPS
	}
	return elf.EM_NONE
}
