// Package elfshell writes the minimal ELF32 prologue that wraps an OAT
// image: a header, one loadable rodata segment covering the image, and
// section headers describing rodata, bss, and the string table. The
// whole prologue fits inside the 4096 bytes preceding the image.
package elfshell

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrTooLarge = errors.New("elfshell: prologue exceeds 4096 bytes")

// PrologueSize is the fixed distance from the start of the file to the
// wrapped OAT image.
const PrologueSize = 0x1000

const (
	ehdrSize = 52
	phdrSize = 32
	shdrSize = 40
)

// Shell describes one ELF wrapper. All layouts are ELF32 little-endian
// regardless of the target machine, matching how ART lays out its OAT
// containers on 32-bit device images.
type Shell struct {
	Machine elf.Machine
	OatSize uint32
	BssSize uint32
}

// New returns a Shell for one image.
func New(machine elf.Machine, oatSize, bssSize uint32) *Shell {
	return &Shell{Machine: machine, OatSize: oatSize, BssSize: bssSize}
}

// shstrtab with section name offsets precomputed.
var shstrtab = []byte("\x00.rodata\x00.bss\x00.shstrtab\x00")

const (
	nameRodata   = 1
	nameBss      = 9
	nameShstrtab = 14
)

type section struct {
	name      uint32
	typ       elf.SectionType
	flags     elf.SectionFlag
	addr      uint32
	off       uint32
	size      uint32
	addralign uint32
}

// Write emits the prologue at the current position of w. The caller is
// responsible for having reserved PrologueSize bytes; everything past
// the string table is left as-is.
func (s *Shell) Write(w io.Writer) error {
	phoff := uint32(ehdrSize)
	shoff := phoff + phdrSize
	stroff := shoff + 4*shdrSize
	if stroff+uint32(len(shstrtab)) > PrologueSize {
		return ErrTooLarge
	}

	bssAddr := PrologueSize + s.OatSize

	sections := []section{
		{}, // SHT_NULL
		{
			name: nameRodata, typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC,
			addr: PrologueSize, off: PrologueSize, size: s.OatSize, addralign: PrologueSize,
		},
		{
			name: nameBss, typ: elf.SHT_NOBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE,
			addr: bssAddr, size: s.BssSize, addralign: PrologueSize,
		},
		{
			name: nameShstrtab, typ: elf.SHT_STRTAB,
			off: stroff, size: uint32(len(shstrtab)), addralign: 1,
		},
	}

	buf := make([]byte, stroff+uint32(len(shstrtab)))
	le := binary.LittleEndian

	ident := []byte{0x7f, 'E', 'L', 'F',
		byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	copy(buf, ident)
	le.PutUint16(buf[16:], uint16(elf.ET_DYN))
	le.PutUint16(buf[18:], uint16(s.Machine))
	le.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	// e_entry, e_flags stay zero
	le.PutUint32(buf[28:], phoff)
	le.PutUint32(buf[32:], shoff)
	le.PutUint16(buf[40:], ehdrSize)
	le.PutUint16(buf[42:], phdrSize)
	le.PutUint16(buf[44:], 1) // e_phnum
	le.PutUint16(buf[46:], shdrSize)
	le.PutUint16(buf[48:], uint16(len(sections)))
	le.PutUint16(buf[50:], uint16(len(sections)-1)) // shstrtab is last

	ph := buf[phoff:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], PrologueSize)  // p_offset
	le.PutUint32(ph[8:], PrologueSize)  // p_vaddr
	le.PutUint32(ph[12:], PrologueSize) // p_paddr
	le.PutUint32(ph[16:], s.OatSize)    // p_filesz
	le.PutUint32(ph[20:], s.OatSize)    // p_memsz
	le.PutUint32(ph[24:], uint32(elf.PF_R))
	le.PutUint32(ph[28:], PrologueSize) // p_align

	for i, sec := range sections {
		sh := buf[shoff+uint32(i)*shdrSize:]
		le.PutUint32(sh[0:], sec.name)
		le.PutUint32(sh[4:], uint32(sec.typ))
		le.PutUint32(sh[8:], uint32(sec.flags))
		le.PutUint32(sh[12:], sec.addr)
		le.PutUint32(sh[16:], sec.off)
		le.PutUint32(sh[20:], sec.size)
		// sh_link, sh_info stay zero
		le.PutUint32(sh[32:], sec.addralign)
	}
	copy(buf[stroff:], shstrtab)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("elfshell: write: %w", err)
	}
	return nil
}
