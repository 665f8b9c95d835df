package elfshell

import (
	"bytes"
	"debug/elf"
	"testing"
)

func wrappedFile(t *testing.T, s *Shell) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() > PrologueSize {
		t.Fatalf("prologue is %d bytes, exceeds %d", buf.Len(), PrologueSize)
	}
	file := make([]byte, PrologueSize+int(s.OatSize))
	copy(file, buf.Bytes())
	return file
}

func TestShellParsesAsELF(t *testing.T) {
	const oatSize, bssSize = 0x3000, 0x140
	file := wrappedFile(t, New(elf.EM_ARM, oatSize, bssSize))

	ef, err := elf.NewFile(bytes.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	if ef.Class != elf.ELFCLASS32 || ef.Data != elf.ELFDATA2LSB {
		t.Errorf("ident = %s/%s, want ELFCLASS32/ELFDATA2LSB", ef.Class, ef.Data)
	}
	if ef.Type != elf.ET_DYN {
		t.Errorf("type = %s, want ET_DYN", ef.Type)
	}
	if ef.Machine != elf.EM_ARM {
		t.Errorf("machine = %s, want EM_ARM", ef.Machine)
	}

	if len(ef.Progs) != 1 {
		t.Fatalf("%d program headers, want 1", len(ef.Progs))
	}
	ph := ef.Progs[0]
	if ph.Type != elf.PT_LOAD || ph.Flags != elf.PF_R {
		t.Errorf("segment = %s %s, want PT_LOAD PF_R", ph.Type, ph.Flags)
	}
	if ph.Off != PrologueSize || ph.Vaddr != PrologueSize {
		t.Errorf("segment at off %#x vaddr %#x, want %#x", ph.Off, ph.Vaddr, PrologueSize)
	}
	if ph.Filesz != oatSize || ph.Memsz != oatSize {
		t.Errorf("segment sizes %#x/%#x, want %#x", ph.Filesz, ph.Memsz, oatSize)
	}

	rodata := ef.Section(".rodata")
	if rodata == nil {
		t.Fatal("no .rodata section")
	}
	if rodata.Type != elf.SHT_PROGBITS || rodata.Flags != elf.SHF_ALLOC {
		t.Errorf(".rodata = %s %s", rodata.Type, rodata.Flags)
	}
	if rodata.Addr != PrologueSize || rodata.Offset != PrologueSize || rodata.Size != oatSize {
		t.Errorf(".rodata addr %#x off %#x size %#x", rodata.Addr, rodata.Offset, rodata.Size)
	}

	bss := ef.Section(".bss")
	if bss == nil {
		t.Fatal("no .bss section")
	}
	if bss.Type != elf.SHT_NOBITS || bss.Flags != elf.SHF_ALLOC|elf.SHF_WRITE {
		t.Errorf(".bss = %s %s", bss.Type, bss.Flags)
	}
	if bss.Addr != PrologueSize+oatSize || bss.Size != bssSize {
		t.Errorf(".bss addr %#x size %#x", bss.Addr, bss.Size)
	}
}

func TestShellPayloadStartsAtPrologue(t *testing.T) {
	file := wrappedFile(t, New(elf.EM_AARCH64, 0x1000, 0))
	payload := []byte("oat\n079\x00")
	copy(file[PrologueSize:], payload)

	ef, err := elf.NewFile(bytes.NewReader(file))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	data, err := ef.Section(".rodata").Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:len(payload)], payload) {
		t.Error(".rodata does not expose the wrapped image")
	}
}
