package oat

import (
	"fmt"
	"io"
)

// DumpOptions selects the optional sections of a dump.
type DumpOptions struct {
	// Classes renders the per-DEX class status matrix.
	Classes bool
	// Tables renders the type lookup tables (modern files only).
	Tables bool
	// UnverifiedClasses lists classes whose status is below Verified.
	UnverifiedClasses bool
	// MemoryUsage reports consumed/unconsumed ranges of the input
	// buffer; requires the parse to have run with Options.Account.
	MemoryUsage bool
}

// Dump renders a parsed file. Damaged files render whatever was
// decoded: a bad-magic or unknown-version file still prints its common
// header words.
func Dump(w io.Writer, f *File, opts DumpOptions) error {
	d := &dumper{w: w}
	switch f.Status {
	case StatusBadMagic:
		d.printf("Bad magic number:\n")
		d.common(f.Common)
	case StatusUnknownVersion:
		d.printf("Unknown OAT file version!\n")
		d.common(f.Common)
	default:
		d.file(f, opts)
	}
	if opts.MemoryUsage {
		d.memory(f)
	}
	if len(f.Diags) > 0 {
		d.printf("Diagnostics:\n")
		for _, diag := range f.Diags {
			d.printf("  %s\n", diag)
		}
	}
	return d.err
}

type dumper struct {
	w   io.Writer
	err error
}

func (d *dumper) printf(format string, args ...any) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}

// asciiWord renders the printable bytes of a header word.
func asciiWord(w uint32) string {
	out := make([]byte, 0, 4)
	for _, c := range []byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)} {
		if c >= 0x20 && c < 0x7f {
			out = append(out, c)
		}
	}
	return string(out)
}

func (d *dumper) common(h CommonHeader) {
	d.printf("  magic:   0x%08x '%s'\n", h.Magic, asciiWord(h.Magic))
	d.printf("  version: 0x%08x '%s'\n", h.Version, asciiWord(h.Version))
	d.printf("  checksum: 0x%08x\n", h.Checksum)
}

func (d *dumper) file(f *File, opts DumpOptions) {
	d.printf("Header:\n")
	d.common(f.Common)
	d.header(&f.Header, f.Version)

	d.printf("Key/Value store:\n")
	for _, p := range f.KV {
		d.printf("  %s: %s\n", p.Key, p.Value)
	}

	d.printf("Dex File Listing:\n")
	for _, e := range f.Dexes {
		d.printf("  {\n")
		d.printf("    location: %s\n", e.Location)
		d.printf("    location_checksum: 0x%08x\n", e.LocationChecksum)
		d.printf("    file_offset: 0x%08x\n", e.FileOffset)
		if f.Version.Modern() {
			d.printf("    classes_offset: 0x%08x\n", e.ClassesOffset)
			d.printf("    lookup_table_offset: 0x%08x\n", e.LookupTableOffset)
		}
		d.printf("  }\n")
	}

	d.printf("Dex Files:\n")
	for _, e := range f.Dexes {
		d.printf("  { DexFile\n")
		d.printf("    file_size: 0x%08x\n", e.FileSize())
		d.printf("    num_classes: 0x%08x\n", e.NumClasses())
		d.printf("  }\n")
	}

	if opts.Tables && f.Version.Modern() {
		d.printf("LookupTables:\n")
		for _, e := range f.Dexes {
			d.lookupTable(e)
		}
	}
	if opts.Classes {
		d.printf("Classes:\n")
		for _, e := range f.Dexes {
			d.classMatrix(e)
		}
	}
	if opts.UnverifiedClasses {
		d.printf("unverified classes:\n")
		for _, e := range f.Dexes {
			d.unverified(e)
		}
	}
}

func (d *dumper) header(h *Header, v Version) {
	d.printf("  isa: %s\n", h.ISA)
	d.printf("  isa features bitmap: 0x%08x\n", h.ISAFeaturesBitmap)
	d.printf("  dex_file_count: 0x%08x\n", h.DexFileCount)
	d.printf("  executable_offset: 0x%08x\n", h.ExecutableOffset)
	d.printf("  interpreter_to_interpreter_bridge_offset: 0x%08x\n", h.InterpreterToInterpreterBridge)
	d.printf("  interpreter_to_compiled_code_bridge_offset: 0x%08x\n", h.InterpreterToCompiledCodeBridge)
	d.printf("  jni_dlsym_lookup_offset: 0x%08x\n", h.JniDlsymLookup)
	if v == V045 {
		d.printf("  portable_imt_conflict_trampoline_offset: 0x%08x\n", h.PortableImtConflictTrampoline)
		d.printf("  portable_resolution_trampoline_offset: 0x%08x\n", h.PortableResolutionTrampoline)
		d.printf("  portable_to_interpreter_bridge_offset: 0x%08x\n", h.PortableToInterpreterBridge)
	}
	d.printf("  quick_generic_jni_trampoline_offset: 0x%08x\n", h.QuickGenericJniTrampoline)
	d.printf("  quick_imt_conflict_trampoline_offset: 0x%08x\n", h.QuickImtConflictTrampoline)
	d.printf("  quick_resolution_trampoline_offset: 0x%08x\n", h.QuickResolutionTrampoline)
	d.printf("  quick_to_interpreter_bridge_offset: 0x%08x\n", h.QuickToInterpreterBridge)
	d.printf("  image_patch_delta: 0x%08x\n", uint32(h.ImagePatchDelta))
	d.printf("  image_file_location_oat_checksum: 0x%08x\n", h.ImageFileLocationOatChecksum)
	d.printf("  image_file_location_oat_data_begin: 0x%08x\n", h.ImageFileLocationOatDataBegin)
	d.printf("  key_value_store_size: 0x%08x\n", h.KeyValueStoreSize)
}

func (d *dumper) lookupTable(e *DexEntry) {
	d.printf("  { Type lookup table %s\n", e.Location)
	if e.Lookup == nil {
		d.printf("    num_entries: 0\n")
		d.printf("  }\n")
		return
	}
	d.printf("    num_entries: %d\n", len(e.Lookup.Entries))
	for _, entry := range e.Lookup.Entries {
		if entry.Empty() {
			continue
		}
		name := "<unavailable>"
		if ix := e.Index(); ix != nil {
			if s, err := ix.StringAt(entry.StrOffset); err == nil {
				name = s
			}
		}
		d.printf("    {\n")
		d.printf("    str: %s\n", name)
		d.printf("    str offset: 0x%08x\n", entry.StrOffset)
		d.printf("    }\n")
	}
	d.printf("  }\n")
}

const classMatrixColumns = 32

func (d *dumper) classMatrix(e *DexEntry) {
	d.printf("  { Classes for dex %s\n", e.Location)
	count := 0
	for _, ci := range e.Classes {
		if count == 0 {
			d.printf("    ")
		}
		d.printf("%c%c ", ci.Status.Char(), ci.Type.Char())
		count++
		if count >= classMatrixColumns {
			d.printf("\n")
			count = 0
		}
	}
	if count != 0 {
		d.printf("\n")
	}
	d.printf("  }\n")
}

func (d *dumper) unverified(e *DexEntry) {
	d.printf("  %s\n", e.Location)
	for i, ci := range e.Classes {
		if ci.Status >= ClassVerified {
			continue
		}
		d.printf("    %s unverified (status: %s)\n", e.ClassName(uint32(i)), ci.Status)
	}
}

func (d *dumper) memory(f *File) {
	d.printf("Memory usage:\n")
	if f.Acct == nil {
		d.printf("  not tracked\n")
		return
	}
	d.printf("  buffer size: 0x%x\n", f.Acct.Size())
	d.printf("  consumed: 0x%x\n", f.Acct.ConsumedCount())
	for _, r := range f.Acct.UnconsumedRuns() {
		d.printf("  unconsumed: [0x%x, 0x%x)\n", r.Begin, r.End)
	}
	for _, r := range f.Acct.Overruns() {
		d.printf("  overrun: [0x%x, 0x%x)\n", r.Begin, r.End)
	}
}
