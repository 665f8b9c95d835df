package oat

import (
	"bytes"
	"strings"
	"testing"

	"oatforge/internal/dextest"
)

func dumpString(t *testing.T, f *File, opts DumpOptions) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Dump(&buf, f, opts); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestDumpFullModernFile(t *testing.T) {
	raw := buildBytes(t, BuildOptions{
		Version:          V079,
		Arch:             "arm",
		Inputs:           twoDexInputs(),
		ArtImageLocation: "/data/boot.art",
	})
	f := Parse(raw, Options{Mode: ModeStrict, Account: true})
	if f.Status != StatusSuccess {
		t.Fatalf("parse: %v", f.Err)
	}
	out := dumpString(t, f, DumpOptions{
		Classes:           true,
		Tables:            true,
		UnverifiedClasses: true,
		MemoryUsage:       true,
	})

	for _, want := range []string{
		"Header:\n",
		"version: 0x00393730 '079'",
		"dex_file_count: 0x00000002",
		"Key/Value store:\n",
		"image-location: /data/boot.art",
		"Dex File Listing:\n",
		"location: one.dex",
		"location: two.dex",
		"lookup_table_offset:",
		"Dex Files:\n",
		"num_classes: 0x00000003",
		"LookupTables:\n",
		"num_entries: 4",
		"str: LA;",
		"Classes:\n",
		"Vn ",
		"unverified classes:\n",
		"Memory usage:\n",
		"buffer size: 0x1000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q\n%s", want, out)
		}
	}
	// Every class is Verified, so nothing is listed as unverified.
	if strings.Contains(out, "unverified (status:") {
		t.Error("verified classes listed as unverified")
	}
}

func TestDumpLegacyOmitsModernFields(t *testing.T) {
	raw := buildBytes(t, BuildOptions{Version: V045, Arch: "arm", Inputs: twoDexInputs()})
	f := Parse(raw, Options{Mode: ModeStrict})
	if f.Status != StatusSuccess {
		t.Fatalf("parse: %v", f.Err)
	}
	out := dumpString(t, f, DumpOptions{Tables: true})
	if strings.Contains(out, "lookup_table_offset") || strings.Contains(out, "classes_offset") {
		t.Error("legacy dump shows modern listing fields")
	}
	if strings.Contains(out, "LookupTables:") {
		t.Error("legacy dump shows lookup tables")
	}
	if !strings.Contains(out, "portable_resolution_trampoline_offset:") {
		t.Error("045 dump missing portable trampoline fields")
	}
}

func TestDumpBadMagic(t *testing.T) {
	f := Parse([]byte("garbage garbage garbage"), Options{})
	out := dumpString(t, f, DumpOptions{})
	if !strings.Contains(out, "Bad magic number:") {
		t.Errorf("dump = %q", out)
	}
	if !strings.Contains(out, "magic:") || !strings.Contains(out, "checksum:") {
		t.Error("bad-magic dump should still render the common header words")
	}
}

func TestDumpUnknownVersion(t *testing.T) {
	raw := buildBytes(t, BuildOptions{
		Version: V079,
		Arch:    "arm",
		Inputs:  []DexInput{{Data: dextest.Build(dextest.File{}), Location: "e.dex"}},
	})
	raw[4], raw[5], raw[6] = '9', '9', '9'
	f := Parse(raw, Options{})
	out := dumpString(t, f, DumpOptions{})
	if !strings.Contains(out, "Unknown OAT file version!") {
		t.Errorf("dump = %q", out)
	}
	if !strings.Contains(out, "'999'") {
		t.Error("dump should render the unknown version word as text")
	}
}

func TestDumpDiagnostics(t *testing.T) {
	raw := buildBytes(t, BuildOptions{
		Version: V079,
		Arch:    "arm",
		Inputs:  []DexInput{{Data: dextest.Build(dextest.File{ClassNames: []string{"LA;"}}), Location: "a.dex"}},
	})
	clean := Parse(raw, Options{Mode: ModeStrict})
	off := clean.Dexes[0].ClassOffsets[0]
	raw[off+2] = byte(ClassSomeCompiled)

	f := Parse(raw, Options{Mode: ModeBestEffort})
	out := dumpString(t, f, DumpOptions{})
	if !strings.Contains(out, "Diagnostics:\n") {
		t.Errorf("dump missing diagnostics section:\n%s", out)
	}
}
