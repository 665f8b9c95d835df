package oat

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"oatforge/internal/cursor"
)

func TestHeaderSizes(t *testing.T) {
	for _, tc := range []struct {
		v    Version
		want uint32
	}{
		{V045, 84},
		{V064, 72},
		{V079, 72},
		{V088, 72},
	} {
		if got := HeaderSize(tc.v); got != tc.want {
			t.Errorf("HeaderSize(%s) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func TestVersionWords(t *testing.T) {
	for _, tc := range []struct {
		s string
		v Version
	}{
		{"045", V045}, {"064", V064}, {"079", V079}, {"088", V088},
	} {
		if got := VersionFromString(tc.s); got != tc.v {
			t.Errorf("VersionFromString(%q) = %#x, want %#x", tc.s, got, tc.v)
		}
		if got := tc.v.String(); got != tc.s {
			t.Errorf("%#x.String() = %q, want %q", uint32(tc.v), got, tc.s)
		}
	}
	if VersionFromWord(0x00353430) != V045 {
		t.Error("VersionFromWord(0x00353430) != V045")
	}
	if VersionFromWord(0xdeadbeef) != VersionUnknown {
		t.Error("unknown word should map to VersionUnknown")
	}
	if !V045.Legacy() || !V064.Legacy() || V079.Legacy() || V088.Legacy() {
		t.Error("legacy classification wrong")
	}
}

func headerFixture() Header {
	return Header{
		ISA:                             ISAArm,
		ISAFeaturesBitmap:               1,
		DexFileCount:                    3,
		ExecutableOffset:                0x2000,
		InterpreterToInterpreterBridge:  0x11,
		InterpreterToCompiledCodeBridge: 0x22,
		JniDlsymLookup:                  0x33,
		PortableImtConflictTrampoline:   0x44,
		PortableResolutionTrampoline:    0x55,
		PortableToInterpreterBridge:     0x66,
		QuickGenericJniTrampoline:       0x77,
		QuickImtConflictTrampoline:      0x88,
		QuickResolutionTrampoline:       0x99,
		QuickToInterpreterBridge:        0xaa,
		ImagePatchDelta:                 -16,
		ImageFileLocationOatChecksum:    0xbb,
		ImageFileLocationOatDataBegin:   0xcc,
		KeyValueStoreSize:               0xdd,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	for _, v := range []Version{V045, V064, V079, V088} {
		t.Run(v.String(), func(t *testing.T) {
			in := headerFixture()
			if v != V045 {
				// fields absent on the wire must come back zero
				in.PortableImtConflictTrampoline = 0
				in.PortableResolutionTrampoline = 0
				in.PortableToInterpreterBridge = 0
			}
			var buf bytes.Buffer
			if err := in.Write(&buf, v); err != nil {
				t.Fatal(err)
			}
			if got, want := uint32(buf.Len()), HeaderSize(v)-CommonHeaderSize; got != want {
				t.Fatalf("trailer is %d bytes, want %d", got, want)
			}
			out, err := ParseHeader(cursor.New(buf.Bytes()), v)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHeaderTruncated(t *testing.T) {
	in := headerFixture()
	var buf bytes.Buffer
	if err := in.Write(&buf, V079); err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 3, 20, buf.Len() - 1} {
		if _, err := ParseHeader(cursor.New(buf.Bytes()[:n]), V079); err == nil {
			t.Errorf("ParseHeader on %d-byte buffer: no error", n)
		}
	}
}
