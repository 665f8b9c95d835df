package oat

import (
	"errors"
	"testing"

	"oatforge/internal/cursor"
	"oatforge/internal/dextest"
)

func planFixture(t *testing.T, v Version, inputs ...DexInput) *plan {
	t.Helper()
	p, err := planLayout(v, BuildKeyValueStore("img"), inputs)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLegacyClassOffsetsContiguous(t *testing.T) {
	d1 := dextest.Build(dextest.File{ClassNames: []string{"LA;", "LB;"}})
	d2 := dextest.Build(dextest.File{ClassNames: []string{"LC;", "LD;"}})
	p := planFixture(t, V064,
		DexInput{Data: d1, Location: "one.dex"},
		DexInput{Data: d2, Location: "two.dex"},
	)

	wantListing := uint32(0)
	for _, loc := range []string{"one.dex", "two.dex"} {
		wantListing += 4 + uint32(len(loc)) + 4 + 4 + 2*4
	}
	if p.listingSize != wantListing {
		t.Errorf("listingSize = %d, want %d", p.listingSize, wantListing)
	}

	first := cursor.Align4(p.headerSize + p.kvSize + p.listingSize)
	if p.dexes[0].fileOffset != first {
		t.Errorf("dex 0 at %#x, want %#x", p.dexes[0].fileOffset, first)
	}
	if want := first + cursor.Align4(uint32(len(d1))); p.dexes[1].fileOffset != want {
		t.Errorf("dex 1 at %#x, want %#x", p.dexes[1].fileOffset, want)
	}

	// All class records form one contiguous run after the last DEX body.
	base := p.dexes[1].fileOffset + cursor.Align4(uint32(len(d2)))
	want := [][]uint32{{base, base + 4}, {base + 8, base + 12}}
	for i, pd := range p.dexes {
		for j, off := range pd.classOffsets {
			if off != want[i][j] {
				t.Errorf("dex %d class %d at %#x, want %#x", i, j, off, want[i][j])
			}
		}
	}
	if want := cursor.Align(base+16, 0x1000); p.oatSize != want {
		t.Errorf("oatSize = %#x, want %#x", p.oatSize, want)
	}
}

func TestModernLayoutTwoPass(t *testing.T) {
	d1 := dextest.Build(dextest.File{ClassNames: []string{"LA;", "LB;", "LC;"}})
	d2 := dextest.Build(dextest.File{ClassNames: []string{"LD;", "LE;", "LF;", "LG;", "LH;"}})
	p := planFixture(t, V079,
		DexInput{Data: d1, Location: "one.dex"},
		DexInput{Data: d2, Location: "two.dex"},
	)

	base := p.dexes[1].fileOffset + cursor.Align4(uint32(len(d2)))
	if p.dexes[0].classesOffset != base {
		t.Errorf("dex 0 classes at %#x, want %#x", p.dexes[0].classesOffset, base)
	}
	// 3 offset words + 3 records.
	if want := base + 3*4 + 3*ClassInfoSize; p.dexes[1].classesOffset != want {
		t.Errorf("dex 1 classes at %#x, want %#x", p.dexes[1].classesOffset, want)
	}

	// Lookup tables come after every class block.
	afterClasses := p.dexes[1].classesOffset + 5*4 + 5*ClassInfoSize
	if p.dexes[0].lookupOffset != afterClasses {
		t.Errorf("dex 0 lookup at %#x, want %#x", p.dexes[0].lookupOffset, afterClasses)
	}
	if got, want := p.dexes[0].lookup.Size(), uint32(4*LookupEntrySize); got != want {
		t.Errorf("dex 0 lookup size = %d, want %d", got, want)
	}
	if want := afterClasses + p.dexes[0].lookup.Size(); p.dexes[1].lookupOffset != want {
		t.Errorf("dex 1 lookup at %#x, want %#x", p.dexes[1].lookupOffset, want)
	}
	if got, want := p.dexes[1].lookup.Size(), uint32(8*LookupEntrySize); got != want {
		t.Errorf("dex 1 lookup size = %d, want %d", got, want)
	}
}

func TestModernLookupOffsetAssignedWithoutTable(t *testing.T) {
	empty := dextest.Build(dextest.File{})
	full := dextest.Build(dextest.File{ClassNames: []string{"LA;"}})
	p := planFixture(t, V079,
		DexInput{Data: empty, Location: "empty.dex"},
		DexInput{Data: full, Location: "full.dex"},
	)
	if p.dexes[0].lookup != nil {
		t.Fatal("table built for zero classes")
	}
	// The tableless DEX still records an offset: the end of data at the
	// point its table would have gone.
	afterClasses := p.dexes[1].classesOffset + 1*4 + 1*ClassInfoSize
	if p.dexes[0].lookupOffset != afterClasses {
		t.Errorf("empty dex lookup offset = %#x, want end of data %#x", p.dexes[0].lookupOffset, afterClasses)
	}
	if p.dexes[1].lookupOffset != afterClasses {
		t.Errorf("dex 1 lookup offset = %#x, want %#x", p.dexes[1].lookupOffset, afterClasses)
	}
}

func TestLayoutAlignment(t *testing.T) {
	d1 := dextest.Build(dextest.File{ClassNames: []string{"Lodd;"}}) // odd body length
	d2 := dextest.Build(dextest.File{ClassNames: []string{"LA;", "LBB;"}})
	for _, v := range []Version{V045, V088} {
		p := planFixture(t, v,
			DexInput{Data: d1, Location: "a"},
			DexInput{Data: d2, Location: "bb"},
		)
		for i, pd := range p.dexes {
			if pd.fileOffset%4 != 0 {
				t.Errorf("%s: dex %d at unaligned %#x", v, i, pd.fileOffset)
			}
			if pd.classesOffset%4 != 0 || pd.lookupOffset%4 != 0 {
				t.Errorf("%s: dex %d class/lookup offsets unaligned", v, i)
			}
			for j, off := range pd.classOffsets {
				if off%4 != 0 {
					t.Errorf("%s: dex %d class %d at unaligned %#x", v, i, j, off)
				}
			}
		}
		if p.oatSize%0x1000 != 0 {
			t.Errorf("%s: oatSize %#x not page aligned", v, p.oatSize)
		}
	}
}

func TestPlanRejectsBadDex(t *testing.T) {
	_, err := planLayout(V079, nil, []DexInput{{Data: []byte("not a dex"), Location: "x"}})
	if !errors.Is(err, ErrInvalidDex) {
		t.Errorf("err = %v, want ErrInvalidDex", err)
	}
}
