package oat

import (
	"fmt"

	"oatforge/internal/cursor"
	"oatforge/internal/dex"
)

// DexInput is one DEX file to embed in a built container.
type DexInput struct {
	Data     []byte
	Location string
}

// plannedDex carries one input through layout and writing.
type plannedDex struct {
	data     []byte
	location string
	checksum uint32
	ix       *dex.Index

	fileOffset uint32

	// Legacy: one offset word per class, assigned contiguously across
	// all inputs.
	classOffsets []uint32

	// Modern.
	classesOffset uint32
	lookupOffset  uint32
	lookup        *LookupTable
}

func (p *plannedDex) numClasses() uint32 { return p.ix.NumClassDefs() }

// plan is the fully resolved output layout: every offset the writer
// will cross-check against.
type plan struct {
	version Version
	pairs   []KVPair

	headerSize  uint32
	kvSize      uint32
	listingSize uint32
	oatSize     uint32

	dexes []*plannedDex
}

// planLayout assigns all offsets in two passes: section sizes first,
// then absolute positions in write order.
func planLayout(version Version, pairs []KVPair, inputs []DexInput) (*plan, error) {
	p := &plan{
		version:    version,
		pairs:      pairs,
		headerSize: HeaderSize(version),
		kvSize:     KeyValueStoreSize(pairs),
	}

	for i, in := range inputs {
		ix, err := dex.NewIndex(cursor.New(in.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: input %d (%s): %v", ErrInvalidDex, i, in.Location, err)
		}
		pd := &plannedDex{
			data:     in.Data,
			location: in.Location,
			checksum: ix.Header().Checksum,
			ix:       ix,
		}
		if version.Modern() {
			pd.lookup, err = BuildLookupTable(ix)
			if err != nil {
				return nil, fmt.Errorf("input %d (%s): %v", i, in.Location, err)
			}
		}
		p.dexes = append(p.dexes, pd)
	}

	for _, pd := range p.dexes {
		p.listingSize += 4 + uint32(len(pd.location)) + 4 + 4
		if version.Legacy() {
			p.listingSize += pd.numClasses() * 4
		} else {
			p.listingSize += 4 + 4
		}
	}

	next := cursor.Align4(p.headerSize + p.kvSize + p.listingSize)
	for _, pd := range p.dexes {
		pd.fileOffset = next
		next += cursor.Align4(pd.ix.Header().FileSize)
	}

	if version.Legacy() {
		for _, pd := range p.dexes {
			pd.classOffsets = make([]uint32, pd.numClasses())
			for j := range pd.classOffsets {
				pd.classOffsets[j] = next
				next += ClassInfoSize
			}
		}
	} else {
		for _, pd := range p.dexes {
			pd.classesOffset = next
			next += pd.numClasses() * 4        // offset words
			next += pd.numClasses() * ClassInfoSize
		}
		// Every DEX gets a lookup offset, even when no table is emitted
		// for it; the offset then points at the current end of data.
		for _, pd := range p.dexes {
			pd.lookupOffset = next
			next += pd.lookup.Size()
		}
	}

	p.oatSize = cursor.Align(next, 0x1000)
	return p, nil
}
