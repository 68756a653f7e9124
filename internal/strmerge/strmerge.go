// Package strmerge implements the String merger of spec §4.4 -- the
// hardest subsystem per the spec's own component table. It deduplicates
// strings across inputs, preserves input-offset -> output-offset
// translation for relocations (including interior pointers into the
// middle of a string), and distinguishes "deduplicating" from "forced"
// merge mode.
//
// Grounded on unicornx-rvld's MergeableSection (split-on-NUL,
// offset-sorted GetFragment binary search) and MergedSection (Insert /
// AssignOffsets), and on original_source/lib/LD/MergeString.cpp for the
// two-shape (Input/Output) contract and the greatest-lower-bound
// interior-pointer lookup this spec formalizes as the FragmentRef-based
// getOutputOffset contract (spec Design Note §9: "the FragmentRef form is
// the more general contract and is specified above").
package strmerge

import (
	"sort"

	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/fragment"
)

// Output is the MergeString Output shape: the deduplicated pool for one
// SHF_MERGE|SHF_STRINGS (or plain SHF_MERGE) output section.
type Output struct {
	arena *fragment.Arena
	Data  fragment.SectionDataIndex

	// dedupMap supports O(1) byte-equal lookup in dedup mode; it never
	// participates in forced-mode appends.
	dedupMap map[string]fragment.Index

	// entries holds every fragment index that is actually a member of this
	// output (first-occurrence dedup entries plus every forced-mode
	// entry), in the order they were inserted. AssignOffsets re-sorts a
	// copy of this list by byte content for emission.
	entries []fragment.Index

	assigned bool
}

func NewOutput(arena *fragment.Arena) *Output {
	return &Output{
		arena:    arena,
		Data:     arena.NewSectionData(),
		dedupMap: make(map[string]fragment.Index),
	}
}

// insertDedup returns the fragment index that now represents bytes in the
// output pool, creating one if bytes hasn't been seen before (spec §4.4
// item 2, deduplicating mode).
func (o *Output) insertDedup(bytes []byte, align uint32) fragment.Index {
	key := string(bytes)
	if idx, ok := o.dedupMap[key]; ok {
		return idx
	}
	idx := o.arena.NewFragment(fragment.Fragment{
		Kind:        fragment.KindStringEntry,
		StringBytes: bytes,
		Align:       align,
	})
	o.arena.ReparentInto(o.Data, idx)
	o.arena.Fragment(idx).OutputLink = idx
	o.dedupMap[key] = idx
	o.entries = append(o.entries, idx)
	return idx
}

// appendForced unconditionally appends bytes as a new output entry (spec
// §4.4 item 2, forced mode: "used when a non-mergeable input section has
// been coalesced into the output for layout reasons ... append every entry
// unconditionally").
func (o *Output) appendForced(bytes []byte, align uint32) fragment.Index {
	idx := o.arena.NewFragment(fragment.Fragment{
		Kind:        fragment.KindStringEntry,
		StringBytes: bytes,
		Align:       align,
	})
	o.arena.ReparentInto(o.Data, idx)
	o.arena.Fragment(idx).OutputLink = idx
	o.entries = append(o.entries, idx)
	return idx
}

// AssignOffsets orders the pool by byte comparison (spec §4.4: "Ordering of
// the output pool is by byte comparison, not insertion order, to guarantee
// reproducible builds") and assigns offsets, returning the section's final
// size (aligned to the widest entry alignment present, mirroring
// MergedSection.AssignOffsets).
func (o *Output) AssignOffsets(alignTo func(n, align uint64) uint64) uint64 {
	o.assigned = true
	ordered := append([]fragment.Index(nil), o.entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		bi := o.arena.Fragment(ordered[i]).StringBytes
		bj := o.arena.Fragment(ordered[j]).StringBytes
		return string(bi) < string(bj)
	})

	offset := uint64(0)
	maxAlign := uint64(1)
	for _, idx := range ordered {
		f := o.arena.Fragment(idx)
		a := uint64(f.Align)
		if a < 1 {
			a = 1
		}
		offset = alignTo(offset, a)
		f.Offset = uint32(offset)
		offset += uint64(len(f.StringBytes))
		if a > maxAlign {
			maxAlign = a
		}
	}

	size := alignTo(offset, maxAlign)
	sd := o.arena.SectionData(o.Data)
	sd.Size = size
	return size
}

// OutputOffset returns the byte offset within the output section of the
// merged entry referenced by ref (spec §4.4 item 3, non-section-symbol
// case: "the symbol's FragmentRef is rewritten: ref.fragment <-
// entry.output_link"). Callers are expected to have already rewritten
// ref.Frag to an input-side entry fragment or an already-merged output
// fragment; both cases resolve the same way since OutputLink is set on
// every member fragment to point at itself.
func (o *Output) OutputOffset(arena *fragment.Arena, frag fragment.Index) uint64 {
	f := arena.Fragment(frag)
	target := f.OutputLink
	if target == fragment.NoIndex {
		target = frag
	}
	return uint64(arena.Fragment(target).Offset)
}

// Input is the MergeString Input shape: one mergeable section as read from
// one input file, before it is merged into an Output.
type Input struct {
	arena *fragment.Arena

	// tmpData holds the fragments as originally split, in input order;
	// this is a scratch SectionData that is never itself part of any
	// output. MergeInto does not move these fragments: every one stays
	// parented here, and its OutputLink points at the separate fragment
	// the Output created (or reused) for its bytes.
	tmpData fragment.SectionDataIndex

	// offsets and frags are parallel, input-offset-ascending arrays
	// supporting the greatest-lower-bound interior-pointer lookup of spec
	// §4.4 item 3 (mirrors MergeableSection.FragOffsets/Fragments plus its
	// sort.Search-based GetFragment).
	offsets []uint32
	frags   []fragment.Index

	align uint32
}

func NewInput(arena *fragment.Arena, align uint32) *Input {
	return &Input{arena: arena, tmpData: arena.NewSectionData(), align: align}
}

// AddString records one NUL-split (or fixed-entsize) string at its
// original byte offset within the input section (spec §4.4 item 1).
// Offsets must be added in ascending order, matching how the input section
// is scanned left to right.
func (in *Input) AddString(bytes []byte, inputOffset uint32) fragment.Index {
	idx := in.arena.NewFragment(fragment.Fragment{
		Kind:        fragment.KindStringEntry,
		StringBytes: bytes,
		Align:       in.align,
		OutputLink:  fragment.NoIndex,
	})
	in.arena.ReparentInto(in.tmpData, idx)
	in.offsets = append(in.offsets, inputOffset)
	in.frags = append(in.frags, idx)
	return idx
}

// MergeInto merges every string this Input recorded into out. In
// deduplicating mode (dedupe=true), byte-equal strings fold onto the same
// output entry; in forced mode every entry is appended unconditionally
// (spec §4.4 item 2).
func (in *Input) MergeInto(out *Output, dedupe bool) {
	for _, idx := range in.frags {
		f := in.arena.Fragment(idx)
		var target fragment.Index
		if dedupe {
			target = out.insertDedup(f.StringBytes, f.Align)
		} else {
			target = out.appendForced(f.StringBytes, f.Align)
		}
		// Inserting may grow the arena and move its fragments, so f can be
		// stale here; look the fragment up again before linking it.
		in.arena.Fragment(idx).OutputLink = target
	}
}

// EntryAt returns the fragment covering inputOffset and the byte offset
// within that fragment's string (the greatest-lower-bound search of spec
// §4.4 item 3, correctly handling interior pointers into the middle of a
// string). It fails with diag.BadMergeOffset if inputOffset precedes every
// recorded entry.
func (in *Input) EntryAt(inputOffset uint32) (fragment.Index, uint32, error) {
	if len(in.offsets) == 0 {
		return fragment.NoIndex, 0, diag.New(diag.BadMergeOffset,
			"offset %d: merge section has no entries", inputOffset)
	}

	// sort.Search finds the first offset strictly greater than
	// inputOffset; the entry one before it is the greatest lower bound.
	pos := sort.Search(len(in.offsets), func(i int) bool {
		return inputOffset < in.offsets[i]
	})
	if pos == 0 {
		return fragment.NoIndex, 0, diag.New(diag.BadMergeOffset,
			"offset %d lies before the first recorded entry at %d", inputOffset, in.offsets[0])
	}
	i := pos - 1
	return in.frags[i], inputOffset - in.offsets[i], nil
}

// OutputOffsetFromInput resolves spec §4.4 item 3's ResolveInfo::Section
// case in one call: given a raw input-section byte offset, returns the
// corresponding output offset, honoring interior pointers.
func (in *Input) OutputOffsetFromInput(arena *fragment.Arena, inputOffset uint32) (uint64, error) {
	frag, withinEntry, err := in.EntryAt(inputOffset)
	if err != nil {
		return 0, err
	}
	entryFrag := arena.Fragment(frag)
	target := entryFrag.OutputLink
	if target == fragment.NoIndex {
		return 0, diag.New(diag.BadMergeOffset, "entry at input offset %d was never merged", inputOffset)
	}
	return uint64(arena.Fragment(target).Offset) + uint64(withinEntry), nil
}
