// Package fragment implements the Fragment model of spec §4.1: the typed
// leaves of section content (region, fill, alignment, null, relocation
// slot, target-specific, merge-string entry), the owning SectionData
// sequence, and the FragmentRef universal address type.
//
// Fragment, SectionData and FragmentRef are arena-indexed per Design Note
// §9 ("Cycles ... resolve by making Fragment, Section, and ResolveInfo
// arena-owned (indices into per-module arenas)"), grounded on how
// unicornx-rvld keeps InputSection/SectionFragment as plain structs
// referenced by pointer from exactly one owner and never forms a cycle
// through them; the arena formalizes that same discipline for a core that
// also has to splice fragments between sections (string merging) without
// leaving dangling owners.
package fragment

import "math"

// Kind tags the fragment variants of spec §3/§4.1.
type Kind uint8

const (
	KindRegion Kind = iota
	KindFill
	KindAlign
	KindNull
	KindTarget
	KindStringEntry
)

// Index identifies a Fragment within an Arena.
type Index int32

const NoIndex Index = -1

// SectionDataIndex identifies a SectionData within an Arena.
type SectionDataIndex int32

// Ref is a FragmentRef: (fragment, byte-offset-inside-fragment), the
// universal address-inside-the-link of spec's GLOSSARY.
type Ref struct {
	Frag   Index
	Offset uint32
}

func (r Ref) Valid() bool { return r.Frag != NoIndex }

// Fragment is one leaf of section content. Only the fields relevant to its
// Kind are populated; this mirrors the teacher's choice of one lean struct
// per concept (SectionFragment) rather than an interface hierarchy, per
// Design Note §9 ("fragment kinds ... are tagged variants, not virtual
// hierarchies").
type Fragment struct {
	Kind Kind

	Parent SectionDataIndex
	Offset uint32 // assigned at layout time; not meaningful before
	Align  uint32 // byte alignment this fragment's start must satisfy

	// KindRegion
	Region []byte

	// KindFill
	FillPattern byte
	FillSize    uint32
	FillCount   uint32

	// KindAlign
	AlignBoundary uint32
	AlignMax      uint32
	AlignFill     byte

	// KindTarget: architecture-specific payload, opaque to this package.
	// TargetSize is filled in by the owning package (e.g. internal/stub)
	// since this package cannot interpret Target to compute a size itself.
	Target     any
	TargetSize uint32

	// KindStringEntry
	StringBytes []byte
	// OutputLink is the output-merger entry this string was deduplicated
	// into; NoIndex until the string merger runs.
	OutputLink Index
}

// Size returns the fragment's byte size. For KindAlign it always returns
// the constraint's cap (AlignMax), before and after layout: AssignOffsets
// resolves the real padding by advancing offsets and does not store it
// here (spec §4.1: "Alignment fragments carry a constraint, not a fixed
// size").
func (f *Fragment) Size() uint32 {
	switch f.Kind {
	case KindRegion:
		return uint32(len(f.Region))
	case KindFill:
		return f.FillSize * f.FillCount
	case KindAlign:
		return f.AlignMax
	case KindNull:
		return 0
	case KindStringEntry:
		return uint32(len(f.StringBytes))
	case KindTarget:
		return f.TargetSize
	default:
		return 0
	}
}

// SectionData is the ordered, owning sequence of fragments belonging to one
// Section (spec GLOSSARY). It supports O(1) append and splice-from-other.
type SectionData struct {
	Frags []Index
	// Size is the cumulative byte size as of the last AssignOffsets call;
	// stale until then.
	Size uint64
}

// Arena owns every Fragment and SectionData allocated during a link. It is
// a field of module.Module, never package-level state, per Design Note
// §9's "module-scoped arenas" directive.
type Arena struct {
	frags        []Fragment
	sectionDatas []SectionData
}

func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) NewSectionData() SectionDataIndex {
	a.sectionDatas = append(a.sectionDatas, SectionData{})
	return SectionDataIndex(len(a.sectionDatas) - 1)
}

func (a *Arena) SectionData(i SectionDataIndex) *SectionData {
	return &a.sectionDatas[i]
}

func (a *Arena) NewFragment(f Fragment) Index {
	a.frags = append(a.frags, f)
	return Index(len(a.frags) - 1)
}

func (a *Arena) Fragment(i Index) *Fragment {
	return &a.frags[i]
}

// AppendFragment inserts (if align > 1) an Align fragment carrying the
// constraint (AlignBoundary align, AlignMax align-1), then appends f. It
// returns f's own size only; the padding is not included, and the current
// size of sd is not consulted (spec §4.1). Real alignment padding is only known once
// AssignOffsets runs a single layout pass over the whole SectionData — this
// mirrors the teacher's model where AddrAlign is widened incrementally
// during merge but offsets are computed in one pass at the end
// (ComputeSectionSizes / MergedSection.AssignOffsets).
func (a *Arena) AppendFragment(sdIdx SectionDataIndex, f Fragment, align uint32) uint32 {
	sd := a.SectionData(sdIdx)
	added := uint32(0)

	if align > 1 {
		alignFrag := Fragment{
			Kind:          KindAlign,
			Parent:        sdIdx,
			AlignBoundary: align,
			AlignMax:      align - 1,
		}
		idx := a.NewFragment(alignFrag)
		sd.Frags = append(sd.Frags, idx)
	}

	f.Parent = sdIdx
	idx := a.NewFragment(f)
	sd.Frags = append(sd.Frags, idx)
	added += f.Size()
	return added
}

// Splice moves every fragment of src onto the end of dst, reparenting each
// one (spec §4.1: "Splicing is required by the string merger and must
// reparent spliced fragments"). src is left empty.
func (a *Arena) Splice(dst, src SectionDataIndex) {
	srcData := a.SectionData(src)
	dstData := a.SectionData(dst)
	for _, idx := range srcData.Frags {
		a.Fragment(idx).Parent = dst
	}
	dstData.Frags = append(dstData.Frags, srcData.Frags...)
	srcData.Frags = nil
}

// AssignOffsets runs the single post-splice layout pass of spec §4.1: every
// fragment in sd gets its Offset set, honoring each fragment's natural
// alignment and Align-fragment constraints. It returns the cumulative size
// (after trailing padding is NOT added — callers align the section's final
// size separately, as the teacher's MergedSection.AssignOffsets does with
// its own trailing `AlignTo(offset, 1<<p2align)`).
func (a *Arena) AssignOffsets(sdIdx SectionDataIndex, alignTo func(n, align uint64) uint64) uint64 {
	sd := a.SectionData(sdIdx)
	offset := uint64(0)
	for _, idx := range sd.Frags {
		f := a.Fragment(idx)
		switch f.Kind {
		case KindAlign:
			offset = alignTo(offset, uint64(f.AlignBoundary))
			f.Offset = uint32(offset)
			// Align fragments are pure padding; they contribute zero bytes
			// of their own once resolved, since resolution is expressed as
			// advancing offset to the next fragment's required start.
		default:
			if f.Align > 1 {
				offset = alignTo(offset, uint64(f.Align))
			}
			f.Offset = uint32(offset)
			offset += uint64(f.Size())
		}
	}
	sd.Size = offset
	return offset
}

// ReparentInto appends an already-allocated fragment onto sdIdx's fragment
// list and updates its Parent, without touching its former owner's list.
// The string merger uses this to place each split input string in its
// Input's scratch SectionData, and each newly created output entry in the
// output merge section's SectionData (spec §4.4). An input string's own
// fragment is never moved into the output; a first occurrence gets a
// separate output fragment holding the same bytes.
func (a *Arena) ReparentInto(sdIdx SectionDataIndex, fragIdx Index) {
	a.Fragment(fragIdx).Parent = sdIdx
	sd := a.SectionData(sdIdx)
	sd.Frags = append(sd.Frags, fragIdx)
}

// Resolve returns the fragment and section-data a Ref points into.
func (a *Arena) Resolve(r Ref) (*Fragment, *SectionData) {
	f := a.Fragment(r.Frag)
	return f, a.SectionData(f.Parent)
}

// MaxOffset is used by callers that need an "unset" sentinel matching the
// teacher's math.MaxUint32 convention (SectionFragment.Offset starts there).
const MaxOffset = math.MaxUint32
