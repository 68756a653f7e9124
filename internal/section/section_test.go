package section_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/section"
)

func TestDefaultMapFoldsGNUPrefixes(t *testing.T) {
	m := section.NewDefaultMap()
	assert.Equal(t, ".text", m.Resolve(".text.foo", 0, false, false))
	assert.Equal(t, ".data", m.Resolve(".data.bar", 0, false, false))
	assert.Equal(t, ".init_array", m.Resolve(".init_array.00", 0, false, false))
}

func TestDefaultMapIdentityForUnknownSection(t *testing.T) {
	m := section.NewDefaultMap()
	assert.Equal(t, ".custom", m.Resolve(".custom", 0, false, false))
}

func TestMergeableRodataSplitsStrVsCst(t *testing.T) {
	m := section.NewDefaultMap()
	assert.Equal(t, ".rodata.str", m.Resolve(".rodata", 0, true, true))
	assert.Equal(t, ".rodata.cst", m.Resolve(".rodata.foo", 0, true, false))
}

func TestPrependTakesPriorityOverDefaults(t *testing.T) {
	m := section.NewDefaultMap()
	m.Prepend(section.MapEntry{Pattern: ".text.", Output: ".text.hot"})
	assert.Equal(t, ".text.hot", m.Resolve(".text.foo", 0, false, false))
}

func TestPrependedWildcardWinsAsFirstMatchingEntry(t *testing.T) {
	m := section.NewDefaultMap()
	m.Prepend(section.MapEntry{Pattern: "*", Output: ".catchall"})
	// Resolve documents "first matching entry wins"; a prepended wildcard
	// sits ahead of every default rule and therefore shadows all of them.
	assert.Equal(t, ".catchall", m.Resolve(".text.foo", 0, false, false))
}

func TestMergeSectionWidensAlignAndOrsFlags(t *testing.T) {
	arena := fragment.NewArena()
	out := &section.OutputSection{Data: arena.NewSectionData(), Align: 4}

	src := arena.NewSectionData()
	arena.AppendFragment(src, fragment.Fragment{Kind: fragment.KindRegion, Region: []byte{1, 2}}, 1)

	section.MergeSection(arena, out, src, 16, 0x3, ^uint64(0))

	assert.EqualValues(t, 16, out.Align)
	assert.EqualValues(t, 0x3, out.Flags)
	assert.Len(t, arena.SectionData(out.Data).Frags, 1)
	assert.Empty(t, arena.SectionData(src).Frags)
}
