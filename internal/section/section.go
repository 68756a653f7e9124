// Package section implements the section builder / section map of spec
// §4.3: a name→name mapping table that decides which output section an
// input section's contents land in, plus the OutputSection aggregate
// itself.
//
// Grounded on unicornx-rvld's GetOutputName/GetOutputSection/OutputSection,
// generalized so linker-script SECTIONS entries can prepend to the default
// GNU-convention table (spec §4.3: "A default map seeded with GNU
// conventions ... is installed before user-script entries, which
// prepend").
package section

import (
	"strings"

	"github.com/nyxlink/rvld/internal/fragment"
)

// MapEntry is one (pattern, output name) rule of the section map. Patterns
// match by prefix, with "*" reserved as an explicit catch-all that must
// sort last.
type MapEntry struct {
	Pattern string
	Output  string
}

// defaultPrefixes mirrors unicornx-rvld's `var prefixes`: every one of
// these GNU-convention input-section family names folds into its
// unsuffixed output section.
var defaultPrefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.", ".bss.",
	".init_array.", ".fini_array.", ".tbss.", ".tdata.", ".gcc_except_table.",
	".ctors.", ".dtors.",
}

// Map is the ordered section map of spec §4.3: (pattern, output name)
// pairs, first matching entry wins. Entries carry no offset.
type Map struct {
	entries []MapEntry
}

// NewDefaultMap builds the GNU-convention map the teacher hardcodes into
// GetOutputName, as an explicit, prependable table.
func NewDefaultMap() *Map {
	m := &Map{}
	for _, p := range defaultPrefixes {
		m.entries = append(m.entries, MapEntry{Pattern: p, Output: strings.TrimSuffix(p, ".")})
	}
	return m
}

// Prepend installs script-supplied entries ahead of the existing table, per
// spec §4.3's ordering rule. entries keep their relative order among
// themselves.
func (m *Map) Prepend(entries ...MapEntry) {
	m.entries = append(append([]MapEntry{}, entries...), m.entries...)
}

// Resolve maps an input section name + flags to its output section name,
// applying the SHF_MERGE/.rodata special case first (spec's default map
// "seeded with GNU conventions" includes this fold, mirrored from
// GetOutputName), then the table in order (a "*" entry matches any name
// at its position), then identity.
func (m *Map) Resolve(name string, flags uint64, isMerge, isStrings bool) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) && isMerge {
		if isStrings {
			return ".rodata.str"
		}
		return ".rodata.cst"
	}

	for _, e := range m.entries {
		if e.Pattern == "*" {
			return e.Output
		}
		stem := strings.TrimSuffix(e.Pattern, ".")
		if name == stem || strings.HasPrefix(name, e.Pattern) {
			return e.Output
		}
	}

	return name
}

// InputSectionLike is the minimal view of an input section the builder
// needs. internal/objfile.Section does not implement it; MergeSection
// takes the section-data index, alignment and flags as plain arguments.
type InputSectionLike interface {
	SectionDataIndex() fragment.SectionDataIndex
	Align() uint32
	Flags() uint64
}

// OutputSection is one output section: identity (name/kind/flags/align),
// the fragments merged into it (via its Data), and bookkeeping the driver
// fills in at layout time.
type OutputSection struct {
	Name  string
	Type  uint32
	Flags uint64
	Align uint32

	Data fragment.SectionDataIndex

	Addr   uint64
	Offset uint64
	Size   uint64

	// Idx is this section's position in the module's Outputs list,
	// used as a stable identity for section-symbol creation (spec
	// invariant 5) and mirrors unicornx-rvld's OutputSection.Idx.
	Idx uint32
}

// MergeSection moves all fragments from src into dst (spec §4.3:
// "MergeSection(output, input, mapping) moves all fragments from input's
// SectionData to output's, widening output alignment to max(...), and
// updating output flags by bitwise-or of permissible flags").
func MergeSection(arena *fragment.Arena, dst *OutputSection, srcData fragment.SectionDataIndex, srcAlign uint32, srcFlags uint64, permissibleFlagMask uint64) {
	arena.Splice(dst.Data, srcData)
	if srcAlign > dst.Align {
		dst.Align = srcAlign
	}
	dst.Flags |= srcFlags & permissibleFlagMask
}
