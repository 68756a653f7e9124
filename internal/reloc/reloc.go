// Package reloc implements the architecture-neutral half of the relocator
// (spec §4.5): the two-pass scan/apply driver and the symbol-value
// computation table, delegating the actual bit-encoding to a
// backend.Relocator.
//
// Grounded on unicornx-rvld's InputSection.ScanRelocations/
// ApplyRelocAlloc for the two-pass shape (scan decides what GOT/PLT/GotTp
// slots a symbol needs; apply writes bytes once every address is final),
// and on original_source/lib/LD/Relocator.cpp for the symbol-value table
// this expansion generalizes to: a relocation's S value for a target
// symbol in a merged string section is looked up through
// internal/strmerge rather than taken from symbol.Value. Every other
// symbol, output section symbols included, uses symbol.Value as is.
package reloc

import (
	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/strmerge"
	"github.com/nyxlink/rvld/internal/symtab"
)

// Rel is one relocation record, backend-agnostic: the byte offset within
// its section, the numeric relocation type (interpreted by the backend),
// the target symbol, and the addend.
type Rel struct {
	Offset uint32
	Type   uint32
	Sym    *symtab.Symbol
	Addend int64
}

// SiteInput is everything needed to compute one relocation's S/A/P value
// table (spec §4.5): which section it lives in (to compute P, and to
// resolve merge-string interior pointers for addends that point inside
// the section itself), and the merge-string input the section belongs to,
// if any.
type SiteInput struct {
	SectionAddr uint64 // output address of the section the relocation site is in
	MergeInput  *strmerge.Input
	MergeOutput *strmerge.Output
}

// NeedsSlot reports which auxiliary slots (GOT/PLT/GOT-TP) a relocation
// requires, per the backend's scan-time classification.
type NeedsSlot struct {
	GOT   bool
	PLT   bool
	GOTTP bool
}

// Scan runs the scan pass over one section's relocations (spec §4.5 scan
// pass): for each relocation, ask the backend what slots its type implies
// and record them against the target symbol in the returned per-symbol
// map. This function never allocates slots itself, just reports what is
// needed; internal/module's pipeline does not call it.
func Scan(r backend.Relocator, rels []Rel) map[*symtab.Symbol]NeedsSlot {
	needs := make(map[*symtab.Symbol]NeedsSlot)
	for _, rel := range rels {
		if r.IsNone(rel.Type) || rel.Sym == nil {
			continue
		}
		n := needs[rel.Sym]
		if r.NeedsGot(rel.Type) {
			n.GOT = true
		}
		if r.NeedsPlt(rel.Type) {
			n.PLT = true
		}
		if r.NeedsGotTp(rel.Type) {
			n.GOTTP = true
		}
		needs[rel.Sym] = n
	}
	return needs
}

// SymbolValue computes the S term of spec §4.5's value table for one
// relocation's target symbol. For a merge-string site it returns the
// entry's byte offset within the merged output section (not an address);
// for every other symbol, section symbols included, it returns sym.Value
// unchanged.
func SymbolValue(r backend.Relocator, arena *fragment.Arena, sym *symtab.Symbol, addend int64, site SiteInput) (uint64, error) {
	if site.MergeInput != nil {
		// The symbol (or the relocation's addend, for a section-relative
		// relocation) addresses a byte inside a mergeable section; resolve
		// through the input's offset table rather than trusting
		// sym.Value directly, since sym.Value is the *input* offset until
		// translated. get_merge_string_offset (spec §6) is the backend's
		// call, not a hardcoded S+A: some encodings stash this offset
		// somewhere other than a plain addend.
		inputOffset := r.MergeStringOffset(sym.Value, addend)
		outOffset, err := site.MergeInput.OutputOffsetFromInput(arena, inputOffset)
		if err != nil {
			return 0, err
		}
		return outOffset, nil
	}
	return sym.Value, nil
}

// PartialRel is one relocation carried through a -r (partial-link) output
// untouched except for its offset and target symbol (spec §4.5,
// "Partial-link mode"): S is never resolved, so A and Type are passed
// through verbatim for the later link that actually produces an
// executable or shared object to resolve.
type PartialRel struct {
	Offset uint32
	Type   uint32
	Sym    *symtab.Symbol
	Addend int64
}

// PartialScan runs spec §4.5's partial-link pass in place of apply: it
// rewrites each relocation's offset from input-section-relative to
// output-section-relative (baseOffset is the input section's final byte
// offset within the output section) and remaps its target symbol to
// secSym, the output section's own synthetic symbol -- but it resolves no
// absolute address and performs no byte writes, since a -r output's
// relocations are meant to be replayed by a later, real link.
func PartialScan(rels []Rel, baseOffset uint32, secSym *symtab.Symbol) []PartialRel {
	out := make([]PartialRel, len(rels))
	for i, rel := range rels {
		out[i] = PartialRel{
			Offset: rel.Offset + baseOffset,
			Type:   rel.Type,
			Sym:    secSym,
			Addend: rel.Addend,
		}
	}
	return out
}

// Apply runs the apply pass (spec §4.5 apply pass) over one section's
// relocations, in two backend-neutral sub-passes (matching the teacher's
// three-loop ApplyRelocAlloc shape, generalized): a main pass that writes
// every relocation whose value is self-contained, and a second pass for
// relocation pairs whose LO12 half must read back a previously-written
// HI20 (R_*_PCREL_LO12_*-style pairing), using RelocContext.TargetData to
// avoid double-counting the addend already baked into the HI20 write
// (spec §4.5's "target_data subtraction trick").
func Apply(r backend.Relocator, buf []byte, siteBase uint64, rels []Rel, deferred []Rel, ctxFor func(rel Rel) backend.RelocContext) *diag.Collector {
	col := &diag.Collector{}

	for _, rel := range rels {
		if r.IsNone(rel.Type) {
			continue
		}
		if rel.Sym == nil {
			col.Add(diag.New(diag.UndefinedReference, "relocation at offset %#x: unresolved symbol", rel.Offset))
			continue
		}
		loc := buf[rel.Offset:]
		rc := ctxFor(rel)
		if err := r.Apply(loc, rel.Type, rc); err != nil {
			if de, ok := err.(*diag.Error); ok {
				col.Add(de)
			} else {
				col.Add(diag.Wrap(diag.BadReloc, err, "relocation at offset %#x", rel.Offset))
			}
		}
	}

	// Second sub-pass: paired LO12 relocations resolved against the
	// instruction word the first sub-pass already wrote for the matching
	// HI20, mirroring the teacher's third ApplyRelocAlloc loop.
	for _, rel := range deferred {
		loc := buf[rel.Offset:]
		rc := ctxFor(rel)
		if err := r.Apply(loc, rel.Type, rc); err != nil {
			if de, ok := err.(*diag.Error); ok {
				col.Add(de)
			} else {
				col.Add(diag.Wrap(diag.BadReloc, err, "relocation at offset %#x", rel.Offset))
			}
		}
	}

	return col
}
