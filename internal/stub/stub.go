// Package stub implements the branch-island ("veneer") factory of spec
// §4.6: when an architecture's branch-class relocation cannot reach its
// target directly, a small stub is synthesized that performs the long
// jump, and the relocation is retargeted at the stub instead of the
// original symbol. Every stub of a link lives in the factory's one
// SectionData, which internal/module splices into a single ".text.stub"
// output section.
//
// No equivalent exists in unicornx-rvld (its RISC-V subset never needs
// one). Grounded on original_source/lib/LD/StubFactory.cpp's control flow:
// isMyDuty decides whether a given relocation is this factory's
// responsibility at all (bounded-reach branch type, symbol out of range),
// clone() mints one stub per distinct (prototype, symbol) pair so multiple
// call sites targeting the same out-of-range symbol share a single
// island, and findStub reuses an already-minted stub for a target already
// seen. Realized here as a small struct with a map, matching the
// teacher's preference for plain structs over a class hierarchy.
package stub

import (
	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/symtab"
)

// Key identifies one distinct stub: the prototype it was minted from
// (effectively "which architecture/relocation family") plus the symbol it
// ultimately branches to, per spec §4.6 ("keyed by (prototype,
// symbol-info) so multiple branches to the same target share one stub").
type Key struct {
	Proto  backend.StubPrototype
	Target string
}

// Stub is one allocated branch island: its fragment in the arena (so it
// participates in layout like any other content) and the target symbol it
// ultimately reaches.
type Stub struct {
	Frag   fragment.Index
	Target string
	Proto  backend.StubPrototype

	// Sym is the synthesized `__<target>_stub` symbol (spec §4.6 step 3:
	// "assign a synthesized symbol") relocations get redirected to instead
	// of the original out-of-range target. Its Ref points at Frag, so
	// FinalizeSymbolValues rebases its Value the same way as any other
	// definition once Frag's output offset and section address are final.
	Sym *symtab.Symbol
}

// Factory mints and deduplicates stubs for every relocation of one link. It is a field of module.Module, never global
// state (Design Note §9: arenas are module-scoped).
type Factory struct {
	arena *fragment.Arena
	data  fragment.SectionDataIndex

	byKey map[Key]*Stub
}

func NewFactory(arena *fragment.Arena) *Factory {
	sd := arena.NewSectionData()
	return &Factory{arena: arena, data: sd, byKey: make(map[Key]*Stub)}
}

// Data is the SectionData every minted stub's fragment belongs to; callers
// splice or merge it into the output section responsible for stub content
// (conventionally a synthetic ".text.stub" partition of .text).
func (f *Factory) Data() fragment.SectionDataIndex { return f.data }

// IsMyDuty reports whether relType is a bounded-reach branch relocation
// this factory is responsible for, and the target address is actually out
// of range of the relocation site (spec §4.6's isMyDuty check).
func IsMyDuty(r backend.Relocator, relType uint32, site, target uint64) bool {
	reach, bounded := r.BranchReach(relType)
	if !bounded {
		return false
	}
	disp := int64(target) - int64(site)
	return disp >= reach || disp < -reach
}

// FindOrClone returns the stub servicing (proto, targetSymbol), minting a
// new one if this is the first branch to that symbol needing an island
// (spec §4.6: findStub / clone).
func (f *Factory) FindOrClone(proto backend.StubPrototype, targetSymbol string) (*Stub, error) {
	if proto == nil {
		return nil, diag.New(diag.FailAllocatePLT, "stub requested but backend has no stub prototype")
	}
	key := Key{Proto: proto, Target: targetSymbol}
	if s, ok := f.byKey[key]; ok {
		return s, nil
	}

	f.arena.AppendFragment(f.data, fragment.Fragment{
		Kind:       fragment.KindTarget,
		Align:      proto.Align(),
		TargetSize: proto.Size(),
		Target: stubTarget{
			proto:  proto,
			target: targetSymbol,
		},
	}, proto.Align())
	sd := f.arena.SectionData(f.data)
	idx := sd.Frags[len(sd.Frags)-1]

	name := "__" + targetSymbol + "_stub"
	sym := &symtab.Symbol{
		Name: name,
		Ref:  fragment.Ref{Frag: idx},
		Info: &symtab.ResolveInfo{Name: name, Desc: symtab.DescDefine, Type: symtab.TypeFunc, Binding: symtab.BindLocal},
	}

	s := &Stub{Frag: idx, Target: targetSymbol, Proto: proto, Sym: sym}
	f.byKey[key] = s
	return s, nil
}

// TargetSymbol returns the name of the symbol stub fragment fragIdx
// ultimately branches to, for callers (internal/module's stub-encoding
// pass) that only have the fragment, not the originating *Stub.
func TargetSymbol(arena *fragment.Arena, fragIdx fragment.Index) string {
	return arena.Fragment(fragIdx).Target.(stubTarget).target
}

// Count reports how many distinct stubs have been minted so far, used by
// the relaxation fixpoint in internal/module to detect growth between
// iterations (spec §4.6: "iterated to a bounded fixpoint").
func (f *Factory) Count() int { return len(f.byKey) }

// Symbols returns every minted stub's synthesized symbol, so
// FinalizeSymbolValues can rebase each one's Value from its fragment Ref
// to a final output address the same way it does for every other
// definition, once Layout has placed the stub factory's spliced section.
func (f *Factory) Symbols() []*symtab.Symbol {
	syms := make([]*symtab.Symbol, 0, len(f.byKey))
	for _, s := range f.byKey {
		syms = append(syms, s.Sym)
	}
	return syms
}

// stubTarget is the KindTarget payload for a stub fragment: opaque to
// internal/fragment, interpreted only here, when internal/module's stub
// encoding pass calls TargetSymbol and Encode once every symbol address is
// known.
type stubTarget struct {
	proto  backend.StubPrototype
	target string
}

// Encode renders one stub's final bytes, given the stub's own address and
// its resolved target address -- called once addresses are final, in
// spec §4.7 phase 9 (Compute section sizes) / phase 13 (Apply
// relocations).
func Encode(arena *fragment.Arena, stubFrag fragment.Index, stubAddr, targetAddr uint64) []byte {
	f := arena.Fragment(stubFrag)
	t := f.Target.(stubTarget)
	return t.proto.Encode(stubAddr, targetAddr)
}

// MaxIterations bounds the relaxation fixpoint loop; exceeding it raises
// diag.RelaxationDiverged rather than looping forever on a pathological
// input (e.g. two out-of-range symbols whose stubs keep displacing each
// other back out of range).
const MaxIterations = 10
