// Package symtab implements the Symbol pool & resolver of spec §4.2:
// name-keyed ResolveInfo, per-site Symbol observations, and the
// binding/visibility/weak/common resolution ladder.
//
// Grounded on unicornx-rvld's Symbol/GetSymbolByName/ObjectFile.ResolveSymbols
// trio, generalized from the teacher's simplified "first live definition
// wins" rule to the full ladder of spec §4.2 (the teacher never resolves a
// strong-vs-weak or common-vs-common conflict because its RISC-V test
// corpus never exercises one).
package symtab

import (
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/fragment"
)

// Binding mirrors ELF symbol binding, narrowed to what resolution cares
// about.
type Binding uint8

const (
	BindLocal Binding = iota
	BindWeak
	BindGlobal
)

// Visibility mirrors ELF st_other visibility, ordered widest-first
// (default, protected, hidden) so "narrower wins" (spec §4.2) is just a
// numeric max.
type Visibility uint8

const (
	VisDefault Visibility = iota
	VisProtected
	VisHidden
)

// Desc distinguishes the three shapes a ResolveInfo's current winner can
// take: no definition yet, a common allocation pending, or a definition.
// Whether a definition came from a shared object is tracked separately,
// by SourceKind.
type Desc uint8

const (
	DescUndef Desc = iota
	DescCommon
	DescDefine
)

// SourceKind says whether the current winning definition came from a
// relocatable object or a shared object, enforcing spec §4.2's "shared
// object defs never override relocatable object defs unless the latter is
// undef".
type SourceKind uint8

const (
	SourceNone SourceKind = iota
	SourceObject
	SourceShared
)

// SymType mirrors the handful of ELF symbol types the linker must track
// through resolution (function/object/tls/section/notype).
type SymType uint8

const (
	TypeNoType SymType = iota
	TypeObject
	TypeFunc
	TypeSection
	TypeTLS
)

// ResolveInfo is the canonical per-name symbol state after resolution
// (spec GLOSSARY).
type ResolveInfo struct {
	Name       string
	Desc       Desc
	Binding    Binding
	Visibility Visibility
	Type       SymType
	Size       uint64
	CommonAlign uint64
	Source     SourceKind
	IsStrong   bool

	// OutSymbol is the single Symbol observation currently deemed this
	// name's definition (spec invariant 3: "at most one definition site
	// across all inputs after resolution").
	OutSymbol *Symbol
}

func (r *ResolveInfo) IsDefined() bool { return r.Desc != DescUndef }

// Symbol is one observation of a name at one site: a FragmentRef for its
// definition (or a bare value, for absolute/TLS symbols) plus the
// ResolveInfo it contributes to.
type Symbol struct {
	Info *ResolveInfo

	Name  string
	Value uint64

	// Ref is the definition site; Ref.Valid() is false for absolute/undef
	// symbols, which carry their value directly.
	Ref fragment.Ref

	// SectionIndex is, for a symbol read from an input file, its st_shndx
	// (the defining input section's index, 0 when undefined); for a
	// synthetic section symbol made by NewSectionSymbol, it is the output
	// section's index (spec §4.2's "Section
	// symbols ... one synthetic symbol per output section").
	SectionIndex int32

	// Binding, Visibility, Type, Size and Align are the classification
	// objfile.buildSymbols reads off the input ELF symbol table entry's
	// st_info/st_other/st_size, carried here since the raw entry itself is
	// discarded after Parse (spec §4.2's resolution ladder runs entirely
	// off these, not off a guessed default).
	Binding    Binding
	Visibility Visibility
	Type       SymType
	Size       uint64
	Align      uint64

	// SourceFile is an opaque per-input identity used only for "does this
	// symbol belong to file X" checks (mirrors ObjectFile pointer identity
	// in the teacher); internal/objfile sets it to the *objfile.File the
	// symbol was read from.
	SourceFile any
}

// Pool uniques ResolveInfo by name; this is Context.SymbolMap in the
// teacher, generalized to run the full resolution ladder per insertion
// instead of "first definition wins".
type Pool struct {
	byName map[string]*ResolveInfo
	order  []string // insertion order, for deterministic section-symbol emission
}

func NewPool() *Pool {
	return &Pool{byName: make(map[string]*ResolveInfo)}
}

// GetOrCreate returns the ResolveInfo for name, creating an undefined one
// if this is the first time the name has been seen (mirrors
// GetSymbolByName).
func (p *Pool) GetOrCreate(name string) *ResolveInfo {
	if info, ok := p.byName[name]; ok {
		return info
	}
	info := &ResolveInfo{Name: name, Desc: DescUndef}
	p.byName[name] = info
	p.order = append(p.order, name)
	return info
}

func (p *Pool) Lookup(name string) (*ResolveInfo, bool) {
	info, ok := p.byName[name]
	return info, ok
}

// Names returns every name in first-seen order, for deterministic .symtab
// emission.
func (p *Pool) Names() []string {
	return p.order
}

// Candidate is one observation offered to the pool during streaming
// resolution (spec §4.2: "as each input is parsed, each symbol observation
// is offered to the pool").
type Candidate struct {
	Sym        *Symbol
	Desc       Desc
	Binding    Binding
	Visibility Visibility
	Type       SymType
	Size       uint64
	Align      uint64
	Source     SourceKind
}

// Resolve offers Candidate c for name to the pool, applying spec §4.2's
// ladder, and returns the (possibly unchanged) winning Symbol. A
// *diag.Error of Kind MultipleDefinition is returned when two strong
// defines collide.
func (p *Pool) Resolve(name string, c Candidate) (*Symbol, error) {
	info := p.GetOrCreate(name)

	if info.Visibility < c.Visibility {
		info.Visibility = c.Visibility // narrower always applies, regardless of who wins the value
	}

	switch {
	case c.Desc == DescUndef:
		// spec: "an undef never overrides a def" -- nothing to do but
		// possibly seed binding for a still-undefined name so a later
		// definition's binding can be compared against it.
		if !info.IsDefined() {
			info.Binding = strongerOf(info.Binding, c.Binding)
		}
		return info.OutSymbol, nil

	case c.Desc == DescCommon:
		return p.resolveCommon(info, c)

	default: // DescDefine
		return p.resolveDefine(info, c)
	}
}

func strongerOf(a, b Binding) Binding {
	if a > b {
		return a
	}
	return b
}

func (p *Pool) resolveCommon(info *ResolveInfo, c Candidate) (*Symbol, error) {
	switch info.Desc {
	case DescUndef:
		info.Desc = DescCommon
		info.Size = c.Size
		info.CommonAlign = c.Align
		info.Source = c.Source
		info.OutSymbol = c.Sym
		return c.Sym, nil
	case DescCommon:
		// spec: "common symbols coalesce to the largest size and the
		// strictest alignment"
		if c.Size > info.Size {
			info.Size = c.Size
			info.OutSymbol = c.Sym
		}
		if c.Align > info.CommonAlign {
			info.CommonAlign = c.Align
		}
		return info.OutSymbol, nil
	default: // DescDefine
		// "a non-common def overrides any common" -- already a real
		// define, common contributes nothing further.
		return info.OutSymbol, nil
	}
}

func (p *Pool) resolveDefine(info *ResolveInfo, c Candidate) (*Symbol, error) {
	switch info.Desc {
	case DescUndef:
		p.installDefine(info, c)
		return c.Sym, nil
	case DescCommon:
		// "a non-common def overrides any common"
		p.installDefine(info, c)
		return c.Sym, nil
	default: // DescDefine vs DescDefine
		return p.resolveDefineVsDefine(info, c)
	}
}

func (p *Pool) installDefine(info *ResolveInfo, c Candidate) {
	info.Desc = DescDefine
	info.Binding = c.Binding
	info.Type = c.Type
	info.Size = c.Size
	info.Source = c.Source
	info.IsStrong = c.Binding == BindGlobal
	info.OutSymbol = c.Sym
}

func (p *Pool) resolveDefineVsDefine(info *ResolveInfo, c Candidate) (*Symbol, error) {
	curStrong := info.Binding == BindGlobal
	newStrong := c.Binding == BindGlobal

	// spec: "Shared-object defs never override relocatable-object defs
	// unless the latter is undef" -- defs are never undef here, so a
	// shared-object candidate can never win against an already-installed
	// object definition.
	if c.Source == SourceShared && info.Source == SourceObject {
		return info.OutSymbol, nil
	}
	if info.Source == SourceShared && c.Source == SourceObject {
		// object beats a previously-recorded shared definition outright.
		p.installDefine(info, c)
		return c.Sym, nil
	}

	switch {
	case curStrong && newStrong:
		return info.OutSymbol, diag.New(diag.MultipleDefinition,
			"%s: multiple definition of %q", describeSite(c.Sym), info.Name)
	case curStrong && !newStrong:
		return info.OutSymbol, nil // strong already installed beats weak
	case !curStrong && newStrong:
		p.installDefine(info, c)
		return c.Sym, nil
	default: // both weak: first one wins, matching link-order determinism
		return info.OutSymbol, nil
	}
}

func describeSite(sym *Symbol) string {
	if sym == nil {
		return "<unknown>"
	}
	return sym.Name
}

// NewSectionSymbol creates the synthetic per-output-section symbol of spec
// invariant 5: "one synthetic symbol per output section, address = section
// address, value 0". sectionIdx indexes the module's output-section list.
func NewSectionSymbol(name string, sectionIdx int32) *Symbol {
	return &Symbol{
		Name:         name,
		Value:        0,
		SectionIndex: sectionIdx,
		Ref:          fragment.Ref{Frag: fragment.NoIndex},
		Info:         &ResolveInfo{Name: name, Desc: DescDefine, Type: TypeSection, Binding: BindLocal},
	}
}
