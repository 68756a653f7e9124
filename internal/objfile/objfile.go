// Package objfile is the ELF object/shared-object reading collaborator
// (spec §6.1): it reads headers, sections, and symbols, and populates the
// core's Input/Section/Symbol types. It does not resolve symbols or merge
// sections; that is internal/symtab's and internal/section's job.
//
// Grounded on unicornx-rvld's InputFile (ELF header + section header
// parsing) and ObjectFile.Parse/InitializeSections/InitializeSymbols/
// InitializeMergeableSections (the symbol/section/merge-candidate
// population sequence). Only ELF64 little-endian input is decoded; see
// Parse.
package objfile

import (
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/elfconst"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/section"
	"github.com/nyxlink/rvld/internal/strmerge"
	"github.com/nyxlink/rvld/internal/symtab"
	"github.com/nyxlink/rvld/internal/utils"
)

const (
	SHF_WRITE     = 0x1
	SHF_ALLOC     = 0x2
	SHF_EXECINSTR = 0x4
	SHF_MERGE     = 0x10
	SHF_STRINGS   = 0x20
	SHF_TLS       = 0x400
	SHF_COMPRESSED = 0x800

	SHT_NULL     = 0
	SHT_SYMTAB   = 2
	SHT_STRTAB   = 3
	SHT_RELA     = 4
	SHT_NOBITS   = 8
	SHT_DYNSYM   = 11

	ET_REL = 1
	ET_DYN = 3
)

// Section is one input section: the bytes it owns, where those bytes live
// in the fragment arena, and the output section it has been mapped to.
type Section struct {
	Name       string
	Shndx      uint32
	Flags      uint64
	Type       uint32
	P2Align    uint8
	Size       uint64
	Data       fragment.SectionDataIndex
	Output     *section.OutputSection
	IsMergeStr bool
	MergeAlign uint32
	MergeIn    *strmerge.Input
	Rels       []elfconst.Rela
	Alive      bool

	// ContentFrag is the arena index of this section's own region/fill
	// fragment, the definition site every symbol whose value falls within
	// this section is rebased from once the fragment's final Offset (and
	// its owning output section's Addr) are known (spec §4.7 phase 11,
	// "Finalize symbol values"). Meaningless for merge-string sections,
	// whose symbol values are resolved per-relocation through MergeIn
	// instead (spec §4.5).
	ContentFrag fragment.Index

	// RelStubs remaps a relocation's effective target symbol, keyed by its
	// index into Rels, once stub relaxation (spec §4.6 step 3) has
	// redirected it to a branch island's synthetic symbol instead of the
	// original out-of-range one. Sparse: nil for every relocation stub
	// relaxation never touches.
	RelStubs map[int]*symtab.Symbol
}

// File is one parsed ELF relocatable or shared object.
type File struct {
	Name        string
	Raw         []byte
	BitClass    int // 32 or 64
	LittleEndian bool
	Type        uint16
	Machine     uint16

	Sections    []*Section
	Symbols     []*symtab.Symbol
	LocalSyms   []*symtab.Symbol
	FirstGlobal int

	IsShared bool
	IsAlive  bool

	shStrtab []byte
	strtab   []byte
}

// Parse reads an ELF64 little-endian relocatable or shared object from
// raw, populating Sections (wired into arena) but deferring symbol
// resolution to internal/symtab (spec §4.7 phase 1's later step).
//
// Only ELF64 LE is decoded. BitClass and LittleEndian record the ELF
// identification bytes, but every header, section and symbol is read with
// the ELF64 little-endian layout whatever they say, so ELF32 or big-endian
// input is not decoded correctly. No caller converts such input first.
func Parse(name string, raw []byte, arena *fragment.Arena) (*File, error) {
	if len(raw) < elfconst.EhdrSize {
		return nil, diag.New(diag.UnrecognizedInput, "%s: file too small to be ELF", name)
	}
	if raw[0] != 0x7f || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return nil, diag.New(diag.UnrecognizedInput, "%s: not an ELF file", name)
	}
	bitClass := 64
	if raw[4] == 1 {
		bitClass = 32
	}
	littleEndian := raw[5] != 2

	f := &File{Name: name, Raw: raw, BitClass: bitClass, LittleEndian: littleEndian}

	ehdr := utils.Read[elfconst.Ehdr](raw)
	f.Type = ehdr.Type
	f.Machine = ehdr.Machine
	f.IsShared = ehdr.Type == ET_DYN

	shdrs, err := readShdrs(raw, ehdr)
	if err != nil {
		return nil, diag.Wrap(diag.UnrecognizedInput, err, "%s: bad section headers", name)
	}

	shstrndx := uint32(ehdr.ShStrndx)
	if ehdr.ShStrndx == uint16(elfconst.SHN_XINDEX) && len(shdrs) > 0 {
		shstrndx = shdrs[0].Link
	}
	if int(shstrndx) < len(shdrs) {
		f.shStrtab = sectionBytes(raw, shdrs[shstrndx])
	}

	var symtabShdr *elfconst.Shdr
	var symtabIdx int
	for i := range shdrs {
		if shdrs[i].Type == SHT_SYMTAB || shdrs[i].Type == SHT_DYNSYM {
			symtabShdr = &shdrs[i]
			symtabIdx = i
			break
		}
	}

	f.Sections = make([]*Section, len(shdrs))
	for i, shdr := range shdrs {
		if shdr.Type == SHT_NULL || shdr.Type == SHT_SYMTAB || shdr.Type == SHT_DYNSYM ||
			shdr.Type == SHT_STRTAB {
			continue
		}
		name := name_(f.shStrtab, shdr.Name)
		if shdr.Type == SHT_RELA {
			continue // attached to its target section below
		}
		sec := &Section{
			Name:    name,
			Shndx:   uint32(i),
			Flags:   shdr.Flags,
			Type:    shdr.Type,
			Size:    shdr.Size,
			P2Align: toP2Align(shdr.AddrAlign),
			Alive:   true,
		}
		sec.Data = arena.NewSectionData()
		if shdr.Type != SHT_NOBITS {
			content := sectionBytes(raw, shdr)
			arena.AppendFragment(sec.Data, fragment.Fragment{
				Kind:   fragment.KindRegion,
				Region: content,
			}, uint32(shdr.AddrAlign))
		} else {
			arena.AppendFragment(sec.Data, fragment.Fragment{
				Kind:      fragment.KindFill,
				FillSize:  1,
				FillCount: uint32(shdr.Size),
			}, uint32(shdr.AddrAlign))
		}
		sd := arena.SectionData(sec.Data)
		sec.ContentFrag = sd.Frags[len(sd.Frags)-1]

		if shdr.Flags&SHF_MERGE != 0 {
			sec.IsMergeStr = shdr.Flags&SHF_STRINGS != 0
			sec.MergeAlign = uint32(shdr.AddrAlign)
			if sec.MergeAlign == 0 {
				sec.MergeAlign = 1
			}
		}

		f.Sections[i] = sec
	}

	// Attach SHT_RELA sections to the section they relocate (shdr.Info).
	for _, shdr := range shdrs {
		if shdr.Type != SHT_RELA {
			continue
		}
		target := shdr.Info
		if int(target) >= len(f.Sections) || f.Sections[target] == nil {
			continue
		}
		bs := sectionBytes(raw, shdr)
		f.Sections[target].Rels = utils.ReadSlice[elfconst.Rela](bs, elfconst.RelaSize)
	}

	if symtabShdr != nil {
		f.strtab = sectionBytes(raw, shdrs[symtabShdr.Link])
		syms := utils.ReadSlice[elfconst.Sym](sectionBytes(raw, *symtabShdr), elfconst.SymSize)
		f.FirstGlobal = int(shdrs[symtabIdx].Info)
		f.buildSymbols(syms, arena)
	}

	return f, nil
}

// buildSymbols populates f.Symbols from the raw ELF symbol table, carrying
// each entry's bind/visibility/type/size forward onto *symtab.Symbol so
// Candidate can later classify it correctly -- st_info/st_other/st_size
// are only available here, at the raw elfconst.Sym; nothing downstream of
// Parse ever sees the wire struct again.
func (f *File) buildSymbols(syms []elfconst.Sym, arena *fragment.Arena) {
	f.Symbols = make([]*symtab.Symbol, len(syms))
	for i, s := range syms {
		name := name_(f.strtab, s.Name)
		binding := symtab.BindGlobal
		switch {
		case s.IsLocal():
			binding = symtab.BindLocal
		case s.IsWeak():
			binding = symtab.BindWeak
		}
		vis := symtab.VisDefault
		switch s.Visibility() {
		case elfconst.STV_HIDDEN:
			vis = symtab.VisHidden
		case elfconst.STV_PROTECTED:
			vis = symtab.VisProtected
		}
		sym := &symtab.Symbol{
			Name:         name,
			Value:        s.Val,
			SectionIndex: int32(s.Shndx),
			SourceFile:   f,
			Ref:          fragment.Ref{Frag: fragment.NoIndex},
			Binding:      binding,
			Visibility:   vis,
			Type:         symType(s.Type()),
			Size:         s.Size,
			Align:        1 << toP2Align(s.Size),
		}
		f.Symbols[i] = sym
		if i < f.FirstGlobal {
			f.LocalSyms = append(f.LocalSyms, sym)
		}
	}
}

// Candidate builds a symtab.Candidate for global symbol i from the
// classification buildSymbols already carried onto it, the input this
// reader hands to internal/symtab.Resolve during spec §4.7 phase 1 (spec
// §4.2's resolution ladder: undef/common/define, weak-vs-strong, and
// visibility all come from the symbol's real st_shndx/st_info/st_other,
// never a hardcoded default).
func (f *File) Candidate(i int) symtab.Candidate {
	sym := f.Symbols[i]
	desc := symtab.DescDefine
	switch sym.SectionIndex {
	case int32(elfconst.SHN_UNDEF):
		desc = symtab.DescUndef
	case int32(elfconst.SHN_COMMON):
		desc = symtab.DescCommon
	}
	src := symtab.SourceObject
	if f.IsShared {
		src = symtab.SourceShared
	}
	return symtab.Candidate{
		Sym:        sym,
		Desc:       desc,
		Binding:    sym.Binding,
		Visibility: sym.Visibility,
		Type:       sym.Type,
		Size:       sym.Size,
		Align:      sym.Align,
		Source:     src,
	}
}

func symType(t uint8) symtab.SymType {
	switch t {
	case elfconst.STT_OBJECT:
		return symtab.TypeObject
	case elfconst.STT_FUNC:
		return symtab.TypeFunc
	case elfconst.STT_SECTION:
		return symtab.TypeSection
	case elfconst.STT_TLS:
		return symtab.TypeTLS
	default:
		return symtab.TypeNoType
	}
}

func readShdrs(raw []byte, ehdr elfconst.Ehdr) ([]elfconst.Shdr, error) {
	if ehdr.ShOff+elfconst.ShdrSize > uint64(len(raw)) {
		return nil, diag.New(diag.UnrecognizedInput, "section header table out of range")
	}
	first := utils.Read[elfconst.Shdr](raw[ehdr.ShOff:])
	n := int64(ehdr.ShNum)
	if n == 0 {
		n = int64(first.Size)
	}
	shdrs := make([]elfconst.Shdr, 0, n)
	shdrs = append(shdrs, first)
	off := ehdr.ShOff
	for i := int64(1); i < n; i++ {
		off += elfconst.ShdrSize
		if off+elfconst.ShdrSize > uint64(len(raw)) {
			return nil, diag.New(diag.UnrecognizedInput, "section header table out of range")
		}
		shdrs = append(shdrs, utils.Read[elfconst.Shdr](raw[off:]))
	}
	return shdrs, nil
}

func sectionBytes(raw []byte, shdr elfconst.Shdr) []byte {
	if shdr.Type == SHT_NOBITS {
		return nil
	}
	end := shdr.Offset + shdr.Size
	if end > uint64(len(raw)) {
		end = uint64(len(raw))
	}
	return raw[shdr.Offset:end]
}

func name_(strtab []byte, off uint32) string {
	if strtab == nil || uint64(off) >= uint64(len(strtab)) {
		return ""
	}
	end := off
	for int(end) < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[off:end])
}

func toP2Align(align uint64) uint8 {
	if align == 0 {
		return 0
	}
	p := uint8(0)
	for align > 1 {
		align >>= 1
		p++
	}
	return p
}
