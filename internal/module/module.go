// Package module is the link pipeline driver (spec §4.7): the single
// mutable struct threaded through the ordered phase functions that turn a
// set of input files into an output image.
//
// Grounded on unicornx-rvld/rvld.go's top-level phase sequence and
// pkg/linker/passes.go (ReadInputFiles -> ResolveSymbols ->
// RegisterSectionPieces -> ComputeMergedSectionSizes ->
// CreateSyntheticSections -> BinSections -> CollectOutputSections ->
// ScanRelocations -> ComputeSectionSizes -> SortOutputSections ->
// SetOutputSectionOffsets -> CopyBuf), extended with the phases the
// teacher's RISC-V-only, no-strings, no-stubs subset skips: archive
// pull-to-fixpoint, script splicing, stub relaxation to a bounded
// fixpoint, and partial-link (-r) mode.
package module

import (
	"github.com/nyxlink/rvld/internal/archive"
	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/diag"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/objfile"
	"github.com/nyxlink/rvld/internal/output"
	"github.com/nyxlink/rvld/internal/reloc"
	"github.com/nyxlink/rvld/internal/script"
	"github.com/nyxlink/rvld/internal/section"
	"github.com/nyxlink/rvld/internal/strmerge"
	"github.com/nyxlink/rvld/internal/stub"
	"github.com/nyxlink/rvld/internal/symtab"
)

// OutputKind is the output image shape spec §1 lists: executable, shared
// object, relocatable object (partial link, "-r"), or flat binary.
type OutputKind int

const (
	KindExecutable OutputKind = iota
	KindSharedObject
	KindRelocatable
	KindFlatBinary
)

// Options collects the handful of driver-level decisions the CLI front
// end makes before passing them to New (spec §6's external-interface surface,
// minus anything that is itself CLI/UX per the Non-goals).
type Options struct {
	Kind    OutputKind
	Entry   string
	Backend backend.Backend
	Scripts [][]byte // raw linker-script contents, in -T order
}

// Module is the per-link driver state: arenas, pools, and every input and
// output section discovered so far. One Module serves exactly one link
// (Design Note §9: arenas are module-scoped, never global).
type Module struct {
	Opts Options

	Arena      *fragment.Arena
	Symbols    *symtab.Pool
	SectionMap *section.Map
	Stubs      *stub.Factory

	Files   []*objfile.File
	Outputs []*section.OutputSection
	outByName map[string]*section.OutputSection

	MergeOutputs map[string]*strmerge.Output // keyed by output section name

	Diags *diag.Collector

	dot uint64 // script evaluator's location counter

	sortedOutputs []*section.OutputSection
	content       map[*section.OutputSection][]byte

	sectionSyms map[*section.OutputSection]*symtab.Symbol

	// PartialRelocs holds, for a -r (partial-link) output, every
	// relocation carried through ApplyRelocations's partial_scan path
	// instead of being resolved to an absolute value (spec §4.5,
	// "Partial-link mode"), keyed by the output section the relocation's
	// site lives in.
	PartialRelocs map[*section.OutputSection][]reloc.PartialRel
}

func New(opts Options) *Module {
	arena := fragment.NewArena()
	return &Module{
		Opts:          opts,
		Arena:         arena,
		Symbols:       symtab.NewPool(),
		SectionMap:    section.NewDefaultMap(),
		// Stubs shares the module's own arena (not a private one) so the
		// fragment.Index values FindOrClone hands out are meaningful once
		// SpliceStubs merges Stubs.Data() into a real output section's
		// SectionData in the same arena.
		Stubs:         stub.NewFactory(arena),
		outByName:     make(map[string]*section.OutputSection),
		MergeOutputs:  make(map[string]*strmerge.Output),
		Diags:         &diag.Collector{},
		sectionSyms:   make(map[*section.OutputSection]*symtab.Symbol),
		PartialRelocs: make(map[*section.OutputSection][]reloc.PartialRel),
	}
}

// AddInput parses one relocatable/shared-object input and appends it to
// the module's file list. Archive members are extracted eagerly here but
// only become live inputs once ResolveSymbols' fixpoint decides
// they are actually needed (spec §1 Non-goals: "pull on unresolved
// demand" only, nothing fancier).
func (m *Module) AddInput(name string, raw []byte) error {
	if len(raw) >= len(archive.Magic) && string(raw[:len(archive.Magic)]) == archive.Magic {
		members, err := archive.Extract(raw)
		if err != nil {
			return err
		}
		for _, mem := range members {
			f, err := objfile.Parse(name+"("+mem.Name+")", mem.Contents, m.Arena)
			if err != nil {
				return err
			}
			f.IsAlive = false // pulled in only on demand
			m.Files = append(m.Files, f)
		}
		return nil
	}

	f, err := objfile.Parse(name, raw, m.Arena)
	if err != nil {
		return err
	}
	f.IsAlive = true
	m.Files = append(m.Files, f)
	return nil
}

// ResolveSymbols runs spec §4.7 phase 1: every global symbol of every live
// file is offered to the symbol pool, archive members that define a
// currently-undefined name are marked live and their own symbols offered
// in turn, to a fixpoint (mirrors MarkLiveObjects' roots-queue).
func (m *Module) ResolveSymbols() error {
	offered := make(map[*objfile.File]bool)
	changed := true
	for changed {
		changed = false
		for _, f := range m.Files {
			if !f.IsAlive || offered[f] {
				continue
			}
			offered[f] = true
			for i := f.FirstGlobal; i < len(f.Symbols); i++ {
				sym := f.Symbols[i]
				assignSymbolRef(f, sym)
				resolved, err := m.Symbols.Resolve(sym.Name, f.Candidate(i))
				if err != nil {
					if de, ok := err.(*diag.Error); ok && de.Kind.Fatal() {
						return err
					}
					m.Diags.Add(err.(*diag.Error))
				}
				_ = resolved
			}
		}

		for _, f := range m.Files {
			if f.IsAlive {
				continue
			}
			for i := f.FirstGlobal; i < len(f.Symbols); i++ {
				name := f.Symbols[i].Name
				if info, ok := m.Symbols.Lookup(name); !ok || info.IsDefined() {
					continue
				}
				if providesDefinition(f, i) {
					f.IsAlive = true
					changed = true
					break
				}
			}
		}
	}
	return nil
}

// assignSymbolRef records sym's definition site as a FragmentRef (spec
// §4.7 phase 11's "frag_ref") so FinalizeSymbolValues can later rebase
// sym.Value from an input-section-relative offset to a final output
// address. Symbols defined inside merge-string sections are left alone:
// their value depends on the relocation's own addend (interior pointers),
// so ApplyRelocations resolves those per-relocation through
// internal/strmerge instead (spec §4.5) rather than once here.
func assignSymbolRef(f *objfile.File, sym *symtab.Symbol) {
	idx := sym.SectionIndex
	if idx <= 0 || int(idx) >= len(f.Sections) {
		return
	}
	sec := f.Sections[idx]
	if sec == nil || sec.IsMergeStr {
		return
	}
	sym.Ref = fragment.Ref{Frag: sec.ContentFrag, Offset: uint32(sym.Value)}
}

// FinalizeSymbolValues runs spec §4.7 phase 11, "Finalize symbol values":
// every resolved symbol whose definition site was recorded as a
// FragmentRef has its Value rebased from that site's input-section-local
// offset to `section.addr + frag_ref.output_offset`, now that Layout has
// assigned every output section its final address. Must run after Layout
// and before ApplyRelocations/Emit, since both depend on final symbol
// addresses (including the ELF entry point).
func (m *Module) FinalizeSymbolValues() {
	byData := make(map[fragment.SectionDataIndex]*section.OutputSection, len(m.Outputs))
	for _, out := range m.Outputs {
		byData[out.Data] = out
	}

	for _, name := range m.Symbols.Names() {
		info, _ := m.Symbols.Lookup(name)
		sym := info.OutSymbol
		if sym == nil || !sym.Ref.Valid() {
			continue
		}
		frag := m.Arena.Fragment(sym.Ref.Frag)
		out, ok := byData[frag.Parent]
		if !ok {
			continue
		}
		sym.Value = out.Addr + uint64(frag.Offset) + uint64(sym.Ref.Offset)
	}

	for _, sym := range m.Stubs.Symbols() {
		if !sym.Ref.Valid() {
			continue
		}
		frag := m.Arena.Fragment(sym.Ref.Frag)
		out, ok := byData[frag.Parent]
		if !ok {
			continue
		}
		sym.Value = out.Addr + uint64(frag.Offset) + uint64(sym.Ref.Offset)
	}
}

// BinSections maps every live input section to its output section (spec
// §4.3), creating output sections on demand.
func (m *Module) BinSections() {
	for _, f := range m.Files {
		if !f.IsAlive {
			continue
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.Alive {
				continue
			}
			outName := m.SectionMap.Resolve(sec.Name, sec.Flags, sec.Flags&0x10 != 0, sec.IsMergeStr)
			out := m.getOrCreateOutput(outName, sec.Type, sec.Flags)
			sec.Output = out

			if sec.IsMergeStr {
				merged := m.mergeOutputFor(out)
				in := strmerge.NewInput(m.Arena, sec.MergeAlign)
				splitStrings(m.Arena, sec, in)
				in.MergeInto(merged, true)
				sec.MergeIn = in
				continue
			}

			section.MergeSection(m.Arena, out, sec.Data, uint32(1)<<sec.P2Align, sec.Flags, ^uint64(0))
		}
	}
}

// AllocateCommons runs spec §4.7 phase 6, "Allocate commons": every name
// still resolved to DescCommon after ResolveSymbols's fixpoint is given a
// real home in .bss (or .tbss, for a thread-local common) via
// AppendFragment, sized and aligned to the coalesced size/alignment the
// resolver already computed, and its Desc flips to DescDefine so later
// phases (relocation scanning, FinalizeSymbolValues) treat it like any
// other definition.
func (m *Module) AllocateCommons() {
	for _, name := range m.Symbols.Names() {
		info, ok := m.Symbols.Lookup(name)
		if !ok || info.Desc != symtab.DescCommon {
			continue
		}

		outName, typ, flags := ".bss", uint32(objfileNOBITS), uint64(objfile.SHF_ALLOC|objfile.SHF_WRITE)
		if info.OutSymbol != nil && info.OutSymbol.Type == symtab.TypeTLS {
			outName, flags = ".tbss", flags|objfile.SHF_TLS
		}
		out := m.getOrCreateOutput(outName, typ, flags)

		align := uint32(info.CommonAlign)
		if align == 0 {
			align = 1
		}
		m.Arena.AppendFragment(out.Data, fragment.Fragment{
			Kind:      fragment.KindFill,
			FillSize:  1,
			FillCount: uint32(info.Size),
		}, align)
		sd := m.Arena.SectionData(out.Data)
		fragIdx := sd.Frags[len(sd.Frags)-1]

		if info.OutSymbol != nil {
			info.OutSymbol.Ref = fragment.Ref{Frag: fragIdx}
			info.OutSymbol.Value = 0
		}
		info.Desc = symtab.DescDefine
	}
}

func (m *Module) getOrCreateOutput(name string, typ uint32, flags uint64) *section.OutputSection {
	if out, ok := m.outByName[name]; ok {
		return out
	}
	out := &section.OutputSection{
		Name:  name,
		Type:  typ,
		Flags: flags,
		Data:  m.Arena.NewSectionData(),
		Idx:   uint32(len(m.Outputs)),
	}
	m.Outputs = append(m.Outputs, out)
	m.outByName[name] = out
	return out
}

func (m *Module) mergeOutputFor(out *section.OutputSection) *strmerge.Output {
	if o, ok := m.MergeOutputs[out.Name]; ok {
		return o
	}
	o := strmerge.NewOutput(m.Arena)
	m.MergeOutputs[out.Name] = o
	return o
}

// splitStrings NUL-splits sec's region fragment into per-string entries
// registered with in, preserving input byte offsets (spec §4.4 item 1).
func splitStrings(arena *fragment.Arena, sec *objfile.Section, in *strmerge.Input) {
	sd := arena.SectionData(sec.Data)
	for _, idx := range sd.Frags {
		f := arena.Fragment(idx)
		if f.Kind != fragment.KindRegion {
			continue
		}
		data := f.Region
		offset := uint32(0)
		for offset < uint32(len(data)) {
			end := offset
			for end < uint32(len(data)) && data[end] != 0 {
				end++
			}
			if end < uint32(len(data)) {
				end++ // include the NUL
			}
			in.AddString(data[offset:end], offset)
			offset = end
		}
	}
}

// ComputeMergedSectionSizes runs spec §4.7 phase "compute merged section
// sizes": every string-merge output pool is ordered and assigned offsets.
func (m *Module) ComputeMergedSectionSizes() {
	for name, out := range m.MergeOutputs {
		size := out.AssignOffsets(alignTo)
		if o, ok := m.outByName[name]; ok {
			o.Size = size
			o.Data = out.Data
		}
	}
}

// ComputeSectionSizes runs the fragment-arena layout pass over every
// non-merge output section (spec §4.1's AssignOffsets, spec §4.7 phase 9).
func (m *Module) ComputeSectionSizes() {
	for _, out := range m.Outputs {
		if _, isMerge := m.MergeOutputs[out.Name]; isMerge {
			continue
		}
		out.Size = m.Arena.AssignOffsets(out.Data, alignTo)
	}
}

// ScanRelocations runs spec §4.7 phase "scan relocations": for every live
// input section's relocations, check whether any bounded-reach branch now
// needs a stub. It does not consult the backend's GOT/PLT/GOT-TP
// predicates and reserves no GOT, PLT or dynamic-relocation slots.
// Stub insertion iterates to a bounded fixpoint since minting a stub can
// itself shift later addresses out of range (spec §4.6).
func (m *Module) ScanRelocations() error {
	r := m.Opts.Backend.Relocator()

	for iter := 0; iter < stub.MaxIterations; iter++ {
		before := m.Stubs.Count()

		for _, f := range m.Files {
			if !f.IsAlive {
				continue
			}
			for _, sec := range f.Sections {
				if sec == nil || !sec.Alive || sec.Output == nil {
					continue
				}
				for ri, rel := range sec.Rels {
					if r.IsNone(rel.Type) {
						continue
					}
					if int(rel.Sym) >= len(f.Symbols) {
						continue
					}
					sym := f.Symbols[rel.Sym]
					if sec.RelStubs != nil {
						if s, ok := sec.RelStubs[ri]; ok {
							sym = s
						}
					}
					proto := m.Opts.Backend.StubPrototype()
					if proto == nil {
						continue
					}
					site := sec.Output.Addr + uint64(sec.Output.Offset) + uint64(rel.Offset)
					target := sym.Value
					if stub.IsMyDuty(r, rel.Type, site, target) {
						s, err := m.Stubs.FindOrClone(proto, sym.Name)
						if err != nil {
							return err
						}
						// Redirect the relocation's effective target to the
						// stub's own synthetic symbol (spec §4.6 step 3);
						// the original, unreachable symbol is never
						// consulted again for this site.
						if sec.RelStubs == nil {
							sec.RelStubs = make(map[int]*symtab.Symbol)
						}
						sec.RelStubs[ri] = s.Sym
					}
				}
			}
		}

		if m.Stubs.Count() == before {
			return nil
		}
		// A later iteration re-scans every relocation against the same
		// (not-yet-laid-out) addresses; actual re-layout only has to
		// happen once, after the fixpoint settles, since minting a stub
		// never moves an existing fragment's offset, only adds one.
	}
	return diag.New(diag.RelaxationDiverged, "stub relaxation did not converge after %d iterations", stub.MaxIterations)
}

// sht_progbits is SHT_PROGBITS, the ELF section type for ordinary
// allocated content; unexported since the synthetic stub section is the
// only place module.go needs it (objfile's own section-type constants
// only name the ones its own readers check against).
const sht_progbits = 1

// SpliceStubs runs the tail of spec §4.6's relaxation step: once
// ScanRelocations's fixpoint has minted its final stub set, their
// fragments are merged into a synthetic ".text.stub" output section so
// stub bytes actually participate in layout and appear in the emitted
// image. Must run after ScanRelocations and before ComputeSectionSizes/
// Layout assign offsets and addresses.
func (m *Module) SpliceStubs() {
	if m.Stubs.Count() == 0 {
		return
	}
	out := m.getOrCreateOutput(".text.stub", sht_progbits, uint64(objfile.SHF_ALLOC|objfile.SHF_EXECINSTR))
	m.Arena.Splice(out.Data, m.Stubs.Data())
}

// encodeStubs renders every minted stub's final bytes into buf now that
// Layout and FinalizeSymbolValues have fixed both the stub's own address
// and its target symbol's address (spec §4.7 phase 9/13: stub bytes can
// only be encoded once both addresses are final).
func (m *Module) encodeStubs(buf map[*section.OutputSection][]byte) {
	if m.Stubs.Count() == 0 {
		return
	}
	out, ok := m.outByName[".text.stub"]
	if !ok {
		return
	}
	content := buf[out]
	sd := m.Arena.SectionData(out.Data)
	for _, idx := range sd.Frags {
		f := m.Arena.Fragment(idx)
		if f.Kind != fragment.KindTarget {
			continue
		}
		stubAddr := out.Addr + uint64(f.Offset)
		targetAddr := uint64(0)
		if info, ok := m.Symbols.Lookup(stub.TargetSymbol(m.Arena, idx)); ok && info.OutSymbol != nil {
			targetAddr = info.OutSymbol.Value
		}
		bytes := stub.Encode(m.Arena, idx, stubAddr, targetAddr)
		copy(content[f.Offset:], bytes)
	}
}

// EvaluateScripts parses and evaluates every -T script's PROVIDE/
// assignment directives against the module's current symbol table and
// location counter (spec §4.7 phase 11).
func (m *Module) EvaluateScripts() error {
	for i, content := range m.Opts.Scripts {
		cmds, err := script.Parse("script", content)
		if err != nil {
			return diag.Wrap(diag.UnrecognizedInput, err, "script %d", i)
		}
		ev := &script.Evaluator{
			Dot: m.dot,
			SymValue: func(name string) (uint64, bool) {
				info, ok := m.Symbols.Lookup(name)
				if !ok || info.OutSymbol == nil {
					return 0, false
				}
				return info.OutSymbol.Value, true
			},
		}
		for _, cmd := range cmds {
			if cmd.Kind != script.CmdAssign {
				continue
			}
			val, err := ev.Eval(cmd.Assign.Expr)
			if err != nil {
				return err
			}
			if cmd.Assign.Kind == script.AssignAdd {
				cur, _ := ev.SymValue(cmd.Assign.Symbol)
				if cmd.Assign.Symbol == "." {
					cur = ev.Dot
				}
				val += cur
			}
			if cmd.Assign.Symbol == "." {
				ev.Dot = val
				m.dot = val
				continue
			}
			info := m.Symbols.GetOrCreate(cmd.Assign.Symbol)
			if info.OutSymbol == nil {
				info.OutSymbol = &symtab.Symbol{Name: cmd.Assign.Symbol, Info: info, Ref: fragment.Ref{Frag: fragment.NoIndex}}
			}
			info.OutSymbol.Value = val
			info.Desc = symtab.DescDefine
		}
	}
	return nil
}

// Layout assigns addresses and file offsets to every output section (spec
// §4.7 phase 10), delegating to internal/output's chunk-ordering and
// address-packing algorithm.
func (m *Module) Layout() uint64 {
	m.content = make(map[*section.OutputSection][]byte, len(m.Outputs))
	chunks := make([]output.Chunk, 0, len(m.Outputs))
	for _, out := range m.Outputs {
		bs := assembleContent(m.Arena, out)
		m.content[out] = bs
		chunks = append(chunks, output.NewSectionChunk(out, bs))
	}
	output.SortChunks(chunks)
	size := output.Layout(chunks)

	m.sortedOutputs = m.sortedOutputs[:0]
	for _, c := range chunks {
		sc := c.(*output.SectionChunk)
		sc.Out.Addr = sc.Shdr().Addr
		sc.Out.Offset = sc.Shdr().Offset
		m.sortedOutputs = append(m.sortedOutputs, sc.Out)
	}
	return size
}

// Emit assembles the final ELF image: an ELF header, section contents at
// their laid-out offsets (moved past the header area), the section header
// table (with a name pool for .shstrtab), and -- for executables/shared
// objects -- PT_LOAD program headers packed from contiguous same-permission allocatable sections
// (spec §4.7's final "emit" phase, §6's "ELF/flat-binary output").
//
// Relocatable output (-r, spec §8 property 6) skips program headers
// entirely, matching the teacher's and every ELF linker's convention that
// .o files carry no loadable segments.
func (m *Module) Emit() []byte {
	if m.Opts.Kind == KindFlatBinary {
		return m.emitFlat()
	}
	return m.emitELF()
}

func assembleContent(arena *fragment.Arena, out *section.OutputSection) []byte {
	sd := arena.SectionData(out.Data)
	buf := make([]byte, sd.Size)
	for _, idx := range sd.Frags {
		f := arena.Fragment(idx)
		switch f.Kind {
		case fragment.KindRegion:
			copy(buf[f.Offset:], f.Region)
		case fragment.KindStringEntry:
			copy(buf[f.Offset:], f.StringBytes)
		}
	}
	return buf
}

// sectionSymbolFor returns the synthetic per-output-section symbol for
// out (spec invariant 5), creating it on first use. Partial-link mode
// uses this to remap a relocation's target symbol to its section, per
// spec §4.5's "remaps target symbols to the output section symbol".
func (m *Module) sectionSymbolFor(out *section.OutputSection) *symtab.Symbol {
	if sym, ok := m.sectionSyms[out]; ok {
		return sym
	}
	sym := symtab.NewSectionSymbol(out.Name, int32(out.Idx))
	m.sectionSyms[out] = sym
	return sym
}

// mergeSectionOf reports the merge-string input and owning output section
// that defines sym, if sym's definition site lies inside a section the
// backend's IsMergeStringSection hook (spec §6) classifies as
// SHF_MERGE|SHF_STRINGS (spec §4.5: "a relocation's S value differs
// depending on whether the target symbol lives in a merged string
// section"). sec.IsMergeStr is itself computed from the same flags by
// objfile.Parse; routed through r here so the architecture plug-in
// surface, not a hardcoded flag check, is what the driver actually calls.
func mergeSectionOf(r backend.Relocator, sym *symtab.Symbol) (*strmerge.Input, *section.OutputSection, bool) {
	if sym == nil {
		return nil, nil, false
	}
	f, ok := sym.SourceFile.(*objfile.File)
	if !ok {
		return nil, nil, false
	}
	idx := sym.SectionIndex
	if idx <= 0 || int(idx) >= len(f.Sections) {
		return nil, nil, false
	}
	sec := f.Sections[idx]
	if sec == nil || sec.MergeIn == nil || !r.IsMergeStringSection(sec.Flags) {
		return nil, nil, false
	}
	return sec.MergeIn, sec.Output, true
}

// ApplyRelocations runs spec §4.7's final relocation-application phase
// over every live input section. For ordinary output it writes computed
// values into the already-laid-out output buffer (spec §4.5's "apply"
// pass, resolving merge-string targets through internal/strmerge rather
// than trusting a symbol's raw, unrebased Value). For a -r (partial-link)
// output it instead runs partial_scan (spec §4.5, "Partial-link mode"):
// relocations are rewritten and target symbols remapped to their output
// section's synthetic symbol, but no absolute address is ever resolved,
// so the section's bytes are left untouched for replay in a later link.
func (m *Module) ApplyRelocations(buf map[*section.OutputSection][]byte) *diag.Collector {
	r := m.Opts.Backend.Relocator()
	col := &diag.Collector{}

	for _, f := range m.Files {
		if !f.IsAlive {
			continue
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.Alive || sec.Output == nil || len(sec.Rels) == 0 {
				continue
			}

			var rels []reloc.Rel
			for ri, rr := range sec.Rels {
				var sym *symtab.Symbol
				if int(rr.Sym) < len(f.Symbols) {
					sym = f.Symbols[rr.Sym]
				}
				if sec.RelStubs != nil {
					if s, ok := sec.RelStubs[ri]; ok {
						sym = s
					}
				}
				rels = append(rels, reloc.Rel{
					Offset: uint32(rr.Offset),
					Type:   rr.Type,
					Sym:    sym,
					Addend: rr.Addend,
				})
			}

			if m.Opts.Kind == KindRelocatable {
				secSym := m.sectionSymbolFor(sec.Output)
				baseOffset := m.Arena.Fragment(sec.ContentFrag).Offset
				m.PartialRelocs[sec.Output] = append(m.PartialRelocs[sec.Output],
					reloc.PartialScan(rels, baseOffset, secSym)...)
				continue
			}

			out := buf[sec.Output]
			if out == nil {
				continue
			}

			c := reloc.Apply(r, out, sec.Output.Addr, rels, nil, func(rel reloc.Rel) backend.RelocContext {
				site := sec.Output.Addr + sec.Output.Offset + uint64(rel.Offset)
				var s uint64
				if mi, mo, ok := mergeSectionOf(r, rel.Sym); ok {
					off, err := reloc.SymbolValue(r, m.Arena, rel.Sym, rel.Addend, reloc.SiteInput{MergeInput: mi})
					if err != nil {
						col.Add(diag.Wrap(diag.BadReloc, err, "relocation at offset %#x", rel.Offset))
					} else {
						// apply_merge_string_offset (spec §6): the backend
						// decides how the resolved offset folds into S/A,
						// not a hardcoded "S=base+off, A=0" here.
						rc := backend.RelocContext{P: site}
						r.ApplyMergeStringOffset(&rc, mo.Addr, off)
						return rc
					}
				} else if rel.Sym != nil {
					s = rel.Sym.Value
				}
				return backend.RelocContext{S: s, A: uint64(rel.Addend), P: site}
			})
			for _, e := range c.Errors() {
				col.Add(e)
			}
		}
	}

	if m.Opts.Kind != KindRelocatable {
		m.encodeStubs(buf)
	}
	return col
}

func alignTo(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// providesDefinition reports whether file symbol i of f is a defined
// (non-undef) global, i.e. whether pulling f in would satisfy an
// unresolved reference (mirrors ObjectFile.MarkLiveObjects' per-symbol
// check).
func providesDefinition(f *objfile.File, i int) bool {
	sym := f.Symbols[i]
	return !(sym.SectionIndex == 0 && sym.Value == 0)
}
