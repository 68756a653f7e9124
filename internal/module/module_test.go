package module_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/backend/arm"
	"github.com/nyxlink/rvld/internal/backend/riscv64"
	"github.com/nyxlink/rvld/internal/elfconst"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/module"
	"github.com/nyxlink/rvld/internal/objfile"
	"github.com/nyxlink/rvld/internal/section"
	"github.com/nyxlink/rvld/internal/symtab"
	"github.com/nyxlink/rvld/internal/utils"
)

// buildRel64 assembles a minimal ELF64 LE relocatable object with one
// .text SHT_PROGBITS section and a single global defined symbol at its
// start, named by entryName.
func buildRel64(entryName string) []byte {
	text := []byte{0x13, 0x00, 0x00, 0x00}

	shstrtab := []byte{0}
	shOff := map[string]uint32{}
	add := func(buf *[]byte, m map[string]uint32, name string) {
		m[name] = uint32(len(*buf))
		*buf = append(*buf, []byte(name)...)
		*buf = append(*buf, 0)
	}
	add(&shstrtab, shOff, ".text")
	add(&shstrtab, shOff, ".symtab")
	add(&shstrtab, shOff, ".strtab")
	add(&shstrtab, shOff, ".shstrtab")

	strtab := []byte{0}
	stOff := map[string]uint32{}
	add(&strtab, stOff, entryName)

	sym := elfconst.Sym{Name: stOff[entryName], Shndx: 1, Val: 0, Size: 4}
	sym.SetBind(elfconst.STB_GLOBAL)
	sym.SetType(elfconst.STT_FUNC)
	symtabBuf := make([]byte, elfconst.SymSize*2)
	utils.Write(symtabBuf[elfconst.SymSize:], sym)

	textOff := uint64(elfconst.EhdrSize)
	symtabOff := textOff + uint64(len(text))
	strtabOffset := symtabOff + uint64(len(symtabBuf))
	shstrtabOffset := strtabOffset + uint64(len(strtab))
	shdrOff := shstrtabOffset + uint64(len(shstrtab))

	shdrs := []elfconst.Shdr{
		{},
		{Name: shOff[".text"], Type: 1, Flags: 0x2 | 0x4, Offset: textOff, Size: uint64(len(text)), AddrAlign: 4},
		{Name: shOff[".symtab"], Type: 2, Offset: symtabOff, Size: uint64(len(symtabBuf)), Link: 3, Info: 1, EntSize: elfconst.SymSize},
		{Name: shOff[".strtab"], Type: 3, Offset: strtabOffset, Size: uint64(len(strtab))},
		{Name: shOff[".shstrtab"], Type: 3, Offset: shstrtabOffset, Size: uint64(len(shstrtab))},
	}

	ehdr := elfconst.Ehdr{
		Type: 1, Machine: 0xf3,
		EhSize: elfconst.EhdrSize, ShOff: shdrOff,
		ShEntSize: elfconst.ShdrSize, ShNum: uint16(len(shdrs)), ShStrndx: 4,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[4] = 2

	var buf bytes.Buffer
	eb := make([]byte, elfconst.EhdrSize)
	utils.Write(eb, ehdr)
	buf.Write(eb)
	buf.Write(text)
	buf.Write(symtabBuf)
	buf.Write(strtab)
	buf.Write(shstrtab)
	for _, sh := range shdrs {
		sb := make([]byte, elfconst.ShdrSize)
		utils.Write(sb, sh)
		buf.Write(sb)
	}
	return buf.Bytes()
}

// buildRel64Reloc is buildRel64 plus an 8-byte relocation slot appended to
// .text and a single .rela.text entry (relType, targeting the global symbol
// named entryName, at the slot's offset) driving it -- used to exercise
// ApplyRelocations' real apply/partial_scan paths instead of the
// no-relocations case buildRel64 alone covers.
func buildRel64Reloc(entryName string, relType uint32, addend int64) []byte {
	const relOffset = 4
	text := make([]byte, relOffset+8)
	copy(text, []byte{0x13, 0x00, 0x00, 0x00})

	shstrtab := []byte{0}
	shOff := map[string]uint32{}
	add := func(buf *[]byte, m map[string]uint32, name string) {
		m[name] = uint32(len(*buf))
		*buf = append(*buf, []byte(name)...)
		*buf = append(*buf, 0)
	}
	add(&shstrtab, shOff, ".text")
	add(&shstrtab, shOff, ".symtab")
	add(&shstrtab, shOff, ".strtab")
	add(&shstrtab, shOff, ".rela.text")
	add(&shstrtab, shOff, ".shstrtab")

	strtab := []byte{0}
	stOff := map[string]uint32{}
	add(&strtab, stOff, entryName)

	sym := elfconst.Sym{Name: stOff[entryName], Shndx: 1, Val: 0, Size: 4}
	sym.SetBind(elfconst.STB_GLOBAL)
	sym.SetType(elfconst.STT_FUNC)
	symtabBuf := make([]byte, elfconst.SymSize*2)
	utils.Write(symtabBuf[elfconst.SymSize:], sym)

	rela := elfconst.Rela{Offset: relOffset, Type: relType, Sym: 1, Addend: addend}
	relaBuf := make([]byte, elfconst.RelaSize)
	utils.Write(relaBuf, rela)

	textOff := uint64(elfconst.EhdrSize)
	symtabOff := textOff + uint64(len(text))
	strtabOffset := symtabOff + uint64(len(symtabBuf))
	relaOffset := strtabOffset + uint64(len(strtab))
	shstrtabOffset := relaOffset + uint64(len(relaBuf))
	shdrOff := shstrtabOffset + uint64(len(shstrtab))

	shdrs := []elfconst.Shdr{
		{},
		{Name: shOff[".text"], Type: 1, Flags: 0x2 | 0x4, Offset: textOff, Size: uint64(len(text)), AddrAlign: 8},
		{Name: shOff[".symtab"], Type: 2, Offset: symtabOff, Size: uint64(len(symtabBuf)), Link: 3, Info: 1, EntSize: elfconst.SymSize},
		{Name: shOff[".strtab"], Type: 3, Offset: strtabOffset, Size: uint64(len(strtab))},
		{Name: shOff[".rela.text"], Type: 4, Offset: relaOffset, Size: uint64(len(relaBuf)), Link: 2, Info: 1, EntSize: elfconst.RelaSize},
		{Name: shOff[".shstrtab"], Type: 3, Offset: shstrtabOffset, Size: uint64(len(shstrtab))},
	}

	ehdr := elfconst.Ehdr{
		Type: 1, Machine: 0xf3,
		EhSize: elfconst.EhdrSize, ShOff: shdrOff,
		ShEntSize: elfconst.ShdrSize, ShNum: uint16(len(shdrs)), ShStrndx: 5,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[4] = 2

	var buf bytes.Buffer
	eb := make([]byte, elfconst.EhdrSize)
	utils.Write(eb, ehdr)
	buf.Write(eb)
	buf.Write(text)
	buf.Write(symtabBuf)
	buf.Write(strtab)
	buf.Write(relaBuf)
	buf.Write(shstrtab)
	for _, sh := range shdrs {
		sb := make([]byte, elfconst.ShdrSize)
		utils.Write(sb, sh)
		buf.Write(sb)
	}
	return buf.Bytes()
}

func TestPipelineProducesValidElfHeader(t *testing.T) {
	m := module.New(module.Options{
		Kind:    module.KindExecutable,
		Entry:   "_start",
		Backend: riscv64.New(),
	})

	require.NoError(t, m.AddInput("a.o", buildRel64("_start")))
	require.NoError(t, m.ResolveSymbols())

	m.BinSections()
	m.AllocateCommons()
	m.ComputeMergedSectionSizes()
	require.NoError(t, m.ScanRelocations())
	m.SpliceStubs()
	m.ComputeSectionSizes()
	require.NoError(t, m.EvaluateScripts())
	m.Layout()
	m.FinalizeSymbolValues()

	image := m.Emit()
	require.GreaterOrEqual(t, len(image), elfconst.EhdrSize)
	assert.Equal(t, byte(0x7f), image[0])
	assert.Equal(t, []byte("ELF"), image[1:4])
	assert.Equal(t, 0, m.Diags.Len())
}

// TestFinalizeSymbolValuesRebasesToOutputAddress exercises spec §4.7 phase
// 11 end to end: a symbol's raw, input-section-relative Value must be
// rebased to its output section's laid-out address once FinalizeSymbolValues
// runs, not left as the offset objfile.Parse read straight off the input
// symbol table.
func TestFinalizeSymbolValuesRebasesToOutputAddress(t *testing.T) {
	m := module.New(module.Options{
		Kind:    module.KindExecutable,
		Entry:   "_start",
		Backend: riscv64.New(),
	})

	require.NoError(t, m.AddInput("a.o", buildRel64("_start")))
	require.NoError(t, m.ResolveSymbols())
	m.BinSections()
	m.AllocateCommons()
	m.ComputeMergedSectionSizes()
	require.NoError(t, m.ScanRelocations())
	m.SpliceStubs()
	m.ComputeSectionSizes()
	require.NoError(t, m.EvaluateScripts())
	m.Layout()

	info, ok := m.Symbols.Lookup("_start")
	require.True(t, ok)
	require.NotNil(t, info.OutSymbol)
	// Before finalization the symbol still carries objfile.Parse's raw,
	// input-section-relative value.
	assert.EqualValues(t, 0, info.OutSymbol.Value)

	m.FinalizeSymbolValues()

	require.Len(t, m.Outputs, 1)
	assert.Equal(t, m.Outputs[0].Addr, info.OutSymbol.Value)
	assert.NotZero(t, info.OutSymbol.Value)
}

func TestPipelineRelocatableOutputSkipsProgramHeaders(t *testing.T) {
	m := module.New(module.Options{
		Kind:    module.KindRelocatable,
		Backend: riscv64.New(),
	})
	require.NoError(t, m.AddInput("a.o", buildRel64("foo")))
	require.NoError(t, m.ResolveSymbols())
	m.BinSections()
	m.ComputeMergedSectionSizes()
	m.ComputeSectionSizes()
	require.NoError(t, m.ScanRelocations())
	m.Layout()
	m.FinalizeSymbolValues()
	image := m.Emit()

	ehdr := utils.Read[elfconst.Ehdr](image)
	assert.EqualValues(t, 0, ehdr.PhNum)
	assert.EqualValues(t, 1, ehdr.Type) // ET_REL
}

// TestPipelineRelocatableOutputCarriesRelocationsUnresolved closes the gap
// a no-relocation -r input left untested: spec §4.5's partial-link mode
// must rewrite a live relocation's offset and remap its target symbol to
// the output section's own synthetic symbol (spec invariant 5) without
// ever resolving an absolute address, so replaying the output through a
// later real link reproduces the same result as linking directly.
func TestPipelineRelocatableOutputCarriesRelocationsUnresolved(t *testing.T) {
	m := module.New(module.Options{
		Kind:    module.KindRelocatable,
		Backend: riscv64.New(),
	})
	const riscv64Abs64 = 2 // R_RISCV_64
	require.NoError(t, m.AddInput("a.o", buildRel64Reloc("foo", riscv64Abs64, 3)))
	require.NoError(t, m.ResolveSymbols())
	m.BinSections()
	m.ComputeMergedSectionSizes()
	m.ComputeSectionSizes()
	require.NoError(t, m.ScanRelocations())
	m.Layout()
	m.FinalizeSymbolValues()
	image := m.Emit()

	ehdr := utils.Read[elfconst.Ehdr](image)
	assert.EqualValues(t, 0, ehdr.PhNum)
	assert.EqualValues(t, 1, ehdr.Type) // ET_REL
	assert.Equal(t, 0, m.Diags.Len())

	require.Len(t, m.Outputs, 1)
	out := m.Outputs[0]
	partial := m.PartialRelocs[out]
	require.Len(t, partial, 1)
	assert.EqualValues(t, 4, partial[0].Offset) // only input section in the output, so no base shift
	assert.EqualValues(t, riscv64Abs64, partial[0].Type)
	assert.EqualValues(t, 3, partial[0].Addend)
	require.NotNil(t, partial[0].Sym)
	// The target symbol is remapped to the output section's own synthetic
	// symbol, not left pointing at "foo" -- partial_scan never resolves an
	// absolute address for a -r output.
	assert.Equal(t, out.Name, partial[0].Sym.Name)
}

// TestAllocateCommonsCoalescesToLargestSizeInBss exercises spec §4.7 phase
// 6: a name still DescCommon after resolution gets a real home in .bss,
// sized to the coalesced (largest) size the resolver already picked.
func TestAllocateCommonsCoalescesToLargestSizeInBss(t *testing.T) {
	m := module.New(module.Options{Kind: module.KindRelocatable, Backend: riscv64.New()})

	symA := &symtab.Symbol{Name: "buf", Ref: fragment.Ref{Frag: fragment.NoIndex}}
	symB := &symtab.Symbol{Name: "buf", Ref: fragment.Ref{Frag: fragment.NoIndex}}

	_, err := m.Symbols.Resolve("buf", symtab.Candidate{Sym: symA, Desc: symtab.DescCommon, Binding: symtab.BindGlobal, Size: 4, Align: 4})
	require.NoError(t, err)
	_, err = m.Symbols.Resolve("buf", symtab.Candidate{Sym: symB, Desc: symtab.DescCommon, Binding: symtab.BindGlobal, Size: 16, Align: 8})
	require.NoError(t, err)

	info, ok := m.Symbols.Lookup("buf")
	require.True(t, ok)
	require.Equal(t, symtab.DescCommon, info.Desc)

	m.AllocateCommons()

	require.Equal(t, symtab.DescDefine, info.Desc)
	require.Len(t, m.Outputs, 1)
	bss := m.Outputs[0]
	assert.Equal(t, ".bss", bss.Name)
	require.True(t, info.OutSymbol.Ref.Valid())

	sd := m.Arena.SectionData(bss.Data)
	require.Len(t, sd.Frags, 2) // the align-8 constraint, then the fill
	frag := m.Arena.Fragment(sd.Frags[1])
	assert.EqualValues(t, 16, frag.Size()) // coalesced to the larger size
	assert.Equal(t, info.OutSymbol, symB)  // size winner becomes OutSymbol (per resolveCommon)
}

// TestScanRelocationsRedirectsOutOfRangeBranchToStubAndEncodesIt exercises
// spec §4.6 end to end: a branch relocation whose target is out of an ARM
// BL's +-32MiB reach gets redirected to a synthesized stub symbol, the
// stub's fragment is spliced into a real output section, its symbol is
// rebased to a final address by FinalizeSymbolValues, and ApplyRelocations
// encodes both the redirected branch and the stub's own veneer bytes.
func TestScanRelocationsRedirectsOutOfRangeBranchToStubAndEncodesIt(t *testing.T) {
	m := module.New(module.Options{Kind: module.KindExecutable, Backend: arm.New()})

	farSym := &symtab.Symbol{Name: "far", Value: 0x2000000, Ref: fragment.Ref{Frag: fragment.NoIndex}}
	info := m.Symbols.GetOrCreate("far")
	info.OutSymbol = farSym
	info.Desc = symtab.DescDefine

	textOut := &section.OutputSection{Name: ".text", Flags: 0x2 | 0x4, Data: m.Arena.NewSectionData()}
	sec := &objfile.Section{Alive: true, Output: textOut, Rels: []elfconst.Rela{{Offset: 0, Type: arm.R_ARM_CALL, Sym: 0, Addend: 0}}}
	f := &objfile.File{IsAlive: true, Symbols: []*symtab.Symbol{farSym}, Sections: []*objfile.Section{sec}}
	m.Files = append(m.Files, f)

	require.NoError(t, m.ScanRelocations())
	assert.Equal(t, 1, m.Stubs.Count())
	require.NotNil(t, sec.RelStubs)
	stubSym := sec.RelStubs[0]
	require.NotNil(t, stubSym)
	assert.Equal(t, "__far_stub", stubSym.Name)

	m.SpliceStubs()
	require.Len(t, m.Outputs, 1)
	stubOut := m.Outputs[0]
	assert.Equal(t, ".text.stub", stubOut.Name)

	stubOut.Addr = 0x1000
	stubOut.Size = m.Arena.AssignOffsets(stubOut.Data, func(n, align uint64) uint64 {
		if align == 0 {
			return n
		}
		return (n + align - 1) &^ (align - 1)
	})

	m.FinalizeSymbolValues()
	assert.EqualValues(t, 0x1000, stubSym.Value)

	buf := map[*section.OutputSection][]byte{
		textOut: make([]byte, 8),
		stubOut: make([]byte, stubOut.Size),
	}
	col := m.ApplyRelocations(buf)
	assert.Empty(t, col.Errors())

	insn := binary.LittleEndian.Uint32(buf[textOut][0:4])
	imm24 := int32(insn&0x00ff_ffff) << 8 >> 8
	disp := int64(imm24) << 2
	assert.EqualValues(t, int64(stubOut.Addr)-int64(textOut.Addr), disp)

	assert.Equal(t, uint32(0xe51ff004), binary.LittleEndian.Uint32(buf[stubOut][0:4]))
	assert.EqualValues(t, farSym.Value, binary.LittleEndian.Uint32(buf[stubOut][4:8]))
}
