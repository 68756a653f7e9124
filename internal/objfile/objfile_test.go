package objfile_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/elfconst"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/objfile"
	"github.com/nyxlink/rvld/internal/utils"
)

// buildRel64 assembles a minimal ELF64 LE relocatable object: one .text
// SHT_PROGBITS section with 4 bytes of content, plus its .symtab/.strtab
// naming a single global defined symbol "foo" in .text, plus .shstrtab.
func buildRel64(t *testing.T) []byte {
	t.Helper()

	text := []byte{0x13, 0x00, 0x00, 0x00} // arbitrary 4 bytes

	shstrtab := []byte{0}
	shstrtabOff := map[string]uint32{}
	add := func(buf *[]byte, m map[string]uint32, name string) uint32 {
		off := uint32(len(*buf))
		m[name] = off
		*buf = append(*buf, []byte(name)...)
		*buf = append(*buf, 0)
		return off
	}
	add(&shstrtab, shstrtabOff, ".text")
	add(&shstrtab, shstrtabOff, ".symtab")
	add(&shstrtab, shstrtabOff, ".strtab")
	add(&shstrtab, shstrtabOff, ".shstrtab")

	strtab := []byte{0}
	strtabOff := map[string]uint32{}
	add(&strtab, strtabOff, "foo")

	sym := elfconst.Sym{Name: strtabOff["foo"], Shndx: 1 /* .text */, Val: 0, Size: 4}
	sym.SetBind(elfconst.STB_GLOBAL)
	sym.SetType(elfconst.STT_FUNC)
	symtabBuf := make([]byte, elfconst.SymSize*2) // null entry + foo
	utils.Write(symtabBuf[elfconst.SymSize:], sym)

	// Layout: Ehdr | text | symtab | strtab | shstrtab | shdrs
	ehdrOff := uint64(0)
	textOff := ehdrOff + elfconst.EhdrSize
	symtabOff := textOff + uint64(len(text))
	strtabOffset := symtabOff + uint64(len(symtabBuf))
	shstrtabOffset := strtabOffset + uint64(len(strtab))
	shOff := shstrtabOffset + uint64(len(shstrtab))

	shdrs := []elfconst.Shdr{
		{}, // SHN_UNDEF
		{Name: shstrtabOff[".text"], Type: 1 /* SHT_PROGBITS */, Flags: objfile.SHF_ALLOC | objfile.SHF_EXECINSTR, Offset: textOff, Size: uint64(len(text)), AddrAlign: 1},
		{Name: shstrtabOff[".symtab"], Type: objfile.SHT_SYMTAB, Offset: symtabOff, Size: uint64(len(symtabBuf)), Link: 3, Info: 1, EntSize: elfconst.SymSize},
		{Name: shstrtabOff[".strtab"], Type: objfile.SHT_STRTAB, Offset: strtabOffset, Size: uint64(len(strtab))},
		{Name: shstrtabOff[".shstrtab"], Type: objfile.SHT_STRTAB, Offset: shstrtabOffset, Size: uint64(len(shstrtab))},
	}

	ehdr := elfconst.Ehdr{
		Type: objfile.ET_REL, Machine: 0xf3, /* EM_RISCV */
		EhSize: elfconst.EhdrSize, ShOff: shOff,
		ShEntSize: elfconst.ShdrSize, ShNum: uint16(len(shdrs)), ShStrndx: 4,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[4] = 2 // ELFCLASS64

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

func TestParseRejectsTooSmall(t *testing.T) {
	_, err := objfile.Parse("x.o", []byte{1, 2, 3}, fragment.NewArena())
	require.Error(t, err)
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := make([]byte, elfconst.EhdrSize)
	_, err := objfile.Parse("x.o", raw, fragment.NewArena())
	require.Error(t, err)
}

func TestParseReadsSectionsAndSymbols(t *testing.T) {
	raw := buildRel64(t)
	arena := fragment.NewArena()
	f, err := objfile.Parse("x.o", raw, arena)
	require.NoError(t, err)

	assert.Equal(t, 64, f.BitClass)
	assert.True(t, f.LittleEndian)
	assert.False(t, f.IsShared)

	require.NotNil(t, f.Sections[1])
	assert.Equal(t, ".text", f.Sections[1].Name)
	assert.EqualValues(t, 4, f.Sections[1].Size)

	require.Len(t, f.Symbols, 2)
	assert.Equal(t, "foo", f.Symbols[1].Name)
	assert.Equal(t, 1, f.FirstGlobal)
}
