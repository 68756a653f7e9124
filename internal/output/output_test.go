package output_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/output"
	"github.com/nyxlink/rvld/internal/section"
)

func newOut(name string, typ uint32, flags uint64, align uint32, size uint64) *output.SectionChunk {
	out := &section.OutputSection{Name: name, Type: typ, Flags: flags, Align: align, Size: size}
	content := make([]byte, size)
	return output.NewSectionChunk(out, content)
}

func TestLayoutPacksAllocBeforeNonAlloc(t *testing.T) {
	text := newOut(".text", 1, 0x2|0x4, 16, 16)   // ALLOC|EXECINSTR
	data := newOut(".data", 1, 0x2|0x1, 8, 8)     // ALLOC|WRITE
	sym := newOut(".symtab", 2, 0, 8, 24)         // not ALLOC

	chunks := []output.Chunk{text, data, sym}
	size := output.Layout(chunks)

	assert.Greater(t, text.Shdr().Addr, uint64(0))
	assert.Greater(t, data.Shdr().Addr, text.Shdr().Addr)
	assert.EqualValues(t, 0, text.Shdr().Offset)
	assert.Greater(t, size, uint64(0))
	assert.GreaterOrEqual(t, sym.Shdr().Offset, data.Shdr().Offset+data.Shdr().Size)
}

func TestLayoutNobitsConsumesNoFileSpace(t *testing.T) {
	bss := newOut(".bss", 8 /* SHT_NOBITS */, 0x2|0x1, 8, 64)
	data := newOut(".data", 1, 0x2|0x1, 8, 8)
	chunks := []output.Chunk{data, bss}
	output.Layout(chunks)
	assert.Greater(t, bss.Shdr().Addr, data.Shdr().Addr)
	// bss's address advances, but its file offset equals the next chunk's
	// expected packing since SHT_NOBITS never consumes file bytes.
	assert.Equal(t, bss.Shdr().Addr-data.Shdr().Addr, bss.Shdr().Offset-data.Shdr().Offset)
}

func TestSortChunksOrdersNonAllocLast(t *testing.T) {
	text := newOut(".text", 1, 0x2|0x4, 16, 16)
	sym := newOut(".symtab", 2, 0, 8, 24)
	data := newOut(".data", 1, 0x2|0x1, 8, 8)

	chunks := []output.Chunk{sym, data, text}
	output.SortChunks(chunks)
	last := chunks[len(chunks)-1]
	assert.Same(t, sym, last)
}

func TestBuildEhdrFieldsRoundtrip(t *testing.T) {
	e := output.BuildEhdr(0x401000, 2, 0xf3, 64, 2, 200, 5, 4)
	assert.EqualValues(t, 0x7f, e.Ident[0])
	assert.Equal(t, byte('E'), e.Ident[1])
	assert.EqualValues(t, 0x401000, e.Entry)
	assert.EqualValues(t, 2, e.Type)
	assert.EqualValues(t, 2, e.PhNum)
	assert.EqualValues(t, 5, e.ShNum)
	assert.EqualValues(t, 4, e.ShStrndx)
}

func TestBuildProgramHeadersMergesContiguousSamePermission(t *testing.T) {
	text1 := newOut(".text", 1, 0x2|0x4, 16, 16)
	text2 := newOut(".text2", 1, 0x2|0x4, 16, 16)
	data := newOut(".data", 1, 0x2|0x1, 8, 8)
	chunks := []output.Chunk{text1, text2, data}
	output.Layout(chunks)

	phdrs := output.BuildProgramHeaders(chunks)
	require.Len(t, phdrs, 2) // text1+text2 merge (same perm, contiguous); data differs
	assert.EqualValues(t, text1.Shdr().Size+text2.Shdr().Size, phdrs[0].FileSize)
}

func TestNamePoolOffsetsAreNulSeparated(t *testing.T) {
	pool, offsets := output.NamePool([]string{".text", ".data"})
	require.Len(t, offsets, 2)
	assert.EqualValues(t, 1, offsets[0])
	assert.EqualValues(t, 1+len(".text")+1, offsets[1])
	assert.Equal(t, byte(0), pool[0])
}
