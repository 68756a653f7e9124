package reloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/backend/riscv64"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/reloc"
	"github.com/nyxlink/rvld/internal/strmerge"
	"github.com/nyxlink/rvld/internal/symtab"
)

func alignTo(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

func TestScanCollectsGotNeedsPerSymbol(t *testing.T) {
	r := riscv64.New().Relocator()
	sym := &symtab.Symbol{Name: "g"}
	needs := reloc.Scan(r, []reloc.Rel{
		{Offset: 0, Type: 20 /* R_RISCV_GOT_HI20 */, Sym: sym},
	})
	assert.True(t, needs[sym].GOT)
	assert.False(t, needs[sym].PLT)
}

func TestScanSkipsNoneRelocs(t *testing.T) {
	r := riscv64.New().Relocator()
	sym := &symtab.Symbol{Name: "g"}
	needs := reloc.Scan(r, []reloc.Rel{
		{Offset: 0, Type: 0 /* R_RISCV_NONE */, Sym: sym},
	})
	assert.Empty(t, needs)
}

func TestSymbolValuePlainSymbol(t *testing.T) {
	r := riscv64.New().Relocator()
	arena := fragment.NewArena()
	sym := &symtab.Symbol{Name: "f", Value: 0x400}
	v, err := reloc.SymbolValue(r, arena, sym, 4, reloc.SiteInput{})
	require.NoError(t, err)
	assert.EqualValues(t, 0x400, v)
}

func TestSymbolValueResolvesThroughMergeInput(t *testing.T) {
	r := riscv64.New().Relocator()
	arena := fragment.NewArena()
	out := strmerge.NewOutput(arena)
	in := strmerge.NewInput(arena, 1)
	in.AddString([]byte("hello\x00"), 0)
	in.AddString([]byte("world\x00"), 6)
	in.MergeInto(out, true)
	out.AssignOffsets(alignTo)

	sym := &symtab.Symbol{Name: ".rodata.str", Value: 0}
	v, err := reloc.SymbolValue(r, arena, sym, 6, reloc.SiteInput{MergeInput: in})
	require.NoError(t, err)

	want, err := in.OutputOffsetFromInput(arena, 6)
	require.NoError(t, err)
	assert.Equal(t, want, v)
}

func TestApplyCollectsErrorsForUnresolvedSymbols(t *testing.T) {
	r := riscv64.New().Relocator()
	buf := make([]byte, 8)
	col := reloc.Apply(r, buf, 0, []reloc.Rel{{Offset: 0, Type: 1, Sym: nil}}, nil,
		func(rel reloc.Rel) backend.RelocContext { return backend.RelocContext{} })
	assert.NotEmpty(t, col.Errors())
}
