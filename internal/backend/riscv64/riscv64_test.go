package riscv64_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/backend/riscv64"
)

func TestAbs32WritesSPlusA(t *testing.T) {
	be := riscv64.New()
	loc := make([]byte, 4)
	err := be.Relocator().Apply(loc, 1 /* R_RISCV_32 */, backend.RelocContext{S: 0x1000, A: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 0x1004, uint32(loc[0])|uint32(loc[1])<<8|uint32(loc[2])<<16|uint32(loc[3])<<24)
}

func TestNoneAndRelaxAreIgnored(t *testing.T) {
	r := riscv64.New().Relocator()
	assert.True(t, r.IsNone(0))  // R_RISCV_NONE
	assert.True(t, r.IsNone(51)) // R_RISCV_RELAX
	assert.False(t, r.IsNone(1))
}

func TestGotAndPltNeeds(t *testing.T) {
	r := riscv64.New().Relocator()
	assert.True(t, r.NeedsGot(20))  // R_RISCV_GOT_HI20
	assert.True(t, r.NeedsPlt(19))  // R_RISCV_CALL_PLT
	assert.False(t, r.NeedsPlt(18)) // R_RISCV_CALL (no PLT)
}

func TestUnknownRelocReturnsError(t *testing.T) {
	r := riscv64.New().Relocator()
	loc := make([]byte, 8)
	err := r.Apply(loc, 9999, backend.RelocContext{})
	require.Error(t, err)
}

func TestBranchReachIsUnboundedInThisSubset(t *testing.T) {
	r := riscv64.New().Relocator()
	reach, bounded := r.BranchReach(16) // R_RISCV_BRANCH
	assert.False(t, bounded)
	assert.Zero(t, reach)
}

func TestNoStubPrototype(t *testing.T) {
	assert.Nil(t, riscv64.New().StubPrototype())
}
