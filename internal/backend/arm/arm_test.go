package arm_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/backend"
	"github.com/nyxlink/rvld/internal/backend/arm"
)

func TestBranchReachIsBounded(t *testing.T) {
	r := arm.New().Relocator()
	reach, bounded := r.BranchReach(28) // R_ARM_CALL
	assert.True(t, bounded)
	assert.EqualValues(t, 1<<25, reach)
}

func TestApplyOverflowReturnsError(t *testing.T) {
	r := arm.New().Relocator()
	loc := make([]byte, 4)
	err := r.Apply(loc, 28, backend.RelocContext{S: 0x10000000, A: 0, P: 0})
	require.Error(t, err)
}

func TestApplyPacksWordOffsetIntoLow24Bits(t *testing.T) {
	r := arm.New().Relocator()
	loc := make([]byte, 4)
	binary.LittleEndian.PutUint32(loc, 0xeb000000) // BL opcode, no offset yet
	err := r.Apply(loc, 28, backend.RelocContext{S: 0x1008, A: 0, P: 0x1000})
	require.NoError(t, err)
	insn := binary.LittleEndian.Uint32(loc)
	assert.EqualValues(t, 0xeb000000|((0x8>>2)&0x00ffffff), insn)
}

func TestAbs32PlainWrite(t *testing.T) {
	r := arm.New().Relocator()
	loc := make([]byte, 4)
	err := r.Apply(loc, 2, backend.RelocContext{S: 0x2000, A: 4}) // R_ARM_ABS32
	require.NoError(t, err)
	assert.EqualValues(t, 0x2004, binary.LittleEndian.Uint32(loc))
}

func TestStubPrototypeEncodesLdrPcLiteral(t *testing.T) {
	proto := arm.New().StubPrototype()
	require.NotNil(t, proto)
	assert.EqualValues(t, 8, proto.Size())
	assert.EqualValues(t, 4, proto.Align())

	buf := proto.Encode(0x5000, 0x600000)
	require.Len(t, buf, 8)
	assert.EqualValues(t, 0xe51ff004, binary.LittleEndian.Uint32(buf[0:4]))
	assert.EqualValues(t, 0x600000, binary.LittleEndian.Uint32(buf[4:8]))
}
