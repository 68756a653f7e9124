package stub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/backend/arm"
	"github.com/nyxlink/rvld/internal/fragment"
	"github.com/nyxlink/rvld/internal/stub"
)

func TestIsMyDutyOnlyForBoundedOutOfRangeBranches(t *testing.T) {
	r := arm.New().Relocator()
	// Within +/-32MiB: not this factory's duty.
	assert.False(t, stub.IsMyDuty(r, 28, 0x1000, 0x2000))
	// Far beyond +/-32MiB: is.
	assert.True(t, stub.IsMyDuty(r, 28, 0x1000, 0x10001000))
}

func TestIsMyDutyIgnoresUnboundedRelocs(t *testing.T) {
	r := arm.New().Relocator()
	assert.False(t, stub.IsMyDuty(r, 2 /* R_ARM_ABS32 */, 0, 0xffffffff))
}

func TestFindOrCloneDedupesByPrototypeAndTarget(t *testing.T) {
	arena := fragment.NewArena()
	f := stub.NewFactory(arena)
	proto := arm.New().StubPrototype()

	s1, err := f.FindOrClone(proto, "far_fn")
	require.NoError(t, err)
	s2, err := f.FindOrClone(proto, "far_fn")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, f.Count())

	s3, err := f.FindOrClone(proto, "other_fn")
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, 2, f.Count())
}

func TestFindOrCloneAllocatesOneTargetFragmentPerStub(t *testing.T) {
	arena := fragment.NewArena()
	f := stub.NewFactory(arena)
	proto := arm.New().StubPrototype()

	_, err := f.FindOrClone(proto, "a")
	require.NoError(t, err)
	_, err = f.FindOrClone(proto, "b")
	require.NoError(t, err)

	sd := arena.SectionData(f.Data())
	targets := 0
	for _, idx := range sd.Frags {
		if arena.Fragment(idx).Kind == fragment.KindTarget {
			targets++
		}
	}
	assert.Equal(t, 2, targets)
}

func TestFindOrCloneWithNilPrototypeErrors(t *testing.T) {
	arena := fragment.NewArena()
	f := stub.NewFactory(arena)
	_, err := f.FindOrClone(nil, "x")
	require.Error(t, err)
}

func TestEncodeDelegatesToPrototype(t *testing.T) {
	arena := fragment.NewArena()
	f := stub.NewFactory(arena)
	proto := arm.New().StubPrototype()

	s, err := f.FindOrClone(proto, "far_fn")
	require.NoError(t, err)

	buf := stub.Encode(arena, s.Frag, 0x1000, 0x2000)
	assert.Len(t, buf, 8)
}
