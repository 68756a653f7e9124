package diag_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxlink/rvld/internal/diag"
)

func TestFatalKinds(t *testing.T) {
	assert.True(t, diag.MultipleDefinition.Fatal())
	assert.True(t, diag.UnknownReloc.Fatal())
	assert.False(t, diag.UndefinedReference.Fatal())
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("root cause")
	e := diag.Wrap(diag.BadReloc, cause, "at offset %d", 4)
	assert.Equal(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "root cause")
	assert.Contains(t, e.Error(), "at offset 4")
}

func TestIsChecksKind(t *testing.T) {
	e := diag.New(diag.RelaxationDiverged, "boom")
	assert.True(t, diag.Is(e, diag.RelaxationDiverged))
	assert.False(t, diag.Is(e, diag.BadReloc))
}

func TestCollectorFailAggregates(t *testing.T) {
	c := &diag.Collector{}
	assert.Nil(t, c.Fail())

	c.Add(diag.New(diag.UndefinedReference, "a"))
	c.Add(diag.New(diag.UndefinedReference, "b"))
	assert.Equal(t, 2, c.Len())

	err := c.Fail()
	require.Error(t, err)
	me, ok := err.(*diag.MultiError)
	require.True(t, ok)
	assert.Len(t, me.Errs, 2)
}
