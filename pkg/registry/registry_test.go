package registry

import (
	"testing"

	"github.com/oar-team/kamelot/pkg/procset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_HasDefault(t *testing.T) {
	r := New(0, procset.Range(1, 10))
	ss, ok := r.Get(DefaultName)
	require.True(t, ok)
	assert.Equal(t, DefaultName, ss.Name)
	assert.Equal(t, []string{DefaultName}, r.Names())
}

func TestOpenContainer_BoundedWindow(t *testing.T) {
	r := New(0, procset.Range(1, 100))
	sub := r.OpenContainer(42, 0, 3599, procset.Range(1, 16))

	got, ok := sub.IntersectWindow(0, 3599)
	require.True(t, ok)
	assert.Equal(t, "1-16", got.String())

	_, ok = sub.IntersectWindow(3600, 3600)
	assert.False(t, ok, "container sub-slotset must be empty past its finish time")

	names := r.Names()
	assert.Contains(t, names, ContainerName(42))
}

func TestTotalSlotCount(t *testing.T) {
	r := New(0, procset.Range(1, 100))
	require.NoError(t, r.Default().Subtract(0, 99, procset.Range(1, 10)))
	assert.True(t, r.TotalSlotCount() >= 2)
}
