package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_UnmatchedDispatch_NoEdge(t *testing.T) {
	// GIVEN a dispatch nobody completes
	c := NewCorrelator()
	c.Dispatch(7, thread, 3)

	// WHEN a completion with another id arrives
	_, ok := c.Complete(8, queue, 9)

	// THEN nothing matches and the dispatch stays pending
	assert.False(t, ok)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 1, c.Orphans())
	assert.Equal(t, 0, c.Completed())
}

func TestCorrelator_SameID_FIFO(t *testing.T) {
	c := NewCorrelator()
	c.Dispatch(1, thread, 2)
	c.Dispatch(1, thread, 5)

	first, ok := c.Complete(1, queue, 7)
	require.True(t, ok)
	second, ok := c.Complete(1, queue, 8)
	require.True(t, ok)

	assert.Equal(t, int64(2), first.Start)
	assert.Equal(t, int64(5), second.Start)
	assert.Equal(t, 0, c.Pending())
	_, ok = c.Complete(1, queue, 9)
	assert.False(t, ok)
}
