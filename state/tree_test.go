package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeTree_QuarkAbsoluteAndAdd_Idempotent(t *testing.T) {
	// GIVEN an empty tree
	tree := NewAttributeTree()

	// WHEN the same path is added twice
	first := tree.QuarkAbsoluteAndAdd("Processes", "GPU 0", "Queues")
	second := tree.QuarkAbsoluteAndAdd("Processes", "GPU 0", "Queues")

	// THEN both calls return the same quark and no extra attribute is created
	assert.Equal(t, first, second)
	assert.Equal(t, 3, tree.NumAttributes())
}

func TestAttributeTree_QuarkRelative_MissingPath_ReturnsAttributeNotFound(t *testing.T) {
	tree := NewAttributeTree()
	parent := tree.QuarkAbsoluteAndAdd("Processes")

	q, err := tree.QuarkRelative(parent, "GPU 7")

	assert.Equal(t, InvalidQuark, q)
	assert.True(t, errors.Is(err, ErrAttributeNotFound))
	assert.Equal(t, 1, tree.NumAttributes(), "lookup must not create attributes")
	assert.Equal(t, InvalidQuark, tree.OptQuarkRelative(parent, "GPU 7"))
}

func TestAttributeTree_FullPathAndParent(t *testing.T) {
	tree := NewAttributeTree()
	q := tree.QuarkAbsoluteAndAdd("Processes", "System", "Thread 1", "API", "CallStack")

	assert.Equal(t, "Processes/System/Thread 1/API/CallStack", tree.FullPath(q))
	assert.Equal(t, "CallStack", tree.Name(q))
	assert.Equal(t, []string{"Processes", "System", "Thread 1", "API", "CallStack"}, tree.PathSegments(q))

	parent := tree.Parent(q)
	assert.Equal(t, "API", tree.Name(parent))
	root, err := tree.QuarkAbsolute("Processes")
	require.NoError(t, err)
	assert.Equal(t, RootQuark, tree.Parent(root))
}

func TestAttributeTree_SubAttributes_CreationOrder(t *testing.T) {
	tree := NewAttributeTree()
	edges := tree.QuarkAbsoluteAndAdd("Edges")
	l0 := tree.QuarkRelativeAndAdd(edges, "0")
	l1 := tree.QuarkRelativeAndAdd(edges, "1")
	nested := tree.QuarkRelativeAndAdd(l0, "detail")

	assert.Equal(t, []Quark{l0, l1}, tree.SubAttributes(edges, false))
	assert.Equal(t, []Quark{l0, nested, l1}, tree.SubAttributes(edges, true))
	assert.Empty(t, tree.SubAttributes(l1, true))
}

func TestAttributeTree_ConcurrentLookupsDuringCreation(t *testing.T) {
	// GIVEN a tree being extended by one writer
	tree := NewAttributeTree()
	base := tree.QuarkAbsoluteAndAdd("Counters")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			tree.QuarkRelativeAndAdd(base, "gpu", string(rune('a'+i%26)))
		}
	}()

	// WHEN readers look up concurrently
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = tree.FullPath(base)
				_ = tree.SubAttributes(base, true)
				_ = tree.OptQuarkRelative(base, "gpu", "a")
			}
		}()
	}
	wg.Wait()

	// THEN the tree holds exactly the distinct paths
	assert.Equal(t, 1+1+26, tree.NumAttributes())
}
