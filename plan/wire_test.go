package plan

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodesRoundTrip(t *testing.T) {
	tree, _, _, _, _, _, _ := buildSmallPlan(t)

	flat := tree.Nodes()
	require.Len(t, flat, tree.Len())

	rebuilt, err := FromNodes(tree.RootID(), flat)
	require.NoError(t, err)

	want := tree.Linearize(tree.RootID())
	got := rebuilt.Linearize(rebuilt.RootID())
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, *want[i], *got[i], "position %d", i)
	}
}

func TestFromNodesShuffledOrder(t *testing.T) {
	tree, _, _, _, _, _, _ := buildSmallPlan(t)

	flat := tree.Nodes()
	// Reverse the list so children arrive before their parents.
	for i, j := 0, len(flat)-1; i < j; i, j = i+1, j-1 {
		flat[i], flat[j] = flat[j], flat[i]
	}

	rebuilt, err := FromNodes(tree.RootID(), flat)
	require.NoError(t, err)
	assert.Equal(t, tree.Len(), rebuilt.Len())

	// Sibling ordering is restored from the Ordering field.
	children := rebuilt.Children(rebuilt.RootID())
	require.Len(t, children, 2)
	assert.True(t, children[0].Ordering < children[1].Ordering)
}

func TestFromNodesErrors(t *testing.T) {
	tree, _, _, a1, _, _, _ := buildSmallPlan(t)
	flat := tree.Nodes()

	t.Run("missing root", func(t *testing.T) {
		_, err := FromNodes(uuid.New(), flat)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("orphan node", func(t *testing.T) {
		orphan := Node{ID: uuid.New(), ParentID: uuid.New(), Kind: KindActivity}
		_, err := FromNodes(tree.RootID(), append(flat, orphan))
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		var dup Node
		for _, n := range flat {
			if n.ID == a1.ID {
				dup = n
			}
		}
		_, err := FromNodes(tree.RootID(), append(flat, dup))
		assert.ErrorIs(t, err, ErrDuplicateNode)
	})
}
