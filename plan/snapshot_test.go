package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNoChanges(t *testing.T) {
	tree, _, _, _, _, _, _ := buildSmallPlan(t)

	snap := TakeSnapshot(tree)
	changes := snap.Compare(tree)

	assert.False(t, changes.HasChanges())
}

func TestCompareUpdated(t *testing.T) {
	tree, _, _, a1, _, _, _ := buildSmallPlan(t)
	snap := TakeSnapshot(tree)

	tree.Node(a1.ID).Storage = `{"crates":[]}`

	changes := snap.Compare(tree)
	require.Len(t, changes.Updated, 1)
	assert.Equal(t, a1.ID, changes.Updated[0].ID)
	assert.Empty(t, changes.Added)
	assert.Empty(t, changes.Removed)
}

func TestCompareAddedParentsFirst(t *testing.T) {
	tree, _, _, _, _, _, _ := buildSmallPlan(t)
	snap := TakeSnapshot(tree)

	// Add a whole new branch: the diff must list the subroute before its
	// activity so the changes can be replayed in one pass.
	sub := NewSubroute("third", false)
	require.NoError(t, tree.AddChildWithDefaultOrdering(tree.RootID(), sub))
	act := NewActivity("tpl.new", "fresh")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, act))

	changes := snap.Compare(tree)
	require.Len(t, changes.Added, 2)
	assert.Equal(t, sub.ID, changes.Added[0].ID)
	assert.Equal(t, act.ID, changes.Added[1].ID)
}

func TestCompareRemoved(t *testing.T) {
	tree, _, sub2, _, _, _, b1 := buildSmallPlan(t)
	snap := TakeSnapshot(tree)

	require.NoError(t, tree.Detach(sub2.ID))

	changes := snap.Compare(tree)
	assert.Len(t, changes.Removed, 2)
	assert.Contains(t, changes.Removed, sub2.ID)
	assert.Contains(t, changes.Removed, b1.ID)
}

func TestCompareReplaysOntoClone(t *testing.T) {
	tree, sub1, _, a1, _, _, _ := buildSmallPlan(t)
	before := tree.Clone()
	snap := TakeSnapshot(tree)

	tree.Node(a1.ID).Label = "edited"
	fresh := NewActivity("tpl.new", "fresh")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub1.ID, fresh))

	changes := snap.Compare(tree)
	require.NoError(t, before.ApplyChanges(changes))

	assert.Equal(t, "edited", before.Node(a1.ID).Label)
	assert.True(t, before.Contains(fresh.ID))
	assert.Equal(t, tree.Len(), before.Len())
}
