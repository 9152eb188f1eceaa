package planstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planhub/plan"
)

// openTestProvider opens a file-backed database under a temp dir. Unlike
// :memory:, a file-backed DB shares state across all connections in the
// database/sql pool.
func openTestProvider(t *testing.T) *SQLiteProvider {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "planhub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteProvider(db)
}

func TestSQLiteProviderRoundTrip(t *testing.T) {
	provider := openTestProvider(t)
	ctx := context.Background()

	root := plan.NewPlan("durable plan")
	tree := plan.NewTree(root)
	sub := plan.NewSubroute("start", true)
	require.NoError(t, tree.AddChildWithDefaultOrdering(root.ID, sub))
	act := plan.NewActivity("tpl.sqlite", "stored activity")
	act.Storage = `{"crates":[]}`
	act.AuthTokenID = uuid.New()
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, act))

	require.NoError(t, provider.CreatePlan(ctx, tree))

	// Load by a non-root member id.
	loaded, err := provider.LoadPlan(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, loaded.RootID())
	assert.Equal(t, 3, loaded.Len())

	got := loaded.Node(act.ID)
	require.NotNil(t, got)
	assert.Equal(t, "stored activity", got.Label)
	assert.Equal(t, "tpl.sqlite", got.TemplateID)
	assert.Equal(t, act.Storage, got.Storage)
	assert.Equal(t, act.AuthTokenID, got.AuthTokenID)
	assert.Equal(t, plan.StateActive, loaded.Root().State)
	assert.True(t, loaded.Node(sub.ID).Starting)
}

func TestSQLiteProviderLoadUnknown(t *testing.T) {
	provider := openTestProvider(t)

	_, err := provider.LoadPlan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteProviderUpdate(t *testing.T) {
	provider := openTestProvider(t)
	ctx := context.Background()

	root := plan.NewPlan("p")
	tree := plan.NewTree(root)
	sub := plan.NewSubroute("s", true)
	require.NoError(t, tree.AddChildWithDefaultOrdering(root.ID, sub))
	keep := plan.NewActivity("tpl.keep", "keep")
	doomed := plan.NewActivity("tpl.doomed", "doomed")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, keep))
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, doomed))
	require.NoError(t, provider.CreatePlan(ctx, tree))

	snap := plan.TakeSnapshot(tree)
	tree.Node(keep.ID).Storage = `{"crates":[]}`
	require.NoError(t, tree.Detach(doomed.ID))
	added := plan.NewActivity("tpl.added", "added")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, added))

	require.NoError(t, provider.Update(ctx, root.ID, snap.Compare(tree)))

	loaded, err := provider.LoadPlan(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"crates":[]}`, loaded.Node(keep.ID).Storage)
	assert.False(t, loaded.Contains(doomed.ID))
	assert.True(t, loaded.Contains(added.ID))

	// A removed node no longer resolves as a member.
	_, err = provider.LoadPlan(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteProviderUpdateMissingNode(t *testing.T) {
	provider := openTestProvider(t)
	ctx := context.Background()

	root := plan.NewPlan("p")
	tree := plan.NewTree(root)
	require.NoError(t, provider.CreatePlan(ctx, tree))

	ghost := plan.Node{ID: uuid.New(), ParentID: root.ID, Kind: plan.KindActivity}
	err := provider.Update(ctx, root.ID, plan.Changes{Updated: []plan.Node{ghost}})
	assert.ErrorIs(t, err, ErrNotFound)
}
