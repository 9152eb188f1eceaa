package planstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planhub/plan"
)

// fakeProvider is an in-memory Provider with injectable failures.
type fakeProvider struct {
	mu       sync.Mutex
	plans    map[uuid.UUID][]plan.Node
	memberOf map[uuid.UUID]uuid.UUID

	loads     int
	updateErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		plans:    map[uuid.UUID][]plan.Node{},
		memberOf: map[uuid.UUID]uuid.UUID{},
	}
}

func (p *fakeProvider) LoadPlan(_ context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++

	planID, ok := p.memberOf[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return plan.FromNodes(planID, p.plans[planID])
}

func (p *fakeProvider) CreatePlan(_ context.Context, tree *plan.Tree) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.store(tree)
	return nil
}

func (p *fakeProvider) Update(_ context.Context, planID uuid.UUID, changes plan.Changes) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.updateErr != nil {
		return p.updateErr
	}
	tree, err := plan.FromNodes(planID, p.plans[planID])
	if err != nil {
		return err
	}
	if err := tree.ApplyChanges(changes); err != nil {
		return err
	}
	p.store(tree)
	for _, id := range changes.Removed {
		delete(p.memberOf, id)
	}
	return nil
}

func (p *fakeProvider) store(tree *plan.Tree) {
	nodes := tree.Nodes()
	p.plans[tree.RootID()] = nodes
	for _, n := range nodes {
		p.memberOf[n.ID] = tree.RootID()
	}
}

// seedPlan persists a small plan through the provider and returns its parts.
func seedPlan(t *testing.T, p *fakeProvider) (tree *plan.Tree, sub, act *plan.Node) {
	t.Helper()

	root := plan.NewPlan("seeded")
	tree = plan.NewTree(root)
	sub = plan.NewSubroute("start", true)
	require.NoError(t, tree.AddChildWithDefaultOrdering(root.ID, sub))
	act = plan.NewActivity("tpl.seed", "seeded activity")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, act))

	require.NoError(t, p.CreatePlan(context.Background(), tree))
	return tree, sub, act
}

func TestLoadPlanCachesByAnyMember(t *testing.T) {
	provider := newFakeProvider()
	_, _, act := seedPlan(t, provider)
	storage := NewPlanStorage(provider)
	ctx := context.Background()

	first, err := storage.LoadPlan(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.loads)

	// Loading again, by the root this time, hits the cache.
	second, err := storage.LoadPlan(ctx, first.RootID())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.loads)
	assert.Same(t, first, second)
}

func TestLoadPlanUnknownMember(t *testing.T) {
	storage := NewPlanStorage(newFakeProvider())

	_, err := storage.LoadPlan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateWritesProviderBeforeCache(t *testing.T) {
	provider := newFakeProvider()
	seeded, _, act := seedPlan(t, provider)
	storage := NewPlanStorage(provider)
	ctx := context.Background()

	cached, err := storage.LoadPlan(ctx, act.ID)
	require.NoError(t, err)

	snap := plan.TakeSnapshot(seeded)
	seeded.Node(act.ID).Label = "renamed"
	changes := snap.Compare(seeded)

	provider.updateErr = assert.AnError
	err = storage.Update(ctx, seeded.RootID(), changes)
	require.Error(t, err)
	assert.Equal(t, "seeded activity", cached.Node(act.ID).Label,
		"failed durable write leaves the cache untouched")

	provider.updateErr = nil
	require.NoError(t, storage.Update(ctx, seeded.RootID(), changes))
	assert.Equal(t, "renamed", cached.Node(act.ID).Label)

	// Durable state agrees after a cold reload.
	reloaded, err := storage.Reload(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Node(act.ID).Label)
}

func TestUpdateEmptyDiffIsNoOp(t *testing.T) {
	provider := newFakeProvider()
	seeded, _, _ := seedPlan(t, provider)
	storage := NewPlanStorage(provider)

	provider.updateErr = assert.AnError
	err := storage.Update(context.Background(), seeded.RootID(), plan.Changes{})
	assert.NoError(t, err, "empty diff never reaches the provider")
}

func TestUpdateElement(t *testing.T) {
	provider := newFakeProvider()
	_, _, act := seedPlan(t, provider)
	storage := NewPlanStorage(provider)
	ctx := context.Background()

	cached, err := storage.LoadPlan(ctx, act.ID)
	require.NoError(t, err)

	storage.UpdateElement(act.ID, func(n *plan.Node) {
		n.AuthTokenID = uuid.Nil
		n.Label = "touched"
	})
	assert.Equal(t, "touched", cached.Node(act.ID).Label)

	// Unknown ids are ignored.
	storage.UpdateElement(uuid.New(), func(n *plan.Node) { n.Label = "never" })
}

func TestEvictForcesReload(t *testing.T) {
	provider := newFakeProvider()
	seeded, _, act := seedPlan(t, provider)
	storage := NewPlanStorage(provider)
	ctx := context.Background()

	_, err := storage.LoadPlan(ctx, act.ID)
	require.NoError(t, err)
	require.Equal(t, 1, provider.loads)

	storage.Evict(seeded.RootID())

	_, err = storage.LoadPlan(ctx, act.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.loads)
}

func TestCreatePlanInstallsInCache(t *testing.T) {
	provider := newFakeProvider()
	storage := NewPlanStorage(provider)
	ctx := context.Background()

	root := plan.NewPlan("fresh")
	tree := plan.NewTree(root)
	require.NoError(t, storage.CreatePlan(ctx, tree))

	got, err := storage.LoadPlan(ctx, root.ID)
	require.NoError(t, err)
	assert.Same(t, tree, got)
	assert.Equal(t, 0, provider.loads)
}
