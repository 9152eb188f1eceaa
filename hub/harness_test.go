package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planhub/crate"
	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/planstore"
	"github.com/c360studio/planhub/terminal"
)

const (
	testEndpoint = "http://terminal.local"
	testTemplate = "tpl.echo"
	testAccount  = "acct-1"
)

// memProvider is an in-memory planstore.Provider for service tests.
type memProvider struct {
	mu       sync.Mutex
	plans    map[uuid.UUID][]plan.Node
	memberOf map[uuid.UUID]uuid.UUID
}

func newMemProvider() *memProvider {
	return &memProvider{
		plans:    map[uuid.UUID][]plan.Node{},
		memberOf: map[uuid.UUID]uuid.UUID{},
	}
}

func (p *memProvider) LoadPlan(_ context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	planID, ok := p.memberOf[memberID]
	if !ok {
		return nil, planstore.ErrNotFound
	}
	return plan.FromNodes(planID, p.plans[planID])
}

func (p *memProvider) CreatePlan(_ context.Context, tree *plan.Tree) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store(tree)
	return nil
}

func (p *memProvider) Update(_ context.Context, planID uuid.UUID, changes plan.Changes) error {
	p.mu.Lock()
	defer p.mu.Unlock()

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

func (p *memProvider) store(tree *plan.Tree) {
	nodes := tree.Nodes()
	p.plans[tree.RootID()] = nodes
	for _, n := range nodes {
		p.memberOf[n.ID] = tree.RootID()
	}
}

// node returns the durably stored copy of one node.
func (p *memProvider) node(t *testing.T, id uuid.UUID) plan.Node {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	planID, ok := p.memberOf[id]
	require.True(t, ok, "node %s not persisted", id)
	for _, n := range p.plans[planID] {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s indexed but missing from plan %s", id, planID)
	return plan.Node{}
}

func (p *memProvider) contains(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.memberOf[id]
	return ok
}

// fakeCaller is a scriptable TerminalCaller. Unset hooks echo the request.
type fakeCaller struct {
	mu sync.Mutex

	configureFn func(env terminal.RequestEnvelope) (*terminal.ActivityDTO, error)
	runFn       func(action string, env terminal.RequestEnvelope) (*terminal.PayloadDTO, error)

	configureCalls int
	endpoints      []string
	runActions     []string
	runActivities  []uuid.UUID
}

func (f *fakeCaller) Configure(_ context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
	f.mu.Lock()
	f.configureCalls++
	f.endpoints = append(f.endpoints, endpoint)
	fn := f.configureFn
	f.mu.Unlock()

	if fn != nil {
		return fn(env)
	}
	return env.Activity, nil
}

func (f *fakeCaller) Activate(_ context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()
	return env.Activity, nil
}

func (f *fakeCaller) Deactivate(_ context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()
	return env.Activity, nil
}

func (f *fakeCaller) Run(_ context.Context, endpoint, action string, env terminal.RequestEnvelope) (*terminal.PayloadDTO, error) {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.runActions = append(f.runActions, action)
	f.runActivities = append(f.runActivities, env.Activity.ID)
	fn := f.runFn
	f.mu.Unlock()

	if fn != nil {
		return fn(action, env)
	}
	return &terminal.PayloadDTO{ContainerID: env.ContainerID, Response: terminal.ResponseSuccess}, nil
}

// fakeAuth is a scriptable Authorizer.
type fakeAuth struct {
	mu          sync.Mutex
	needed      bool
	neededErr   error
	invalidated []uuid.UUID
}

func (f *fakeAuth) AuthenticationNeeded(_ context.Context, _ string, _ *plan.Node) (bool, error) {
	return f.needed, f.neededErr
}

func (f *fakeAuth) InvalidateToken(_ context.Context, _ string, node *plan.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, node.ID)
	return nil
}

// memContainers is an in-memory ContainerStore.
type memContainers struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]Container
	saves int
}

func newMemContainers() *memContainers {
	return &memContainers{byID: map[uuid.UUID]Container{}}
}

func (m *memContainers) Get(_ context.Context, id uuid.UUID) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrContainerNotFound
	}
	copied := c
	return &copied, nil
}

func (m *memContainers) Create(_ context.Context, c *Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[c.ID] = *c
	return nil
}

func (m *memContainers) Save(_ context.Context, c *Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		return ErrContainerNotFound
	}
	m.byID[c.ID] = *c
	m.saves++
	return nil
}

// harness wires the hub services over in-memory fakes.
type harness struct {
	provider   *memProvider
	plans      *planstore.PlanStorage
	caller     *fakeCaller
	auth       *fakeAuth
	containers *memContainers

	config    *ConfigurationService
	execution *ExecutionService
	deletion  *DeletionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		provider:   newMemProvider(),
		caller:     &fakeCaller{},
		auth:       &fakeAuth{},
		containers: newMemContainers(),
	}
	h.plans = planstore.NewPlanStorage(h.provider)

	registry := terminal.NewRegistry(terminal.Terminal{
		Name:      "echo-terminal",
		Endpoint:  testEndpoint,
		Templates: []string{testTemplate},
	})
	events := NewEvents(nil, "test", nil)

	h.config = NewConfigurationService(h.plans, registry, h.caller, h.auth, events, nil)
	h.execution = NewExecutionService(h.plans, registry, h.caller, h.containers, events, nil)
	h.deletion = NewDeletionService(h.plans, events, nil)
	return h
}

// seedPlan persists a plan with one starting subroute holding activities of
// the registered template, in order.
func (h *harness) seedPlan(t *testing.T, labels ...string) (tree *plan.Tree, acts []*plan.Node) {
	t.Helper()

	root := plan.NewPlan("seeded")
	tree = plan.NewTree(root)
	sub := plan.NewSubroute("start", true)
	require.NoError(t, tree.AddChildWithDefaultOrdering(root.ID, sub))

	for _, label := range labels {
		act := plan.NewActivity(testTemplate, label)
		require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, act))
		acts = append(acts, act)
	}

	require.NoError(t, h.provider.CreatePlan(context.Background(), tree))
	return tree, acts
}

// controlsStorage serializes a storage holding one configuration-controls
// crate with the given controls.
func controlsStorage(t *testing.T, controls ...crate.Control) string {
	t.Helper()

	s := &crate.Storage{}
	c, err := crate.New("controls", crate.ConfigurationControls{Controls: controls})
	require.NoError(t, err)
	s.Add(c)

	raw, err := s.Serialize()
	require.NoError(t, err)
	return raw
}

// decodeControls parses serialized storage and returns its first
// configuration-controls contents.
func decodeControls(t *testing.T, raw string) crate.ConfigurationControls {
	t.Helper()

	s, err := crate.Parse(raw)
	require.NoError(t, err)
	decoded, err := crate.ContentsOf[crate.ConfigurationControls](s, nil)
	require.NoError(t, err)
	require.NotEmpty(t, decoded)
	return decoded[0]
}
