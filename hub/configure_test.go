package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/planhub/crate"
	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/terminal"
)

func TestConfigureMergesAndAppliesTerminalResult(t *testing.T) {
	h := newHarness(t)
	_, acts := h.seedPlan(t, "worker")
	act := acts[0]
	ctx := context.Background()

	returned := controlsStorage(t, crate.Control{Kind: crate.ControlTextBox, Name: "host"})
	h.caller.configureFn = func(env terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
		out := *env.Activity
		out.CrateStorage = []byte(returned)
		return &out, nil
	}

	dto, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID:    act.ID,
		Label: "renamed worker",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.caller.configureCalls)
	assert.Equal(t, []string{testEndpoint}, h.caller.endpoints)
	assert.Equal(t, "renamed worker", dto.Label)
	assert.JSONEq(t, returned, string(dto.CrateStorage))

	// The terminal's pane and the merged label are both durable.
	stored := h.provider.node(t, act.ID)
	assert.Equal(t, "renamed worker", stored.Label)
	assert.JSONEq(t, returned, stored.Storage)
}

func TestConfigurePreservesSystemOwnedFields(t *testing.T) {
	h := newHarness(t)
	tree, acts := h.seedPlan(t, "worker")
	act := acts[0]
	ctx := context.Background()

	token := uuid.New()
	tree.Node(act.ID).AuthTokenID = token
	require.NoError(t, h.provider.CreatePlan(ctx, tree))

	// The submission carries a different template and token reference; both
	// are system-owned and must not be taken from the wire.
	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID:          act.ID,
		Label:       "renamed",
		TemplateID:  "tpl.forged",
		AuthTokenID: uuid.New(),
	})
	require.NoError(t, err)

	stored := h.provider.node(t, act.ID)
	assert.Equal(t, testTemplate, stored.TemplateID)
	assert.Equal(t, token, stored.AuthTokenID)
	assert.Equal(t, "renamed", stored.Label)
}

func TestConfigureAuthShortCircuit(t *testing.T) {
	h := newHarness(t)
	_, acts := h.seedPlan(t, "worker")
	act := acts[0]
	h.auth.needed = true

	dto, err := h.config.Configure(context.Background(), testAccount, &terminal.ActivityDTO{
		ID:    act.ID,
		Label: "pre-auth label",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.caller.configureCalls, "terminal must not be called before auth")
	assert.Equal(t, "pre-auth label", dto.Label)
	// The merge itself still persisted.
	assert.Equal(t, "pre-auth label", h.provider.node(t, act.ID).Label)
}

func TestConfigureTokenInvalidated(t *testing.T) {
	h := newHarness(t)
	tree, acts := h.seedPlan(t, "worker")
	act := acts[0]
	ctx := context.Background()

	tree.Node(act.ID).AuthTokenID = uuid.New()
	require.NoError(t, h.provider.CreatePlan(ctx, tree))

	h.caller.configureFn = func(terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
		return nil, &terminal.ServiceError{
			StatusCode: terminal.StatusTokenInvalid,
			Action:     terminal.ActionConfigure,
			URL:        terminal.ActionURL(testEndpoint, terminal.ActionConfigure),
		}
	}

	dto, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{ID: act.ID, Label: "w"})
	require.NoError(t, err, "token invalidation is handled, not surfaced")
	require.NotNil(t, dto)

	assert.Equal(t, []uuid.UUID{act.ID}, h.auth.invalidated)
	assert.Equal(t, uuid.Nil, h.provider.node(t, act.ID).AuthTokenID,
		"stale token reference is cleared durably")
	assert.Equal(t, uuid.Nil, dto.AuthTokenID)
}

func TestConfigureDeletedPlan(t *testing.T) {
	h := newHarness(t)
	tree, acts := h.seedPlan(t, "worker")
	ctx := context.Background()

	tree.Root().State = plan.StateDeleted
	require.NoError(t, h.provider.CreatePlan(ctx, tree))

	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{ID: acts[0].ID})
	assert.ErrorIs(t, err, ErrPlanDeleted)
	assert.Equal(t, 0, h.caller.configureCalls)
}

func TestConfigureValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.config.Configure(ctx, testAccount, nil)
	assert.ErrorIs(t, err, ErrNilActivity)

	_, err = h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{})
	assert.ErrorIs(t, err, ErrNilActivity)
}

func TestConfigureRejectsNonActivityTarget(t *testing.T) {
	h := newHarness(t)
	tree, _ := h.seedPlan(t, "first")
	sub := tree.Children(tree.RootID())[0]
	ctx := context.Background()

	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID:           sub.ID,
		Label:        "junk label",
		CrateStorage: []byte(`{"crates":[]}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrNotActivity)
	assert.Equal(t, 0, h.caller.configureCalls)

	// The subroute keeps its record, durably and in cache.
	durable := h.provider.node(t, sub.ID)
	assert.Equal(t, "start", durable.Label)
	assert.Empty(t, durable.Storage)

	cached, err := h.plans.LoadPlan(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "start", cached.Node(sub.ID).Label)
	assert.Empty(t, cached.Node(sub.ID).Storage)
}

func TestConfigureRejectsChildTargetingSubroute(t *testing.T) {
	h := newHarness(t)
	tree, acts := h.seedPlan(t, "first")
	sub := tree.Children(tree.RootID())[0]
	ctx := context.Background()

	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID:    acts[0].ID,
		Label: "renamed",
		Children: []*terminal.ActivityDTO{
			{ID: sub.ID, Label: "sneaky"},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrNotActivity)
	assert.Equal(t, 0, h.caller.configureCalls)

	// Nothing was merged, not even the valid part of the submission.
	assert.Equal(t, "first", h.provider.node(t, acts[0].ID).Label)
	assert.Equal(t, "start", h.provider.node(t, sub.ID).Label)
}

func TestConfigureUnknownTemplate(t *testing.T) {
	h := newHarness(t)
	tree, _ := h.seedPlan(t)
	ctx := context.Background()

	sub := tree.StartingSubroute()
	stray := plan.NewActivity("tpl.unregistered", "stray")
	require.NoError(t, tree.AddChildWithDefaultOrdering(sub.ID, stray))
	require.NoError(t, h.provider.CreatePlan(ctx, tree))

	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{ID: stray.ID})
	assert.ErrorIs(t, err, terminal.ErrUnknownTemplate)
	assert.Equal(t, 0, h.caller.configureCalls)
}

func TestConfigureChildActivitiesMerged(t *testing.T) {
	h := newHarness(t)
	_, acts := h.seedPlan(t, "parent")
	act := acts[0]
	ctx := context.Background()

	child := &terminal.ActivityDTO{TemplateID: testTemplate, Label: "child"}
	dto, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID:       act.ID,
		Label:    "parent",
		Children: []*terminal.ActivityDTO{child},
	})
	require.NoError(t, err)

	require.Len(t, dto.Children, 1)
	childID := dto.Children[0].ID
	require.NotEqual(t, uuid.Nil, childID)

	stored := h.provider.node(t, childID)
	assert.Equal(t, act.ID, stored.ParentID)
	assert.Equal(t, "child", stored.Label)
}

func TestConfigureLastWriterWins(t *testing.T) {
	h := newHarness(t)
	_, acts := h.seedPlan(t, "worker")
	act := acts[0]
	ctx := context.Background()

	first := controlsStorage(t, crate.Control{Kind: crate.ControlTextBox, Name: "a", Value: "first"})
	second := controlsStorage(t, crate.Control{Kind: crate.ControlTextBox, Name: "a", Value: "second"})

	_, err := h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID: act.ID, Label: "w", CrateStorage: []byte(first),
	})
	require.NoError(t, err)
	_, err = h.config.Configure(ctx, testAccount, &terminal.ActivityDTO{
		ID: act.ID, Label: "w", CrateStorage: []byte(second),
	})
	require.NoError(t, err)

	assert.JSONEq(t, second, h.provider.node(t, act.ID).Storage)
}

func TestConfigureSerializesPerActivity(t *testing.T) {
	h := newHarness(t)
	_, acts := h.seedPlan(t, "worker")
	act := acts[0]

	var inFlight, maxInFlight int32
	h.caller.configureFn = func(env terminal.RequestEnvelope) (*terminal.ActivityDTO, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return env.Activity, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.config.Configure(context.Background(), testAccount,
				&terminal.ActivityDTO{ID: act.ID, Label: "w"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight),
		"configures of one activity never overlap")
	assert.Equal(t, 8, h.caller.configureCalls)
}
