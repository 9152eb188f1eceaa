package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/authz"
	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/planstore"
	"github.com/c360studio/planhub/terminal"
)

// TerminalCaller is the slice of the terminal client the hub services use.
type TerminalCaller interface {
	Configure(ctx context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error)
	Activate(ctx context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error)
	Deactivate(ctx context.Context, endpoint string, env terminal.RequestEnvelope) (*terminal.ActivityDTO, error)
	Run(ctx context.Context, endpoint, action string, env terminal.RequestEnvelope) (*terminal.PayloadDTO, error)
}

// ConfigurationService orchestrates the configure round-trip with a remote
// terminal: merge the submitted subtree, call the terminal, apply the
// result, persist. Concurrent configures of the same activity are strictly
// serialized by a per-id lock; different activities proceed in parallel.
type ConfigurationService struct {
	plans     *planstore.PlanStorage
	terminals *terminal.Registry
	caller    TerminalCaller
	auth      authz.Authorizer
	events    *Events
	locks     *KeyedLock
	logger    *slog.Logger
}

// NewConfigurationService creates a configuration service.
func NewConfigurationService(
	plans *planstore.PlanStorage,
	terminals *terminal.Registry,
	caller TerminalCaller,
	auth authz.Authorizer,
	events *Events,
	logger *slog.Logger,
) *ConfigurationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigurationService{
		plans:     plans,
		terminals: terminals,
		caller:    caller,
		auth:      auth,
		events:    events,
		locks:     NewKeyedLock(),
		logger:    logger,
	}
}

// Configure runs the full configure protocol for the submitted activity
// subtree. The returned DTO reflects persisted state: the terminal's result
// on success, or the pre-call state when authentication is required or the
// terminal invalidated the token.
func (s *ConfigurationService) Configure(ctx context.Context, accountID string, submitted *terminal.ActivityDTO) (*terminal.ActivityDTO, error) {
	if submitted == nil {
		return nil, ErrNilActivity
	}
	if submitted.ID == uuid.Nil {
		return nil, fmt.Errorf("configure: %w: activity id is required", ErrNilActivity)
	}

	release, err := s.locks.Lock(ctx, submitted.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	tree, err := s.plans.LoadPlan(ctx, submitted.ID)
	if err != nil {
		return nil, fmt.Errorf("load plan for activity %s: %w", submitted.ID, err)
	}

	if tree.Root().State == plan.StateDeleted {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      terminal.ActionConfigure,
			TerminalURL: s.resolveURLForEvent(submitted.TemplateID, terminal.ActionConfigure),
			ActivityID:  submitted.ID,
			Message:     "cannot configure an activity of a deleted plan",
		})
		return nil, fmt.Errorf("configure activity %s: %w", submitted.ID, ErrPlanDeleted)
	}

	if err := s.merge(ctx, tree, submitted); err != nil {
		return nil, err
	}
	node := tree.Node(submitted.ID)

	needed, err := s.auth.AuthenticationNeeded(ctx, accountID, node)
	if err != nil {
		return nil, fmt.Errorf("check authentication for activity %s: %w", node.ID, err)
	}
	if needed {
		// Terminal call skipped; the caller redirects through an auth flow.
		return terminal.ActivityFromTree(tree, node.ID)
	}

	result, err := s.callConfigure(ctx, accountID, tree, node)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// Token invalidated: handled, return the pre-call state.
		return terminal.ActivityFromTree(tree, node.ID)
	}

	if err := s.applyResult(ctx, tree, node, result); err != nil {
		return nil, err
	}

	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:      StageConfigured,
		ActivityID: node.ID,
	})
	return terminal.ActivityFromTree(tree, node.ID)
}

// callConfigure issues the terminal RPC. A nil result with nil error means
// the terminal invalidated the token and the condition was handled.
func (s *ConfigurationService) callConfigure(ctx context.Context, accountID string, tree *plan.Tree, node *plan.Node) (*terminal.ActivityDTO, error) {
	endpoint, err := s.terminals.EndpointFor(node.TemplateID)
	if err != nil {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      terminal.ActionConfigure,
			TerminalURL: terminal.NoTerminalURL,
			ActivityID:  node.ID,
			Message:     err.Error(),
		})
		return nil, fmt.Errorf("resolve terminal for activity %s: %w", node.ID, err)
	}

	dto, err := terminal.ActivityFromTree(tree, node.ID)
	if err != nil {
		return nil, err
	}
	env := terminal.RequestEnvelope{Activity: dto}

	result, err := s.caller.Configure(ctx, endpoint, env)
	if err != nil {
		if terminal.IsTokenInvalid(err) {
			if aerr := s.auth.InvalidateToken(ctx, accountID, node); aerr != nil {
				s.logger.Warn("Failed to invalidate token",
					"activity_id", node.ID, "error", aerr)
			}
			s.clearTokenReference(ctx, tree, node)
			return nil, nil
		}

		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      terminal.ActionConfigure,
			TerminalURL: terminal.ActionURL(endpoint, terminal.ActionConfigure),
			ActivityID:  node.ID,
			Request:     marshalForEvent(env),
			Message:     err.Error(),
		})
		return nil, fmt.Errorf("configure activity %s: %w", node.ID, err)
	}
	return result, nil
}

// merge folds the submitted subtree into the persisted tree. Known nodes
// take the submission's label, storage, and ordering but keep system-owned
// fields (the template reference and authorization token) from the persisted
// record; unknown nodes are inserted for their first-ever configuration.
func (s *ConfigurationService) merge(ctx context.Context, tree *plan.Tree, submitted *terminal.ActivityDTO) error {
	assignIDs(submitted)

	// Every submitted id that resolves must resolve to an activity. Checked
	// before any mutation so a bad reference cannot damage the tree.
	flattened := submitted.Flatten()
	for _, n := range flattened {
		if existing := tree.Node(n.ID); existing != nil && !existing.IsActivity() {
			return fmt.Errorf("merge %s: %w", n.ID, plan.ErrNotActivity)
		}
	}

	snap := plan.TakeSnapshot(tree)

	for _, n := range flattened {
		existing := tree.Node(n.ID)
		if existing != nil {
			updateNodeProperties(existing, n)
			continue
		}
		if !tree.Contains(n.ParentID) {
			return fmt.Errorf("merge activity %s: %w: parent %s", n.ID, plan.ErrNodeNotFound, n.ParentID)
		}
		record := n
		if err := addWithOrdering(tree, &record); err != nil {
			return fmt.Errorf("merge activity %s: %w", n.ID, err)
		}
	}

	if err := s.plans.Update(ctx, tree.RootID(), snap.Compare(tree)); err != nil {
		return fmt.Errorf("persist merged activity %s: %w", submitted.ID, err)
	}
	return nil
}

// applyResult maps the terminal's returned DTO back onto the tree and
// persists the diff.
func (s *ConfigurationService) applyResult(ctx context.Context, tree *plan.Tree, node *plan.Node, result *terminal.ActivityDTO) error {
	snap := plan.TakeSnapshot(tree)

	for _, n := range result.Flatten() {
		existing := tree.Node(n.ID)
		if existing != nil {
			updateNodeProperties(existing, n)
			continue
		}
		record := n
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if !tree.Contains(record.ParentID) {
			continue // Terminal referenced a parent the plan doesn't hold.
		}
		if err := addWithOrdering(tree, &record); err != nil {
			return fmt.Errorf("apply configure result for %s: %w", node.ID, err)
		}
	}

	if err := s.plans.Update(ctx, tree.RootID(), snap.Compare(tree)); err != nil {
		return fmt.Errorf("persist configure result for %s: %w", node.ID, err)
	}
	return nil
}

// clearTokenReference drops the activity's token reference so the next
// configure asks for re-auth.
func (s *ConfigurationService) clearTokenReference(ctx context.Context, tree *plan.Tree, node *plan.Node) {
	snap := plan.TakeSnapshot(tree)
	node.AuthTokenID = uuid.Nil
	if err := s.plans.Update(ctx, tree.RootID(), snap.Compare(tree)); err != nil {
		s.logger.Warn("Failed to clear token reference",
			"activity_id", node.ID, "error", err)
	}
}

// updateNodeProperties copies the caller-owned fields onto the persisted
// record. The template reference is immutable post-creation and the token
// reference is system-owned; neither is taken from the incoming copy.
func updateNodeProperties(existing *plan.Node, incoming plan.Node) {
	existing.Label = incoming.Label
	existing.Storage = incoming.Storage
	if incoming.Ordering > 0 {
		existing.Ordering = incoming.Ordering
	}
}

// addWithOrdering inserts a node, honoring an explicit positive ordering and
// falling back to default ordering otherwise.
func addWithOrdering(tree *plan.Tree, n *plan.Node) error {
	if n.Ordering <= 0 {
		return tree.AddChildWithDefaultOrdering(n.ParentID, n)
	}
	return tree.AddChild(n.ParentID, n)
}

// assignIDs gives fresh identifiers to submitted nodes that lack one.
func assignIDs(dto *terminal.ActivityDTO) {
	if dto.ID == uuid.Nil {
		dto.ID = uuid.New()
	}
	for _, child := range dto.Children {
		assignIDs(child)
	}
}

func (s *ConfigurationService) resolveURLForEvent(templateID, action string) string {
	endpoint, err := s.terminals.EndpointFor(templateID)
	if err != nil {
		return terminal.NoTerminalURL
	}
	return terminal.ActionURL(endpoint, action)
}

func marshalForEvent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
