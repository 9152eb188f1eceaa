package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/crate"
	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/planstore"
)

// DeletionService removes an activity from its plan and resets stale
// configuration-control state on the activities that causally follow it.
type DeletionService struct {
	plans  *planstore.PlanStorage
	events *Events
	logger *slog.Logger
}

// NewDeletionService creates a deletion service.
func NewDeletionService(plans *planstore.PlanStorage, events *Events, logger *slog.Logger) *DeletionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeletionService{plans: plans, events: events, logger: logger}
}

// Delete detaches the activity and its subtree. Downstream activities that
// are not the target's own descendants get their configuration controls
// reset, since their configuration may assume the deleted node's output
// existed upstream. A missing activity is already gone: no-op.
func (s *DeletionService) Delete(ctx context.Context, activityID uuid.UUID) error {
	tree, err := s.plans.LoadPlan(ctx, activityID)
	if err != nil {
		if errors.Is(err, planstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load plan for activity %s: %w", activityID, err)
	}
	node := tree.Node(activityID)
	if node == nil {
		return nil
	}

	snap := plan.TakeSnapshot(tree)

	descendants := map[uuid.UUID]struct{}{}
	for _, d := range tree.Descendants(activityID) {
		descendants[d.ID] = struct{}{}
	}

	for _, act := range tree.DownstreamActivities(activityID) {
		if _, isDescendant := descendants[act.ID]; isDescendant {
			continue
		}
		raw, changed, err := resetControls(act.Storage)
		if err != nil {
			s.logger.Warn("Skipping control reset on malformed storage",
				"activity_id", act.ID, "error", err)
			continue
		}
		if changed {
			act.Storage = raw
		}
	}

	if err := tree.Detach(activityID); err != nil {
		return fmt.Errorf("detach activity %s: %w", activityID, err)
	}

	if err := s.plans.Update(ctx, tree.RootID(), snap.Compare(tree)); err != nil {
		return fmt.Errorf("persist deletion of %s: %w", activityID, err)
	}

	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:      StageDeleted,
		ActivityID: activityID,
	})
	return nil
}

// resetControls opens a scoped mutation over the serialized storage and
// resets every configuration control. When nothing actually changes the
// scope commits clean, so a no-op reset never dirties the persisted field.
func resetControls(raw string) (string, bool, error) {
	scope, err := crate.OpenScope(raw)
	if err != nil {
		return "", false, err
	}
	storage := scope.Storage()

	for _, c := range storage.CratesOfManifest(crate.ManifestConfigurationControls, nil) {
		var controls crate.ConfigurationControls
		if err := json.Unmarshal(c.Contents, &controls); err != nil {
			scope.Discard()
			return "", false, fmt.Errorf("decode controls crate %s: %w", c.ID, err)
		}
		if !controls.ResetAll() {
			continue
		}
		if err := storage.UpdateCrate(c.ID, &controls); err != nil {
			scope.Discard()
			return "", false, err
		}
	}

	return scope.Commit()
}
