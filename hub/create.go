package hub

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/terminal"
)

// CreateRequest describes where a new activity goes. Exactly one of
// ParentNodeID or CreatePlan must be supplied.
type CreateRequest struct {
	TemplateID   string
	Label        string
	PlanName     string
	ParentNodeID uuid.UUID
	CreatePlan   bool
	Ordering     int
}

// CreateAndConfigure establishes tree placement for a brand-new activity,
// persists the skeleton with empty crate storage, then runs the Configure
// protocol on it so the terminal supplies the initial configuration pane.
func (s *ConfigurationService) CreateAndConfigure(ctx context.Context, accountID string, req CreateRequest) (*terminal.ActivityDTO, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("create activity: template id is required")
	}
	if (req.ParentNodeID != uuid.Nil) == req.CreatePlan {
		return nil, ErrInvalidPlacement
	}

	label := req.Label
	if label == "" {
		label = fmt.Sprintf("%s_%s", accountID, req.TemplateID)
	}

	activity := plan.NewActivity(req.TemplateID, label)
	activity.Ordering = req.Ordering

	var err error
	if req.CreatePlan {
		err = s.createInNewPlan(ctx, req.PlanName, label, activity)
	} else {
		err = s.attachToParent(ctx, req.ParentNodeID, activity)
	}
	if err != nil {
		return nil, err
	}

	return s.Configure(ctx, accountID, &terminal.ActivityDTO{
		ID:         activity.ID,
		Label:      activity.Label,
		TemplateID: activity.TemplateID,
		Ordering:   activity.Ordering,
	})
}

// createInNewPlan builds a fresh plan with one starting subroute holding the
// activity.
func (s *ConfigurationService) createInNewPlan(ctx context.Context, planName, label string, activity *plan.Node) error {
	if planName == "" {
		planName = "New Plan"
	}

	root := plan.NewPlan(planName)
	tree := plan.NewTree(root)

	sub := plan.NewSubroute(label+" #1", true)
	if err := tree.AddChildWithDefaultOrdering(root.ID, sub); err != nil {
		return fmt.Errorf("create starting subroute: %w", err)
	}
	activity.ParentID = sub.ID
	if err := addWithOrdering(tree, activity); err != nil {
		return fmt.Errorf("place activity %s: %w", activity.ID, err)
	}

	if err := s.plans.CreatePlan(ctx, tree); err != nil {
		return err
	}
	return nil
}

// attachToParent places the activity under an existing node. A bare plan
// without a starting subroute gets one created on the way.
func (s *ConfigurationService) attachToParent(ctx context.Context, parentID uuid.UUID, activity *plan.Node) error {
	tree, err := s.plans.LoadPlan(ctx, parentID)
	if err != nil {
		return fmt.Errorf("load plan for parent %s: %w", parentID, err)
	}
	parent := tree.Node(parentID)
	if parent == nil {
		return fmt.Errorf("attach activity: %w: %s", plan.ErrNodeNotFound, parentID)
	}

	snap := plan.TakeSnapshot(tree)

	targetID := parentID
	if parent.Kind == plan.KindPlan {
		sub := tree.StartingSubroute()
		if sub == nil {
			sub = plan.NewSubroute("Starting Subroute", true)
			if err := tree.AddChildWithDefaultOrdering(parent.ID, sub); err != nil {
				return fmt.Errorf("create starting subroute: %w", err)
			}
		}
		targetID = sub.ID
	}

	activity.ParentID = targetID
	if err := addWithOrdering(tree, activity); err != nil {
		return fmt.Errorf("place activity %s: %w", activity.ID, err)
	}

	if err := s.plans.Update(ctx, tree.RootID(), snap.Compare(tree)); err != nil {
		return fmt.Errorf("persist activity %s: %w", activity.ID, err)
	}
	return nil
}
