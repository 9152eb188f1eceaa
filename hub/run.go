package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/planstore"
	"github.com/c360studio/planhub/terminal"
)

// RunState selects the terminal action for one execution step.
type RunState int

const (
	// RunStateInitial is an activity's first execution.
	RunStateInitial RunState = iota

	// RunStateResume re-enters an activity that previously requested
	// suspension, to process its children.
	RunStateResume
)

func (r RunState) action() string {
	if r == RunStateResume {
		return terminal.ActionExecuteChildActivities
	}
	return terminal.ActionRun
}

// ExecutionService drives execution of activities: it dispatches run calls
// to terminals, threads the returned payload through the container's crate
// storage, and walks the plan's flattened run order.
type ExecutionService struct {
	plans      *planstore.PlanStorage
	terminals  *terminal.Registry
	caller     TerminalCaller
	containers ContainerStore
	events     *Events
	logger     *slog.Logger
}

// NewExecutionService creates an execution service.
func NewExecutionService(
	plans *planstore.PlanStorage,
	terminals *terminal.Registry,
	caller TerminalCaller,
	containers ContainerStore,
	events *Events,
	logger *slog.Logger,
) *ExecutionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionService{
		plans:      plans,
		terminals:  terminals,
		caller:     caller,
		containers: containers,
		events:     events,
		logger:     logger,
	}
}

// PrepareToExecute runs one activity and, when the terminal returns a
// payload, replaces the container's crate storage with it wholesale and
// persists the container. The returned response may legitimately be
// RequestSuspend; honoring it is the traversal loop's job.
func (s *ExecutionService) PrepareToExecute(ctx context.Context, activityID uuid.UUID, state RunState, container *Container) (terminal.ActivityResponse, error) {
	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:       StageStarted,
		ActivityID:  activityID,
		ContainerID: container.ID,
	})

	payload, err := s.Run(ctx, activityID, state, container)
	if err != nil {
		return terminal.ResponseNull, err
	}
	if payload == nil {
		return terminal.ResponseNull, nil
	}

	if payload.CrateStorage != nil {
		container.Storage = string(payload.CrateStorage)
		container.UpdatedAt = time.Now().UTC()
		if err := s.containers.Save(ctx, container); err != nil {
			return terminal.ResponseNull, fmt.Errorf("save container %s: %w", container.ID, err)
		}
	}
	return payload.Response, nil
}

// Run dispatches a single execution call to the activity's terminal.
func (s *ExecutionService) Run(ctx context.Context, activityID uuid.UUID, state RunState, container *Container) (*terminal.PayloadDTO, error) {
	tree, err := s.plans.LoadPlan(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("load plan for activity %s: %w", activityID, err)
	}
	node := tree.Node(activityID)
	if node == nil {
		return nil, fmt.Errorf("run: %w: %s", plan.ErrNodeNotFound, activityID)
	}

	action := state.action()
	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:       StageRunRequested,
		ActivityID:  node.ID,
		ContainerID: container.ID,
	})

	endpoint, err := s.terminals.EndpointFor(node.TemplateID)
	if err != nil {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      action,
			TerminalURL: terminal.NoTerminalURL,
			ActivityID:  node.ID,
			ContainerID: container.ID,
			Message:     err.Error(),
		})
		return nil, fmt.Errorf("resolve terminal for activity %s: %w", node.ID, err)
	}

	dto, err := terminal.ActivityFromTree(tree, node.ID)
	if err != nil {
		return nil, err
	}
	env := terminal.RequestEnvelope{ContainerID: container.ID, Activity: dto}

	payload, err := s.caller.Run(ctx, endpoint, action, env)
	if err != nil {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      action,
			TerminalURL: terminal.ActionURL(endpoint, action),
			ActivityID:  node.ID,
			ContainerID: container.ID,
			Request:     marshalForEvent(env),
			Message:     err.Error(),
		})
		return nil, fmt.Errorf("run activity %s: %w", node.ID, err)
	}

	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:       StageResponseReceived,
		ActivityID:  node.ID,
		ContainerID: container.ID,
		Response:    payload.Response,
	})
	return payload, nil
}

// Activate posts the activate action for one activity. The arena holds
// parent relations as id references, so the wire DTO is already free of
// back-references and needs no pre-serialization clone.
func (s *ExecutionService) Activate(ctx context.Context, activityID uuid.UUID) (*terminal.ActivityDTO, error) {
	return s.oneShot(ctx, activityID, terminal.ActionActivate, s.caller.Activate)
}

// Deactivate posts the deactivate action for one activity.
func (s *ExecutionService) Deactivate(ctx context.Context, activityID uuid.UUID) (*terminal.ActivityDTO, error) {
	return s.oneShot(ctx, activityID, terminal.ActionDeactivate, s.caller.Deactivate)
}

func (s *ExecutionService) oneShot(
	ctx context.Context,
	activityID uuid.UUID,
	action string,
	call func(context.Context, string, terminal.RequestEnvelope) (*terminal.ActivityDTO, error),
) (*terminal.ActivityDTO, error) {
	tree, err := s.plans.LoadPlan(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("load plan for activity %s: %w", activityID, err)
	}
	node := tree.Node(activityID)
	if node == nil {
		return nil, fmt.Errorf("%s: %w: %s", action, plan.ErrNodeNotFound, activityID)
	}

	endpoint, err := s.terminals.EndpointFor(node.TemplateID)
	if err != nil {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      action,
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

	result, err := call(ctx, endpoint, env)
	if err != nil {
		s.events.TerminalFailed(ctx, &TerminalFailure{
			Action:      action,
			TerminalURL: terminal.ActionURL(endpoint, action),
			ActivityID:  node.ID,
			Request:     marshalForEvent(env),
			Message:     err.Error(),
		})
		return nil, fmt.Errorf("%s activity %s: %w", action, node.ID, err)
	}
	return result, nil
}

// Launch creates a container positioned at the first activity of the plan's
// starting subroute.
func (s *ExecutionService) Launch(ctx context.Context, planID uuid.UUID) (*Container, error) {
	tree, err := s.plans.LoadPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	if tree.Root().State == plan.StateDeleted {
		return nil, fmt.Errorf("launch plan %s: %w", planID, ErrPlanDeleted)
	}

	sub := tree.StartingSubroute()
	if sub == nil {
		return nil, fmt.Errorf("launch plan %s: no starting subroute", planID)
	}

	acts := runOrder(tree, sub.ID)
	if len(acts) == 0 {
		return nil, fmt.Errorf("launch plan %s: starting subroute has no activities", planID)
	}

	now := time.Now().UTC()
	container := &Container{
		ID:            uuid.New(),
		PlanID:        tree.RootID(),
		CurrentNodeID: acts[0],
		State:         ContainerExecuting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(acts) > 1 {
		container.NextNodeID = acts[1]
	}

	if err := s.containers.Create(ctx, container); err != nil {
		return nil, fmt.Errorf("create container for plan %s: %w", planID, err)
	}

	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:       StageContainerLaunch,
		ActivityID:  container.CurrentNodeID,
		ContainerID: container.ID,
	})
	return container, nil
}

// Execute advances the container through the plan's run order until it
// completes or an activity requests suspension. A suspended container passed
// back in resumes its current activity with ExecuteChildActivities.
func (s *ExecutionService) Execute(ctx context.Context, containerID uuid.UUID) (*Container, error) {
	container, err := s.containers.Get(ctx, containerID)
	if err != nil {
		return nil, err
	}

	tree, err := s.plans.LoadPlan(ctx, container.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", container.PlanID, err)
	}
	sub := tree.StartingSubroute()
	if sub == nil {
		return nil, fmt.Errorf("execute container %s: no starting subroute", container.ID)
	}
	order := runOrder(tree, sub.ID)

	state := RunStateInitial
	if container.State == ContainerSuspended {
		state = RunStateResume
	}
	container.State = ContainerExecuting

	for container.CurrentNodeID != uuid.Nil {
		resp, err := s.PrepareToExecute(ctx, container.CurrentNodeID, state, container)
		if err != nil {
			container.State = ContainerFailed
			container.UpdatedAt = time.Now().UTC()
			if serr := s.containers.Save(ctx, container); serr != nil {
				s.logger.Warn("Failed to save failed container",
					"container_id", container.ID, "error", serr)
			}
			return nil, err
		}

		if resp == terminal.ResponseRequestSuspend && state == RunStateInitial {
			container.State = ContainerSuspended
			container.UpdatedAt = time.Now().UTC()
			if err := s.containers.Save(ctx, container); err != nil {
				return nil, fmt.Errorf("save container %s: %w", container.ID, err)
			}
			return container, nil
		}

		container.CurrentNodeID = nextInOrder(order, container.CurrentNodeID)
		container.NextNodeID = nextInOrder(order, container.CurrentNodeID)
		state = RunStateInitial
	}

	container.State = ContainerCompleted
	container.UpdatedAt = time.Now().UTC()
	if err := s.containers.Save(ctx, container); err != nil {
		return nil, fmt.Errorf("save container %s: %w", container.ID, err)
	}

	s.events.Lifecycle(ctx, &ActivityEvent{
		Stage:       StageContainerDone,
		ContainerID: container.ID,
	})
	return container, nil
}

// runOrder is the flattened execution order of the subroute's activities.
func runOrder(tree *plan.Tree, subrouteID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, n := range tree.Linearize(subrouteID) {
		if n.IsActivity() {
			out = append(out, n.ID)
		}
	}
	return out
}

func nextInOrder(order []uuid.UUID, current uuid.UUID) uuid.UUID {
	if current == uuid.Nil {
		return uuid.Nil
	}
	for i, id := range order {
		if id == current && i+1 < len(order) {
			return order[i+1]
		}
	}
	return uuid.Nil
}
