package hub

import "errors"

var (
	// ErrPlanDeleted indicates the operation targets an activity whose
	// owning plan has been torn down.
	ErrPlanDeleted = errors.New("plan is deleted")

	// ErrInvalidPlacement indicates a create-and-configure call supplied
	// both or neither of {parent node id, create-plan flag}.
	ErrInvalidPlacement = errors.New("exactly one of parent node id or create-plan must be supplied")

	// ErrNilActivity indicates a required activity payload was missing.
	ErrNilActivity = errors.New("activity is required")

	// ErrContainerNotFound indicates the referenced execution container
	// does not exist.
	ErrContainerNotFound = errors.New("container not found")
)
