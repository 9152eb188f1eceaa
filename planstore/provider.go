// Package planstore provides the caching repository layer for plan trees:
// a PlanStorage facade that serves cached subtrees under a coarse lock and
// applies pre-computed diffs to durable storage and cache atomically.
package planstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
)

// Sentinel errors shared by providers.
var (
	// ErrNotFound indicates the requested plan or node does not exist in
	// durable storage.
	ErrNotFound = errors.New("plan not found")

	// ErrConflict indicates a concurrent writer invalidated the update.
	ErrConflict = errors.New("concurrent update conflict")
)

// Provider is the durable storage contract the orchestrator requires:
// load a whole plan subtree by any member id, and apply a diff.
// Implementations do not cache; PlanStorage layers caching on top.
type Provider interface {
	// LoadPlan returns the full tree of the plan owning the given node id.
	LoadPlan(ctx context.Context, memberID uuid.UUID) (*plan.Tree, error)

	// CreatePlan persists a brand-new plan tree.
	CreatePlan(ctx context.Context, tree *plan.Tree) error

	// Update applies a diff for the given plan. A failed update must leave
	// durable state untouched or report the failure; it is never silently
	// partial at the node level.
	Update(ctx context.Context, planID uuid.UUID, changes plan.Changes) error
}
