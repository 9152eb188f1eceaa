// Package plan models the hierarchical workflow structure of PlanHub:
// a Plan root owning ordered Subroutes, which own ordered Activities.
// Nodes live in a flat arena keyed by id; parent and owning-plan relations
// are id references resolved through the arena, never direct pointers.
package plan

import (
	"errors"

	"github.com/google/uuid"
)

// Kind discriminates the concrete node variants.
type Kind string

const (
	KindPlan     Kind = "plan"
	KindSubroute Kind = "subroute"
	KindActivity Kind = "activity"
)

// State is the lifecycle state of a Plan root.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateDeleted  State = "deleted"
)

// Sentinel errors for tree operations.
var (
	ErrNodeNotFound  = errors.New("plan node not found")
	ErrDuplicateNode = errors.New("plan node already exists")
	ErrNotActivity   = errors.New("plan node is not an activity")
	ErrCycle         = errors.New("operation would create a cycle")
)

// Node is a single record in a plan tree. Fields beyond the common set are
// populated according to Kind; zero values are ignored for other kinds.
type Node struct {
	ID       uuid.UUID `json:"id"`
	ParentID uuid.UUID `json:"parent_id,omitempty"` // uuid.Nil for the root
	Kind     Kind      `json:"kind"`

	// Ordering defines sibling sequence. Ties are broken by insertion order.
	Ordering int `json:"ordering"`

	// Name is the display name of a plan or subroute.
	Name string `json:"name,omitempty"`

	// State is the lifecycle state of a plan root.
	State State `json:"state,omitempty"`

	// Starting marks the entry subroute of a plan.
	Starting bool `json:"starting,omitempty"`

	// Activity fields.
	Label      string `json:"label,omitempty"`
	TemplateID string `json:"template_id,omitempty"` // immutable after creation

	// Storage is the serialized crate storage attached to an activity.
	Storage string `json:"crate_storage,omitempty"`

	// AuthTokenID references the authorization token bound to an activity.
	// uuid.Nil means no external authentication has been established.
	AuthTokenID uuid.UUID `json:"auth_token_id,omitempty"`
}

// IsActivity reports whether the node is an activity.
func (n *Node) IsActivity() bool {
	return n.Kind == KindActivity
}

// clone returns a copy of the node record.
func (n *Node) clone() *Node {
	c := *n
	return &c
}

// NewPlan constructs an active plan root with a fresh id.
func NewPlan(name string) *Node {
	return &Node{
		ID:    uuid.New(),
		Kind:  KindPlan,
		Name:  name,
		State: StateActive,
	}
}

// NewSubroute constructs a subroute node with a fresh id.
func NewSubroute(name string, starting bool) *Node {
	return &Node{
		ID:       uuid.New(),
		Kind:     KindSubroute,
		Name:     name,
		Starting: starting,
	}
}

// NewActivity constructs an activity node with a fresh id and empty storage.
func NewActivity(templateID, label string) *Node {
	return &Node{
		ID:         uuid.New(),
		Kind:       KindActivity,
		TemplateID: templateID,
		Label:      label,
	}
}
