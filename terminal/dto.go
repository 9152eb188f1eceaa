// Package terminal implements the RPC contract between the hub and remote
// terminal services: wire DTOs, the HTTP client that posts activity actions,
// and the registry that resolves an activity template to its terminal.
package terminal

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
)

// Action names accepted by terminals.
const (
	ActionConfigure              = "configure"
	ActionActivate               = "activate"
	ActionDeactivate             = "deactivate"
	ActionDocumentation          = "documentation"
	ActionRun                    = "Run"
	ActionExecuteChildActivities = "ExecuteChildActivities"
)

// ActivityDTO is the wire form of an activity subtree sent to and returned
// by terminals. CrateStorage carries the serialized storage document as-is;
// an absent or null value means empty storage.
type ActivityDTO struct {
	ID           uuid.UUID       `json:"id"`
	ParentID     uuid.UUID       `json:"parentId"`
	Label        string          `json:"label,omitempty"`
	TemplateID   string          `json:"activityTemplateId,omitempty"`
	CrateStorage json.RawMessage `json:"crateStorage,omitempty"`
	Ordering     int             `json:"ordering,omitempty"`
	AuthTokenID  uuid.UUID       `json:"authTokenId,omitempty"`
	Children     []*ActivityDTO  `json:"childrenActivities,omitempty"`
}

// RequestEnvelope wraps every action request. ContainerID is the zero uuid
// for non-execution actions.
type RequestEnvelope struct {
	ContainerID uuid.UUID    `json:"containerId"`
	Activity    *ActivityDTO `json:"activity"`
}

// ActivityResponse is the signal a terminal attaches to a run result.
// RequestSuspend is a legitimate success outcome asking the orchestrator to
// hand control back to the client before continuing traversal.
type ActivityResponse string

const (
	ResponseNull           ActivityResponse = ""
	ResponseSuccess        ActivityResponse = "Success"
	ResponseError          ActivityResponse = "Error"
	ResponseRequestSuspend ActivityResponse = "RequestSuspend"
)

// PayloadDTO is the result of a Run or ExecuteChildActivities action: the
// container's new crate storage plus the terminal's response signal. A nil
// CrateStorage means the terminal produced no payload for this step.
type PayloadDTO struct {
	ContainerID  uuid.UUID        `json:"containerId"`
	CrateStorage json.RawMessage  `json:"crateStorage,omitempty"`
	Response     ActivityResponse `json:"response,omitempty"`
}

// ActivityFromTree builds the wire DTO for the activity subtree rooted at
// id. Non-activity descendants are skipped.
func ActivityFromTree(t *plan.Tree, id uuid.UUID) (*ActivityDTO, error) {
	node := t.Node(id)
	if node == nil {
		return nil, fmt.Errorf("build activity dto: %w: %s", plan.ErrNodeNotFound, id)
	}
	if !node.IsActivity() {
		return nil, fmt.Errorf("build activity dto: %w: %s", plan.ErrNotActivity, id)
	}

	dto := dtoFromNode(node)
	for _, child := range t.Children(id) {
		if !child.IsActivity() {
			continue
		}
		childDTO, err := ActivityFromTree(t, child.ID)
		if err != nil {
			return nil, err
		}
		dto.Children = append(dto.Children, childDTO)
	}
	return dto, nil
}

func dtoFromNode(n *plan.Node) *ActivityDTO {
	dto := &ActivityDTO{
		ID:          n.ID,
		ParentID:    n.ParentID,
		Label:       n.Label,
		TemplateID:  n.TemplateID,
		Ordering:    n.Ordering,
		AuthTokenID: n.AuthTokenID,
	}
	if n.Storage != "" {
		dto.CrateStorage = json.RawMessage(n.Storage)
	}
	return dto
}

// Flatten converts the DTO subtree back into node values, parents before
// children. The root keeps its own ParentID; every descendant's parent is
// rewritten from the DTO nesting, which is authoritative over any parentId
// the wire carried.
func (d *ActivityDTO) Flatten() []plan.Node {
	out := make([]plan.Node, 0, 1+len(d.Children))
	var walk func(dto *ActivityDTO, parentID uuid.UUID)
	walk = func(dto *ActivityDTO, parentID uuid.UUID) {
		out = append(out, plan.Node{
			ID:          dto.ID,
			ParentID:    parentID,
			Kind:        plan.KindActivity,
			Ordering:    dto.Ordering,
			Label:       dto.Label,
			TemplateID:  dto.TemplateID,
			Storage:     string(dto.CrateStorage),
			AuthTokenID: dto.AuthTokenID,
		})
		for _, child := range dto.Children {
			walk(child, dto.ID)
		}
	}
	walk(d, d.ParentID)
	return out
}
