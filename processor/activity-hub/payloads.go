package activityhub

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	"github.com/c360studio/planhub/terminal"
)

// Message types consumed by the activity hub.
var (
	ConfigureRequestType = message.Type{Domain: "plan", Category: "configure_request", Version: "v1"}
	RunRequestType       = message.Type{Domain: "plan", Category: "run_request", Version: "v1"}
	DeleteRequestType    = message.Type{Domain: "plan", Category: "delete_request", Version: "v1"}
)

// ConfigureRequest asks the hub to run the configure protocol for an
// activity subtree.
type ConfigureRequest struct {
	RequestID string                `json:"request_id,omitempty"`
	AccountID string                `json:"account_id"`
	Activity  *terminal.ActivityDTO `json:"activity"`
}

// Schema returns the message type for this payload.
func (r *ConfigureRequest) Schema() message.Type {
	return ConfigureRequestType
}

// Validate validates the payload.
func (r *ConfigureRequest) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if r.Activity == nil {
		return fmt.Errorf("activity is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (r *ConfigureRequest) MarshalJSON() ([]byte, error) {
	type Alias ConfigureRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (r *ConfigureRequest) UnmarshalJSON(data []byte) error {
	type Alias ConfigureRequest
	return json.Unmarshal(data, (*Alias)(r))
}

// RunRequest asks the hub to launch or resume a plan execution. A zero
// ContainerID launches a fresh container for PlanID; otherwise the existing
// container is resumed.
type RunRequest struct {
	RequestID   string    `json:"request_id,omitempty"`
	PlanID      uuid.UUID `json:"plan_id,omitempty"`
	ContainerID uuid.UUID `json:"container_id,omitempty"`
}

// Schema returns the message type for this payload.
func (r *RunRequest) Schema() message.Type {
	return RunRequestType
}

// Validate validates the payload.
func (r *RunRequest) Validate() error {
	if r.PlanID == uuid.Nil && r.ContainerID == uuid.Nil {
		return fmt.Errorf("plan_id or container_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (r *RunRequest) MarshalJSON() ([]byte, error) {
	type Alias RunRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (r *RunRequest) UnmarshalJSON(data []byte) error {
	type Alias RunRequest
	return json.Unmarshal(data, (*Alias)(r))
}

// DeleteRequest asks the hub to remove an activity.
type DeleteRequest struct {
	RequestID  string    `json:"request_id,omitempty"`
	ActivityID uuid.UUID `json:"activity_id"`
}

// Schema returns the message type for this payload.
func (r *DeleteRequest) Schema() message.Type {
	return DeleteRequestType
}

// Validate validates the payload.
func (r *DeleteRequest) Validate() error {
	if r.ActivityID == uuid.Nil {
		return fmt.Errorf("activity_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (r *DeleteRequest) MarshalJSON() ([]byte, error) {
	type Alias DeleteRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (r *DeleteRequest) UnmarshalJSON(data []byte) error {
	type Alias DeleteRequest
	return json.Unmarshal(data, (*Alias)(r))
}

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "plan",
		Category:    "configure_request",
		Version:     "v1",
		Description: "Activity configure request",
		Factory:     func() any { return &ConfigureRequest{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "plan",
		Category:    "run_request",
		Version:     "v1",
		Description: "Plan execution request",
		Factory:     func() any { return &RunRequest{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "plan",
		Category:    "delete_request",
		Version:     "v1",
		Description: "Activity delete request",
		Factory:     func() any { return &DeleteRequest{} },
	})
}

// parsePayload unwraps a BaseMessage-wrapped payload into a typed request.
func parsePayload[T any](data []byte) (*T, error) {
	var rawMsg struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &rawMsg); err != nil {
		return nil, fmt.Errorf("unmarshal BaseMessage: %w", err)
	}
	if len(rawMsg.Payload) == 0 {
		return nil, fmt.Errorf("empty payload in BaseMessage")
	}

	var result T
	if err := json.Unmarshal(rawMsg.Payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload into %T: %w", result, err)
	}
	return &result, nil
}
