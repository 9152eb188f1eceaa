package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	"github.com/c360studio/planhub/terminal"
)

// Lifecycle stages emitted on the activity event stream.
const (
	StageStarted          = "started"
	StageRunRequested     = "run_requested"
	StageResponseReceived = "response_received"
	StageConfigured       = "configured"
	StageDeleted          = "deleted"
	StageContainerLaunch  = "container_launched"
	StageContainerDone    = "container_completed"
)

// ActivityEventType is the message type for activity lifecycle events.
var ActivityEventType = message.Type{
	Domain:   "plan",
	Category: "activity_event",
	Version:  "v1",
}

// TerminalFailureType is the message type for terminal call failures.
var TerminalFailureType = message.Type{
	Domain:   "plan",
	Category: "terminal_failure",
	Version:  "v1",
}

// ActivityEvent reports a lifecycle transition of one activity or container.
type ActivityEvent struct {
	Stage       string                    `json:"stage"`
	ActivityID  uuid.UUID                 `json:"activity_id"`
	ContainerID uuid.UUID                 `json:"container_id,omitempty"`
	Response    terminal.ActivityResponse `json:"response,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *ActivityEvent) Schema() message.Type {
	return ActivityEventType
}

// Validate validates the payload.
func (e *ActivityEvent) Validate() error {
	if e.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if e.ActivityID == uuid.Nil && e.ContainerID == uuid.Nil {
		return fmt.Errorf("activity_id or container_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (e *ActivityEvent) MarshalJSON() ([]byte, error) {
	type Alias ActivityEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (e *ActivityEvent) UnmarshalJSON(data []byte) error {
	type Alias ActivityEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// TerminalFailure is the diagnostic payload raised when a terminal call
// fails. TerminalURL carries the resolved action URL, or the no-terminal-url
// sentinel when resolution itself failed.
type TerminalFailure struct {
	Action      string    `json:"action"`
	TerminalURL string    `json:"terminal_url"`
	ActivityID  uuid.UUID `json:"activity_id"`
	ContainerID uuid.UUID `json:"container_id,omitempty"`
	Request     string    `json:"request,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *TerminalFailure) Schema() message.Type {
	return TerminalFailureType
}

// Validate validates the payload.
func (e *TerminalFailure) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("action is required")
	}
	if e.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (e *TerminalFailure) MarshalJSON() ([]byte, error) {
	type Alias TerminalFailure
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (e *TerminalFailure) UnmarshalJSON(data []byte) error {
	type Alias TerminalFailure
	return json.Unmarshal(data, (*Alias)(e))
}

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "plan",
		Category:    "activity_event",
		Version:     "v1",
		Description: "Activity and container lifecycle events",
		Factory:     func() any { return &ActivityEvent{} },
	})
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "plan",
		Category:    "terminal_failure",
		Version:     "v1",
		Description: "Terminal call failure diagnostics",
		Factory:     func() any { return &TerminalFailure{} },
	})
}

// StreamPublisher is the slice of the NATS client the event publisher needs.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Events publishes diagnostic events to the event stream. Publish failures
// are logged and swallowed: the event stream is a side channel, never a
// substitute for returning failure to the caller.
type Events struct {
	publisher StreamPublisher
	source    string
	logger    *slog.Logger
}

// NewEvents creates an event publisher. A nil StreamPublisher disables
// publishing, which keeps tests and offline tooling free of NATS.
func NewEvents(publisher StreamPublisher, source string, logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{publisher: publisher, source: source, logger: logger}
}

// Lifecycle emits an activity lifecycle event.
func (ev *Events) Lifecycle(ctx context.Context, event *ActivityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	subject := fmt.Sprintf("plan.event.activity.%s", event.ActivityID)
	ev.publish(ctx, subject, event.Schema(), event)
}

// TerminalFailed emits a terminal failure diagnostic.
func (ev *Events) TerminalFailed(ctx context.Context, event *TerminalFailure) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	subject := fmt.Sprintf("plan.event.terminal_failure.%s", event.ActivityID)
	ev.publish(ctx, subject, event.Schema(), event)
}

func (ev *Events) publish(ctx context.Context, subject string, schema message.Type, payload message.Payload) {
	if ev.publisher == nil {
		return
	}

	baseMsg := message.NewBaseMessage(schema, payload, ev.source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		ev.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := ev.publisher.PublishToStream(ctx, subject, data); err != nil {
		ev.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}
