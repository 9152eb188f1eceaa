package activityhub

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the activity hub component.
type Config struct {
	// StreamName is the JetStream stream carrying hub requests.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// RequestSubjects is the subject filter for hub requests.
	RequestSubjects string `json:"request_subjects"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:      "PLAN",
		ConsumerName:    "activity-hub",
		RequestSubjects: "plan.request.>",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "hub-requests",
					Type:        "jetstream",
					Subject:     "plan.request.>",
					StreamName:  "PLAN",
					Description: "Configure, run, and delete requests",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "plan-events",
					Type:        "jetstream",
					Subject:     "plan.event.>",
					StreamName:  "PLAN",
					Description: "Activity lifecycle and terminal failure events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.RequestSubjects == "" {
		return fmt.Errorf("request_subjects is required")
	}
	return nil
}
