package activityhub

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the activity hub component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "activity-hub",
		Factory:     NewComponent,
		Schema:      hubSchema,
		Type:        "processor",
		Protocol:    "plan",
		Domain:      "orchestration",
		Description: "Consumes plan requests and drives configure, run, and delete against terminals",
		Version:     "0.1.0",
	})
}
