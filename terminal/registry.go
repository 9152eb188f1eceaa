package terminal

import (
	"errors"
	"sync"
)

// NoTerminalURL is the sentinel recorded in diagnostic events when the
// terminal endpoint for an activity could not be resolved.
const NoTerminalURL = "<no terminal url>"

// ErrUnknownTemplate indicates no registered terminal serves the given
// activity template.
var ErrUnknownTemplate = errors.New("unknown activity template")

// Terminal describes one remote terminal service and the activity templates
// it serves.
type Terminal struct {
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
	Label        string   `json:"label,omitempty" yaml:"label,omitempty"`
	Endpoint     string   `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	RequiresAuth bool     `json:"requires_auth,omitempty" yaml:"requires_auth,omitempty"`
	Templates    []string `json:"templates" yaml:"templates" validate:"min=1"`
}

// Registry resolves activity templates to terminal endpoints. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byTemplate map[string]Terminal
}

// NewRegistry creates a registry pre-populated with the given terminals.
func NewRegistry(terminals ...Terminal) *Registry {
	r := &Registry{byTemplate: map[string]Terminal{}}
	for _, t := range terminals {
		r.Register(t)
	}
	return r
}

// Register adds a terminal, claiming its templates. A template claimed by
// two terminals resolves to the last registration.
func (r *Registry) Register(t Terminal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tpl := range t.Templates {
		r.byTemplate[tpl] = t
	}
}

// TerminalFor resolves the terminal serving the given template.
func (r *Registry) TerminalFor(templateID string) (Terminal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byTemplate[templateID]
	if !ok {
		return Terminal{}, ErrUnknownTemplate
	}
	return t, nil
}

// EndpointFor resolves the endpoint URL serving the given template.
func (r *Registry) EndpointFor(templateID string) (string, error) {
	t, err := r.TerminalFor(templateID)
	if err != nil {
		return "", err
	}
	return t.Endpoint, nil
}

// Terminals returns every registered terminal, deduplicated by name.
func (r *Registry) Terminals() []Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []Terminal
	for _, t := range r.byTemplate {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}
