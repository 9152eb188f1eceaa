package crate

import (
	"fmt"
)

// Scope is a scoped acquisition of a node's storage for batch mutation.
// The caller mutates the parsed storage and finishes with Commit, which
// returns the serialized form only when something logically changed, or
// Discard, which abandons every change. This keeps a no-op batch from
// dirtying the owning entity's persisted field.
type Scope struct {
	storage   *Storage
	original  string
	discarded bool
	done      bool
}

// OpenScope parses the serialized storage and opens a mutation scope over it.
func OpenScope(raw string) (*Scope, error) {
	storage, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("open storage scope: %w", err)
	}
	return &Scope{storage: storage, original: raw}, nil
}

// Storage returns the mutable storage under the scope.
func (sc *Scope) Storage() *Storage {
	return sc.storage
}

// Discard abandons all changes made under the scope. Commit afterwards
// returns the original serialized value unchanged.
func (sc *Scope) Discard() {
	sc.discarded = true
}

// Commit closes the scope. It returns the serialized storage and true when
// changes were made and not discarded; otherwise it returns the original
// raw value and false. Committing twice is an error.
func (sc *Scope) Commit() (string, bool, error) {
	if sc.done {
		return "", false, fmt.Errorf("storage scope already committed")
	}
	sc.done = true

	if sc.discarded || !sc.storage.dirty {
		return sc.original, false, nil
	}
	raw, err := sc.storage.Serialize()
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}
