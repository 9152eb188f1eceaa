// Package crate implements the versioned document model attached to plan
// nodes and containers: an ordered, labeled, typed collection of opaque
// payloads that activities read and mutate as a plan executes.
package crate

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Crate is a single labeled, typed unit of data. Contents is an opaque
// serialized payload whose schema is keyed by ManifestType.
type Crate struct {
	ID            string          `json:"id"`
	Label         string          `json:"label"`
	ManifestType  string          `json:"manifestType"`
	ParentCrateID string          `json:"parentCrateId,omitempty"`
	Manufacturer  string          `json:"manufacturer,omitempty"`
	Contents      json.RawMessage `json:"contents"`
}

// Manifest is implemented by typed crate contents. ManifestType returns the
// schema discriminator stored on the wire.
type Manifest interface {
	ManifestType() string
}

// New builds a crate from typed contents, assigning a fresh id.
func New(label string, contents Manifest) (Crate, error) {
	data, err := json.Marshal(contents)
	if err != nil {
		return Crate{}, fmt.Errorf("marshal crate contents: %w", err)
	}
	return Crate{
		ID:           uuid.New().String(),
		Label:        label,
		ManifestType: contents.ManifestType(),
		Contents:     data,
	}, nil
}

// Storage is the ordered collection of crates owned by a node. The zero
// value is an empty storage ready for use. Storage is not safe for
// unsynchronized concurrent mutation; callers hold per-activity or
// per-operation exclusivity while mutating.
type Storage struct {
	crates []Crate
	dirty  bool
}

// wireStorage is the serialized form: an ordered crate list.
type wireStorage struct {
	Crates []Crate `json:"crates"`
}

// Parse deserializes storage from its wire form. The empty string is the
// distinguished "no storage yet" sentinel and parses to an empty storage.
func Parse(raw string) (*Storage, error) {
	s := &Storage{}
	if raw == "" {
		return s, nil
	}
	var wire wireStorage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("parse crate storage: %w", err)
	}
	s.crates = wire.Crates
	return s, nil
}

// Serialize renders the storage in wire form. Crate order is preserved.
func (s *Storage) Serialize() (string, error) {
	data, err := json.Marshal(wireStorage{Crates: s.crates})
	if err != nil {
		return "", fmt.Errorf("serialize crate storage: %w", err)
	}
	return string(data), nil
}

// IsEmptyRaw reports whether a serialized storage value represents the
// "needs initial configuration" state: absent, the empty-string sentinel,
// or a storage holding zero crates.
func IsEmptyRaw(raw string) bool {
	if raw == "" {
		return true
	}
	s, err := Parse(raw)
	if err != nil {
		return false
	}
	return s.Len() == 0
}

// Len returns the number of crates.
func (s *Storage) Len() int {
	return len(s.crates)
}

// Crates returns the crates in order. The returned slice is shared with the
// storage; callers must not reorder it directly.
func (s *Storage) Crates() []Crate {
	return s.crates
}

// Add appends a crate.
func (s *Storage) Add(c Crate) {
	s.crates = append(s.crates, c)
	s.dirty = true
}

// Replace discards every existing crate and installs the given ones, as a
// single observable step.
func (s *Storage) Replace(crates []Crate) {
	s.crates = append(s.crates[:0:0], crates...)
	s.dirty = true
}

// RemoveByLabel removes all crates with the given label and returns how many
// were removed.
func (s *Storage) RemoveByLabel(label string) int {
	return s.removeIf(func(c Crate) bool { return c.Label == label })
}

// RemoveByManifest removes all crates with the given manifest type and
// returns how many were removed.
func (s *Storage) RemoveByManifest(manifestType string) int {
	return s.removeIf(func(c Crate) bool { return c.ManifestType == manifestType })
}

func (s *Storage) removeIf(match func(Crate) bool) int {
	kept := s.crates[:0]
	removed := 0
	for _, c := range s.crates {
		if match(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.crates = kept
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// CratesOfManifest returns the crates carrying the given manifest type that
// satisfy the optional predicate, in storage order.
func (s *Storage) CratesOfManifest(manifestType string, pred func(Crate) bool) []Crate {
	var out []Crate
	for _, c := range s.crates {
		if c.ManifestType != manifestType {
			continue
		}
		if pred != nil && !pred(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// UpdateCrate writes typed contents back into the crate with the given id.
func (s *Storage) UpdateCrate(id string, contents Manifest) error {
	data, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("marshal crate contents: %w", err)
	}
	for i := range s.crates {
		if s.crates[i].ID == id {
			s.crates[i].Contents = data
			s.crates[i].ManifestType = contents.ManifestType()
			s.dirty = true
			return nil
		}
	}
	return fmt.Errorf("update crate: no crate with id %s", id)
}

// ContentsOf decodes the contents of every crate of T's manifest type that
// satisfies the optional predicate, in storage order.
func ContentsOf[T Manifest](s *Storage, pred func(Crate) bool) ([]T, error) {
	var zero T
	var out []T
	for _, c := range s.CratesOfManifest(zero.ManifestType(), pred) {
		var v T
		if err := json.Unmarshal(c.Contents, &v); err != nil {
			return nil, fmt.Errorf("decode %s crate %s: %w", c.ManifestType, c.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
