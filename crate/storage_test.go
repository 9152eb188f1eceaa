package crate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noteManifest is a trivial typed contents used across the package tests.
type noteManifest struct {
	Text string `json:"text"`
}

func (noteManifest) ManifestType() string { return "Note" }

func mustCrate(t *testing.T, label string, m Manifest) Crate {
	t.Helper()
	c, err := New(label, m)
	require.NoError(t, err)
	return c
}

func TestParseEmptySentinel(t *testing.T) {
	s, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("{not json")
	assert.Error(t, err)
}

func TestSerializeRoundTrip(t *testing.T) {
	s := &Storage{}
	s.Add(mustCrate(t, "first", noteManifest{Text: "one"}))
	s.Add(mustCrate(t, "second", noteManifest{Text: "two"}))

	raw, err := s.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, 2, parsed.Len())
	assert.Equal(t, "first", parsed.Crates()[0].Label)
	assert.Equal(t, "second", parsed.Crates()[1].Label)
	assert.Equal(t, "Note", parsed.Crates()[0].ManifestType)
}

func TestIsEmptyRaw(t *testing.T) {
	empty := &Storage{}
	emptyRaw, err := empty.Serialize()
	require.NoError(t, err)

	full := &Storage{}
	full.Add(mustCrate(t, "c", noteManifest{Text: "x"}))
	fullRaw, err := full.Serialize()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"empty string sentinel", "", true},
		{"serialized empty storage", emptyRaw, true},
		{"storage with crates", fullRaw, false},
		{"malformed is not empty", "{broken", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmptyRaw(tt.raw))
		})
	}
}

func TestReplace(t *testing.T) {
	s := &Storage{}
	s.Add(mustCrate(t, "old", noteManifest{Text: "stale"}))

	next := []Crate{
		mustCrate(t, "a", noteManifest{Text: "1"}),
		mustCrate(t, "b", noteManifest{Text: "2"}),
	}
	s.Replace(next)

	require.Equal(t, 2, s.Len())
	assert.Equal(t, "a", s.Crates()[0].Label)
	assert.Equal(t, "b", s.Crates()[1].Label)
}

func TestRemoveByLabelAndManifest(t *testing.T) {
	s := &Storage{}
	s.Add(mustCrate(t, "keep", noteManifest{Text: "k"}))
	s.Add(mustCrate(t, "drop", noteManifest{Text: "d1"}))
	s.Add(mustCrate(t, "drop", noteManifest{Text: "d2"}))

	assert.Equal(t, 2, s.RemoveByLabel("drop"))
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, 1, s.RemoveByManifest("Note"))
	assert.Equal(t, 0, s.Len())

	assert.Equal(t, 0, s.RemoveByLabel("absent"))
}

func TestUpdateCrate(t *testing.T) {
	s := &Storage{}
	c := mustCrate(t, "n", noteManifest{Text: "before"})
	s.Add(c)

	require.NoError(t, s.UpdateCrate(c.ID, noteManifest{Text: "after"}))

	var got noteManifest
	require.NoError(t, json.Unmarshal(s.Crates()[0].Contents, &got))
	assert.Equal(t, "after", got.Text)

	err := s.UpdateCrate("missing-id", noteManifest{})
	assert.Error(t, err)
}

func TestContentsOf(t *testing.T) {
	s := &Storage{}
	s.Add(mustCrate(t, "a", noteManifest{Text: "1"}))
	s.Add(mustCrate(t, "b", noteManifest{Text: "2"}))

	notes, err := ContentsOf[noteManifest](s, nil)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "1", notes[0].Text)
	assert.Equal(t, "2", notes[1].Text)

	filtered, err := ContentsOf[noteManifest](s, func(c Crate) bool { return c.Label == "b" })
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "2", filtered[0].Text)
}
