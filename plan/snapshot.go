package plan

import (
	"github.com/google/uuid"
)

// Snapshot is an immutable record of a tree's nodes at a point in time,
// used to compute a Changes diff after a batch of mutations.
type Snapshot struct {
	nodes map[uuid.UUID]Node
}

// TakeSnapshot captures the current state of every node in the tree.
func TakeSnapshot(t *Tree) *Snapshot {
	s := &Snapshot{nodes: make(map[uuid.UUID]Node, t.Len())}
	t.Visit(t.rootID, func(n *Node) {
		s.nodes[n.ID] = *n
	})
	return s
}

// Changes is a pre-computed diff between two snapshots of the same plan.
type Changes struct {
	Added   []Node
	Updated []Node
	Removed []uuid.UUID
}

// HasChanges reports whether the diff contains any mutation.
func (c Changes) HasChanges() bool {
	return len(c.Added) > 0 || len(c.Updated) > 0 || len(c.Removed) > 0
}

// Compare diffs the tree's current state against an earlier snapshot.
// Node identity is by id; a node counts as updated when any field differs.
func (s *Snapshot) Compare(t *Tree) Changes {
	var changes Changes
	seen := make(map[uuid.UUID]struct{}, t.Len())

	t.Visit(t.rootID, func(n *Node) {
		seen[n.ID] = struct{}{}
		old, ok := s.nodes[n.ID]
		if !ok {
			changes.Added = append(changes.Added, *n)
			return
		}
		if old != *n {
			changes.Updated = append(changes.Updated, *n)
		}
	})

	for id := range s.nodes {
		if _, ok := seen[id]; !ok {
			changes.Removed = append(changes.Removed, id)
		}
	}
	return changes
}
