package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// Nodes returns a flat copy of every node in the tree, parents before
// children. The copies share no storage with the arena, so they are safe to
// serialize or hand across a storage boundary.
func (t *Tree) Nodes() []Node {
	lin := t.Linearize(t.rootID)
	out := make([]Node, 0, len(lin))
	for _, n := range lin {
		out = append(out, *n)
	}
	return out
}

// FromNodes reconstructs a tree from a flat node list, in any order. The
// root is the node whose id matches rootID; every other node must reference
// a parent present in the list.
func FromNodes(rootID uuid.UUID, nodes []Node) (*Tree, error) {
	var root *Node
	for i := range nodes {
		if nodes[i].ID == rootID {
			record := nodes[i]
			root = &record
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("from nodes: %w: root %s", ErrNodeNotFound, rootID)
	}

	t := NewTree(root)
	for i := range nodes {
		if nodes[i].ID == rootID {
			continue
		}
		record := nodes[i]
		if _, exists := t.nodes[record.ID]; exists {
			return nil, fmt.Errorf("from nodes: %w: %s", ErrDuplicateNode, record.ID)
		}
		t.nodes[record.ID] = &record
		t.children[record.ParentID] = append(t.children[record.ParentID], record.ID)
	}

	// Orphan check and sibling ordering in one pass over the arena.
	for id, n := range t.nodes {
		if id == rootID {
			continue
		}
		if _, ok := t.nodes[n.ParentID]; !ok {
			return nil, fmt.Errorf("from nodes: %w: parent %s of node %s", ErrNodeNotFound, n.ParentID, id)
		}
	}
	for pid := range t.children {
		t.sortSiblings(pid)
	}
	return t, nil
}
