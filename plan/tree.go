package plan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Tree is an arena of plan nodes rooted at a single plan. The arena owns the
// node records; callers mutate nodes through the pointers it hands out and
// must not share a Tree across goroutines without external synchronization.
type Tree struct {
	rootID uuid.UUID
	nodes  map[uuid.UUID]*Node

	// children holds sibling ids per parent, kept in (Ordering, insertion)
	// order. Insertion order is preserved by the slice itself.
	children map[uuid.UUID][]uuid.UUID
}

// NewTree creates a tree containing only the given root node.
func NewTree(root *Node) *Tree {
	t := &Tree{
		rootID:   root.ID,
		nodes:    map[uuid.UUID]*Node{root.ID: root},
		children: map[uuid.UUID][]uuid.UUID{},
	}
	root.ParentID = uuid.Nil
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.nodes[t.rootID]
}

// RootID returns the id of the root node.
func (t *Tree) RootID() uuid.UUID {
	return t.rootID
}

// Node returns the node with the given id, or nil if absent.
func (t *Tree) Node(id uuid.UUID) *Node {
	return t.nodes[id]
}

// Contains reports whether a node with the given id exists in the tree.
func (t *Tree) Contains(id uuid.UUID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Children returns the child nodes of the given node in sibling order.
func (t *Tree) Children(id uuid.UUID) []*Node {
	ids := t.children[id]
	out := make([]*Node, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.nodes[cid])
	}
	return out
}

// AddChild inserts child under parent honoring the child's Ordering field.
// A non-positive ordering is treated as "append with default ordering".
// A positive ordering that collides with an existing sibling shifts that
// sibling and everything after it up by one, so orderings stay unique.
func (t *Tree) AddChild(parentID uuid.UUID, child *Node) error {
	parent, ok := t.nodes[parentID]
	if !ok {
		return fmt.Errorf("add child: %w: %s", ErrNodeNotFound, parentID)
	}
	if _, exists := t.nodes[child.ID]; exists {
		return fmt.Errorf("add child: %w: %s", ErrDuplicateNode, child.ID)
	}

	if child.Ordering <= 0 {
		child.Ordering = t.nextOrdering(parentID)
	} else {
		for _, sib := range t.Children(parentID) {
			if sib.Ordering >= child.Ordering {
				sib.Ordering++
			}
		}
	}

	child.ParentID = parent.ID
	t.nodes[child.ID] = child
	t.children[parentID] = append(t.children[parentID], child.ID)
	t.sortSiblings(parentID)
	return nil
}

// AddChildWithDefaultOrdering appends child as the last sibling, assigning
// max(existing orderings)+1, or 1 when the parent has no children.
func (t *Tree) AddChildWithDefaultOrdering(parentID uuid.UUID, child *Node) error {
	child.Ordering = 0
	return t.AddChild(parentID, child)
}

func (t *Tree) nextOrdering(parentID uuid.UUID) int {
	max := 0
	for _, cid := range t.children[parentID] {
		if o := t.nodes[cid].Ordering; o > max {
			max = o
		}
	}
	return max + 1
}

// sortSiblings re-sorts a sibling slice by Ordering, preserving insertion
// order between equal orderings (stable sort over the existing slice).
func (t *Tree) sortSiblings(parentID uuid.UUID) {
	ids := t.children[parentID]
	sort.SliceStable(ids, func(i, j int) bool {
		return t.nodes[ids[i]].Ordering < t.nodes[ids[j]].Ordering
	})
}

// Detach removes the node and its whole subtree from the tree. Detaching the
// root or an unknown id is an error.
func (t *Tree) Detach(id uuid.UUID) error {
	node, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("detach: %w: %s", ErrNodeNotFound, id)
	}
	if id == t.rootID {
		return fmt.Errorf("detach: cannot detach the root node")
	}

	siblings := t.children[node.ParentID]
	for i, sid := range siblings {
		if sid == id {
			t.children[node.ParentID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}

	for _, desc := range t.Linearize(id) {
		delete(t.children, desc.ID)
		delete(t.nodes, desc.ID)
	}
	return nil
}

// Visit invokes fn on the node and every descendant, parents before children.
func (t *Tree) Visit(id uuid.UUID, fn func(*Node)) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	fn(node)
	for _, cid := range t.children[id] {
		t.Visit(cid, fn)
	}
}

// Linearize returns the node plus every descendant in Visit order.
// Each call re-traverses the tree, so the result reflects current structure.
func (t *Tree) Linearize(id uuid.UUID) []*Node {
	var out []*Node
	t.Visit(id, func(n *Node) {
		out = append(out, n)
	})
	return out
}

// Descendants returns all nodes strictly below the given node.
func (t *Tree) Descendants(id uuid.UUID) []*Node {
	lin := t.Linearize(id)
	if len(lin) == 0 {
		return nil
	}
	return lin[1:]
}

// DownstreamActivities returns every activity that would execute causally
// after the given node in the flattened run order: the node's own descendant
// activities, then later siblings (and their subtrees) at each level up to
// the root.
func (t *Tree) DownstreamActivities(id uuid.UUID) []*Node {
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}

	var out []*Node
	appendActivities := func(n *Node) {
		if n.IsActivity() {
			out = append(out, n)
		}
	}

	for _, desc := range t.Descendants(id) {
		appendActivities(desc)
	}

	for cur := node; cur.ID != t.rootID; cur = t.nodes[cur.ParentID] {
		// Equal orderings cannot occur through AddChild, but a replayed diff
		// inserts literally; slice position breaks the tie then.
		passed := false
		for _, sib := range t.Children(cur.ParentID) {
			if sib.ID == cur.ID {
				passed = true
				continue
			}
			if sib.Ordering > cur.Ordering || (sib.Ordering == cur.Ordering && passed) {
				t.Visit(sib.ID, appendActivities)
			}
		}
	}
	return out
}

// ApplyChanges applies a pre-computed diff literally: added nodes are
// inserted exactly as recorded (no ordering collision resolution), updated
// nodes overwrite the stored record, removed ids are detached with their
// subtrees. Added nodes appear parents-before-children in a Compare result,
// so a single pass suffices.
func (t *Tree) ApplyChanges(c Changes) error {
	for _, id := range c.Removed {
		if t.Contains(id) {
			if err := t.Detach(id); err != nil {
				return err
			}
		}
	}
	for i := range c.Added {
		n := c.Added[i]
		if t.Contains(n.ID) {
			continue
		}
		if !t.Contains(n.ParentID) {
			return fmt.Errorf("apply changes: %w: parent %s of added node %s", ErrNodeNotFound, n.ParentID, n.ID)
		}
		record := n
		t.nodes[n.ID] = &record
		t.children[n.ParentID] = append(t.children[n.ParentID], n.ID)
		t.sortSiblings(n.ParentID)
	}
	for i := range c.Updated {
		n := c.Updated[i]
		existing, ok := t.nodes[n.ID]
		if !ok {
			return fmt.Errorf("apply changes: %w: updated node %s", ErrNodeNotFound, n.ID)
		}
		*existing = n
		t.sortSiblings(n.ParentID)
	}
	return nil
}

// StartingSubroute returns the subroute marked as the plan's entry branch,
// or nil when the plan has none yet.
func (t *Tree) StartingSubroute() *Node {
	for _, child := range t.Children(t.rootID) {
		if child.Kind == KindSubroute && child.Starting {
			return child
		}
	}
	return nil
}

// Subtree returns a deep copy of the subtree rooted at id as a new Tree.
// The copy shares no node records with the original, so it can be mutated or
// serialized independently of the arena.
func (t *Tree) Subtree(id uuid.UUID) (*Tree, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("subtree: %w: %s", ErrNodeNotFound, id)
	}

	sub := NewTree(node.clone())
	var copyChildren func(uuid.UUID)
	copyChildren = func(pid uuid.UUID) {
		for _, cid := range t.children[pid] {
			c := t.nodes[cid].clone()
			sub.nodes[c.ID] = c
			sub.children[pid] = append(sub.children[pid], c.ID)
			copyChildren(cid)
		}
	}
	copyChildren(id)
	return sub, nil
}

// Clone returns a deep copy of the whole tree.
func (t *Tree) Clone() *Tree {
	c, _ := t.Subtree(t.rootID)
	return c
}
