package planstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
)

// cache holds fully-loaded plan trees keyed by plan id, with a member index
// so any node id resolves to its owning plan. It is not internally
// synchronized; PlanStorage serializes all access under its coarse lock.
type cache struct {
	plans    map[uuid.UUID]*plan.Tree
	memberOf map[uuid.UUID]uuid.UUID
}

func newCache() *cache {
	return &cache{
		plans:    map[uuid.UUID]*plan.Tree{},
		memberOf: map[uuid.UUID]uuid.UUID{},
	}
}

// get returns the cached tree owning memberID, calling load to populate the
// cache on a miss.
func (c *cache) get(memberID uuid.UUID, load func(uuid.UUID) (*plan.Tree, error)) (*plan.Tree, error) {
	if planID, ok := c.memberOf[memberID]; ok {
		if tree, ok := c.plans[planID]; ok {
			return tree, nil
		}
	}

	tree, err := load(memberID)
	if err != nil {
		return nil, err
	}
	c.put(tree)
	return tree, nil
}

// put installs a tree, indexing every member.
func (c *cache) put(tree *plan.Tree) {
	planID := tree.RootID()
	c.plans[planID] = tree
	tree.Visit(planID, func(n *plan.Node) {
		c.memberOf[n.ID] = planID
	})
}

// updateElement applies the mutation to the cached node with the given id,
// if present.
func (c *cache) updateElement(id uuid.UUID, updater func(*plan.Node)) {
	planID, ok := c.memberOf[id]
	if !ok {
		return
	}
	tree, ok := c.plans[planID]
	if !ok {
		return
	}
	if node := tree.Node(id); node != nil {
		updater(node)
	}
}

// updateElements applies the mutation to every cached node.
func (c *cache) updateElements(updater func(*plan.Node)) {
	for planID, tree := range c.plans {
		tree.Visit(planID, updater)
	}
}

// applyChanges applies a diff to the cached tree and refreshes the member
// index for added and removed nodes.
func (c *cache) applyChanges(planID uuid.UUID, changes plan.Changes) error {
	tree, ok := c.plans[planID]
	if !ok {
		return nil
	}
	if err := tree.ApplyChanges(changes); err != nil {
		return fmt.Errorf("apply changes to cached plan %s: %w", planID, err)
	}
	for _, n := range changes.Added {
		c.memberOf[n.ID] = planID
	}
	for _, id := range changes.Removed {
		delete(c.memberOf, id)
	}
	return nil
}

// evict drops a plan and its member index entries.
func (c *cache) evict(planID uuid.UUID) {
	tree, ok := c.plans[planID]
	if !ok {
		return
	}
	tree.Visit(planID, func(n *plan.Node) {
		delete(c.memberOf, n.ID)
	})
	delete(c.plans, planID)
}
