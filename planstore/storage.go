package planstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
)

// PlanStorage is the caching repository for plan trees. All cache access is
// serialized by one coarse mutex held for the duration of each operation,
// including the durable fetch on a miss, so concurrent loads of the same
// plan cannot race on population. No remote terminal I/O ever happens under
// this lock; cache operations stay fast.
type PlanStorage struct {
	mu       sync.Mutex
	cache    *cache
	provider Provider
}

// NewPlanStorage creates a PlanStorage over the given durable provider.
func NewPlanStorage(provider Provider) *PlanStorage {
	return &PlanStorage{
		cache:    newCache(),
		provider: provider,
	}
}

// LoadPlan returns the full tree of the plan owning the given node id,
// serving from cache when present and populating it from the provider on a
// miss. The returned tree is the cached instance; callers mutate it only
// while holding the relevant per-activity exclusivity and persist through
// Update.
func (s *PlanStorage) LoadPlan(ctx context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.get(memberID, func(id uuid.UUID) (*plan.Tree, error) {
		return s.provider.LoadPlan(ctx, id)
	})
}

// CreatePlan persists a new plan tree and installs it in the cache.
func (s *PlanStorage) CreatePlan(ctx context.Context, tree *plan.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.CreatePlan(ctx, tree); err != nil {
		return fmt.Errorf("create plan %s: %w", tree.RootID(), err)
	}
	s.cache.put(tree)
	return nil
}

// Update applies a pre-computed diff. Durable storage is written first;
// only when that succeeds is the same diff applied to the cache, so a
// provider failure never leaves the cache representing an uncommitted
// write. A diff with no changes is a no-op.
func (s *PlanStorage) Update(ctx context.Context, planID uuid.UUID, changes plan.Changes) error {
	if !changes.HasChanges() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.Update(ctx, planID, changes); err != nil {
		return err
	}
	return s.cache.applyChanges(planID, changes)
}

// UpdateElement applies a mutation to one cached node in place. Used for
// transient edits that do not need a full diff-and-persist cycle.
func (s *PlanStorage) UpdateElement(id uuid.UUID, updater func(*plan.Node)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.updateElement(id, updater)
}

// UpdateElements applies a mutation to every cached node in place.
func (s *PlanStorage) UpdateElements(updater func(*plan.Node)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.updateElements(updater)
}

// Evict drops a plan from the cache. The next load re-reads durable state.
func (s *PlanStorage) Evict(planID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.evict(planID)
}

// Reload bypasses the cache: it evicts the owning plan and re-reads it from
// the durable provider.
func (s *PlanStorage) Reload(ctx context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if planID, ok := s.cache.memberOf[memberID]; ok {
		s.cache.evict(planID)
	}
	return s.cache.get(memberID, func(id uuid.UUID) (*plan.Tree, error) {
		return s.provider.LoadPlan(ctx, id)
	})
}
