package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planhub/plan"
)

// Bucket names for plan storage.
const (
	BucketPlans       = "PLANHUB_PLANS"
	BucketPlanMembers = "PLANHUB_PLAN_MEMBERS"
)

// planDoc is the stored form of a plan: the root id plus a flat node list.
type planDoc struct {
	RootID uuid.UUID   `json:"root_id"`
	Nodes  []plan.Node `json:"nodes"`
}

// KVProvider persists plans in NATS KV. Each plan is one document keyed by
// its root id; a second bucket maps every member node id to the owning plan
// so a plan can be loaded by any of its node ids.
type KVProvider struct {
	plans   jetstream.KeyValue
	members jetstream.KeyValue
}

// NewKVProvider creates a KVProvider with the given JetStream context,
// creating the KV buckets if they don't exist.
func NewKVProvider(ctx context.Context, js jetstream.JetStream) (*KVProvider, error) {
	plans, err := getOrCreateBucket(ctx, js, BucketPlans, "Planhub plan documents")
	if err != nil {
		return nil, fmt.Errorf("create plans bucket: %w", err)
	}

	members, err := getOrCreateBucket(ctx, js, BucketPlanMembers, "Planhub member to plan index")
	if err != nil {
		return nil, fmt.Errorf("create plan members bucket: %w", err)
	}

	return &KVProvider{plans: plans, members: members}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     5, // Keep last 5 revisions
	})
}

// LoadPlan retrieves the full plan tree owning the given node id.
func (p *KVProvider) LoadPlan(ctx context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	planID, err := p.resolvePlanID(ctx, memberID)
	if err != nil {
		return nil, err
	}

	entry, err := p.plans.Get(ctx, planID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}

	var doc planDoc
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal plan %s: %w", planID, err)
	}

	tree, err := plan.FromNodes(doc.RootID, doc.Nodes)
	if err != nil {
		return nil, fmt.Errorf("rebuild plan %s: %w", planID, err)
	}
	return tree, nil
}

// resolvePlanID maps a node id to its plan id via the member index. A plan
// root id resolves to itself even before the index entry exists.
func (p *KVProvider) resolvePlanID(ctx context.Context, memberID uuid.UUID) (uuid.UUID, error) {
	entry, err := p.members.Get(ctx, memberID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			if _, perr := p.plans.Get(ctx, memberID.String()); perr == nil {
				return memberID, nil
			}
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve plan for node %s: %w", memberID, err)
	}

	planID, err := uuid.Parse(string(entry.Value()))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse plan id for node %s: %w", memberID, err)
	}
	return planID, nil
}

// CreatePlan stores a brand-new plan document and indexes its members.
func (p *KVProvider) CreatePlan(ctx context.Context, tree *plan.Tree) error {
	planID := tree.RootID()
	data, err := json.Marshal(planDoc{RootID: planID, Nodes: tree.Nodes()})
	if err != nil {
		return fmt.Errorf("marshal plan %s: %w", planID, err)
	}

	if _, err := p.plans.Create(ctx, planID.String(), data); err != nil {
		return fmt.Errorf("store plan %s: %w", planID, err)
	}
	return p.indexMembers(ctx, planID, tree.Nodes())
}

// Update loads the stored document, applies the diff, and writes it back.
// The whole-document write keeps a plan internally consistent; the member
// index follows the diff.
func (p *KVProvider) Update(ctx context.Context, planID uuid.UUID, changes plan.Changes) error {
	entry, err := p.plans.Get(ctx, planID.String())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get plan %s: %w", planID, err)
	}

	var doc planDoc
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return fmt.Errorf("unmarshal plan %s: %w", planID, err)
	}

	tree, err := plan.FromNodes(doc.RootID, doc.Nodes)
	if err != nil {
		return fmt.Errorf("rebuild plan %s: %w", planID, err)
	}
	if err := tree.ApplyChanges(changes); err != nil {
		return fmt.Errorf("apply changes to plan %s: %w", planID, err)
	}

	data, err := json.Marshal(planDoc{RootID: doc.RootID, Nodes: tree.Nodes()})
	if err != nil {
		return fmt.Errorf("marshal plan %s: %w", planID, err)
	}
	if _, err := p.plans.Put(ctx, planID.String(), data); err != nil {
		return fmt.Errorf("update plan %s: %w", planID, err)
	}

	if err := p.indexMembers(ctx, planID, changes.Added); err != nil {
		return err
	}
	for _, id := range changes.Removed {
		if err := p.members.Delete(ctx, id.String()); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("unindex node %s: %w", id, err)
		}
	}
	return nil
}

func (p *KVProvider) indexMembers(ctx context.Context, planID uuid.UUID, nodes []plan.Node) error {
	for _, n := range nodes {
		if _, err := p.members.Put(ctx, n.ID.String(), []byte(planID.String())); err != nil {
			return fmt.Errorf("index node %s: %w", n.ID, err)
		}
	}
	return nil
}
