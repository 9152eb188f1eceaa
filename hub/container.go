package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContainerState is the lifecycle state of an execution container.
type ContainerState string

const (
	ContainerExecuting ContainerState = "executing"
	ContainerSuspended ContainerState = "suspended"
	ContainerCompleted ContainerState = "completed"
	ContainerFailed    ContainerState = "failed"
)

// Container is one execution instance of a plan. CurrentNodeID is the
// traversal cursor; the zero uuid means the traversal is exhausted. Storage
// is the in-flight payload bus every activity reads and replaces.
type Container struct {
	ID            uuid.UUID      `json:"id"`
	PlanID        uuid.UUID      `json:"plan_id"`
	CurrentNodeID uuid.UUID      `json:"current_node_id"`
	NextNodeID    uuid.UUID      `json:"next_node_id"`
	Storage       string         `json:"crate_storage"`
	State         ContainerState `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ContainerStore persists execution containers.
type ContainerStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Container, error)
	Create(ctx context.Context, c *Container) error
	Save(ctx context.Context, c *Container) error
}

const containerSchema = `
CREATE TABLE IF NOT EXISTS containers (
	id              TEXT PRIMARY KEY,
	plan_id         TEXT NOT NULL,
	current_node_id TEXT,
	next_node_id    TEXT,
	crate_storage   TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_containers_plan ON containers(plan_id);
`

// containerColumns is the canonical SELECT column list for containers.
const containerColumns = `id, plan_id, current_node_id, next_node_id, crate_storage,
		state, created_at, updated_at`

// SQLiteContainerStore implements ContainerStore using a SQLite database.
type SQLiteContainerStore struct {
	db *sql.DB
}

// NewSQLiteContainerStore creates the store, ensuring the container table
// exists.
func NewSQLiteContainerStore(db *sql.DB) (*SQLiteContainerStore, error) {
	if _, err := db.Exec(containerSchema); err != nil {
		return nil, fmt.Errorf("creating container schema: %w", err)
	}
	return &SQLiteContainerStore{db: db}, nil
}

func (s *SQLiteContainerStore) Get(ctx context.Context, id uuid.UUID) (*Container, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = ?`, id.String())

	var (
		c                    Container
		idStr, planID        string
		current, next        sql.NullString
		state                string
		createdAt, updatedAt string
	)
	err := row.Scan(&idStr, &planID, &current, &next, &c.Storage, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning container: %w", err)
	}

	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parsing container id %q: %w", idStr, err)
	}
	if c.PlanID, err = uuid.Parse(planID); err != nil {
		return nil, fmt.Errorf("parsing plan id of container %s: %w", c.ID, err)
	}
	if c.CurrentNodeID, err = parseNullableID(current); err != nil {
		return nil, fmt.Errorf("parsing current node of container %s: %w", c.ID, err)
	}
	if c.NextNodeID, err = parseNullableID(next); err != nil {
		return nil, fmt.Errorf("parsing next node of container %s: %w", c.ID, err)
	}
	c.State = ContainerState(state)
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of container %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of container %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLiteContainerStore) Create(ctx context.Context, c *Container) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO containers (id, plan_id, current_node_id, next_node_id, crate_storage,
			state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(),
		c.PlanID.String(),
		nullableID(c.CurrentNodeID),
		nullableID(c.NextNodeID),
		c.Storage,
		string(c.State),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting container: %w", err)
	}
	return nil
}

func (s *SQLiteContainerStore) Save(ctx context.Context, c *Container) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE containers SET current_node_id = ?, next_node_id = ?, crate_storage = ?,
			state = ?, updated_at = ?
			WHERE id = ?`,
		nullableID(c.CurrentNodeID),
		nullableID(c.NextNodeID),
		c.Storage,
		string(c.State),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating container: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrContainerNotFound
	}
	return nil
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseNullableID(s sql.NullString) (uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s.String)
}
