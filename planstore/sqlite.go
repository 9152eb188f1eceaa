package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
)

// planNodeColumns is the canonical SELECT column list for plan_nodes.
const planNodeColumns = `id, plan_id, parent_id, kind, ordering, name, state,
		starting, label, template_id, crate_storage, auth_token_id`

// SQLiteProvider implements Provider using a SQLite database. Each node is
// one row carrying its owning plan id, so any member id resolves to the
// whole plan with a single lookup.
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider creates a new SQLiteProvider over an open database.
func NewSQLiteProvider(db *sql.DB) *SQLiteProvider {
	return &SQLiteProvider{db: db}
}

// LoadPlan retrieves the full plan tree owning the given node id.
func (p *SQLiteProvider) LoadPlan(ctx context.Context, memberID uuid.UUID) (*plan.Tree, error) {
	var planIDStr string
	err := p.db.QueryRowContext(ctx,
		`SELECT plan_id FROM plan_nodes WHERE id = ?`, memberID.String()).Scan(&planIDStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving plan for node %s: %w", memberID, err)
	}
	planID, err := uuid.Parse(planIDStr)
	if err != nil {
		return nil, fmt.Errorf("parsing plan id for node %s: %w", memberID, err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+planNodeColumns+` FROM plan_nodes WHERE plan_id = ? ORDER BY ordering`,
		planID.String())
	if err != nil {
		return nil, fmt.Errorf("listing plan nodes: %w", err)
	}
	defer rows.Close()

	var nodes []plan.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plan nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}

	tree, err := plan.FromNodes(planID, nodes)
	if err != nil {
		return nil, fmt.Errorf("rebuilding plan %s: %w", planID, err)
	}
	return tree, nil
}

// CreatePlan inserts every node of a brand-new plan in one transaction.
func (p *SQLiteProvider) CreatePlan(ctx context.Context, tree *plan.Tree) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback()

	planID := tree.RootID()
	for _, n := range tree.Nodes() {
		if err := insertNode(ctx, tx, planID, n); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing plan %s: %w", planID, err)
	}
	return nil
}

// Update applies a diff in one transaction so a failed write leaves durable
// state untouched.
func (p *SQLiteProvider) Update(ctx context.Context, planID uuid.UUID, changes plan.Changes) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range changes.Removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM plan_nodes WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("deleting plan node %s: %w", id, err)
		}
	}
	for _, n := range changes.Added {
		if err := insertNode(ctx, tx, planID, n); err != nil {
			return err
		}
	}
	for _, n := range changes.Updated {
		res, err := tx.ExecContext(ctx,
			`UPDATE plan_nodes SET parent_id = ?, kind = ?, ordering = ?, name = ?,
				state = ?, starting = ?, label = ?, template_id = ?, crate_storage = ?,
				auth_token_id = ?
				WHERE id = ?`,
			nullableUUID(n.ParentID),
			string(n.Kind),
			n.Ordering,
			n.Name,
			string(n.State),
			boolToInt(n.Starting),
			n.Label,
			n.TemplateID,
			n.Storage,
			nullableUUID(n.AuthTokenID),
			n.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("updating plan node %s: %w", n.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("updating plan node %s: %w", n.ID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update of plan %s: %w", planID, err)
	}
	return nil
}

func insertNode(ctx context.Context, tx *sql.Tx, planID uuid.UUID, n plan.Node) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO plan_nodes (id, plan_id, parent_id, kind, ordering, name, state,
			starting, label, template_id, crate_storage, auth_token_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(),
		planID.String(),
		nullableUUID(n.ParentID),
		string(n.Kind),
		n.Ordering,
		n.Name,
		string(n.State),
		boolToInt(n.Starting),
		n.Label,
		n.TemplateID,
		n.Storage,
		nullableUUID(n.AuthTokenID),
	)
	if err != nil {
		return fmt.Errorf("inserting plan node %s: %w", n.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (plan.Node, error) {
	var (
		n                 plan.Node
		idStr, planIDStr  string
		parentID, tokenID sql.NullString
		kind, state       string
		starting          int
	)
	err := row.Scan(&idStr, &planIDStr, &parentID, &kind, &n.Ordering, &n.Name, &state,
		&starting, &n.Label, &n.TemplateID, &n.Storage, &tokenID)
	if err != nil {
		return plan.Node{}, fmt.Errorf("scanning plan node: %w", err)
	}

	if n.ID, err = uuid.Parse(idStr); err != nil {
		return plan.Node{}, fmt.Errorf("parsing node id %q: %w", idStr, err)
	}
	if n.ParentID, err = parseNullableUUID(parentID); err != nil {
		return plan.Node{}, fmt.Errorf("parsing parent id of node %s: %w", n.ID, err)
	}
	if n.AuthTokenID, err = parseNullableUUID(tokenID); err != nil {
		return plan.Node{}, fmt.Errorf("parsing auth token id of node %s: %w", n.ID, err)
	}
	n.Kind = plan.Kind(kind)
	n.State = plan.State(state)
	n.Starting = intToBool(starting)
	return n, nil
}

// nullableUUID converts a uuid to a value suitable for SQLite storage.
// The zero uuid becomes SQL NULL.
func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// parseNullableUUID converts a sql.NullString back to a uuid, mapping NULL
// and empty to the zero uuid.
func parseNullableUUID(s sql.NullString) (uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s.String)
}

// boolToInt converts a Go bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// intToBool converts a SQLite integer (0 or 1) to a Go bool.
func intToBool(i int) bool {
	return i != 0
}
