package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const tokenSchema = `
CREATE TABLE IF NOT EXISTS auth_tokens (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	terminal    TEXT NOT NULL,
	value       TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_tokens_account ON auth_tokens(account_id, terminal);
`

// tokenColumns is the canonical SELECT column list for auth_tokens.
const tokenColumns = `id, account_id, terminal, value, external_id, created_at`

// SQLiteTokenStore implements TokenStore using a SQLite database.
type SQLiteTokenStore struct {
	db *sql.DB
}

// NewSQLiteTokenStore creates the store, ensuring the token table exists.
func NewSQLiteTokenStore(db *sql.DB) (*SQLiteTokenStore, error) {
	if _, err := db.Exec(tokenSchema); err != nil {
		return nil, fmt.Errorf("creating token schema: %w", err)
	}
	return &SQLiteTokenStore{db: db}, nil
}

func (s *SQLiteTokenStore) Get(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM auth_tokens WHERE id = ?`, id.String())
	return scanToken(row)
}

func (s *SQLiteTokenStore) Create(ctx context.Context, token *Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, account_id, terminal, value, external_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID.String(),
		token.AccountID,
		token.Terminal,
		token.Value,
		token.ExternalID,
		token.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) Invalidate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *SQLiteTokenStore) FindByAccount(ctx context.Context, accountID, terminalName string) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM auth_tokens WHERE account_id = ? AND terminal = ?
			ORDER BY created_at DESC LIMIT 1`,
		accountID, terminalName)
	return scanToken(row)
}

func scanToken(row *sql.Row) (*Token, error) {
	var (
		t                Token
		idStr, createdAt string
	)
	err := row.Scan(&idStr, &t.AccountID, &t.Terminal, &t.Value, &t.ExternalID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning token: %w", err)
	}

	if t.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parsing token id %q: %w", idStr, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing token created_at %q: %w", createdAt, err)
	}
	return &t, nil
}
