// Package authz manages authorization tokens for account+terminal pairs and
// answers the configure-time question "does this activity still need the
// user to authenticate".
package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrTokenNotFound indicates the referenced token does not exist or was
// invalidated.
var ErrTokenNotFound = errors.New("authorization token not found")

// Token is an authorization token owned by an account+terminal pair.
type Token struct {
	ID         uuid.UUID `json:"id"`
	AccountID  string    `json:"account_id"`
	Terminal   string    `json:"terminal"`
	Value      string    `json:"value"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TokenStore persists authorization tokens. Invalidation removes the token;
// a dangling reference from an activity then reads as "re-auth required".
type TokenStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Token, error)
	Create(ctx context.Context, token *Token) error
	Invalidate(ctx context.Context, id uuid.UUID) error
	FindByAccount(ctx context.Context, accountID, terminalName string) (*Token, error)
}
