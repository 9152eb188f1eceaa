package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/plan"
	"github.com/c360studio/planhub/terminal"
)

// Authorizer is the authorization collaborator the configuration and
// execution services consult. Implementations must be safe for concurrent
// use.
type Authorizer interface {
	// AuthenticationNeeded reports whether the activity's terminal requires
	// authentication that is not yet satisfied by a stored token.
	AuthenticationNeeded(ctx context.Context, accountID string, node *plan.Node) (bool, error)

	// InvalidateToken discards the token referenced by the activity after a
	// terminal signaled token invalidation. Missing tokens are a no-op.
	InvalidateToken(ctx context.Context, accountID string, node *plan.Node) error
}

// Service implements Authorizer over a token store and the terminal
// registry.
type Service struct {
	tokens    TokenStore
	terminals *terminal.Registry
	logger    *slog.Logger
}

// NewService creates an authorization service.
func NewService(tokens TokenStore, terminals *terminal.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tokens: tokens, terminals: terminals, logger: logger}
}

// AuthenticationNeeded reports true when the activity's terminal requires
// auth and the activity carries no resolvable token.
func (s *Service) AuthenticationNeeded(ctx context.Context, accountID string, node *plan.Node) (bool, error) {
	term, err := s.terminals.TerminalFor(node.TemplateID)
	if err != nil {
		if errors.Is(err, terminal.ErrUnknownTemplate) {
			// Unresolvable terminals fail later, at call time; auth gating
			// only answers the token question.
			return false, nil
		}
		return false, err
	}
	if !term.RequiresAuth {
		return false, nil
	}

	if node.AuthTokenID == uuid.Nil {
		return true, nil
	}

	if _, err := s.tokens.Get(ctx, node.AuthTokenID); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("check token %s: %w", node.AuthTokenID, err)
	}
	return false, nil
}

// PrepareToken attaches the account's stored token for the activity's
// terminal to the node, so the next terminal call carries it. Returns false
// when the terminal needs no auth or the account has no token yet; the
// configure flow then short-circuits to an auth request instead.
func (s *Service) PrepareToken(ctx context.Context, accountID string, node *plan.Node) (bool, error) {
	term, err := s.terminals.TerminalFor(node.TemplateID)
	if err != nil {
		if errors.Is(err, terminal.ErrUnknownTemplate) {
			return false, nil
		}
		return false, err
	}
	if !term.RequiresAuth {
		return false, nil
	}

	// An already-resolvable reference needs no work.
	if node.AuthTokenID != uuid.Nil {
		if _, err := s.tokens.Get(ctx, node.AuthTokenID); err == nil {
			return true, nil
		} else if !errors.Is(err, ErrTokenNotFound) {
			return false, fmt.Errorf("check token %s: %w", node.AuthTokenID, err)
		}
	}

	tok, err := s.tokens.FindByAccount(ctx, accountID, term.Name)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find token for account %s: %w", accountID, err)
	}

	node.AuthTokenID = tok.ID
	return true, nil
}

// InvalidateToken discards the activity's stored token. The caller is
// responsible for clearing the activity's token reference so the next
// configure asks for re-auth.
func (s *Service) InvalidateToken(ctx context.Context, accountID string, node *plan.Node) error {
	if node.AuthTokenID == uuid.Nil {
		return nil
	}

	if err := s.tokens.Invalidate(ctx, node.AuthTokenID); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("invalidate token %s: %w", node.AuthTokenID, err)
	}

	s.logger.Info("Invalidated authorization token",
		"token_id", node.AuthTokenID,
		"account_id", accountID,
		"activity_id", node.ID)
	return nil
}
