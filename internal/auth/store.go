package auth

import (
	"context"
	"time"
)

// Store describes the credential store consumed by the auth core.
type Store interface {
	Identities() IdentityStore
	Roles() RoleStore
	Sessions() SessionStore
}

// IdentityStore manages identities. Lookups return ErrNotFound when nothing matches.
type IdentityStore interface {
	// FindByUsernameOrEmail returns the first identity whose username equals
	// username or whose email equals email.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*Identity, error)
	Find(ctx context.Context, id int64) (*Identity, error)
	// Create stores an active identity. A duplicate username or email yields ErrConflict.
	Create(ctx context.Context, username, email, passwordHash string) (*Identity, error)
}

// RoleStore manages roles and their assignment to identities.
type RoleStore interface {
	FindDefault(ctx context.Context) (*Role, error)
	Assign(ctx context.Context, identityID, roleID int64) error
	RoleNames(ctx context.Context, identityID int64) ([]string, error)
}

// SessionStore records issued access tokens.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// FindLive returns a session for token whose expiry is strictly after now.
	FindLive(ctx context.Context, token string, now time.Time) (*Session, error)
	// DeleteByToken removes every session for token and reports how many were removed.
	DeleteByToken(ctx context.Context, token string) (int64, error)
}
