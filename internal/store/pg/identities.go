package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"projectdesk.io/internal/auth"
)

type identityStore struct{ db *sql.DB }

const identityColumns = `id, username, email, password_hash, status, created_at, updated_at`

func (s identityStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (*auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where username = $1 or email = $2
		order by id
		limit 1
	`, username, email)
	return scanIdentity(row)
}

func (s identityStore) Find(ctx context.Context, id int64) (*auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	return scanIdentity(row)
}

func (s identityStore) Create(ctx context.Context, username, email, passwordHash string) (*auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into identities (username, email, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, now(), now())
		returning `+identityColumns,
		username, email, passwordHash, auth.StatusActive)
	ident, err := scanIdentity(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, auth.ErrConflict
		}
		return nil, err
	}
	return ident, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*auth.Identity, error) {
	var ident auth.Identity
	err := row.Scan(&ident.ID, &ident.Username, &ident.Email, &ident.PasswordHash, &ident.Status, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	return &ident, nil
}
