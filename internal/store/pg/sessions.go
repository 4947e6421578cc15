package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"projectdesk.io/internal/auth"
)

type sessionStore struct{ db *sql.DB }

func (s sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if sess == nil {
		return errors.New("session is required")
	}
	return s.db.QueryRowContext(ctx, `
		insert into sessions (identity_id, token, refresh_token, expires_at, created_at)
		values ($1, $2, $3, $4, now())
		returning id, created_at
	`, sess.IdentityID, sess.Token, nullIfEmpty(sess.RefreshToken), sess.ExpiresAt.UTC()).Scan(&sess.ID, &sess.CreatedAt)
}

// FindLive filters expiry at read time; expired rows stay until pruned externally.
func (s sessionStore) FindLive(ctx context.Context, token string, now time.Time) (*auth.Session, error) {
	var (
		sess    auth.Session
		refresh sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, identity_id, token, refresh_token, expires_at, created_at
		from sessions
		where token = $1 and expires_at > $2
		order by id desc
		limit 1
	`, token, now.UTC()).Scan(&sess.ID, &sess.IdentityID, &sess.Token, &refresh, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.RefreshToken = refresh.String
	return &sess, nil
}

func (s sessionStore) DeleteByToken(ctx context.Context, token string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where token = $1`, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
