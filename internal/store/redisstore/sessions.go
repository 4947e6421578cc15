// Package redisstore records sessions in Redis instead of the relational store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"projectdesk.io/internal/auth"
)

// SessionStore implements auth.SessionStore. Sessions are stored as JSON under
// "<prefix><token>" with a TTL matching the session expiry. Tokens carry a
// unique id, so one key per token holds every session for it.
type SessionStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ auth.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a Redis-backed session store. Prefix may be empty.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &SessionStore{client: client, prefix: prefix, now: time.Now}
}

type record struct {
	ID           int64     `json:"id"`
	IdentityID   int64     `json:"identity_id"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *SessionStore) key(token string) string { return s.prefix + token }

func (s *SessionStore) seqKey() string { return s.prefix + "seq" }

// Ping checks the connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if sess == nil {
		return errors.New("session is required")
	}
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	sess.ID = id
	sess.CreatedAt = now

	b, err := json.Marshal(record{
		ID:           sess.ID,
		IdentityID:   sess.IdentityID,
		Token:        sess.Token,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt.UTC(),
		CreatedAt:    now,
	})
	if err != nil {
		return err
	}
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// ensure a minimal TTL so Redis won't keep expired sessions around
		ttl = time.Second
	}
	return s.client.Set(ctx, s.key(sess.Token), b, ttl).Err()
}

func (s *SessionStore) FindLive(ctx context.Context, token string, now time.Time) (*auth.Session, error) {
	b, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(now) {
		return nil, auth.ErrNotFound
	}
	return &auth.Session{
		ID:           rec.ID,
		IdentityID:   rec.IdentityID,
		Token:        rec.Token,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s *SessionStore) DeleteByToken(ctx context.Context, token string) (int64, error) {
	return s.client.Del(ctx, s.key(token)).Result()
}
