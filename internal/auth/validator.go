package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureStage verifies token signature, issuer, type and expiry.
type SignatureStage struct {
	cfg TokenConfig
	now func() time.Time
}

// NewSignatureStage constructs the stateless first validation stage.
func NewSignatureStage(cfg TokenConfig) (*SignatureStage, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &SignatureStage{cfg: cfg, now: time.Now}, nil
}

// Check returns the verified claims or an error wrapping ErrInvalidToken.
func (s *SignatureStage) Check(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}
	if _, err := claims.IdentityID(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// SessionStage rejects signature-valid tokens that have no live session row.
type SessionStage struct {
	sessions SessionStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionStage constructs the stateful second validation stage.
func NewSessionStage(sessions SessionStore, logger *slog.Logger) *SessionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStage{sessions: sessions, now: time.Now, logger: logger}
}

// Check passes claims through only when a live session exists for token.
func (s *SessionStage) Check(ctx context.Context, token string, claims *Claims) (*Claims, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}
	if _, err := s.sessions.FindLive(ctx, token, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no live session", ErrInvalidToken)
		}
		s.logger.ErrorContext(ctx, "session lookup failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: session lookup failed", ErrInvalidToken)
	}
	return claims, nil
}

// TokenValidator composes the signature stage and the session stage.
type TokenValidator struct {
	signature *SignatureStage
	session   *SessionStage
}

// NewTokenValidator builds a validator from both stages.
func NewTokenValidator(signature *SignatureStage, session *SessionStage) *TokenValidator {
	return &TokenValidator{signature: signature, session: session}
}

// Validate returns the decoded payload when both stages accept token.
func (v *TokenValidator) Validate(ctx context.Context, token string) (*Payload, error) {
	claims, err := v.signature.Check(token)
	if err != nil {
		return nil, err
	}
	claims, err = v.session.Check(ctx, strings.TrimSpace(token), claims)
	if err != nil {
		return nil, err
	}
	payload, err := claims.Payload()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return payload, nil
}
