package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"projectdesk.io/internal/ids"
)

const (
	DefaultIssuer     = "projectdesk-auth"
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenConfig is the signing configuration shared by the issuer and the validator.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c TokenConfig) withDefaults() (TokenConfig, error) {
	if len(strings.TrimSpace(string(c.Secret))) == 0 {
		return TokenConfig{}, ErrMissingSecret
	}
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = DefaultIssuer
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	return c, nil
}

// Claims represents JWT claims carried by access and refresh tokens.
type Claims struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// IdentityID parses the numeric subject.
func (c *Claims) IdentityID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not an identity id", c.Subject)
	}
	return id, nil
}

// Payload converts verified claims into the request-scoped current user.
func (c *Claims) Payload() (*Payload, error) {
	id, err := c.IdentityID()
	if err != nil {
		return nil, err
	}
	p := &Payload{
		Sub:      id,
		Username: c.Username,
		Email:    c.Email,
		Roles:    normalizeRoles(c.Roles),
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Unix()
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Unix()
	}
	return p, nil
}

// TokenPair holds access and refresh tokens minted from the same claim set.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer signs access and refresh tokens with HS256.
type Issuer struct {
	cfg   TokenConfig
	now   func() time.Time
	newID ids.Generator
}

// NewIssuer constructs an Issuer. A missing secret yields ErrMissingSecret.
func NewIssuer(cfg TokenConfig) (*Issuer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg, now: time.Now, newID: ids.New}, nil
}

// Issue mints a token pair for principal.
func (i *Issuer) Issue(principal Principal) (TokenPair, error) {
	if principal.ID <= 0 {
		return TokenPair{}, errors.New("auth: principal id is required")
	}
	now := i.now().UTC()
	access, accessExp, err := i.sign(principal, tokenTypeAccess, now, i.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(principal, tokenTypeRefresh, now, i.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

func (i *Issuer) sign(p Principal, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Username:  p.Username,
		Email:     p.Email,
		Roles:     normalizeRoles(p.Roles),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        i.newID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, exp, nil
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
