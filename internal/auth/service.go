package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"projectdesk.io/internal/audit"
	"projectdesk.io/internal/ids"
	"projectdesk.io/internal/obs"
)

const (
	// DefaultSessionTTL matches the access token lifetime.
	DefaultSessionTTL = time.Hour
	// TokenTypeBearer is reported in every TokenResponse.
	TokenTypeBearer = "Bearer"
)

// Service implements login, registration, token validation and logout.
type Service struct {
	store     Store
	sessions  SessionStore
	issuer    *Issuer
	signature *SignatureStage
	session   *SessionStage
	validator *TokenValidator

	sessionTTL   time.Duration
	passwordCost int
	now          func() time.Time
	newID        ids.Generator
	logger       *slog.Logger
	metrics      *obs.Metrics
	validate     *validator.Validate
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source for issuance, session expiry and validation.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock is required")
		}
		s.now = now
		return nil
	}
}

// WithLogger sets the logger used for operational messages.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics enables outcome counters.
func WithMetrics(m *obs.Metrics) ServiceOption {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithSessionStore records sessions somewhere other than the credential store.
func WithSessionStore(sessions SessionStore) ServiceOption {
	return func(s *Service) error {
		if sessions == nil {
			return errors.New("auth: session store is required")
		}
		s.sessions = sessions
		return nil
	}
}

// WithSessionTTL overrides the lifetime recorded on new sessions.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("auth: session ttl must be positive, got %s", ttl)
		}
		s.sessionTTL = ttl
		return nil
	}
}

// WithPasswordCost sets the bcrypt cost for new password hashes.
func WithPasswordCost(cost int) ServiceOption {
	return func(s *Service) error {
		s.passwordCost = cost
		return nil
	}
}

// WithIDGenerator overrides the token id generator.
func WithIDGenerator(gen ids.Generator) ServiceOption {
	return func(s *Service) error {
		if gen == nil {
			return errors.New("auth: id generator is required")
		}
		s.newID = gen
		return nil
	}
}

// NewService wires the issuer, both validation stages and the stores.
func NewService(store Store, tokens TokenConfig, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	issuer, err := NewIssuer(tokens)
	if err != nil {
		return nil, err
	}
	signature, err := NewSignatureStage(tokens)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:        store,
		sessions:     store.Sessions(),
		issuer:       issuer,
		signature:    signature,
		sessionTTL:   DefaultSessionTTL,
		passwordCost: DefaultPasswordCost,
		now:          time.Now,
		newID:        ids.New,
		logger:       obs.Logger(),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.issuer.now = s.now
	s.issuer.newID = s.newID
	s.signature.now = s.now
	s.session = NewSessionStage(s.sessions, s.logger)
	s.session.now = s.now
	s.validator = NewTokenValidator(s.signature, s.session)
	return s, nil
}

// Validator exposes the composed two-stage validator.
func (s *Service) Validator() *TokenValidator { return s.validator }

// Login verifies credentials and opens a new session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.check(req); err != nil {
		s.metrics.LoginOutcome("invalid_input")
		return nil, err
	}

	identity, err := s.store.Identities().FindByUsernameOrEmail(ctx, req.Username, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(req.Password)
			return nil, s.loginFailed(ctx, req.Username, "invalid_credentials", ErrInvalidCredentials)
		}
		s.metrics.LoginOutcome("error")
		return nil, fmt.Errorf("auth: find identity: %w", err)
	}
	if !identity.Active() {
		return nil, s.loginFailed(ctx, req.Username, "deactivated", ErrAccountDeactivated)
	}
	if err := VerifyPassword(identity.PasswordHash, req.Password); err != nil {
		return nil, s.loginFailed(ctx, req.Username, "invalid_credentials", ErrInvalidCredentials)
	}

	roles, err := s.store.Roles().RoleNames(ctx, identity.ID)
	if err != nil {
		s.metrics.LoginOutcome("error")
		return nil, fmt.Errorf("auth: list roles: %w", err)
	}
	resp, err := s.openSession(ctx, Principal{
		ID:       identity.ID,
		Username: identity.Username,
		Email:    identity.Email,
		Roles:    roles,
	})
	if err != nil {
		s.metrics.LoginOutcome("error")
		return nil, err
	}

	s.metrics.LoginOutcome("success")
	ctx = audit.WithActor(ctx, strconv.FormatInt(identity.ID, 10))
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"username": identity.Username})
	return resp, nil
}

func (s *Service) loginFailed(ctx context.Context, username, outcome string, err error) error {
	s.metrics.LoginOutcome(outcome)
	_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{
		"username": username,
		"reason":   outcome,
	})
	return err
}

// Register creates an active identity, links the default role and opens a session.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		s.metrics.RegisterOutcome("invalid_input")
		return nil, err
	}

	_, err := s.store.Identities().FindByUsernameOrEmail(ctx, req.Username, req.Email)
	switch {
	case err == nil:
		s.metrics.RegisterOutcome("conflict")
		return nil, ErrConflict
	case !errors.Is(err, ErrNotFound):
		s.metrics.RegisterOutcome("error")
		return nil, fmt.Errorf("auth: find identity: %w", err)
	}

	hash, err := HashPassword(req.Password, s.passwordCost)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			s.metrics.RegisterOutcome("invalid_input")
			return nil, err
		}
		s.metrics.RegisterOutcome("error")
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	identity, err := s.store.Identities().Create(ctx, req.Username, req.Email, hash)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.RegisterOutcome("conflict")
			return nil, ErrConflict
		}
		s.metrics.RegisterOutcome("error")
		return nil, fmt.Errorf("auth: create identity: %w", err)
	}

	s.linkDefaultRole(ctx, identity.ID)

	// The role claim is always the default role, whether or not the link above stuck.
	resp, err := s.openSession(ctx, Principal{
		ID:       identity.ID,
		Username: identity.Username,
		Email:    identity.Email,
		Roles:    []string{DefaultRoleName},
	})
	if err != nil {
		s.metrics.RegisterOutcome("error")
		return nil, err
	}

	s.metrics.RegisterOutcome("success")
	ctx = audit.WithActor(ctx, strconv.FormatInt(identity.ID, 10))
	_ = audit.LogEvent(ctx, "auth.register.succeeded", map[string]any{
		"username": identity.Username,
		"email":    identity.Email,
	})
	return resp, nil
}

func (s *Service) linkDefaultRole(ctx context.Context, identityID int64) {
	role, err := s.store.Roles().FindDefault(ctx)
	if err == nil {
		err = s.store.Roles().Assign(ctx, identityID, role.ID)
	}
	if err != nil {
		s.metrics.RoleLinkFailed()
		s.logger.WarnContext(ctx, "default role not linked",
			slog.Int64("identity_id", identityID),
			slog.String("role", DefaultRoleName),
			slog.Any("error", err),
		)
	}
}

// ValidateToken runs both validation stages and returns the decoded payload.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Payload, error) {
	payload, err := s.validator.Validate(ctx, token)
	if err != nil {
		s.metrics.ValidationOutcome("invalid")
		return nil, err
	}
	s.metrics.ValidationOutcome("valid")
	return payload, nil
}

// Logout removes every session recorded for token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) (LogoutResult, error) {
	removed, err := s.sessions.DeleteByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return LogoutResult{}, fmt.Errorf("auth: delete sessions: %w", err)
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"removed": removed})
	return LogoutResult{Success: true, Removed: removed}, nil
}

func (s *Service) openSession(ctx context.Context, principal Principal) (*TokenResponse, error) {
	principal.Roles = normalizeRoles(principal.Roles)
	pair, err := s.issuer.Issue(principal)
	if err != nil {
		return nil, fmt.Errorf("auth: issue tokens: %w", err)
	}
	now := s.now().UTC()
	sess := &Session{
		IdentityID:   principal.ID,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(s.sessionTTL),
		CreatedAt:    now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("auth: record session: %w", err)
	}
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
		TokenType:    TokenTypeBearer,
		User:         principal,
	}, nil
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
