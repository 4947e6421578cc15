package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"projectdesk.io/internal/audit"
	"projectdesk.io/internal/auth"
	"projectdesk.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	msgHeaderRequired = "Authorization header is required"
	msgInvalidToken   = "Invalid or expired token"

	// DefaultValidationTimeout bounds one remote validation.
	DefaultValidationTimeout = 10 * time.Second
)

// ErrValidationTimeout is returned when the validator does not answer in time.
var ErrValidationTimeout = errors.New("token validation timed out")

// TokenValidator decides whether a bearer token is acceptable.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Payload, error)
}

// ValidatorFunc adapts a function to TokenValidator.
type ValidatorFunc func(ctx context.Context, token string) (*auth.Payload, error)

func (f ValidatorFunc) ValidateToken(ctx context.Context, token string) (*auth.Payload, error) {
	return f(ctx, token)
}

// TimeoutValidator bounds the wait on another validator. The caller gets
// ErrValidationTimeout once the budget is spent even if the inner call
// ignores its context; the inner call may still finish on its own.
type TimeoutValidator struct {
	next    TokenValidator
	timeout time.Duration
}

// NewTimeoutValidator wraps next. A non-positive timeout selects the default.
func NewTimeoutValidator(next TokenValidator, timeout time.Duration) *TimeoutValidator {
	if timeout <= 0 {
		timeout = DefaultValidationTimeout
	}
	return &TimeoutValidator{next: next, timeout: timeout}
}

type validation struct {
	payload *auth.Payload
	err     error
}

func (v *TimeoutValidator) ValidateToken(ctx context.Context, token string) (*auth.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	done := make(chan validation, 1)
	go func() {
		payload, err := v.next.ValidateToken(ctx, token)
		done <- validation{payload: payload, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.payload == nil {
			return nil, auth.ErrInvalidToken
		}
		return res.payload, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrValidationTimeout, ctx.Err())
	}
}

// Guard rejects requests without a valid bearer token before next runs.
// Allowed requests carry the decoded payload and raw token in their context.
func Guard(validator TokenValidator, logger *slog.Logger, metrics *obs.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = obs.Logger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				metrics.GuardDecision("missing_header")
				unauthorized(w, r, msgHeaderRequired)
				return
			}

			payload, err := validator.ValidateToken(r.Context(), token)
			if err == nil && payload == nil {
				err = auth.ErrInvalidToken
			}
			if err != nil {
				metrics.GuardDecision("reject")
				level := slog.LevelDebug
				if !errors.Is(err, auth.ErrInvalidToken) {
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "token rejected",
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.Any("error", err),
				)
				unauthorized(w, r, msgInvalidToken)
				return
			}

			metrics.GuardDecision("allow")
			ctx := auth.ContextWithPayload(r.Context(), *payload)
			ctx = auth.ContextWithToken(ctx, token)
			ctx = audit.WithActor(ctx, strconv.FormatInt(payload.Sub, 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken strips a literal "Bearer " prefix. A header without the prefix
// is passed through unchanged and left for the validator to reject.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(authHeader)
	if header == "" {
		return "", false
	}
	return strings.TrimPrefix(header, bearer), true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="projectdesk"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
