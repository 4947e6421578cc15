package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"projectdesk.io/internal/auth"
	"projectdesk.io/internal/obs"
)

const serviceName = "projectdesk-gateway"

// AuthBackend is the remote auth service as seen by the gateway.
type AuthBackend interface {
	TokenValidator
	Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.TokenResponse, error)
	Logout(ctx context.Context, token string) (auth.LogoutResult, error)
}

// Options tunes the gateway. Zero values select defaults.
type Options struct {
	Logger             *slog.Logger
	Metrics            *obs.Metrics
	Version            string
	Development        bool
	Timeout            time.Duration
	RateBurst          int
	RatePerSec         float64
	LoginRatePerMinute int
	MaxBodyBytes       int64
	AllowedOrigins     []string
	// Validator overrides the backend for the guard and validate-token.
	Validator TokenValidator
	// Ready reports upstream readiness for /readyz.
	Ready func(ctx context.Context) error
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = obs.Logger()
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultValidationTimeout
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 10
	}
	if o.LoginRatePerMinute <= 0 {
		o.LoginRatePerMinute = 10
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	return o
}

// API is the gateway HTTP layer.
type API struct {
	backend   AuthBackend
	validator TokenValidator
	opts      Options
	logger    *slog.Logger
	metrics   *obs.Metrics
	router    chi.Router
}

// New builds the gateway router.
func New(backend AuthBackend, opts Options) *API {
	opts = opts.withDefaults()
	var inner TokenValidator = backend
	if opts.Validator != nil {
		inner = opts.Validator
	}
	a := &API{
		backend:   backend,
		validator: NewTimeoutValidator(inner, opts.Timeout),
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	a.router = a.routes()
	return a
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler { return a.router }

// Validator returns the bounded validator used by the guard.
func (a *API) Validator() TokenValidator { return a.validator }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON(a.logger),
		a.metrics.Instrument,
		middleware.Recoverer,
		SecurityHeaders(a.logger, a.opts.Development),
		CORS(a.opts.AllowedOrigins),
		MaxBodyBytes(a.opts.MaxBodyBytes),
		RateLimit(a.opts.RateBurst, a.opts.RatePerSec),
	)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	credentialLimit := httprate.Limit(a.opts.LoginRatePerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "too many attempts, try again later")
		}),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(credentialLimit).Post("/login", a.handleLogin)
			r.With(credentialLimit).Post("/register", a.handleRegister)
			r.Post("/logout", a.handleLogout)
			r.Post("/validate-token", a.handleValidateToken)
		})
		r.Group(func(r chi.Router) {
			r.Use(Guard(a.validator, a.logger, a.metrics))
			r.Get("/users/profile", a.handleProfile)
		})
	})
	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
