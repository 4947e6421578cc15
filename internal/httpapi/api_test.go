package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"projectdesk.io/internal/auth"
	"projectdesk.io/internal/obs"
	"projectdesk.io/internal/rpc"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, backend AuthBackend, opts Options) *apiClient {
	t.Helper()
	if opts.RateBurst == 0 {
		opts.RateBurst = 100
		opts.RatePerSec = 100
	}
	if opts.LoginRatePerMinute == 0 {
		opts.LoginRatePerMinute = 100
	}
	if opts.Metrics == nil {
		opts.Metrics = obs.NewMetrics()
	}
	api := New(backend, opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func newServiceBackend(t *testing.T) (*auth.Service, *auth.MemoryStore) {
	t.Helper()
	store := auth.NewMemoryStore()
	svc, err := auth.NewService(store, auth.TokenConfig{Secret: []byte("gateway-secret")}, auth.WithPasswordCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestGatewayFlow(t *testing.T) {
	svc, _ := newServiceBackend(t)
	c := newTestAPI(t, svc, Options{})

	resp, body := c.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret!",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", resp.StatusCode, body)
	}
	if body["statusCode"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected envelope: %v", body)
	}

	resp, body = c.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"username": "alice", "password": "s3cret!",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	token := data["access_token"].(string)
	if data["token_type"] != "Bearer" || data["expires_in"] != float64(3600) {
		t.Fatalf("unexpected token data: %v", data)
	}
	user := data["user"].(map[string]any)
	userID := user["id"].(float64)

	resp, body = c.do(http.MethodGet, "/v1/users/profile", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	profile := body["data"].(map[string]any)
	if profile["id"] != userID || profile["username"] != "alice" {
		t.Fatalf("unexpected profile: %v", profile)
	}

	resp, body = c.do(http.MethodPost, "/v1/auth/validate-token", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate-token: expected 200, got %d", resp.StatusCode)
	}
	if body["data"].(map[string]any)["sub"] != userID {
		t.Fatalf("sub mismatch: %v", body["data"])
	}

	for i := 0; i < 2; i++ {
		resp, body = c.do(http.MethodPost, "/v1/auth/logout", nil, bearerHeader(token))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("logout %d: expected 200, got %d (%v)", i, resp.StatusCode, body)
		}
		if body["data"].(map[string]any)["success"] != true {
			t.Fatalf("logout %d: unexpected body %v", i, body)
		}
	}

	resp, _ = c.do(http.MethodGet, "/v1/users/profile", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("profile after logout: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodPost, "/v1/auth/validate-token", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("validate-token after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestGatewayErrorMapping(t *testing.T) {
	svc, store := newServiceBackend(t)
	c := newTestAPI(t, svc, Options{})

	reg := map[string]string{"username": "bob", "email": "bob@example.com", "password": "s3cret!"}
	if resp, body := c.do(http.MethodPost, "/v1/auth/register", reg, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"conflict", "/v1/auth/register", reg, http.StatusConflict},
		{"password over 72 bytes", "/v1/auth/register", map[string]string{"username": "dora", "email": "dora@example.com", "password": strings.Repeat("é", 40)}, http.StatusBadRequest},
		{"invalid email", "/v1/auth/register", map[string]string{"username": "carl", "email": "x", "password": "s3cret!"}, http.StatusBadRequest},
		{"unknown field", "/v1/auth/login", map[string]string{"username": "bob", "password": "x", "extra": "1"}, http.StatusBadRequest},
		{"wrong password", "/v1/auth/login", map[string]string{"username": "bob", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", "/v1/auth/login", map[string]string{"username": "nobody", "password": "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp, body := c.do(http.MethodPost, tc.path, tc.body, nil)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d (%v)", tc.name, tc.want, resp.StatusCode, body)
		}
	}

	ident, err := store.Identities().FindByUsernameOrEmail(context.Background(), "bob", "bob")
	if err != nil {
		t.Fatalf("find bob: %v", err)
	}
	store.SetStatus(ident.ID, auth.StatusDeactivated)
	resp, body := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"username": "bob", "password": "s3cret!"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("deactivated: expected 403, got %d (%v)", resp.StatusCode, body)
	}
}

func TestExpiredTokenRejectedLikeGarbage(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	// The session outlives the token so only the signed expiry can reject it.
	svc, err := auth.NewService(auth.NewMemoryStore(), auth.TokenConfig{Secret: []byte("gateway-secret")},
		auth.WithPasswordCost(bcrypt.MinCost),
		auth.WithClock(clock),
		auth.WithSessionTTL(48*time.Hour),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	c := newTestAPI(t, svc, Options{})

	resp, body := c.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"username": "erin", "email": "erin@example.com", "password": "s3cret!",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}
	token := body["data"].(map[string]any)["access_token"].(string)

	headers := func(token string) map[string]string {
		h := bearerHeader(token)
		h["X-Request-ID"] = "same-request"
		return h
	}
	if resp, _ := c.do(http.MethodGet, "/v1/users/profile", nil, headers(token)); resp.StatusCode != http.StatusOK {
		t.Fatalf("fresh token: expected 200, got %d", resp.StatusCode)
	}

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	for _, path := range []string{"/v1/users/profile", "/v1/auth/validate-token"} {
		method := http.MethodGet
		if path == "/v1/auth/validate-token" {
			method = http.MethodPost
		}
		expiredResp, expiredBody := c.do(method, path, nil, headers(token))
		garbageResp, garbageBody := c.do(method, path, nil, headers("garbage"))
		if expiredResp.StatusCode != http.StatusUnauthorized || garbageResp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401/401, got %d/%d", path, expiredResp.StatusCode, garbageResp.StatusCode)
		}
		if !reflect.DeepEqual(expiredBody, garbageBody) {
			t.Fatalf("%s: expired and garbage responses differ:\n%v\n%v", path, expiredBody, garbageBody)
		}
		if expiredResp.Header.Get("WWW-Authenticate") != garbageResp.Header.Get("WWW-Authenticate") {
			t.Fatalf("%s: WWW-Authenticate differs", path)
		}
	}
}

type recordingBackend struct {
	calls int
	err   error
}

func (b *recordingBackend) Login(context.Context, auth.LoginRequest) (*auth.TokenResponse, error) {
	b.calls++
	return nil, b.err
}

func (b *recordingBackend) Register(context.Context, auth.RegisterRequest) (*auth.TokenResponse, error) {
	b.calls++
	return nil, b.err
}

func (b *recordingBackend) Logout(context.Context, string) (auth.LogoutResult, error) {
	b.calls++
	return auth.LogoutResult{}, b.err
}

func (b *recordingBackend) ValidateToken(context.Context, string) (*auth.Payload, error) {
	b.calls++
	return nil, b.err
}

func TestHeaderlessRequestsHaveNoSideEffects(t *testing.T) {
	backend := &recordingBackend{}
	c := newTestAPI(t, backend, Options{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/users/profile"},
		{http.MethodPost, "/v1/auth/logout"},
		{http.MethodPost, "/v1/auth/validate-token"},
	} {
		resp, body := c.do(tc.method, tc.path, nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.path, resp.StatusCode)
		}
		if body["message"] != "Authorization header is required" {
			t.Fatalf("%s: unexpected message %v", tc.path, body["message"])
		}
	}
	if backend.calls != 0 {
		t.Fatalf("backend was called %d times", backend.calls)
	}
}

func TestUnavailableBackendMapsTo503(t *testing.T) {
	backend := &recordingBackend{err: rpc.ErrUnavailable}
	c := newTestAPI(t, backend, Options{})

	resp, _ := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"username": "a", "password": "b"}, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodGet, "/v1/users/profile", nil, bearerHeader("tok"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("guard must collapse transport failures to 401, got %d", resp.StatusCode)
	}
}

func TestHealthReadyAndMetrics(t *testing.T) {
	ready := errors.New("auth service down")
	c := newTestAPI(t, &recordingBackend{}, Options{
		Version: "1.0.0",
		Ready:   func(context.Context) error { return ready },
	})

	resp, body := c.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || body["version"] != "1.0.0" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	resp, _ = c.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", resp.StatusCode)
	}
	ready = nil
	resp, _ = c.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, c.baseURL+"/metrics", nil)
	mresp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", mresp.StatusCode)
	}

	resp, body = c.do(http.MethodGet, "/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound || body["statusCode"] != float64(http.StatusNotFound) {
		t.Fatalf("not found: %d %v", resp.StatusCode, body)
	}
}

func TestCredentialThrottle(t *testing.T) {
	backend := &recordingBackend{err: auth.ErrInvalidCredentials}
	c := newTestAPI(t, backend, Options{LoginRatePerMinute: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, _ := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"username": "a", "password": "b"}, nil)
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence: %v", codes)
	}
}
