package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"projectdesk.io/internal/auth"
	"projectdesk.io/internal/obs"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestGuardMissingHeaderSkipsValidator(t *testing.T) {
	var calls, reached int32
	validator := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return &auth.Payload{Sub: 1}, nil
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&reached, 1)
	})
	handler := RequestID(Guard(validator, nil, obs.NewMetrics())(next))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/profile", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if calls != 0 || reached != 0 {
		t.Fatalf("validator calls=%d handler calls=%d, want 0/0", calls, reached)
	}
	body := decodeEnvelope(t, rr)
	if body["message"] != "Authorization header is required" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatal("expected request_id in error body")
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
}

func TestGuardStripsLiteralBearerPrefix(t *testing.T) {
	var seen string
	validator := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		seen = token
		return nil, auth.ErrInvalidToken
	})
	handler := Guard(validator, nil, nil)(http.NotFoundHandler())

	cases := map[string]string{
		"Bearer abc.def": "abc.def",
		"bearer abc.def": "bearer abc.def",
		"abc.def":        "abc.def",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seen != want {
			t.Fatalf("header %q: validator saw %q, want %q", header, seen, want)
		}
	}
}

func TestGuardAllowAttachesPayload(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		if token != "good" {
			return nil, auth.ErrInvalidToken
		}
		return &auth.Payload{Sub: 42, Username: "alice", Roles: []string{"user"}}, nil
	})
	var got auth.Payload
	var gotToken string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PayloadFromContext(r.Context())
		gotToken, _ = auth.TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Guard(validator, nil, nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got.Sub != 42 || got.Username != "alice" || gotToken != "good" {
		t.Fatalf("unexpected context: %+v %q", got, gotToken)
	}
}

func TestGuardRejectionsShareShape(t *testing.T) {
	validator := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		switch token {
		case "expired":
			return nil, errors.New("invalid or expired token: token has invalid claims: token is expired")
		case "unreachable":
			return nil, errors.New("auth service unavailable")
		default:
			return nil, auth.ErrInvalidToken
		}
	})
	handler := Guard(validator, nil, nil)(http.NotFoundHandler())

	var first map[string]any
	for _, token := range []string{"garbage", "expired", "unreachable"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", token, rr.Code)
		}
		body := decodeEnvelope(t, rr)
		if first == nil {
			first = body
			continue
		}
		if body["message"] != first["message"] || body["statusCode"] != first["statusCode"] {
			t.Fatalf("%s: response %v differs from %v", token, body, first)
		}
	}
	if first["message"] != "Invalid or expired token" {
		t.Fatalf("unexpected message: %v", first["message"])
	}
}

func TestTimeoutValidator(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		<-release
		return &auth.Payload{Sub: 1}, nil
	})

	v := NewTimeoutValidator(slow, 20*time.Millisecond)
	start := time.Now()
	_, err := v.ValidateToken(context.Background(), "tok")
	if !errors.Is(err, ErrValidationTimeout) {
		t.Fatalf("expected ErrValidationTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}

	fast := NewTimeoutValidator(ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline on the inner context")
		}
		return &auth.Payload{Sub: 7}, nil
	}), time.Second)
	p, err := fast.ValidateToken(context.Background(), "tok")
	if err != nil || p.Sub != 7 {
		t.Fatalf("unexpected result: %+v %v", p, err)
	}

	empty := NewTimeoutValidator(ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		return nil, nil
	}), time.Second)
	if _, err := empty.ValidateToken(context.Background(), "tok"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty result, got %v", err)
	}
}

func TestGuardRejectsOnTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := ValidatorFunc(func(ctx context.Context, token string) (*auth.Payload, error) {
		<-release
		return &auth.Payload{Sub: 1}, nil
	})
	var reached int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt32(&reached, 1) })
	handler := Guard(NewTimeoutValidator(slow, 20*time.Millisecond), nil, nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || reached != 0 {
		t.Fatalf("expected rejection without reaching handler, got %d / %d", rr.Code, reached)
	}
}
