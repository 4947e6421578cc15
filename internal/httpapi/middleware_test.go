package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"projectdesk.io/internal/obs"
)

func TestRateLimitKeysByClientIP(t *testing.T) {
	handler := RequestID(RateLimit(1, 0.001)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	steps := []struct {
		remote, forwarded string
		want              int
	}{
		{remote: "10.0.0.1:1000", want: http.StatusNoContent},
		{remote: "10.0.0.1:2000", want: http.StatusTooManyRequests},
		{remote: "10.0.0.2:1000", want: http.StatusNoContent},
		// Behind a proxy the first forwarded address is the client.
		{remote: "192.168.1.1:80", forwarded: "10.0.0.1, 192.168.1.1", want: http.StatusTooManyRequests},
		{remote: "192.168.1.1:80", forwarded: "10.0.0.3", want: http.StatusNoContent},
	}
	for i, step := range steps {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = step.remote
		if step.forwarded != "" {
			req.Header.Set("X-Forwarded-For", step.forwarded)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != step.want {
			t.Fatalf("step %d: expected %d, got %d", i, step.want, rr.Code)
		}
		if rr.Code != http.StatusTooManyRequests {
			continue
		}
		if retry, err := strconv.Atoi(rr.Header().Get("Retry-After")); err != nil || retry < 1 {
			t.Fatalf("step %d: bad Retry-After %q", i, rr.Header().Get("Retry-After"))
		}
		var env envelope
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("step %d: decode envelope: %v", i, err)
		}
		if env.StatusCode != http.StatusTooManyRequests || env.RequestID != rr.Header().Get(requestIDHeader) {
			t.Fatalf("step %d: unexpected envelope %+v", i, env)
		}
	}
}

func TestLoggingJSONRecordsOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "info", "json")
	handler := RequestID(LoggingJSON(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/users/profile", nil)
	req.Header.Set(requestIDHeader, "req-42")
	req.RemoteAddr = "10.1.2.3:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry struct {
		Msg        string  `json:"msg"`
		RequestID  string  `json:"request_id"`
		Method     string  `json:"method"`
		Path       string  `json:"path"`
		Status     int     `json:"status"`
		DurationMS float64 `json:"duration_ms"`
		RemoteIP   string  `json:"remote_ip"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not one JSON object: %v\n%s", err, buf.String())
	}
	if entry.Msg != "request_complete" || entry.RequestID != "req-42" || entry.Method != http.MethodGet ||
		entry.Path != "/v1/users/profile" || entry.Status != http.StatusUnauthorized || entry.RemoteIP != "10.1.2.3" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.DurationMS < 0 {
		t.Fatalf("negative duration: %v", entry.DurationMS)
	}
}

func TestRequestIDReusesIncomingHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := SecurityHeaders(logger, true)(CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin: %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected origin allowed")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	handler := RequestID(MaxBodyBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := decodeJSON(w, r, &v); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"a-very-long-name"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
