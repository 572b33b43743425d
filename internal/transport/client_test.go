package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flakyTransport fails the first `failures` round trips with a dial error.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if n := f.calls.Add(1); n <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return f.next.RoundTrip(r)
}

func noKeepAlive() *http.Transport {
	return &http.Transport{DisableKeepAlives: true}
}

func newTestClient(baseURL string, opts ...Option) *Client {
	base := []Option{
		WithHTTPClient(&http.Client{Transport: noKeepAlive()}),
		WithBackoff(time.Millisecond),
	}
	return New(baseURL, append(base, opts...)...)
}

func TestClient_GetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Content-Type"), "GET without body should not send Content-Type")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL + "/").Get(context.Background(), "/api/health")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Body))
}

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "leads", payload["target_table"])
		w.Write([]byte(`{"inserted":1}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).PostJSON(context.Background(), "insert", map[string]any{
		"records":      []map[string]any{{"a": 1}},
		"target_table": "leads",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"inserted":1}`, string(resp.Body))
}

func TestClient_RetriesNetworkFailures(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		maxAttempts int
		wantCalls   int32
		wantErr     bool
	}{
		{name: "no failures", failures: 0, maxAttempts: 3, wantCalls: 1},
		{name: "recovers on second attempt", failures: 1, maxAttempts: 3, wantCalls: 2},
		{name: "recovers on last attempt", failures: 2, maxAttempts: 3, wantCalls: 3},
		{name: "exhausts attempts", failures: 5, maxAttempts: 3, wantCalls: 3, wantErr: true},
		{name: "single attempt", failures: 5, maxAttempts: 1, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var served atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				served.Add(1)
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			ft := &flakyTransport{failures: tt.failures, next: noKeepAlive()}
			c := New(srv.URL,
				WithHTTPClient(&http.Client{Transport: ft}),
				WithBackoff(time.Millisecond),
				WithMaxAttempts(tt.maxAttempts),
			)

			resp, err := c.Get(context.Background(), "/")

			assert.Equal(t, tt.wantCalls, ft.calls.Load())
			if tt.wantErr {
				require.Error(t, err)
				var te *Error
				require.ErrorAs(t, err, &te)
				assert.Equal(t, KindNetwork, te.Kind)
				assert.Equal(t, int(tt.wantCalls), te.Attempts)
				assert.Zero(t, served.Load())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int(tt.wantCalls), resp.Attempts)
			assert.Equal(t, int32(1), served.Load())
		})
	}
}

func TestClient_DoesNotRetryHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"detail":"nope"}`},
		{name: "not found without body", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, WithMaxAttempts(3)).Get(context.Background(), "/")
			require.Error(t, err)

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, KindHTTPStatus, te.Kind)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.body, te.Body)
			assert.Equal(t, 1, te.Attempts)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClient_ErrorBodyTruncated(t *testing.T) {
	long := strings.Repeat("x", maxErrorBody*2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, long)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Get(context.Background(), "/")
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Len(t, te.Body, maxErrorBody)
}

func TestClient_Timeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithTimeout(20*time.Millisecond), WithMaxAttempts(3)).
		Get(context.Background(), "/")

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "timeouts are not retried")
}

func TestClient_CallerCancellation(t *testing.T) {
	ft := &flakyTransport{failures: 100, next: noKeepAlive()}
	c := New("http://127.0.0.1:1",
		WithHTTPClient(&http.Client{Transport: ft}),
		WithBackoff(time.Hour),
		WithMaxAttempts(3),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, "/")
	require.Error(t, err)

	assert.Equal(t, KindNetwork, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), ft.calls.Load())
}

func TestClient_CORS(t *testing.T) {
	const origin = "https://app.example.com"

	tests := []struct {
		name        string
		allowOrigin string
		allowCreds  string
		credentials bool
		wantKind    Kind
	}{
		{name: "missing header", wantKind: KindCors},
		{name: "wildcard", allowOrigin: "*"},
		{name: "exact origin", allowOrigin: origin},
		{name: "other origin", allowOrigin: "https://evil.example.com", wantKind: KindCors},
		{name: "credentialed wildcard", allowOrigin: "*", allowCreds: "true", credentials: true, wantKind: KindCors},
		{name: "credentialed without allow-credentials", allowOrigin: origin, credentials: true, wantKind: KindCors},
		{name: "credentialed ok", allowOrigin: origin, allowCreds: "true", credentials: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.Equal(t, origin, r.Header.Get("Origin"))
				if tt.allowOrigin != "" {
					w.Header().Set("Access-Control-Allow-Origin", tt.allowOrigin)
				}
				if tt.allowCreds != "" {
					w.Header().Set("Access-Control-Allow-Credentials", tt.allowCreds)
				}
				w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, WithOrigin(origin), WithCredentials(tt.credentials))
			_, err := c.Get(context.Background(), "/api/health")

			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, int32(1), calls.Load(), "cors failures are not retried")
		})
	}
}

func TestClient_ErrorStatusWithOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowOrigin    string
		wantCORSReason bool
	}{
		{name: "no cors headers", wantCORSReason: true},
		{name: "allowed origin", allowOrigin: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.allowOrigin != "" {
					w.Header().Set("Access-Control-Allow-Origin", tt.allowOrigin)
				}
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("database exploded"))
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, WithOrigin("http://localhost:3000"))
			_, err := c.PostJSON(context.Background(), "/insert", map[string]any{"records": []any{}})

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, KindHTTPStatus, te.Kind)
			assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
			assert.Equal(t, "database exploded", te.Body)
			if tt.wantCORSReason {
				assert.Contains(t, te.CORSReason, "Access-Control-Allow-Origin")
				assert.Contains(t, te.Message, te.CORSReason)
			} else {
				assert.Empty(t, te.CORSReason)
			}
		})
	}
}

func TestClient_PerRequestOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Do(context.Background(), Request{
		Path:        srv.URL + "/absolute",
		Origin:      "https://probe.local",
		MaxAttempts: 1,
		Header:      http.Header{"Accept": {"text/csv"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestClient_SameOriginSkipsCORS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Origin"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithOrigin("https://app.example.com"))
	_, err := c.Do(context.Background(), Request{Path: "/api/health", SameOrigin: true})
	require.NoError(t, err)
}

func TestBackoffDelay(t *testing.T) {
	c := New("http://example.com", WithBackoff(100*time.Millisecond))

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		if got := c.backoffDelay(i + 1); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindHTTPStatus, StatusCode: 500, Body: "boom"}, "HTTP 500: boom"},
		{&Error{Kind: KindHTTPStatus, StatusCode: 404}, "HTTP 404"},
		{&Error{Kind: KindTimeout, Message: "request timed out"}, "timeout error: request timed out"},
		{&Error{Kind: KindCors, Message: "no header"}, "cors error: no header"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestMalformed(t *testing.T) {
	err := Malformed(&Response{StatusCode: 200, Body: []byte("<html>"), Attempts: 2}, "response is not JSON")
	assert.Equal(t, KindMalformed, err.Kind)
	assert.Equal(t, "<html>", err.Body)
	assert.Equal(t, 2, err.Attempts)
	assert.False(t, err.Retryable())
}
