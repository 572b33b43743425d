package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/batchpush/internal/core"
)

// WithRequestMetadata records the caller's IP and User-Agent for submission
// history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithRequestMeta(ctx, core.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has already
// replaced with the proxied client address when appropriate.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
