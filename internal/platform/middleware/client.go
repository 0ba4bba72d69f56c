package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// maxForwardedLength caps the X-Forwarded-For header we are willing to parse.
const maxForwardedLength = 500

type contextKeyClientIP struct{}
type contextKeyUserAgent struct{}

// ClientMetadata records the caller's IP address and User-Agent on the context.
// X-Forwarded-For is honoured only when the direct peer is a trusted proxy.
func ClientMetadata(trustedProxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKeyClientIP{}, clientIP(r, trustedProxies))
			ctx = context.WithValue(ctx, contextKeyUserAgent{}, r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the address recorded by ClientMetadata, or "".
func GetClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(contextKeyClientIP{}).(string)
	return ip
}

// GetUserAgent returns the User-Agent recorded by ClientMetadata, or "".
func GetUserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(contextKeyUserAgent{}).(string)
	return ua
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	addr, err := netip.ParseAddr(remote)
	if err != nil {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" || len(xff) > maxForwardedLength || !isTrusted(addr, trusted) {
		return addr.String()
	}
	first, _, _ := strings.Cut(xff, ",")
	forwarded, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return addr.String()
	}
	return forwarded.String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
