package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	rentAuth "github.com/MrEthical07/rentAuth"
)

// Authenticator is the part of *rentAuth.Engine the guards need.
type Authenticator interface {
	AuthenticateAudience(ctx context.Context, accessToken, audience string) (*rentAuth.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by a guard.
func ClaimsFromContext(ctx context.Context) (*rentAuth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*rentAuth.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims the way Guard does.
func WithClaims(ctx context.Context, claims *rentAuth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Guard accepts requests carrying an access token issued for the engine's
// configured audience.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return GuardAudience(auth, "")
}

// GuardAudience accepts only access tokens issued for audience. An empty
// audience means the engine's configured one.
func GuardAudience(auth Authenticator, audience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := auth.AuthenticateAudience(r.Context(), token, audience)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ClientInfo attaches the caller's IP address and User-Agent to the request
// context for the engine.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := rentAuth.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		if ua := r.UserAgent(); ua != "" {
			ctx = rentAuth.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// StatusFor maps an engine error to the status a guard answers with.
func StatusFor(err error) int {
	if rentAuth.KindOf(err) == rentAuth.KindServiceUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

func writeAuthError(w http.ResponseWriter, err error) {
	if StatusFor(err) == http.StatusServiceUnavailable {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	unauthorized(w)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="rentauth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
