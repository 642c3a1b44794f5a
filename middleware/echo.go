package middleware

import (
	"net/http"
	"slices"

	rentAuth "github.com/MrEthical07/rentAuth"
	"github.com/labstack/echo/v4"
)

// EchoClaimsKey is the echo.Context key EchoGuard stores claims under.
const EchoClaimsKey = "rentauth.claims"

// EchoGuard is GuardAudience for echo. Claims are stored both in the echo
// context and in the request context.
func EchoGuard(auth Authenticator, audience string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth == nil {
				return echoUnauthorized(c)
			}

			token, ok := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echoUnauthorized(c)
			}

			req := c.Request()
			claims, err := auth.AuthenticateAudience(req.Context(), token, audience)
			if err != nil {
				if StatusFor(err) == http.StatusServiceUnavailable {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable").SetInternal(err)
				}
				return echoUnauthorized(c)
			}

			c.Set(EchoClaimsKey, claims)
			c.SetRequest(req.WithContext(WithClaims(req.Context(), claims)))
			return next(c)
		}
	}
}

// EchoRequireRole is RequireRole for echo.
func EchoRequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := EchoClaims(c)
			if !ok {
				return echoUnauthorized(c)
			}
			if !slices.Contains(roles, claims.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden: missing required role")
			}
			return next(c)
		}
	}
}

// EchoClientInfo is ClientInfo for echo. The IP comes from c.RealIP, so it
// honors the echo instance's IPExtractor.
func EchoClientInfo(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := rentAuth.WithClientIP(req.Context(), c.RealIP())
		if ua := req.UserAgent(); ua != "" {
			ctx = rentAuth.WithUserAgent(ctx, ua)
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// EchoClaims returns the claims stored by EchoGuard.
func EchoClaims(c echo.Context) (*rentAuth.Claims, bool) {
	claims, ok := c.Get(EchoClaimsKey).(*rentAuth.Claims)
	if ok && claims != nil {
		return claims, true
	}
	return ClaimsFromContext(c.Request().Context())
}

func echoUnauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="rentauth"`)
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}
