// Package httpapi serves the auth engine over JSON/HTTP with echo.
package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"

	rentAuth "github.com/MrEthical07/rentAuth"
	"github.com/MrEthical07/rentAuth/internal"
	"github.com/MrEthical07/rentAuth/internal/rate"
	"github.com/MrEthical07/rentAuth/middleware"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Service is the engine surface the handlers call. *rentAuth.Engine
// implements it.
type Service interface {
	middleware.Authenticator
	Register(ctx context.Context, req rentAuth.RegisterRequest) (*rentAuth.AuthResult, error)
	Login(ctx context.Context, req rentAuth.LoginRequest) (*rentAuth.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*rentAuth.TokenPair, error)
	Logout(ctx context.Context, req rentAuth.LogoutRequest) error
	ChangePassword(ctx context.Context, req rentAuth.ChangePasswordRequest) error
	SessionActive(ctx context.Context, refreshToken string) (bool, error)
	RevokeAllSessions(ctx context.Context, subjectID string) error
	ResetPassword(ctx context.Context, subjectID string) (string, error)
}

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

// Throttle is satisfied by *rate.Limiter.
type Throttle interface {
	Allow(ctx context.Context, key string) (rate.Decision, error)
}

type Handler struct {
	svc        Service
	validator  *requestValidator
	adminRoles []string
	checks     map[string]Check
	throttle   Throttle
	logger     *zap.Logger
}

type Option func(*Handler)

// WithAdminRoles sets the roles allowed on /admin routes. Default "admin".
func WithAdminRoles(roles ...string) Option {
	return func(h *Handler) { h.adminRoles = roles }
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check Check) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// WithThrottle caps register, login and refresh requests per client IP.
func WithThrottle(t Throttle) Option {
	return func(h *Handler) { h.throttle = t }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:        svc,
		validator:  newRequestValidator(),
		adminRoles: []string{"admin"},
		checks:     make(map[string]Check),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API under g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.Use(middleware.EchoClientInfo)

	auth := g.Group("/auth")
	auth.POST("/register", h.HandleRegister, h.throttled("register"))
	auth.POST("/login", h.HandleLogin, h.throttled("login"))
	auth.POST("/refresh", h.HandleRefresh, h.throttled("refresh"))
	auth.POST("/session", h.HandleSessionActive)
	auth.POST("/logout", h.HandleLogout)

	protected := auth.Group("", middleware.EchoGuard(h.svc, ""))
	protected.GET("/me", h.HandleMe)
	protected.POST("/password", h.HandleChangePassword)

	admin := g.Group("/admin", middleware.EchoGuard(h.svc, ""), middleware.EchoRequireRole(h.adminRoles...))
	admin.POST("/identities/:id/revoke-sessions", h.HandleRevokeSessions)
	admin.POST("/identities/:id/reset-password", h.HandleResetPassword)
}

// RegisterProbes mounts /healthz and /readyz on e.
func (h *Handler) RegisterProbes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", h.HandleReady)
}

type registerBody struct {
	Email      string            `json:"email" validate:"required,max=254"`
	Password   string            `json:"password" validate:"required,max=1024"`
	Role       string            `json:"role" validate:"max=64"`
	Profile    map[string]string `json:"profile" validate:"max=32,dive,keys,max=64,endkeys,max=512"`
	DeviceInfo string            `json:"device_info" validate:"max=256"`
}

func (h *Handler) HandleRegister(c echo.Context) error {
	var body registerBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	res, err := h.svc.Register(c.Request().Context(), rentAuth.RegisterRequest{
		Email:      body.Email,
		Password:   body.Password,
		Role:       body.Role,
		Profile:    body.Profile,
		DeviceInfo: body.DeviceInfo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type loginBody struct {
	Email      string `json:"email" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	DeviceInfo string `json:"device_info" validate:"max=256"`
}

func (h *Handler) HandleLogin(c echo.Context) error {
	var body loginBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	res, err := h.svc.Login(c.Request().Context(), rentAuth.LoginRequest{
		Email:      body.Email,
		Password:   body.Password,
		DeviceInfo: body.DeviceInfo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=4096"`
}

func (h *Handler) HandleRefresh(c echo.Context) error {
	var body refreshBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	pair, err := h.svc.Refresh(c.Request().Context(), body.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) HandleSessionActive(c echo.Context) error {
	var body refreshBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	active, err := h.svc.SessionActive(c.Request().Context(), body.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": active})
}

type logoutBody struct {
	RefreshToken string `json:"refresh_token" validate:"max=4096"`
	AllDevices   bool   `json:"all_devices"`
}

// HandleLogout is not behind the guard: an expired access token may still
// end its session.
func (h *Handler) HandleLogout(c echo.Context) error {
	token, ok := middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="rentauth"`)
		return c.JSON(http.StatusUnauthorized, ErrorBody{Error: rentAuth.KindTokenMalformed.String(), Message: "bearer token required"})
	}

	var body logoutBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	err := h.svc.Logout(c.Request().Context(), rentAuth.LogoutRequest{
		AccessToken:  token,
		RefreshToken: body.RefreshToken,
		AllDevices:   body.AllDevices,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleMe(c echo.Context) error {
	claims, ok := middleware.EchoClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorBody{Error: rentAuth.KindTokenMalformed.String()})
	}
	return c.JSON(http.StatusOK, claims)
}

type changePasswordBody struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

func (h *Handler) HandleChangePassword(c echo.Context) error {
	claims, ok := middleware.EchoClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorBody{Error: rentAuth.KindTokenMalformed.String()})
	}

	var body changePasswordBody
	if err := h.bind(c, &body); err != nil {
		return writeError(c, err)
	}

	err := h.svc.ChangePassword(c.Request().Context(), rentAuth.ChangePasswordRequest{
		SubjectID:       claims.SubjectID,
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleRevokeSessions(c echo.Context) error {
	if !internal.IsID(c.Param("id")) {
		return writeError(c, &validationError{Fields: []FieldError{{Field: "id", Message: "must be an identity id"}}})
	}
	if err := h.svc.RevokeAllSessions(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleResetPassword(c echo.Context) error {
	if !internal.IsID(c.Param("id")) {
		return writeError(c, &validationError{Fields: []FieldError{{Field: "id", Message: "must be an identity id"}}})
	}
	generated, err := h.svc.ResetPassword(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, map[string]string{"password": generated})
}

func (h *Handler) HandleReady(c echo.Context) error {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(c.Request().Context()); err != nil {
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	return c.JSON(status, results)
}

// bind decodes a JSON body into dst and validates it. An empty body
// decodes to the zero value.
func (h *Handler) bind(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return &validationError{Fields: []FieldError{{Field: "body", Message: "must be a JSON object"}}}
	}
	return h.validator.Validate(dst)
}

// throttled limits an endpoint per client IP. A throttle failure lets the
// request through; the engine's lockout still applies.
func (h *Handler) throttled(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.throttle == nil {
				return next(c)
			}

			d, err := h.throttle.Allow(c.Request().Context(), endpoint+":"+c.RealIP())
			if err != nil {
				h.logger.Warn("throttle unavailable", zap.String("endpoint", endpoint), zap.Error(err))
				return next(c)
			}
			if !d.Allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: "rate_limited", Message: "too many requests"})
			}
			return next(c)
		}
	}
}
