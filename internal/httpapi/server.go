package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/rentAuth/internal/logging"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type ServerConfig struct {
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// BodyLimit caps request bodies, e.g. "64K".
	BodyLimit string
}

// NewEcho returns an echo instance with recovery, request ids, request
// logging and JSON error rendering installed. Routes are mounted by the
// caller.
func NewEcho(cfg ServerConfig, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	limit := cfg.BodyLimit
	if limit == "" {
		limit = "64K"
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(logging.RequestLogger(logger))
	e.Use(echomw.BodyLimit(limit))
	return e
}

// errorHandler renders errors that escaped a handler, such as 404s and
// guard rejections, in the ErrorBody shape.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}

		body := ErrorBody{Error: errorCode(status), Message: message}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("write error response", zap.Error(err))
		}
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status < http.StatusInternalServerError {
			return "bad_request"
		}
		return "internal"
	}
}
