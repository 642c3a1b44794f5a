package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	rentAuth "github.com/MrEthical07/rentAuth"
	"github.com/labstack/echo/v4"
)

// ErrorBody is every non-2xx JSON response.
type ErrorBody struct {
	Error   string       `json:"error"`
	Message string       `json:"message,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

var kindStatus = map[rentAuth.ErrorKind]int{
	rentAuth.KindInvalidCredentials:        http.StatusUnauthorized,
	rentAuth.KindAccountAlreadyExists:      http.StatusConflict,
	rentAuth.KindAccountLocked:             http.StatusTooManyRequests,
	rentAuth.KindTokenExpired:              http.StatusUnauthorized,
	rentAuth.KindTokenMalformed:            http.StatusUnauthorized,
	rentAuth.KindTokenRevoked:              http.StatusUnauthorized,
	rentAuth.KindTokenAudienceMismatch:     http.StatusUnauthorized,
	rentAuth.KindRefreshTokenNotFound:      http.StatusUnauthorized,
	rentAuth.KindRefreshTokenReuseDetected: http.StatusUnauthorized,
	rentAuth.KindGenerationError:           http.StatusInternalServerError,
	rentAuth.KindServiceUnavailable:        http.StatusServiceUnavailable,
	rentAuth.KindPasswordPolicy:            http.StatusUnprocessableEntity,
	rentAuth.KindInvalidInput:              http.StatusBadRequest,
}

// StatusOf returns the HTTP status for an engine error kind.
func StatusOf(kind rentAuth.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err. Only the kind and the caller-safe Detail of an
// engine error reach the client.
func writeError(c echo.Context, err error) error {
	var verr *validationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, ErrorBody{
			Error:  rentAuth.KindInvalidInput.String(),
			Fields: verr.Fields,
		})
	}

	var engErr *rentAuth.Error
	if !errors.As(err, &engErr) {
		return c.JSON(http.StatusInternalServerError, ErrorBody{Error: rentAuth.KindUnknown.String()})
	}

	status := StatusOf(engErr.Kind)
	if engErr.Kind == rentAuth.KindAccountLocked && engErr.RetryAfter > 0 {
		secs := int(math.Ceil(engErr.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="rentauth"`)
	}
	return c.JSON(status, ErrorBody{Error: engErr.Kind.String(), Message: engErr.Detail})
}
