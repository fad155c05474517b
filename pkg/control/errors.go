package control

import (
	stderrors "errors"
	"net/http"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error"`
	Type    string                 `json:"type,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

var statusByType = map[errors.ErrorType]int{
	errors.ErrorTypeValidation:      http.StatusBadRequest,
	errors.ErrorTypeNotFound:        http.StatusNotFound,
	errors.ErrorTypeConflict:        http.StatusConflict,
	errors.ErrorTypePermission:      http.StatusForbidden,
	errors.ErrorTypeTimeout:         http.StatusGatewayTimeout,
	errors.ErrorTypeToolUnavailable: http.StatusServiceUnavailable,
	errors.ErrorTypeRateLimited:     http.StatusTooManyRequests,
	errors.ErrorTypeCancelled:       http.StatusServiceUnavailable,
}

// StatusFromError maps a DomainError type to an HTTP status code
func StatusFromError(err error) int {
	if status, ok := statusByType[errors.TypeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// typeFromStatus is the client-side fallback when a response carries no type
func typeFromStatus(status int) errors.ErrorType {
	for errorType, code := range statusByType {
		if code == status && errorType != errors.ErrorTypeCancelled {
			return errorType
		}
	}
	return errors.ErrorTypeInternal
}

// HTTPErrorHandler renders DomainErrors and echo errors as ErrorResponse
func HTTPErrorHandler(logger logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		response := ErrorResponse{Success: false, Error: "internal server error"}

		var domainErr *errors.DomainError
		var he *echo.HTTPError
		if stderrors.As(err, &domainErr) {
			status = StatusFromError(domainErr)
			response.Error = domainErr.Message
			response.Type = string(domainErr.Type)
			if len(domainErr.Context) > 0 {
				response.Context = domainErr.Context
			}
		} else if stderrors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				response.Error = msg
			} else {
				response.Error = http.StatusText(he.Code)
			}
		}

		if status >= 500 {
			logger.Errorf("Request failed, method: %s, path: %s, status: %d, error: %v", c.Request().Method, c.Path(), status, err)
		} else {
			logger.Warnf("Request error, method: %s, path: %s, status: %d, error: %v", c.Request().Method, c.Path(), status, err)
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(status)
			return
		}
		c.JSON(status, response)
	}
}
