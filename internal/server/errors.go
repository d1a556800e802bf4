package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/pkg/db/pagination"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = ledgererr.New(ledgererr.NotFound, "route_not_found")
	ErrInvalidRequest     = ledgererr.New(ledgererr.InvalidInput, "invalid_request")
	ErrInvalidID          = ledgererr.New(ledgererr.InvalidInput, "invalid_id")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var kindStatus = map[ledgererr.Kind]int{
	ledgererr.InvalidInput:    http.StatusBadRequest,
	ledgererr.Unauthorized:    http.StatusUnauthorized,
	ledgererr.Forbidden:       http.StatusForbidden,
	ledgererr.NotFound:        http.StatusNotFound,
	ledgererr.Conflict:        http.StatusConflict,
	ledgererr.InvalidState:    http.StatusConflict,
	ledgererr.PaymentMismatch: http.StatusPaymentRequired,
	ledgererr.Expired:         http.StatusGone,
	ledgererr.Inactive:        http.StatusConflict,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{Type: string(ledgererr.InvalidInput), Code: "invalid_page_token", Message: "invalid page token"}
	}

	kind := ledgererr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
	return status, errorPayload{
		Type:    string(kind),
		Code:    ledgererr.CodeOf(err),
		Message: messageOf(err),
	}
}

func messageOf(err error) string {
	var domainErr *ledgererr.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited", ""
	}
	kind := ledgererr.KindOf(err)
	if kind == "" {
		return "internal_error", ""
	}
	return string(kind), ledgererr.CodeOf(err)
}
