package api

import (
	"errors"
	"net/http"

	"safarbook/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func abortWithMessage(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: code, Message: message})
}

// writeError maps the domain error taxonomy onto HTTP. Verification failures
// are deliberately generic; the failed check only reaches the logs.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error().Err(err).
			Str("request_id", c.GetString(ctxRequestID)).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, errorResponse) {
	var ve domain.ValidationError
	switch {
	case domain.IsVerificationFailure(err):
		return http.StatusPaymentRequired, errorResponse{Error: "payment_verification_failed"}
	case domain.IsPriceMismatch(err):
		return http.StatusConflict, errorResponse{Error: "price_mismatch", Message: "price changed, re-quote before paying"}
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: "validation_failed", Reason: ve.Code(), Field: ve.Field, Message: ve.Msg}
	case domain.IsNotFound(err):
		return http.StatusNotFound, errorResponse{Error: "not_found"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, domain.ErrBookingExpired):
		return http.StatusConflict, errorResponse{Error: "booking_expired"}
	case domain.IsInvalidTransition(err):
		return http.StatusConflict, errorResponse{Error: "invalid_transition", Message: err.Error()}
	case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateKey):
		return http.StatusConflict, errorResponse{Error: "conflict", Retryable: true}
	case domain.IsExternalService(err):
		return http.StatusServiceUnavailable, errorResponse{Error: "gateway_unavailable", Retryable: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal_error"}
	}
}
