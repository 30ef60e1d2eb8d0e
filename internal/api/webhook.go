package api

import (
	"io"
	"net/http"

	"safarbook/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	maxWebhookBody         = 1 << 20

	eventPaymentCaptured = "payment.captured"
	eventPaymentFailed   = "payment.failed"
)

// handlePaymentWebhook verifies the body signature before reading a single field.
// Outcomes that no redelivery can change are acknowledged with 200; transient
// errors return 409 or 5xx so the gateway retries.
func (s *HTTPServer) handlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		abortWithMessage(c, http.StatusBadRequest, "invalid_body", "unreadable or oversized body")
		return
	}

	signature := c.GetHeader(webhookSignatureHeader)
	if signature == "" || !s.deps.Gateway.VerifyWebhookSignature(body, signature) {
		s.logger.Warn().
			Str("request_id", c.GetString(ctxRequestID)).
			Str("client_ip", c.ClientIP()).
			Msg("webhook signature rejected")
		abortWithMessage(c, http.StatusUnauthorized, "invalid_signature", "")
		return
	}

	if !gjson.ValidBytes(body) {
		abortWithMessage(c, http.StatusBadRequest, "invalid_body", "body is not JSON")
		return
	}

	event := gjson.GetBytes(body, "event").String()
	entity := gjson.GetBytes(body, "payload.payment.entity")
	paymentID := entity.Get("id").String()
	orderID := entity.Get("order_id").String()
	log := s.logger.With().
		Str("event", event).
		Str("order_id", orderID).
		Str("payment_id", paymentID).
		Logger()

	switch event {
	case eventPaymentCaptured:
		res, err := s.deps.Payments.ConfirmFromWebhook(c.Request.Context(), orderID, paymentID)
		if err != nil {
			s.webhookFailed(c, &log, err)
			return
		}
		log.Info().Int64("booking_id", res.Booking.ID).Bool("duplicate", res.AlreadyConfirmed).Msg("webhook confirmed payment")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})

	case eventPaymentFailed:
		reason := entity.Get("error_description").String()
		if reason == "" {
			reason = entity.Get("error_code").String()
		}
		if err := s.deps.Payments.FailFromWebhook(c.Request.Context(), orderID, paymentID, reason); err != nil {
			s.webhookFailed(c, &log, err)
			return
		}
		log.Info().Str("reason", reason).Msg("webhook recorded payment failure")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})

	default:
		log.Debug().Msg("webhook event ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (s *HTTPServer) webhookFailed(c *gin.Context, log *zerolog.Logger, err error) {
	if !permanentWebhookFailure(err) {
		writeError(c, s.logger, err)
		return
	}
	if !domain.IsVerificationFailure(err) {
		// verification failures are already audited by the payment service
		log.Warn().Err(err).Str("request_id", c.GetString(ctxRequestID)).Msg("webhook event rejected")
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// permanentWebhookFailure reports whether redelivering the event cannot succeed.
func permanentWebhookFailure(err error) bool {
	status, resp := classify(err)
	return status < http.StatusInternalServerError && !resp.Retryable
}
