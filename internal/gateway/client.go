package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"safarbook/internal/config"
	"safarbook/internal/domain"

	"github.com/razorpay/razorpay-go/utils"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const serviceName = "payment_gateway"

// ErrSignatureMismatch means the signature does not match the order and payment ids.
var ErrSignatureMismatch = errors.New("signature mismatch")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// IsClientError reports whether the gateway rejected the request itself (4xx),
// as opposed to being unreachable or failing internally.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// Client talks to a Razorpay-style orders/payments API with basic auth.
// Signatures are checked with the razorpay-go utilities; the REST calls go
// through net/http so each one carries the caller's context.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	http          *http.Client
	logger        *zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: cfg.Timeout()}, logger)
}

func NewClientWithHTTP(cfg config.GatewayConfig, httpClient *http.Client, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		http:          httpClient,
		logger:        logger,
	}
}

func (c *Client) KeyID() string { return c.keyID }

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

// CreateOrder registers an order for amountMinor in the gateway.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*domain.GatewayOrder, error) {
	body, err := json.Marshal(orderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, domain.ExternalServiceError{Service: serviceName, Err: errors.New("order response without id")}
	}

	c.logger.Debug().Str("order_id", resp.ID).Int64("amount", resp.Amount).Str("receipt", receipt).Msg("gateway order created")
	return &domain.GatewayOrder{
		ID:          resp.ID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Receipt:     resp.Receipt,
		Status:      resp.Status,
	}, nil
}

// FetchPayment reads the authoritative payment state.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*domain.GatewayPayment, error) {
	if paymentID == "" {
		return nil, errors.New("payment id is required")
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return nil, err
	}

	return &domain.GatewayPayment{
		ID:             resp.ID,
		OrderID:        resp.OrderID,
		Status:         resp.Status,
		AmountMinor:    resp.Amount,
		AmountRefunded: resp.AmountRefunded,
		Currency:       resp.Currency,
	}, nil
}

// VerifySignature checks HMAC-SHA256("<order>|<payment>") under the key secret.
func (c *Client) VerifySignature(orderID, paymentID, signature string) error {
	if c.keySecret == "" || signature == "" {
		return ErrSignatureMismatch
	}
	attrs := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	if !utils.VerifyPaymentSignature(attrs, strings.ToLower(signature), c.keySecret) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyWebhookSignature checks HMAC-SHA256 of the raw body under the webhook secret.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), strings.ToLower(signature), c.webhookSecret)
}

// Sign returns the lowercase hex HMAC-SHA256 of msg, the form both checks accept.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ExternalServiceError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ExternalServiceError{Service: serviceName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode:  resp.StatusCode,
			Code:        gjson.GetBytes(raw, "error.code").String(),
			Description: gjson.GetBytes(raw, "error.description").String(),
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("code", apiErr.Code).Msg("gateway request failed")
		return domain.ExternalServiceError{Service: serviceName, Err: apiErr}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return domain.ExternalServiceError{Service: serviceName, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
