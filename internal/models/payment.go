package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the single payment record attached to a booking.
// AmountMinor is frozen when the gateway order is created.
type Payment struct {
	ID                int64         `json:"id"`
	BookingID         int64         `json:"booking_id"`
	OrderID           string        `json:"order_id"`
	ExternalPaymentID string        `json:"payment_id,omitempty"`
	Signature         string        `json:"-"`
	AmountMinor       int64         `json:"amount_minor"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (p *Payment) Amount() decimal.Decimal {
	return FromMinorUnits(p.AmountMinor)
}

// PaymentAssertion is what the client (or webhook) claims about a completed payment.
type PaymentAssertion struct {
	ExternalPaymentID string `json:"external_payment_id"`
	ExternalOrderID   string `json:"external_order_id"`
	Signature         string `json:"signature"`
}

// ExternalOrder is returned to the client to open the gateway checkout.
type ExternalOrder struct {
	BookingID   int64  `json:"booking_id"`
	Reference   string `json:"reference"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}
