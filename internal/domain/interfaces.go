package domain

import (
	"context"
	"time"

	"safarbook/internal/models"
)

// CatalogProvider is the read-only package catalog.
type CatalogProvider interface {
	GetPackage(ctx context.Context, id int64) (*models.Package, error)
	GetPackageBySlug(ctx context.Context, slug string) (*models.Package, error)
	ListPackages(ctx context.Context) ([]*models.Package, error)
}

type RuleStore interface {
	// ListRulesForPackage returns active rules that are global or target packageID,
	// ordered by active_from. Time applicability is decided by the caller.
	ListRulesForPackage(ctx context.Context, packageID int64) ([]*models.PricingRule, error)
	ListRules(ctx context.Context) ([]*models.PricingRule, error)
	GetRule(ctx context.Context, id int64) (*models.PricingRule, error)
	CreateRule(ctx context.Context, rule *models.PricingRule) error
	SetRuleActive(ctx context.Context, id int64, active bool) error
}

// BookingTx is the set of booking and payment operations that may run inside
// one atomic unit.
type BookingTx interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
	UpsertPayment(ctx context.Context, payment *models.Payment) error
	MarkPaymentSucceeded(ctx context.Context, payment *models.Payment, externalPaymentID, signature string) error
	MarkPaymentFailed(ctx context.Context, payment *models.Payment, reason string) error
	// UpdateBookingStatus moves b to status with an optimistic version check and
	// updates b in place on success.
	UpdateBookingStatus(ctx context.Context, b *models.Booking, status models.BookingStatus, expiresAt *time.Time) error
	// UpdateBooking persists owner, selection and price fields with a version check.
	UpdateBooking(ctx context.Context, b *models.Booking) error
	DeleteBooking(ctx context.Context, b *models.Booking) error
}

type BookingRepository interface {
	BookingTx
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByIdempotencyKey(ctx context.Context, ownerKey, key string) (*models.Booking, error)
	ListBookingsByOwner(ctx context.Context, ownerKey string, status models.BookingStatus) ([]*models.Booking, error)
	ListBookingsCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	// WithinTx runs fn in a write-locked transaction; any error rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BookingTx) error) error
}

// Cache is the best-effort cache port. Errors must never be treated as
// authoritative by callers.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

type PriceCalculator interface {
	ComputeBreakdown(ctx context.Context, pkg *models.Package, sel models.Selection) (*models.Breakdown, error)
}

// Notifier is fire-and-forget: implementations log failures instead of returning them.
type Notifier interface {
	NotifyBookingCreated(ctx context.Context, b *models.Booking)
	NotifyBookingConfirmed(ctx context.Context, b *models.Booking)
	NotifyBookingCancelled(ctx context.Context, b *models.Booking)
}

type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

type GatewayPayment struct {
	ID             string
	OrderID        string
	Status         string
	AmountMinor    int64
	AmountRefunded int64
	Currency       string
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
	VerifySignature(orderID, paymentID, signature string) error
	VerifyWebhookSignature(body []byte, signature string) bool
	KeyID() string
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
