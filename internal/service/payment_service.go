package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/gateway"
	"safarbook/internal/metrics"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const capturedStatus = "captured"

// Confirmation sources. A webhook body is signed as a whole, so the
// checkout signature check does not apply to it.
const (
	SourceClient  = "client"
	SourceWebhook = "webhook"
)

// ConfirmResult is the outcome of a successful VerifyAndConfirm.
type ConfirmResult struct {
	Booking *models.Booking
	// AlreadyConfirmed is true when the call was a duplicate and changed nothing.
	AlreadyConfirmed bool
}

type PaymentService struct {
	repo      domain.BookingRepository
	catalog   domain.CatalogProvider
	pricer    domain.PriceCalculator
	gateway   domain.PaymentGateway
	machine   *StateMachine
	eventBus  domain.EventPublisher
	tolerance decimal.Decimal
	currency  string
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewPaymentService(
	repo domain.BookingRepository,
	catalog domain.CatalogProvider,
	pricer domain.PriceCalculator,
	gw domain.PaymentGateway,
	machine *StateMachine,
	eventBus domain.EventPublisher,
	pricingCfg config.PricingConfig,
	gatewayCfg config.GatewayConfig,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		catalog:   catalog,
		pricer:    pricer,
		gateway:   gw,
		machine:   machine,
		eventBus:  eventBus,
		tolerance: pricingCfg.Tolerance(),
		currency:  gatewayCfg.Currency,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *PaymentService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOrder re-verifies the stored price, opens a gateway order for it and
// moves a DRAFT to PENDING_PAYMENT. PENDING_PAYMENT bookings may retry.
func (s *PaymentService) CreateOrder(ctx context.Context, caller models.Caller, bookingID int64) (*models.ExternalOrder, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsOwnedBy(caller) {
		return nil, fmt.Errorf("booking %d: %w", bookingID, domain.ErrForbidden)
	}
	if !b.Status.IsPayable() {
		return nil, domain.TransitionError{From: string(b.Status), To: string(models.StatusPendingPayment)}
	}
	if b.IsExpired(s.now()) {
		return nil, fmt.Errorf("booking %d: %w", bookingID, domain.ErrBookingExpired)
	}

	pkg, err := s.catalog.GetPackage(ctx, b.PackageID)
	if err != nil {
		return nil, err
	}
	bd, err := s.pricer.ComputeBreakdown(ctx, pkg, b.Selection())
	if err != nil {
		return nil, err
	}
	if err := s.checkPrice(b, bd); err != nil {
		return nil, err
	}

	amountMinor := models.ToMinorUnits(bd.TotalAmount)
	order, err := s.gateway.CreateOrder(ctx, amountMinor, s.currency, b.Reference())
	if err != nil {
		return nil, err
	}
	if order.AmountMinor != amountMinor {
		s.logger.Warn().
			Int64("booking_id", b.ID).
			Str("order_id", order.ID).
			Int64("requested", amountMinor).
			Int64("returned", order.AmountMinor).
			Msg("gateway order amount differs from request")
		return nil, domain.ExternalServiceError{Service: "payment_gateway", Err: errors.New("order amount mismatch")}
	}

	from := b.Status
	transitioned := false
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		current, err := tx.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if current.Version != b.Version {
			return fmt.Errorf("booking %d changed while creating order: %w", b.ID, domain.ErrConcurrentModification)
		}

		currency := order.Currency
		if currency == "" {
			currency = s.currency
		}
		p := &models.Payment{BookingID: b.ID, OrderID: order.ID, AmountMinor: amountMinor, Currency: currency}
		if err := tx.UpsertPayment(ctx, p); err != nil {
			return err
		}

		if b.Status == models.StatusDraft {
			if err := s.machine.Apply(ctx, tx, b, models.StatusPendingPayment); err != nil {
				return err
			}
			transitioned = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.machine.Committed(ctx, b, from, actorOf(caller))
	}
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("order_id", order.ID).
		Int64("amount_minor", amountMinor).
		Msg("payment order created")

	return &models.ExternalOrder{
		BookingID:   b.ID,
		Reference:   b.Reference(),
		OrderID:     order.ID,
		AmountMinor: amountMinor,
		Currency:    order.Currency,
		KeyID:       s.gateway.KeyID(),
	}, nil
}

func (s *PaymentService) checkPrice(b *models.Booking, bd *models.Breakdown) error {
	perPerson := bd.PerPersonTotal.Sub(b.TotalPrice).Abs()
	total := bd.TotalAmount.Sub(b.TotalAmountPaid).Abs()
	if perPerson.LessThanOrEqual(s.tolerance) && total.LessThanOrEqual(s.tolerance) {
		return nil
	}

	s.logger.Warn().
		Int64("booking_id", b.ID).
		Str("stored_total", models.FormatMoney(b.TotalAmountPaid)).
		Str("computed_total", models.FormatMoney(bd.TotalAmount)).
		Str("stored_per_person", models.FormatMoney(b.TotalPrice)).
		Str("computed_per_person", models.FormatMoney(bd.PerPersonTotal)).
		Msg("price mismatch, order refused")
	return domain.PriceMismatchError{BookingID: b.ID, Stored: b.TotalAmountPaid, Computed: bd.TotalAmount}
}

// VerifyAndConfirm runs the client confirmation path.
func (s *PaymentService) VerifyAndConfirm(ctx context.Context, caller models.Caller, bookingID int64, a models.PaymentAssertion) (*ConfirmResult, error) {
	return s.confirm(ctx, caller, bookingID, a, SourceClient)
}

// ConfirmFromWebhook runs the same checks for a captured-payment event whose
// body signature was already verified.
func (s *PaymentService) ConfirmFromWebhook(ctx context.Context, orderID, paymentID string) (*ConfirmResult, error) {
	a := models.PaymentAssertion{ExternalOrderID: orderID, ExternalPaymentID: paymentID}
	if orderID == "" || paymentID == "" {
		return nil, s.reject(0, a, SourceWebhook, domain.Verification(domain.CheckRequiredFields, "order and payment id are required", nil))
	}
	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, s.reject(0, a, SourceWebhook, domain.Verification(domain.CheckPaymentRecord, "unknown order", err))
		}
		return nil, err
	}
	return s.confirm(ctx, models.Caller{System: true}, p.BookingID, a, SourceWebhook)
}

// confirm is the single path that can move a booking to CONFIRMED. All checks
// and both writes share one transaction, which holds the store's write lock.
func (s *PaymentService) confirm(ctx context.Context, caller models.Caller, bookingID int64, a models.PaymentAssertion, source string) (*ConfirmResult, error) {
	if a.ExternalPaymentID == "" || a.ExternalOrderID == "" || (source == SourceClient && a.Signature == "") {
		return nil, s.reject(bookingID, a, source, domain.Verification(domain.CheckRequiredFields, "payment id, order id and signature are required", nil))
	}

	result := &ConfirmResult{}
	var from models.BookingStatus

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		result.Booking = b

		if !b.IsOwnedBy(caller) {
			return domain.Verification(domain.CheckOwner, "caller does not own booking", domain.ErrForbidden)
		}
		if b.Status == models.StatusConfirmed {
			result.AlreadyConfirmed = true
			return nil
		}
		if !b.Status.IsPayable() {
			return domain.Verification(domain.CheckStatus, fmt.Sprintf("booking is %s", b.Status), nil)
		}
		if b.IsExpired(s.now()) {
			return domain.Verification(domain.CheckExpiry, "booking expired", domain.ErrBookingExpired)
		}

		p, err := tx.GetPaymentByOrderID(ctx, a.ExternalOrderID)
		if err != nil {
			if domain.IsNotFound(err) {
				return domain.Verification(domain.CheckPaymentRecord, "no payment for order", err)
			}
			return err
		}
		if p.BookingID != b.ID {
			return domain.Verification(domain.CheckPaymentRecord, "order belongs to another booking", nil)
		}
		if p.Status == models.PaymentSuccess {
			result.AlreadyConfirmed = true
			return nil
		}

		if source == SourceClient {
			if err := s.gateway.VerifySignature(a.ExternalOrderID, a.ExternalPaymentID, a.Signature); err != nil {
				return domain.Verification(domain.CheckSignature, "signature does not verify", err)
			}
		}

		gp, err := s.gateway.FetchPayment(ctx, a.ExternalPaymentID)
		if err != nil {
			if gateway.IsClientError(err) {
				return domain.Verification(domain.CheckCaptured, "gateway rejected payment lookup", err)
			}
			return err
		}
		if gp.Status != capturedStatus {
			return domain.Verification(domain.CheckCaptured, fmt.Sprintf("payment status is %q", gp.Status), nil)
		}
		if gp.AmountMinor != p.AmountMinor {
			return domain.Verification(domain.CheckAmount, fmt.Sprintf("captured %d, expected %d", gp.AmountMinor, p.AmountMinor), nil)
		}
		if due := models.ToMinorUnits(b.TotalAmountPaid); due != p.AmountMinor {
			return domain.Verification(domain.CheckAmount, fmt.Sprintf("order covers %d, booking now totals %d", p.AmountMinor, due), nil)
		}
		if gp.AmountRefunded != 0 {
			return domain.Verification(domain.CheckRefund, fmt.Sprintf("%d refunded", gp.AmountRefunded), nil)
		}
		if gp.OrderID != a.ExternalOrderID {
			return domain.Verification(domain.CheckOrderID, fmt.Sprintf("gateway order %q", gp.OrderID), nil)
		}

		if err := tx.MarkPaymentSucceeded(ctx, p, a.ExternalPaymentID, a.Signature); err != nil {
			return err
		}
		from = b.Status
		// a failed attempt reverted the booking to DRAFT but the order stays
		// payable at the gateway
		if b.Status == models.StatusDraft {
			if err := s.machine.Apply(ctx, tx, b, models.StatusPendingPayment); err != nil {
				return err
			}
		}
		return s.machine.Apply(ctx, tx, b, models.StatusConfirmed)
	})
	if err != nil {
		if domain.IsVerificationFailure(err) {
			return nil, s.reject(bookingID, a, source, err)
		}
		s.logger.Warn().Err(err).
			Int64("booking_id", bookingID).
			Str("order_id", a.ExternalOrderID).
			Str("payment_id", a.ExternalPaymentID).
			Str("source", source).
			Msg("payment confirmation aborted")
		return nil, err
	}

	if result.AlreadyConfirmed {
		metrics.IncVerification("duplicate", "")
		s.logger.Info().Int64("booking_id", bookingID).Str("order_id", a.ExternalOrderID).Str("source", source).Msg("duplicate payment confirmation ignored")
		return result, nil
	}

	metrics.IncVerification("confirmed", "")
	s.machine.Committed(ctx, result.Booking, from, source)
	return result, nil
}

// reject records a failed verification for audit and returns err unchanged.
func (s *PaymentService) reject(bookingID int64, a models.PaymentAssertion, source string, err error) error {
	var ve domain.VerificationError
	check := ""
	reason := err.Error()
	if errors.As(err, &ve) {
		check = string(ve.Check)
		reason = ve.Reason
	}

	metrics.IncVerification("rejected", check)
	s.logger.Warn().Err(err).
		Int64("booking_id", bookingID).
		Str("order_id", a.ExternalOrderID).
		Str("payment_id", a.ExternalPaymentID).
		Str("check", check).
		Str("source", source).
		Msg("payment verification failed")

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventPaymentRejected, events.PaymentEventPayload{
			BookingID: bookingID,
			OrderID:   a.ExternalOrderID,
			PaymentID: a.ExternalPaymentID,
			Check:     check,
			Reason:    reason,
			Source:    source,
			At:        s.now().UTC(),
		})
	}
	return err
}

// FailFromWebhook marks a pending payment FAILED and reverts its booking to DRAFT.
// Unknown orders and payments that already settled are acknowledged without change.
func (s *PaymentService) FailFromWebhook(ctx context.Context, orderID, paymentID, reason string) error {
	if orderID == "" {
		return domain.ValidationError{Field: "order_id", Msg: "order id is required"}
	}

	var b *models.Booking
	var from models.BookingStatus
	reverted := false

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		p, err := tx.GetPaymentByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPending {
			return nil
		}
		if err := tx.MarkPaymentFailed(ctx, p, reason); err != nil {
			return err
		}

		b, err = tx.GetBooking(ctx, p.BookingID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusPendingPayment {
			return nil
		}
		from = b.Status
		if err := s.machine.Apply(ctx, tx, b, models.StatusDraft); err != nil {
			return err
		}
		reverted = true
		return nil
	})
	if err != nil {
		if domain.IsNotFound(err) {
			s.logger.Warn().Str("order_id", orderID).Msg("payment failure for unknown order ignored")
			return nil
		}
		return err
	}

	if b != nil && s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventPaymentFailed, events.PaymentEventPayload{
			BookingID: b.ID,
			OrderID:   orderID,
			PaymentID: paymentID,
			Reason:    reason,
			Source:    SourceWebhook,
			At:        s.now().UTC(),
		})
	}
	if reverted {
		s.machine.Committed(ctx, b, from, SourceWebhook)
	}
	return nil
}
