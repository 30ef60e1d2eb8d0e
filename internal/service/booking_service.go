package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/models"
	"safarbook/internal/pricing"

	"github.com/rs/zerolog"
)

// DraftPatch carries the fields a DRAFT update may change. Nil means unchanged.
type DraftPatch struct {
	AddOnIDs     *[]int64
	TierID       *int64
	TransportID  *int64
	NumTravelers *int
	Travelers    *models.TravelerManifest
	TravelStart  *time.Time
	TravelEnd    *time.Time
	RoomCount    *int
}

func (p *DraftPatch) apply(sel models.Selection) models.Selection {
	if p == nil {
		return sel
	}
	if p.AddOnIDs != nil {
		sel.AddOnIDs = append([]int64(nil), (*p.AddOnIDs)...)
	}
	if p.TierID != nil {
		sel.TierID = *p.TierID
	}
	if p.TransportID != nil {
		sel.TransportID = *p.TransportID
	}
	if p.Travelers != nil {
		sel.Travelers = p.Travelers
		if p.NumTravelers == nil {
			sel.NumTravelers = 0
		}
	}
	if p.NumTravelers != nil {
		sel.NumTravelers = *p.NumTravelers
	}
	if p.TravelStart != nil {
		sel.TravelStart = p.TravelStart
	}
	if p.TravelEnd != nil {
		sel.TravelEnd = p.TravelEnd
	}
	if p.RoomCount != nil {
		sel.RoomCount = *p.RoomCount
	}
	return sel
}

type BookingService struct {
	repo     domain.BookingRepository
	catalog  domain.CatalogProvider
	pricer   domain.PriceCalculator
	machine  *StateMachine
	gate     *IdempotencyGate
	eventBus domain.EventPublisher
	draftTTL time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	catalog domain.CatalogProvider,
	pricer domain.PriceCalculator,
	machine *StateMachine,
	gate *IdempotencyGate,
	eventBus domain.EventPublisher,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		repo:     repo,
		catalog:  catalog,
		pricer:   pricer,
		machine:  machine,
		gate:     gate,
		eventBus: eventBus,
		draftTTL: cfg.DraftTTL(),
		now:      time.Now,
		logger:   logger,
	}
}

func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

// Quote prices a selection without creating anything.
func (s *BookingService) Quote(ctx context.Context, sel models.Selection) (*models.Breakdown, error) {
	pkg, err := s.activePackage(ctx, sel.PackageID)
	if err != nil {
		return nil, err
	}
	return s.pricer.ComputeBreakdown(ctx, pkg, sel)
}

// CreateBooking prices sel and stores a DRAFT owned by caller. A repeated
// idempotency key returns the first receipt and creates nothing.
func (s *BookingService) CreateBooking(ctx context.Context, caller models.Caller, idempotencyKey string, sel models.Selection) (*BookingReceipt, bool, error) {
	if caller.System || caller.IsAnonymous() {
		return nil, false, fmt.Errorf("booking requires a user or guest identity: %w", domain.ErrForbidden)
	}
	if idempotencyKey == "" {
		return nil, false, domain.ValidationError{
			Field:  "Idempotency-Key",
			Reason: domain.ReasonMissingIdempotency,
			Msg:    "header is required",
		}
	}

	ownerKey := caller.OwnerKey()
	return s.gate.Do(ctx, ownerKey, idempotencyKey, func(ctx context.Context) (*BookingReceipt, bool, error) {
		pkg, err := s.activePackage(ctx, sel.PackageID)
		if err != nil {
			return nil, false, err
		}
		bd, err := s.pricer.ComputeBreakdown(ctx, pkg, sel)
		if err != nil {
			return nil, false, err
		}

		expires := s.now().UTC().Add(s.draftTTL)
		b := &models.Booking{
			PackageID:       pkg.ID,
			AddOnIDs:        pricing.UniqueAddOns(sel.AddOnIDs),
			TierID:          sel.TierID,
			TransportID:     sel.TransportID,
			Status:          models.StatusDraft,
			TotalPrice:      bd.PerPersonTotal,
			TotalAmountPaid: bd.TotalAmount,
			NumTravelers:    bd.NumTravelers,
			Travelers:       sel.Travelers,
			TravelStart:     sel.TravelStart,
			TravelEnd:       sel.TravelEnd,
			RoomCount:       sel.RoomCount,
			IdempotencyKey:  idempotencyKey,
			ExpiresAt:       &expires,
		}
		setOwner(b, caller)

		if err := s.repo.CreateBooking(ctx, b); err != nil {
			if !errors.Is(err, domain.ErrDuplicateKey) {
				return nil, false, err
			}
			existing, getErr := s.repo.GetBookingByIdempotencyKey(ctx, ownerKey, idempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			s.logger.Info().Int64("booking_id", existing.ID).Str("owner", ownerKey).Msg("idempotent replay served from store")
			return NewBookingReceipt(existing), true, nil
		}

		s.logger.Info().
			Int64("booking_id", b.ID).
			Str("reference", b.Reference()).
			Str("owner", ownerKey).
			Str("total_amount", models.FormatMoney(b.TotalAmountPaid)).
			Msg("booking created")
		s.machine.Created(ctx, b, actorOf(caller))
		return NewBookingReceipt(b), false, nil
	})
}

// GetBooking returns a booking the caller owns.
func (s *BookingService) GetBooking(ctx context.Context, caller models.Caller, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsOwnedBy(caller) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrForbidden)
	}
	return b, nil
}

// GetByReference resolves an SB-YYYY-NNNNNN reference.
func (s *BookingService) GetByReference(ctx context.Context, caller models.Caller, ref string) (*models.Booking, error) {
	id, err := models.ParseReference(ref)
	if err != nil {
		return nil, domain.ValidationError{Field: "reference", Reason: domain.ReasonInvalidReference, Msg: err.Error(), Err: err}
	}
	b, err := s.GetBooking(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	// The year segment must match too.
	if b.Reference() != ref {
		return nil, domain.NotFoundError{Resource: "booking"}
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, caller models.Caller, status models.BookingStatus) ([]*models.Booking, error) {
	if caller.IsAnonymous() || caller.System {
		return nil, domain.ErrForbidden
	}
	return s.repo.ListBookingsByOwner(ctx, caller.OwnerKey(), status)
}

// Preview prices the booking, optionally with overrides, without persisting.
func (s *BookingService) Preview(ctx context.Context, caller models.Caller, id int64, patch *DraftPatch) (*models.Breakdown, error) {
	b, err := s.GetBooking(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	pkg, err := s.catalog.GetPackage(ctx, b.PackageID)
	if err != nil {
		return nil, err
	}
	return s.pricer.ComputeBreakdown(ctx, pkg, patch.apply(b.Selection()))
}

// UpdateDraft changes the selection of a live DRAFT and reprices it in the same write.
func (s *BookingService) UpdateDraft(ctx context.Context, caller models.Caller, id int64, patch *DraftPatch) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusDraft {
		return nil, domain.ValidationError{Field: "status", Reason: domain.ReasonNotDraft, Msg: fmt.Sprintf("booking is %s", b.Status)}
	}
	if b.IsExpired(s.now()) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrBookingExpired)
	}

	pkg, err := s.catalog.GetPackage(ctx, b.PackageID)
	if err != nil {
		return nil, err
	}
	sel := patch.apply(b.Selection())
	bd, err := s.pricer.ComputeBreakdown(ctx, pkg, sel)
	if err != nil {
		return nil, err
	}

	b.AddOnIDs = pricing.UniqueAddOns(sel.AddOnIDs)
	b.TierID = sel.TierID
	b.TransportID = sel.TransportID
	b.NumTravelers = bd.NumTravelers
	b.Travelers = sel.Travelers
	b.TravelStart = sel.TravelStart
	b.TravelEnd = sel.TravelEnd
	b.RoomCount = sel.RoomCount
	b.TotalPrice = bd.PerPersonTotal
	b.TotalAmountPaid = bd.TotalAmount

	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	s.publish(events.EventBookingUpdated, b, actorOf(caller))
	return b, nil
}

func (s *BookingService) CancelBooking(ctx context.Context, caller models.Caller, id int64) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.machine.TransitionTo(ctx, b, models.StatusCancelled, actorOf(caller)); err != nil {
		return nil, err
	}
	return b, nil
}

// ExpireBooking is the hook for an external sweep: it moves a DRAFT whose TTL has elapsed to EXPIRED.
func (s *BookingService) ExpireBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusDraft && !b.IsExpired(s.now()) {
		return nil, fmt.Errorf("booking %d has not reached its expiry: %w", id, domain.ErrConflict)
	}
	if err := s.machine.TransitionTo(ctx, b, models.StatusExpired, "system"); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteDraft hard-deletes a DRAFT. Drafts with a payment record are kept.
func (s *BookingService) DeleteDraft(ctx context.Context, caller models.Caller, id int64) error {
	b, err := s.GetBooking(ctx, caller, id)
	if err != nil {
		return err
	}
	if b.Status != models.StatusDraft {
		return domain.ValidationError{Field: "status", Reason: domain.ReasonNotDraft, Msg: fmt.Sprintf("booking is %s", b.Status)}
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		if _, err := tx.GetPaymentByBookingID(ctx, b.ID); err == nil {
			return fmt.Errorf("booking %d has a payment record: %w", b.ID, domain.ErrConflict)
		} else if !domain.IsNotFound(err) {
			return err
		}
		return tx.DeleteBooking(ctx, b)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", b.ID).Str("reference", b.Reference()).Msg("draft deleted")
	s.publish(events.EventBookingDeleted, b, actorOf(caller))
	return nil
}

func (s *BookingService) activePackage(ctx context.Context, id int64) (*models.Package, error) {
	if id <= 0 {
		return nil, domain.ValidationError{Field: "package_id", Reason: domain.ReasonInvalidComponent, Msg: "package is required"}
	}
	pkg, err := s.catalog.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, domain.InvalidComponent("package_id", id)
	}
	return pkg, nil
}

func (s *BookingService) publish(eventType string, b *models.Booking, actor string) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, bookingPayload(b, b.Status, actor, s.now())); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func setOwner(b *models.Booking, c models.Caller) {
	if c.UserID != 0 {
		uid := c.UserID
		b.UserID = &uid
		b.GuestToken = ""
		return
	}
	b.UserID = nil
	b.GuestToken = c.GuestToken
}
