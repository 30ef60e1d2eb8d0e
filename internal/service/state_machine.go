package service

import (
	"context"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
)

// StateMachine owns every booking status change.
type StateMachine struct {
	repo     domain.BookingRepository
	notifier domain.Notifier
	eventBus domain.EventPublisher
	draftTTL time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewStateMachine(repo domain.BookingRepository, notifier domain.Notifier, eventBus domain.EventPublisher, cfg config.BookingConfig, logger *zerolog.Logger) *StateMachine {
	return &StateMachine{
		repo:     repo,
		notifier: notifier,
		eventBus: eventBus,
		draftTTL: cfg.DraftTTL(),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source used for expiry stamps.
func (m *StateMachine) SetClock(now func() time.Time) {
	m.now = now
}

// TransitionTo moves b to target in its own transaction. An illegal target
// returns a TransitionError and leaves b untouched.
func (m *StateMachine) TransitionTo(ctx context.Context, b *models.Booking, target models.BookingStatus, actor string) error {
	from := b.Status
	err := m.repo.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		return m.Apply(ctx, tx, b, target)
	})
	if err != nil {
		return err
	}
	m.Committed(ctx, b, from, actor)
	return nil
}

// Apply performs the status write inside the caller's transaction. Side
// effects are deferred to Committed so a rollback leaves nothing behind.
func (m *StateMachine) Apply(ctx context.Context, tx domain.BookingTx, b *models.Booking, target models.BookingStatus) error {
	if !b.Status.CanTransitionTo(target) {
		m.logger.Debug().
			Int64("booking_id", b.ID).
			Str("from", string(b.Status)).
			Str("to", string(target)).
			Msg("rejected booking transition")
		return domain.TransitionError{From: string(b.Status), To: string(target)}
	}

	return tx.UpdateBookingStatus(ctx, b, target, m.expiryFor(target))
}

// Committed publishes the lifecycle event and notifications for a persisted transition.
func (m *StateMachine) Committed(ctx context.Context, b *models.Booking, from models.BookingStatus, actor string) {
	m.logger.Info().
		Int64("booking_id", b.ID).
		Str("reference", b.Reference()).
		Str("from", string(from)).
		Str("to", string(b.Status)).
		Str("actor", actor).
		Msg("booking transitioned")

	m.publish(eventForStatus(b.Status), b, from, actor)

	if m.notifier == nil {
		return
	}
	switch b.Status {
	case models.StatusConfirmed:
		m.notifier.NotifyBookingConfirmed(ctx, b)
	case models.StatusCancelled:
		m.notifier.NotifyBookingCancelled(ctx, b)
	}
}

// Created announces a freshly persisted DRAFT.
func (m *StateMachine) Created(ctx context.Context, b *models.Booking, actor string) {
	m.publish(events.EventBookingCreated, b, "", actor)
	if m.notifier != nil {
		m.notifier.NotifyBookingCreated(ctx, b)
	}
}

// expiryFor stamps a fresh TTL on DRAFT and clears it everywhere else.
// A PENDING_PAYMENT booking never expires: funds may be captured at any time.
func (m *StateMachine) expiryFor(target models.BookingStatus) *time.Time {
	if target != models.StatusDraft {
		return nil
	}
	t := m.now().UTC().Add(m.draftTTL)
	return &t
}

func (m *StateMachine) publish(eventType string, b *models.Booking, from models.BookingStatus, actor string) {
	if m.eventBus == nil || eventType == "" {
		return
	}

	payload := bookingPayload(b, from, actor, m.now())
	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func bookingPayload(b *models.Booking, from models.BookingStatus, actor string, at time.Time) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:   b.ID,
		Reference:   b.Reference(),
		OwnerKey:    b.OwnerKey(),
		PackageID:   b.PackageID,
		From:        string(from),
		To:          string(b.Status),
		TotalPrice:  models.FormatMoney(b.TotalPrice),
		TotalAmount: models.FormatMoney(b.TotalAmountPaid),
		Actor:       actor,
		OccurredAt:  at.UTC(),
	}
}

func eventForStatus(s models.BookingStatus) string {
	switch s {
	case models.StatusPendingPayment:
		return events.EventBookingPending
	case models.StatusConfirmed:
		return events.EventBookingConfirmed
	case models.StatusCancelled:
		return events.EventBookingCancelled
	case models.StatusExpired:
		return events.EventBookingExpired
	case models.StatusDraft:
		return events.EventBookingReverted
	}
	return ""
}

// actorOf names the caller for audit records.
func actorOf(c models.Caller) string {
	switch {
	case c.System:
		return "system"
	case c.UserID != 0:
		return c.OwnerKey()
	case c.GuestToken != "":
		return "guest"
	}
	return "anonymous"
}
