package events

import (
	"encoding/json"

	"safarbook/internal/metrics"

	"github.com/rs/zerolog"
)

// RegisterMetrics counts every lifecycle transition on the bus.
func RegisterMetrics(bus *EventBus) {
	bus.Subscribe(func(event *Event) error {
		var p BookingEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		if p.From != "" && p.To != "" && p.From != p.To {
			metrics.IncTransition(p.From, p.To)
		}
		return nil
	}, BookingEvents...)
}

// RegisterAuditLog writes one structured audit line per booking and payment event.
func RegisterAuditLog(bus *EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "audit").Logger()

	bus.Subscribe(func(event *Event) error {
		var p BookingEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		audit.Info().
			Str("event", event.Type).
			Int64("booking_id", p.BookingID).
			Str("reference", p.Reference).
			Str("owner", p.OwnerKey).
			Str("from", p.From).
			Str("to", p.To).
			Str("total_amount", p.TotalAmount).
			Str("actor", p.Actor).
			Msg("booking event")
		return nil
	}, BookingEvents...)

	bus.Subscribe(func(event *Event) error {
		var p PaymentEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		audit.Warn().
			Str("event", event.Type).
			Int64("booking_id", p.BookingID).
			Str("order_id", p.OrderID).
			Str("payment_id", p.PaymentID).
			Str("check", p.Check).
			Str("reason", p.Reason).
			Str("source", p.Source).
			Msg("payment event")
		return nil
	}, EventPaymentFailed, EventPaymentRejected)

	bus.Subscribe(func(event *Event) error {
		audit.Info().Str("event", event.Type).RawJSON("rule", event.Payload).Msg("pricing rule event")
		return nil
	}, EventPricingRuleWrite)

	bus.OnError(func(event *Event, err error) {
		audit.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	})
}
