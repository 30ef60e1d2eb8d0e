package notify

import (
	"context"

	"safarbook/internal/models"
	"safarbook/internal/worker"

	"github.com/rs/zerolog"
)

const (
	EventCreated   = "booking_created"
	EventConfirmed = "booking_confirmed"
	EventCancelled = "booking_cancelled"
)

// Enqueuer is satisfied by *worker.NotificationWorker.
type Enqueuer interface {
	Enqueue(task worker.Task) error
	Sinks() []string
}

// Dispatcher hands booking notifications to the async worker, one task per sink.
// It never reports failures to the caller.
type Dispatcher struct {
	queue  Enqueuer
	logger *zerolog.Logger
}

func NewDispatcher(queue Enqueuer, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger}
}

func (d *Dispatcher) NotifyBookingCreated(ctx context.Context, b *models.Booking) {
	d.dispatch(ctx, EventCreated, b)
}

func (d *Dispatcher) NotifyBookingConfirmed(ctx context.Context, b *models.Booking) {
	d.dispatch(ctx, EventConfirmed, b)
}

func (d *Dispatcher) NotifyBookingCancelled(ctx context.Context, b *models.Booking) {
	d.dispatch(ctx, EventCancelled, b)
}

func (d *Dispatcher) dispatch(_ context.Context, event string, b *models.Booking) {
	if d == nil || d.queue == nil || b == nil {
		return
	}

	// The worker may deliver after the caller mutates the booking again.
	snapshot := *b
	snapshot.AddOnIDs = append([]int64(nil), b.AddOnIDs...)

	for _, sink := range d.queue.Sinks() {
		task := worker.Task{Sink: sink, Event: event, Booking: &snapshot}
		if err := d.queue.Enqueue(task); err != nil {
			d.logger.Warn().Err(err).
				Str("sink", sink).
				Str("event", event).
				Int64("booking_id", b.ID).
				Msg("failed to enqueue notification")
		}
	}
}
