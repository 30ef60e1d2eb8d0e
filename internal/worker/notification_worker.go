package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"safarbook/internal/metrics"
	"safarbook/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the in-memory queue cannot accept another task.
var ErrQueueFull = errors.New("notification queue is full")

const deadLetterKey = "notify:deadletter"

// Task is one delivery of one booking event to one sink.
type Task struct {
	ID        string          `json:"id"`
	Sink      string          `json:"sink"`
	Event     string          `json:"event"`
	Booking   *models.Booking `json:"booking"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink delivers a notification somewhere outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, task Task) error
}

// NotificationWorker fans booking events out to sinks with retry and dead-lettering.
type NotificationWorker struct {
	sinks       map[string]Sink
	queue       chan Task
	retryPolicy RetryPolicy
	redis       *redis.Client
	logger      *zerolog.Logger

	// after schedules a retry; swapped in tests.
	after  func(d time.Duration, f func())
	jitter func() float64

	wg sync.WaitGroup
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(queueSize int, retry RetryPolicy, redisClient *redis.Client, logger *zerolog.Logger, sinks ...Sink) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &NotificationWorker{
		sinks:       make(map[string]Sink, len(sinks)),
		queue:       make(chan Task, queueSize),
		retryPolicy: retry.withDefaults(),
		redis:       redisClient,
		logger:      logger,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		jitter: rand.Float64,
	}
	for _, s := range sinks {
		w.sinks[s.Name()] = s
	}
	return w
}

// Sinks returns the registered sink names.
func (w *NotificationWorker) Sinks() []string {
	names := make([]string, 0, len(w.sinks))
	for name := range w.sinks {
		names = append(names, name)
	}
	return names
}

// Enqueue schedules a task without blocking the caller.
func (w *NotificationWorker) Enqueue(task Task) error {
	if _, ok := w.sinks[task.Sink]; !ok {
		return fmt.Errorf("unknown sink: %s", task.Sink)
	}
	if task.Booking == nil {
		return errors.New("booking is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	select {
	case w.queue <- task:
		return nil
	default:
		metrics.IncNotificationFailure(task.Sink)
		w.logger.Warn().Str("sink", task.Sink).Str("event", task.Event).Int64("booking_id", task.Booking.ID).Msg("notification queue full, dropping task")
		return ErrQueueFull
	}
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Int("sinks", len(w.sinks)).Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case task := <-w.queue:
			w.processTask(ctx, &task)
		}
	}
}

// drain delivers whatever is already queued with a short deadline.
func (w *NotificationWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case task := <-w.queue:
			w.deliver(ctx, &task)
		default:
			return
		}
	}
}

func (w *NotificationWorker) tryLocalQueue() (Task, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return Task{}, false
	}
}

func (w *NotificationWorker) processTask(ctx context.Context, task *Task) {
	err := w.deliver(ctx, task)
	if err == nil {
		return
	}
	w.retryOrFail(ctx, task, err)
}

func (w *NotificationWorker) deliver(ctx context.Context, task *Task) error {
	sink, ok := w.sinks[task.Sink]
	if !ok {
		return fmt.Errorf("unknown sink: %s", task.Sink)
	}
	return sink.Deliver(ctx, *task)
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *Task, cause error) {
	task.Attempt++
	task.LastError = cause.Error()

	log := w.logger.With().Str("sink", task.Sink).Str("event", task.Event).
		Int64("booking_id", task.Booking.ID).Int("attempt", task.Attempt).Logger()

	if task.Attempt >= w.retryPolicy.MaxAttempts {
		metrics.IncNotificationFailure(task.Sink)
		log.Error().Err(cause).Msg("notification delivery failed permanently")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.Delay(task.Attempt, w.jitter)
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("notification delivery failed, retrying")

	retry := *task
	w.wg.Add(1)
	w.after(delay, func() {
		defer w.wg.Done()
		select {
		case w.queue <- retry:
		default:
			metrics.IncNotificationFailure(retry.Sink)
			w.pushDeadLetter(context.Background(), &retry)
		}
	})
}

// Wait blocks until scheduled retries have been requeued.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *Task) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("task", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("task", task.ID).Msg("deadletter push")
	}
}
