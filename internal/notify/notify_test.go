package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safarbook/internal/models"
	"safarbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	sinks []string
	tasks []worker.Task
	err   error
}

func (q *fakeQueue) Sinks() []string { return q.sinks }

func (q *fakeQueue) Enqueue(task worker.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

type fakeLedger struct {
	mu  sync.Mutex
	got []*models.Booking
	err error
}

func (f *fakeLedger) UpsertBooking(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, b)
	return f.err
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func booking() *models.Booking {
	return &models.Booking{
		ID:              7,
		PackageID:       3,
		Status:          models.StatusConfirmed,
		NumTravelers:    2,
		AddOnIDs:        []int64{1, 2},
		TotalAmountPaid: decimal.RequireFromString("3600"),
		CreatedAt:       time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_OneTaskPerSink(t *testing.T) {
	q := &fakeQueue{sinks: []string{"log", "telegram"}}
	logger := zerolog.Nop()
	d := NewDispatcher(q, &logger)

	b := booking()
	d.NotifyBookingConfirmed(context.Background(), b)
	b.AddOnIDs[0] = 99
	b.Status = models.StatusCancelled

	require.Len(t, q.tasks, 2)
	assert.Equal(t, "log", q.tasks[0].Sink)
	assert.Equal(t, "telegram", q.tasks[1].Sink)
	assert.Equal(t, EventConfirmed, q.tasks[0].Event)
	assert.Equal(t, models.StatusConfirmed, q.tasks[0].Booking.Status)
	assert.Equal(t, int64(1), q.tasks[0].Booking.AddOnIDs[0])
}

func TestDispatcher_SwallowsFailures(t *testing.T) {
	q := &fakeQueue{sinks: []string{"log"}, err: worker.ErrQueueFull}
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	d := NewDispatcher(q, &logger)

	assert.NotPanics(t, func() {
		d.NotifyBookingCreated(context.Background(), booking())
		d.NotifyBookingCancelled(context.Background(), nil)
	})
	assert.Contains(t, buf.String(), "failed to enqueue notification")

	var nilDispatcher *Dispatcher
	assert.NotPanics(t, func() { nilDispatcher.NotifyBookingCreated(context.Background(), booking()) })
}

func TestTelegramSink(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 555 &&
			bytes.Contains([]byte(msg.Text), []byte("SB-2026-000007")) &&
			bytes.Contains([]byte(msg.Text), []byte("3600.00"))
	})).Return(tgbotapi.Message{}, nil).Once()

	sink := NewTelegramSink(sender, 555)
	err := sink.Deliver(context.Background(), worker.Task{Event: EventConfirmed, Booking: booking()})
	require.NoError(t, err)
	sender.AssertExpectations(t)

	failing := new(mockSender)
	failing.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("flood wait"))
	err = NewTelegramSink(failing, 1).Deliver(context.Background(), worker.Task{Event: EventCreated, Booking: booking()})
	assert.ErrorContains(t, err, "flood wait")
}

func TestSheetsSink(t *testing.T) {
	ledger := &fakeLedger{}
	sink := NewSheetsSink(ledger)
	require.NoError(t, sink.Deliver(context.Background(), worker.Task{Booking: booking()}))
	require.Len(t, ledger.got, 1)

	ledger.err = errors.New("quota")
	assert.ErrorContains(t, sink.Deliver(context.Background(), worker.Task{Booking: booking()}), "ledger upsert")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	require.NoError(t, NewLogSink(&logger).Deliver(context.Background(), worker.Task{Event: EventCreated, Booking: booking()}))
	assert.Contains(t, buf.String(), `"reference":"SB-2026-000007"`)
}

func TestWorkerDeliversToSinks(t *testing.T) {
	ledger := &fakeLedger{}
	logger := zerolog.Nop()
	w := worker.NewNotificationWorker(8, worker.RetryPolicy{}, nil, &logger, NewLogSink(&logger), NewSheetsSink(ledger))
	d := NewDispatcher(w, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	d.NotifyBookingConfirmed(ctx, booking())

	assert.Eventually(t, func() bool { return ledger.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
