package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSink struct {
	mu    sync.Mutex
	name  string
	err   error
	calls int
	seen  []Task
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, task)
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func immediate(w *NotificationWorker) {
	w.after = func(_ time.Duration, f func()) { f() }
}

func TestProcessTaskSuccess(t *testing.T) {
	sink := &fakeSink{name: "log"}
	worker := NewNotificationWorker(4, RetryPolicy{}, nil, nil, sink)

	booking := &models.Booking{ID: 1, Status: models.StatusConfirmed}
	if err := worker.Enqueue(Task{Sink: "log", Event: "booking_confirmed", Booking: booking}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.ID == "" || task.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be filled, got %+v", task)
	}
	worker.processTask(context.Background(), &task)

	if sink.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sink.count())
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected no retry after success")
	}
}

func TestProcessTaskRetry(t *testing.T) {
	sink := &fakeSink{name: "telegram", err: errors.New("boom")}
	worker := NewNotificationWorker(4, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, nil, sink)
	immediate(worker)

	booking := &models.Booking{ID: 2}
	_ = worker.Enqueue(Task{Sink: "telegram", Booking: booking})

	task, _ := worker.tryLocalQueue()
	worker.processTask(context.Background(), &task)
	worker.Wait()

	retried, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected retried task in queue")
	}
	if retried.Attempt != 1 {
		t.Fatalf("expected attempt=1, got %d", retried.Attempt)
	}
	if retried.LastError != "boom" {
		t.Fatalf("expected last_error=boom, got %q", retried.LastError)
	}
}

func TestProcessTaskFail(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := &fakeSink{name: "sheets", err: errors.New("fatal")}
	worker := NewNotificationWorker(4, RetryPolicy{MaxAttempts: 1}, client, nil, sink)

	_ = worker.Enqueue(Task{Sink: "sheets", Event: "booking_created", Booking: &models.Booking{ID: 3}})
	task, _ := worker.tryLocalQueue()
	worker.processTask(context.Background(), &task)

	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected no retry once retries are exhausted")
	}

	items, err := mr.List(deadLetterKey)
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 deadletter, got %d", len(items))
	}
	var dead Task
	if err := json.Unmarshal([]byte(items[0]), &dead); err != nil {
		t.Fatalf("decode deadletter: %v", err)
	}
	if dead.Booking.ID != 3 || dead.LastError != "fatal" {
		t.Fatalf("unexpected deadletter %+v", dead)
	}
}

func TestEnqueueValidation(t *testing.T) {
	worker := NewNotificationWorker(1, RetryPolicy{}, nil, nil, &fakeSink{name: "log"})

	if err := worker.Enqueue(Task{Sink: "nope", Booking: &models.Booking{ID: 1}}); err == nil {
		t.Fatalf("expected unknown sink error")
	}
	if err := worker.Enqueue(Task{Sink: "log"}); err == nil {
		t.Fatalf("expected missing booking error")
	}
	if err := worker.Enqueue(Task{Sink: "log", Booking: &models.Booking{ID: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := worker.Enqueue(Task{Sink: "log", Booking: &models.Booking{ID: 2}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestStartDeliversAndDrains(t *testing.T) {
	sink := &fakeSink{name: "log"}
	worker := NewNotificationWorker(8, RetryPolicy{}, nil, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	for i := int64(1); i <= 3; i++ {
		_ = worker.Enqueue(Task{Sink: "log", Booking: &models.Booking{ID: i}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sink.count() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", sink.count())
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	d1 := policy.Delay(1, nil)
	d2 := policy.Delay(2, nil)
	d3 := policy.Delay(40, nil)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt40 expected capped 5s, got %s", d3)
	}

	var zero RetryPolicy
	if zero.Delay(0, nil) != 500*time.Millisecond {
		t.Fatalf("zero policy expected 500ms, got %s", zero.Delay(0, nil))
	}
}

func TestRetryPolicyJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.2}

	low := policy.Delay(2, func() float64 { return 0 })
	mid := policy.Delay(2, func() float64 { return 0.5 })
	if low != 1600*time.Millisecond {
		t.Fatalf("lowest jitter expected 1.6s, got %s", low)
	}
	if mid != 2*time.Second {
		t.Fatalf("centred jitter expected 2s, got %s", mid)
	}
	for i := 0; i < 100; i++ {
		d := policy.Delay(3, rand.Float64)
		if d < 3200*time.Millisecond || d > 4800*time.Millisecond {
			t.Fatalf("jittered delay %s outside [3.2s, 4.8s]", d)
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := PolicyFromConfig(config.NotifyConfig{MaxRetries: 5, RetryDelayMs: 250, MaxRetryDelayMs: 4000, RetryJitter: 0.1})
	if policy.MaxAttempts != 5 || policy.BaseDelay != 250*time.Millisecond || policy.MaxDelay != 4*time.Second || policy.Jitter != 0.1 {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if d := policy.Delay(10, nil); d != 4*time.Second {
		t.Fatalf("expected cap 4s, got %s", d)
	}
}
