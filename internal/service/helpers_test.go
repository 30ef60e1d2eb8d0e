package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"safarbook/internal/cache"
	"safarbook/internal/config"
	"safarbook/internal/database"
	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/gateway"
	"safarbook/internal/models"
	"safarbook/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testKeySecret = "test_secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu        sync.Mutex
	created   []int64
	confirmed []int64
	cancelled []int64
}

func (n *fakeNotifier) NotifyBookingCreated(_ context.Context, b *models.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, b.ID)
}

func (n *fakeNotifier) NotifyBookingConfirmed(_ context.Context, b *models.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.ID)
}

func (n *fakeNotifier) NotifyBookingCancelled(_ context.Context, b *models.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, b.ID)
}

func (n *fakeNotifier) confirmedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed)
}

type fakeGateway struct {
	mu          sync.Mutex
	orders      int
	payments    map[string]domain.GatewayPayment
	fetchErr    error
	orderAmount int64
	fetchCalls  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]domain.GatewayPayment)}
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (*domain.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders++
	amount := amountMinor
	if g.orderAmount != 0 {
		amount = g.orderAmount
	}
	return &domain.GatewayOrder{
		ID:          fmt.Sprintf("order_%d", g.orders),
		AmountMinor: amount,
		Currency:    currency,
		Receipt:     receipt,
		Status:      "created",
	}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, domain.ExternalServiceError{Service: "payment_gateway", Err: &gateway.APIError{StatusCode: 400, Code: "BAD_REQUEST_ERROR"}}
	}
	return &p, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) error {
	if sign(orderID, paymentID) != signature {
		return gateway.ErrSignatureMismatch
	}
	return nil
}

func (g *fakeGateway) VerifyWebhookSignature([]byte, string) bool { return true }

func (g *fakeGateway) KeyID() string { return "key_test" }

func (g *fakeGateway) setPayment(p domain.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = p
}

func (g *fakeGateway) fetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCalls
}

func sign(orderID, paymentID string) string {
	return gateway.Sign(testKeySecret, []byte(orderID+"|"+paymentID))
}

type fixture struct {
	db       *database.DB
	pkg      *models.Package
	other    *models.Package
	clock    *testClock
	cache    *cache.MemoryCache
	bus      *events.EventBus
	notifier *fakeNotifier
	gateway  *fakeGateway
	machine  *StateMachine
	bookings *BookingService
	payments *PaymentService
	rules    *RuleService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithCache(t, nil)
}

func newFixtureWithCache(t *testing.T, gateCache domain.Cache) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pkg := &models.Package{
		Name:     "Goa Beach Escape",
		IsActive: true,
		AddOns: []models.AddOn{
			{Name: "Beach resort", BasePrice: decimal.RequireFromString("1000.00"), IsActive: true},
			{Name: "Scuba session", BasePrice: decimal.RequireFromString("250.50"), IsActive: true},
		},
		Tiers: []models.Tier{
			{Name: "Premium", PriceMultiplier: decimal.RequireFromString("1.2")},
		},
		Transports: []models.TransportOption{
			{Name: "Sleeper train", Mode: "train", BasePrice: decimal.RequireFromString("500.00")},
		},
	}
	require.NoError(t, db.CreatePackage(ctx, pkg))

	other := &models.Package{
		Name:     "Manali Snow Trail",
		IsActive: true,
		AddOns:   []models.AddOn{{Name: "Cabin", BasePrice: decimal.RequireFromString("700.00"), IsActive: true}},
	}
	require.NoError(t, db.CreatePackage(ctx, other))

	clock := &testClock{now: time.Now().UTC()}
	db.SetClock(clock.Now)
	mem := cache.NewMemoryCache()
	if gateCache == nil {
		gateCache = mem
	}

	ruleSource := pricing.NewCachedRuleSource(db, mem, time.Minute, &logger)
	engine := pricing.NewEngine(ruleSource, pricing.DefaultChargeableAge, &logger)
	engine.SetClock(clock.Now)

	bookingCfg := config.BookingConfig{DraftTTLMinutes: 30}
	bus := events.NewEventBus()
	notifier := &fakeNotifier{}
	gw := newFakeGateway()

	machine := NewStateMachine(db, notifier, bus, bookingCfg, &logger)
	machine.SetClock(clock.Now)

	gate := NewIdempotencyGate(gateCache, config.IdempotencyConfig{TTLHours: 24, LockSeconds: 30}, &logger)
	bookings := NewBookingService(db, db, engine, machine, gate, bus, bookingCfg, &logger)
	bookings.SetClock(clock.Now)

	payments := NewPaymentService(db, db, engine, gw, machine, bus,
		config.PricingConfig{PriceTolerance: "0.001"},
		config.GatewayConfig{Currency: "INR"}, &logger)
	payments.SetClock(clock.Now)

	return &fixture{
		db:       db,
		pkg:      pkg,
		other:    other,
		clock:    clock,
		cache:    mem,
		bus:      bus,
		notifier: notifier,
		gateway:  gw,
		machine:  machine,
		bookings: bookings,
		payments: payments,
		rules:    NewRuleService(db, ruleSource, bus, &logger),
	}
}

// fullSelection is add-on 1000 + train 500 at tier 1.2 = 1800 per person.
func (f *fixture) fullSelection(t *testing.T, ages ...int) models.Selection {
	t.Helper()
	sel := models.Selection{
		PackageID:   f.pkg.ID,
		AddOnIDs:    []int64{f.pkg.AddOns[0].ID},
		TierID:      f.pkg.Tiers[0].ID,
		TransportID: f.pkg.Transports[0].ID,
	}
	if len(ages) == 0 {
		sel.NumTravelers = 2
		return sel
	}
	travelers := make([]models.Traveler, len(ages))
	for i, age := range ages {
		travelers[i] = models.Traveler{Name: fmt.Sprintf("Traveler %d", i+1), Age: age}
	}
	manifest, err := models.NewTravelerManifest(travelers)
	require.NoError(t, err)
	sel.Travelers = manifest
	sel.NumTravelers = len(ages)
	return sel
}

func (f *fixture) createDraft(t *testing.T, caller models.Caller, key string) *models.Booking {
	t.Helper()
	receipt, _, err := f.bookings.CreateBooking(context.Background(), caller, key, f.fullSelection(t))
	require.NoError(t, err)
	b, err := f.db.GetBooking(context.Background(), receipt.ID)
	require.NoError(t, err)
	return b
}

// pendingBooking creates a draft for caller and opens a gateway order for it.
func (f *fixture) pendingBooking(t *testing.T, caller models.Caller) (*models.Booking, *models.ExternalOrder) {
	t.Helper()
	b := f.createDraft(t, caller, fmt.Sprintf("key-%d", time.Now().UnixNano()))
	order, err := f.payments.CreateOrder(context.Background(), caller, b.ID)
	require.NoError(t, err)
	b, err = f.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	return b, order
}

func user(id int64) models.Caller {
	return models.Caller{UserID: id}
}

func guest(token string) models.Caller {
	return models.Caller{GuestToken: token}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("cache down")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("cache down")
}
func (brokenCache) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, fmt.Errorf("cache down")
}
func (brokenCache) Delete(context.Context, string) error       { return fmt.Errorf("cache down") }
func (brokenCache) DeletePrefix(context.Context, string) error { return fmt.Errorf("cache down") }
func (brokenCache) Ping(context.Context) error                 { return fmt.Errorf("cache down") }
