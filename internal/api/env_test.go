package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"safarbook/internal/cache"
	"safarbook/internal/config"
	"safarbook/internal/database"
	"safarbook/internal/events"
	"safarbook/internal/gateway"
	"safarbook/internal/models"
	"safarbook/internal/pricing"
	"safarbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testKeySecret     = "gw-key-secret"
	testWebhookSecret = "gw-webhook-secret"
	testAdminKey      = "admin-key"
	testReadOnlyKey   = "bookings-only-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGateway is a minimal orders/payments API.
type fakeGateway struct {
	mu       sync.Mutex
	orders   map[string]int64
	payments map[string]map[string]any
	down     bool
	seq      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: make(map[string]int64), payments: make(map[string]map[string]any)}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if g.down {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
		var req struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Receipt  string `json:"receipt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.seq++
		id := fmt.Sprintf("order_%d", g.seq)
		g.orders[id] = req.Amount
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": id, "amount": req.Amount, "currency": req.Currency, "receipt": req.Receipt, "status": "created",
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payments/"):
		p, ok := g.payments[strings.TrimPrefix(r.URL.Path, "/v1/payments/")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// capture records a captured payment for orderID at the amount the order was opened with.
func (g *fakeGateway) capture(orderID, paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[paymentID] = map[string]any{
		"id": paymentID, "order_id": orderID, "status": "captured",
		"amount": g.orders[orderID], "amount_refunded": 0, "currency": "INR",
	}
}

func (g *fakeGateway) setDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

type testEnv struct {
	t       *testing.T
	db      *database.DB
	pkg     *models.Package
	gw      *fakeGateway
	handler http.Handler
	health  *HealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pkg := &models.Package{
		Name:     "Goa Beach Escape",
		IsActive: true,
		AddOns: []models.AddOn{
			{Name: "Beach resort", BasePrice: decimal.RequireFromString("1000.00"), IsActive: true},
		},
		Tiers: []models.Tier{
			{Name: "Premium", PriceMultiplier: decimal.RequireFromString("1.2")},
		},
		Transports: []models.TransportOption{
			{Name: "Sleeper train", Mode: "train", BasePrice: decimal.RequireFromString("500.00")},
		},
	}
	require.NoError(t, db.CreatePackage(ctx, pkg))

	gw := newFakeGateway()
	gwServer := httptest.NewServer(gw)
	t.Cleanup(gwServer.Close)

	gwCfg := config.GatewayConfig{
		BaseURL:        gwServer.URL,
		KeyID:          "rzp_test_key",
		KeySecret:      testKeySecret,
		WebhookSecret:  testWebhookSecret,
		Currency:       "INR",
		TimeoutSeconds: 2,
	}
	client := gateway.NewClient(gwCfg, &logger)

	mem := cache.NewMemoryCache()
	rules := pricing.NewCachedRuleSource(db, mem, time.Minute, &logger)
	engine := pricing.NewEngine(rules, pricing.DefaultChargeableAge, &logger)
	bus := events.NewEventBus()
	bookingCfg := config.BookingConfig{DraftTTLMinutes: 30}

	machine := service.NewStateMachine(db, nil, bus, bookingCfg, &logger)
	gate := service.NewIdempotencyGate(mem, config.IdempotencyConfig{TTLHours: 24, LockSeconds: 30}, &logger)

	health := NewHealthChecker()
	health.Register("database", db.PingContext)
	health.Register("cache", mem.Ping)

	apiCfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			JWTSecret:        testJWTSecret,
			HeaderAPIKey:     "x-api-key",
			HeaderGuestToken: "x-guest-token",
			APIKeys: []config.APIClientKey{
				{Key: testAdminKey, Name: "ops"},
				{Key: testReadOnlyKey, Name: "sweeper", Permissions: []string{PermBookings}},
			},
		},
	}
	srv := NewHTTPServer(apiCfg, Deps{
		Bookings: service.NewBookingService(db, db, engine, machine, gate, bus, bookingCfg, &logger),
		Payments: service.NewPaymentService(db, db, engine, client, machine, bus,
			config.PricingConfig{PriceTolerance: "0.001"}, gwCfg, &logger),
		Rules:   service.NewRuleService(db, rules, bus, &logger),
		Catalog: db,
		Gateway: client,
		Health:  health,
	}, true, &logger)

	return &testEnv{t: t, db: db, pkg: pkg, gw: gw, handler: srv.Handler(), health: health}
}

type request struct {
	method  string
	path    string
	body    any
	raw     []byte
	headers map[string]string
}

func (e *testEnv) do(r request) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
	case r.body != nil:
		b, err := json.Marshal(r.body)
		require.NoError(e.t, err)
		body = bytes.NewReader(b)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) userHeaders(userID int64) map[string]string {
	e.t.Helper()
	token, err := SignUserToken(testJWTSecret, userID, time.Hour)
	require.NoError(e.t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func withKey(h map[string]string, key string) map[string]string {
	out := map[string]string{idempotencyHeader: key}
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (e *testEnv) selection(travelers int) map[string]any {
	return map[string]any{
		"package_id":    e.pkg.ID,
		"add_on_ids":    []int64{e.pkg.AddOns[0].ID},
		"tier_id":       e.pkg.Tiers[0].ID,
		"transport_id":  e.pkg.Transports[0].ID,
		"num_travelers": travelers,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func webhookBody(event, orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"error_description":"card declined"}}}}`,
		event, paymentID, orderID))
}

func (e *testEnv) webhook(body []byte) *httptest.ResponseRecorder {
	return e.do(request{
		method:  http.MethodPost,
		path:    "/api/v1/webhooks/payments",
		raw:     body,
		headers: map[string]string{webhookSignatureHeader: gateway.Sign(testWebhookSecret, body)},
	})
}
