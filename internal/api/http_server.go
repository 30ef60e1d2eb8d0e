package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/domain"
	"safarbook/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the services the HTTP API fronts.
type Deps struct {
	Bookings *service.BookingService
	Payments *service.PaymentService
	Rules    *service.RuleService
	Catalog  domain.CatalogProvider
	Gateway  domain.PaymentGateway
	Health   *HealthChecker
}

// HTTPServer is the public booking API plus admin routes and the gateway webhook.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	auth   *Authenticator
	engine *gin.Engine
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, serveMetrics bool, logger *zerolog.Logger) *HTTPServer {
	if deps.Health == nil {
		deps.Health = NewHealthChecker()
	}
	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewAuthenticator(cfg.Auth, cfg.RateLimit),
		logger: logger,
	}

	engine := gin.New()
	engine.Use(RequestID(), Recovery(logger), AccessLog(logger), cors.New(corsConfig(cfg, srv.auth.guestHeader())))
	srv.routes(engine, serveMetrics)
	srv.engine = engine

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func corsConfig(cfg config.APIConfig, guestHeader string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", idempotencyHeader, requestIDHeader, guestHeader},
		ExposeHeaders: []string{requestIDHeader, replayedHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = cfg.CORSOrigins
	c.AllowCredentials = true
	return c
}

func (s *HTTPServer) routes(r *gin.Engine, serveMetrics bool) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", s.handleReady)
	if serveMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/webhooks/payments", s.handlePaymentWebhook)

	public := v1.Group("", s.auth.Identify(), s.auth.RateLimit())
	public.GET("/packages", s.handleListPackages)
	public.GET("/packages/:ref", s.handleGetPackage)
	public.POST("/quotes", s.handleQuote)

	bookings := public.Group("/bookings", s.auth.RequireIdentity())
	bookings.POST("", s.handleCreateBooking)
	bookings.GET("", s.handleListBookings)
	bookings.POST("/claim", s.auth.RequireUser(), s.handleClaim)
	bookings.GET("/reference/:ref", s.handleGetByReference)
	bookings.GET("/:id", s.handleGetBooking)
	bookings.PATCH("/:id", s.handleUpdateDraft)
	bookings.DELETE("/:id", s.handleDeleteDraft)
	bookings.POST("/:id/preview", s.handlePreview)
	bookings.POST("/:id/cancel", s.handleCancel)
	bookings.POST("/:id/initiate-payment", s.handleCreateOrder)
	bookings.POST("/:id/verify-payment", s.handleVerifyPayment)

	admin := v1.Group("/admin", s.auth.RateLimit())
	admin.GET("/pricing-rules", s.auth.RequireAPIKey(PermRules), s.handleListRules)
	admin.POST("/pricing-rules", s.auth.RequireAPIKey(PermRules), s.handleCreateRule)
	admin.POST("/pricing-rules/:id/activate", s.auth.RequireAPIKey(PermRules), s.handleSetRuleActive(true))
	admin.POST("/pricing-rules/:id/deactivate", s.auth.RequireAPIKey(PermRules), s.handleSetRuleActive(false))
	admin.POST("/bookings/:id/expire", s.auth.RequireAPIKey(PermBookings), s.handleExpire)
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	failures := s.deps.Health.Run(c.Request.Context())
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
