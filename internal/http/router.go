// Package httpapi wires the HTTP transport (Gin) to the webhook pipeline, the
// reporting services, middleware and route handlers.
//
// Two surfaces share one engine:
//   - /webhooks/booking[/:provider], authenticated by X-Webhook-Secret and
//     never rate limited;
//   - the reporting API under cfg.APIBasePath, behind HTTP Basic auth, the
//     per-admin rate limiter and gzip.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-rental-funnel/docs"
	"github.com/tbourn/go-rental-funnel/internal/config"
	"github.com/tbourn/go-rental-funnel/internal/http/handlers"
	"github.com/tbourn/go-rental-funnel/internal/http/middleware"
	"github.com/tbourn/go-rental-funnel/internal/normalizer"
	"github.com/tbourn/go-rental-funnel/internal/notify"
	"github.com/tbourn/go-rental-funnel/internal/services"
)

// Deps are the runtime collaborators the router builds services from.
type Deps struct {
	DB         *gorm.DB
	Normalizer *normalizer.Normalizer // nil: built-in provider table
	Notifier   notify.Sender          // nil: log-only notifications
	Version    string
}

// NewServices builds the handler services over deps and cfg.
func NewServices(deps Deps, cfg config.Config) handlers.Services {
	norm := deps.Normalizer
	if norm == nil {
		norm = normalizer.New(nil)
	}
	var sender notify.Sender = notify.LogSender{}
	if deps.Notifier != nil {
		sender = deps.Notifier
	}

	events := &services.IdempotencyStore{DB: deps.DB}
	ledger := &services.Ledger{DB: deps.DB}
	referrals := &services.ReferralService{DB: deps.DB}
	attribution := &services.AttributionService{DB: deps.DB, Window: cfg.Referral.AttributionWindow}
	payouts := &services.PayoutService{
		DB:      deps.DB,
		Mode:    cfg.Referral.PayoutMode,
		Fixed:   cfg.Referral.PayoutFixed,
		Percent: cfg.Referral.PayoutPercent,
	}

	return handlers.Services{
		Webhooks: &services.Pipeline{
			Events:      events,
			Normalizer:  norm,
			Ledger:      ledger,
			Attribution: attribution,
			Payouts:     payouts,
			Referrals:   referrals,
			Notifier:    sender,
		},
		Bookings:    ledger,
		Payouts:     payouts,
		Events:      events,
		Referrals:   referrals,
		Attribution: attribution,
		Reports:     &services.ReportService{DB: deps.DB},
	}
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. ContextLogger: request-scoped logger for handlers and services
//  4. RedactingLogger: access log with PII and secrets scrubbed
//  5. Recovery: capture panics after logger
//  6. Metrics
//  7. CORS and security headers
//
// The reporting group adds AdminAuth, the rate limiter (keyed by admin user)
// and gzip.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))

	// Listings carry ETags, so responses stay cacheable.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(NewServices(deps, cfg), handlers.Options{
		DefaultProvider: cfg.Webhook.DefaultProvider,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		Version:         deps.Version,
	})

	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	hooks := r.Group("/webhooks", middleware.WebhookSecret(cfg.Webhook.Secret))
	{
		hooks.POST("/booking", h.ReceiveBooking)
		hooks.POST("/booking/:provider", h.ReceiveBooking)
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAdminOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.AdminAuth(cfg.Admin.User, cfg.Admin.Password),
		rl.Handler(),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		api.GET("/bookings", h.ListBookings)
		api.GET("/payouts", h.ListPayouts)
		api.GET("/stats", h.Stats)
		api.GET("/webhook-events/unprocessed", h.ListUnprocessedEvents)
		api.POST("/webhook-events/:id/replay", h.ReplayEvent)
		api.POST("/referrals/codes", h.IssueReferralCode)
		api.POST("/referrals/start", h.RecordReferralStart)
		api.GET("/referrals/window", h.CheckAttributionWindow)
		api.GET("/referrals/codes/:id/events", h.ListReferralEvents)
	}
}

// corsMiddleware allows the dashboard origins, or any origin when none are
// configured. Credentials are never allowed with the wildcard.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
