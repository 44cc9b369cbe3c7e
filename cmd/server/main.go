// Command server runs the booking webhook intake and the referral reporting
// API.
//
// @title                      Rental Funnel API
// @version                    1.0
// @description                Booking webhooks, referral attribution and partner payouts.
// @BasePath                   /
// @securityDefinitions.basic  BasicAuth
// @securityDefinitions.apikey WebhookSecret
// @in                         header
// @name                       X-Webhook-Secret
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-rental-funnel/internal/config"
	httpapi "github.com/tbourn/go-rental-funnel/internal/http"
	"github.com/tbourn/go-rental-funnel/internal/normalizer"
	"github.com/tbourn/go-rental-funnel/internal/notify"
	"github.com/tbourn/go-rental-funnel/internal/observability"
	"github.com/tbourn/go-rental-funnel/internal/repo"
	"github.com/tbourn/go-rental-funnel/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	dsn := cfg.DB.Path
	if cfg.DB.Driver == config.DriverPostgres {
		dsn = cfg.DB.URL
	}
	db, err := repo.Open(cfg.DB.Driver, dsn)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.Instrument(db); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing plugin")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	reg, err := normalizer.LoadRegistry(cfg.Webhook.ProvidersFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Webhook.ProvidersFile).Msg("load providers")
	}
	log.Info().Strs("providers", reg.Providers()).Msg("webhook providers loaded")

	var sender notify.Sender = notify.LogSender{}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := notify.NewKafkaSender(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := ks.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka writer close")
			}
		}()
		sender = ks
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:         db,
		Normalizer: normalizer.New(reg),
		Notifier:   sender,
		Version:    ver,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
