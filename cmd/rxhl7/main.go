package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/rxhl7/internal/config"
	"github.com/ehr/rxhl7/internal/domain/prescription"
	"github.com/ehr/rxhl7/internal/platform/auth"
	"github.com/ehr/rxhl7/internal/platform/db"
	"github.com/ehr/rxhl7/internal/platform/hl7v2"
	"github.com/ehr/rxhl7/internal/platform/middleware"
	"github.com/ehr/rxhl7/internal/platform/telemetry"
	"github.com/ehr/rxhl7/internal/platform/webhook"
	"github.com/ehr/rxhl7/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rxhl7",
		Short:         "Build and deliver HL7 v2 pharmacy orders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(parseResponseCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func newService(cfg *config.Config, repo prescription.MessageRepository, logger zerolog.Logger) *prescription.Service {
	svc := prescription.NewService(repo, cfg.HeaderConfig(), logger)
	svc.SetBuildOptions(prescription.WithPatientClass(cfg.HL7PatientClass))
	if cfg.HL7PatientClass != "" && !prescription.KnownPatientClass(cfg.HL7PatientClass) {
		logger.Warn().Str("patient_class", cfg.HL7PatientClass).Msg("patient class not in table 0004")
	}
	if cfg.MLLPAddr != "" {
		svc.SetSender(hl7v2.NewMLLPClient(cfg.MLLPAddr, cfg.MLLPTimeout, logger))
	}
	return svc
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are treated as admin")
	}

	ctx := context.Background()
	var (
		repo   prescription.MessageRepository
		pinger db.Pinger
		connMW echo.MiddlewareFunc
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		repo = prescription.NewMessageRepoPG(pool)
		pinger = pool
		connMW = db.ConnMiddleware(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set: messages will not be archived")
	}
	if cfg.MLLPAddr == "" {
		logger.Warn().Msg("MLLP_ADDR not set: transmit is disabled")
	}

	svc := newService(cfg, repo, logger)

	var hooks *webhook.Notifier
	if cfg.WebhookURL != "" {
		hooks, err = webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger,
			webhook.WithEvents(cfg.WebhookEventPatterns()...))
		if err != nil {
			logger.Error().Err(err).Msg("invalid webhook configuration")
			return err
		}
		workerCtx, stopWorker := context.WithCancel(ctx)
		defer stopWorker()
		hooks.Start(workerCtx)
		defer hooks.Close()
		svc.AddPublisher(hooks)
		logger.Info().Str("url", cfg.WebhookURL).Msg("webhook delivery enabled")
	}

	e := newServer(cfg, logger, svc, pinger, connMW, hooks)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware and routes. pinger and connMW are nil when no
// database is configured and hooks is nil when no webhook is. Archive events
// are pushed to websocket clients of /api/v1/prescriptions/hl7/events.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *prescription.Service, pinger db.Pinger, connMW echo.MiddlewareFunc, hooks *webhook.Notifier) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := telemetry.New("rxhl7")
	svc.SetMetrics(metrics)
	if pinger != nil {
		metrics.GaugeFunc("db_pool_acquired_connections", "Pool connections in use.", func() float64 {
			return float64(pinger.Stat().AcquiredConns())
		})
		metrics.GaugeFunc("db_pool_idle_connections", "Idle pool connections.", func() float64 {
			return float64(pinger.Stat().IdleConns())
		})
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	authCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(authCfg))
	} else {
		e.Use(auth.JWTMiddleware(authCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	hl7v2.NewHandler().RegisterRoutes(apiV1)

	rx := apiV1.Group("")
	if connMW != nil {
		rx.Use(connMW)
	}
	prescription.NewHandler(svc).RegisterRoutes(rx)

	hub := websocket.NewHub(logger)
	svc.AddPublisher(hub)
	events := apiV1.Group("/prescriptions/hl7", auth.RequireRole("prescriber", "pharmacist", "integration"))
	websocket.NewHandler(hub, nil).RegisterRoutes(events)

	if hooks != nil {
		webhook.NewHandler(hooks).RegisterRoutes(apiV1.Group("/prescriptions/hl7", auth.RequireRole("integration")))
	}
	return e
}
