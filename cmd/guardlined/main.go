// Package main provides the Guardline safety monitoring daemon
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/guardline/guardline/pkg/dispatch"
	"github.com/guardline/guardline/pkg/gateway"
	"github.com/guardline/guardline/pkg/handler"
	"github.com/guardline/guardline/pkg/monitor"
	"github.com/guardline/guardline/pkg/postgres"
	"github.com/guardline/guardline/pkg/risk"
	"github.com/guardline/guardline/pkg/sim"
	"github.com/guardline/guardline/pkg/tracker"
	"github.com/guardline/guardline/pkg/transport"
	"github.com/guardline/guardline/pkg/zones"
)

// Config holds the daemon configuration
type Config struct {
	// Server settings
	HTTPAddr string
	HTTPPort int

	// External services
	NATSUrl       string
	PostgresURL   string
	SMSWebhookURL string
	SMSSecret     string

	// Engine settings
	SubjectID      string
	ZoneFile       string
	CountdownTicks int
	QueueCap       int
	SimEnabled     bool
	SimLat         float64
	SimLng         float64
	SimSeed        int64

	// CORS settings
	CORSOrigins []string

	// Logging
	LogLevel string
	LogJSON  bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       "0.0.0.0",
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		NATSUrl:        getEnv("NATS_URL", "nats://localhost:4222"),
		PostgresURL:    getEnv("POSTGRES_URL", ""),
		SMSWebhookURL:  getEnv("SMS_WEBHOOK_URL", ""),
		SMSSecret:      getEnv("SMS_WEBHOOK_SECRET", ""),
		SubjectID:      getEnv("SUBJECT_ID", "tourist-12345"),
		ZoneFile:       getEnv("ZONE_FILE", ""),
		CountdownTicks: getEnvInt("COUNTDOWN_TICKS", 10),
		QueueCap:       getEnvInt("OFFLINE_QUEUE_CAP", 0),
		SimEnabled:     getEnv("SIM_ENABLED", "true") == "true",
		SimLat:         getEnvFloat("SIM_LAT", 19.0596),
		SimLng:         getEnvFloat("SIM_LNG", 72.8295),
		SimSeed:        int64(getEnvInt("SIM_SEED", 42)),
		CORSOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:3001", "http://127.0.0.1:3001"},
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogJSON:        getEnv("LOG_JSON", "false") == "true",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func main() {
	cfg := DefaultConfig()
	setupLogging(cfg)

	log.Info().
		Str("nats_url", cfg.NATSUrl).
		Str("subject_id", cfg.SubjectID).
		Int("http_port", cfg.HTTPPort).
		Bool("sim_enabled", cfg.SimEnabled).
		Msg("Starting Guardline daemon")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Zone catalog
	index := zones.NewIndex()
	if cfg.ZoneFile != "" {
		if err := index.LoadFile(cfg.ZoneFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.ZoneFile).Msg("Failed to load zone catalog")
		}
		log.Info().Str("file", cfg.ZoneFile).Int("zones", index.Len()).Msg("Loaded zone catalog")
	} else {
		if err := index.Load(zones.DefaultCatalog()); err != nil {
			log.Fatal().Err(err).Msg("Failed to load default zone catalog")
		}
		log.Info().Int("zones", index.Len()).Msg("Loaded default zone catalog")
	}

	// Delivery channels: NATS primary, SMS webhook fallback. The daemon runs
	// degraded on the memory transport when NATS is unreachable.
	var primary gateway.Transport
	nc, err := transport.ConnectNATS(ctx, cfg.NATSUrl, "guardline-daemon", log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, using in-memory transport")
		primary = transport.NewMemory()
	} else {
		primary = nc
		defer nc.Close()
	}

	var fallback gateway.Transport
	if cfg.SMSWebhookURL != "" {
		fallback = transport.NewSMSWebhook(cfg.SMSWebhookURL, cfg.SMSSecret, 10*time.Second, log.Logger)
		log.Info().Str("url", cfg.SMSWebhookURL).Msg("SMS webhook fallback configured")
	}

	// Component graph
	gwCfg := gateway.DefaultConfig()
	gwCfg.QueueCap = cfg.QueueCap
	gw := gateway.New(gwCfg, primary, fallback, log.Logger)

	trk := tracker.New(index, log.Logger)
	scorer := risk.NewScorer(risk.DefaultWeights())

	dispCfg := dispatch.DefaultConfig()
	dispCfg.CountdownTicks = cfg.CountdownTicks
	disp := dispatch.New(dispCfg, cfg.SubjectID, gw, log.Logger)

	feed := sim.NewFeed(cfg.SimSeed)
	monCfg := monitor.DefaultConfig()
	monCfg.SubjectID = cfg.SubjectID
	svc := monitor.New(monCfg, index, trk, scorer, disp, gw, feed, log.Logger)

	// Optional persistence; the pool also serves the handlers' archive reads
	var archive handler.Archive
	if cfg.PostgresURL != "" {
		db, err := postgres.NewPoolFromURL(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		svc.SetStore(db)
		archive = db
		log.Info().Msg("Connected to PostgreSQL")
	}

	// Simulated device inputs
	var source monitor.LocationSource
	var probe monitor.ConnectivityProbe
	if cfg.SimEnabled {
		source = sim.NewWalker(cfg.SimLat, cfg.SimLng, 2*time.Second, cfg.SimSeed)
		probe = sim.NewFlappingLink(cfg.SimSeed)
	}

	// WebSocket hub
	wsHub := handler.NewWebSocketHub(svc, log.Logger)

	// Create HTTP server
	router := setupRouter(cfg, svc, wsHub, archive)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start services
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		err := svc.Run(gCtx, source, probe)
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("Guardline daemon shutdown complete")
}

func setupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

func setupRouter(cfg Config, svc *monitor.Service, wsHub *handler.WebSocketHub, archive handler.Archive) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(handler.CorrelationMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", healthHandler(svc))

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(svc.Metrics(), promhttp.HandlerOpts{}))

	// WebSocket endpoint
	wsHandler := handler.NewWebSocketHandler(wsHub, log.Logger)
	r.Handle("/ws", wsHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		incidentHandler := handler.NewIncidentHandler(svc, archive, log.Logger)
		r.Mount("/emergency", incidentHandler.Routes())

		positionHandler := handler.NewPositionHandler(svc, archive, log.Logger)
		r.Mount("/positions", positionHandler.Routes())

		statusHandler := handler.NewStatusHandler(svc, archive, log.Logger)
		r.Mount("/status", statusHandler.Routes())
	})

	return r
}

// requestLogger logs each HTTP request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		correlationID := handler.GetCorrelationID(r.Context())

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("correlation_id", correlationID).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	Components    map[string]string `json:"components"`
	CorrelationID string            `json:"correlation_id"`
}

var startTime = time.Now()

func healthHandler(svc *monitor.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := handler.GetCorrelationID(r.Context())

		response := HealthResponse{
			Status:        "healthy",
			Version:       "1.0.0",
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			Components:    make(map[string]string),
			CorrelationID: correlationID,
		}

		state := svc.Gateway().State()
		response.Components["connectivity"] = string(state.Mode)
		response.Components["dispatcher"] = string(svc.Dispatcher().State())
		if !state.Online {
			response.Status = "degraded"
		}

		status := http.StatusOK
		if response.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}

		handler.WriteJSON(w, status, response)
	}
}
