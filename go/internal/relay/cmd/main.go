package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/directorio/directorio/go/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(parseLevel(getEnv("LOG_LEVEL", "info")))

	port := getEnv("RELAY_PORT", "8081")
	key := os.Getenv("RELAY_KEY")
	if key == "" {
		log.Fatal().Msg("RELAY_KEY must be set")
	}

	config := relay.DefaultConfig()
	config.Key = key
	config.InstanceID = os.Getenv("RELAY_INSTANCE_ID")
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		jsConfig := relay.DefaultJetStreamConfig()
		jsConfig.URL = natsURL
		config.JetStream = &jsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayService, err := relay.NewService(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay service")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	relayService.RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := relayService.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"directorio-relay","connections":%d,"rooms":%d}`,
			stats.TotalConnections, stats.ActiveRooms)
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	log.Info().
		Str("port", port).
		Bool("jetstream", config.JetStream != nil).
		Msg("starting relay")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relayService.Start(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("relay failed")
	}
	log.Info().Msg("relay shutdown complete")
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
