package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/callzhang/hypo/internal/api"
	"github.com/callzhang/hypo/internal/config"
	"github.com/callzhang/hypo/internal/logging"
	"github.com/callzhang/hypo/internal/pairing"
	"github.com/callzhang/hypo/internal/relay"
	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:     "hypo-relay",
	Short:   "Hypo relay - encrypted clipboard sync between devices",
	Long:    `Hypo relay forwards end-to-end encrypted clipboard payloads between paired devices over WebSocket. Payloads are opaque to the server; it only routes frames and brokers the pairing handshake.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Hypo Relay %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup logs, before config is available.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "hypo-relay",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "hypo-relay",
	})

	log.Info().Str("version", Version).Msg("Starting Hypo relay server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newPairingStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pairing store")
	}
	defer store.Close()

	registry := session.NewRegistry()
	keys := session.NewKeyStore()
	collector := stats.NewCollector()

	relayHandler := relay.NewHandler(registry, keys, collector, relay.Options{
		AuthSecret:        cfg.AuthToken,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		StrictEmptyFrames: cfg.StrictEmptyFrames,
	}, log.Logger)

	handler := api.NewRouter(api.Deps{
		Config:   cfg,
		Registry: registry,
		Pairing:  store,
		Stats:    collector,
		Relay:    relayHandler,
		Version:  Version,
	})

	// ReadHeaderTimeout instead of ReadTimeout: a read deadline on the
	// underlying connection would persist past the WebSocket upgrade and
	// kill idle relay sessions.
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveUntilShutdown(gctx, srv, "relay", shutdownTimeout)
	})
	if addr := cfg.MetricsAddr(); addr != "" {
		metricsSrv := newMetricsServer(addr)
		g.Go(func() error {
			return serveUntilShutdown(gctx, metricsSrv, "metrics", metricsShutdownTimeout)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}

func newPairingStore(ctx context.Context, cfg *config.Config) (pairing.Store, error) {
	switch cfg.PairingStore {
	case "memory":
		log.Warn().Msg("Using in-memory pairing store; codes do not survive restarts")
		return pairing.NewMemoryStore(), nil
	default:
		store, err := pairing.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.RedisURL).Msg("Connected to Redis pairing store")
		return store, nil
	}
}

// serveUntilShutdown runs the server until it fails or ctx is
// cancelled, then drains it within the given timeout.
func serveUntilShutdown(ctx context.Context, srv *http.Server, name string, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("server", name).Msg("Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("Server shutdown was not clean")
		}
		<-errCh
		return nil
	}
}
