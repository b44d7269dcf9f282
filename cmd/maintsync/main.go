// main is the entry point of the maintsync node.
// It initializes the configuration, logger, settings, database, sync transport and GeoIP provider,
// then starts the node components and the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/maintsync/internal/config"
	"github.com/woozymasta/maintsync/internal/gate"
	"github.com/woozymasta/maintsync/internal/geoip"
	"github.com/woozymasta/maintsync/internal/logger"
	"github.com/woozymasta/maintsync/internal/node"
	"github.com/woozymasta/maintsync/internal/server"
	"github.com/woozymasta/maintsync/internal/tasks"
	"github.com/woozymasta/maintsync/internal/vars"
)

func main() {
	cfg := config.Parse()

	logCloser := logger.Setup(cfg.Logger, cfg.Node.Name)
	defer func() { _ = logCloser.Close() }()
	log.Info().Str("version", vars.Version).Str("commit", vars.CommitShort()).Msg("Starting maintsync node...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Settings
	settings := config.NewLoader(cfg.Node.Settings)
	if err := settings.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	// Database
	store, err := node.OpenStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Sync transport
	tr, err := node.OpenTransport(ctx, cfg.Sync, cfg.Node.Name)
	if err != nil {
		_ = store.Close()
		log.Fatal().Err(err).Str("transport", cfg.Sync.Transport).Msg("Failed to connect sync transport")
	}

	n, err := node.New(node.Options{
		Name:         cfg.Node.Name,
		Store:        store,
		Transport:    tr,
		Settings:     settings,
		ReplayWrites: cfg.Node.ReplayWrites,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create node")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error closing node")
		}
	}()

	// One-shot tasks
	if cfg.Tasks.Any() {
		if err := n.Whitelist.Load(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to load whitelist")
			return
		}
		tasks.Run(ctx, cfg.Tasks, store, n.Whitelist)
		return
	}

	if err := n.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start node")
		return
	}

	// GeoIP
	var geoProvider *geoip.Provider
	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		if geoProvider, err = geoip.Open(cfg.GeoIP.Path); err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Connection gate
	g := gate.New(n.Machine, n.Whitelist, n,
		gate.WithGeoIP(geoProvider),
		gate.WithSoftLimit(cfg.RateLimit.SoftLimitDur))
	g.Start(cfg.Tasks.Workers)
	defer g.Stop()
	go g.RunSweeper(ctx, time.Minute)

	if cfg.Server.Address == "" {
		log.Info().Msg("HTTP API disabled")
		<-ctx.Done()
		log.Info().Msg("Shutting down node...")
		return
	}

	srv := server.New(n, g, cfg)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
