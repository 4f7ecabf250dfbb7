package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-pagewatch/internal/app"
	"go-pagewatch/internal/autoscan"
	"go-pagewatch/internal/cache"
	"go-pagewatch/internal/config"
	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/handler"
	"go-pagewatch/internal/logger"
	"go-pagewatch/internal/migration"
	"go-pagewatch/internal/notify"
	"go-pagewatch/internal/pagetree"
	"go-pagewatch/internal/scan"

	"github.com/joho/godotenv"
)

func main() {
	// --- Configuration Loading ---
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store Initialization ---
	log.Info(fmt.Sprintf("Opening %s store...", cfg.Store.Driver))
	store, err := data.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal(err, "Failed to open store")
	}
	defer store.Close()
	log.Info("Store opened.")

	// --- Data Migration ---
	settings := configstore.New(store, cfg.Autoscan.DefaultIntervalMinutes)
	migrator := migration.New(store, settings, log)
	if err := settings.Load(ctx); err != nil {
		log.Fatal(err, "Failed to load settings")
	}
	log.Info("Checking stored data version...")
	if err := migrator.Migrate(ctx); err != nil {
		log.Fatal(err, "Failed to migrate stored data")
	}

	// --- Page Tree ---
	tree, err := pagetree.Load(ctx, store, log)
	if err != nil {
		var corrupt *data.StoreCorruptError
		if errors.As(err, &corrupt) {
			log.Fatal(err, "Stored pages are corrupt, refusing to start")
		}
		log.Fatal(err, "Failed to load pages")
	}

	// --- Cache Initialization ---
	log.Info("Initializing SQLite cache...")
	validatorCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal(err, "Failed to initialize cache")
	}
	defer validatorCache.Close()
	if n, err := validatorCache.Purge(); err != nil {
		log.Warn(fmt.Sprintf("Failed to purge cache: %v", err))
	} else if n > 0 {
		log.Info(fmt.Sprintf("Purged %d expired cache entries.", n))
	}
	log.Info("Cache initialized.")

	// --- Scanning ---
	engine, err := scan.NewEngine(cfg.Scan, scan.NewFetcher(cfg.Scan, validatorCache, log), tree, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize scan engine")
	}
	scheduler := autoscan.New(cfg.Autoscan, tree, engine, settings, log)
	gateway := notify.NewGateway(cfg.Notify, tree, log)

	config.Watch(func(next *config.Config) {
		policy, err := scan.PolicyFromConfig(next.Scan)
		if err != nil {
			log.Error(err, "Ignoring invalid scan settings")
			return
		}
		engine.SetPolicy(policy)
		log.Info("Scan settings reloaded.")
	}, func(err error) {
		log.Error(err, "Ignoring invalid configuration change")
	})

	// --- Background Context ---
	bg := app.New(app.Deps{
		Tree:      tree,
		Settings:  settings,
		Migrator:  migrator,
		Scheduler: scheduler,
		Gateway:   gateway,
		Icon:      logIconSink{log: log},
		Seed:      cfg.Seed,
		Autoscan:  cfg.Autoscan.Enabled,
		Log:       log,
	})
	if err := bg.Init(ctx); err != nil {
		log.Fatal(err, "Failed to initialize background context")
	}

	// --- Router Setup ---
	apiHandler := handler.NewAPIHandler(bg, tree, settings, log)
	router := handler.NewRouter(apiHandler, log, cfg.Server.AllowedOrigins)

	// --- Server Initialization and Graceful Shutdown ---
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info(fmt.Sprintf("Starting HTTP server on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Could not start HTTP server")
		}
	}()

	<-ctx.Done()
	log.Warn("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}
	bg.Close()
	log.Info("Server exiting")
}

// logIconSink reports badge changes in the log. The host UI polls
// /api/badge for the same information.
type logIconSink struct {
	log logger.Logger
}

func (s logIconSink) SetBadge(b app.Badge) {
	s.log.Debug(fmt.Sprintf("Badge updated: %q (%d changed)", b.Text, b.Count))
}
