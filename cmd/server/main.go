// Battery diagnostics shell server
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/batteryshell/internal/api"
	"github.com/ashureev/batteryshell/internal/app"
	"github.com/ashureev/batteryshell/internal/artifact"
	"github.com/ashureev/batteryshell/internal/bridge"
	"github.com/ashureev/batteryshell/internal/config"
	"github.com/ashureev/batteryshell/internal/events"
	"github.com/ashureev/batteryshell/internal/gateway"
	"github.com/ashureev/batteryshell/internal/middleware"
	"github.com/ashureev/batteryshell/internal/registry"
	"github.com/ashureev/batteryshell/internal/store"
	"github.com/ashureev/batteryshell/internal/stream"
	"github.com/ashureev/batteryshell/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Backend.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Snapshot archive.
	archive, err := store.NewSQLite(cfg.Archive.DBPath, nil)
	if err != nil {
		slog.Error("Failed to initialize archive", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			slog.Error("Failed to close archive", "error", closeErr)
		}
	}()
	if err := archive.Ping(ctx); err != nil {
		slog.Error("Archive health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Archive connected", "path", cfg.Archive.DBPath)
	store.StartRetentionWorker(ctx, archive, cfg.Archive.Retention, store.DefaultRetentionInterval, nil)

	reg := registry.NewBuiltin(logger)
	if err := loadRegistry(reg, cfg.Artifacts.RegistryPath); err != nil {
		slog.Error("Failed to load module registry", "error", err)
		os.Exit(1)
	}

	viewStore, chipStore, staticRoot, err := openArtifacts(cfg)
	if err != nil {
		slog.Error("Failed to open artifact source", "error", err)
		os.Exit(1)
	}

	gw, err := openGateway(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to connect backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			slog.Warn("Failed to close gateway", "error", closeErr)
		}
	}()
	go func() {
		if err := gw.Run(ctx); err != nil {
			slog.Error("Backend channel failed", "error", err)
		}
	}()

	shell := app.New(app.Options{
		ViewArtifacts:   viewStore,
		ChipArtifacts:   chipStore,
		Registry:        reg,
		Gateway:         gw,
		Archive:         archive,
		Hub:             events.NewHub(cfg.EventBacklog),
		DefaultView:     cfg.DefaultView,
		ExportedBy:      cfg.ExportedBy,
		CommandDelay:    cfg.Timing.CommandDelay,
		ConnectDelay:    cfg.Timing.ConnectDelay,
		DisconnectDelay: cfg.Timing.DisconnectDelay,
		FetchTimeout:    cfg.Artifacts.Timeout,
		Logger:          logger,
	})
	defer shell.Close()
	shell.Start(ctx)

	if cfg.Artifacts.Watch {
		watcher, err := artifact.NewWatcher(cfg.Artifacts.Dir, func(path string) {
			viewStore.Purge()
			chipStore.Purge()
			if err := loadRegistry(reg, cfg.Artifacts.RegistryPath); err != nil {
				slog.Warn("Failed to reload module registry", "error", err)
			}
			slog.Info("Artifacts changed, caches purged", "path", path)
		}, logger)
		if err != nil {
			slog.Error("Failed to watch artifacts", "error", err)
			os.Exit(1)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHandler(shell, logger).RegisterRoutes(r)
	r.Get("/ws/shell", stream.NewHandler(shell, cfg.AllowedOrigins, cfg.IsDevelopment(), logger).ServeHTTP)
	r.Handle("/*", web.ShellHandler(staticRoot))

	// No WriteTimeout: /ws/shell connections are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// openArtifacts picks the artifact source: remote host, a directory on disk,
// or the embedded tree. The returned root serves the shell page.
func openArtifacts(cfg *config.Config) (views, chips *artifact.Cache, root fs.FS, err error) {
	var viewSrc, chipSrc artifact.Store
	switch {
	case cfg.Artifacts.BaseURL != "":
		client := &http.Client{Timeout: cfg.Artifacts.Timeout}
		vs, err := artifact.NewHTTPStore(cfg.Artifacts.BaseURL, client, artifact.ViewLayout)
		if err != nil {
			return nil, nil, nil, err
		}
		cs, err := artifact.NewHTTPStore(cfg.Artifacts.BaseURL, client, artifact.ChipLayout)
		if err != nil {
			return nil, nil, nil, err
		}
		viewSrc, chipSrc = vs, cs
		slog.Info("Serving artifacts from remote host", "base_url", cfg.Artifacts.BaseURL)
	case cfg.Artifacts.Dir != "":
		root = os.DirFS(cfg.Artifacts.Dir)
		viewSrc = artifact.NewFSStore(root, artifact.ViewLayout)
		chipSrc = artifact.NewFSStore(root, artifact.ChipLayout)
		slog.Info("Serving artifacts from disk", "dir", cfg.Artifacts.Dir)
	default:
		root = web.Artifacts()
		viewSrc = artifact.NewFSStore(root, artifact.ViewLayout)
		chipSrc = artifact.NewFSStore(root, artifact.ChipLayout)
	}
	return artifact.NewCache(viewSrc), artifact.NewCache(chipSrc), root, nil
}

func openGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway.Gateway, error) {
	opts := gateway.Options{Timeout: cfg.Backend.Timeout, Logger: logger}
	switch cfg.Backend.Mode {
	case config.BackendWebSocket:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ch, err := bridge.DialWebSocket(dialCtx, cfg.Backend.Addr, logger)
		if err != nil {
			return nil, err
		}
		opts.Channel = ch
	case config.BackendGRPC:
		ch, err := bridge.DialGRPC(bridge.DefaultGRPCConfig(cfg.Backend.Addr), logger)
		if err != nil {
			return nil, err
		}
		opts.Channel = ch
	default:
		opts.Simulator = gateway.NewSimulator(gateway.SimulatorConfig{
			DelayMin: cfg.Backend.DelayMin,
			DelayMax: cfg.Backend.DelayMax,
		})
		slog.Info("No native backend configured, using simulator")
	}
	return gateway.New(opts), nil
}

func loadRegistry(reg *registry.Registry, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open registry file: %w", err)
	}
	defer func() { _ = f.Close() }()
	n, err := reg.LoadYAML(f)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("Module registry loaded", "path", path, "descriptors", n)
	return nil
}
