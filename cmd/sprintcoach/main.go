package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/config"
	"github.com/claude/sprintcoach/internal/history"
	"github.com/claude/sprintcoach/internal/loop"
	sprintmcp "github.com/claude/sprintcoach/internal/mcp"
	"github.com/claude/sprintcoach/internal/server"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/claude/sprintcoach/internal/workout"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("SprintCoach starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg.Database, *migrateOnly, log)
	if err != nil {
		log.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	if store == nil {
		log.Info("migrate-only: exiting")
		return
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session core: one loop owns the live workout.
	l := loop.New(256, log)
	rec := history.NewRecorder(store, 64, log)

	var ch companion.Channel
	var httpCh *companion.HTTPChannel
	if cfg.Companion.URL != "" {
		httpCh = companion.NewHTTPChannel(companion.HTTPChannelConfig{
			BaseURL:       cfg.Companion.URL,
			APIKey:        cfg.Companion.APIKey,
			OutboxSize:    cfg.Companion.OutboxSize,
			ProbeInterval: cfg.Companion.ProbeInterval(),
		}, log)
		ch = httpCh
	}

	svc := workout.New(l, rec, ch, nil, workout.Options{
		TickInterval:     cfg.Session.Tick(),
		DefaultUserID:    cfg.Session.UserID,
		ProgressInterval: cfg.Companion.ProgressInterval(),
	}, log)
	if httpCh != nil {
		coord := svc.Coordinator()
		coord.SetPaired(true)
		httpCh.Notify(coord.SetReachable, coord.Delivered, coord.Failed)
	}

	// Create server
	srv := server.New(store, svc, cfg.Auth.APIKey, log)

	mcpSrv := sprintmcp.New(sprintmcp.Local{Store: store, Service: svc}, Version, log)
	srv.MountMCP(mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return sprintmcp.WithUserID(ctx, server.UserID(r))
		}),
	))

	// Start server: tsnet or plain HTTP
	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })
	g.Go(func() error { return rec.Run(gctx) })
	if httpCh != nil {
		g.Go(func() error { return httpCh.Run(gctx) })
	}
	g.Go(func() error {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
	}
	saved, failed, _ := rec.Stats()
	log.Info("server stopped", "sessions_saved", saved, "sessions_failed", failed)
}

// openStore opens the configured history store, applying migrations for
// PostgreSQL. It returns a nil store when migrateOnly is set.
func openStore(db config.DatabaseConfig, migrateOnly bool, log *slog.Logger) (storage.Store, error) {
	if db.SQLite() {
		if migrateOnly {
			return nil, nil
		}
		local, err := storage.OpenLocal(db.Path)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite history opened", "path", db.Path)
		return local, nil
	}

	dsn := db.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("migrations applied")
	if migrateOnly {
		return nil, nil
	}

	pg, err := storage.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	log.Info("database connected")
	return pg, nil
}
