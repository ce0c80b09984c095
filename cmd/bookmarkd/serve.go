package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/markwell/bookmarkd/internal/auth"
	"github.com/markwell/bookmarkd/internal/config"
	"github.com/markwell/bookmarkd/internal/engine"
	"github.com/markwell/bookmarkd/internal/httpapi"
	"github.com/markwell/bookmarkd/internal/hub"
	"github.com/markwell/bookmarkd/internal/store"
	"github.com/markwell/bookmarkd/internal/wsapi"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Start the bookmark sync server.

Serves the REST API under /api/bookmarks, the WebSocket sync channel at
/ws, and an unauthenticated liveness probe at /healthz. The server shuts
down gracefully on SIGINT/SIGTERM: new connections are refused, open
WebSocket sessions are closed, and in-flight requests get a grace period
before the database is closed.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cfg.AuthSecret == "" {
		return fmt.Errorf("auth_secret must be set (config file or BOOKMARKD_AUTH_SECRET)")
	}

	logOut := logWriter(cfg)
	logger := log.New(logOut, "", log.LstdFlags)
	logger.Printf("[serve] Starting bookmarkd on %s (db: %s)", cfg.Addr, cfg.DBPath)

	st, err := store.Open(cfg.DBPath, log.New(logOut, "[store] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	eng := engine.New(st, log.New(logOut, "[engine] ", log.LstdFlags))
	h := hub.New(log.New(logOut, "[hub] ", log.LstdFlags))
	verifier := auth.NewHMACVerifier(cfg.AuthSecret)

	api := httpapi.NewServer(eng, verifier, log.New(logOut, "[http] ", log.LstdFlags))
	ws := wsapi.NewServer(eng, h, verifier, wsapi.Config{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		Logger:       log.New(logOut, "[ws] ", log.LstdFlags),
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.HandleFunc("GET /ws", ws.HandleWS)
	mux.HandleFunc("GET /healthz", httpapi.Healthz(h.TotalCount))

	loader.Watch(logger, func(next *config.Config) {
		ws.SetLiveness(next.PingInterval, next.PongTimeout)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Printf("[serve] Received %v, shutting down", sig)
	}

	// Evict WebSocket sessions first so Shutdown is not held open by
	// long-lived connections.
	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("[serve] Shutdown incomplete: %v", err)
	}

	logger.Printf("[serve] Stopped")
	return nil
}

// logWriter returns the shared log destination: a rotating file when
// log_file is configured, stderr otherwise.
func logWriter(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}
}
