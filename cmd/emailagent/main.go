// Command emailagent serves a multi-account email API over HTTP, with
// session-managed IMAP access, SMTP sending, health probes, and Prometheus
// metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	imap "github.com/zerolib/go-imap-session"
	"github.com/zerolib/go-imap-session/internal/config"
	"github.com/zerolib/go-imap-session/internal/handler"
	"github.com/zerolib/go-imap-session/internal/httpapi"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// A missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	level := cfg.Logging.SlogLevel()
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)
	imap.SetSlogLogger(logger)
	if level == slog.LevelDebug {
		imap.Verbose = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := make(map[string]*handler.Handler, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		handlers[account.Name] = handler.New(account, cfg.Session())
		logger.Info("account registered",
			"account", account.Name,
			"host", account.Incoming.Host)
	}

	api := httpapi.NewServer(cfg, handlers)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "accounts", len(handlers))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	for name, h := range handlers {
		if err := h.Close(shutdownCtx); err != nil {
			logger.Warn("handler close", "account", name, "error", err)
		}
	}
	logger.Info("stopped")
}
