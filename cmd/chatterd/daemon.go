package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/mfriedr/chatterd/internal/account"
	"github.com/mfriedr/chatterd/internal/backend/echo"
	"github.com/mfriedr/chatterd/internal/config"
	"github.com/mfriedr/chatterd/internal/dispatch"
	"github.com/mfriedr/chatterd/internal/event"
	"github.com/mfriedr/chatterd/internal/history"
	"github.com/mfriedr/chatterd/internal/server"
	"github.com/mfriedr/chatterd/internal/session"
)

const stateDirMode = 0o700

// runDaemon wires the components together and blocks until shutdown.
//
// Startup order matters: the state directory and logger first, then the
// account registry is restored from disk, then the adapter is wired into
// the event registry, and only then are sessions started and the listener
// opened. Shutdown reverses it: the listener stops accepting, every session
// worker is stopped and joined, and only then are the stores closed.
func runDaemon(cfg config.Config, v *viper.Viper) error {
	if err := os.MkdirAll(cfg.Dir, stateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	logger, levelVar, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	registry := account.NewRegistry(account.NewFileStore(cfg.AccountsPath()), logger)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	var hist history.Store
	if cfg.History.Backend == "sqlite" {
		hist, err = history.NewSQLiteStore(cfg.HistoryPath())
		if err != nil {
			return err
		}
	} else {
		hist = history.NewMemoryStore()
	}
	defer func() { _ = hist.Close() }()

	events := event.NewRegistry()

	sup := session.NewSupervisor(registry, events, hist, echo.New, echo.TypeTag,
		session.Config{
			PollInterval:   cfg.Session.PollInterval,
			ReconnectDelay: cfg.Session.ReconnectDelay,
			FilterOwn:      cfg.Session.FilterOwn,
		},
		logger.With("component", "session"))
	sup.Wire()

	dispatcher := dispatch.NewDispatcher(registry, events, logger.With("component", "dispatch"))

	srv := server.New(server.Config{
		Network:      cfg.Listen.Network,
		Address:      cfg.ListenAddress(),
		PollInterval: cfg.Session.PollInterval,
	}, registry, events, dispatcher, logger.With("component", "server"))

	events.Dispatch(nil, event.ConfigReady, []string{cfg.Dir})

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Apply log level changes from the config file without a restart.
	config.Watch(v, func(next config.Config) {
		level, err := parseLevel(next.Logging.Level)
		if err != nil {
			logger.Warn("ignoring config change", "error", err)
			return
		}
		if level != levelVar.Level() {
			levelVar.Set(level)
			logger.Info("log level changed", "level", next.Logging.Level)
		}
	})

	sup.StartAll()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("caught signal", "signal", sig.String())
		events.Dispatch(nil, event.Interrupted, nil)
		srv.Close()
	}()

	serveErr := srv.Serve()

	events.Dispatch(nil, event.ShuttingDown, nil)
	sup.StopAll()
	srv.Close()

	return serveErr
}

// buildLogger creates the root slog logger per the logging configuration.
// The returned LevelVar allows runtime level changes; the close function
// releases the log file, if one is used.
func buildLogger(cfg config.Config) (*slog.Logger, *slog.LevelVar, func(), error) {
	levelVar := new(slog.LevelVar)
	level, err := parseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	levelVar.Set(level)

	var out io.Writer = os.Stderr
	closeLog := func() {}
	if path := cfg.LogFilePath(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler), levelVar, closeLog, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
