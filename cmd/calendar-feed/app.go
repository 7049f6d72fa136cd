package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"calendar-feed/internal/auth"
	"calendar-feed/internal/config"
	"calendar-feed/internal/filter"
	"calendar-feed/internal/gateway"
	"calendar-feed/internal/gcal"
	"calendar-feed/internal/poller"
	"calendar-feed/internal/snapshot"
	"calendar-feed/internal/store"
	"calendar-feed/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// newLogger writes to w, never stdout: stdout carries the host link.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// service is the wiring shared by run and once.
type service struct {
	manager *auth.Manager
	emitter gateway.Emitter
	closers []io.Closer
}

func (s *service) Close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger, out gateway.Emitter) (*service, error) {
	s := &service{emitter: out}

	tokens, err := openTokens(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := tokens.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	s.manager = auth.NewManager(auth.Options{
		Credentials: store.NewDir(cfg.StorageDir),
		Tokens:      tokens,
		Logger:      logger,
	})
	s.manager.Initialize(auth.Settings{State: cfg.ModuleName})

	if cfg.SnapshotDir != "" {
		s.emitter = snapshot.NewWriter(out, store.NewDir(cfg.SnapshotDir), logger)
		logger.Info("writing snapshots", "dir", cfg.SnapshotDir)
	}
	return s, nil
}

func openTokens(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.TokenStore != config.TokenStoreSQLite {
		return store.NewDir(cfg.StorageDir), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// run serves the host link until the input ends or ctx is cancelled. With
// calendars in the config file it also runs without a host, until ctx is
// cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	lines := transport.NewLines(in, out, logger)

	svc, err := newService(ctx, cfg, logger, lines)
	if err != nil {
		return err
	}
	defer svc.Close()

	gw := gateway.New(svc.manager, svc.emitter, gateway.Options{
		ModuleName:  cfg.ModuleName,
		BaseContext: ctx,
		Logger:      logger,
	})
	defer gw.Shutdown()

	if cfg.CallbackListen != "" {
		srv := transport.NewCallbackServer(cfg.CallbackListen, transport.NewCallbackHandler(gw, logger))
		go func() {
			logger.Info("starting OAuth callback server", "listen", "http://"+cfg.CallbackListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("callback server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	standalone := len(cfg.Calendars) > 0
	if standalone {
		gw.Init(cfg.Module)
		for _, cal := range cfg.Calendars {
			gw.AddCalendar(subscription(cal))
		}
		gw.ModuleReady(ctx, nil)
	}

	logger.Info("calendar-feed started", "module", cfg.ModuleName, "standalone", standalone)
	err = lines.Serve(ctx, gw)
	switch {
	case errors.Is(err, context.Canceled):
		err = nil
	case err == nil && standalone:
		<-ctx.Done()
	}
	logger.Info("calendar-feed shutting down")
	return err
}

// once runs a single cycle for every configured calendar and prints the
// notifications as JSON lines.
func once(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	if len(cfg.Calendars) == 0 {
		return errors.New("no calendars configured")
	}

	lines := transport.NewLines(strings.NewReader(""), out, logger)
	svc, err := newService(ctx, cfg, logger, lines)
	if err != nil {
		return err
	}
	defer svc.Close()

	outcome, err := svc.manager.EnsureAuthorized(ctx)
	if err != nil {
		return err
	}
	if !outcome.Ready {
		return fmt.Errorf("not authorized, visit %s and run the service to complete the consent", outcome.ConsentURL)
	}

	client, err := gcal.NewClient(ctx, svc.manager.Client())
	if err != nil {
		return err
	}

	gw := gateway.New(svc.manager, svc.emitter, gateway.Options{ModuleName: cfg.ModuleName, Logger: logger})
	f := filter.Compile(cfg.Module.ExcludedEvents)
	for _, defect := range f.Defects() {
		logger.Warn("exclusion rule never matches", "error", defect)
	}

	p := poller.New(client, f, gw, poller.Options{Logger: logger})
	failed := 0
	for _, cal := range cfg.Calendars {
		if !p.RunOnce(ctx, subscription(cal)) {
			failed++
		}
	}
	p.Shutdown()

	logger.Info("single run finished", "calendars", len(cfg.Calendars), "failed", failed)
	return nil
}

func subscription(cal config.Calendar) poller.Subscription {
	id := cal.ID
	if id == "" {
		id = cal.CalendarID
	}
	return poller.Subscription{
		ID:             id,
		CalendarID:     cal.CalendarID,
		FetchInterval:  cal.FetchInterval,
		MaximumEntries: cal.MaximumEntries,
	}
}
