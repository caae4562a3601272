package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/wattflow/wattflow/pkg/config"
	"github.com/wattflow/wattflow/pkg/engine"
	"github.com/wattflow/wattflow/pkg/hass"
	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/server"
	"github.com/wattflow/wattflow/pkg/storage"
	"github.com/wattflow/wattflow/pkg/types"
)

func main() {
	// init packages
	cfg := config.Configured()
	client := hass.Configured()
	s := storage.Configured()
	srv := server.Configured(nil, s)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if cfg.DisplayMode != types.DisplayModeToday {
		client.SetPeriod(types.Period{Start: cfg.PeriodStart, End: cfg.PeriodEnd})
	}
	eng := engine.New(*cfg, client)
	eng.SetSnapshotStore(srv.CardID(), s)
	srv.SetStatesProvider(eng)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return client.Run(ctx)
	})
	eg.Go(func() error {
		// the server keeps serving the stored snapshot if the engine gives up
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).ErrorContext(ctx, "engine stopped", slog.Any("error", err))
		}
		return nil
	})
	eg.Go(func() error {
		return srv.Run(ctx)
	})

	if err := eg.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "wattflow failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "wattflow exited cleanly")
}
