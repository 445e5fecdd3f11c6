package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/raterudder/octobridge/pkg/controller"
	"github.com/raterudder/octobridge/pkg/entity"
	"github.com/raterudder/octobridge/pkg/influx"
	"github.com/raterudder/octobridge/pkg/issues"
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/mqtt"
	"github.com/raterudder/octobridge/pkg/octopus"
	"github.com/raterudder/octobridge/pkg/server"
	"github.com/raterudder/octobridge/pkg/storage"
)

func main() {
	// init packages
	client := octopus.Configured()
	s := storage.Configured()
	publisher := mqtt.Configured()
	writer := influx.Configured()

	entities := entity.NewRegistry(s)
	issueRegistry, err := issues.NewRegistry(s)
	if err != nil {
		panic(fmt.Errorf("failed to load issue translations: %w", err))
	}

	ctrl := controller.Configured(client, s, entities, issueRegistry)
	srv := server.Configured(entities, issueRegistry, ctrl, map[string]server.HealthChecker{
		"storage": s,
		"mqtt":    publisher,
		"influx":  writer,
	})

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
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if publisher.Enabled() {
		publisher.SetDevice(mqtt.DefaultDevice(client.AccountID()))
		publisher.SetCommandHandler(entities.SetValue)
		if err := publisher.Connect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		entities.AddSink(ctx, publisher)
		issueRegistry.AddPublisher(publisher)
	}

	if writer.Enabled() {
		if err := writer.Connect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to influxdb", "error", err)
			os.Exit(1)
		}
		defer writer.Close()
		entities.AddSink(ctx, writer)
		ctrl.SetRecorder(writer)
	}

	go func() {
		if err := ctrl.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "controller failed", "error", err)
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
