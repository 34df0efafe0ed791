// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package main

import (
	"context"
	stderr "errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/H2WO4/project-m101/internal/config"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/sensor"
)

const envFile = ".env"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.LoadSensor(envFile)
	if err != nil {
		logger, _ := log.New(log.Options{})
		l := log.Wrap(logger)
		l.Err(ctx, err)
		return 1
	}

	logger, closer := log.New(log.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})
	defer closer.Close()
	slog.SetDefault(logger)

	l := log.Wrap(logger)
	if err := report(ctx, cfg, logger); err != nil {
		l.Err(ctx, err)
		return 1
	}
	return 0
}

func report(ctx context.Context, cfg *config.Sensor, logger *slog.Logger) error {
	opts := []mqtt.SessionClientOption{
		mqtt.WithClientID(cfg.MQTT.ClientID),
		mqtt.WithKeepAlive(cfg.MQTT.KeepAlive),
		mqtt.WithSessionExpiry(cfg.MQTT.SessionExpiry),
		mqtt.WithLogger(logger),
	}
	if cfg.MQTT.Username != "" {
		opts = append(opts,
			mqtt.WithUsername(cfg.MQTT.Username),
			mqtt.WithPassword([]byte(cfg.MQTT.Password)),
		)
	}
	client := mqtt.NewSessionClient(
		mqtt.TCPConnection(cfg.MQTT.Host, cfg.MQTT.Port),
		opts...,
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	client.RegisterFatalErrorHandler(cancel)

	if err := client.Start(); err != nil {
		return err
	}
	defer client.Stop()

	s := sensor.New(client, cfg.UniqueID,
		sensor.WithPeriod(cfg.Period),
		sensor.WithIDInPayload(cfg.IDInPayload),
		sensor.WithLogger(logger),
	)
	l := log.Wrap(logger)
	l.Info(ctx, "sensor reporting",
		slog.Int("id", cfg.UniqueID),
		slog.Int("speed", int(sensor.Speed(cfg.UniqueID))),
		slog.Duration("period", cfg.Period),
	)
	if err := s.Run(ctx); err != nil {
		return err
	}

	if err := context.Cause(ctx); !stderr.Is(err, context.Canceled) {
		return err
	}
	return nil
}
