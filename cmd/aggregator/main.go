// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/H2WO4/project-m101/internal/api"
	"github.com/H2WO4/project-m101/internal/broker"
	"github.com/H2WO4/project-m101/internal/config"
	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/graph"
	"github.com/H2WO4/project-m101/internal/ingest"
	"github.com/H2WO4/project-m101/internal/jams"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/store"
	"golang.org/x/sync/errgroup"
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

	cfg, err := config.LoadAggregator(envFile)
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
	if err := serve(ctx, cfg, logger); err != nil {
		l.Err(ctx, err)
		return 1
	}
	l.Info(ctx, "aggregator stopped")
	return 0
}

// serve builds every component in dependency order and runs ingestion and
// the HTTP surface until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Aggregator, logger *slog.Logger) error {
	l := log.Wrap(logger)
	m := metrics.New()

	g, err := topology(cfg)
	if err != nil {
		return err
	}
	if !g.Symmetric() {
		l.Info(ctx, "topology adjacency is not symmetric")
	}

	var (
		reader store.Reader
		writer store.Writer
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemory()
		reader, writer = mem, mem
	default:
		pg, err := store.Connect(ctx, cfg.DatabaseURL,
			store.WithMetrics(m),
			store.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}

		w := pg.Writer()
		defer func() { _ = w.Close(context.WithoutCancel(ctx)) }()
		reader, writer = pg, w
	}

	host, port := cfg.MQTT.Host, cfg.MQTT.Port
	if cfg.MQTT.EmbeddedBroker {
		opts := []broker.Option{broker.WithLogger(logger)}
		if cfg.MQTT.Username != "" {
			opts = append(opts, broker.WithCredentials{
				Username: cfg.MQTT.Username,
				Password: cfg.MQTT.Password,
			})
		}
		b, err := broker.Start(
			net.JoinHostPort(host, strconv.Itoa(port)),
			opts...,
		)
		if err != nil {
			return err
		}
		defer b.Close()
		host, port = b.HostPort()
	}

	client := mqtt.NewSessionClient(
		mqtt.TCPConnection(host, port),
		clientOptions(cfg.MQTT, logger)...,
	)

	loop, err := ingest.New(ctx, client, writer, cfg.SensorNumber,
		ingest.WithIDFromPayload(cfg.IngestIDFromPayload),
		ingest.WithMetrics(m),
		ingest.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		return err
	}
	defer client.Stop()

	detector := jams.NewDetector(reader, g,
		jams.WithMetrics(m),
		jams.WithLogger(logger),
	)
	server := api.New(detector, reader,
		api.WithIngest(loop),
		api.WithSensors(cfg.SensorNumber),
		api.WithBroadcastInterval(cfg.JamBroadcastInterval),
		api.WithMetrics(m),
		api.WithLogger(logger),
	)

	l.Info(ctx, "aggregator starting",
		slog.Int("sensors", cfg.SensorNumber),
		slog.Int("segments", g.Size()),
		slog.String("store", cfg.Store),
		slog.String("mqtt", net.JoinHostPort(host, strconv.Itoa(port))),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return loop.Run(ctx) })
	group.Go(func() error { return server.ListenAndServe(ctx, cfg.HTTPAddr) })
	return group.Wait()
}

func topology(cfg *config.Aggregator) (*graph.Graph, error) {
	g := graph.Default()
	if cfg.TopologyFile != "" {
		var err error
		if g, err = graph.LoadFile(cfg.TopologyFile); err != nil {
			return nil, err
		}
	}
	if g.Size() < cfg.SensorNumber {
		return nil, errors.Config(
			"SENSOR_NUMBER",
			cfg.SensorNumber,
			fmt.Sprintf("topology only has %d segments", g.Size()),
		)
	}
	return g, nil
}

func clientOptions(
	cfg config.MQTT,
	logger *slog.Logger,
) []mqtt.SessionClientOption {
	opts := []mqtt.SessionClientOption{
		mqtt.WithClientID(cfg.ClientID),
		mqtt.WithKeepAlive(cfg.KeepAlive),
		mqtt.WithSessionExpiry(cfg.SessionExpiry),
		mqtt.WithLogger(logger),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mqtt.WithUsername(cfg.Username),
			mqtt.WithPassword([]byte(cfg.Password)),
		)
	}
	return opts
}
