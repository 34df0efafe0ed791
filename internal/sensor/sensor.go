// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/ingest"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/wallclock"
)

type (
	// Publisher is the part of the session client a sensor uses.
	Publisher interface {
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...mqtt.PublishOption,
		) error
	}

	// Sensor periodically reports the speed of one segment.
	Sensor struct {
		id          int
		period      time.Duration
		idInPayload bool
		client      Publisher
		clock       wallclock.WallClock
		log         log.Logger
	}

	// Option represents a single sensor option.
	Option interface{ sensor(*Options) }

	// Options are the resolved sensor options.
	Options struct {
		Period      time.Duration
		IDInPayload bool
		Clock       wallclock.WallClock
		Logger      *slog.Logger
	}

	// WithPeriod sets the interval between reports.
	WithPeriod time.Duration

	// WithIDInPayload sends [id, speed] payloads.
	WithIDInPayload bool

	withClock  struct{ wallclock.WallClock }
	withLogger struct{ *slog.Logger }
)

const defaultPeriod = 24 * time.Second

// Speed is the fixed speed reported for a segment.
func Speed(id int) byte {
	return byte(id*17%43 + 10)
}

// Payload encodes a report for the segment.
func Payload(id int, idInPayload bool) []byte {
	if idInPayload {
		return []byte{byte(id), Speed(id)}
	}
	return []byte{Speed(id)}
}

func New(client Publisher, id int, opts ...Option) *Sensor {
	o := Options{Period: defaultPeriod, Clock: wallclock.Instance}
	for _, opt := range opts {
		if opt != nil {
			opt.sensor(&o)
		}
	}
	return &Sensor{
		id:          id,
		period:      o.Period,
		idInPayload: o.IDInPayload,
		client:      client,
		clock:       o.Clock,
		log:         log.Wrap(o.Logger),
	}
}

// Run reports once right away and then every period until ctx is cancelled.
// Reports are retained so the aggregator sees the latest one on subscribe.
// A failed report is logged and the next one is attempted on schedule.
func (s *Sensor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		s.report(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sensor) report(ctx context.Context) {
	topic := ingest.Topic(s.id)
	err := s.client.Publish(
		ctx,
		topic,
		Payload(s.id, s.idInPayload),
		mqtt.WithQoS(mqtt.QoS1),
		mqtt.WithRetain(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, &errors.Error{
			Message:       "cannot publish report",
			Kind:          errors.TransportUnavailable,
			NestedError:   err,
			PropertyName:  "topic",
			PropertyValue: topic,
		})
		return
	}
	s.log.Debug(ctx, "report published",
		slog.String("topic", topic),
		slog.Int("speed", int(Speed(s.id))),
	)
}

func (o WithPeriod) sensor(opt *Options) {
	if o > 0 {
		opt.Period = time.Duration(o)
	}
}

func (o WithIDInPayload) sensor(opt *Options) {
	opt.IDInPayload = bool(o)
}

// WithClock sets the clock driving the report ticker.
func WithClock(c wallclock.WallClock) Option {
	return withClock{c}
}

func (o withClock) sensor(opt *Options) {
	if o.WallClock != nil {
		opt.Clock = o.WallClock
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) sensor(opt *Options) {
	opt.Logger = o.Logger
}
