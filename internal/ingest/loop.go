// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/H2WO4/project-m101/internal/wallclock"
)

// State of the ingestion connection.
type State int32

const (
	Connecting State = iota
	Subscribed
	Receiving
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Receiving:
		return "receiving"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type (
	// Client is the part of the MQTT session client the loop relies on.
	Client interface {
		Subscribe(
			ctx context.Context,
			filter string,
			handler mqtt.MessageHandler,
			opts ...mqtt.SubscribeOption,
		) (*mqtt.Subscription, error)
		RegisterConnectEventHandler(mqtt.ConnectEventHandler) func()
		RegisterDisconnectEventHandler(mqtt.DisconnectEventHandler) func()
		RegisterFatalErrorHandler(func(error)) func()
	}

	// Loop consumes sensor reports and upserts them into the store, one
	// message at a time in arrival order.
	Loop struct {
		writer  store.Writer
		decoder Decoder
		clock   wallclock.WallClock
		metrics *metrics.Metrics
		log     log.Logger

		state    atomic.Int32
		messages chan *mqtt.Message
		fatal    chan error
		cleanup  []func()
	}

	// Option represents a single ingestion loop option.
	Option interface{ loop(*Options) }

	// Options are the resolved ingestion loop options.
	Options struct {
		IDFromPayload bool
		BufferSize    int
		Clock         wallclock.WallClock
		Metrics       *metrics.Metrics
		Logger        *slog.Logger
	}

	// WithIDFromPayload expects [id, speed] payloads.
	WithIDFromPayload bool

	// WithBufferSize sets how many received messages may wait for the loop
	// before the MQTT client is held back.
	WithBufferSize int

	withClock   struct{ wallclock.WallClock }
	withMetrics struct{ *metrics.Metrics }
	withLogger  struct{ *slog.Logger }
)

// New creates the loop and subscribes to the topic of every segment in
// [0, sensors) at QoS 1. Create it before starting the session client so
// the first connection is observed.
func New(
	ctx context.Context,
	client Client,
	writer store.Writer,
	sensors int,
	opts ...Option,
) (*Loop, error) {
	o := Options{BufferSize: 64}
	for _, opt := range opts {
		if opt != nil {
			opt.loop(&o)
		}
	}
	if o.Clock == nil {
		o.Clock = wallclock.Instance
	}
	if sensors <= 0 {
		return nil, errors.Config("SENSOR_NUMBER", sensors, "must be positive")
	}

	l := &Loop{
		writer:   writer,
		decoder:  Decoder{Sensors: sensors, IDFromPayload: o.IDFromPayload},
		clock:    o.Clock,
		metrics:  o.Metrics,
		log:      log.Wrap(o.Logger),
		messages: make(chan *mqtt.Message, o.BufferSize),
		fatal:    make(chan error, 1),
	}
	l.setState(Connecting)

	l.cleanup = append(l.cleanup,
		client.RegisterConnectEventHandler(func(*mqtt.ConnectEvent) {
			l.setState(Subscribed)
		}),
		client.RegisterDisconnectEventHandler(func(*mqtt.DisconnectEvent) {
			l.setState(Reconnecting)
		}),
		client.RegisterFatalErrorHandler(func(err error) {
			select {
			case l.fatal <- err:
			default:
			}
		}),
	)

	for id := range sensors {
		if _, err := client.Subscribe(
			ctx,
			Topic(id),
			l.enqueue,
			mqtt.WithQoS(mqtt.QoS1),
		); err != nil {
			l.close()
			return nil, &errors.Error{
				Message:       "cannot subscribe",
				Kind:          errors.TransportUnavailable,
				NestedError:   err,
				PropertyName:  "topic",
				PropertyValue: Topic(id),
			}
		}
	}

	l.log.Info(ctx, "ingestion subscribed",
		slog.Int("sensors", sensors),
		slog.Bool("id_from_payload", o.IDFromPayload),
	)
	return l, nil
}

// State returns the current connection state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run handles messages until the context is cancelled or the session client
// fails fatally.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-l.fatal:
			return &errors.Error{
				Message:     "MQTT session terminated",
				Kind:        errors.TransportUnavailable,
				NestedError: err,
			}
		case msg := <-l.messages:
			l.handle(ctx, msg)
		}
	}
}

// enqueue runs on the MQTT client's delivery goroutine; blocking it holds
// back further deliveries in order.
func (l *Loop) enqueue(ctx context.Context, msg *mqtt.Message) error {
	select {
	case l.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) handle(ctx context.Context, msg *mqtt.Message) {
	// Failed messages are acked too; the next report supersedes them.
	defer func() {
		if err := msg.Ack(); err != nil {
			l.log.Warn(ctx, err)
		}
	}()

	if l.State() == Subscribed {
		l.setState(Receiving)
	}

	r, err := l.decoder.Decode(msg.Topic, msg.Payload)
	if err != nil {
		l.log.Warn(ctx, err)
		l.metrics.Message(metrics.ResultDecodeError)
		return
	}

	at := l.clock.Now().UTC()
	if err := l.writer.Upsert(ctx, r.ID, r.AvgSpeed, at); err != nil {
		if !errors.IsKind(err, errors.StoreUnavailable) {
			err = errors.Store("cannot store reading", err)
		}
		l.log.Err(ctx, err)
		l.metrics.Message(metrics.ResultStoreError)
		return
	}

	l.metrics.Message(metrics.ResultStored)
	l.log.Debug(ctx, "reading stored",
		slog.Int("segment_id", r.ID),
		slog.Int("avg_speed", r.AvgSpeed),
	)
}

func (l *Loop) setState(s State) {
	if old := State(l.state.Swap(int32(s))); old != s {
		l.metrics.IngestState(int(s))
		l.log.Debug(context.Background(), "ingestion state",
			slog.String("from", old.String()),
			slog.String("to", s.String()),
		)
	}
}

func (l *Loop) close() {
	for _, f := range l.cleanup {
		f()
	}
	l.cleanup = nil
}

func (o WithIDFromPayload) loop(opt *Options) {
	opt.IDFromPayload = bool(o)
}

func (o WithBufferSize) loop(opt *Options) {
	opt.BufferSize = int(o)
}

// WithClock stamps readings from the given clock.
func WithClock(clock wallclock.WallClock) Option {
	return withClock{clock}
}

func (o withClock) loop(opt *Options) {
	opt.Clock = o.WallClock
}

// WithMetrics counts handled messages and tracks the state.
func WithMetrics(m *metrics.Metrics) Option {
	return withMetrics{m}
}

func (o withMetrics) loop(opt *Options) {
	opt.Metrics = o.Metrics
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) loop(opt *Options) {
	opt.Logger = o.Logger
}
