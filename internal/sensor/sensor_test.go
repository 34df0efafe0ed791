// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sensor_test

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/broker"
	"github.com/H2WO4/project-m101/internal/graph"
	"github.com/H2WO4/project-m101/internal/ingest"
	"github.com/H2WO4/project-m101/internal/jams"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/retry"
	"github.com/H2WO4/project-m101/internal/sensor"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/stretchr/testify/require"
)

const wait = 5 * time.Second

type published struct {
	topic   string
	payload []byte
	opts    mqtt.PublishOptions
}

type fakePublisher struct {
	calls chan published
	err   error
}

func (f *fakePublisher) Publish(
	_ context.Context,
	topic string,
	payload []byte,
	opts ...mqtt.PublishOption,
) error {
	var o mqtt.PublishOptions
	o.Apply(opts)
	f.calls <- published{topic, payload, o}
	return f.err
}

func next(t *testing.T, ch <-chan published) published {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(wait):
		t.Fatal("no publish")
		return published{}
	}
}

func TestSpeed(t *testing.T) {
	for id, want := range map[int]byte{
		0:   10,
		1:   27,
		3:   18,
		42:  10 + 42*17%43,
		255: 45,
	} {
		require.Equal(t, want, sensor.Speed(id), id)
	}
}

func TestPayload(t *testing.T) {
	require.Equal(t, []byte{27}, sensor.Payload(1, false))
	require.Equal(t, []byte{1, 27}, sensor.Payload(1, true))
}

func TestRunPublishesRetainedQoS1(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &fakePublisher{calls: make(chan published, 16)}
	s := sensor.New(pub, 3, sensor.WithPeriod(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 3 {
		p := next(t, pub.calls)
		require.Equal(t, "traffic/3", p.topic)
		require.Equal(t, []byte{18}, p.payload)
		require.Equal(t, mqtt.QoS1, p.opts.QoS)
		require.True(t, p.opts.Retain)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestRunSurvivesPublishFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &fakePublisher{
		calls: make(chan published, 16),
		err:   stderr.New("connection lost"),
	}
	s := sensor.New(pub, 0,
		sensor.WithPeriod(10*time.Millisecond),
		sensor.WithIDInPayload(true),
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Equal(t, []byte{0, 10}, next(t, pub.calls).payload)
	require.Equal(t, []byte{0, 10}, next(t, pub.calls).payload)

	cancel()
	require.NoError(t, <-done)
}

func newClient(
	t *testing.T,
	b *broker.Broker,
	id string,
) *mqtt.SessionClient {
	host, port := b.HostPort()
	c := mqtt.NewSessionClient(
		mqtt.TCPConnection(host, port),
		mqtt.WithClientID(id),
		mqtt.WithConnectionRetry(&retry.ExponentialBackoff{
			MinInterval: 10 * time.Millisecond,
			MaxInterval: 100 * time.Millisecond,
		}),
	)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// Two simulated sensors report through a broker into the ingestion loop, and
// the slower segment shows up as jammed.
func TestSensorsToJams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := broker.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	for _, idInPayload := range []bool{false, true} {
		mem := store.NewMemory()
		aggregator := mqtt.NewSessionClient(
			mqtt.TCPConnection(b.HostPort()),
			mqtt.WithConnectionRetry(&retry.ExponentialBackoff{
				MinInterval: 10 * time.Millisecond,
				MaxInterval: 100 * time.Millisecond,
			}),
		)
		loop, err := ingest.New(ctx, aggregator, mem, 2,
			ingest.WithIDFromPayload(idInPayload),
		)
		require.NoError(t, err)
		require.NoError(t, aggregator.Start())
		t.Cleanup(func() { _ = aggregator.Stop() })

		loopCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- loop.Run(loopCtx) }()

		runCtx, stopSensors := context.WithCancel(ctx)
		for id := range 2 {
			client := newClient(t, b, fmt.Sprintf("sensor-%d-%t", id, idInPayload))
			s := sensor.New(client, id,
				sensor.WithPeriod(20*time.Millisecond),
				sensor.WithIDInPayload(idInPayload),
			)
			go func() { _ = s.Run(runCtx) }()
		}

		g, err := graph.New(2, map[int][]int{0: {1}, 1: {0}})
		require.NoError(t, err)
		d := jams.NewDetector(mem, g)

		require.Eventually(t, func() bool {
			found, err := d.Jams(ctx)
			return err == nil && len(found) == 1 &&
				found[0].ID == 0 && found[0].AvgSpeed == 10
		}, wait, 10*time.Millisecond)

		stopSensors()
		stop()
		require.NoError(t, <-done)
	}
}
