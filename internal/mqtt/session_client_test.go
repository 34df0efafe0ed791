// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/broker"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/H2WO4/project-m101/internal/retry"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/stretchr/testify/require"
)

const wait = 5 * time.Second

func startBroker(t *testing.T, opts ...broker.Option) *broker.Broker {
	b, err := broker.Start("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newClient(
	t *testing.T,
	b *broker.Broker,
	opts ...mqtt.SessionClientOption,
) *mqtt.SessionClient {
	host, port := b.HostPort()
	client := mqtt.NewSessionClient(
		mqtt.TCPConnection(host, port),
		append([]mqtt.SessionClientOption{
			mqtt.WithConnectionRetry(&retry.ExponentialBackoff{
				MinInterval: 10 * time.Millisecond,
				MaxInterval: 100 * time.Millisecond,
			}),
		}, opts...)...,
	)
	return client
}

// awaitConnect registers before Start so the first connection is not missed.
func awaitConnect(c *mqtt.SessionClient) <-chan *mqtt.ConnectEvent {
	connected := make(chan *mqtt.ConnectEvent, 8)
	c.RegisterConnectEventHandler(func(e *mqtt.ConnectEvent) {
		connected <- e
	})
	return connected
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(wait):
		t.Fatal("timed out")
		panic("unreachable")
	}
}

func TestSubscribePublish(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	client := newClient(t, b, mqtt.WithClientID("publisher"))
	connected := awaitConnect(client)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	receive(t, connected)

	received := make(chan *mqtt.Message, 1)
	_, err := client.Subscribe(
		ctx,
		"traffic/+",
		func(_ context.Context, msg *mqtt.Message) error {
			received <- msg
			return msg.Ack()
		},
		mqtt.WithQoS(mqtt.QoS1),
	)
	require.NoError(t, err)

	require.NoError(t, client.Publish(
		ctx,
		"traffic/3",
		[]byte{42},
		mqtt.WithQoS(mqtt.QoS1),
	))

	msg := receive(t, received)
	require.Equal(t, "traffic/3", msg.Topic)
	require.Equal(t, []byte{42}, msg.Payload)
	require.Equal(t, mqtt.QoS1, msg.QoS)
}

func TestSubscribeBeforeStart(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	client := newClient(t, b)
	received := make(chan *mqtt.Message, 1)
	_, err := client.Subscribe(
		ctx,
		"traffic/7",
		func(_ context.Context, msg *mqtt.Message) error {
			received <- msg
			return msg.Ack()
		},
		mqtt.WithQoS(mqtt.QoS1),
	)
	require.NoError(t, err)

	connected := awaitConnect(client)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	receive(t, connected)

	require.NoError(t, b.Publish("traffic/7", []byte{9}, false, 1))
	require.Equal(t, []byte{9}, receive(t, received).Payload)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)

	client := newClient(t, b)
	connected := awaitConnect(client)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	receive(t, connected)

	received := make(chan *mqtt.Message, 4)
	handler := func(_ context.Context, msg *mqtt.Message) error {
		received <- msg
		return msg.Ack()
	}
	sub, err := client.Subscribe(ctx, "traffic/1", handler)
	require.NoError(t, err)
	require.Equal(t, "traffic/1", sub.Filter())
	_, err = client.Subscribe(ctx, "traffic/2", handler)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe(ctx))

	require.NoError(t, client.Publish(ctx, "traffic/1", []byte{1}))
	require.NoError(t, client.Publish(ctx, "traffic/2", []byte{2}))

	// Messages on one connection arrive in order, so seeing the second
	// proves the first was dropped.
	require.Equal(t, "traffic/2", receive(t, received).Topic)
}

func TestReconnectResubscribes(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)
	address := b.Address()

	client := newClient(t, b, mqtt.WithSessionExpiry(time.Hour))
	connected := awaitConnect(client)
	disconnected := make(chan *mqtt.DisconnectEvent, 8)
	client.RegisterDisconnectEventHandler(func(e *mqtt.DisconnectEvent) {
		disconnected <- e
	})

	received := make(chan *mqtt.Message, 1)
	_, err := client.Subscribe(
		ctx,
		"traffic/5",
		func(_ context.Context, msg *mqtt.Message) error {
			received <- msg
			return msg.Ack()
		},
		mqtt.WithQoS(mqtt.QoS1),
	)
	require.NoError(t, err)

	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	require.Equal(t, uint64(1), receive(t, connected).Count)

	// Replace the broker; the new one has no session for the client.
	require.NoError(t, b.Close())
	receive(t, disconnected)

	b2, err := broker.Start(address)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close() })

	event := receive(t, connected)
	require.Equal(t, uint64(2), event.Count)
	require.False(t, event.SessionPresent)

	require.NoError(t, b2.Publish("traffic/5", []byte{77}, false, 1))
	require.Equal(t, []byte{77}, receive(t, received).Payload)
}

func TestRejectedSubscriptionFailsConnection(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t, broker.WithACL{{
		Filters: auth.Filters{"traffic/0": auth.WriteOnly},
	}})

	client := newClient(t, b)
	connected := awaitConnect(client)
	denied, err := client.Subscribe(
		ctx,
		"traffic/0",
		func(context.Context, *mqtt.Message) error { return nil },
		mqtt.WithQoS(mqtt.QoS1),
	)
	require.NoError(t, err)

	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })

	require.Never(t, func() bool {
		return len(connected) > 0
	}, 300*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, mqtt.Started, client.State())

	// The registration is dropped even if the attempt in flight loses the
	// UNSUBSCRIBE, so the next attempt goes through.
	_ = denied.Unsubscribe(ctx)
	receive(t, connected)
}

func TestFatalConnack(t *testing.T) {
	b := startBroker(t, broker.WithCredentials{
		Username: "aggregator",
		Password: "secret",
	})

	client := newClient(t, b, mqtt.WithUsername("aggregator"))
	fatal := make(chan error, 1)
	client.RegisterFatalErrorHandler(func(err error) { fatal <- err })
	require.NoError(t, client.Start())

	err := receive(t, fatal)
	var connack *mqtt.FatalConnackError
	require.True(t, errors.As(err, &connack))

	<-client.Done()
	require.Equal(t, mqtt.ShutDown, client.State())
}

func TestCredentialsAccepted(t *testing.T) {
	b := startBroker(t, broker.WithCredentials{
		Username: "aggregator",
		Password: "secret",
	})

	client := newClient(t, b,
		mqtt.WithUsername("aggregator"),
		mqtt.WithPassword([]byte("secret")),
	)
	connected := awaitConnect(client)
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })
	receive(t, connected)
}

func TestClientState(t *testing.T) {
	ctx := context.Background()
	b := startBroker(t)
	client := newClient(t, b)

	var stateErr *mqtt.ClientStateError
	require.ErrorAs(t, client.Stop(), &stateErr)
	require.Equal(t, mqtt.NotStarted, stateErr.State)

	require.NoError(t, client.Start())
	require.ErrorAs(t, client.Start(), &stateErr)
	require.Equal(t, mqtt.Started, stateErr.State)

	require.NoError(t, client.Stop())
	require.Equal(t, mqtt.ShutDown, client.State())
	require.ErrorAs(t, client.Publish(ctx, "traffic/1", nil), &stateErr)
	require.Equal(t, mqtt.ShutDown, stateErr.State)
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	client := mqtt.NewSessionClient(mqtt.TCPConnection("localhost", 1883))
	noop := func(context.Context, *mqtt.Message) error { return nil }

	var argErr *mqtt.InvalidArgumentError
	_, err := client.Subscribe(ctx, "traffic/#/x", noop)
	require.ErrorAs(t, err, &argErr)
	_, err = client.Subscribe(ctx, "traffic/1", nil)
	require.ErrorAs(t, err, &argErr)
	_, err = client.Subscribe(ctx, "traffic/1", noop, mqtt.WithQoS(2))
	require.ErrorAs(t, err, &argErr)
	require.ErrorAs(t, client.Publish(ctx, "traffic/+", nil), &argErr)
	require.NotEmpty(t, client.ID())
}
