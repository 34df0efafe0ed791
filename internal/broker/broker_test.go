// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package broker_test

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/broker"
	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/mqtt"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/stretchr/testify/require"
)

// connect returns a client once its first connection is up.
func connect(t *testing.T, b *broker.Broker) *mqtt.SessionClient {
	host, port := b.HostPort()
	client := mqtt.NewSessionClient(mqtt.TCPConnection(host, port))
	connected := make(chan struct{}, 1)
	client.RegisterConnectEventHandler(func(*mqtt.ConnectEvent) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	require.NoError(t, client.Start())
	t.Cleanup(func() { _ = client.Stop() })

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect")
	}
	return client
}

func TestStartPicksFreePort(t *testing.T) {
	b, err := broker.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	host, port := b.HostPort()
	require.Equal(t, "127.0.0.1", host)
	require.NotZero(t, port)

	connect(t, b)
	require.NoError(t, b.Publish("traffic/1", []byte{42}, true, 1))
}

func TestStartRejectsBadAddress(t *testing.T) {
	_, err := broker.Start("no-port")
	require.True(t, errors.IsKind(err, errors.ConfigError))

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "MQTT_HOST/MQTT_PORT", e.PropertyName)
	require.Equal(t, "no-port", e.PropertyValue)
}

func TestACLDeniesSubscribe(t *testing.T) {
	b, err := broker.Start("127.0.0.1:0", broker.WithACL{{
		Filters: auth.Filters{"traffic/#": auth.WriteOnly},
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	client := connect(t, b)
	ctx := context.Background()

	_, err = client.Subscribe(
		ctx,
		"traffic/3",
		func(context.Context, *mqtt.Message) error { return nil },
	)
	var ack *mqtt.AckError
	require.True(t, stderr.As(err, &ack))
	require.Equal(t, byte(0x87), ack.ReasonCode)

	require.NoError(t, client.Publish(ctx, "traffic/3", []byte{1}))
}

func TestCloseTwice(t *testing.T) {
	b, err := broker.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
