// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/mqtt/internal"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/require"
)

func TestTrackerStartsDisconnected(t *testing.T) {
	c := internal.NewConnectionTracker()
	cur := c.Current()
	require.Nil(t, cur.Client)
	select {
	case <-cur.Down.Done():
	default:
		t.Fatal("down should be closed while disconnected")
	}
}

func TestTrackerConnectAndDisconnect(t *testing.T) {
	c := internal.NewConnectionTracker()
	client := &paho.Client{}

	attempt := c.Attempt()
	require.NoError(t, c.Connect(client))

	cur, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.Same(t, client, cur.Client)
	require.Equal(t, uint64(1), cur.Count)

	// A stale attempt does not affect the live connection.
	c.Disconnect(attempt+1, errors.New("stale"))
	require.NotNil(t, c.Current().Client)

	boom := errors.New("boom")
	c.Disconnect(attempt, boom)
	require.Nil(t, c.Current().Client)
	require.Equal(t, boom, c.Current().Err)
	<-cur.Down.Done()
}

func TestTrackerErrorBeforeConnect(t *testing.T) {
	c := internal.NewConnectionTracker()
	attempt := c.Attempt()
	boom := errors.New("boom")
	c.Disconnect(attempt, boom)
	require.Equal(t, boom, c.Connect(&paho.Client{}))
}

func TestTrackerWaitHonorsContext(t *testing.T) {
	c := internal.NewConnectionTracker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
