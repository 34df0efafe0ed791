// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/stretchr/testify/require"
)

// Connects to TEST_DATABASE_URL, skipping the test when it is unset, and
// starts from an empty nodes table.
func connect(t *testing.T) *store.Postgres {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	p, err := store.Connect(ctx, url, store.WithMetrics(metrics.New()))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	require.NoError(t, p.Migrate(ctx))
	require.NoError(t, p.Migrate(ctx))
	require.NoError(t, p.Truncate(ctx))
	return p
}

func TestPostgresUpsertAndRead(t *testing.T) {
	ctx := context.Background()
	p := connect(t)

	w := p.Writer()
	t.Cleanup(func() { _ = w.Close(ctx) })

	require.NoError(t, w.Upsert(ctx, 2, 20, t0))
	require.NoError(t, w.Upsert(ctx, 0, 5, t0))
	require.NoError(t, w.Upsert(ctx, 2, 20, t0))
	require.NoError(t, p.Upsert(ctx, 1, 12, t0))

	all, err := p.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, 0, all[0].ID)
	require.Equal(t, 2, all[2].ID)
	require.Equal(t, 20, all[2].AvgSpeed)
	require.True(t, all[2].Timestamp.Equal(t0.Truncate(time.Microsecond)))

	s, ok, err := p.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12, s.AvgSpeed)

	_, ok, err = p.Get(ctx, 99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPostgresWriterRecovers(t *testing.T) {
	ctx := context.Background()
	p := connect(t)

	w := p.Writer()
	require.NoError(t, w.Upsert(ctx, 0, 1, t0))
	require.NoError(t, w.Close(ctx))

	// The next upsert dials a fresh connection.
	require.NoError(t, w.Upsert(ctx, 0, 2, t0))
	s, _, err := p.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, s.AvgSpeed)
	require.NoError(t, w.Close(ctx))
}

func TestPostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.Connect(ctx, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.True(t, errors.IsKind(err, errors.StoreUnavailable))

	_, err = store.Connect(ctx, "::not a url::")
	require.True(t, errors.IsKind(err, errors.ConfigError))
}
