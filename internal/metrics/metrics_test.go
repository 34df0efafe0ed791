// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.Message(metrics.ResultStored)
	m.IngestState(2)
	m.StoreOp("upsert", time.Now(), nil)
	m.Detection(3, nil)
	m.WebsocketClients(1)
	m.Request(http.MethodGet, "/api/jams", http.StatusOK, time.Millisecond)
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := metrics.New()
	m.Message(metrics.ResultStored)
	m.Message(metrics.ResultStored)
	m.Message(metrics.ResultDecodeError)
	m.Detection(4, nil)
	m.Detection(0, errors.New("down"))

	series, err := testutil.GatherAndCount(
		m.Registry(),
		"traffic_ingest_messages_total",
	)
	require.NoError(t, err)
	require.Equal(t, 2, series)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `traffic_ingest_messages_total{result="stored"} 2`)
	require.Contains(t, string(body), `traffic_ingest_messages_total{result="decode_error"} 1`)
	require.Contains(t, string(body), `traffic_jams_jammed_segments 4`)
	require.Contains(t, string(body), `traffic_jams_detections_total{outcome="error"} 1`)
}
