// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/H2WO4/project-m101/internal/log"
	"github.com/stretchr/testify/require"
)

type attrErr struct{}

func (attrErr) Error() string { return "boom" }

func (attrErr) Attrs() []slog.Attr {
	return []slog.Attr{slog.String("kind", "test")}
}

func TestNilLoggerIsSafe(t *testing.T) {
	l := log.Wrap(nil)
	require.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.Err(context.Background(), errors.New("ignored"))
	l.Info(context.Background(), "ignored")
}

func TestErrExpandsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := log.Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.Err(context.Background(), attrErr{})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "boom", rec["msg"])
	require.Equal(t, "ERROR", rec["level"])
	require.Equal(t, "test", rec["kind"])
}

func TestWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	l := log.Wrap(slog.New(slog.NewJSONHandler(&buf, nil)))

	l.Warn(context.Background(), errors.New("dropped"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "WARN", rec["level"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, log.ParseLevel("trace"))
	require.Equal(t, slog.LevelDebug, log.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, log.ParseLevel("warn"))
	require.Equal(t, slog.LevelError, log.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, log.ParseLevel("nonsense"))
	require.Equal(t, slog.LevelInfo, log.ParseLevel(""))
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggregator.log")
	var console bytes.Buffer

	logger, closer := log.New(log.Options{
		Level:  "info",
		File:   path,
		Output: &console,
	})
	logger.Info("hello", "segment", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.InDelta(t, 3, rec["segment"], 0)
	require.Contains(t, console.String(), "hello")
}
