// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package jams

import (
	"context"
	"log/slog"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/graph"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/store"
)

type (
	// Detector computes the jammed segments from a fresh store snapshot on
	// every call.
	Detector struct {
		reader  store.Reader
		graph   *graph.Graph
		metrics *metrics.Metrics
		log     log.Logger
	}

	// Option represents a single detector option.
	Option interface{ detector(*Options) }

	// Options are the resolved detector options.
	Options struct {
		Metrics *metrics.Metrics
		Logger  *slog.Logger
	}

	withMetrics struct{ *metrics.Metrics }
	withLogger  struct{ *slog.Logger }
)

// Detect returns the segments of the snapshot that are jammed, in snapshot
// order. A segment is jammed when twice its speed is below the truncated
// integer mean speed of its neighbors. Neighbors without a record are left
// out of the mean, and a segment with no recorded neighbor is never jammed.
func Detect(snapshot []store.Segment, g *graph.Graph) []store.Segment {
	byID := make(map[int]int, len(snapshot))
	for _, s := range snapshot {
		byID[s.ID] = s.AvgSpeed
	}

	jams := []store.Segment{}
	for _, s := range snapshot {
		var sum, count int
		for _, n := range g.Neighbors(s.ID) {
			if speed, ok := byID[n]; ok {
				sum += speed
				count++
			}
		}
		if count == 0 {
			continue
		}
		if s.AvgSpeed*2 < sum/count {
			jams = append(jams, s)
		}
	}
	return jams
}

// NewDetector returns a detector that reads a fresh snapshot from reader on
// every call and judges it against g.
func NewDetector(
	reader store.Reader,
	g *graph.Graph,
	opts ...Option,
) *Detector {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt.detector(&o)
		}
	}
	return &Detector{
		reader:  reader,
		graph:   g,
		metrics: o.Metrics,
		log:     log.Wrap(o.Logger),
	}
}

// Jams reads the current snapshot and detects jams on it. A failed read
// fails the whole call; no partial result is returned.
func (d *Detector) Jams(ctx context.Context) (jams []store.Segment, err error) {
	defer func() { d.metrics.Detection(len(jams), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot, err := d.reader.All(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.IsKind(err, errors.StoreUnavailable) {
			err = errors.Store("cannot read segments", err)
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jams = Detect(snapshot, d.graph)
	d.log.Debug(ctx, "jams detected",
		slog.Int("segments", len(snapshot)),
		slog.Int("jammed", len(jams)),
	)
	return jams, nil
}

// WithMetrics records detections.
func WithMetrics(m *metrics.Metrics) Option {
	return withMetrics{m}
}

func (o withMetrics) detector(opt *Options) {
	opt.Metrics = o.Metrics
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) detector(opt *Options) {
	opt.Logger = o.Logger
}
