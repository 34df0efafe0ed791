// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"context"
	stderr "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY,
	avg_speed INTEGER NOT NULL,
	timestamp TIMESTAMP NOT NULL
)`

	upsertNode = `INSERT INTO nodes (id, avg_speed, timestamp)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET avg_speed = EXCLUDED.avg_speed, timestamp = EXCLUDED.timestamp`

	selectNodes = `SELECT id, avg_speed, timestamp FROM nodes ORDER BY id`

	selectNode = `SELECT id, avg_speed, timestamp FROM nodes WHERE id = $1`
)

type (
	// Postgres is a Store backed by a PostgreSQL connection pool.
	Postgres struct {
		pool    *pgxpool.Pool
		metrics *metrics.Metrics
		log     log.Logger
	}

	// ConnWriter upserts over a single connection taken out of the pool, so
	// a steady write stream does not compete with readers for pooled
	// connections. The connection is re-established after it breaks.
	ConnWriter struct {
		pool    *pgxpool.Pool
		metrics *metrics.Metrics
		log     log.Logger

		mu   sync.Mutex
		conn *pgx.Conn
	}

	// Option represents a single Postgres store option.
	Option interface{ postgres(*Options) }

	// Options are the resolved Postgres store options.
	Options struct {
		MinConns int32
		MaxConns int32
		Metrics  *metrics.Metrics
		Logger   *slog.Logger
	}

	// WithMinConns sets the minimum size of the pool.
	WithMinConns int32

	// WithMaxConns sets the maximum size of the pool.
	WithMaxConns int32

	withMetrics struct{ *metrics.Metrics }
	withLogger  struct{ *slog.Logger }
)

// Connect opens the pool and checks that the database answers.
func Connect(
	ctx context.Context,
	url string,
	opts ...Option,
) (*Postgres, error) {
	o := Options{MinConns: 1, MaxConns: 8}
	for _, opt := range opts {
		if opt != nil {
			opt.postgres(&o)
		}
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, &errors.Error{
			Message:      "invalid database URL",
			Kind:         errors.ConfigError,
			NestedError:  err,
			PropertyName: "DATABASE_URL",
		}
	}
	cfg.MinConns = o.MinConns
	cfg.MaxConns = o.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Store("cannot create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Store("cannot reach database", err)
	}

	p := &Postgres{pool: pool, metrics: o.Metrics, log: log.Wrap(o.Logger)}
	p.log.Info(ctx, "connected to database",
		slog.String("host", cfg.ConnConfig.Host),
		slog.String("database", cfg.ConnConfig.Database),
		slog.Int("max_conns", int(cfg.MaxConns)),
	)
	return p, nil
}

// Migrate creates the nodes table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return errors.Store("cannot create nodes table", err)
	}
	return nil
}

// Close the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Upsert(
	ctx context.Context,
	id, avgSpeed int,
	at time.Time,
) (err error) {
	start := time.Now()
	defer func() { p.metrics.StoreOp("upsert", start, err) }()

	if _, err = p.pool.Exec(ctx, upsertNode, id, avgSpeed, at.UTC()); err != nil {
		return errors.Store("cannot upsert segment", err)
	}
	return nil
}

func (p *Postgres) All(ctx context.Context) (segs []Segment, err error) {
	start := time.Now()
	defer func() { p.metrics.StoreOp("all", start, err) }()

	rows, err := p.pool.Query(ctx, selectNodes)
	if err != nil {
		return nil, errors.Store("cannot read segments", err)
	}
	segs, err = pgx.CollectRows(rows, scanSegment)
	if err != nil {
		return nil, errors.Store("cannot read segments", err)
	}
	return segs, nil
}

func (p *Postgres) Get(
	ctx context.Context,
	id int,
) (seg Segment, ok bool, err error) {
	start := time.Now()
	defer func() { p.metrics.StoreOp("get", start, err) }()

	rows, err := p.pool.Query(ctx, selectNode, id)
	if err != nil {
		return Segment{}, false, errors.Store("cannot read segment", err)
	}
	seg, err = pgx.CollectExactlyOneRow(rows, scanSegment)
	switch {
	case stderr.Is(err, pgx.ErrNoRows):
		return Segment{}, false, nil
	case err != nil:
		return Segment{}, false, errors.Store("cannot read segment", err)
	}
	return seg, true, nil
}

// Writer returns an upserter bound to one dedicated connection.
func (p *Postgres) Writer() *ConnWriter {
	return &ConnWriter{pool: p.pool, metrics: p.metrics, log: p.log}
}

func (w *ConnWriter) Upsert(
	ctx context.Context,
	id, avgSpeed int,
	at time.Time,
) (err error) {
	start := time.Now()
	defer func() { w.metrics.StoreOp("upsert", start, err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.acquire(ctx)
	if err != nil {
		return errors.Store("cannot acquire writer connection", err)
	}

	if _, err = conn.Exec(ctx, upsertNode, id, avgSpeed, at.UTC()); err != nil {
		// A server-side error leaves the connection usable; anything else
		// may not.
		var pgErr *pgconn.PgError
		if !stderr.As(err, &pgErr) {
			w.drop(ctx)
		}
		return errors.Store("cannot upsert segment", err)
	}
	return nil
}

// Close releases the dedicated connection.
func (w *ConnWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(ctx)
	w.conn = nil
	return err
}

func (w *ConnWriter) acquire(ctx context.Context) (*pgx.Conn, error) {
	if w.conn != nil && !w.conn.IsClosed() {
		return w.conn, nil
	}

	c, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	w.conn = c.Hijack()
	w.log.Debug(ctx, "writer connection established")
	return w.conn, nil
}

func (w *ConnWriter) drop(ctx context.Context) {
	if w.conn == nil {
		return
	}
	_ = w.conn.Close(ctx)
	w.conn = nil
	w.log.Debug(ctx, "writer connection dropped")
}

func scanSegment(row pgx.CollectableRow) (Segment, error) {
	var s Segment
	var at time.Time
	if err := row.Scan(&s.ID, &s.AvgSpeed, &at); err != nil {
		return Segment{}, err
	}
	s.Timestamp = NewTimestamp(at)
	return s, nil
}

func (o WithMinConns) postgres(opt *Options) {
	opt.MinConns = int32(o)
}

func (o WithMaxConns) postgres(opt *Options) {
	opt.MaxConns = int32(o)
}

// WithMetrics records store latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return withMetrics{m}
}

func (o withMetrics) postgres(opt *Options) {
	opt.Metrics = o.Metrics
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) postgres(opt *Options) {
	opt.Logger = o.Logger
}

// Truncate removes every record.
func (p *Postgres) Truncate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `TRUNCATE nodes`); err != nil {
		return errors.Store("cannot truncate nodes", err)
	}
	return nil
}
