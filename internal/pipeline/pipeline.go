package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
	"github.com/couchcryptid/covid-state-etl/internal/source"
	"github.com/couchcryptid/covid-state-etl/internal/store"
)

// ReferenceLoader produces the state reference table.
type ReferenceLoader interface {
	Load(ctx context.Context) ([]domain.ReferenceRow, error)
}

// Sink receives each committed snapshot.
type Sink interface {
	Name() string
	Write(ctx context.Context, snap *domain.Snapshot) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArtifacts adds sinks that must succeed before a snapshot is committed.
func WithArtifacts(sinks ...Sink) Option {
	return func(p *Pipeline) { p.artifacts = append(p.artifacts, sinks...) }
}

// WithPublishers adds best-effort sinks that run after the commit.
func WithPublishers(sinks ...Sink) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, sinks...) }
}

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithSchedule sets the refresh interval and the initial retry delay after a
// failed refresh.
func WithSchedule(interval, retryBackoff time.Duration) Option {
	return func(p *Pipeline) {
		p.interval = interval
		p.retryBackoff = retryBackoff
	}
}

// WithPrecedence sets the normalizer's name-match precedence.
func WithPrecedence(prec domain.Precedence) Option {
	return func(p *Pipeline) { p.precedence = prec }
}

// Pipeline orchestrates the fetch-normalize-reshape-commit cycle.
type Pipeline struct {
	reference  ReferenceLoader
	loaders    []source.Loader
	artifacts  []Sink
	publishers []Sink
	store      *store.Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	precedence domain.Precedence

	interval     time.Duration
	retryBackoff time.Duration

	ready atomic.Bool
}

// New creates a Pipeline that commits into st.
func New(ref ReferenceLoader, loaders []source.Loader, st *store.Store, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		reference:    ref,
		loaders:      loaders,
		store:        st,
		logger:       logger,
		metrics:      metrics,
		clock:        clockwork.NewRealClock(),
		interval:     24 * time.Hour,
		retryBackoff: time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	// A store seeded from the on-disk snapshot can serve immediately.
	if st.Current() != nil {
		p.ready.Store(true)
	}
	return p
}

// CheckReadiness returns nil once a snapshot is available to serve.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no snapshot has been committed yet")
	}
	return nil
}

// Run refreshes immediately, then on every interval tick until ctx ends. A
// failed refresh is retried with exponential backoff capped at the interval;
// the previous snapshot keeps serving in the meantime.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("refresh loop started", "interval", p.interval, "loaders", len(p.loaders))
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	backoff := p.retryBackoff
	for {
		if _, err := p.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("refresh loop stopping", "reason", ctx.Err())
				return nil
			}
			p.logger.Info("refresh retry scheduled", "backoff", backoff)
			select {
			case <-ctx.Done():
				p.logger.Info("refresh loop stopping", "reason", ctx.Err())
				return nil
			case <-p.clock.After(backoff):
			}
			backoff = retry.NextBackoff(backoff, p.interval)
			continue
		}
		backoff = p.retryBackoff

		select {
		case <-ctx.Done():
			p.logger.Info("refresh loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// Refresh runs one full cycle. On any load, reconcile, or artifact failure the
// store is left untouched and the error is returned.
func (p *Pipeline) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	start := p.clock.Now()
	id := uuid.NewString()
	logger := p.logger.With("refresh_id", id)

	snap, err := p.build(ctx, id, logger)
	if err == nil {
		err = p.writeArtifacts(ctx, snap)
	}
	if err != nil {
		p.metrics.RefreshTotal.WithLabelValues("error").Inc()
		logger.Error("refresh failed, keeping previous snapshot", "error", err)
		return nil, err
	}

	prev := p.store.Swap(snap)
	p.ready.Store(true)

	p.metrics.RefreshTotal.WithLabelValues("success").Inc()
	p.metrics.RefreshDuration.Observe(p.clock.Since(start).Seconds())
	p.metrics.StatesServed.Set(float64(len(snap.States)))
	p.metrics.SnapshotTimestamp.Set(float64(snap.BuiltAt.Unix()))

	attrs := []any{"states", len(snap.States), "rejected", snap.Rejections.Total}
	if prev != nil {
		attrs = append(attrs, "replaced", prev.ID)
	}
	logger.Info("snapshot committed", attrs...)

	p.publish(ctx, snap, logger)
	return snap, nil
}

// build loads every source in parallel and reconciles them into a snapshot.
func (p *Pipeline) build(ctx context.Context, id string, logger *slog.Logger) (*domain.Snapshot, error) {
	var rows []domain.ReferenceRow
	batches := make([]source.Batch, len(p.loaders))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = p.reference.Load(gctx)
		if err != nil {
			return fmt.Errorf("load reference: %w", err)
		}
		return nil
	})
	for i, l := range p.loaders {
		g.Go(func() error {
			b, err := l.Load(gctx)
			if err != nil {
				return fmt.Errorf("load %s: %w", l.Name(), err)
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, b := range batches {
		p.metrics.ObservationsLoaded.WithLabelValues(b.Source).Add(float64(len(b.Observations)))
		logger.Debug("source loaded", "source", b.Source, "observations", len(b.Observations))
	}

	ref, err := domain.NewResolver(rows)
	if err != nil {
		return nil, fmt.Errorf("build reference: %w", err)
	}

	rec, err := Reconcile(ref, batches, p.precedence)
	if err != nil {
		return nil, err
	}
	if len(rec.States) == 0 {
		return nil, errors.New("no observations resolved to a state")
	}

	report := domain.NewRejectionReport(rec.Rejections)
	for reason, n := range report.ByReason {
		p.metrics.ObservationsRejected.WithLabelValues(reason).Add(float64(n))
		logger.Warn("observations rejected", "reason", reason, "count", n)
	}

	return domain.NewSnapshot(id, rec.States, ref, report), nil
}

func (p *Pipeline) writeArtifacts(ctx context.Context, snap *domain.Snapshot) error {
	for _, s := range p.artifacts {
		if err := s.Write(ctx, snap); err != nil {
			return fmt.Errorf("write %s: %w", s.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, snap *domain.Snapshot, logger *slog.Logger) {
	for _, s := range p.publishers {
		if err := s.Write(ctx, snap); err != nil {
			logger.Warn("publish failed", "sink", s.Name(), "error", err)
		}
	}
}
