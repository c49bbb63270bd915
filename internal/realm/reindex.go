package realm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/nous/internal/graph"
	"github.com/starford/nous/internal/index"
	"github.com/starford/nous/internal/lock"
	"github.com/starford/nous/internal/metrics"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/parser"
	"github.com/starford/nous/internal/scanner"
)

var errClosed = errors.New("realm: closed")

// ReindexOption configures one Reindex call.
type ReindexOption func(*reindexConfig)

type reindexConfig struct {
	full bool
}

// Full hashes every file instead of trusting unchanged size and mtime.
func Full() ReindexOption {
	return func(c *reindexConfig) { c.full = true }
}

// Reindex brings the index up to date with the files on disk and commits
// the result as a new generation. When nothing changed it commits nothing
// and the generation stays as it was. On any failure the in-memory and
// on-disk index are left at the previous generation.
func (r *Realm) Reindex(ctx context.Context, opts ...ReindexOption) (models.Stats, error) {
	var cfg reindexConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	stats, err := r.reindex(ctx, cfg)
	stats.Duration = time.Since(start)
	metrics.ReindexDuration.Observe(stats.Duration.Seconds())
	if err != nil {
		metrics.ReindexTotal.WithLabelValues("error").Inc()
		r.logger.Error("reindex: failed", slog.String("root", r.root), slog.String("error", err.Error()))
		return stats, err
	}
	if stats.Changed() {
		metrics.ReindexTotal.WithLabelValues("committed").Inc()
	} else {
		metrics.ReindexTotal.WithLabelValues("unchanged").Inc()
	}

	r.mu.Lock()
	r.last = stats
	hooks := append([]func(models.Stats){}, r.hooks...)
	r.mu.Unlock()
	if stats.Changed() {
		for _, fn := range hooks {
			fn(stats)
		}
	}
	return stats, nil
}

func (r *Realm) reindex(ctx context.Context, cfg reindexConfig) (models.Stats, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	base, stale, closed := r.state, r.stale, r.closed
	r.mu.RUnlock()
	if closed {
		return models.Stats{}, errClosed
	}

	lk, err := lock.Acquire(ctx, r.meta, r.opts.lockTimeout)
	if err != nil {
		return models.Stats{Generation: base.Generation}, err
	}
	defer lk.Release()

	// Another process may have committed since we loaded.
	if gen, err := r.db.Generation(); err == nil && gen > base.Generation {
		if loaded, err := r.db.Load(); err == nil {
			r.logger.Debug("reindex: reloaded newer generation",
				slog.Uint64("from", base.Generation),
				slog.Uint64("to", loaded.Generation))
			base, stale = loaded, false
			r.swap(loaded, false)
		}
	}

	next := base.Clone()
	gen := next.Generation + 1
	sc := scanner.New(os.DirFS(r.root),
		scanner.WithFilter(r.opts.filter),
		scanner.WithExclude(MetaDir),
		scanner.WithWorkers(r.opts.workers),
		scanner.WithVerify(cfg.full || stale),
		scanner.WithLogger(r.logger),
	)
	events, err := sc.Scan(ctx, next.Store, gen)
	if err != nil {
		return models.Stats{Generation: base.Generation}, err
	}
	if len(events) == 0 && !stale {
		if next.Store.Changed() {
			r.refresh(next)
		}
		return models.Stats{Generation: base.Generation}, nil
	}

	batch, stats := r.batch(events)
	delta := next.Graph.Apply(batch)
	stats.Unresolved = delta.Unresolved
	stats.Ambiguous = delta.Ambiguous
	stats.Generation = gen
	next.Generation = gen

	if err := next.Graph.Check(); err != nil {
		return models.Stats{Generation: base.Generation}, fmt.Errorf("reindex: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return models.Stats{Generation: base.Generation}, err
	}
	if err := r.db.Commit(next); err != nil {
		return models.Stats{Generation: base.Generation}, err
	}
	r.swap(next, false)
	r.observe(next, stats)

	r.logger.Info("reindex: committed",
		slog.Uint64("generation", gen),
		slog.Int("created", stats.Created),
		slog.Int("modified", stats.Modified),
		slog.Int("deleted", stats.Deleted),
		slog.Int("renamed", stats.Renamed),
		slog.Int("unresolved", stats.Unresolved),
		slog.Int("ambiguous", stats.Ambiguous))
	return stats, nil
}

// batch turns scan events into a graph batch, parsing created and modified
// nodes.
func (r *Realm) batch(events []scanner.Event) (graph.Batch, models.Stats) {
	var (
		b     graph.Batch
		stats models.Stats
	)
	for _, e := range events {
		metrics.ScanEvents.WithLabelValues(e.Kind.String()).Inc()
		switch e.Kind {
		case scanner.Deleted:
			stats.Deleted++
			b.Deleted = append(b.Deleted, e.ID)
		case scanner.Renamed:
			stats.Renamed++
			b.Renamed = append(b.Renamed, graph.Rename{ID: e.ID, Path: e.Path})
		case scanner.Created, scanner.Modified:
			if e.Kind == scanner.Created {
				stats.Created++
			} else {
				stats.Modified++
			}
			res := parser.Parse(e.Data)
			for _, d := range res.Diagnostics {
				r.logger.Debug("parse: skipped marker",
					slog.String("path", e.Path),
					slog.Int("line", d.Line),
					slog.String("reason", d.Reason))
			}
			b.Upserts = append(b.Upserts, graph.Upsert{
				Node:  models.Node{ID: e.ID, Path: e.Path, Title: res.Title},
				Links: res.Links,
			})
		}
	}
	return b, stats
}

// refresh commits s at its current generation. It carries only fingerprint
// records, such as new modification times of unchanged files, so readers see
// no new generation. Failure only costs re-hashing on the next pass.
func (r *Realm) refresh(s *index.State) {
	s.Store.SetSeen(s.Generation)
	if err := r.db.Commit(s); err != nil {
		r.logger.Warn("reindex: fingerprint refresh not committed", slog.String("error", err.Error()))
		return
	}
	r.swap(s, false)
	r.logger.Debug("reindex: fingerprints refreshed", slog.Uint64("generation", s.Generation))
}

func (r *Realm) swap(s *index.State, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.stale = stale
}

func (r *Realm) observe(s *index.State, stats models.Stats) {
	metrics.Generation.Set(float64(stats.Generation))
	metrics.NodeCount.Set(float64(s.Graph.Len()))
	metrics.EdgeCount.Set(float64(s.Graph.EdgeCount()))
	var unresolved, ambiguous int
	for _, l := range s.Graph.Unresolved() {
		if l.Resolution.Kind == models.Ambiguous {
			ambiguous++
		} else {
			unresolved++
		}
	}
	metrics.UnresolvedLinks.WithLabelValues(models.Unresolved.String()).Set(float64(unresolved))
	metrics.UnresolvedLinks.WithLabelValues(models.Ambiguous.String()).Set(float64(ambiguous))
}
