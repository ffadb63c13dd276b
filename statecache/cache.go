// Package statecache keeps a live view of the upstream war state. A single
// background refresher is the only writer; every reader gets the most recent
// fully-formed Snapshot immediately and never waits on a network call. When
// the upstream fails the previous snapshot keeps being served, so tool calls
// degrade to stale data rather than errors.
package statecache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/galactic-tools/warwatch/warstate"
)

const (
	defaultRefreshInterval = 30 * time.Second
	defaultStaleAfter      = 2 * time.Minute
)

// Fetcher performs one upstream fetch-and-parse cycle.
type Fetcher interface {
	FetchWarStatus(ctx context.Context) (*warstate.WarStatus, error)
}

// Snapshot is an immutable copy of the last successfully fetched war state.
// Handlers must treat it as read-only.
type Snapshot struct {
	Status    *warstate.WarStatus
	Version   uint64
	FetchedAt time.Time
}

// Age reports how long ago the snapshot was fetched.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.FetchedAt)
}

// RefreshStats describes the health of the refresh loop for observability.
type RefreshStats struct {
	LastAttempt         time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	LastError           string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithRefreshInterval overrides the background refresh interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// WithStaleAfter overrides the snapshot age past which handlers should flag
// results as stale.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache wraps a Fetcher with a replace-on-success snapshot discipline.
// The snapshot pointer is swapped atomically: readers either see the old
// value or the new one, never a partial write.
type Cache struct {
	fetcher Fetcher
	log     *slog.Logger

	refreshInterval time.Duration
	staleAfter      time.Duration

	snap    atomic.Pointer[Snapshot]
	version atomic.Uint64

	// Concurrent on-demand refreshes collapse into one upstream call.
	group singleflight.Group

	statsMu sync.Mutex
	stats   RefreshStats

	notifier ChangeNotifier
}

// New constructs a Cache around the given fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:         fetcher,
		log:             slog.Default(),
		refreshInterval: defaultRefreshInterval,
		staleAfter:      defaultStaleAfter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the most recent snapshot without blocking, or nil when no
// fetch has ever succeeded.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// StaleAfter returns the configured staleness threshold.
func (c *Cache) StaleAfter() time.Duration {
	return c.staleAfter
}

// Stale reports whether the given snapshot has outlived the staleness
// threshold. A nil snapshot is always stale.
func (c *Cache) Stale(s *Snapshot) bool {
	if s == nil {
		return true
	}
	return s.Age() > c.staleAfter
}

// Stats returns a copy of the refresh loop health counters.
func (c *Cache) Stats() RefreshStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Subscriber returns a channel that receives a signal whenever a fresh
// snapshot replaces the current one.
func (c *Cache) Subscriber() <-chan struct{} {
	return c.notifier.Subscriber()
}

// Run drives the background refresh loop until ctx is canceled. It attempts
// one refresh immediately so the first tool call after startup has data to
// serve, then refreshes on the configured interval. Refresh failures are
// absorbed: the loop keeps going and the previous snapshot stays in place.
func (c *Cache) Run(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		c.log.WarnContext(ctx, "refresh.initial.fail", slog.String("err", err.Error()))
	}

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	defer c.notifier.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil {
				c.log.WarnContext(ctx, "refresh.fail", slog.String("err", err.Error()))
			}
		}
	}
}

// Refresh performs an on-demand refresh. Concurrent callers while a fetch is
// in flight share that single upstream call and all receive its outcome. On
// success the snapshot is atomically replaced and the failure counter resets;
// on failure the previous snapshot is retained unchanged.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// The fetch is shared by every coalesced waiter, so it must not die
		// with whichever caller's context happened to start it.
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) doRefresh(ctx context.Context) (*Snapshot, error) {
	now := time.Now()

	status, err := c.fetcher.FetchWarStatus(ctx)

	c.statsMu.Lock()
	c.stats.LastAttempt = now
	if err != nil {
		c.stats.ConsecutiveFailures++
		c.stats.LastError = err.Error()
		failures := c.stats.ConsecutiveFailures
		c.statsMu.Unlock()

		c.log.InfoContext(ctx, "refresh.degraded",
			slog.Int("consecutive_failures", failures),
			slog.Bool("serving_stale", c.snap.Load() != nil))
		return nil, err
	}
	c.stats.LastSuccess = now
	c.stats.ConsecutiveFailures = 0
	c.stats.LastError = ""
	c.statsMu.Unlock()

	snap := &Snapshot{
		Status:    status,
		Version:   c.version.Add(1),
		FetchedAt: now,
	}
	c.snap.Store(snap)
	_ = c.notifier.Notify(ctx)

	c.log.DebugContext(ctx, "refresh.ok",
		slog.Uint64("version", snap.Version),
		slog.Int64("players", status.TotalPlayers()))
	return snap, nil
}
