// Package pricecache keeps slow-moving upstream quantities behind a
// freshness window.
package pricecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dexflow/logger"
)

// DefaultWindow is how long a refreshed value is served without going
// upstream.
const DefaultWindow = 15 * time.Minute

// Snapshot is the last successfully refreshed value for a key.
type Snapshot[T any] struct {
	Value       T         `json:"value"`
	LastChecked time.Time `json:"last_checked"`
}

// Empty reports whether the key was never refreshed.
func (s Snapshot[T]) Empty() bool {
	return s.LastChecked.IsZero()
}

// RefreshFunc loads a new value for key.
type RefreshFunc[T any] func(ctx context.Context, key string) (T, error)

// RefreshObserver is told about every refresh attempt.
type RefreshObserver func(key string, err error, took time.Duration)

type Option[T any] func(*Cache[T])

func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

func WithLogger[T any](log *logger.Log) Option[T] {
	return func(c *Cache[T]) { c.log = log }
}

func WithObserver[T any](fn RefreshObserver) Option[T] {
	return func(c *Cache[T]) { c.observe = fn }
}

// Cache serves per-key snapshots while they are younger than the window and
// refreshes them otherwise. Concurrent stale reads of one key share a single
// refresh. A failed refresh keeps the previous snapshot.
type Cache[T any] struct {
	window  time.Duration
	refresh RefreshFunc[T]
	now     func() time.Time
	log     *logger.Log
	observe RefreshObserver

	group singleflight.Group

	mu    sync.RWMutex
	snaps map[string]Snapshot[T]
}

// New creates a cache. A non-positive window falls back to DefaultWindow.
func New[T any](window time.Duration, refresh RefreshFunc[T], opts ...Option[T]) *Cache[T] {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Cache[T]{
		window:  window,
		refresh: refresh,
		now:     time.Now,
		log:     logger.GetLogger(),
		snaps:   make(map[string]Snapshot[T]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached value for key when fresh, otherwise refreshes it.
// When the refresh fails and an older value exists, the older value is
// returned without error; the refresh error is only returned when the key
// has never been loaded.
func (c *Cache[T]) Fetch(ctx context.Context, key string) (T, error) {
	if snap, ok := c.fresh(key); ok {
		return snap.Value, nil
	}

	// The shared refresh must not be cut short by whichever caller started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if snap, ok := c.fresh(key); ok {
			return snap.Value, nil
		}
		start := c.now()
		val, err := c.refresh(shared, key)
		if c.observe != nil {
			c.observe(key, err, c.now().Sub(start))
		}
		if err != nil {
			return nil, err
		}
		c.store(key, val)
		return val, nil
	})
	if err == nil {
		return v.(T), nil
	}

	snap := c.Snapshot(key)
	if !snap.Empty() {
		c.log.WithComponent("pricecache").WithFields(logger.Fields{
			"key":          key,
			"last_checked": snap.LastChecked,
			"age":          c.now().Sub(snap.LastChecked).String(),
		}).WithError(err).Warn("refresh failed; serving stale value")
		return snap.Value, nil
	}

	var zero T
	return zero, fmt.Errorf("refresh %s: %w", key, err)
}

// Snapshot returns the current snapshot for key without refreshing.
func (c *Cache[T]) Snapshot(key string) Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snaps[key]
}

// Snapshots copies every snapshot held by the cache.
func (c *Cache[T]) Snapshots() map[string]Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot[T], len(c.snaps))
	for k, v := range c.snaps {
		out[k] = v
	}
	return out
}

func (c *Cache[T]) fresh(key string) (Snapshot[T], bool) {
	snap := c.Snapshot(key)
	if snap.Empty() {
		return snap, false
	}
	return snap, c.now().Sub(snap.LastChecked) < c.window
}

func (c *Cache[T]) store(key string, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	checked := c.now()
	if prev, ok := c.snaps[key]; ok && checked.Before(prev.LastChecked) {
		checked = prev.LastChecked
	}
	c.snaps[key] = Snapshot[T]{Value: val, LastChecked: checked}
}
