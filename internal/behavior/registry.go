package behavior

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	psync "ilm/pkg/platform/sync"
)

// ErrNotAttached is returned when no tracker exists for a visitor's form.
var ErrNotAttached = errors.New("form not attached")

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

type entry struct {
	tracker  *Tracker
	lastSeen time.Time
}

// EvictFunc is told when a tracker is dropped for idleness.
type EvictFunc func(visitor, formID string)

// Registry holds one tracker per visitor and form. Work on a single tracker is
// serialized; different trackers proceed in parallel.
type Registry struct {
	locks   *psync.ShardedMutex
	mu      sync.RWMutex
	entries map[string]*entry
	idleTTL time.Duration
	onEvict []EvictFunc
	logger  *slog.Logger
}

type RegistryOption func(*Registry)

// WithIdleTTL sets how long an untouched tracker is kept.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithEvictHook registers fn to run after idle eviction.
func WithEvictHook(fn EvictFunc) RegistryOption {
	return func(r *Registry) {
		r.onEvict = append(r.onEvict, fn)
	}
}

func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		locks:   psync.NewShardedMutex(0),
		entries: make(map[string]*entry),
		idleTTL: defaultIdleTTL,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvict registers fn to run after idle eviction.
func (r *Registry) OnEvict(fn EvictFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

func key(visitor, formID string) string {
	return visitor + "/" + formID
}

// Attach starts tracking a form, replacing any previous tracker for it.
func (r *Registry) Attach(visitor string, form FormSpec, device Device, now time.Time) State {
	k := key(visitor, form.ID)
	r.locks.Lock(k)
	defer r.locks.Unlock(k)

	t := NewTracker(form, device)
	r.mu.Lock()
	r.entries[k] = &entry{tracker: t, lastSeen: now}
	r.mu.Unlock()
	return t.Snapshot()
}

// With runs fn against the tracker while holding its lock.
func (r *Registry) With(visitor, formID string, now time.Time, fn func(*Tracker) error) error {
	k := key(visitor, formID)
	r.locks.Lock(k)
	defer r.locks.Unlock(k)

	r.mu.RLock()
	e, ok := r.entries[k]
	r.mu.RUnlock()
	if !ok {
		return ErrNotAttached
	}
	e.lastSeen = now
	return fn(e.tracker)
}

// Snapshot returns the current signals of a tracker.
func (r *Registry) Snapshot(visitor, formID string, now time.Time) (State, error) {
	var s State
	err := r.With(visitor, formID, now, func(t *Tracker) error {
		s = t.Snapshot()
		return nil
	})
	return s, err
}

// Detach drops a tracker.
func (r *Registry) Detach(visitor, formID string) {
	k := key(visitor, formID)
	r.locks.Lock(k)
	defer r.locks.Unlock(k)
	r.mu.Lock()
	delete(r.entries, k)
	r.mu.Unlock()
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep evicts trackers idle for longer than the TTL and returns how many.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	var stale []string
	for k := range r.entries {
		stale = append(stale, k)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, k := range stale {
		r.locks.Lock(k)
		r.mu.Lock()
		e, ok := r.entries[k]
		var form FormSpec
		expired := ok && now.Sub(e.lastSeen) > r.idleTTL
		if expired {
			form = e.tracker.Form()
			delete(r.entries, k)
		}
		hooks := r.onEvict
		r.mu.Unlock()
		r.locks.Unlock(k)

		if !expired {
			continue
		}
		evicted++
		visitor := k[:len(k)-len(form.ID)-1]
		for _, fn := range hooks {
			fn(visitor, form.ID)
		}
	}
	return evicted
}

// Run sweeps idle trackers until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle form trackers", "count", n)
			}
		}
	}
}
