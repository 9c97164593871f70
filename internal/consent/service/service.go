package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ilm/internal/consent/metrics"
	"ilm/internal/consent/models"
	"ilm/internal/consent/store"
	"ilm/internal/notify"
	"ilm/internal/platform/kvstore"
	"ilm/pkg/platform/clock"
	pkgerrors "ilm/pkg/domain-errors"
)

// Store defines the persistence interface for consent records.
// Error Contract:
// - Find returns store.ErrNotFound when the visitor has never decided
// - Storage failures are wrapped kvstore errors (kvstore.IsStorageFailure)
type Store interface {
	Find(ctx context.Context, visitor string) (*models.Record, error)
	Save(ctx context.Context, visitor string, rec *models.Record) error
	Delete(ctx context.Context, visitor string) error
	IncrementChoice(ctx context.Context, visitor, code string, at time.Time) error
}

// Listener is told about every consent change. curr is nil after a reset.
// Listeners run synchronously, before Set or Reset returns.
type Listener interface {
	ConsentChanged(ctx context.Context, visitor string, prev, curr *models.Record)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, visitor string, prev, curr *models.Record)

func (f ListenerFunc) ConsentChanged(ctx context.Context, visitor string, prev, curr *models.Record) {
	f(ctx, visitor, prev, curr)
}

type Option func(*Service)

const (
	defaultSessionTTL   = 30 * time.Minute
	defaultSessionLimit = 10000
	defaultSweepEvery   = time.Minute
)

const (
	msgSaved          = "Cookie preferences saved"
	msgReset          = "Cookie preferences reset to default"
	msgSessionOnly    = "Your preferences could not be saved and will apply to this visit only"
	msgResetNotStored = "Your preferences were reset for this visit but could not be cleared from storage"
)

// Service is the single source of truth for whether tracking may run.
//
// Storage failures never fail an operation: the decision is kept in memory for
// the visitor's session, logged, and surfaced as a warning toast. Session
// records expire after the session TTL and are capped in number, so an
// outage cannot grow them without bound.
type Service struct {
	store     Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notifier  notify.Notifier
	clock     clock.Clock
	listeners []Listener

	mu           sync.RWMutex
	session      map[string]sessionEntry
	sessionTTL   time.Duration
	sessionLimit int
}

type sessionEntry struct {
	rec      *models.Record
	storedAt time.Time
}

func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:    store,
		logger:   logger,
		notifier: notify.Discard{},
		session:  make(map[string]sessionEntry),

		sessionTTL:   defaultSessionTTL,
		sessionLimit: defaultSessionLimit,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier routes confirmations and storage warnings to visitors.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock fixes the time source used to stamp records. Without it the
// request-scoped time is used.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithSessionTTL sets how long a session-only record outlives its save.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithSessionLimit caps the number of session-only records. The oldest is
// dropped to make room.
func WithSessionLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sessionLimit = n
		}
	}
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, l)
	}
}

// Subscribe registers a listener after construction. Not safe to call
// concurrently with Set or Reset.
func (s *Service) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Get returns the visitor's record, or nil if they have never decided.
// Calling Get twice without an intervening Set returns identical records.
func (s *Service) Get(ctx context.Context, visitor string) (*models.Record, error) {
	if visitor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "missing visitor")
	}
	if rec := s.sessionRecord(visitor, s.now(ctx)); rec != nil {
		return rec, nil
	}

	start := time.Now()
	rec, err := s.store.Find(ctx, visitor)
	s.observeLatency("find", start)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		s.storageFailure(ctx, "find", visitor, err)
		return nil, nil
	}
}

// Set normalizes prefs into a whole new record, persists it and notifies
// listeners. The stored (or session-only) record is returned.
func (s *Service) Set(ctx context.Context, visitor string, prefs models.Preferences) (*models.Record, error) {
	prev, err := s.Get(ctx, visitor)
	if err != nil {
		return nil, err
	}

	now := s.now(ctx)
	rec := models.NewRecord(prefs, now)

	start := time.Now()
	err = s.store.Save(ctx, visitor, &rec)
	s.observeLatency("save", start)
	if err != nil {
		if !kvstore.IsStorageFailure(err) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to save consent")
		}
		s.storageFailure(ctx, "save", visitor, err)
		s.setSession(visitor, &rec, now)
		s.notifier.Notify(ctx, visitor, notify.Warning(msgSessionOnly))
	} else {
		s.clearSession(visitor)
		s.notifier.Notify(ctx, visitor, notify.Confirmation(msgSaved))
		if err := s.store.IncrementChoice(ctx, visitor, models.ChoiceCode(prefs), now); err != nil {
			s.logger.DebugContext(ctx, "consent choice counter not updated",
				"visitor", visitor,
				"error", err,
			)
		}
	}

	state := models.StateOf(&rec)
	if s.metrics != nil {
		s.metrics.IncrementChoice(string(state))
	}
	s.logger.InfoContext(ctx, "consent saved",
		"visitor", visitor,
		"state", state,
		"previous_state", models.StateOf(prev),
	)

	s.broadcast(ctx, visitor, prev, &rec)
	out := rec
	return &out, nil
}

// Reset deletes the record so the visitor is asked again.
func (s *Service) Reset(ctx context.Context, visitor string) error {
	prev, err := s.Get(ctx, visitor)
	if err != nil {
		return err
	}
	s.clearSession(visitor)

	start := time.Now()
	err = s.store.Delete(ctx, visitor)
	s.observeLatency("delete", start)
	if err != nil {
		s.storageFailure(ctx, "delete", visitor, err)
		s.notifier.Notify(ctx, visitor, notify.Warning(msgResetNotStored))
	} else {
		s.notifier.Notify(ctx, visitor, notify.Info(msgReset))
	}
	if s.metrics != nil {
		s.metrics.IncrementReset()
	}
	s.logger.InfoContext(ctx, "consent reset",
		"visitor", visitor,
		"previous_state", models.StateOf(prev),
	)

	s.broadcast(ctx, visitor, prev, nil)
	return nil
}

// AnalyticsGranted reports whether analytics may be recorded for the visitor.
func (s *Service) AnalyticsGranted(ctx context.Context, visitor string) bool {
	rec, err := s.Get(ctx, visitor)
	return err == nil && rec.AnalyticsGranted()
}

func (s *Service) broadcast(ctx context.Context, visitor string, prev, curr *models.Record) {
	for _, l := range s.listeners {
		l.ConsentChanged(ctx, visitor, copyRecord(prev), copyRecord(curr))
	}
}

func (s *Service) storageFailure(ctx context.Context, op, visitor string, err error) {
	if s.metrics != nil {
		s.metrics.IncrementStorageFailure(op)
	}
	s.logger.WarnContext(ctx, "consent storage unavailable, using session record",
		"operation", op,
		"visitor", visitor,
		"error", err,
	)
}

func (s *Service) sessionRecord(visitor string, now time.Time) *models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.session[visitor]
	if !ok || now.Sub(e.storedAt) > s.sessionTTL {
		return nil
	}
	return copyRecord(e.rec)
}

func (s *Service) setSession(visitor string, rec *models.Record, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.session[visitor]; !ok && len(s.session) >= s.sessionLimit {
		s.evictOldestLocked()
	}
	s.session[visitor] = sessionEntry{rec: copyRecord(rec), storedAt: now}
	s.reportSessionsLocked()
}

func (s *Service) clearSession(visitor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session, visitor)
	s.reportSessionsLocked()
}

func (s *Service) evictOldestLocked() {
	var oldest string
	var at time.Time
	for v, e := range s.session {
		if oldest == "" || e.storedAt.Before(at) {
			oldest, at = v, e.storedAt
		}
	}
	delete(s.session, oldest)
}

func (s *Service) reportSessionsLocked() {
	if s.metrics != nil {
		s.metrics.SetSessionRecords(len(s.session))
	}
}

// SweepSessions drops session-only records older than the session TTL and
// returns how many were removed.
func (s *Service) SweepSessions(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for v, e := range s.session {
		if now.Sub(e.storedAt) > s.sessionTTL {
			delete(s.session, v)
			n++
		}
	}
	if n > 0 {
		s.reportSessionsLocked()
	}
	return n
}

// RunSessionSweep sweeps expired session records until ctx is cancelled.
func (s *Service) RunSessionSweep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := s.SweepSessions(now); n > 0 {
				s.logger.DebugContext(ctx, "expired session consent records", "count", n)
			}
		}
	}
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return clock.Now(ctx)
}

func (s *Service) observeLatency(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperationLatency(op, time.Since(start).Seconds())
	}
}

func copyRecord(r *models.Record) *models.Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
