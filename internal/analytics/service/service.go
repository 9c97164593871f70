// Package service is the consent-gated analytics write path.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ilm/internal/analytics/forwarder"
	"ilm/internal/analytics/metrics"
	"ilm/internal/analytics/models"
	"ilm/internal/analytics/store"
	consentmodels "ilm/internal/consent/models"
	"ilm/internal/platform/kvstore"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/clock"
	psync "ilm/pkg/platform/sync"
)

// ExportPrefixes select the keys that belong to this site in an export.
var ExportPrefixes = []string{"gdpr-", "ilm-", "ilm_"}

const exportNote = "This is all the data we store about you locally. No data is sent to external " +
	"servers without your explicit consent through our booking form."

// Log persists the bounded per-type event log.
type Log interface {
	Load(ctx context.Context, visitor string) (store.Log, error)
	Append(ctx context.Context, visitor string, e models.Event) (int, error)
	Clear(ctx context.Context, visitor string) error
}

// Consent reads the visitor's current decision.
type Consent interface {
	Get(ctx context.Context, visitor string) (*consentmodels.Record, error)
}

// Forwarder ships events off the write path without blocking.
type Forwarder interface {
	Forward(ctx context.Context, env forwarder.Envelope) bool
}

// Export is the visitor's data as returned by ExportAll.
type Export struct {
	ConsentPreferences *consentmodels.Record `json:"consentPreferences"`
	Timestamp          string                `json:"timestamp"`
	LocalStorage       map[string]string     `json:"localStorage"`
	Note               string                `json:"note"`
}

// Service records anonymized events only while the visitor grants analytics.
// Recording never fails the caller because of storage or forwarding trouble.
type Service struct {
	log       Log
	kv        kvstore.Store
	consent   Consent
	forwarder Forwarder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock

	locks    *psync.ShardedMutex
	mu       sync.Mutex
	sessions map[string]string
}

type Option func(*Service)

func WithForwarder(f Forwarder) Option {
	return func(s *Service) { s.forwarder = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock fixes the time source. Without it the request-scoped time is used.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New builds the service. kv is the shared backend the log lives in and is
// read directly for exports.
func New(log Log, kv kvstore.Store, consent Consent, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		log:      log,
		kv:       kv,
		consent:  consent,
		logger:   logger,
		locks:    psync.NewShardedMutex(0),
		sessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record anonymizes p and appends it to the eventType log. It reports whether
// the event was stored; without analytics consent it is a no-op.
func (s *Service) Record(ctx context.Context, visitor, eventType string, p models.Payload) (bool, error) {
	if visitor == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	if !models.ValidType(eventType) {
		return false, dErrors.New(dErrors.CodeValidation, "invalid event type")
	}
	if p == nil {
		return false, dErrors.New(dErrors.CodeValidation, "missing payload")
	}

	rec, err := s.consent.Get(ctx, visitor)
	if err != nil {
		return false, err
	}
	if !rec.AnalyticsGranted() {
		s.skipped("no_consent")
		return false, nil
	}

	event := models.NewEvent(eventType, p, s.now(ctx).UnixMilli())

	var n int
	s.locks.Do(visitor, func() {
		n, err = s.log.Append(ctx, visitor, event)
	})
	if err != nil {
		if !kvstore.IsStorageFailure(err) {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
		}
		s.skipped("storage")
		s.logger.WarnContext(ctx, "analytics storage unavailable, event dropped",
			"visitor", visitor,
			"type", eventType,
			"error", err,
		)
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementRecorded(eventType)
	}
	s.logger.DebugContext(ctx, "analytics event recorded",
		"visitor", visitor,
		"type", eventType,
		"retained", n,
	)

	if s.forwarder != nil {
		s.forwarder.Forward(ctx, forwarder.Envelope{
			Type:      eventType,
			Data:      event.Payload,
			Timestamp: event.Timestamp,
		})
	}
	return true, nil
}

// Purge deletes the visitor's whole log and forgets their analytics session.
func (s *Service) Purge(ctx context.Context, visitor string) error {
	if visitor == "" {
		return dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	return s.purge(ctx, visitor, "user")
}

func (s *Service) purge(ctx context.Context, visitor, trigger string) error {
	var err error
	s.locks.Do(visitor, func() {
		err = s.log.Clear(ctx, visitor)
	})
	s.forgetSession(visitor)
	if err != nil {
		s.logger.WarnContext(ctx, "analytics purge failed",
			"visitor", visitor,
			"trigger", trigger,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to delete analytics data")
	}
	if s.metrics != nil {
		s.metrics.IncrementPurge(trigger)
	}
	s.logger.InfoContext(ctx, "analytics data purged", "visitor", visitor, "trigger", trigger)
	return nil
}

// Events returns the visitor's stored log.
func (s *Service) Events(ctx context.Context, visitor string) (store.Log, error) {
	log, err := s.log.Load(ctx, visitor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to read analytics data")
	}
	return log, nil
}

// ExportAll returns the consent record and every site key in the visitor's
// namespace. It never touches the network.
func (s *Service) ExportAll(ctx context.Context, visitor string) (*Export, error) {
	if visitor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	rec, err := s.consent.Get(ctx, visitor)
	if err != nil {
		return nil, err
	}

	ns := kvstore.Namespace(s.kv, visitor)
	keys, err := kvstore.KeysWithPrefix(ctx, ns, ExportPrefixes...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to list stored data")
	}
	data := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := ns.Get(ctx, k)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, fmt.Sprintf("failed to read %s", k))
		}
		data[k] = v
	}

	return &Export{
		ConsentPreferences: rec,
		Timestamp:          s.now(ctx).UTC().Format(consentmodels.TimestampLayout),
		LocalStorage:       data,
		Note:               exportNote,
	}, nil
}

// SessionID returns the visitor's analytics session id, creating one on first
// use. It is dropped on purge.
func (s *Service) SessionID(visitor string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[visitor]
	if !ok {
		id = "sess_" + uuid.NewString()
		s.sessions[visitor] = id
	}
	return id
}

func (s *Service) forgetSession(visitor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, visitor)
}

// ConsentChanged purges the log whenever the new decision does not grant
// analytics, including a reset.
func (s *Service) ConsentChanged(ctx context.Context, visitor string, prev, curr *consentmodels.Record) {
	if curr.AnalyticsGranted() {
		return
	}
	trigger := "consent_declined"
	if prev.AnalyticsGranted() {
		trigger = "consent_revoked"
	}
	// Purge logs its own failure; the consent change has already happened.
	_ = s.purge(ctx, visitor, trigger)
}

func (s *Service) skipped(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementSkipped(reason)
	}
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return clock.Now(ctx)
}
