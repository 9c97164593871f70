// Package privacycenter implements the visitor's data rights: export, view,
// delete, plus the cookie counts and cache maintenance shown beside them.
package privacycenter

import (
	"context"
	"errors"
	"log/slog"

	analyticsservice "ilm/internal/analytics/service"
	"ilm/internal/audit"
	consentmodels "ilm/internal/consent/models"
	"ilm/internal/notify"
	"ilm/internal/platform/kvstore"
	dErrors "ilm/pkg/domain-errors"
)

const (
	CacheVersion    = "v2024-01-15"
	CacheVersionKey = "ilm-cache-version"

	msgExported = "Your data has been exported successfully."
	msgDeleted  = "All your data has been deleted successfully."
)

var (
	// ViewPrefixes select the keys shown to the visitor.
	ViewPrefixes = []string{"gdpr-", "ilm-", "ilm_"}
	// DeletePrefixes select the keys removed by DeleteAll.
	DeletePrefixes = []string{"gdpr-", "ilm-", "ilm_", "user-"}
	cachePrefixes  = []string{"ilm-cache-", "website-cache-"}
)

// Exporter builds the full data export.
type Exporter interface {
	ExportAll(ctx context.Context, visitor string) (*analyticsservice.Export, error)
}

// Consent is the part of the consent service the privacy center drives.
type Consent interface {
	Get(ctx context.Context, visitor string) (*consentmodels.Record, error)
	Reset(ctx context.Context, visitor string) error
}

// Trail records data-rights requests and serves the visitor's history.
type Trail interface {
	Emit(ctx context.Context, event audit.Event) error
	List(ctx context.Context, visitor string) ([]audit.Event, error)
}

// CookieCounts is how many cookies each category sets under the current decision.
type CookieCounts struct {
	Necessary  int `json:"necessary"`
	Functional int `json:"functional"`
	Analytics  int `json:"analytics"`
	Marketing  int `json:"marketing"`
}

// CacheStatus reports the cache marker before and after maintenance.
type CacheStatus struct {
	Version  string `json:"version"`
	Previous string `json:"previous,omitempty"`
	Current  bool   `json:"current"`
	Cleared  int    `json:"cleared"`
}

type Service struct {
	kv       kvstore.Store
	exporter Exporter
	consent  Consent
	notifier notify.Notifier
	trail    Trail
	logger   *slog.Logger
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAudit records exports and deletions on trail.
func WithAudit(trail Trail) Option {
	return func(s *Service) {
		s.trail = trail
	}
}

func New(kv kvstore.Store, exporter Exporter, consent Consent, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		kv:       kv,
		exporter: exporter,
		consent:  consent,
		notifier: notify.Discard{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export returns everything stored for the visitor.
func (s *Service) Export(ctx context.Context, visitor string) (*analyticsservice.Export, error) {
	export, err := s.exporter.ExportAll(ctx, visitor)
	if err != nil {
		return nil, err
	}
	s.record(ctx, visitor, audit.ActionDataExported)
	s.notifier.Notify(ctx, visitor, notify.Success(msgExported))
	s.logger.InfoContext(ctx, "visitor data exported", "visitor", visitor, "keys", len(export.LocalStorage))
	return export, nil
}

// ViewStored returns the site's keys and raw values for the visitor.
func (s *Service) ViewStored(ctx context.Context, visitor string) (map[string]string, error) {
	if visitor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	ns := kvstore.Namespace(s.kv, visitor)
	keys, err := kvstore.KeysWithPrefix(ctx, ns, ViewPrefixes...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to list stored data")
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := ns.Get(ctx, k)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to read stored data")
		}
		out[k] = v
	}
	return out, nil
}

// DeleteAll resets consent, which lets listeners drop derived state, then
// removes every remaining site key. It returns how many keys were removed.
func (s *Service) DeleteAll(ctx context.Context, visitor string) (int, error) {
	if visitor == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	if err := s.consent.Reset(ctx, visitor); err != nil {
		return 0, err
	}

	ns := kvstore.Namespace(s.kv, visitor)
	keys, err := kvstore.KeysWithPrefix(ctx, ns, DeletePrefixes...)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to list stored data")
	}
	for _, k := range keys {
		if err := ns.Delete(ctx, k); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to delete stored data")
		}
	}

	s.record(ctx, visitor, audit.ActionDataDeleted)
	s.notifier.Notify(ctx, visitor, notify.Success(msgDeleted))
	s.logger.InfoContext(ctx, "visitor data deleted", "visitor", visitor, "keys", len(keys))
	return len(keys), nil
}

// History returns the visitor's consent and data-rights trail, oldest first.
// The trail survives DeleteAll; it holds no personal data.
func (s *Service) History(ctx context.Context, visitor string) ([]audit.Event, error) {
	if visitor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	if s.trail == nil {
		return []audit.Event{}, nil
	}
	events, err := s.trail.List(ctx, visitor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to read history")
	}
	return events, nil
}

func (s *Service) record(ctx context.Context, visitor string, action audit.Action) {
	if s.trail == nil {
		return
	}
	if err := s.trail.Emit(ctx, audit.Event{Visitor: visitor, Action: action}); err != nil {
		s.logger.WarnContext(ctx, "failed to record audit event", "visitor", visitor, "action", action, "error", err)
	}
}

// CookieCounts derives the per-category counts from the current decision.
func (s *Service) CookieCounts(ctx context.Context, visitor string) (CookieCounts, error) {
	rec, err := s.consent.Get(ctx, visitor)
	if err != nil {
		return CookieCounts{}, err
	}
	return countsFor(rec), nil
}

func countsFor(rec *consentmodels.Record) CookieCounts {
	c := CookieCounts{Necessary: 2}
	if rec == nil {
		return c
	}
	if rec.Functional {
		c.Functional = 2
	}
	if rec.Analytics {
		c.Analytics = 3
	}
	if rec.Marketing {
		c.Marketing = 5
	}
	return c
}

// MaintainCache clears stale cache keys and writes the current version marker.
func (s *Service) MaintainCache(ctx context.Context, visitor string) (CacheStatus, error) {
	if visitor == "" {
		return CacheStatus{}, dErrors.New(dErrors.CodeBadRequest, "missing visitor")
	}
	ns := kvstore.Namespace(s.kv, visitor)

	prev, err := ns.Get(ctx, CacheVersionKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return CacheStatus{}, s.cacheUnavailable(ctx, visitor, err)
	}

	keys, err := kvstore.KeysWithPrefix(ctx, ns, cachePrefixes...)
	if err != nil {
		return CacheStatus{}, s.cacheUnavailable(ctx, visitor, err)
	}
	cleared := 0
	for _, k := range keys {
		if k == CacheVersionKey {
			continue
		}
		if err := ns.Delete(ctx, k); err != nil {
			return CacheStatus{}, s.cacheUnavailable(ctx, visitor, err)
		}
		cleared++
	}
	if err := ns.Set(ctx, CacheVersionKey, CacheVersion); err != nil {
		return CacheStatus{}, s.cacheUnavailable(ctx, visitor, err)
	}

	if prev != CacheVersion {
		s.logger.InfoContext(ctx, "cache version updated",
			"visitor", visitor,
			"previous", prev,
			"version", CacheVersion,
			"cleared", cleared,
		)
	}
	return CacheStatus{Version: CacheVersion, Previous: prev, Current: true, Cleared: cleared}, nil
}

// CacheStatus reports whether the visitor's marker matches the current version.
func (s *Service) CacheStatus(ctx context.Context, visitor string) (CacheStatus, error) {
	v, err := kvstore.Namespace(s.kv, visitor).Get(ctx, CacheVersionKey)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return CacheStatus{}, s.cacheUnavailable(ctx, visitor, err)
	}
	return CacheStatus{Version: v, Current: v == CacheVersion}, nil
}

func (s *Service) cacheUnavailable(ctx context.Context, visitor string, err error) error {
	s.logger.WarnContext(ctx, "cache maintenance limited by storage", "visitor", visitor, "error", err)
	return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "cache maintenance unavailable")
}
