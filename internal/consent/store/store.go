// Package store persists consent records in a visitor's local storage namespace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ilm/internal/consent/models"
	"ilm/internal/platform/kvstore"
)

const (
	CanonicalKey = "ilm_consent"
	// LegacyKey is read by older cached pages and must stay in sync with CanonicalKey.
	LegacyKey = "gdpr-consent"
	StatsKey  = "ilm_consent_stats"
)

// ErrNotFound is returned by Find when the visitor has never decided.
var ErrNotFound = errors.New("consent record not found")

// Error Contract:
// - Find returns ErrNotFound when neither key holds a record
// - Storage failures are returned wrapped; kvstore.IsStorageFailure identifies them
// - A record that cannot be decoded is treated as absent
type Store struct {
	kv kvstore.Store
}

// New constructs a consent store over a shared backend. Each call scopes the
// backend to the visitor it is given.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Find reads the canonical key, falling back to the legacy key.
func (s *Store) Find(ctx context.Context, visitor string) (*models.Record, error) {
	ns := kvstore.Namespace(s.kv, visitor)
	for _, key := range []string{CanonicalKey, LegacyKey} {
		raw, err := ns.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		return &rec, nil
	}
	return nil, ErrNotFound
}

// Save writes rec under both keys. If the second write fails, the canonical key
// is restored so the two never disagree.
func (s *Store) Save(ctx context.Context, visitor string, rec *models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding consent record: %w", err)
	}
	ns := kvstore.Namespace(s.kv, visitor)

	previous, prevErr := ns.Get(ctx, CanonicalKey)
	if prevErr != nil && !errors.Is(prevErr, kvstore.ErrNotFound) {
		return fmt.Errorf("reading %s: %w", CanonicalKey, prevErr)
	}

	if err := ns.Set(ctx, CanonicalKey, string(data)); err != nil {
		return fmt.Errorf("writing %s: %w", CanonicalKey, err)
	}
	if err := ns.Set(ctx, LegacyKey, string(data)); err != nil {
		var rollbackErr error
		if prevErr == nil {
			rollbackErr = ns.Set(ctx, CanonicalKey, previous)
		} else {
			rollbackErr = ns.Delete(ctx, CanonicalKey)
		}
		return errors.Join(fmt.Errorf("writing %s: %w", LegacyKey, err), rollbackErr)
	}
	return nil
}

// Delete removes both keys.
func (s *Store) Delete(ctx context.Context, visitor string) error {
	ns := kvstore.Namespace(s.kv, visitor)
	var errs []error
	for _, key := range []string{CanonicalKey, LegacyKey} {
		if err := ns.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// IncrementChoice bumps the counter for a banner choice code.
func (s *Store) IncrementChoice(ctx context.Context, visitor, code string, at time.Time) error {
	stats, err := s.Stats(ctx, visitor)
	if err != nil {
		return err
	}
	stats.Counts[code]++
	stats.LastUpdated = at.UnixMilli()

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding choice stats: %w", err)
	}
	if err := kvstore.Namespace(s.kv, visitor).Set(ctx, StatsKey, string(data)); err != nil {
		return fmt.Errorf("writing %s: %w", StatsKey, err)
	}
	return nil
}

// Stats returns the choice counter, empty when none has been recorded.
func (s *Store) Stats(ctx context.Context, visitor string) (models.ChoiceStats, error) {
	stats := models.ChoiceStats{Counts: map[string]int{}}
	raw, err := kvstore.Namespace(s.kv, visitor).Get(ctx, StatsKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("reading %s: %w", StatsKey, err)
	}
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		// A corrupt counter restarts from zero.
		return models.ChoiceStats{Counts: map[string]int{}}, nil
	}
	return stats, nil
}
