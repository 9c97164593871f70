// Package store persists the per-type analytics log as one JSON blob in a
// visitor's local storage namespace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ilm/internal/analytics/models"
	"ilm/internal/platform/kvstore"
)

const (
	Key = "ilm_analytics"
	// MaxPerType bounds each type's log. Oldest entries by insertion go first.
	MaxPerType = 100
)

// Log maps an event type to its entries in insertion order.
type Log map[string][]models.Event

// Len returns the total number of entries.
func (l Log) Len() int {
	n := 0
	for _, events := range l {
		n += len(events)
	}
	return n
}

// Error Contract:
// - Load returns an empty Log when the key is absent or holds corrupt JSON
// - Storage failures are returned wrapped; kvstore.IsStorageFailure identifies them
type Store struct {
	kv  kvstore.Store
	max int
}

func New(kv kvstore.Store) *Store {
	return &Store{kv: kv, max: MaxPerType}
}

// Load reads the visitor's whole log.
func (s *Store) Load(ctx context.Context, visitor string) (Log, error) {
	raw, err := kvstore.Namespace(s.kv, visitor).Get(ctx, Key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Log{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", Key, err)
	}
	var log Log
	if err := json.Unmarshal([]byte(raw), &log); err != nil || log == nil {
		return Log{}, nil
	}
	return log, nil
}

// Append adds e to its type's log, trims that log to the newest entries and
// writes the whole map back. It returns how many entries of the type remain.
func (s *Store) Append(ctx context.Context, visitor string, e models.Event) (int, error) {
	log, err := s.Load(ctx, visitor)
	if err != nil {
		return 0, err
	}
	events := append(log[e.Type], e)
	if len(events) > s.max {
		events = append([]models.Event(nil), events[len(events)-s.max:]...)
	}
	log[e.Type] = events

	data, err := json.Marshal(log)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", Key, err)
	}
	if err := kvstore.Namespace(s.kv, visitor).Set(ctx, Key, string(data)); err != nil {
		return 0, fmt.Errorf("writing %s: %w", Key, err)
	}
	return len(events), nil
}

// Clear deletes the visitor's log. Clearing an absent log is not an error.
func (s *Store) Clear(ctx context.Context, visitor string) error {
	err := kvstore.Namespace(s.kv, visitor).Delete(ctx, Key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", Key, err)
	}
	return nil
}

// Exists reports whether the log key is present.
func (s *Store) Exists(ctx context.Context, visitor string) (bool, error) {
	_, err := kvstore.Namespace(s.kv, visitor).Get(ctx, Key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kvstore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("reading %s: %w", Key, err)
	}
}
