// Package kvstore provides origin-scoped key/value storage for visitor state.
//
// A Store behaves like a browser's local storage: string keys, JSON-encoded string
// values, whole-value writes, and failures (quota, disabled storage) that callers are
// expected to survive. Backends are an in-memory map, an embedded SQLite file and
// Redis. Use Namespace to scope a shared backend to a single visitor.
package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Error Contract:
// - Get returns ErrNotFound when the key is absent
// - Set returns ErrQuotaExceeded when the write would exceed the backend's quota
// - Any method may return ErrUnavailable (wrapped) when the backend cannot be reached
var (
	ErrNotFound      = errors.New("kvstore: key not found")
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
	ErrUnavailable   = errors.New("kvstore: storage unavailable")
)

// Store is the persistence seam shared by consent, analytics and the privacy center.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// IsStorageFailure reports whether err is a backend failure callers should degrade on,
// as opposed to a missing key.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrUnavailable)
}

// KeysWithPrefix lists keys starting with any of the prefixes, sorted.
func KeysWithPrefix(ctx context.Context, s Store, prefixes ...string) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, k := range keys {
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				matched = append(matched, k)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched, nil
}
