package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ilm/internal/consent/models"
	"ilm/internal/platform/kvstore"
)

type ConsentStoreSuite struct {
	suite.Suite
	backend *kvstore.Memory
	store   *Store
	ctx     context.Context
	now     time.Time
}

func (s *ConsentStoreSuite) SetupTest() {
	s.backend = kvstore.NewMemory()
	s.store = New(s.backend)
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC)
}

func TestConsentStoreSuite(t *testing.T) {
	suite.Run(t, new(ConsentStoreSuite))
}

func (s *ConsentStoreSuite) TestFindUnset() {
	_, err := s.store.Find(s.ctx, "visitor-1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *ConsentStoreSuite) TestSaveWritesBothKeys() {
	rec := models.NewRecord(models.AcceptAll(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, "visitor-1", &rec))

	ns := kvstore.Namespace(s.backend, "visitor-1")
	canonical, err := ns.Get(s.ctx, CanonicalKey)
	s.Require().NoError(err)
	legacy, err := ns.Get(s.ctx, LegacyKey)
	s.Require().NoError(err)
	s.Equal(canonical, legacy)

	got, err := s.store.Find(s.ctx, "visitor-1")
	s.Require().NoError(err)
	s.Equal(rec, *got)
}

func (s *ConsentStoreSuite) TestFindFallsBackToLegacyKey() {
	ns := kvstore.Namespace(s.backend, "visitor-1")
	s.Require().NoError(ns.Set(s.ctx, LegacyKey,
		`{"functional":true,"analytics":true,"marketing":false,"timestamp":"2023-06-01T10:00:00.000Z","version":"1.0"}`))

	got, err := s.store.Find(s.ctx, "visitor-1")
	s.Require().NoError(err)
	s.True(got.Analytics)
	s.Equal("1.0", got.Version)
}

func (s *ConsentStoreSuite) TestFindSkipsCorruptRecord() {
	ns := kvstore.Namespace(s.backend, "visitor-1")
	s.Require().NoError(ns.Set(s.ctx, CanonicalKey, "{not json"))

	_, err := s.store.Find(s.ctx, "visitor-1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *ConsentStoreSuite) TestDeleteRemovesBothKeys() {
	rec := models.NewRecord(models.DeclineAll(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, "visitor-1", &rec))
	s.Require().NoError(s.store.Delete(s.ctx, "visitor-1"))

	keys, err := kvstore.Namespace(s.backend, "visitor-1").Keys(s.ctx)
	s.Require().NoError(err)
	s.Empty(keys)
}

func (s *ConsentStoreSuite) TestVisitorsAreIsolated() {
	rec := models.NewRecord(models.AcceptAll(), s.now)
	s.Require().NoError(s.store.Save(s.ctx, "visitor-1", &rec))

	_, err := s.store.Find(s.ctx, "visitor-2")
	s.ErrorIs(err, ErrNotFound)
}

func (s *ConsentStoreSuite) TestIncrementChoice() {
	s.Require().NoError(s.store.IncrementChoice(s.ctx, "visitor-1", "FAM", s.now))
	s.Require().NoError(s.store.IncrementChoice(s.ctx, "visitor-1", "FAM", s.now))
	s.Require().NoError(s.store.IncrementChoice(s.ctx, "visitor-1", "fam", s.now.Add(time.Minute)))

	stats, err := s.store.Stats(s.ctx, "visitor-1")
	s.Require().NoError(err)
	s.Equal(map[string]int{"FAM": 2, "fam": 1}, stats.Counts)
	s.Equal(s.now.Add(time.Minute).UnixMilli(), stats.LastUpdated)
}

// failingKV fails writes to one key.
type failingKV struct {
	kvstore.Store
	failKey string
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.failKey {
		return kvstore.ErrQuotaExceeded
	}
	return f.Store.Set(ctx, key, value)
}

func TestSaveRollsBackCanonicalWhenLegacyWriteFails(t *testing.T) {
	ctx := context.Background()
	backend := kvstore.NewMemory()
	now := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)

	first := models.NewRecord(models.AcceptAll(), now)
	require.NoError(t, New(backend).Save(ctx, "v", &first))

	st := New(&failingKV{Store: backend, failKey: "v/" + LegacyKey})
	second := models.NewRecord(models.DeclineAll(), now.Add(time.Hour))
	err := st.Save(ctx, "v", &second)
	require.Error(t, err)
	assert.True(t, kvstore.IsStorageFailure(err))

	got, err := New(backend).Find(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, first, *got, "canonical key restored to previous record")
}

func TestSaveRemovesCanonicalWhenNothingToRestore(t *testing.T) {
	ctx := context.Background()
	backend := kvstore.NewMemory()
	st := New(&failingKV{Store: backend, failKey: "v/" + LegacyKey})

	rec := models.NewRecord(models.AcceptAll(), time.Now())
	require.Error(t, st.Save(ctx, "v", &rec))

	_, err := backend.Get(ctx, "v/"+CanonicalKey)
	assert.True(t, errors.Is(err, kvstore.ErrNotFound))
}
