package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutPath(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Error(t, p.Check(context.Background()))
	assert.NoError(t, p.Close())
}

func TestPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "ilm.db")

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, "sqlite", p.Name())
	assert.NoError(t, p.Check(context.Background()))

	var mode string
	require.NoError(t, p.DB().QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestDSN(t *testing.T) {
	cfg := Config{Path: "ilm.db", BusyTimeout: 2 * time.Second}
	assert.Equal(t, "ilm.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", cfg.DSN())
}
