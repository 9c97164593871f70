package spam

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoaderAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spam.yaml")
	writeRules(t, path, "max_urls: 2\nmin_fill_time: 2s\n")

	l, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	r := l.Rules()
	assert.Equal(t, 2, r.MaxURLs)
	assert.Equal(t, 2*time.Second, r.MinFillTime)
	assert.Equal(t, "website", r.HoneypotField)
	assert.Equal(t, DefaultKeywords, r.Keywords)
	assert.Equal(t, 3, r.SubmitLimit)
	assert.Equal(t, time.Minute, r.SubmitWindow)
}

func TestLoaderRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader(filepath.Join(dir, "missing.yaml"), slog.Default())
	require.Error(t, err)

	path := filepath.Join(dir, "spam.yaml")
	writeRules(t, path, "keywords: [unterminated\n")
	_, err = NewLoader(path, slog.Default())
	require.Error(t, err)
}

func TestLoaderReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spam.yaml")
	writeRules(t, path, "keyword_threshold: 1\n")
	l, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	var seen []Rules
	l.OnChange(func(r Rules) { seen = append(seen, r) })

	writeRules(t, path, "keyword_threshold: [\n")
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, 1, l.Rules().KeywordThreshold)
	assert.Empty(t, seen)

	writeRules(t, path, "keyword_threshold: 4\nkeywords: [Crypto]\n")
	r, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, 4, r.KeywordThreshold)
	assert.Equal(t, []string{"crypto"}, l.Rules().Keywords)
	require.Len(t, seen, 1)
}

func TestLoaderWatchPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spam.yaml")
	writeRules(t, path, "max_emails: 3\n")
	l, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	changed := make(chan Rules, 4)
	l.OnChange(func(r Rules) { changed <- r })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeRules(t, path, "max_emails: 9\n")

	// Truncation may surface as its own event with an empty file
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case r := <-changed:
			reloaded = r.MaxEmails == 9
		case <-deadline:
			t.Fatal("rules were not reloaded")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 9, l.Rules().MaxEmails)
}
