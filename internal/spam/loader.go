package spam

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the rules from a YAML file and reloads them when it changes.
// A file that fails to parse leaves the previous rules in force.
type Loader struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  Rules
	onChange []func(Rules)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	rules, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = rules
	return l, nil
}

// Rules returns the latest rules.
func (l *Loader) Rules() Rules {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(Rules)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch reloads the rules on file changes until ctx is cancelled. The parent
// directory is watched so editors that replace the file by rename are seen.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("rules watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if _, err := l.Reload(); err != nil {
				l.logger.WarnContext(ctx, "spam rules reload failed, keeping previous rules",
					"path", l.path,
					"error", err,
				)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.WarnContext(ctx, "spam rules watcher error", "error", err)
		}
	}
}

// Reload forces an immediate re-read of the rules file.
func (l *Loader) Reload() (Rules, error) {
	rules, err := l.load()
	if err != nil {
		return Rules{}, err
	}
	l.mu.Lock()
	l.current = rules
	callbacks := make([]func(Rules), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.logger.Info("spam rules loaded",
		"path", l.path,
		"keywords", len(rules.Keywords),
		"submit_limit", rules.SubmitLimit,
	)
	for _, fn := range callbacks {
		fn(rules)
	}
	return rules, nil
}

func (l *Loader) load() (Rules, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules %s: %w", l.path, err)
	}
	return rules.withDefaults(), nil
}
