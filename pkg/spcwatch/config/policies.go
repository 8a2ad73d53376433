package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyExt is the file extension of policy files.
const PolicyExt = ".policy"

// LoadPolicies reads every *.policy file in dir, keyed by file name
// without the extension.
func LoadPolicies(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != PolicyExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", e.Name(), err)
		}
		out[strings.TrimSuffix(e.Name(), PolicyExt)] = string(data)
	}
	return out, nil
}

// PolicyWatcher reloads a policy directory whenever a policy file changes.
type PolicyWatcher struct {
	dir      string
	debounce time.Duration
	onChange func(map[string]string)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

func NewPolicyWatcher(dir string, onChange func(map[string]string), logger *slog.Logger) (*PolicyWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &PolicyWatcher{
		dir:      dir,
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		logger:   logger,
		watcher:  w,
	}, nil
}

// Run delivers reloads until ctx is cancelled. Bursts of events are
// coalesced into one reload.
func (p *PolicyWatcher) Run(ctx context.Context) error {
	defer p.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != PolicyExt || event.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
			} else {
				timer.Reset(p.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			policies, err := LoadPolicies(p.dir)
			if err != nil {
				p.logger.Error("policy reload failed", "dir", p.dir, "error", err)
				continue
			}
			p.logger.Info("policies reloaded", "dir", p.dir, "count", len(policies))
			p.onChange(policies)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("policy watcher error", "error", err)
		}
	}
}
