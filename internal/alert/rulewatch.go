package alert

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const ruleFileDebounce = 500 * time.Millisecond

// RuleFileWatcher re-imports a rules file whenever it changes on disk.
type RuleFileWatcher struct {
	rules    *RuleManager
	path     string
	debounce time.Duration
	log      zerolog.Logger
}

func NewRuleFileWatcher(rules *RuleManager, path string, log zerolog.Logger) *RuleFileWatcher {
	return &RuleFileWatcher{
		rules:    rules,
		path:     filepath.Clean(path),
		debounce: ruleFileDebounce,
		log:      log.With().Str("component", "rule_watcher").Str("path", path).Logger(),
	}
}

// Sync imports the file once.
func (w *RuleFileWatcher) Sync(ctx context.Context) error {
	created, updated, err := w.rules.ImportRulesFromFile(ctx, w.path)
	if err != nil {
		return err
	}
	w.log.Info().Int("created", created).Int("updated", updated).Msg("Rules file synced")
	return nil
}

// Run imports the file and then watches it until ctx is cancelled. The
// directory is watched so editors that save by rename are still seen.
func (w *RuleFileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	if err := w.Sync(ctx); err != nil {
		w.log.Error().Err(err).Msg("Initial rules sync failed")
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reload = time.After(w.debounce)

		case <-reload:
			reload = nil
			if err := w.Sync(ctx); err != nil {
				w.log.Error().Err(err).Msg("Rules reload failed, keeping current rules")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("Watcher error")
		}
	}
}
