package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/quill/pkg/logging"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads settings when a config file changes and re-validates the
// hook declarations before handing the new config to the callback. A reload
// that fails validation is dropped; the previous config stays active.
type Watcher struct {
	workDir   string
	userPath  string
	overrides Overrides
	logger    *logging.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher watches the directories holding the given config's files.
func NewWatcher(cfg *Config, workDir string, overrides Overrides, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, path := range []string{cfg.UserPath, cfg.ProjectPath} {
		if path == "" {
			continue
		}
		// Watch the directory: editors replace files rather than write them.
		if err := fsw.Add(filepath.Dir(path)); err != nil {
			continue
		}
	}

	return &Watcher{
		workDir:   workDir,
		userPath:  cfg.UserPath,
		overrides: overrides,
		logger:    logger,
		fsw:       fsw,
	}, nil
}

// Run blocks until the context ends, invoking onReload with each valid new
// config. Events are debounced so one save triggers one reload.
func (w *Watcher) Run(ctx context.Context, onReload func(*Config)) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(logging.CategoryConfig, "watch_error", "config watcher error", map[string]any{
				"error": err.Error(),
			})
		case <-pending:
			w.reload(onReload)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Base(event.Name) == configFileName
}

func (w *Watcher) reload(onReload func(*Config)) {
	cfg, err := load(w.workDir, w.userPath, w.overrides)
	if err != nil {
		w.logger.Warn(logging.CategoryConfig, "reload_failed", "keeping previous settings", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if _, err := cfg.HookRegistry(); err != nil {
		w.logger.Warn(logging.CategoryConfig, "reload_rejected", "hook declarations failed validation", map[string]any{
			"error": err.Error(),
		})
		return
	}
	w.logger.Info(logging.CategoryConfig, "reloaded", "settings reloaded", nil)
	onReload(cfg)
}
