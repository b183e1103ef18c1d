package filedir

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
)

// Target receives a freshly parsed directory.
type Target interface {
	Replace(subs []model.Subscriber, configs []model.DigestConfig)
}

// Watcher reloads a directory file into a Target whenever it changes. A file
// that fails to parse is logged and the previous contents stay in place.
type Watcher struct {
	path     string
	target   Target
	logger   logger.Logger
	debounce time.Duration
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, target Target, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		logger:   logger.Nop(),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload parses the file once and replaces the target on success.
func (w *Watcher) Reload(ctx context.Context) error {
	subs, configs, err := Load(w.path)
	if err != nil {
		return err
	}
	w.target.Replace(subs, configs)
	w.logger.Info(ctx, "directory loaded",
		logger.String("path", w.path),
		logger.Int("subscribers", len(subs)),
		logger.Int("digests", len(configs)),
	)
	return nil
}

// Run watches the file's parent directory until ctx is done. Editors often
// replace files by rename, so events are matched on the file name.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "directory watcher error", logger.Error(err))
		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				w.logger.Error(ctx, "directory reload failed, keeping previous",
					logger.String("path", w.path), logger.Error(err))
			}
		}
	}
}
