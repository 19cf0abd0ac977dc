package monitoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactChange is one observed rewrite of the model artifact.
type ArtifactChange struct {
	Path string
	Op   fsnotify.Op
}

// ArtifactWatcher reports rewrites of the artifact file. The service keeps
// serving the artifact it loaded first; a change is only logged and counted.
type ArtifactWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	metrics *MetricsCollector
	changes chan ArtifactChange
}

// NewArtifactWatcher watches the directory holding path, since a trainer
// replaces the file by renaming a temporary one over it.
func NewArtifactWatcher(path string, logger *zap.Logger, metrics *MetricsCollector) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &ArtifactWatcher{
		path:    abs,
		watcher: w,
		logger:  logger,
		metrics: metrics,
		changes: make(chan ArtifactChange, 16),
	}, nil
}

// Changes delivers observed changes. Deliveries are dropped when nobody reads.
func (w *ArtifactWatcher) Changes() <-chan ArtifactChange {
	return w.changes
}

// Run processes file events until ctx ends or the watcher is closed.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("artifact watcher overflow", zap.Error(err))
				continue
			}
			w.logger.Error("artifact watcher failed", zap.Error(err))
		}
	}
}

func (w *ArtifactWatcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}
	w.logger.Warn("model artifact changed on disk; served artifact is pinned, restart to pick up",
		zap.String("path", w.path),
		zap.String("op", event.Op.String()),
	)
	if w.metrics != nil {
		w.metrics.IncrCounter(MetricArtifactChanges, 1, nil)
	}
	select {
	case w.changes <- ArtifactChange{Path: w.path, Op: event.Op}:
	default:
	}
}
