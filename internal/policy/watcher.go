package policy

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates the resolver cache whenever a manifest file changes.
// Events do not identify which container a file belongs to, so the whole
// cache is dropped; resolution refills it on demand.
type Watcher struct {
	resolver *Resolver
	dir      string
	logger   *zap.Logger
}

func NewWatcher(resolver *Resolver, dir string, logger *zap.Logger) *Watcher {
	return &Watcher{resolver: resolver, dir: dir, logger: logger.Named("policy.watcher")}
}

// Run blocks until ctx is done. A missing manifests directory disables
// watching without error.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		w.logger.Info("manifests directory not watchable, watcher disabled",
			zap.String("dir", w.dir), zap.Error(err))
		<-ctx.Done()
		return nil
	}
	w.logger.Info("watching manifests", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Info("manifest change, invalidating policy cache",
					zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				w.resolver.InvalidateAll()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manifest watch error", zap.Error(err))
		}
	}
}
