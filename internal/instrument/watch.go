package instrument

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the store whenever its backing file is written or replaced.
// It blocks until ctx is cancelled. The parent directory is watched so that
// editors replacing the file atomically are picked up.
func (s *Store) Watch(ctx context.Context, logger logrus.FieldLogger) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
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
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.WithError(err).WithField("path", s.path).Warn("instrument config reload failed, keeping previous values")
				continue
			}
			logger.WithField("path", s.path).Info("instrument config reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("instrument config watcher error")
		}
	}
}
