package reports

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the catalog whenever its file changes. It blocks until
// the context is cancelled. The parent directory is watched so editors
// that replace the file by rename are picked up. A builtin catalog has
// nothing to watch and Watch just waits for cancellation.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(c.path)

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching report catalog: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			if err := c.Reload(); err != nil {
				c.logger.Warn("report catalog reload failed, keeping previous",
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			c.logger.Warn("report catalog watcher error", slog.String("error", err.Error()))
		}
	}
}
