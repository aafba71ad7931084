package mode

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the flags whenever the flag file changes on disk, so an
// operator action taken by another process applies here too. Watch blocks
// until ctx is canceled.
func (c *Controller) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating flag watcher: %w", err)
	}
	defer w.Close()

	// Writes replace the file through a rename, so watch the directory.
	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				c.log.Warn().Err(err).Msg("reloading flags")
				continue
			}
			c.log.Debug().Msg("flags reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("flag watcher")
		}
	}
}
