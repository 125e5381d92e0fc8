package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "daybook/pkg/logx"
)

// WatchStore kicks a sync whenever the store file at path (or a sqlite
// -wal/-journal sidecar) is written, so alarms registered by another process
// are picked up without waiting for the next interval. Bursts are coalesced.
// It returns when ctx is done or the watcher breaks.
func (d *Dispatcher) WatchStore(ctx context.Context, path string) error {
	const settle = 100 * time.Millisecond

	dir, file := filepath.Dir(path), filepath.Base(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	d.log.Debug("store watcher started", logx.String("dir", dir), logx.String("file", file))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("store watcher closed")
			}
			if !storeFile(filepath.Base(ev.Name), file) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(settle)
			}
		case <-pending:
			pending = nil
			d.Kick()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("store watcher closed")
			}
			d.log.Warn("store watch error", logx.Err(err), logx.String("dir", dir))
		}
	}
}

func storeFile(name, file string) bool {
	return name == file || strings.HasPrefix(name, file+"-")
}
