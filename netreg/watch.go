// Copyright (c) 2025 The Gauntlet developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package netreg

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// debounce window for editors that write spec files in several syscalls
const watchDebounce = 500 * time.Millisecond

// Watch refreshes the registry whenever a spec file changes, until ctx is
// done. Refresh failures keep the previous snapshot and are only logged.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "netreg: create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return errors.Wrap(err, "netreg: watch spec dir")
	}
	logger.Debug("watching spec dir", "dir", r.dir)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("spec watcher error", "err", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := r.Refresh(); err != nil {
				logger.Warn("spec refresh failed, keeping previous snapshot", "err", err)
			} else {
				logger.Info("network specs refreshed", "count", len(r.All()))
			}
		}
	}
}
