package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the content folders and invokes the supplied callback
// whenever documents change. Stop must be called to release filesystem
// resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the content folders and schedules a debounced
// reload callback on any relevant change. New subdirectories are picked up as
// they appear.
func Watch(ctx context.Context, folders []string, onChange func(), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("content: watch requires a change callback")
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("content: no folders configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("content: watch: %w", err)
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("content: watch close: %w", err))
			}
		}()
		defer signalReady()

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				if onError != nil {
					onError(fmt.Errorf("content: watch add %s: %w", dir, err))
				}
				return
			}
			dirs[dir] = struct{}{}
		}

		for _, folder := range folders {
			root, err := filepath.Abs(folder)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("content: resolve folder %s: %w", folder, err))
				}
				root = folder
			}
			if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					if onError != nil {
						onError(fmt.Errorf("content: walk watcher %s: %w", path, walkErr))
					}
					return nil
				}
				if d.IsDir() {
					addDir(path)
				}
				return nil
			}); err != nil {
				if onError != nil {
					onError(fmt.Errorf("content: traverse watcher %s: %w", root, err))
				}
			}
		}

		signalReady()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				onChange()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if event.Op&fsnotify.Create != 0 {
					info, err := os.Stat(name)
					if err == nil && info.IsDir() {
						addDir(name)
						continue
					}
				}
				if !isSupportedContentFile(name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
					continue
				}
				scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("content: watch error: %w", err))
				}
			}
		}
	}()

	<-ready

	return w, nil
}
