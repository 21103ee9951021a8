package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/logger"
)

// maxWatchDepth bounds the recursive watch to root, its children and its
// grandchildren, which covers the `<root>/<encoded-cwd>/<id>.jsonl` layout
// without paying for deeper recursive watches.
const maxWatchDepth = 2

// watchSessions recursively observes root (depth ≤ maxWatchDepth) and
// reports an at-least-once DiscoveryEvent for every .jsonl create/change/
// remove. Non-.jsonl paths are ignored. The returned cancel is idempotent.
func watchSessions(ctx context.Context, root string, log *logger.Logger, callback func(adapter.DiscoveryEvent)) (adapter.CancelFunc, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addWatchTree(w, root, 0); err != nil && !os.IsNotExist(err) {
		w.Close()
		return nil, err
	}

	watchCtx, cancelFn := context.WithCancel(ctx)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelFn()
			w.Close()
		})
	}

	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				handleWatchEvent(w, ev, log, callback)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("claudecode: filesystem watch error", zap.Error(err))
			}
		}
	}()

	return cancel, nil
}

func addWatchTree(w *fsnotify.Watcher, dir string, depth int) error {
	if depth > maxWatchDepth {
		return nil
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	if depth == maxWatchDepth {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = addWatchTree(w, filepath.Join(dir, e.Name()), depth+1)
		}
	}
	return nil
}

func handleWatchEvent(w *fsnotify.Watcher, ev fsnotify.Event, log *logger.Logger, callback func(adapter.DiscoveryEvent)) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// A new project directory appeared under root; start watching
			// it so its session files are observed too.
			if err := w.Add(ev.Name); err != nil {
				log.Debug("claudecode: failed to watch new directory", zap.Error(err))
			}
			return
		}
	}

	if !strings.HasSuffix(ev.Name, ".jsonl") {
		return
	}
	sessionID := strings.TrimSuffix(filepath.Base(ev.Name), ".jsonl")

	switch {
	case ev.Op&fsnotify.Create != 0:
		callback(adapter.DiscoveryEvent{Kind: adapter.DiscoveryCreated, SessionID: sessionID})
	case ev.Op&fsnotify.Write != 0:
		callback(adapter.DiscoveryEvent{Kind: adapter.DiscoveryUpdated, SessionID: sessionID})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		callback(adapter.DiscoveryEvent{Kind: adapter.DiscoveryRemoved, SessionID: sessionID})
	}
}
