package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchFallback is the polling interval when Watch is given none.
const DefaultWatchFallback = 2 * time.Second

// Watch calls fn with the worker name whenever a legacy mailbox file in
// dir is written. It uses fsnotify with a periodic poll as a safety net,
// and falls back to polling alone when the watcher cannot be created.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, fallback time.Duration, fn func(worker string)) error {
	if fallback <= 0 {
		fallback = DefaultWatchFallback
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mailbox dir %s: %w", dir, err)
	}
	snap := newSnapshot(dir)
	snap.changed() // baseline; existing content is not a new write

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		pollLoop(ctx, snap, fallback, fn)
		return nil
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		pollLoop(ctx, snap, fallback, fn)
		return nil
	}

	ticker := time.NewTicker(fallback)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				pollLoop(ctx, snap, fallback, fn)
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if worker, ok := workerFromPath(ev.Name); ok {
				snap.refresh(worker)
				fn(worker)
			}
		case <-watcher.Errors:
			// The ticker covers anything the watcher missed.
		case <-ticker.C:
			for _, w := range snap.changed() {
				fn(w)
			}
		}
	}
}

func pollLoop(ctx context.Context, snap *snapshot, interval time.Duration, fn func(string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range snap.changed() {
				fn(w)
			}
		}
	}
}

func workerFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".jsonl") || strings.HasPrefix(base, ".") {
		return "", false
	}
	return strings.TrimSuffix(base, ".jsonl"), true
}

// snapshot remembers mailbox file sizes so polling can detect growth.
type snapshot struct {
	dir   string
	sizes map[string]int64
}

func newSnapshot(dir string) *snapshot {
	return &snapshot{dir: dir, sizes: make(map[string]int64)}
}

// changed returns workers whose mailbox size differs from the last look.
func (s *snapshot) changed() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		worker, ok := workerFromPath(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if prev, seen := s.sizes[worker]; !seen || prev != info.Size() {
			s.sizes[worker] = info.Size()
			if seen || info.Size() > 0 {
				out = append(out, worker)
			}
		}
	}
	return out
}

func (s *snapshot) refresh(worker string) {
	info, err := os.Stat(filepath.Join(s.dir, worker+".jsonl"))
	if err != nil {
		return
	}
	s.sizes[worker] = info.Size()
}
