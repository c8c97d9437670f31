package execution

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/parsec/internal/logger"
)

var ignoredDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true, "vendor": true,
	"__pycache__": true, ".venv": true, "build": true, "dist": true,
}

// ArtifactWatcher records files and directories created in a working
// directory while a command runs. It watches the directory itself and its
// first-level subdirectories, and falls back to a before/after listing
// when no watcher can be created.
type ArtifactWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	before  map[string]bool
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	created map[string]bool
}

// WatchArtifacts starts watching root
func WatchArtifacts(root string) *ArtifactWatcher {
	w := &ArtifactWatcher{
		root:    root,
		before:  listEntries(root),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		created: make(map[string]bool),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("exec: file watcher unavailable, using directory listing: %v", err)
		close(w.done)
		return w
	}
	if err := watcher.Add(root); err != nil {
		logger.Warn("exec: cannot watch %s: %v", root, err)
		_ = watcher.Close()
		close(w.done)
		return w
	}
	for name := range w.before {
		full := filepath.Join(root, name)
		if info, err := os.Stat(full); err == nil && info.IsDir() && !ignoredDirs[name] {
			_ = watcher.Add(full)
		}
	}

	w.watcher = watcher
	go w.loop()
	return w
}

func (w *ArtifactWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rel = filepath.ToSlash(rel)
			if ignoredDirs[strings.SplitN(rel, "/", 2)[0]] {
				continue
			}
			w.mu.Lock()
			w.created[rel] = true
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Debug("exec: file watcher error: %v", err)
		}
	}
}

// Stop waits settle for late events, stops the watcher and returns the
// created paths that still exist, relative to root and sorted. Entries
// inside a newly created top-level directory collapse into that directory.
func (w *ArtifactWatcher) Stop(settle time.Duration) []string {
	if w.watcher != nil {
		if settle > 0 {
			time.Sleep(settle)
		}
		close(w.stop)
		_ = w.watcher.Close()
	}
	<-w.done

	w.mu.Lock()
	candidates := make(map[string]bool, len(w.created))
	for rel := range w.created {
		candidates[rel] = true
	}
	w.mu.Unlock()

	for name := range listEntries(w.root) {
		if !w.before[name] {
			candidates[name] = true
		}
	}

	var out []string
	for rel := range candidates {
		top := strings.SplitN(rel, "/", 2)[0]
		if rel != top && candidates[top] && !w.before[top] {
			continue
		}
		if _, err := os.Lstat(filepath.Join(w.root, filepath.FromSlash(rel))); err != nil {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

func listEntries(dir string) map[string]bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out
}
