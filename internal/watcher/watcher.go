// Package watcher reports changes to log files selected by glob patterns.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Event represents a file change detected by the watcher.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher monitors the directories holding matching files, so files that
// are rotated or created after startup are picked up too. Only events for
// paths matching one of the patterns are forwarded.
type Watcher struct {
	fsw      *fsnotify.Watcher
	Events   chan Event
	patterns []string
	paths    []string
	dirs     []string
	log      *zap.Logger
}

// New creates a Watcher for the given glob patterns. Patterns are expanded
// at startup; a pattern that matches nothing is logged and skipped.
func New(patterns []string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fs watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		Events: make(chan Event, 256),
		log:    log,
	}

	dirs := make(map[string]struct{})
	for _, pattern := range patterns {
		absPattern, err := filepath.Abs(pattern)
		if err != nil {
			log.Warn("invalid pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		w.patterns = append(w.patterns, filepath.ToSlash(absPattern))

		matches, err := expandGlob(absPattern)
		if err != nil {
			log.Warn("failed to expand pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(matches) == 0 {
			log.Warn("pattern matched no files", zap.String("pattern", pattern))
		}
		for _, m := range matches {
			w.paths = append(w.paths, m)
			dirs[filepath.Dir(m)] = struct{}{}
		}
	}

	for d := range dirs {
		if err := fsw.Add(d); err != nil {
			log.Warn("cannot watch directory", zap.String("dir", d), zap.Error(err))
			continue
		}
		w.dirs = append(w.dirs, d)
	}
	sort.Strings(w.paths)
	sort.Strings(w.dirs)
	log.Info("watching", zap.Int("files", len(w.paths)), zap.Int("dirs", len(w.dirs)))
	return w, nil
}

// Start begins listening for file events. It blocks until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.Events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.Matches(ev.Name) {
				continue
			}
			// Forward relevant events (write, create, remove, rename).
			switch {
			case ev.Op&fsnotify.Write != 0,
				ev.Op&fsnotify.Create != 0,
				ev.Op&fsnotify.Remove != 0,
				ev.Op&fsnotify.Rename != 0:
				select {
				case w.Events <- Event{Path: ev.Name, Op: ev.Op}:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", zap.Error(err))
		}
	}
}

// Matches reports whether path is selected by one of the patterns.
func (w *Watcher) Matches(path string) bool {
	p := filepath.ToSlash(path)
	for _, pattern := range w.patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// Paths returns the files matched at startup.
func (w *Watcher) Paths() []string {
	return w.paths
}

// Dirs returns the directories being watched.
func (w *Watcher) Dirs() []string {
	return w.dirs
}

// expandGlob resolves a glob pattern to matching file paths.
// Supports recursive patterns like /var/log/**/*.log via doublestar.
func expandGlob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
}
