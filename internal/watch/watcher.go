package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/incbuild/internal/logfields"
)

// Watcher watches source roots recursively and reports which targets a change
// belongs to. Directories created later are added as they appear.
type Watcher struct {
	watcher *fsnotify.Watcher
	// roots maps an absolute source root to the targets reading it.
	roots  map[string][]string
	notify func(target, path string)
	logger *slog.Logger
}

// NewWatcher watches every root. notify is called from Run's goroutine.
func NewWatcher(roots map[string][]string, notify func(target, path string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{watcher: fw, roots: map[string][]string{}, notify: notify, logger: logger}
	for root, targets := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to resolve source root %s: %w", root, err)
		}
		w.roots[abs] = targets
		if err := w.addTree(abs); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// Run dispatches file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Overflows lose events; the periodic rescan catches up.
			w.logger.Warn("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod || strings.Contains(filepath.ToSlash(event.Name), "/.git/") {
		return
	}
	if event.Has(fsnotify.Create) {
		if dir, err := isDir(event.Name); err == nil && dir {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", logfields.Path(event.Name), logfields.Error(err))
			}
		}
	}
	for _, target := range w.targetsFor(event.Name) {
		w.logger.Debug("Source change detected", logfields.Target(target), logfields.Path(event.Name),
			slog.String("op", event.Op.String()))
		w.notify(target, event.Name)
	}
}

func (w *Watcher) targetsFor(p string) []string {
	var out []string
	for root, targets := range w.roots {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, targets...)
	}
	return out
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func isDir(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
