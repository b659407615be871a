// Package watch re-runs a callback when snapshot files change on disk.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type Options struct {
	Dir string
	// Files are the base names that trigger a run; other files in Dir are
	// ignored.
	Files    []string
	Debounce time.Duration
	Logger   Logger
}

// Watcher fires only when the content of a watched file differs from what
// it was after the previous run, so a callback writing the files back does
// not trigger itself.
type Watcher struct {
	dir      string
	files    map[string]bool
	debounce time.Duration
	logger   Logger
	notify   *fsnotify.Watcher
	hashes   map[string]string
}

// New starts watching opts.Dir immediately; events that arrive before Run
// are buffered.
func New(opts Options) (*Watcher, error) {
	dir := filepath.Clean(strings.TrimSpace(opts.Dir))
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	files := make(map[string]bool, len(opts.Files))
	for _, name := range opts.Files {
		files[filepath.Base(name)] = true
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory rather than the files: atomic saves replace them.
	if err := notify.Add(dir); err != nil {
		_ = notify.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		dir:      dir,
		files:    files,
		debounce: debounce,
		logger:   opts.Logger,
		notify:   notify,
	}
	if err := w.Record(); err != nil {
		_ = notify.Close()
		return nil, err
	}
	return w, nil
}

// Record remembers the current content of every watched file.
func (w *Watcher) Record() error {
	hashes, err := w.hashFiles()
	if err != nil {
		return err
	}
	w.hashes = hashes
	return nil
}

// Changed reports whether any watched file differs from the last Record.
func (w *Watcher) Changed() (bool, error) {
	hashes, err := w.hashFiles()
	if err != nil {
		return false, err
	}
	for name, hash := range hashes {
		if w.hashes[name] != hash {
			return true, nil
		}
	}
	return false, nil
}

// Run blocks until ctx is done, calling fn after each debounced change.
// Errors from fn are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer w.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.notify.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Base(event.Name)] || event.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}
			w.errorf("watch: %v", err)
		case <-fire:
			fire = nil
			changed, err := w.Changed()
			if err != nil {
				w.errorf("watch: %v", err)
				continue
			}
			if !changed {
				continue
			}
			w.infof("change detected in %s", w.dir)
			if err := fn(ctx); err != nil {
				w.errorf("run after change failed: %v", err)
			}
			if err := w.Record(); err != nil {
				w.errorf("watch: %v", err)
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.notify.Close()
}

func (w *Watcher) hashFiles() (map[string]string, error) {
	hashes := make(map[string]string, len(w.files))
	for name := range w.files {
		data, err := os.ReadFile(filepath.Join(w.dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				hashes[name] = ""
				continue
			}
			return nil, err
		}
		hashes[name] = hashBytes(data)
	}
	return hashes, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (w *Watcher) infof(format string, args ...any) {
	if w.logger != nil {
		w.logger.Infof(format, args...)
	}
}

func (w *Watcher) errorf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Errorf(format, args...)
	}
}
