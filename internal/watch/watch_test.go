package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, debounce time.Duration) (*Watcher, <-chan struct{}) {
	t.Helper()
	w, err := New(Options{Dir: dir, Files: []string{"tags.json", "triggers.json"}, Debounce: debounce})
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	calls := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) error {
			calls <- struct{}{}
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, calls
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func expectCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected callback after change")
	}
}

func expectNoCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
		t.Fatalf("expected no callback")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherRunsOnContentChange(t *testing.T) {
	dir := t.TempDir()
	tags := filepath.Join(dir, "tags.json")
	writeFile(t, tags, `[]`)
	_, calls := startWatcher(t, dir, 20*time.Millisecond)

	writeFile(t, tags, `[{"name":"T1"}]`)
	expectCall(t, calls)

	writeFile(t, tags, `[{"name":"T1"}]`)
	expectNoCall(t, calls)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	_, calls := startWatcher(t, dir, 20*time.Millisecond)

	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	writeFile(t, filepath.Join(dir, ".gtmsync.lock"), "")
	expectNoCall(t, calls)

	writeFile(t, filepath.Join(dir, "triggers.json"), `[]`)
	expectCall(t, calls)
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	tags := filepath.Join(dir, "tags.json")
	_, calls := startWatcher(t, dir, 200*time.Millisecond)

	for i := 0; i < 5; i++ {
		writeFile(t, tags, `[{"name":"T`+string(rune('0'+i))+`"}]`)
	}
	expectCall(t, calls)
	expectNoCall(t, calls)
}

type levelLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *levelLogger) Infof(string, ...any) {}

func (l *levelLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *levelLogger) errorLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func TestWatcherLogsCallbackErrorsAndKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	tags := filepath.Join(dir, "tags.json")
	logger := &levelLogger{}
	w, err := New(Options{Dir: dir, Files: []string{"tags.json"}, Debounce: 20 * time.Millisecond, Logger: logger})
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	calls := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) error {
			calls <- struct{}{}
			return errors.New("import failed")
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	writeFile(t, tags, `[{"name":"T1"}]`)
	expectCall(t, calls)
	writeFile(t, tags, `[{"name":"T2"}]`)
	expectCall(t, calls)

	lines := logger.errorLines()
	if len(lines) == 0 || !strings.Contains(lines[0], "import failed") {
		t.Fatalf("expected callback error at error level, got %v", lines)
	}
}

func TestChangedComparesAgainstRecordedContent(t *testing.T) {
	dir := t.TempDir()
	tags := filepath.Join(dir, "tags.json")
	writeFile(t, tags, `[]`)
	w, err := New(Options{Dir: dir, Files: []string{"tags.json"}})
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	if changed, err := w.Changed(); err != nil || changed {
		t.Fatalf("expected no change right after New, got changed=%v err=%v", changed, err)
	}
	writeFile(t, tags, `[{"name":"T1"}]`)
	if changed, _ := w.Changed(); !changed {
		t.Fatalf("expected change after write")
	}
	if err := w.Record(); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if changed, _ := w.Changed(); changed {
		t.Fatalf("expected no change after record")
	}
	if err := os.Remove(tags); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if changed, _ := w.Changed(); !changed {
		t.Fatalf("expected removal to count as a change")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Files: []string{"tags.json"}}); err == nil {
		t.Fatalf("expected missing directory error")
	}
	if _, err := New(Options{Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected missing files error")
	}
	if _, err := New(Options{Dir: filepath.Join(t.TempDir(), "missing"), Files: []string{"tags.json"}}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
