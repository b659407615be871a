//go:build unix

package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "GTM-ABC")
	first, err := Lock(dir)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if _, err := Lock(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked while held, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	second, err := Lock(dir)
	if err != nil {
		t.Fatalf("relock after release failed: %v", err)
	}
	if err := second.Unlock(); err != nil {
		t.Fatalf("second unlock failed: %v", err)
	}
	if err := second.Unlock(); err != nil {
		t.Fatalf("expected repeated unlock to be a no-op, got %v", err)
	}
}
