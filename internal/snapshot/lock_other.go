//go:build !unix

package snapshot

import "os"

// Lock is a no-op outside unix; advisory flock is not available.
func Lock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirLock{}, nil
}

func (l *DirLock) Unlock() error {
	return nil
}
