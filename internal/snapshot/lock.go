package snapshot

import (
	"errors"
	"os"
)

const LockFileName = ".gtmsync.lock"

var ErrLocked = errors.New("snapshot directory is locked by another run")

type DirLock struct {
	file *os.File
}
