// Package snapshot persists configuration collections locally. The directory
// store writes the on-disk format shared with exports: one JSON array per
// collection, e.g. tags.json.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Collections are the persisted collection names, in export order.
var Collections = []string{
	tagmanager.KindTag.Collection(),
	tagmanager.KindTrigger.Collection(),
	tagmanager.KindVariable.Collection(),
	tagmanager.BuiltInVariablesCollection,
}

// Store loads and saves whole collections. Load reports false when the
// collection has never been saved.
type Store interface {
	Load(ctx context.Context, collection string) ([]tagmanager.Object, bool, error)
	Save(ctx context.Context, collection string, objects []tagmanager.Object) error
}

type storeCloser interface {
	Close() error
}

// Close releases resources held by stores that keep connections open.
func Close(store Store) error {
	if closer, ok := store.(storeCloser); ok {
		return closer.Close()
	}
	return nil
}

// FileName returns the file a collection is stored in inside a directory store.
func FileName(collection string) string {
	return collection + ".json"
}

type DirStore struct {
	Dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{Dir: filepath.Clean(strings.TrimSpace(dir))}
}

func (s *DirStore) Path(collection string) string {
	return filepath.Join(s.Dir, FileName(collection))
}

func (s *DirStore) Load(_ context.Context, collection string) ([]tagmanager.Object, bool, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, false, ErrInvalidInput
	}
	data, err := os.ReadFile(s.Path(collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	objects, err := tagmanager.DecodeObjects(data)
	if err != nil {
		return nil, false, &DecodeError{Path: s.Path(collection), Err: err}
	}
	return objects, true, nil
}

func (s *DirStore) Save(_ context.Context, collection string, objects []tagmanager.Object) error {
	if strings.TrimSpace(collection) == "" {
		return ErrInvalidInput
	}
	data, err := EncodeObjects(objects)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.Path(collection), data, 0o644)
}

type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Path + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeObjects renders a collection as a two-space indented JSON array
// without HTML escaping.
func EncodeObjects(objects []tagmanager.Object) ([]byte, error) {
	if objects == nil {
		objects = []tagmanager.Object{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(objects); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type MemoryStore struct {
	mu          sync.Mutex
	collections map[string][]tagmanager.Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string][]tagmanager.Object{}}
}

func (s *MemoryStore) Load(_ context.Context, collection string) ([]tagmanager.Object, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.collections[collection]
	if !ok {
		return nil, false, nil
	}
	return cloneObjects(objects), true, nil
}

func (s *MemoryStore) Save(_ context.Context, collection string, objects []tagmanager.Object) error {
	if strings.TrimSpace(collection) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = cloneObjects(objects)
	return nil
}

func cloneObjects(objects []tagmanager.Object) []tagmanager.Object {
	out := make([]tagmanager.Object, len(objects))
	for i, obj := range objects {
		out[i] = obj.Clone()
	}
	return out
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
