package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

// fakeClient is an in-memory workspace that assigns sequential IDs from 101.
type fakeClient struct {
	objects  map[tagmanager.Kind][]tagmanager.Object
	builtIns []tagmanager.Object
	nextID   int
	revision int

	creates        []string
	createBodies   map[string]tagmanager.Object
	updates        []string
	builtInEnables [][]string

	failCreate     map[string]error
	failCreateOnce map[string]error
	failUpdate     map[string]error
	failBuiltIns   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects:        map[tagmanager.Kind][]tagmanager.Object{},
		nextID:         100,
		createBodies:   map[string]tagmanager.Object{},
		failCreate:     map[string]error{},
		failCreateOnce: map[string]error{},
		failUpdate:     map[string]error{},
	}
}

func refKey(kind tagmanager.Kind, name string) string {
	return string(kind) + ":" + name
}

// seed stores remote objects as they would come back from the API.
func (c *fakeClient) seed(kind tagmanager.Kind, objects ...tagmanager.Object) {
	for _, obj := range objects {
		stored := obj.Clone()
		if stored.ID(kind) == "" {
			c.nextID++
			stored[kind.IDField()] = strconv.Itoa(c.nextID)
		}
		if stored.Path() == "" {
			stored["path"] = fmt.Sprintf("accounts/1/containers/2/workspaces/3/%s/%s", kind.Collection(), stored.ID(kind))
		}
		if stored.Fingerprint() == "" {
			c.revision++
			stored["fingerprint"] = strconv.Itoa(1000 + c.revision)
		}
		c.objects[kind] = append(c.objects[kind], stored)
	}
}

func (c *fakeClient) writes() int {
	return len(c.creates) + len(c.updates) + len(c.builtInEnables)
}

func (c *fakeClient) List(_ context.Context, kind tagmanager.Kind, _ string) ([]tagmanager.Object, error) {
	out := make([]tagmanager.Object, 0, len(c.objects[kind]))
	for _, obj := range c.objects[kind] {
		out = append(out, obj.Clone())
	}
	return out, nil
}

func (c *fakeClient) Create(_ context.Context, kind tagmanager.Kind, workspacePath string, body tagmanager.Object) (tagmanager.Object, error) {
	key := refKey(kind, body.Name())
	if err, ok := c.failCreateOnce[key]; ok {
		delete(c.failCreateOnce, key)
		return nil, err
	}
	if err, ok := c.failCreate[key]; ok {
		return nil, err
	}
	for _, field := range serverFields {
		if _, ok := body[field]; ok {
			return nil, fmt.Errorf("create body carries server field %s", field)
		}
	}
	c.creates = append(c.creates, key)
	c.createBodies[key] = body.Clone()

	c.nextID++
	c.revision++
	created := body.Clone()
	id := strconv.Itoa(c.nextID)
	created[kind.IDField()] = id
	created["path"] = fmt.Sprintf("%s/%s/%s", workspacePath, kind.Collection(), id)
	created["fingerprint"] = strconv.Itoa(1000 + c.revision)
	created["accountId"] = "1"
	c.objects[kind] = append(c.objects[kind], created)
	return created.Clone(), nil
}

func (c *fakeClient) Update(_ context.Context, kind tagmanager.Kind, objectPath string, body tagmanager.Object) (tagmanager.Object, error) {
	if err, ok := c.failUpdate[refKey(kind, body.Name())]; ok {
		return nil, err
	}
	for i, obj := range c.objects[kind] {
		if obj.Path() != objectPath {
			continue
		}
		c.updates = append(c.updates, refKey(kind, body.Name()))
		c.revision++
		updated := body.Clone()
		updated[kind.IDField()] = obj.ID(kind)
		updated["path"] = objectPath
		updated["fingerprint"] = strconv.Itoa(1000 + c.revision)
		c.objects[kind][i] = updated
		return updated.Clone(), nil
	}
	return nil, tagmanager.ErrNotFound
}

func (c *fakeClient) Delete(_ context.Context, objectPath string) error {
	return errors.New("not supported")
}

func (c *fakeClient) ListBuiltInVariables(_ context.Context, _ string) ([]tagmanager.Object, error) {
	out := make([]tagmanager.Object, 0, len(c.builtIns))
	for _, obj := range c.builtIns {
		out = append(out, obj.Clone())
	}
	return out, nil
}

func (c *fakeClient) CreateBuiltInVariables(_ context.Context, _ string, types []string) ([]tagmanager.Object, error) {
	if c.failBuiltIns != nil {
		return nil, c.failBuiltIns
	}
	c.builtInEnables = append(c.builtInEnables, append([]string(nil), types...))
	var out []tagmanager.Object
	for _, builtInType := range types {
		obj := tagmanager.Object{"type": builtInType, "name": builtInType}
		c.builtIns = append(c.builtIns, obj)
		out = append(out, obj.Clone())
	}
	return out, nil
}

func (c *fakeClient) RevertBuiltInVariable(_ context.Context, _, _ string) error {
	return errors.New("not supported")
}

func (c *fakeClient) GetContainer(_ context.Context, _ string) (tagmanager.Container, error) {
	return tagmanager.Container{PublicID: "GTM-TEST"}, nil
}

func mustObjects(t *testing.T, raw string) []tagmanager.Object {
	t.Helper()
	objects, err := tagmanager.DecodeObjects([]byte(raw))
	if err != nil {
		t.Fatalf("decode fixture failed: %v", err)
	}
	return objects
}

func seedStore(t *testing.T, collections map[string]string) *snapshot.MemoryStore {
	t.Helper()
	store := snapshot.NewMemoryStore()
	for collection, raw := range collections {
		if err := store.Save(context.Background(), collection, mustObjects(t, raw)); err != nil {
			t.Fatalf("seed %s failed: %v", collection, err)
		}
	}
	return store
}

func loadCollection(t *testing.T, store snapshot.Store, collection string) []tagmanager.Object {
	t.Helper()
	objects, ok, err := store.Load(context.Background(), collection)
	if err != nil {
		t.Fatalf("load %s failed: %v", collection, err)
	}
	if !ok {
		t.Fatalf("expected %s to be saved", collection)
	}
	return objects
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) record(level, format string, args ...any) {
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(format string, args ...any) { l.record("DEBU", format, args...) }
func (l *recordingLogger) Infof(format string, args ...any)  { l.record("INFO", format, args...) }
func (l *recordingLogger) Warnf(format string, args ...any)  { l.record("WARN", format, args...) }
func (l *recordingLogger) Errorf(format string, args ...any) { l.record("ERRO", format, args...) }

func (l *recordingLogger) contains(substr string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
