package deleter

import (
	"context"
	"errors"
	"testing"

	"github.com/agentworkforce/gtmsync/internal/snapshot"
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
	"github.com/google/go-cmp/cmp"
)

const testWorkspace = "accounts/1/containers/2/workspaces/3"

type fakeClient struct {
	tagmanager.Client
	objects   map[tagmanager.Kind][]tagmanager.Object
	builtIns  []tagmanager.Object
	deleted   []string
	reverted  []string
	deleteErr map[string]error
}

func (c *fakeClient) List(_ context.Context, kind tagmanager.Kind, _ string) ([]tagmanager.Object, error) {
	return c.objects[kind], nil
}

func (c *fakeClient) Delete(_ context.Context, objectPath string) error {
	if err := c.deleteErr[objectPath]; err != nil {
		return err
	}
	c.deleted = append(c.deleted, objectPath)
	return nil
}

func (c *fakeClient) ListBuiltInVariables(_ context.Context, _ string) ([]tagmanager.Object, error) {
	return c.builtIns, nil
}

func (c *fakeClient) RevertBuiltInVariable(_ context.Context, workspacePath, variableType string) error {
	if workspacePath != testWorkspace {
		return errors.New("unexpected workspace " + workspacePath)
	}
	c.reverted = append(c.reverted, variableType)
	return nil
}

func tagPath(id string) string {
	return testWorkspace + "/tags/" + id
}

func saveCollection(t *testing.T, store snapshot.Store, collection string, objects ...tagmanager.Object) {
	t.Helper()
	if err := store.Save(context.Background(), collection, objects); err != nil {
		t.Fatalf("seed %s failed: %v", collection, err)
	}
}

func TestDeleteRemovesRemoteAndLocalObjects(t *testing.T) {
	client := &fakeClient{objects: map[tagmanager.Kind][]tagmanager.Object{
		tagmanager.KindTag: {
			{"name": "T1", "tagId": "7", "path": tagPath("7")},
			{"name": "T2", "tagId": "8", "path": tagPath("8")},
		},
	}}
	store := snapshot.NewMemoryStore()
	saveCollection(t, store, "tags", tagmanager.Object{"name": "T1", "tagId": "7"}, tagmanager.Object{"name": "T2"})

	summary, err := Delete(context.Background(), Options{Client: client, WorkspacePath: "/" + testWorkspace + "/", Store: store}, tagmanager.KindTag, []string{"T1"})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if diff := cmp.Diff([]string{tagPath("7")}, client.deleted); diff != "" {
		t.Fatalf("unexpected deletes (-want +got):\n%s", diff)
	}
	if summary.Pruned != 1 || len(summary.Removed) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	tags, _, _ := store.Load(context.Background(), "tags")
	if len(tags) != 1 || tags[0].Name() != "T2" {
		t.Fatalf("expected only T2 to stay in the snapshot, got %v", tags)
	}
}

func TestDeleteReportsMissingNamesAndContinues(t *testing.T) {
	client := &fakeClient{objects: map[tagmanager.Kind][]tagmanager.Object{
		tagmanager.KindTag: {{"name": "T1", "tagId": "7", "path": tagPath("7")}},
	}}

	summary, err := Delete(context.Background(), Options{Client: client, WorkspacePath: testWorkspace}, tagmanager.KindTag, []string{"Ghost", "T1"})
	if !errors.Is(err, tagmanager.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if diff := cmp.Diff([]string{"Ghost"}, summary.Missing); diff != "" {
		t.Fatalf("unexpected missing (-want +got):\n%s", diff)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected T1 to be deleted despite the missing name, got %v", client.deleted)
	}
}

func TestDeleteTreatsRemoteNotFoundAsAlreadyDeleted(t *testing.T) {
	client := &fakeClient{
		objects: map[tagmanager.Kind][]tagmanager.Object{
			tagmanager.KindTag: {{"name": "T1", "tagId": "7", "path": tagPath("7")}},
		},
		deleteErr: map[string]error{tagPath("7"): &tagmanager.HTTPError{StatusCode: 404}},
	}
	summary, err := Delete(context.Background(), Options{Client: client, WorkspacePath: testWorkspace}, tagmanager.KindTag, []string{"T1"})
	if err != nil {
		t.Fatalf("expected a vanished object to count as deleted, got %v", err)
	}
	if len(summary.Removed) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestDeleteStopsOnRemoteError(t *testing.T) {
	client := &fakeClient{
		objects: map[tagmanager.Kind][]tagmanager.Object{
			tagmanager.KindTag: {{"name": "T1", "tagId": "7", "path": tagPath("7")}},
		},
		deleteErr: map[string]error{tagPath("7"): &tagmanager.HTTPError{StatusCode: 403, Message: "forbidden"}},
	}
	store := snapshot.NewMemoryStore()
	saveCollection(t, store, "tags", tagmanager.Object{"name": "T1", "tagId": "7"})

	if _, err := Delete(context.Background(), Options{Client: client, WorkspacePath: testWorkspace, Store: store}, tagmanager.KindTag, []string{"T1"}); err == nil {
		t.Fatalf("expected delete error")
	}
	tags, _, _ := store.Load(context.Background(), "tags")
	if len(tags) != 1 {
		t.Fatalf("expected snapshot to be left alone after a failed delete, got %v", tags)
	}
}

func TestRevertBuiltIns(t *testing.T) {
	client := &fakeClient{builtIns: []tagmanager.Object{{"type": "pageUrl"}, {"type": "clickText"}}}
	store := snapshot.NewMemoryStore()
	saveCollection(t, store, "built_in_variables", tagmanager.Object{"type": "pageUrl"}, tagmanager.Object{"type": "clickText"})

	summary, err := RevertBuiltIns(context.Background(), Options{Client: client, WorkspacePath: testWorkspace, Store: store}, []string{"pageUrl", "event"})
	if !errors.Is(err, tagmanager.ErrNotFound) {
		t.Fatalf("expected not found for event, got %v", err)
	}
	if diff := cmp.Diff([]string{"pageUrl"}, client.reverted); diff != "" {
		t.Fatalf("unexpected reverts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"event"}, summary.Missing); diff != "" {
		t.Fatalf("unexpected missing (-want +got):\n%s", diff)
	}
	builtIns, _, _ := store.Load(context.Background(), "built_in_variables")
	if len(builtIns) != 1 || builtIns[0].String("type") != "clickText" {
		t.Fatalf("expected only clickText to stay in the snapshot, got %v", builtIns)
	}
}

func TestOptionsAreValidated(t *testing.T) {
	client := &fakeClient{}
	if _, err := Delete(context.Background(), Options{WorkspacePath: testWorkspace}, tagmanager.KindTag, []string{"T1"}); err == nil {
		t.Fatalf("expected missing client error")
	}
	if _, err := Delete(context.Background(), Options{Client: client}, tagmanager.KindTag, []string{"T1"}); err == nil {
		t.Fatalf("expected missing workspace error")
	}
	if _, err := Delete(context.Background(), Options{Client: client, WorkspacePath: testWorkspace}, tagmanager.Kind("folder"), []string{"T1"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := RevertBuiltIns(context.Background(), Options{Client: client, WorkspacePath: testWorkspace}, nil); err == nil {
		t.Fatalf("expected empty type list error")
	}
}
