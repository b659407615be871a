package importer

import (
	"github.com/agentworkforce/gtmsync/internal/tagmanager"
	"github.com/google/go-cmp/cmp"
)

// serverFields are assigned by the remote service and never part of an
// object's content.
var serverFields = []string{
	"path",
	"accountId",
	"containerId",
	"workspaceId",
	"fingerprint",
	"tagId",
	"triggerId",
	"variableId",
	"parentFolderId",
	"tagManagerUrl",
	"monitoringMetadata",
}

// Normalize returns a deep copy of obj without server-assigned fields.
func Normalize(obj tagmanager.Object) tagmanager.Object {
	out := obj.Clone()
	if out == nil {
		out = tagmanager.Object{}
	}
	for _, field := range serverFields {
		delete(out, field)
	}
	return out
}

// Equal reports whether a and b have the same content once normalized.
func Equal(a, b tagmanager.Object) bool {
	return cmp.Equal(Normalize(a), Normalize(b))
}

// Diff renders the content difference between a and b (-a +b).
func Diff(a, b tagmanager.Object) string {
	return cmp.Diff(Normalize(a), Normalize(b))
}
