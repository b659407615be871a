package tagmanager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Object is a configuration object in the shape the remote API returns it.
// Unknown fields are carried through untouched.
type Object map[string]any

type Kind string

const (
	KindVariable Kind = "variable"
	KindTrigger  Kind = "trigger"
	KindTag      Kind = "tag"
)

// Kinds lists the configuration kinds in dependency order: triggers may
// reference variables and tags may reference triggers, never the reverse.
var Kinds = []Kind{KindVariable, KindTrigger, KindTag}

type kindSpec struct {
	collection string
	listKey    string
	idField    string
}

var kindSpecs = map[Kind]kindSpec{
	KindVariable: {collection: "variables", listKey: "variable", idField: "variableId"},
	KindTrigger:  {collection: "triggers", listKey: "trigger", idField: "triggerId"},
	KindTag:      {collection: "tags", listKey: "tag", idField: "tagId"},
}

const (
	BuiltInVariablesCollection = "built_in_variables"
	builtInVariablesListKey    = "builtInVariable"
)

func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// ParseKind accepts a kind or its collection name, e.g. "tag" or "tags".
func ParseKind(raw string) (Kind, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for kind, spec := range kindSpecs {
		if raw == string(kind) || raw == spec.collection {
			return kind, true
		}
	}
	return "", false
}

// Collection is the URL segment and local collection name, e.g. "variables".
func (k Kind) Collection() string {
	return kindSpecs[k].collection
}

// IDField is the kind-specific field holding the remote ID, e.g. "variableId".
func (k Kind) IDField() string {
	return kindSpecs[k].idField
}

func (k Kind) listKey() string {
	return kindSpecs[k].listKey
}

func (o Object) String(field string) string {
	return stringValue(o[field])
}

func (o Object) Name() string {
	return o.String("name")
}

func (o Object) Path() string {
	return o.String("path")
}

func (o Object) Fingerprint() string {
	return o.String("fingerprint")
}

func (o Object) ID(kind Kind) string {
	return o.String(kind.IDField())
}

// Merge copies every top-level field of src into o, replacing existing values.
func (o Object) Merge(src Object) {
	for key, value := range src {
		o[key] = value
	}
}

// Clone returns a deep copy of o.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return cloneValue(map[string]any(o)).(map[string]any)
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case Object:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// stringValue renders scalar reference values (names or IDs) as strings.
// JSON numbers keep their literal form.
func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// StringValue is the exported form of the scalar rendering used for IDs.
func StringValue(value any) string {
	return stringValue(value)
}

// DecodeObjects decodes a JSON array of objects, keeping numbers as
// json.Number so they round-trip byte for byte.
func DecodeObjects(data []byte) ([]Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			item = map[string]any{}
		}
		out = append(out, Object(item))
	}
	return out, nil
}

func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// Workspace identifies a remote workspace.
type Workspace struct {
	AccountID   string
	ContainerID string
	WorkspaceID string
}

var workspaceURLPattern = regexp.MustCompile(`accounts/(\d+)/containers/(\d+)/workspaces/(\d+)`)

// ParseWorkspaceURL extracts the workspace coordinates from a Tag Manager UI
// URL such as https://tagmanager.google.com/#/container/accounts/1/containers/2/workspaces/3.
func ParseWorkspaceURL(raw string) (Workspace, bool) {
	match := workspaceURLPattern.FindStringSubmatch(raw)
	if match == nil {
		return Workspace{}, false
	}
	return Workspace{AccountID: match[1], ContainerID: match[2], WorkspaceID: match[3]}, true
}

func (w Workspace) Complete() bool {
	return strings.TrimSpace(w.AccountID) != "" &&
		strings.TrimSpace(w.ContainerID) != "" &&
		strings.TrimSpace(w.WorkspaceID) != ""
}

func (w Workspace) ContainerPath() string {
	return fmt.Sprintf("accounts/%s/containers/%s", w.AccountID, w.ContainerID)
}

func (w Workspace) Path() string {
	return fmt.Sprintf("%s/workspaces/%s", w.ContainerPath(), w.WorkspaceID)
}

// Container is the subset of the container resource the CLI uses.
type Container struct {
	Path        string `json:"path"`
	ContainerID string `json:"containerId"`
	Name        string `json:"name"`
	PublicID    string `json:"publicId"`
}
