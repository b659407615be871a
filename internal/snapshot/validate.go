package snapshot

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/agentworkforce/gtmsync/internal/tagmanager"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://gtmsync.local/schemas/"

type ValidationError struct {
	Collection string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Collection, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validator checks collections against the embedded JSON schemas before an
// import touches the remote workspace.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for _, collection := range Collections {
		data, err := schemaFS.ReadFile("schemas/" + FileName(collection))
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", collection, err)
		}
		if err := compiler.AddResource(schemaBaseURL+FileName(collection), doc); err != nil {
			return nil, err
		}
	}
	schemas := make(map[string]*jsonschema.Schema, len(Collections))
	for _, collection := range Collections {
		schema, err := compiler.Compile(schemaBaseURL + FileName(collection))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", collection, err)
		}
		schemas[collection] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// Validate returns a *ValidationError when objects do not match the schema
// of collection. Unknown collections are accepted.
func (v *Validator) Validate(collection string, objects []tagmanager.Object) error {
	schema, ok := v.schemas[collection]
	if !ok {
		return nil
	}
	instance := make([]any, len(objects))
	for i, obj := range objects {
		instance[i] = map[string]any(obj)
	}
	if err := schema.Validate(instance); err != nil {
		return &ValidationError{Collection: collection, Err: err}
	}
	return nil
}
