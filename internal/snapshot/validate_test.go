package snapshot

import (
	"errors"
	"testing"

	"github.com/agentworkforce/gtmsync/internal/tagmanager"
)

func TestValidatorAcceptsWellFormedCollections(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator failed: %v", err)
	}
	tags, err := tagmanager.DecodeObjects([]byte(`[
		{"name":"T1","type":"html","firingTriggerId":["Trig-A", 12]},
		{"name":"T2","setupTag":[{"tagName":"T1","stopOnSetupFailure":true}],"teardownTag":{"tagName":"T1"}}
	]`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if err := validator.Validate("tags", tags); err != nil {
		t.Fatalf("expected tags to validate, got %v", err)
	}
	builtIns := []tagmanager.Object{{"type": "pageUrl", "name": "Page URL"}}
	if err := validator.Validate("built_in_variables", builtIns); err != nil {
		t.Fatalf("expected built-ins to validate, got %v", err)
	}
	if err := validator.Validate("variables", nil); err != nil {
		t.Fatalf("expected empty collection to validate, got %v", err)
	}
}

func TestValidatorRejectsMalformedCollections(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator failed: %v", err)
	}
	cases := []struct {
		collection string
		objects    []tagmanager.Object
	}{
		{collection: "variables", objects: []tagmanager.Object{{"type": "c"}}},
		{collection: "triggers", objects: []tagmanager.Object{{"name": ""}}},
		{collection: "tags", objects: []tagmanager.Object{{"name": "T1", "firingTriggerId": "Trig-A"}}},
		{collection: "tags", objects: []tagmanager.Object{{"name": "T1", "setupTag": []any{map[string]any{"tagName": 5.0}}}}},
		{collection: "built_in_variables", objects: []tagmanager.Object{{"name": "Page URL"}}},
	}
	for _, tc := range cases {
		err := validator.Validate(tc.collection, tc.objects)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("expected validation error for %s %v, got %v", tc.collection, tc.objects, err)
		}
		if validationErr.Collection != tc.collection {
			t.Fatalf("expected collection %s in error, got %s", tc.collection, validationErr.Collection)
		}
	}
}

func TestValidatorIgnoresUnknownCollections(t *testing.T) {
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator failed: %v", err)
	}
	if err := validator.Validate("folders", []tagmanager.Object{{}}); err != nil {
		t.Fatalf("expected unknown collection to pass, got %v", err)
	}
}
