package policy

import "testing"

func TestValidateToolSchema_AcceptsWellFormedSchema(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"}
		},
		"required": ["path"]
	}`)
	if err := ValidateToolSchema("read_file", schema); err != nil {
		t.Fatalf("expected well-formed schema to validate, got: %v", err)
	}
}

func TestValidateToolSchema_RejectsMalformedSchema(t *testing.T) {
	schema := []byte(`{"type": "not-a-real-type"}`)
	if err := ValidateToolSchema("broken_tool", schema); err == nil {
		t.Fatal("expected an error for a schema with an invalid type keyword")
	}
}

func TestValidateToolSchema_RejectsInvalidJSON(t *testing.T) {
	schema := []byte(`{not json`)
	if err := ValidateToolSchema("broken_tool_json", schema); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestValidateToolSchema_CachesByNameAndContent(t *testing.T) {
	schema := []byte(`{"type": "object"}`)
	if err := ValidateToolSchema("cached_tool", schema); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	// Second call with identical (name, schema) should hit the cache and
	// still report success without recompiling.
	if err := ValidateToolSchema("cached_tool", schema); err != nil {
		t.Fatalf("second compile (cached): %v", err)
	}
}
