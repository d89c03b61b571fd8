package policy

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache avoids recompiling a tool's (typically static) parameter
// schema on every registration in a long-lived process that re-registers
// tools (e.g. hot-reloading a plugin).
var schemaCache sync.Map

// ValidateToolSchema compiles a tool's declared parameter schema as a
// JSON Schema document, returning an error if it is not well-formed. §3's
// Tool Schema contract requires `parameters` to be "a JSON-schema object";
// this is the check that catches a malformed one before it ever reaches
// an LLM provider's tool-calling API.
func ValidateToolSchema(toolName string, schema []byte) error {
	key := toolName + ":" + string(schema)
	if _, ok := schemaCache.Load(key); ok {
		return nil
	}

	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("policy: tool %q: invalid parameter schema: %w", toolName, err)
	}
	schemaCache.Store(key, compiled)
	return nil
}
