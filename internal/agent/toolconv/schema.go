package toolconv

import "encoding/json"

// emptyObjectSchema is the fallback schema used when a tool's declared
// schema fails to decode — conversion degrades to "accepts anything"
// rather than dropping the tool or failing the whole batch.
func emptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// decodeObjectSchema unmarshals a tool's raw JSON schema into a map,
// falling back to emptyObjectSchema on malformed input.
func decodeObjectSchema(raw json.RawMessage) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return emptyObjectSchema()
	}
	return schema
}
