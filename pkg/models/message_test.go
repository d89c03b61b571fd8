package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleTool, "tool"},
		{RoleSystem, "system"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestNewMessage_StampsSchemaVersion(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")

	if msg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", msg.SchemaVersion, CurrentSchemaVersion)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		SchemaVersion: CurrentSchemaVersion,
		Role:          RoleAssistant,
		Content:       "",
		ToolCalls:     []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
		Metadata:      map[string]any{"source": "test"},
		CreatedAt:     now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.SchemaVersion != original.SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", decoded.SchemaVersion, original.SchemaVersion)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role = %v, want %v", decoded.Role, original.Role)
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
	if decoded.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls[0].Name = %q, want %q", decoded.ToolCalls[0].Name, "search")
	}
}

func TestMessage_ToolRoundTrip(t *testing.T) {
	toolMsg := Message{
		SchemaVersion: CurrentSchemaVersion,
		Role:          RoleTool,
		ToolResults: []ToolResult{
			{ToolCallID: "tc-1", Success: true, Output: json.RawMessage(`{"ok":true}`)},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(toolMsg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(decoded.ToolResults) != 1 {
		t.Fatalf("ToolResults length = %d, want 1", len(decoded.ToolResults))
	}
	if !decoded.ToolResults[0].Success {
		t.Error("ToolResults[0].Success should be true")
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "tc-123",
		Name:  "web_search",
		Input: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Success: true, Output: json.RawMessage(`"ok"`)}
	if tr.ToolCallID != "tc-123" {
		t.Errorf("ToolCallID = %q, want %q", tr.ToolCallID, "tc-123")
	}
	if !tr.Success {
		t.Error("Success should be true")
	}

	trError := ToolResult{ToolCallID: "tc-456", Success: false, Error: "boom"}
	if trError.Success {
		t.Error("Success should be false")
	}
	if trError.Error != "boom" {
		t.Errorf("Error = %q, want %q", trError.Error, "boom")
	}
}
