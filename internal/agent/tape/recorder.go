package tape

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bashmyhed/agentcore/internal/agent"
	"github.com/bashmyhed/agentcore/pkg/models"
)

// Recorder wraps a provider and tools to record all interactions.
type Recorder struct {
	provider agent.LLMProvider
	tape     *Tape
	mu       sync.Mutex
	turnIdx  int
}

// NewRecorder creates a new recorder wrapping the given provider.
func NewRecorder(provider agent.LLMProvider) *Recorder {
	tape := NewTape()
	tape.Metadata["provider"] = provider.Name()

	return &Recorder{
		provider: provider,
		tape:     tape,
		turnIdx:  0,
	}
}

// WithModel sets the model in the tape metadata.
func (r *Recorder) WithModel(model string) *Recorder {
	r.tape.Model = model
	return r
}

// WithSystemPrompt sets the system prompt in the tape.
func (r *Recorder) WithSystemPrompt(system string) *Recorder {
	r.tape.SystemPrompt = system
	return r
}

// Complete implements LLMProvider, recording the interaction.
func (r *Recorder) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	r.mu.Lock()
	turnIndex := r.turnIdx
	r.turnIdx++
	r.mu.Unlock()

	start := time.Now()

	// Call the underlying provider
	upstream, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.CompletionChunk, 10)
	go r.recordTurn(turnIndex, req, start, upstream, out)

	return out, nil
}

// recordTurn forwards every chunk from upstream to out, accumulating them
// into a Turn that it appends to the tape once upstream closes.
func (r *Recorder) recordTurn(turnIndex int, req *agent.CompletionRequest, start time.Time, upstream <-chan *agent.CompletionChunk, out chan<- *agent.CompletionChunk) {
	defer close(out)

	turn := Turn{
		Index:   turnIndex,
		Request: req,
		Chunks:  []agent.CompletionChunk{},
	}

	var sawToolCall bool
	for chunk := range upstream {
		turn.Chunks = append(turn.Chunks, *chunk)
		turn.Text += chunk.Text
		if chunk.ToolCall != nil {
			sawToolCall = true
		}
		out <- chunk
	}

	turn.Duration = time.Since(start)
	if sawToolCall {
		turn.StopReason = "tool_use"
	} else {
		turn.StopReason = "end_turn"
	}

	r.mu.Lock()
	r.tape.AddTurn(turn)
	r.mu.Unlock()
}

// Name implements LLMProvider.
func (r *Recorder) Name() string {
	return "recorder:" + r.provider.Name()
}

// Models implements LLMProvider.
func (r *Recorder) Models() []agent.Model {
	return r.provider.Models()
}

// SupportsTools implements LLMProvider.
func (r *Recorder) SupportsTools() bool {
	return r.provider.SupportsTools()
}

// RecordToolRun records a tool execution.
func (r *Recorder) RecordToolRun(turnIndex int, call models.ToolCall, result *agent.ToolResult, err error, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := ToolRun{
		TurnIndex: turnIndex,
		Call:      call,
		Result:    result,
		Duration:  duration,
	}
	if err != nil {
		run.Error = err.Error()
	}

	r.tape.AddToolRun(run)
}

// Tape returns the recorded tape.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape.Clone()
}

// Reset clears the recording and starts fresh.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape = NewTape()
	r.tape.Metadata["provider"] = r.provider.Name()
	r.turnIdx = 0
}

// RecordingTool wraps a tool to record executions.
type RecordingTool struct {
	tool      agent.Tool
	recorder  *Recorder
	turnIndex int
}

// WrapTool creates a recording wrapper for a tool.
func (r *Recorder) WrapTool(tool agent.Tool, turnIndex int) *RecordingTool {
	return &RecordingTool{
		tool:      tool,
		recorder:  r,
		turnIndex: turnIndex,
	}
}

// Name implements Tool.
func (t *RecordingTool) Name() string {
	return t.tool.Name()
}

// Description implements Tool.
func (t *RecordingTool) Description() string {
	return t.tool.Description()
}

// Schema implements Tool.
func (t *RecordingTool) Schema() json.RawMessage {
	return t.tool.Schema()
}

// Execute implements Tool, recording the execution.
func (t *RecordingTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	start := time.Now()

	result, err := t.tool.Execute(ctx, params)

	call := models.ToolCall{Name: t.tool.Name(), Input: params}
	t.recorder.RecordToolRun(t.turnIndex, call, result, err, time.Since(start))

	return result, err
}
