// Package context provides context management for agent conversations.
//
// This package handles:
//   - Context packing: selecting which messages to include in LLM requests
//   - Rolling summaries: compressing old history into summaries
//   - Budget management: staying within token/char limits
package context

import (
	"github.com/bashmyhed/agentcore/pkg/models"
)

// PackOptions configures how messages are packed into context.
type PackOptions struct {
	// MaxMessages is the hard cap on number of messages to include (e.g. 60).
	MaxMessages int

	// MaxChars is the approximate character budget (cheap proxy for tokens).
	// Default: 30000 (~7500 tokens at 4 chars/token).
	MaxChars int

	// MaxToolResultChars is the max chars per tool result content.
	// Longer results are truncated. Default: 6000.
	MaxToolResultChars int

	// IncludeSummary controls whether to include the rolling summary.
	IncludeSummary bool

	// SummaryMetadataKey is the metadata key marking summary messages.
	// Default: "agentcore_summary".
	SummaryMetadataKey string
}

// DefaultPackOptions returns sensible defaults for context packing.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		MaxMessages:        60,
		MaxChars:           30000,
		MaxToolResultChars: 6000,
		IncludeSummary:     true,
		SummaryMetadataKey: SummaryMetadataKey,
	}
}

// Packer selects and prepares messages for LLM context.
type Packer struct {
	opts PackOptions
}

// withDefaults fills zero-valued fields with the packer's defaults.
func (o PackOptions) withDefaults() PackOptions {
	if o.MaxMessages <= 0 {
		o.MaxMessages = 60
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 30000
	}
	if o.MaxToolResultChars <= 0 {
		o.MaxToolResultChars = 6000
	}
	if o.SummaryMetadataKey == "" {
		o.SummaryMetadataKey = SummaryMetadataKey
	}
	return o
}

// NewPacker creates a new context packer with the given options.
func NewPacker(opts PackOptions) *Packer {
	return &Packer{opts: opts.withDefaults()}
}

// Pack selects messages from history to fit within budget.
//
// The packed result includes (in order):
//  1. Summary message (if IncludeSummary and summary exists)
//  2. Recent messages from history (newest first, up to budget)
//  3. The incoming user message
//
// Tool result content is truncated to MaxToolResultChars.
// Messages are selected from the end (most recent) backwards until
// either MaxMessages or MaxChars is reached.
func (p *Packer) Pack(history []*models.Message, incoming *models.Message, summary *models.Message) ([]*models.Message, error) {
	totalChars, totalMsgs := 0, 0
	if incoming != nil {
		totalChars += p.messageChars(incoming)
		totalMsgs++
	}
	includeSummary := p.opts.IncludeSummary && summary != nil
	if includeSummary {
		totalChars += p.messageChars(summary)
		totalMsgs++
	}

	selected := p.selectRecent(p.withoutSummaries(history), totalMsgs, totalChars)

	result := make([]*models.Message, 0, len(selected)+2)
	if includeSummary {
		result = append(result, summary)
	}
	for _, m := range selected {
		result = append(result, p.truncateToolResults(m))
	}
	if incoming != nil {
		result = append(result, incoming)
	}

	return result, nil
}

// withoutSummaries drops nil entries and prior summary markers from history;
// summaries are re-inserted separately by the caller.
func (p *Packer) withoutSummaries(history []*models.Message) []*models.Message {
	filtered := make([]*models.Message, 0, len(history))
	for _, m := range history {
		if m == nil || p.isSummaryMessage(m) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// selectRecent walks filtered from the end backwards, greedily including
// messages until either MaxMessages or MaxChars would be exceeded, then
// returns the selection in chronological order. usedMsgs/usedChars account
// for budget already reserved for the incoming message and summary.
func (p *Packer) selectRecent(filtered []*models.Message, usedMsgs, usedChars int) []*models.Message {
	reverse := make([]*models.Message, 0)
	for i := len(filtered) - 1; i >= 0; i-- {
		m := filtered[i]
		msgChars := p.messageChars(m)

		if usedMsgs+1 > p.opts.MaxMessages {
			break
		}
		if usedChars+msgChars > p.opts.MaxChars {
			break
		}

		reverse = append(reverse, m)
		usedMsgs++
		usedChars += msgChars
	}

	selected := make([]*models.Message, len(reverse))
	for i, m := range reverse {
		selected[len(reverse)-1-i] = m
	}
	return selected
}

// messageChars estimates the character count for a message.
func (p *Packer) messageChars(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		chars += len(tr.Content)
	}
	return chars
}

// isSummaryMessage checks if a message is a summary marker.
func (p *Packer) isSummaryMessage(m *models.Message) bool {
	if m.Metadata == nil {
		return false
	}
	val, ok := m.Metadata[p.opts.SummaryMetadataKey]
	if !ok {
		return false
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// truncateToolResults returns a copy with truncated tool result content.
func (p *Packer) truncateToolResults(m *models.Message) *models.Message {
	if len(m.ToolResults) == 0 {
		return m
	}

	// Check if any truncation needed
	needsTruncation := false
	for _, tr := range m.ToolResults {
		if len(tr.Content) > p.opts.MaxToolResultChars {
			needsTruncation = true
			break
		}
	}
	if !needsTruncation {
		return m
	}

	// Create copy with truncated results
	copy := *m
	copy.ToolResults = make([]models.ToolResult, len(m.ToolResults))
	for i, tr := range m.ToolResults {
		if len(tr.Content) > p.opts.MaxToolResultChars {
			truncated := tr
			truncated.Content = tr.Content[:p.opts.MaxToolResultChars] + "\n...[truncated]"
			copy.ToolResults[i] = truncated
		} else {
			copy.ToolResults[i] = tr
		}
	}
	return &copy
}
