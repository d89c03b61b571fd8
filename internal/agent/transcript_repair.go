package agent

import "github.com/bashmyhed/agentcore/pkg/models"

// pendingCalls tracks tool-call IDs opened by the most recent assistant
// turn that haven't yet been matched to a tool result.
type pendingCalls struct {
	ids   map[string]struct{}
	order []string
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{ids: make(map[string]struct{})}
}

func (p *pendingCalls) reset() {
	for k := range p.ids {
		delete(p.ids, k)
	}
	p.order = p.order[:0]
}

func (p *pendingCalls) open(id string) {
	if id == "" {
		return
	}
	p.ids[id] = struct{}{}
	p.order = append(p.order, id)
}

func (p *pendingCalls) resolve(id string) bool {
	if _, ok := p.ids[id]; !ok {
		return false
	}
	delete(p.ids, id)
	p.order = removeID(p.order, id)
	return true
}

func (p *pendingCalls) first() string {
	if len(p.order) == 0 {
		return ""
	}
	return p.order[0]
}

func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	pending := newPendingCalls()
	repaired := make([]*models.Message, 0, len(history))

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			pending.reset()
			for _, call := range msg.ToolCalls {
				pending.open(call.ID)
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			if fixed := repairToolResults(pending, msg.ToolResults); len(fixed) > 0 {
				copied := *msg
				copied.ToolResults = fixed
				repaired = append(repaired, &copied)
			}
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

// repairToolResults keeps only the results whose tool-call ID matches a
// pending call, assigning an orphaned (empty-ID) result to the oldest
// pending call as a best guess.
func repairToolResults(pending *pendingCalls, results []models.ToolResult) []models.ToolResult {
	if len(results) == 0 {
		return nil
	}
	fixed := make([]models.ToolResult, 0, len(results))
	for _, result := range results {
		if result.ToolCallID == "" {
			result.ToolCallID = pending.first()
		}
		if result.ToolCallID != "" && pending.resolve(result.ToolCallID) {
			fixed = append(fixed, result)
		}
	}
	return fixed
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
