package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/bashmyhed/agentcore/internal/sessions"
	"github.com/bashmyhed/agentcore/pkg/models"
)

// SupervisorRunner adapts a Runtime into the supervisor package's
// AgentRunner interface: Run(ctx, sessionKey, prompt) error. The
// supervisor owns scheduling and conflict resolution; this adapter owns
// turning one queued prompt into one Runtime.Process call and collecting
// its outcome, the same shape tasks.AgentExecutor uses for cron-scheduled
// prompts.
type SupervisorRunner struct {
	runtime  *Runtime
	sessions sessions.Store
	agentID  string
}

// NewSupervisorRunner builds an AgentRunner backed by runtime. agentID
// tags sessions created for supervisor tasks (channel "supervisor",
// channel ID the supervisor's session key) so they're distinguishable
// from interactive-channel sessions in session listings.
func NewSupervisorRunner(runtime *Runtime, store sessions.Store, agentID string) *SupervisorRunner {
	return &SupervisorRunner{runtime: runtime, sessions: store, agentID: agentID}
}

// channelSupervisor marks sessions created on behalf of a queued
// supervisor task rather than an interactive channel.
const channelSupervisor models.ChannelType = "supervisor"

// Run loads (or lazily creates) the session addressed by sessionKey,
// appends prompt as a new user turn, and drives it through the Runtime
// to completion or failure. It returns once the loop has produced a
// Final response, hit its iteration cap, or failed outright; Runtime.run
// has already persisted the session on every exit path by the time this
// returns.
func (a *SupervisorRunner) Run(ctx context.Context, sessionKey, prompt string) error {
	session, err := a.sessions.GetOrCreate(ctx, sessionKey, a.agentID, channelSupervisor, sessionKey)
	if err != nil {
		return fmt.Errorf("supervisor runner: load session %q: %w", sessionKey, err)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   channelSupervisor,
		ChannelID: sessionKey,
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}

	chunks, err := a.runtime.Process(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("supervisor runner: process %q: %w", sessionKey, err)
	}

	var response strings.Builder
	var lastErr error
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			lastErr = chunk.Error
			continue
		}
		if chunk.Text != "" {
			response.WriteString(chunk.Text)
		}
	}

	if lastErr != nil && response.Len() == 0 {
		return fmt.Errorf("supervisor runner: run %q: %w", sessionKey, lastErr)
	}
	return nil
}

var _ interface {
	Run(ctx context.Context, sessionKey, prompt string) error
} = (*SupervisorRunner)(nil)
