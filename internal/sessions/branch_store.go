package sessions

import (
	"context"

	"github.com/bashmyhed/agentcore/pkg/models"
)

// BranchStore persists branch-aware conversation histories, allowing a
// session to maintain multiple divergent message logs.
type BranchStore interface {
	// EnsurePrimaryBranch returns the session's primary branch, creating it
	// if one doesn't already exist.
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// GetBranchHistory retrieves up to limit messages for a branch.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)

	// AppendMessageToBranch adds a message to a specific branch.
	AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error
}
