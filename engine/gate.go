package engine

import (
	"context"

	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// latestApproval returns the approval with the latest ApprovedAt.
// Of equal times the later entry in approvals wins.
func latestApproval(approvals []*workflow.Approval) *workflow.Approval {
	var latest *workflow.Approval
	for _, a := range approvals {
		if a == nil {
			continue
		}
		if latest == nil || !a.ApprovedAt.Before(latest.ApprovedAt) {
			latest = a
		}
	}
	return latest
}

// IsApproved reports whether approverID's current approval of creatorID's
// workflowID is affirmative. Store failures are logged and count as not
// approved.
func (e *Engine) IsApproved(ctx context.Context, creatorID, workflowID, approverID string) bool {
	approvals, err := e.storage.RetrieveApprovals(ctx, approverID, creatorID, workflowID)
	if err != nil {
		ctxlog.Logger(ctx, e.logger).Info(
			logkeys.Message, "retrieving approvals",
			logkeys.CreatorID, creatorID,
			logkeys.WorkflowID, workflowID,
			logkeys.ApproverID, approverID,
			logkeys.Error, err,
		)
		return false
	}
	latest := latestApproval(approvals)
	return latest != nil && latest.Approved
}

// firstUnapproved returns the first of collaboratorIDs without a current
// affirmative approval of creatorID's workflowID.
func (e *Engine) firstUnapproved(ctx context.Context, creatorID, workflowID string, collaboratorIDs []string) (string, bool) {
	for _, id := range collaboratorIDs {
		if !e.IsApproved(ctx, creatorID, workflowID, id) {
			return id, true
		}
	}
	return "", false
}
