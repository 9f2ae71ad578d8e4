package engine

import (
	"context"
	"errors"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/executor"
	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/objstore"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// RunResult is the outcome of a successful run.
type RunResult struct {
	WorkflowID          string          `json:"workflow_id"`
	Status              workflow.Status `json:"status"`
	ExecutedArtifactRef string          `json:"executed_artifact_ref"`
	ResultRefs          []string        `json:"result_refs"`
	ModelRef            string          `json:"model_ref,omitempty"`

	DatasetCount    int `json:"dataset_count"`
	DroppedDatasets int `json:"dropped_datasets"`
	DroppedKeys     int `json:"dropped_keys"`
}

// outputRefs returns the deterministic result and executed-artifact base
// refs and the model ref of a creator's workflow.
func (e *Engine) outputRefs(creatorID, workflowID string) (result, executed, model string) {
	base := objstore.Join(e.outPrefix, "results", creatorID, workflowID)
	return objstore.Join(base, "result"), objstore.Join(base, "executed"), objstore.Join(base, "model")
}

// checkCollaborators applies the collaborator policy to a run-time set.
func (e *Engine) checkCollaborators(w *workflow.Workflow, collaboratorIDs []string) error {
	switch e.policy {
	case PolicyAny:
		return nil
	case PolicyExact:
		if len(collaboratorIDs) != len(w.CollaboratorIDs) {
			return kindError(ErrInvalidArgument, "collaborators do not match workflow %s", w.ID)
		}
	}
	for _, id := range collaboratorIDs {
		if !w.HasCollaborator(id) {
			return kindError(ErrInvalidArgument, "%s is not a collaborator of workflow %s", id, w.ID)
		}
	}
	return nil
}

// Run executes workflowID of creatorID once every one of collaboratorIDs
// has approved it.
//
// Pre-flight failures leave the workflow status untouched. Once dispatched
// the workflow ends COMPLETED with its results stored or FAILED.
func (e *Engine) Run(ctx context.Context, workflowID, creatorID string, collaboratorIDs []string) (*RunResult, error) {
	started := time.Now()
	ret, dispatched, err := e.run(ctx, workflowID, creatorID, collaboratorIDs)
	switch {
	case err == nil:
		e.metrics.observeRun(OutcomeCompleted, started, true)
	case dispatched:
		e.metrics.observeRun(OutcomeFailed, started, true)
	default:
		e.metrics.observeRun(OutcomeAborted, started, false)
	}
	return ret, err
}

func (e *Engine) run(ctx context.Context, workflowID, creatorID string, collaboratorIDs []string) (*RunResult, bool, error) {
	if err := validID("workflow id", workflowID); err != nil {
		return nil, false, err
	}
	if err := validID("creator id", creatorID); err != nil {
		return nil, false, err
	}
	collaboratorIDs, err := normalizeCollaborators(creatorID, collaboratorIDs)
	if err != nil {
		return nil, false, err
	}

	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.WorkflowID, workflowID,
		logkeys.CreatorID, creatorID,
	)

	// approvals only exist for stored workflows so a missing workflow is
	// reported before the gate
	w, err := e.retrieveWorkflow(ctx, creatorID, workflowID)
	if err != nil {
		return nil, false, err
	}

	if id, missing := e.firstUnapproved(ctx, creatorID, workflowID, collaboratorIDs); missing {
		logger.Info(logkeys.Message, "run", logkeys.ApproverID, id, logkeys.Error, ErrNotApproved)
		return nil, false, kindError(ErrNotApproved, "%s has not approved workflow %s", id, workflowID)
	}

	if err = e.checkCollaborators(w, collaboratorIDs); err != nil {
		return nil, false, err
	}
	if w.Status != workflow.StatusPendingApproval {
		return nil, false, kindError(ErrConflict, "workflow %s is %s", workflowID, w.Status)
	}

	key := runKey(creatorID, workflowID)
	if !e.runLocks.tryLock(key) {
		return nil, false, kindError(ErrConflict, "workflow %s is already running", workflowID)
	}
	defer e.runLocks.unlock(key)

	assembly, err := e.Assemble(ctx, creatorID, workflowID, ownerOrder(creatorID, collaboratorIDs))
	if err != nil {
		return nil, false, logAndError(err, logger, "assemble datasets")
	}
	e.metrics.observeDropped(assembly.DroppedDatasets, assembly.DroppedKeys)
	if assembly.DroppedDatasets > 0 || assembly.DroppedKeys > 0 {
		logger.Info(
			logkeys.Message, "dropped unmatched rows",
			"datasets", assembly.DroppedDatasets,
			"keys", assembly.DroppedKeys,
		)
	}
	if len(assembly.Datasets) < 1 {
		return nil, false, kindError(ErrNoDatasets, "no matched datasets for workflow %s", workflowID)
	}

	err = e.storage.UpdateWorkflowStatus(ctx, creatorID, workflowID, workflow.StatusPendingApproval, workflow.StatusRunning, e.now())
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, false, kindError(ErrConflict, "%v", err)
	} else if err != nil {
		return nil, false, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "update status")
	}
	logger.Info(
		logkeys.Message, "running workflow",
		logkeys.Status, workflow.StatusRunning,
		logkeys.GenericCount, len(assembly.Datasets),
	)

	// from here on the outcome must be recorded even if the caller goes away
	wctx := context.WithoutCancel(ctx)

	resultBase, executedBase, modelRef := e.outputRefs(creatorID, workflowID)
	datasets := make([]executor.DatasetRef, len(assembly.Datasets))
	for i, d := range assembly.Datasets {
		datasets[i] = executor.DatasetRef{
			Owner:         d.Owner,
			CiphertextRef: d.CiphertextRef,
			WrappedKeyRef: d.WrappedKeyRef,
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.executeTimeout)
	resp, err := e.executor.Execute(execCtx, &executor.ExecuteRequest{
		WorkflowID:              workflowID,
		WorkloadRef:             w.WorkloadRef,
		Datasets:                datasets,
		ResultBaseRef:           resultBase,
		ExecutedArtifactBaseRef: executedBase,
	})
	cancel()
	if err != nil {
		e.markFailed(wctx, logger, creatorID, workflowID)
		return nil, true, logAndError(kindError(ErrExecutorUnavailable, "%v", err), logger, "execute")
	}

	now := e.now()
	results := make([]*workflow.ExecutionResult, len(resp.ResultRefs))
	for i, ref := range resp.ResultRefs {
		results[i] = &workflow.ExecutionResult{
			ID:                  e.ider.ID(),
			WorkflowID:          workflowID,
			CreatorID:           creatorID,
			ExecutedArtifactRef: resp.ExecutedArtifactRef,
			ResultRef:           ref,
			CreatedAt:           now,
		}
	}
	if err = e.storage.StoreResults(wctx, results); err != nil {
		e.markFailed(wctx, logger, creatorID, workflowID)
		return nil, true, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "store results")
	}

	if err = e.markCompleted(wctx, logger, creatorID, workflowID); err != nil {
		return nil, true, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "update status")
	}

	ret := &RunResult{
		WorkflowID:          workflowID,
		Status:              workflow.StatusCompleted,
		ExecutedArtifactRef: resp.ExecutedArtifactRef,
		ResultRefs:          resp.ResultRefs,
		DatasetCount:        len(assembly.Datasets),
		DroppedDatasets:     assembly.DroppedDatasets,
		DroppedKeys:         assembly.DroppedKeys,
	}
	if ret.ResultRefs == nil {
		ret.ResultRefs = []string{}
	}
	if found, err := e.objects.Exists(wctx, modelRef); err != nil {
		logger.Info(logkeys.Message, "model lookup", logkeys.Ref, modelRef, logkeys.Error, err)
	} else if found {
		ret.ModelRef = modelRef
	}

	logger.Info(
		logkeys.Message, "completed workflow",
		logkeys.Status, workflow.StatusCompleted,
		logkeys.GenericCount, len(results),
	)
	return ret, true, nil
}

// completeAttempts bounds the writes of the COMPLETED status.
const completeAttempts = 3

// markCompleted moves a running workflow whose results are stored to
// COMPLETED. Store errors are retried, a status conflict or a missing
// workflow is not.
func (e *Engine) markCompleted(ctx context.Context, logger log.Logger, creatorID, workflowID string) error {
	var err error
	for i := 0; i < completeAttempts; i++ {
		if i > 0 {
			logger.Info(logkeys.Message, "mark completed", "attempt", i, logkeys.Error, err)
			time.Sleep(time.Duration(i) * e.retryWait)
		}
		err = e.storage.UpdateWorkflowStatus(ctx, creatorID, workflowID, workflow.StatusRunning, workflow.StatusCompleted, e.now())
		if err == nil || errors.Is(err, storage.ErrStatusConflict) || errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return err
}

// markFailed moves a running workflow to FAILED. Errors are only logged:
// the caller is already returning the failure that caused this.
func (e *Engine) markFailed(ctx context.Context, logger log.Logger, creatorID, workflowID string) {
	err := e.storage.UpdateWorkflowStatus(ctx, creatorID, workflowID, workflow.StatusRunning, workflow.StatusFailed, e.now())
	if err != nil {
		logger.Info(logkeys.Message, "mark failed", logkeys.Error, err)
		return
	}
	logger.Info(logkeys.Message, "failed workflow", logkeys.Status, workflow.StatusFailed)
}
