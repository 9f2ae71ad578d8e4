package engine

import (
	"context"
	"time"

	"github.com/collabtee/collabtee/executor"
	"github.com/collabtee/collabtee/workflow"
)

// ResultView is an execution result with a download URL.
type ResultView struct {
	ResultID            string    `json:"result_id"`
	ResultRef           string    `json:"result_ref"`
	ExecutedArtifactRef string    `json:"executed_artifact_ref"`
	CreatedAt           time.Time `json:"created_at"`
	DownloadURL         string    `json:"download_url"`
}

// Results are the results of a workflow.
type Results struct {
	WorkflowID string        `json:"workflow_id"`
	CreatorID  string        `json:"creator_id"`
	Results    []*ResultView `json:"results"`
}

// GetResults returns the results of creatorID's workflow, oldest first,
// each with a short-lived download URL. ErrNotFound is returned if there
// are none.
func (e *Engine) GetResults(ctx context.Context, creatorID, workflowID string) (*Results, error) {
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	results, err := e.storage.RetrieveResults(ctx, creatorID, workflowID)
	if err != nil {
		return nil, kindError(ErrStoreUnavailable, "retrieving results: %v", err)
	}
	if len(results) < 1 {
		return nil, kindError(ErrNotFound, "no results for workflow %s", workflowID)
	}
	ret := &Results{WorkflowID: workflowID, CreatorID: creatorID}
	for _, r := range results {
		u, err := e.objects.GetURL(ctx, r.ResultRef)
		if err != nil {
			return nil, kindError(ErrStoreUnavailable, "download url for %s: %v", r.ResultRef, err)
		}
		ret.Results = append(ret.Results, &ResultView{
			ResultID:            r.ID,
			ResultRef:           r.ResultRef,
			ExecutedArtifactRef: r.ExecutedArtifactRef,
			CreatedAt:           r.CreatedAt,
			DownloadURL:         u,
		})
	}
	return ret, nil
}

// recentWorkflows is the number of workflows included in Stats.
const recentWorkflows = 5

// Stats summarize a party's activity.
type Stats struct {
	OwnerID   string `json:"owner_id"`
	Workflows int    `json:"total_workflows"`
	Active    int    `json:"active_workflows"`
	Completed int    `json:"completed_workflows"`
	Failed    int    `json:"failed_workflows"`
	Rejected  int    `json:"rejected_workflows"`
	Datasets  int    `json:"total_datasets"`
	Results   int    `json:"total_results"`

	Recent []*workflow.Workflow `json:"recent_workflows"`
}

// GetStats counts the workflows ownerID created, their results and the
// datasets ownerID uploaded.
func (e *Engine) GetStats(ctx context.Context, ownerID string) (*Stats, error) {
	if err := validID("owner id", ownerID); err != nil {
		return nil, err
	}
	ws, err := e.storage.RetrieveWorkflows(ctx, ownerID)
	if err != nil {
		return nil, kindError(ErrStoreUnavailable, "retrieving workflows: %v", err)
	}
	datasets, err := e.storage.RetrieveDatasets(ctx, ownerID, "", "")
	if err != nil {
		return nil, kindError(ErrStoreUnavailable, "retrieving datasets: %v", err)
	}

	s := &Stats{
		OwnerID:   ownerID,
		Workflows: len(ws),
		Datasets:  len(datasets),
		Recent:    []*workflow.Workflow{},
	}
	for i, w := range ws {
		switch {
		case w.Status.Active():
			s.Active++
		case w.Status == workflow.StatusCompleted:
			s.Completed++
		case w.Status == workflow.StatusFailed:
			s.Failed++
		case w.Status == workflow.StatusRejected:
			s.Rejected++
		}
		if i < recentWorkflows {
			s.Recent = append(s.Recent, w)
		}
		if w.Status != workflow.StatusCompleted {
			continue
		}
		results, err := e.storage.RetrieveResults(ctx, ownerID, w.ID)
		if err != nil {
			return nil, kindError(ErrStoreUnavailable, "retrieving results: %v", err)
		}
		s.Results += len(results)
	}
	return s, nil
}

// Logs returns the executor's log payload for a workflow.
func (e *Engine) Logs(ctx context.Context, workflowID string) ([]byte, error) {
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	logs, err := e.executor.Logs(ctx, workflowID)
	if err != nil {
		return nil, kindError(ErrExecutorUnavailable, "%v", err)
	}
	return logs, nil
}

// Attestation returns the executor's attestation evidence.
func (e *Engine) Attestation(ctx context.Context) (*executor.Attestation, error) {
	a, err := e.executor.Attestation(ctx)
	if err != nil {
		return nil, kindError(ErrExecutorUnavailable, "%v", err)
	}
	return a, nil
}
