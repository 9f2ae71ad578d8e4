// Package http contains HTTP handlers that work with the collabtee engine.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/collabtee/collabtee/engine"
	"github.com/collabtee/collabtee/executor"
	"github.com/collabtee/collabtee/http/api"
	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/log"
)

// maxBodySize limits API request bodies.
const maxBodySize = 1 << 20

// WorkflowEngine manages workflows and their approvals.
type WorkflowEngine interface {
	CreateWorkflow(ctx context.Context, workflowID, creatorID string, collaboratorIDs []string) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error)
	GetWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error)
	RecordApproval(ctx context.Context, workflowID, creatorID, approverID string, approved bool) (*workflow.Approval, error)
}

// Runner runs approved workflows.
type Runner interface {
	Run(ctx context.Context, workflowID, creatorID string, collaboratorIDs []string) (*engine.RunResult, error)
}

// Uploader prepares and records party uploads.
type Uploader interface {
	PrepareUpload(ctx context.Context, workflowID, creatorID, ownerID string) (*engine.Upload, error)
	RecordDataset(ctx context.Context, workflowID, creatorID, ownerID, datasetID, filename string) (*workflow.Dataset, error)
	RecordWrappedKey(ctx context.Context, workflowID, creatorID, ownerID, datasetID string) (*workflow.WrappedKey, error)
}

// Reader reads results and executor state.
type Reader interface {
	GetResults(ctx context.Context, creatorID, workflowID string) (*engine.Results, error)
	GetStats(ctx context.Context, ownerID string) (*engine.Stats, error)
	Logs(ctx context.Context, workflowID string) ([]byte, error)
	Attestation(ctx context.Context) (*executor.Attestation, error)
}

// jsonError encodes err with the status code and kind of its engine error kind.
func jsonError(w http.ResponseWriter, err error) {
	api.JSONKindError(w, err, string(engine.ErrorKind(err)), engine.HTTPStatus(err))
}

// decodeBody decodes the JSON request body into v.
// Decoding failures are invalid arguments.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", engine.ErrInvalidArgument, err)
	}
	return nil
}

// respond encodes v as the JSON response and logs encoding failures.
func respond(w http.ResponseWriter, logger log.Logger, v interface{}, statusCode int) {
	if err := api.JSON(w, v, statusCode); err != nil {
		logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
	}
}
