package http

import (
	"net/http"

	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/utils/uuid"
	"github.com/collabtee/collabtee/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

type createRequest struct {
	WorkflowID      string   `json:"workflow_id"`
	CreatorID       string   `json:"creator_id"`
	CollaboratorIDs []string `json:"collaborator_ids"`
}

type createResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Status     workflow.Status `json:"status"`
}

// CreateWorkflowHandler creates a HandlerFunc that creates a workflow.
// A workflow ID is generated with ider if the request has none.
func CreateWorkflowHandler(e WorkflowEngine, ider uuid.IDer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		req := new(createRequest)
		if err := decodeBody(w, r, req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		if req.WorkflowID == "" {
			req.WorkflowID = ider.ID()
		}

		logger = logger.With(
			logkeys.WorkflowID, req.WorkflowID,
			logkeys.CreatorID, req.CreatorID,
		)
		wf, err := e.CreateWorkflow(r.Context(), req.WorkflowID, req.CreatorID, req.CollaboratorIDs)
		if err != nil {
			logger.Info(logkeys.Message, "create workflow", logkeys.Error, err)
			jsonError(w, err)
			return
		}

		logger.Debug(logkeys.Message, "created workflow")
		respond(w, logger, &createResponse{WorkflowID: wf.ID, Status: wf.Status}, http.StatusCreated)
	}
}

// ListWorkflowsHandler creates a HandlerFunc that lists a creator's workflows.
func ListWorkflowsHandler(e WorkflowEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := r.URL.Query().Get("creator_id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.CreatorID, creatorID)
		ws, err := e.ListWorkflows(r.Context(), creatorID)
		if err != nil {
			logger.Info(logkeys.Message, "list workflows", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		logger.Debug(logkeys.Message, "listed workflows", logkeys.GenericCount, len(ws))
		respond(w, logger, ws, 0)
	}
}

// GetWorkflowHandler creates a HandlerFunc that returns one of a creator's workflows.
func GetWorkflowHandler(e WorkflowEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := r.URL.Query().Get("creator_id")
		workflowID := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(
			logkeys.WorkflowID, workflowID,
			logkeys.CreatorID, creatorID,
		)
		wf, err := e.GetWorkflow(r.Context(), creatorID, workflowID)
		if err != nil {
			logger.Info(logkeys.Message, "get workflow", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		respond(w, logger, wf, 0)
	}
}

type approvalRequest struct {
	CreatorID  string `json:"creator_id"`
	ApproverID string `json:"approver_id"`
	Approved   *bool  `json:"approved"`
}

type approvalResponse struct {
	WorkflowID string             `json:"workflow_id"`
	Label      string             `json:"approval_label"`
	Approval   *workflow.Approval `json:"approval"`
}

// ApprovalHandler creates a HandlerFunc that records an approval decision.
func ApprovalHandler(e WorkflowEngine, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, workflowID)

		req := new(approvalRequest)
		err := decodeBody(w, r, req)
		if err == nil && req.Approved == nil {
			err = errMissingField("approved")
		}
		if err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			jsonError(w, err)
			return
		}

		logger = logger.With(logkeys.ApproverID, req.ApproverID)
		a, err := e.RecordApproval(r.Context(), workflowID, req.CreatorID, req.ApproverID, *req.Approved)
		if err != nil {
			logger.Info(logkeys.Message, "record approval", logkeys.Error, err)
			jsonError(w, err)
			return
		}

		logger.Debug(logkeys.Message, "recorded approval", "approved", a.Approved)
		respond(w, logger, &approvalResponse{WorkflowID: workflowID, Label: a.Label(), Approval: a}, 0)
	}
}

type runRequest struct {
	CreatorID       string   `json:"creator_id"`
	CollaboratorIDs []string `json:"collaborator_ids"`
}

// RunHandler creates a HandlerFunc that runs a workflow.
// The response is written when the executor call is done.
func RunHandler(e Runner, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, workflowID)

		req := new(runRequest)
		if err := decodeBody(w, r, req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			jsonError(w, err)
			return
		}

		logger = logger.With(logkeys.CreatorID, req.CreatorID)
		ret, err := e.Run(r.Context(), workflowID, req.CreatorID, req.CollaboratorIDs)
		if err != nil {
			logger.Info(logkeys.Message, "run workflow", logkeys.Error, err)
			jsonError(w, err)
			return
		}

		logger.Debug(
			logkeys.Message, "ran workflow",
			logkeys.Status, ret.Status,
			logkeys.GenericCount, len(ret.ResultRefs),
		)
		respond(w, logger, ret, 0)
	}
}
