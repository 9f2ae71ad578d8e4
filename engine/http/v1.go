package http

import (
	"net/http"

	"github.com/collabtee/collabtee/utils/uuid"

	"github.com/micromdm/nanolib/log"
)

// APIEngine is the engine behind the API.
type APIEngine interface {
	WorkflowEngine
	Runner
	Uploader
	Reader
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, e APIEngine) {
	// workflows

	mux.Handle(
		prefix+"/workflows",
		CreateWorkflowHandler(e, uuid.NewUUID(), logger.With("handler", "create workflow")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows",
		ListWorkflowsHandler(e, logger.With("handler", "list workflows")),
		"GET",
	)
	mux.Handle(
		prefix+"/workflows/:id",
		GetWorkflowHandler(e, logger.With("handler", "get workflow")),
		"GET",
	)
	mux.Handle(
		prefix+"/workflows/:id/approval",
		ApprovalHandler(e, logger.With("handler", "approval")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows/:id/run",
		RunHandler(e, logger.With("handler", "run workflow")),
		"POST",
	)

	// uploads

	mux.Handle(
		prefix+"/workflows/:id/uploads",
		PrepareUploadHandler(e, logger.With("handler", "prepare upload")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows/:id/datasets",
		RecordDatasetHandler(e, logger.With("handler", "record dataset")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows/:id/keys",
		RecordWrappedKeyHandler(e, logger.With("handler", "record wrapped key")),
		"POST",
	)

	// results and executor

	mux.Handle(
		prefix+"/workflows/:id/results",
		ResultsHandler(e, logger.With("handler", "results")),
		"GET",
	)
	mux.Handle(
		prefix+"/workflows/:id/logs",
		LogsHandler(e, logger.With("handler", "logs")),
		"GET",
	)
	mux.Handle(
		prefix+"/stats/:owner",
		StatsHandler(e, logger.With("handler", "stats")),
		"GET",
	)
	mux.Handle(
		prefix+"/attestation",
		AttestationHandler(e, logger.With("handler", "attestation")),
		"GET",
	)
}
