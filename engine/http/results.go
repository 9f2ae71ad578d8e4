package http

import (
	"net/http"

	"github.com/collabtee/collabtee/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ResultsHandler creates a HandlerFunc that returns a workflow's results
// with download URLs. The creator is given by the creator_id query parameter.
func ResultsHandler(e Reader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := flow.Param(r.Context(), "id")
		creatorID := r.URL.Query().Get("creator_id")
		logger := ctxlog.Logger(r.Context(), logger).With(
			logkeys.WorkflowID, workflowID,
			logkeys.CreatorID, creatorID,
		)
		results, err := e.GetResults(r.Context(), creatorID, workflowID)
		if err != nil {
			logger.Info(logkeys.Message, "get results", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		logger.Debug(logkeys.Message, "retrieved results", logkeys.GenericCount, len(results.Results))
		respond(w, logger, results, 0)
	}
}

// LogsHandler creates a HandlerFunc that passes through the executor's
// logs of a workflow.
func LogsHandler(e Reader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, workflowID)
		logs, err := e.Logs(r.Context(), workflowID)
		if err != nil {
			logger.Info(logkeys.Message, "get logs", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err = w.Write(logs); err != nil {
			logger.Info(logkeys.Message, "writing logs", logkeys.Error, err)
		}
	}
}

// StatsHandler creates a HandlerFunc that returns a party's activity summary.
func StatsHandler(e Reader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := flow.Param(r.Context(), "owner")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.OwnerID, ownerID)
		s, err := e.GetStats(r.Context(), ownerID)
		if err != nil {
			logger.Info(logkeys.Message, "get stats", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		respond(w, logger, s, 0)
	}
}

// AttestationHandler creates a HandlerFunc that passes through the
// executor's attestation evidence.
func AttestationHandler(e Reader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		a, err := e.Attestation(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "get attestation", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		respond(w, logger, a, 0)
	}
}
