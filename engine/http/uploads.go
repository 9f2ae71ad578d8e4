package http

import (
	"fmt"
	"net/http"

	"github.com/collabtee/collabtee/engine"
	"github.com/collabtee/collabtee/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

func errMissingField(name string) error {
	return fmt.Errorf("%w: missing %s", engine.ErrInvalidArgument, name)
}

type uploadRequest struct {
	CreatorID string `json:"creator_id"`
	OwnerID   string `json:"owner_id"`
	DatasetID string `json:"dataset_id,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// decodeUpload decodes an upload request for the workflow in the path.
func decodeUpload(w http.ResponseWriter, r *http.Request, logger log.Logger) (*uploadRequest, log.Logger, bool) {
	workflowID := flow.Param(r.Context(), "id")
	logger = ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, workflowID)
	req := new(uploadRequest)
	if err := decodeBody(w, r, req); err != nil {
		logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
		jsonError(w, err)
		return nil, logger, false
	}
	return req, logger.With(
		logkeys.CreatorID, req.CreatorID,
		logkeys.OwnerID, req.OwnerID,
	), true
}

// PrepareUploadHandler creates a HandlerFunc that allocates a dataset ID
// and returns signed upload URLs for its ciphertext and wrapped key.
func PrepareUploadHandler(e Uploader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, logger, ok := decodeUpload(w, r, logger)
		if !ok {
			return
		}
		u, err := e.PrepareUpload(r.Context(), flow.Param(r.Context(), "id"), req.CreatorID, req.OwnerID)
		if err != nil {
			logger.Info(logkeys.Message, "prepare upload", logkeys.Error, err)
			jsonError(w, err)
			return
		}
		logger.Debug(logkeys.Message, "prepared upload", logkeys.DatasetID, u.DatasetID)
		respond(w, logger, u, 0)
	}
}

// RecordDatasetHandler creates a HandlerFunc that records an uploaded dataset.
func RecordDatasetHandler(e Uploader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, logger, ok := decodeUpload(w, r, logger)
		if !ok {
			return
		}
		d, err := e.RecordDataset(r.Context(), flow.Param(r.Context(), "id"), req.CreatorID, req.OwnerID, req.DatasetID, req.Filename)
		if err != nil {
			logger.Info(logkeys.Message, "record dataset", logkeys.DatasetID, req.DatasetID, logkeys.Error, err)
			jsonError(w, err)
			return
		}
		respond(w, logger, d, http.StatusCreated)
	}
}

// RecordWrappedKeyHandler creates a HandlerFunc that records an uploaded wrapped key.
func RecordWrappedKeyHandler(e Uploader, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, logger, ok := decodeUpload(w, r, logger)
		if !ok {
			return
		}
		k, err := e.RecordWrappedKey(r.Context(), flow.Param(r.Context(), "id"), req.CreatorID, req.OwnerID, req.DatasetID)
		if err != nil {
			logger.Info(logkeys.Message, "record wrapped key", logkeys.DatasetID, req.DatasetID, logkeys.Error, err)
			jsonError(w, err)
			return
		}
		respond(w, logger, k, http.StatusCreated)
	}
}
