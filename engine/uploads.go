package engine

import (
	"context"
	"errors"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/objstore"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// Upload is where a party uploads one encrypted dataset and its wrapped key.
type Upload struct {
	WorkflowID    string `json:"workflow_id"`
	CreatorID     string `json:"creator_id"`
	OwnerID       string `json:"owner_id"`
	DatasetID     string `json:"dataset_id"`
	CiphertextRef string `json:"ciphertext_ref"`
	CiphertextURL string `json:"ciphertext_url"`
	WrappedKeyRef string `json:"wrapped_key_ref"`
	WrappedKeyURL string `json:"wrapped_key_url"`
}

// uploadRefs returns the object refs of a dataset's ciphertext and wrapped key.
func (e *Engine) uploadRefs(creatorID, workflowID, ownerID, datasetID string) (ciphertext, wrappedKey string) {
	base := objstore.Join(e.upPrefix, creatorID, workflowID, ownerID, datasetID)
	return objstore.Join(base, "ciphertext"), objstore.Join(base, "wrapped_key")
}

// party returns the pending workflow if ownerID takes part in it.
func (e *Engine) party(ctx context.Context, workflowID, creatorID, ownerID string) (*workflow.Workflow, error) {
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	if err := validID("owner id", ownerID); err != nil {
		return nil, err
	}
	w, err := e.retrieveWorkflow(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}
	if ownerID != w.CreatorID && !w.HasCollaborator(ownerID) {
		return nil, kindError(ErrInvalidArgument, "%s is not a party to workflow %s", ownerID, workflowID)
	}
	if w.Status != workflow.StatusPendingApproval {
		return nil, kindError(ErrConflict, "workflow %s is %s", workflowID, w.Status)
	}
	return w, nil
}

// PrepareUpload allocates a dataset ID for ownerID and returns upload URLs
// for its ciphertext and wrapped key.
func (e *Engine) PrepareUpload(ctx context.Context, workflowID, creatorID, ownerID string) (*Upload, error) {
	if _, err := e.party(ctx, workflowID, creatorID, ownerID); err != nil {
		return nil, err
	}
	u := &Upload{
		WorkflowID: workflowID,
		CreatorID:  creatorID,
		OwnerID:    ownerID,
		DatasetID:  e.ider.ID(),
	}
	u.CiphertextRef, u.WrappedKeyRef = e.uploadRefs(creatorID, workflowID, ownerID, u.DatasetID)
	var err error
	if u.CiphertextURL, err = e.objects.PutURL(ctx, u.CiphertextRef); err != nil {
		return nil, kindError(ErrStoreUnavailable, "upload url: %v", err)
	}
	if u.WrappedKeyURL, err = e.objects.PutURL(ctx, u.WrappedKeyRef); err != nil {
		return nil, kindError(ErrStoreUnavailable, "upload url: %v", err)
	}
	return u, nil
}

// requireObject checks that ref has been uploaded.
func (e *Engine) requireObject(ctx context.Context, ref string) error {
	found, err := e.objects.Exists(ctx, ref)
	if err != nil {
		return kindError(ErrStoreUnavailable, "checking %s: %v", ref, err)
	}
	if !found {
		return kindError(ErrInvalidArgument, "%s has not been uploaded", ref)
	}
	return nil
}

// RecordDataset records an uploaded dataset in ownerID's collection.
func (e *Engine) RecordDataset(ctx context.Context, workflowID, creatorID, ownerID, datasetID, filename string) (*workflow.Dataset, error) {
	if err := validID("dataset id", datasetID); err != nil {
		return nil, err
	}
	if _, err := e.party(ctx, workflowID, creatorID, ownerID); err != nil {
		return nil, err
	}
	ref, _ := e.uploadRefs(creatorID, workflowID, ownerID, datasetID)
	if err := e.requireObject(ctx, ref); err != nil {
		return nil, err
	}
	d := &workflow.Dataset{
		ID:            datasetID,
		WorkflowID:    workflowID,
		CreatorID:     creatorID,
		OwnerID:       ownerID,
		Filename:      filename,
		CiphertextRef: ref,
		CreatedAt:     e.now(),
	}
	err := e.storage.StoreDataset(ctx, d)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, kindError(ErrConflict, "dataset %s already recorded", datasetID)
	} else if err != nil {
		return nil, kindError(ErrStoreUnavailable, "%v", err)
	}
	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "recorded dataset",
		logkeys.WorkflowID, workflowID,
		logkeys.OwnerID, ownerID,
		logkeys.DatasetID, datasetID,
	)
	return d, nil
}

// RecordWrappedKey records the uploaded wrapped key of datasetID in ownerID's collection.
func (e *Engine) RecordWrappedKey(ctx context.Context, workflowID, creatorID, ownerID, datasetID string) (*workflow.WrappedKey, error) {
	if err := validID("dataset id", datasetID); err != nil {
		return nil, err
	}
	if _, err := e.party(ctx, workflowID, creatorID, ownerID); err != nil {
		return nil, err
	}
	_, ref := e.uploadRefs(creatorID, workflowID, ownerID, datasetID)
	if err := e.requireObject(ctx, ref); err != nil {
		return nil, err
	}
	k := &workflow.WrappedKey{
		ID:            datasetID,
		WorkflowID:    workflowID,
		CreatorID:     creatorID,
		OwnerID:       ownerID,
		WrappedKeyRef: ref,
		CreatedAt:     e.now(),
	}
	err := e.storage.StoreWrappedKey(ctx, k)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, kindError(ErrConflict, "wrapped key %s already recorded", datasetID)
	} else if err != nil {
		return nil, kindError(ErrStoreUnavailable, "%v", err)
	}
	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "recorded wrapped key",
		logkeys.WorkflowID, workflowID,
		logkeys.OwnerID, ownerID,
		logkeys.DatasetID, datasetID,
	)
	return k, nil
}
