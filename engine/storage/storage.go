// Package storage defines types and primitives for workflow engine storage backends.
//
// Workflows, approvals, datasets and wrapped keys are kept in per-party
// collections: every method that touches them is scoped by the owning
// party's ID and implementations must never answer a query for one party
// out of another party's collection. Execution results live in a single
// shared collection.
//
// Workflow IDs are only unique per creator so every record that belongs to
// a workflow carries the creator ID as well and is looked up by both.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/collabtee/collabtee/workflow"
)

var (
	// ErrNotFound is returned when a workflow does not exist in the creator's collection.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when storing a workflow whose ID the creator already uses.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStatusConflict is returned by a conditional status update when
	// the stored status no longer matches the expected status.
	ErrStatusConflict = errors.New("status conflict")

	ErrMissingOwnerID = errors.New("missing owner id")
)

// Entity names a kind of per-party collection.
type Entity string

const (
	EntityWorkflow   Entity = "workflow"
	EntityApproval   Entity = "approval"
	EntityDataset    Entity = "dataset"
	EntityWrappedKey Entity = "wrappedkey"
	EntityResult     Entity = "result"
)

// WorkflowStorage stores workflows in their creator's collection.
type WorkflowStorage interface {
	// StoreWorkflow inserts a new workflow.
	// ErrAlreadyExists is returned if the creator already has a workflow with this ID.
	StoreWorkflow(ctx context.Context, w *workflow.Workflow) error

	// RetrieveWorkflow returns a workflow from the creator's collection.
	// ErrNotFound is returned if it does not exist.
	RetrieveWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error)

	// RetrieveWorkflows returns all of a creator's workflows, newest first.
	RetrieveWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error)

	// UpdateWorkflowStatus atomically sets the workflow status to to (and
	// its updated time to at) only if the stored status is from.
	// A from/to pair that is not a forward transition is rejected with
	// workflow.ErrInvalidTransition before the store is touched.
	// ErrStatusConflict is returned if the stored status differs and
	// ErrNotFound if the workflow does not exist.
	UpdateWorkflowStatus(ctx context.Context, creatorID, workflowID string, from, to workflow.Status, at time.Time) error
}

// ApprovalStorage stores approvals in their approver's collection.
type ApprovalStorage interface {
	// StoreApproval appends an approval to the approver's log.
	StoreApproval(ctx context.Context, a *workflow.Approval) error

	// RetrieveApprovals returns the approver's log entries for the
	// creator's workflow ordered by ApprovedAt, oldest first. Entries with
	// equal times keep their insertion order where the backend can tell.
	RetrieveApprovals(ctx context.Context, approverID, creatorID, workflowID string) ([]*workflow.Approval, error)
}

// DatasetStorage stores datasets and wrapped keys in their owner's collections.
type DatasetStorage interface {
	StoreDataset(ctx context.Context, d *workflow.Dataset) error

	// RetrieveDatasets returns the owner's datasets for the creator's workflow.
	// All of the owner's datasets are returned if creatorID and workflowID
	// are both empty.
	RetrieveDatasets(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.Dataset, error)

	StoreWrappedKey(ctx context.Context, k *workflow.WrappedKey) error

	// RetrieveWrappedKeys returns the owner's wrapped keys for the creator's workflow.
	RetrieveWrappedKeys(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.WrappedKey, error)
}

// ResultStorage stores execution results in the shared collection.
type ResultStorage interface {
	// StoreResults inserts all results or none of them.
	StoreResults(ctx context.Context, results []*workflow.ExecutionResult) error

	// RetrieveResults returns the results of the creator's workflow, oldest first.
	// An empty slice (and no error) is returned if there are none.
	RetrieveResults(ctx context.Context, creatorID, workflowID string) ([]*workflow.ExecutionResult, error)
}

// AllStorage is the complete metadata store used by the workflow engine.
type AllStorage interface {
	WorkflowStorage
	ApprovalStorage
	DatasetStorage
	ResultStorage
}
