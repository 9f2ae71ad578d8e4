package workflow

import (
	"errors"
	"time"
)

var (
	ErrEmptyWorkflow       = errors.New("empty workflow")
	ErrMissingWorkflowID   = errors.New("missing workflow id")
	ErrMissingCreatorID    = errors.New("missing creator id")
	ErrMissingOwnerID      = errors.New("missing owner id")
	ErrMissingApproverID   = errors.New("missing approver id")
	ErrMissingDatasetID    = errors.New("missing dataset id")
	ErrMissingRef          = errors.New("missing object reference")
	ErrMissingWorkloadRef  = errors.New("missing workload reference")
	ErrNoCollaborators     = errors.New("no collaborators")
	ErrEmptyCollaboratorID = errors.New("empty collaborator id")
)

// Workflow is a collaborative run definition owned by its creator.
type Workflow struct {
	ID              string    `json:"workflow_id"`
	CreatorID       string    `json:"creator_id"`
	CollaboratorIDs []string  `json:"collaborator_ids"`
	WorkloadRef     string    `json:"workload_ref"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Validate checks w for missing values.
func (w *Workflow) Validate() error {
	if w == nil {
		return ErrEmptyWorkflow
	}
	if w.ID == "" {
		return ErrMissingWorkflowID
	}
	if w.CreatorID == "" {
		return ErrMissingCreatorID
	}
	if w.WorkloadRef == "" {
		return ErrMissingWorkloadRef
	}
	if len(w.CollaboratorIDs) < 1 {
		return ErrNoCollaborators
	}
	for _, id := range w.CollaboratorIDs {
		if id == "" {
			return ErrEmptyCollaboratorID
		}
	}
	if !w.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// HasCollaborator reports whether id is a declared collaborator of w.
func (w *Workflow) HasCollaborator(id string) bool {
	for _, c := range w.CollaboratorIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Approval is one entry in an approver's append-only approval log.
// The most recent entry by ApprovedAt for a workflow is authoritative.
// A workflow is identified by its creator and ID together.
type Approval struct {
	WorkflowID string    `json:"workflow_id"`
	CreatorID  string    `json:"creator_id"`
	ApproverID string    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	ApprovedAt time.Time `json:"approved_at"`
}

func (a *Approval) Validate() error {
	if a == nil {
		return errors.New("empty approval")
	}
	if a.WorkflowID == "" {
		return ErrMissingWorkflowID
	}
	if a.CreatorID == "" {
		return ErrMissingCreatorID
	}
	if a.ApproverID == "" {
		return ErrMissingApproverID
	}
	return nil
}

// Label returns a human-readable label for the approval decision.
func (a *Approval) Label() string {
	if a != nil && a.Approved {
		return "approved"
	}
	return "denied"
}

// Dataset references one encrypted file uploaded by its owner for a workflow.
type Dataset struct {
	ID            string    `json:"dataset_id"`
	WorkflowID    string    `json:"workflow_id"`
	CreatorID     string    `json:"creator_id"`
	OwnerID       string    `json:"owner_id"`
	Filename      string    `json:"filename"`
	CiphertextRef string    `json:"ciphertext_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

func (d *Dataset) Validate() error {
	if d == nil {
		return errors.New("empty dataset")
	}
	if d.ID == "" {
		return ErrMissingDatasetID
	}
	if d.WorkflowID == "" {
		return ErrMissingWorkflowID
	}
	if d.CreatorID == "" {
		return ErrMissingCreatorID
	}
	if d.OwnerID == "" {
		return ErrMissingOwnerID
	}
	if d.CiphertextRef == "" {
		return ErrMissingRef
	}
	return nil
}

// WrappedKey references the wrapped data key for the dataset with the same ID.
type WrappedKey struct {
	ID            string    `json:"key_id"` // same as the dataset ID
	WorkflowID    string    `json:"workflow_id"`
	CreatorID     string    `json:"creator_id"`
	OwnerID       string    `json:"owner_id"`
	WrappedKeyRef string    `json:"wrapped_key_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

func (k *WrappedKey) Validate() error {
	if k == nil {
		return errors.New("empty wrapped key")
	}
	if k.ID == "" {
		return ErrMissingDatasetID
	}
	if k.WorkflowID == "" {
		return ErrMissingWorkflowID
	}
	if k.CreatorID == "" {
		return ErrMissingCreatorID
	}
	if k.OwnerID == "" {
		return ErrMissingOwnerID
	}
	if k.WrappedKeyRef == "" {
		return ErrMissingRef
	}
	return nil
}

// ExecutionResult is one output reference produced by a successful run.
type ExecutionResult struct {
	ID                  string    `json:"result_id"`
	WorkflowID          string    `json:"workflow_id"`
	CreatorID           string    `json:"creator_id"`
	ExecutedArtifactRef string    `json:"executed_artifact_ref"`
	ResultRef           string    `json:"result_ref"`
	CreatedAt           time.Time `json:"created_at"`
}

func (r *ExecutionResult) Validate() error {
	if r == nil {
		return errors.New("empty execution result")
	}
	if r.ID == "" {
		return errors.New("missing result id")
	}
	if r.WorkflowID == "" {
		return ErrMissingWorkflowID
	}
	if r.CreatorID == "" {
		return ErrMissingCreatorID
	}
	if r.ResultRef == "" {
		return ErrMissingRef
	}
	return nil
}

// DatasetRef is a matched dataset and wrapped key pair of a single owner.
// This is the unit the executor decrypts.
type DatasetRef struct {
	Owner         string `json:"owner"`
	CiphertextRef string `json:"ciphertext_ref"`
	WrappedKeyRef string `json:"wrapped_key_ref"`
}
