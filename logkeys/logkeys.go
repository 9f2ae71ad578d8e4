// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	WorkflowID = "workflow_id"
	CreatorID  = "creator_id"
	ApproverID = "approver_id"
	OwnerID    = "owner_id"
	DatasetID  = "dataset_id"

	// in cases where we might need to log multiple party IDs but only
	// want to log the first (to avoid massive lists in logs).
	FirstCollaboratorID = "collaborator_id_first"

	Status   = "status"
	Ref      = "ref"
	Duration = "duration"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
