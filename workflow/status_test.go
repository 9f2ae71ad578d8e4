package workflow

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{
		StatusPendingApproval,
		StatusRunning,
		StatusCompleted,
		StatusFailed,
		StatusRejected,
	}
	allowed := map[[2]Status]bool{
		{StatusPendingApproval, StatusRunning}:  true,
		{StatusPendingApproval, StatusRejected}: true,
		{StatusRunning, StatusCompleted}:        true,
		{StatusRunning, StatusFailed}:           true,
	}
	for _, from := range all {
		for _, to := range all {
			if have, want := from.CanTransition(to), allowed[[2]Status{from, to}]; have != want {
				t.Errorf("%s -> %s: have: %v, want: %v", from, to, have, want)
			}
			err := from.CheckTransition(to)
			if allowed[[2]Status{from, to}] && err != nil {
				t.Errorf("%s -> %s: unexpected error: %v", from, to, err)
			} else if !allowed[[2]Status{from, to}] && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: expected ErrInvalidTransition, have: %v", from, to, err)
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, test := range []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusPendingApproval, false, true},
		{StatusRunning, false, true},
		{StatusCompleted, true, false},
		{StatusFailed, true, false},
		{StatusRejected, true, false},
		{Status("BOGUS"), false, false},
	} {
		if have, want := test.status.Terminal(), test.terminal; have != want {
			t.Errorf("%s terminal: have: %v, want: %v", test.status, have, want)
		}
		if have, want := test.status.Active(), test.active; have != want {
			t.Errorf("%s active: have: %v, want: %v", test.status, have, want)
		}
	}
}

func TestRecordsRequireCreator(t *testing.T) {
	for _, test := range []struct {
		name string
		rec  interface{ Validate() error }
	}{
		{"approval", &Approval{WorkflowID: "W", ApproverID: "B"}},
		{"dataset", &Dataset{ID: "D", WorkflowID: "W", OwnerID: "B", CiphertextRef: "c"}},
		{"wrapped_key", &WrappedKey{ID: "D", WorkflowID: "W", OwnerID: "B", WrappedKeyRef: "k"}},
		{"result", &ExecutionResult{ID: "R", WorkflowID: "W", ResultRef: "r"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.rec.Validate(); !errors.Is(err, ErrMissingCreatorID) {
				t.Errorf("have: %v, want: %v", err, ErrMissingCreatorID)
			}
		})
	}
}

func TestWorkflowValidate(t *testing.T) {
	valid := Workflow{
		ID:              "W",
		CreatorID:       "A",
		CollaboratorIDs: []string{"B", "C"},
		WorkloadRef:     "workload/model.tar",
		Status:          StatusPendingApproval,
	}
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		name   string
		modify func(w *Workflow)
		err    error
	}{
		{"no_id", func(w *Workflow) { w.ID = "" }, ErrMissingWorkflowID},
		{"no_creator", func(w *Workflow) { w.CreatorID = "" }, ErrMissingCreatorID},
		{"no_workload", func(w *Workflow) { w.WorkloadRef = "" }, ErrMissingWorkloadRef},
		{"no_collaborators", func(w *Workflow) { w.CollaboratorIDs = nil }, ErrNoCollaborators},
		{"empty_collaborator", func(w *Workflow) { w.CollaboratorIDs = []string{"B", ""} }, ErrEmptyCollaboratorID},
		{"bad_status", func(w *Workflow) { w.Status = "nope" }, ErrInvalidStatus},
	} {
		t.Run(test.name, func(t *testing.T) {
			w := valid
			w.CollaboratorIDs = append([]string(nil), valid.CollaboratorIDs...)
			test.modify(&w)
			if err := w.Validate(); !errors.Is(err, test.err) {
				t.Errorf("have: %v, want: %v", err, test.err)
			}
		})
	}

	var nilWorkflow *Workflow
	if err := nilWorkflow.Validate(); !errors.Is(err, ErrEmptyWorkflow) {
		t.Errorf("have: %v, want: %v", err, ErrEmptyWorkflow)
	}
}
