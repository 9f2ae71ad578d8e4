// Package test is a shared test suite for workflow engine storage backends.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/workflow"
)

// base is a fixed, second-resolution time that survives every backend's
// time encoding.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEngineStorage(t *testing.T, newStorage func() storage.AllStorage) {
	t.Run("testWorkflows", func(t *testing.T) {
		testWorkflows(t, newStorage())
	})

	t.Run("testStatusUpdate", func(t *testing.T) {
		testStatusUpdate(t, newStorage())
	})

	t.Run("testApprovals", func(t *testing.T) {
		testApprovals(t, newStorage())
	})

	t.Run("testDatasets", func(t *testing.T) {
		testDatasets(t, newStorage())
	})

	t.Run("testResults", func(t *testing.T) {
		testResults(t, newStorage())
	})
}

func newWorkflow(id, creator string, created time.Time, collaborators ...string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:              id,
		CreatorID:       creator,
		CollaboratorIDs: collaborators,
		WorkloadRef:     "workloads/train.tar",
		Status:          workflow.StatusPendingApproval,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func testWorkflows(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	if err := s.StoreWorkflow(ctx, nil); err == nil {
		t.Error("expected error storing nil workflow")
	}

	w1 := newWorkflow("W1", "A", base, "B", "C")
	if err := s.StoreWorkflow(ctx, w1); err != nil {
		t.Fatal(err)
	}

	w2 := newWorkflow("W2", "A", base.Add(time.Minute), "B")
	if err := s.StoreWorkflow(ctx, w2); err != nil {
		t.Fatal(err)
	}

	// same ID in another creator's collection is a different workflow
	w1b := newWorkflow("W1", "B", base, "A")
	if err := s.StoreWorkflow(ctx, w1b); err != nil {
		t.Fatal(err)
	}

	err := s.StoreWorkflow(ctx, newWorkflow("W1", "A", base, "C"))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("have: %v, want: %v", err, storage.ErrAlreadyExists)
	}

	w, err := s.RetrieveWorkflow(ctx, "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := w.CreatorID, "A"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(w.CollaboratorIDs), 2; have != want {
		t.Fatalf("collaborators: have: %v, want: %v", have, want)
	}
	if have, want := w.CollaboratorIDs[1], "C"; have != want {
		t.Errorf("collaborator order: have: %v, want: %v", have, want)
	}
	if have, want := w.Status, workflow.StatusPendingApproval; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !w.CreatedAt.Equal(base) {
		t.Errorf("created at: have: %v, want: %v", w.CreatedAt, base)
	}

	// workflows are only found in their creator's collection
	_, err = s.RetrieveWorkflow(ctx, "C", "W1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	_, err = s.RetrieveWorkflow(ctx, "A", "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	_, err = s.RetrieveWorkflow(ctx, "", "W1")
	if err == nil {
		t.Error("expected error for missing creator")
	}

	ws, err := s.RetrieveWorkflows(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ws), 2; have != want {
		t.Fatalf("workflows: have: %v, want: %v", have, want)
	}
	if have, want := ws[0].ID, "W2"; have != want {
		t.Errorf("newest first: have: %v, want: %v", have, want)
	}

	ws, err = s.RetrieveWorkflows(ctx, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ws), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func testStatusUpdate(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	if err := s.StoreWorkflow(ctx, newWorkflow("W1", "A", base, "B")); err != nil {
		t.Fatal(err)
	}

	at := base.Add(time.Hour)
	err := s.UpdateWorkflowStatus(ctx, "A", "W1", workflow.StatusPendingApproval, workflow.StatusRunning, at)
	if err != nil {
		t.Fatal(err)
	}

	// a second caller with the same expectation loses
	err = s.UpdateWorkflowStatus(ctx, "A", "W1", workflow.StatusPendingApproval, workflow.StatusRunning, at)
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Errorf("have: %v, want: %v", err, storage.ErrStatusConflict)
	}

	err = s.UpdateWorkflowStatus(ctx, "A", "W1", workflow.StatusRunning, workflow.StatusCompleted, at.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	w, err := s.RetrieveWorkflow(ctx, "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := w.Status, workflow.StatusCompleted; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !w.UpdatedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("updated at: have: %v, want: %v", w.UpdatedAt, at.Add(time.Minute))
	}

	err = s.UpdateWorkflowStatus(ctx, "B", "W1", workflow.StatusPendingApproval, workflow.StatusRunning, at)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	// backward and terminal moves are refused whatever is stored
	for _, tr := range [][2]workflow.Status{
		{workflow.StatusCompleted, workflow.StatusRunning},
		{workflow.StatusRunning, workflow.StatusPendingApproval},
		{workflow.StatusPendingApproval, workflow.StatusCompleted},
		{workflow.StatusFailed, workflow.StatusRunning},
	} {
		err = s.UpdateWorkflowStatus(ctx, "A", "W1", tr[0], tr[1], at.Add(time.Hour))
		if !errors.Is(err, workflow.ErrInvalidTransition) {
			t.Errorf("%s to %s: have: %v, want: %v", tr[0], tr[1], err, workflow.ErrInvalidTransition)
		}
	}

	w, err = s.RetrieveWorkflow(ctx, "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := w.Status, workflow.StatusCompleted; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func testApprovals(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	as, err := s.RetrieveApprovals(ctx, "B", "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(as), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// stored out of time order on purpose
	for _, a := range []*workflow.Approval{
		{WorkflowID: "W1", CreatorID: "A", ApproverID: "B", Approved: false, ApprovedAt: base.Add(2 * time.Minute)},
		{WorkflowID: "W1", CreatorID: "A", ApproverID: "B", Approved: true, ApprovedAt: base},
		{WorkflowID: "W2", CreatorID: "A", ApproverID: "B", Approved: true, ApprovedAt: base.Add(time.Hour)},
		{WorkflowID: "W1", CreatorID: "A", ApproverID: "C", Approved: true, ApprovedAt: base.Add(time.Hour)},
		{WorkflowID: "W1", CreatorID: "X", ApproverID: "B", Approved: true, ApprovedAt: base.Add(time.Hour)},
	} {
		if err := s.StoreApproval(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.StoreApproval(ctx, &workflow.Approval{WorkflowID: "W1", CreatorID: "A"}); err == nil {
		t.Error("expected error for missing approver")
	}
	if err := s.StoreApproval(ctx, &workflow.Approval{WorkflowID: "W1", ApproverID: "B"}); err == nil {
		t.Error("expected error for missing creator")
	}

	as, err = s.RetrieveApprovals(ctx, "B", "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(as), 2; have != want {
		t.Fatalf("approvals: have: %v, want: %v", have, want)
	}
	if !as[0].ApprovedAt.Equal(base) || !as[0].Approved {
		t.Errorf("oldest first: have: %v", as[0])
	}
	if latest := as[len(as)-1]; latest.Approved {
		t.Error("latest approval should be a denial")
	}

	as, err = s.RetrieveApprovals(ctx, "C", "A", "W2")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(as), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// another creator's workflow with the same ID has its own log
	as, err = s.RetrieveApprovals(ctx, "B", "X", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(as), 1; have != want {
		t.Fatalf("approvals: have: %v, want: %v", have, want)
	}
	if have, want := as[0].CreatorID, "X"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func testDatasets(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	for _, d := range []*workflow.Dataset{
		{ID: "D1", WorkflowID: "W1", CreatorID: "A", OwnerID: "A", Filename: "a.csv", CiphertextRef: "up/A/D1", CreatedAt: base},
		{ID: "D2", WorkflowID: "W1", CreatorID: "A", OwnerID: "A", Filename: "b.csv", CiphertextRef: "up/A/D2", CreatedAt: base.Add(time.Minute)},
		{ID: "D3", WorkflowID: "W2", CreatorID: "A", OwnerID: "A", Filename: "c.csv", CiphertextRef: "up/A/D3", CreatedAt: base},
		{ID: "D4", WorkflowID: "W1", CreatorID: "A", OwnerID: "B", Filename: "d.csv", CiphertextRef: "up/B/D4", CreatedAt: base},
		{ID: "D5", WorkflowID: "W1", CreatorID: "X", OwnerID: "B", Filename: "e.csv", CiphertextRef: "up/B/D5", CreatedAt: base},
	} {
		if err := s.StoreDataset(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	err := s.StoreDataset(ctx, &workflow.Dataset{ID: "D1", WorkflowID: "W1", CreatorID: "A", OwnerID: "A", CiphertextRef: "x"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("have: %v, want: %v", err, storage.ErrAlreadyExists)
	}

	if err := s.StoreDataset(ctx, &workflow.Dataset{ID: "D9", WorkflowID: "W1", CreatorID: "A", OwnerID: "A"}); err == nil {
		t.Error("expected error for missing ciphertext ref")
	}

	ds, err := s.RetrieveDatasets(ctx, "A", "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ds), 2; have != want {
		t.Errorf("datasets: have: %v, want: %v", have, want)
	}
	for _, d := range ds {
		if d.OwnerID != "A" || d.CreatorID != "A" || d.WorkflowID != "W1" {
			t.Errorf("dataset from wrong scope: %v", d)
		}
	}

	// B uploaded to W1 of both A and X
	for creator, id := range map[string]string{"A": "D4", "X": "D5"} {
		ds, err = s.RetrieveDatasets(ctx, "B", creator, "W1")
		if err != nil {
			t.Fatal(err)
		}
		if len(ds) != 1 || ds[0].ID != id {
			t.Errorf("datasets of %s's W1: have: %v, want: %s", creator, ds, id)
		}
	}

	ds, err = s.RetrieveDatasets(ctx, "A", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ds), 3; have != want {
		t.Errorf("all datasets: have: %v, want: %v", have, want)
	}

	for _, k := range []*workflow.WrappedKey{
		{ID: "D1", WorkflowID: "W1", CreatorID: "A", OwnerID: "A", WrappedKeyRef: "keys/A/D1", CreatedAt: base},
		{ID: "D4", WorkflowID: "W1", CreatorID: "A", OwnerID: "B", WrappedKeyRef: "keys/B/D4", CreatedAt: base},
	} {
		if err := s.StoreWrappedKey(ctx, k); err != nil {
			t.Fatal(err)
		}
	}

	err = s.StoreWrappedKey(ctx, &workflow.WrappedKey{ID: "D1", WorkflowID: "W1", CreatorID: "A", OwnerID: "A", WrappedKeyRef: "x"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("have: %v, want: %v", err, storage.ErrAlreadyExists)
	}

	ks, err := s.RetrieveWrappedKeys(ctx, "A", "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ks), 1; have != want {
		t.Fatalf("keys: have: %v, want: %v", have, want)
	}
	if have, want := ks[0].WrappedKeyRef, "keys/A/D1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	ks, err = s.RetrieveWrappedKeys(ctx, "C", "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ks), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	ks, err = s.RetrieveWrappedKeys(ctx, "B", "X", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ks), 0; have != want {
		t.Errorf("key of A's W1 found under X: have: %v, want: %v", have, want)
	}

	if _, err = s.RetrieveDatasets(ctx, "", "A", "W1"); err == nil {
		t.Error("expected error for missing owner")
	}
}

func testResults(t *testing.T, s storage.AllStorage) {
	ctx := context.Background()

	rs, err := s.RetrieveResults(ctx, "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if rs == nil || len(rs) != 0 {
		t.Errorf("expected empty non-nil results, have: %v", rs)
	}

	if err := s.StoreResults(ctx, nil); err != nil {
		t.Errorf("storing no results: %v", err)
	}

	results := []*workflow.ExecutionResult{
		{ID: "R1", WorkflowID: "W1", CreatorID: "A", ExecutedArtifactRef: "out/results/A/W1/executed", ResultRef: "out/results/A/W1/result", CreatedAt: base},
		{ID: "R2", WorkflowID: "W1", CreatorID: "A", ExecutedArtifactRef: "out/results/A/W1/executed", ResultRef: "out/results/A/W1/metrics", CreatedAt: base.Add(time.Second)},
	}
	if err := s.StoreResults(ctx, results); err != nil {
		t.Fatal(err)
	}

	// a batch with one invalid result stores nothing
	err = s.StoreResults(ctx, []*workflow.ExecutionResult{
		{ID: "R3", WorkflowID: "W2", CreatorID: "A", ResultRef: "out/results/A/W2/result", CreatedAt: base},
		{ID: "R4", WorkflowID: "W2", CreatorID: "A", CreatedAt: base},
	})
	if err == nil {
		t.Error("expected error for invalid result batch")
	}

	rs, err = s.RetrieveResults(ctx, "A", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(rs), 2; have != want {
		t.Fatalf("results: have: %v, want: %v", have, want)
	}
	if have, want := rs[0].ID, "R1"; have != want {
		t.Errorf("oldest first: have: %v, want: %v", have, want)
	}

	rs, err = s.RetrieveResults(ctx, "X", "W1")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(rs), 0; have != want {
		t.Errorf("results of another creator's W1: have: %v, want: %v", have, want)
	}

	rs, err = s.RetrieveResults(ctx, "A", "W2")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(rs), 0; have != want {
		t.Errorf("partial batch stored: have: %v, want: %v", have, want)
	}
}
