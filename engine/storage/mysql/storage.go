package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/workflow"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const workflowColumns = `creator_id, workflow_id, collaborator_ids, workload_ref, status, created_at, updated_at`

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	w := new(workflow.Workflow)
	var collabs []byte
	err := row.Scan(&w.CreatorID, &w.ID, &collabs, &w.WorkloadRef, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(collabs, &w.CollaboratorIDs); err != nil {
		return nil, fmt.Errorf("unmarshal collaborators: %w", err)
	}
	return w, nil
}

// StoreWorkflow implements the storage interface method.
func (s *MySQLStorage) StoreWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating workflow: %w", err)
	}
	c, err := newCollection(storage.EntityWorkflow, w.CreatorID)
	if err != nil {
		return err
	}
	collabs, err := json.Marshal(w.CollaboratorIDs)
	if err != nil {
		return fmt.Errorf("marshal collaborators: %w", err)
	}
	q, args := c.insertQuery(
		[]string{"workflow_id", "collaborator_ids", "workload_ref", "status", "created_at", "updated_at"},
		w.ID, collabs, w.WorkloadRef, w.Status, w.CreatedAt, w.UpdatedAt,
	)
	_, err = s.db.ExecContext(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: workflow %s", storage.ErrAlreadyExists, w.ID)
	}
	return err
}

// RetrieveWorkflow implements the storage interface method.
func (s *MySQLStorage) RetrieveWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(workflowColumns, "workflow_id = ?", "", workflowID)
	w, err := scanWorkflow(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", storage.ErrNotFound, workflowID)
	}
	return w, err
}

// RetrieveWorkflows implements the storage interface method.
func (s *MySQLStorage) RetrieveWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error) {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(workflowColumns, "", "ORDER BY created_at DESC")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return ret, err
		}
		ret = append(ret, w)
	}
	return ret, rows.Err()
}

// UpdateWorkflowStatus implements the storage interface method.
func (s *MySQLStorage) UpdateWorkflowStatus(ctx context.Context, creatorID, workflowID string, from, to workflow.Status, at time.Time) error {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return err
	}
	if err = from.CheckTransition(to); err != nil {
		return err
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var status workflow.Status
		q, args := c.selectQuery("status", "workflow_id = ?", "FOR UPDATE", workflowID)
		err := tx.QueryRowContext(ctx, q, args...).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: workflow %s", storage.ErrNotFound, workflowID)
		} else if err != nil {
			return err
		}
		if status != from {
			return fmt.Errorf("%w: workflow %s is %s, expected %s", storage.ErrStatusConflict, workflowID, status, from)
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE workflows SET status = ?, updated_at = ? WHERE creator_id = ? AND workflow_id = ? AND status = ?;`,
			to,
			at,
			c.owner,
			workflowID,
			from,
		)
		return err
	})
}

// StoreApproval implements the storage interface method.
func (s *MySQLStorage) StoreApproval(ctx context.Context, a *workflow.Approval) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validating approval: %w", err)
	}
	c, err := newCollection(storage.EntityApproval, a.ApproverID)
	if err != nil {
		return err
	}
	q, args := c.insertQuery(
		[]string{"creator_id", "workflow_id", "approved", "approved_at"},
		a.CreatorID, a.WorkflowID, a.Approved, a.ApprovedAt,
	)
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// RetrieveApprovals implements the storage interface method.
func (s *MySQLStorage) RetrieveApprovals(ctx context.Context, approverID, creatorID, workflowID string) ([]*workflow.Approval, error) {
	c, err := newCollection(storage.EntityApproval, approverID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(
		"approver_id, creator_id, workflow_id, approved, approved_at",
		"creator_id = ? AND workflow_id = ?",
		"ORDER BY approved_at, id",
		creatorID, workflowID,
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*workflow.Approval
	for rows.Next() {
		a := new(workflow.Approval)
		if err = rows.Scan(&a.ApproverID, &a.CreatorID, &a.WorkflowID, &a.Approved, &a.ApprovedAt); err != nil {
			return ret, err
		}
		ret = append(ret, a)
	}
	return ret, rows.Err()
}

// StoreDataset implements the storage interface method.
func (s *MySQLStorage) StoreDataset(ctx context.Context, d *workflow.Dataset) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("validating dataset: %w", err)
	}
	c, err := newCollection(storage.EntityDataset, d.OwnerID)
	if err != nil {
		return err
	}
	q, args := c.insertQuery(
		[]string{"creator_id", "workflow_id", "dataset_id", "filename", "ciphertext_ref", "created_at"},
		d.CreatorID, d.WorkflowID, d.ID, d.Filename, d.CiphertextRef, d.CreatedAt,
	)
	_, err = s.db.ExecContext(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: dataset %s", storage.ErrAlreadyExists, d.ID)
	}
	return err
}

// RetrieveDatasets implements the storage interface method.
func (s *MySQLStorage) RetrieveDatasets(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.Dataset, error) {
	c, err := newCollection(storage.EntityDataset, ownerID)
	if err != nil {
		return nil, err
	}
	var conds string
	var condArgs []any
	if creatorID != "" || workflowID != "" {
		conds = "creator_id = ? AND workflow_id = ?"
		condArgs = append(condArgs, creatorID, workflowID)
	}
	q, args := c.selectQuery(
		"owner_id, creator_id, workflow_id, dataset_id, filename, ciphertext_ref, created_at",
		conds,
		"ORDER BY created_at",
		condArgs...,
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*workflow.Dataset
	for rows.Next() {
		d := new(workflow.Dataset)
		if err = rows.Scan(&d.OwnerID, &d.CreatorID, &d.WorkflowID, &d.ID, &d.Filename, &d.CiphertextRef, &d.CreatedAt); err != nil {
			return ret, err
		}
		ret = append(ret, d)
	}
	return ret, rows.Err()
}

// StoreWrappedKey implements the storage interface method.
func (s *MySQLStorage) StoreWrappedKey(ctx context.Context, k *workflow.WrappedKey) error {
	if err := k.Validate(); err != nil {
		return fmt.Errorf("validating wrapped key: %w", err)
	}
	c, err := newCollection(storage.EntityWrappedKey, k.OwnerID)
	if err != nil {
		return err
	}
	q, args := c.insertQuery(
		[]string{"creator_id", "workflow_id", "key_id", "wrapped_key_ref", "created_at"},
		k.CreatorID, k.WorkflowID, k.ID, k.WrappedKeyRef, k.CreatedAt,
	)
	_, err = s.db.ExecContext(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: wrapped key %s", storage.ErrAlreadyExists, k.ID)
	}
	return err
}

// RetrieveWrappedKeys implements the storage interface method.
func (s *MySQLStorage) RetrieveWrappedKeys(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.WrappedKey, error) {
	c, err := newCollection(storage.EntityWrappedKey, ownerID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(
		"owner_id, creator_id, workflow_id, key_id, wrapped_key_ref, created_at",
		"creator_id = ? AND workflow_id = ?",
		"",
		creatorID, workflowID,
	)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*workflow.WrappedKey
	for rows.Next() {
		k := new(workflow.WrappedKey)
		if err = rows.Scan(&k.OwnerID, &k.CreatorID, &k.WorkflowID, &k.ID, &k.WrappedKeyRef, &k.CreatedAt); err != nil {
			return ret, err
		}
		ret = append(ret, k)
	}
	return ret, rows.Err()
}

// StoreResults implements the storage interface method.
func (s *MySQLStorage) StoreResults(ctx context.Context, results []*workflow.ExecutionResult) error {
	if len(results) < 1 {
		return nil
	}
	for _, r := range results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("validating result: %w", err)
		}
	}
	return tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, r := range results {
			_, err := tx.ExecContext(
				ctx, `
INSERT INTO results
	(result_id, creator_id, workflow_id, executed_artifact_ref, result_ref, created_at)
VALUES
	(?, ?, ?, ?, ?, ?);`,
				r.ID,
				r.CreatorID,
				r.WorkflowID,
				r.ExecutedArtifactRef,
				r.ResultRef,
				r.CreatedAt,
			)
			if isDuplicate(err) {
				return fmt.Errorf("%w: result %s", storage.ErrAlreadyExists, r.ID)
			} else if err != nil {
				return fmt.Errorf("inserting result %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// RetrieveResults implements the storage interface method.
func (s *MySQLStorage) RetrieveResults(ctx context.Context, creatorID, workflowID string) ([]*workflow.ExecutionResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT result_id, creator_id, workflow_id, executed_artifact_ref, result_ref, created_at FROM results WHERE creator_id = ? AND workflow_id = ? ORDER BY created_at;`,
		creatorID,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := []*workflow.ExecutionResult{}
	for rows.Next() {
		r := new(workflow.ExecutionResult)
		if err = rows.Scan(&r.ID, &r.CreatorID, &r.WorkflowID, &r.ExecutedArtifactRef, &r.ResultRef, &r.CreatedAt); err != nil {
			return ret, err
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}
