package pgsql

import (
	"context"
	"fmt"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/workflow"

	"github.com/jackc/pgx/v5"
)

// StoreApproval implements the storage interface method.
func (s *PgSQLStorage) StoreApproval(ctx context.Context, a *workflow.Approval) error {
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
	_, err = s.pool.Exec(ctx, q, args...)
	return err
}

// RetrieveApprovals implements the storage interface method.
func (s *PgSQLStorage) RetrieveApprovals(ctx context.Context, approverID, creatorID, workflowID string) ([]*workflow.Approval, error) {
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
	rows, err := s.pool.Query(ctx, q, args...)
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
func (s *PgSQLStorage) StoreDataset(ctx context.Context, d *workflow.Dataset) error {
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
	_, err = s.pool.Exec(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: dataset %s", storage.ErrAlreadyExists, d.ID)
	}
	return err
}

// RetrieveDatasets implements the storage interface method.
func (s *PgSQLStorage) RetrieveDatasets(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.Dataset, error) {
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
	rows, err := s.pool.Query(ctx, q, args...)
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
func (s *PgSQLStorage) StoreWrappedKey(ctx context.Context, k *workflow.WrappedKey) error {
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
	_, err = s.pool.Exec(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: wrapped key %s", storage.ErrAlreadyExists, k.ID)
	}
	return err
}

// RetrieveWrappedKeys implements the storage interface method.
func (s *PgSQLStorage) RetrieveWrappedKeys(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.WrappedKey, error) {
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
	rows, err := s.pool.Query(ctx, q, args...)
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
func (s *PgSQLStorage) StoreResults(ctx context.Context, results []*workflow.ExecutionResult) error {
	if len(results) < 1 {
		return nil
	}
	for _, r := range results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("validating result: %w", err)
		}
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := new(pgx.Batch)
		for _, r := range results {
			b.Queue(`
INSERT INTO results
	(result_id, creator_id, workflow_id, executed_artifact_ref, result_ref, created_at)
VALUES
	($1, $2, $3, $4, $5, $6);`,
				r.ID,
				r.CreatorID,
				r.WorkflowID,
				r.ExecutedArtifactRef,
				r.ResultRef,
				r.CreatedAt,
			)
		}
		err := tx.SendBatch(ctx, b).Close()
		if isDuplicate(err) {
			return fmt.Errorf("%w: result", storage.ErrAlreadyExists)
		}
		return err
	})
}

// RetrieveResults implements the storage interface method.
func (s *PgSQLStorage) RetrieveResults(ctx context.Context, creatorID, workflowID string) ([]*workflow.ExecutionResult, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT result_id, creator_id, workflow_id, executed_artifact_ref, result_ref, created_at FROM results WHERE creator_id = $1 AND workflow_id = $2 ORDER BY created_at;`,
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
