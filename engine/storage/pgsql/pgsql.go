// Package pgsql implements a workflow engine storage backend using PostgreSQL.
package pgsql

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/workflow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema contains the PostgreSQL schema for the workflow engine storage.
//
//go:embed schema.sql
var Schema string

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PgSQLStorage implements a storage.AllStorage using PostgreSQL.
type PgSQLStorage struct {
	pool *pgxpool.Pool
}

type config struct {
	dsn  string
	pool *pgxpool.Pool
}

// Option allows configuring a PgSQLStorage.
type Option func(*config)

// WithDSN sets the storage PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.dsn = dsn
	}
}

// WithPool sets an existing connection pool for the storage.
// If set, the DSN is ignored.
func WithPool(pool *pgxpool.Pool) Option {
	return func(c *config) {
		c.pool = pool
	}
}

// New creates and returns a new PgSQLStorage.
func New(ctx context.Context, opts ...Option) (*PgSQLStorage, error) {
	cfg := new(config)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.pool == nil {
		poolConfig, err := pgxpool.ParseConfig(cfg.dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing dsn: %w", err)
		}
		if cfg.pool, err = pgxpool.NewWithConfig(ctx, poolConfig); err != nil {
			return nil, fmt.Errorf("creating pool: %w", err)
		}
	}
	if err := cfg.pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PgSQLStorage{pool: cfg.pool}, nil
}

// Migrate applies Schema. The schema is idempotent.
func (s *PgSQLStorage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Close releases the connection pool.
func (s *PgSQLStorage) Close() {
	s.pool.Close()
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// StoreWorkflow implements the storage interface method.
func (s *PgSQLStorage) StoreWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating workflow: %w", err)
	}
	c, err := newCollection(storage.EntityWorkflow, w.CreatorID)
	if err != nil {
		return err
	}
	q, args := c.insertQuery(
		[]string{"workflow_id", "collaborator_ids", "workload_ref", "status", "created_at", "updated_at"},
		w.ID, w.CollaboratorIDs, w.WorkloadRef, string(w.Status), w.CreatedAt, w.UpdatedAt,
	)
	_, err = s.pool.Exec(ctx, q, args...)
	if isDuplicate(err) {
		return fmt.Errorf("%w: workflow %s", storage.ErrAlreadyExists, w.ID)
	}
	return err
}

const workflowColumns = `creator_id, workflow_id, collaborator_ids, workload_ref, status, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	w := new(workflow.Workflow)
	var status string
	err := row.Scan(&w.CreatorID, &w.ID, &w.CollaboratorIDs, &w.WorkloadRef, &status, &w.CreatedAt, &w.UpdatedAt)
	w.Status = workflow.Status(status)
	return w, err
}

// RetrieveWorkflow implements the storage interface method.
func (s *PgSQLStorage) RetrieveWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(workflowColumns, "workflow_id = ?", "", workflowID)
	w, err := scanWorkflow(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", storage.ErrNotFound, workflowID)
	} else if err != nil {
		return nil, err
	}
	return w, nil
}

// RetrieveWorkflows implements the storage interface method.
func (s *PgSQLStorage) RetrieveWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error) {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return nil, err
	}
	q, args := c.selectQuery(workflowColumns, "", "ORDER BY created_at DESC")
	rows, err := s.pool.Query(ctx, q, args...)
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
func (s *PgSQLStorage) UpdateWorkflowStatus(ctx context.Context, creatorID, workflowID string, from, to workflow.Status, at time.Time) error {
	c, err := newCollection(storage.EntityWorkflow, creatorID)
	if err != nil {
		return err
	}
	if err = from.CheckTransition(to); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		q, args := c.selectQuery("status", "workflow_id = ?", "FOR UPDATE", workflowID)
		err := tx.QueryRow(ctx, q, args...).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: workflow %s", storage.ErrNotFound, workflowID)
		} else if err != nil {
			return err
		}
		if workflow.Status(status) != from {
			return fmt.Errorf("%w: workflow %s is %s, expected %s", storage.ErrStatusConflict, workflowID, status, from)
		}
		_, err = tx.Exec(
			ctx,
			`UPDATE workflows SET status = $1, updated_at = $2 WHERE creator_id = $3 AND workflow_id = $4;`,
			string(to),
			at,
			c.owner,
			workflowID,
		)
		return err
	})
}
