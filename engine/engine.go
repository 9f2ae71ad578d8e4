// Package engine implements the collabtee workflow orchestrator: workflow
// lifecycle, the approval gate, dataset assembly and execution dispatch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/executor"
	"github.com/collabtee/collabtee/logkeys"
	"github.com/collabtee/collabtee/objstore"
	"github.com/collabtee/collabtee/utils/uuid"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Executor runs workloads in the trusted execution environment.
type Executor interface {
	Execute(ctx context.Context, req *executor.ExecuteRequest) (*executor.ExecuteResponse, error)
	Logs(ctx context.Context, workflowID string) ([]byte, error)
	Attestation(ctx context.Context) (*executor.Attestation, error)
}

const (
	// DefaultExecuteTimeout bounds a run's executor call.
	DefaultExecuteTimeout = 10 * time.Minute

	DefaultOutputPrefix = "outputs"
	DefaultUploadPrefix = "uploads"
)

// CollaboratorPolicy decides which run-time collaborator sets are
// acceptable relative to a workflow's stored collaborators.
type CollaboratorPolicy string

const (
	// PolicySubset requires every run-time collaborator to be a stored collaborator.
	PolicySubset CollaboratorPolicy = "subset"

	// PolicyExact requires the run-time set to equal the stored set.
	PolicyExact CollaboratorPolicy = "exact"

	// PolicyAny accepts any run-time set.
	PolicyAny CollaboratorPolicy = "any"
)

// ParseCollaboratorPolicy returns the policy named s.
func ParseCollaboratorPolicy(s string) (CollaboratorPolicy, error) {
	switch p := CollaboratorPolicy(s); p {
	case PolicySubset, PolicyExact, PolicyAny:
		return p, nil
	case "":
		return PolicySubset, nil
	}
	return "", fmt.Errorf("unknown collaborator policy: %s", s)
}

// Engine orchestrates collaborative workflows.
type Engine struct {
	storage   storage.AllStorage
	executor  Executor
	objects   objstore.Store
	runLocks  *runLocks
	metrics   *Metrics
	logger    log.Logger
	ider      uuid.IDer
	now       func() time.Time
	workload  string
	outPrefix string
	upPrefix  string

	executeTimeout time.Duration
	retryWait      time.Duration
	policy         CollaboratorPolicy
	rejectOnDenial bool
}

// Options configure the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the engine metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithExecuteTimeout overrides the bound on a run's executor call.
func WithExecuteTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.executeTimeout = timeout
		}
	}
}

// WithOutputPrefix sets the object ref prefix executor outputs are written under.
func WithOutputPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			e.outPrefix = prefix
		}
	}
}

// WithUploadPrefix sets the object ref prefix datasets and keys are uploaded under.
func WithUploadPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix = strings.Trim(prefix, "/"); prefix != "" {
			e.upPrefix = prefix
		}
	}
}

// WithCollaboratorPolicy sets the run-time collaborator policy.
func WithCollaboratorPolicy(p CollaboratorPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithRejectOnDenial makes a denial of a pending workflow by one of its
// collaborators move it to the terminal REJECTED status.
func WithRejectOnDenial(reject bool) Option {
	return func(e *Engine) {
		e.rejectOnDenial = reject
	}
}

// WithIDer sets the ID generator for results and datasets.
func WithIDer(ider uuid.IDer) Option {
	return func(e *Engine) {
		e.ider = ider
	}
}

// WithClock sets the engine time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a new engine. Every workflow runs workloadRef.
func New(storage storage.AllStorage, executor Executor, objects objstore.Store, workloadRef string, opts ...Option) *Engine {
	engine := &Engine{
		storage:        storage,
		executor:       executor,
		objects:        objects,
		runLocks:       newRunLocks(),
		logger:         log.NopLogger,
		ider:           uuid.NewUUID(),
		now:            time.Now,
		workload:       workloadRef,
		outPrefix:      DefaultOutputPrefix,
		upPrefix:       DefaultUploadPrefix,
		executeTimeout: DefaultExecuteTimeout,
		retryWait:      100 * time.Millisecond,
		policy:         PolicySubset,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// validID checks that a workflow or party ID is usable as one object ref segment.
func validID(what, id string) error {
	if strings.TrimSpace(id) == "" {
		return kindError(ErrInvalidArgument, "empty %s", what)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return kindError(ErrInvalidArgument, "invalid %s: %q", what, id)
	}
	return nil
}

// normalizeCollaborators validates ids and removes repeats and creatorID.
func normalizeCollaborators(creatorID string, ids []string) ([]string, error) {
	var ret []string
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range ids {
		if err := validID("collaborator id", id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ret = append(ret, id)
	}
	if len(ret) < 1 {
		return nil, kindError(ErrInvalidArgument, "no collaborators")
	}
	return ret, nil
}

func logAndError(err error, logger log.Logger, msg string) error {
	logger.Info(
		logkeys.Message, msg,
		logkeys.Error, err,
	)
	return fmt.Errorf("%s: %w", msg, err)
}

// retrieveWorkflow maps storage errors to engine error kinds.
func (e *Engine) retrieveWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	w, err := e.storage.RetrieveWorkflow(ctx, creatorID, workflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, kindError(ErrNotFound, "workflow %s of %s", workflowID, creatorID)
	} else if err != nil {
		return nil, kindError(ErrStoreUnavailable, "retrieving workflow %s: %v", workflowID, err)
	}
	return w, nil
}

// CreateWorkflow creates a pending workflow owned by creatorID.
// Collaborator IDs are deduplicated in order and the creator is removed.
func (e *Engine) CreateWorkflow(ctx context.Context, workflowID, creatorID string, collaboratorIDs []string) (*workflow.Workflow, error) {
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	collaboratorIDs, err := normalizeCollaborators(creatorID, collaboratorIDs)
	if err != nil {
		return nil, err
	}
	if e.workload == "" {
		return nil, kindError(ErrInvalidArgument, "no workload configured")
	}

	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.WorkflowID, workflowID,
		logkeys.CreatorID, creatorID,
	)

	now := e.now()
	w := &workflow.Workflow{
		ID:              workflowID,
		CreatorID:       creatorID,
		CollaboratorIDs: collaboratorIDs,
		WorkloadRef:     e.workload,
		Status:          workflow.StatusPendingApproval,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.storage.StoreWorkflow(ctx, w)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, kindError(ErrInvalidArgument, "duplicate workflow id %s", workflowID)
	} else if err != nil {
		return nil, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "store workflow")
	}

	logger.Debug(
		logkeys.Message, "created workflow",
		logkeys.FirstCollaboratorID, collaboratorIDs[0],
		logkeys.GenericCount, len(collaboratorIDs),
	)
	return w, nil
}

// RecordApproval appends approverID's decision on creatorID's workflowID
// to their approval log. The workflow must exist and, unless the
// collaborator policy is PolicyAny, approverID must be one of its
// collaborators.
//
// A denial rejects a pending workflow when the engine is configured to
// reject on denial.
func (e *Engine) RecordApproval(ctx context.Context, workflowID, creatorID, approverID string, approved bool) (*workflow.Approval, error) {
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	if err := validID("approver id", approverID); err != nil {
		return nil, err
	}

	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.WorkflowID, workflowID,
		logkeys.CreatorID, creatorID,
		logkeys.ApproverID, approverID,
	)

	w, err := e.retrieveWorkflow(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}
	if e.policy != PolicyAny && !w.HasCollaborator(approverID) {
		return nil, kindError(ErrInvalidArgument, "%s is not a collaborator of workflow %s", approverID, workflowID)
	}

	a := &workflow.Approval{
		WorkflowID: workflowID,
		CreatorID:  creatorID,
		ApproverID: approverID,
		Approved:   approved,
		ApprovedAt: e.now(),
	}
	if err := e.storage.StoreApproval(ctx, a); err != nil {
		return nil, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "store approval")
	}
	e.metrics.observeApproval(a.Label())
	logger.Debug(logkeys.Message, "recorded approval", "approved", approved)

	if !approved && e.rejectOnDenial && w.Status == workflow.StatusPendingApproval && w.HasCollaborator(approverID) {
		err := e.storage.UpdateWorkflowStatus(ctx, w.CreatorID, w.ID, workflow.StatusPendingApproval, workflow.StatusRejected, a.ApprovedAt)
		if errors.Is(err, storage.ErrStatusConflict) {
			// a run won the race; the denial stays in the log
			logger.Info(logkeys.Message, "reject workflow", logkeys.Error, err)
		} else if err != nil {
			return a, logAndError(kindError(ErrStoreUnavailable, "%v", err), logger, "reject workflow")
		} else {
			logger.Info(logkeys.Message, "rejected workflow", logkeys.Status, workflow.StatusRejected)
		}
	}
	return a, nil
}

// GetWorkflow returns one of creatorID's workflows.
func (e *Engine) GetWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	if err := validID("workflow id", workflowID); err != nil {
		return nil, err
	}
	return e.retrieveWorkflow(ctx, creatorID, workflowID)
}

// ListWorkflows returns creatorID's workflows, newest first.
func (e *Engine) ListWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error) {
	if err := validID("creator id", creatorID); err != nil {
		return nil, err
	}
	ws, err := e.storage.RetrieveWorkflows(ctx, creatorID)
	if err != nil {
		return nil, kindError(ErrStoreUnavailable, "retrieving workflows: %v", err)
	}
	if ws == nil {
		ws = []*workflow.Workflow{}
	}
	return ws, nil
}
