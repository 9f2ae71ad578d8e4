// Package kv implements a workflow engine storage backend using a key-value interface.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/utils/uuid"
	"github.com/collabtee/collabtee/workflow"

	"github.com/micromdm/nanolib/storage/kv"
)

// NewBucketFunc returns the bucket that backs one party's collection of entity.
// The owner is empty for the shared result collection.
type NewBucketFunc func(entity storage.Entity, owner string) kv.KeysPrefixTraversingBucket

// KV is a workflow engine storage backend using a key-value interface.
// Each (entity, owner) collection is a distinct bucket.
type KV struct {
	mu sync.RWMutex // serializes writers, notably conditional updates

	newBucket NewBucketFunc
	bucketsMu sync.Mutex
	buckets   map[string]kv.KeysPrefixTraversingBucket

	ider uuid.IDer
}

// New creates a new key-value workflow engine storage backend.
func New(newBucket NewBucketFunc, ider uuid.IDer) *KV {
	return &KV{
		newBucket: newBucket,
		buckets:   make(map[string]kv.KeysPrefixTraversingBucket),
		ider:      ider,
	}
}

// collection returns the (cached) bucket for an owner's entity collection.
func (s *KV) collection(entity storage.Entity, owner string) kv.KeysPrefixTraversingBucket {
	name := string(entity) + "/" + owner
	s.bucketsMu.Lock()
	defer s.bucketsMu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = s.newBucket(entity, owner)
		s.buckets[name] = b
	}
	return b
}

func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound)
}

// StoreWorkflow implements the storage interface method.
func (s *KV) StoreWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating workflow: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.collection(storage.EntityWorkflow, w.CreatorID)
	k := keyPart(w.ID)
	if found, err := b.Has(ctx, k); err != nil {
		return fmt.Errorf("checking workflow %s: %w", w.ID, err)
	} else if found {
		return fmt.Errorf("%w: workflow %s", storage.ErrAlreadyExists, w.ID)
	}
	return kvSetJSON(ctx, b, k, w)
}

// RetrieveWorkflow implements the storage interface method.
func (s *KV) RetrieveWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	if creatorID == "" {
		return nil, storage.ErrMissingOwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorkflow(ctx, creatorID, workflowID)
}

func (s *KV) getWorkflow(ctx context.Context, creatorID, workflowID string) (*workflow.Workflow, error) {
	w := new(workflow.Workflow)
	err := kvGetJSON(ctx, s.collection(storage.EntityWorkflow, creatorID), keyPart(workflowID), w)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: workflow %s", storage.ErrNotFound, workflowID)
	} else if err != nil {
		return nil, fmt.Errorf("getting workflow %s: %w", workflowID, err)
	}
	return w, nil
}

// RetrieveWorkflows implements the storage interface method.
func (s *KV) RetrieveWorkflows(ctx context.Context, creatorID string) ([]*workflow.Workflow, error) {
	if creatorID == "" {
		return nil, storage.ErrMissingOwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.collection(storage.EntityWorkflow, creatorID)
	var ret []*workflow.Workflow
	err := kvGetAllJSON(ctx, b, collectKeys(ctx, b, ""),
		func() interface{} { return new(workflow.Workflow) },
		func(v interface{}) { ret = append(ret, v.(*workflow.Workflow)) },
	)
	if err != nil {
		return ret, fmt.Errorf("getting workflows: %w", err)
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].CreatedAt.After(ret[j].CreatedAt) })
	return ret, nil
}

// UpdateWorkflowStatus implements the storage interface method.
func (s *KV) UpdateWorkflowStatus(ctx context.Context, creatorID, workflowID string, from, to workflow.Status, at time.Time) error {
	if creatorID == "" {
		return storage.ErrMissingOwnerID
	}
	if err := from.CheckTransition(to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.getWorkflow(ctx, creatorID, workflowID)
	if err != nil {
		return err
	}
	if w.Status != from {
		return fmt.Errorf("%w: workflow %s is %s, expected %s", storage.ErrStatusConflict, workflowID, w.Status, from)
	}
	w.Status = to
	w.UpdatedAt = at
	return kvSetJSON(ctx, s.collection(storage.EntityWorkflow, creatorID), keyPart(workflowID), w)
}

// StoreApproval implements the storage interface method.
func (s *KV) StoreApproval(ctx context.Context, a *workflow.Approval) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validating approval: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// the timestamp component keeps the log in time order
	k := scopePrefix(a.CreatorID, a.WorkflowID) + tsKey(a.ApprovedAt.UnixNano()) + keySep + s.ider.ID()
	return kvSetJSON(ctx, s.collection(storage.EntityApproval, a.ApproverID), k, a)
}

// RetrieveApprovals implements the storage interface method.
func (s *KV) RetrieveApprovals(ctx context.Context, approverID, creatorID, workflowID string) ([]*workflow.Approval, error) {
	if approverID == "" {
		return nil, storage.ErrMissingOwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.collection(storage.EntityApproval, approverID)
	var ret []*workflow.Approval
	err := kvGetAllJSON(ctx, b, collectKeys(ctx, b, scopePrefix(creatorID, workflowID)),
		func() interface{} { return new(workflow.Approval) },
		func(v interface{}) {
			if a := v.(*workflow.Approval); a.CreatorID == creatorID && a.WorkflowID == workflowID {
				ret = append(ret, a)
			}
		},
	)
	if err != nil {
		return ret, fmt.Errorf("getting approvals: %w", err)
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].ApprovedAt.Before(ret[j].ApprovedAt) })
	return ret, nil
}

// storeImmutable writes v at k in b unless k already exists.
func storeImmutable(ctx context.Context, b kv.Bucket, k, what string, v interface{}) error {
	if found, err := b.Has(ctx, k); err != nil {
		return fmt.Errorf("checking %s: %w", what, err)
	} else if found {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, what)
	}
	return kvSetJSON(ctx, b, k, v)
}

// StoreDataset implements the storage interface method.
func (s *KV) StoreDataset(ctx context.Context, d *workflow.Dataset) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("validating dataset: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return storeImmutable(
		ctx,
		s.collection(storage.EntityDataset, d.OwnerID),
		joinKey(d.CreatorID, d.WorkflowID, d.ID),
		"dataset "+d.ID,
		d,
	)
}

// RetrieveDatasets implements the storage interface method.
func (s *KV) RetrieveDatasets(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.Dataset, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.collection(storage.EntityDataset, ownerID)
	all := creatorID == "" && workflowID == ""
	var prefix string
	if !all {
		prefix = scopePrefix(creatorID, workflowID)
	}
	var ret []*workflow.Dataset
	err := kvGetAllJSON(ctx, b, collectKeys(ctx, b, prefix),
		func() interface{} { return new(workflow.Dataset) },
		func(v interface{}) {
			if d := v.(*workflow.Dataset); all || (d.CreatorID == creatorID && d.WorkflowID == workflowID) {
				ret = append(ret, d)
			}
		},
	)
	if err != nil {
		return ret, fmt.Errorf("getting datasets: %w", err)
	}
	return ret, nil
}

// StoreWrappedKey implements the storage interface method.
func (s *KV) StoreWrappedKey(ctx context.Context, k *workflow.WrappedKey) error {
	if err := k.Validate(); err != nil {
		return fmt.Errorf("validating wrapped key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return storeImmutable(
		ctx,
		s.collection(storage.EntityWrappedKey, k.OwnerID),
		joinKey(k.CreatorID, k.WorkflowID, k.ID),
		"wrapped key "+k.ID,
		k,
	)
}

// RetrieveWrappedKeys implements the storage interface method.
func (s *KV) RetrieveWrappedKeys(ctx context.Context, ownerID, creatorID, workflowID string) ([]*workflow.WrappedKey, error) {
	if ownerID == "" {
		return nil, storage.ErrMissingOwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.collection(storage.EntityWrappedKey, ownerID)
	var ret []*workflow.WrappedKey
	err := kvGetAllJSON(ctx, b, collectKeys(ctx, b, scopePrefix(creatorID, workflowID)),
		func() interface{} { return new(workflow.WrappedKey) },
		func(v interface{}) {
			if k := v.(*workflow.WrappedKey); k.CreatorID == creatorID && k.WorkflowID == workflowID {
				ret = append(ret, k)
			}
		},
	)
	if err != nil {
		return ret, fmt.Errorf("getting wrapped keys: %w", err)
	}
	return ret, nil
}

// StoreResults implements the storage interface method.
func (s *KV) StoreResults(ctx context.Context, results []*workflow.ExecutionResult) error {
	if len(results) < 1 {
		return nil
	}
	for _, r := range results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("validating result: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.collection(storage.EntityResult, "")
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = joinKey(r.CreatorID, r.WorkflowID, r.ID)
		if found, err := b.Has(ctx, keys[i]); err != nil {
			return fmt.Errorf("checking result %s: %w", r.ID, err)
		} else if found {
			return fmt.Errorf("%w: result %s", storage.ErrAlreadyExists, r.ID)
		}
	}
	for i, r := range results {
		if err := kvSetJSON(ctx, b, keys[i], r); err != nil {
			// roll back what we wrote so the batch stays all-or-none
			if rbErr := kv.DeleteSlice(ctx, b, keys[:i]); rbErr != nil {
				return fmt.Errorf("setting result %s: %w; rollback: %v", r.ID, err, rbErr)
			}
			return fmt.Errorf("setting result %s: %w", r.ID, err)
		}
	}
	return nil
}

// RetrieveResults implements the storage interface method.
func (s *KV) RetrieveResults(ctx context.Context, creatorID, workflowID string) ([]*workflow.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.collection(storage.EntityResult, "")
	ret := []*workflow.ExecutionResult{}
	err := kvGetAllJSON(ctx, b, collectKeys(ctx, b, scopePrefix(creatorID, workflowID)),
		func() interface{} { return new(workflow.ExecutionResult) },
		func(v interface{}) {
			if r := v.(*workflow.ExecutionResult); r.CreatorID == creatorID && r.WorkflowID == workflowID {
				ret = append(ret, r)
			}
		},
	)
	if err != nil {
		return ret, fmt.Errorf("getting results: %w", err)
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret, nil
}
