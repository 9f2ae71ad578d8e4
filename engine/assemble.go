package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/collabtee/collabtee/workflow"
)

// Assembly is the executor payload built for one run.
type Assembly struct {
	Datasets []workflow.DatasetRef

	// rows excluded because they had no same-owner counterpart
	DroppedDatasets int
	DroppedKeys     int
}

// ownerOrder returns the creator followed by the collaborators with
// repeats and empty IDs removed.
func ownerOrder(creatorID string, collaboratorIDs []string) []string {
	seen := make(map[string]struct{}, len(collaboratorIDs)+1)
	var owners []string
	for _, id := range append([]string{creatorID}, collaboratorIDs...) {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		owners = append(owners, id)
	}
	return owners
}

// joinOwner pairs an owner's datasets with the wrapped keys having the same
// ID, datasets most recent first. It returns the pairs and the counts of
// unmatched datasets and keys.
func joinOwner(owner string, datasets []*workflow.Dataset, keys []*workflow.WrappedKey) ([]workflow.DatasetRef, int, int) {
	keysByID := make(map[string]*workflow.WrappedKey, len(keys))
	for _, k := range keys {
		if k != nil && k.OwnerID == owner {
			keysByID[k.ID] = k
		}
	}

	sorted := make([]*workflow.Dataset, 0, len(datasets))
	for _, d := range datasets {
		if d != nil && d.OwnerID == owner {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var refs []workflow.DatasetRef
	var droppedDatasets int
	used := make(map[string]struct{}, len(keysByID))
	for _, d := range sorted {
		k, ok := keysByID[d.ID]
		if !ok {
			droppedDatasets++
			continue
		}
		used[d.ID] = struct{}{}
		refs = append(refs, workflow.DatasetRef{
			Owner:         owner,
			CiphertextRef: d.CiphertextRef,
			WrappedKeyRef: k.WrappedKeyRef,
		})
	}
	return refs, droppedDatasets, len(keysByID) - len(used)
}

// Assemble joins the datasets and wrapped keys of each owner for
// creatorID's workflowID. Owners are visited in order with repeats skipped.
// Store failures are returned as ErrStoreUnavailable.
func (e *Engine) Assemble(ctx context.Context, creatorID, workflowID string, ownerIDs []string) (*Assembly, error) {
	a := new(Assembly)
	seen := make(map[string]struct{}, len(ownerIDs))
	for _, owner := range ownerIDs {
		if _, ok := seen[owner]; ok {
			continue
		}
		seen[owner] = struct{}{}

		datasets, err := e.storage.RetrieveDatasets(ctx, owner, creatorID, workflowID)
		if err != nil {
			return nil, kindError(ErrStoreUnavailable, "retrieving datasets of %s: %v", owner, err)
		}
		keys, err := e.storage.RetrieveWrappedKeys(ctx, owner, creatorID, workflowID)
		if err != nil {
			return nil, kindError(ErrStoreUnavailable, "retrieving wrapped keys of %s: %v", owner, err)
		}

		refs, droppedDatasets, droppedKeys := joinOwner(owner, datasets, keys)
		a.Datasets = append(a.Datasets, refs...)
		a.DroppedDatasets += droppedDatasets
		a.DroppedKeys += droppedKeys
	}
	return a, nil
}

func (a *Assembly) String() string {
	return fmt.Sprintf("%d datasets (%d datasets, %d keys dropped)", len(a.Datasets), a.DroppedDatasets, a.DroppedKeys)
}
