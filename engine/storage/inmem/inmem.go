// Package inmem implements an engine storage backend using the a map-based key-value store.
package inmem

import (
	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/engine/storage/kv"
	"github.com/collabtee/collabtee/utils/uuid"

	nkv "github.com/micromdm/nanolib/storage/kv"
	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory engine storage backend.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(
		func(_ storage.Entity, _ string) nkv.KeysPrefixTraversingBucket { return kvmap.New() },
		uuid.NewUUID(),
	)}
}
