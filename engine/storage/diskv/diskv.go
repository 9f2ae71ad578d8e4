// Package diskv implements an engine storage backend using the diskv key-value store.
package diskv

import (
	"encoding/hex"
	"path/filepath"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/engine/storage/kv"
	"github.com/collabtee/collabtee/utils/uuid"

	nkv "github.com/micromdm/nanolib/storage/kv"
	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// sharedDir names the directory of collections without an owner.
const sharedDir = "_shared"

// Diskv is a a diskv-backed engine storage backend.
// Each party's collection of each entity is its own directory.
type Diskv struct {
	*kv.KV
}

// ownerDir hex-encodes owner so any party ID is a safe directory name.
func ownerDir(owner string) string {
	if owner == "" {
		return sharedDir
	}
	return hex.EncodeToString([]byte(owner))
}

func New(path string) *Diskv {
	return &Diskv{KV: kv.New(
		func(entity storage.Entity, owner string) nkv.KeysPrefixTraversingBucket {
			return kvdiskv.New(diskv.New(diskv.Options{
				BasePath:     filepath.Join(path, "engine", string(entity), ownerDir(owner)),
				Transform:    kvdiskv.FlatTransform,
				CacheSizeMax: 1024 * 1024,
			}))
		},
		uuid.NewUUID(),
	)}
}
