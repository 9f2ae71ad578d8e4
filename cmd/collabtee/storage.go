package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	storageeng "github.com/collabtee/collabtee/engine/storage"
	storageengdiskv "github.com/collabtee/collabtee/engine/storage/diskv"
	storageenginmem "github.com/collabtee/collabtee/engine/storage/inmem"
	storageengmysql "github.com/collabtee/collabtee/engine/storage/mysql"
	storageengpgsql "github.com/collabtee/collabtee/engine/storage/pgsql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/micromdm/nanolib/storage/kv"
	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/micromdm/nanolib/storage/kv/kvmap"
	"github.com/peterbourgon/diskv/v3"
)

// parseOptions splits comma-separated storage options into a set.
func parseOptions(options string) map[string]bool {
	ret := make(map[string]bool)
	for _, o := range strings.Split(options, ",") {
		if o = strings.TrimSpace(o); o != "" {
			ret[o] = true
		}
	}
	return ret
}

// parseStorage returns the metadata store named name.
// The SQL backends accept the "migrate" option to create their tables.
func parseStorage(ctx context.Context, name, dsn, options string) (storageeng.AllStorage, error) {
	opts := parseOptions(options)
	switch name {
	case "inmem":
		return storageenginmem.New(), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return storageengdiskv.New(dsn), nil
	case "mysql":
		s, err := storageengmysql.New(storageengmysql.WithDSN(dsn))
		if err != nil {
			return nil, err
		}
		if opts["migrate"] {
			if err = s.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrating mysql storage: %w", err)
			}
		}
		return s, nil
	case "pgsql":
		s, err := storageengpgsql.New(ctx, storageengpgsql.WithDSN(dsn))
		if err != nil {
			return nil, err
		}
		if opts["migrate"] {
			if err = s.Migrate(ctx); err != nil {
				s.Close()
				return nil, fmt.Errorf("migrating pgsql storage: %w", err)
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}

// objectBucket returns the bucket backing the local object store.
// Objects are kept in memory if path is empty.
func objectBucket(path string) kv.Bucket {
	if path == "" {
		return kvmap.New()
	}
	return kvdiskv.New(diskv.New(diskv.Options{
		BasePath:     filepath.Clean(path),
		Transform:    kvdiskv.FlatTransform,
		CacheSizeMax: 16 * 1024 * 1024,
	}))
}
