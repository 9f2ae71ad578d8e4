package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/micromdm/nanolib/storage/kv"
)

const (
	keySep = "." // separates escaped key components

	// width of the zero-padded nanosecond timestamp in approval keys
	// so that keys sort in time order.
	tsWidth = 20
)

// keyPart escapes s for use as one component of a bucket key.
// Escaped parts never contain a path separator so keys are also safe
// as flat file names for on-disk buckets.
func keyPart(s string) string {
	return url.PathEscape(s)
}

func joinKey(parts ...string) string {
	var k string
	for i, p := range parts {
		if i > 0 {
			k += keySep
		}
		k += keyPart(p)
	}
	return k
}

// scopePrefix is the key prefix of records that belong to the creator's
// workflow. Note the prefix is ambiguous for IDs containing the separator
// so callers also compare the decoded record's creator and workflow IDs.
func scopePrefix(creatorID, workflowID string) string {
	return joinKey(creatorID, workflowID) + keySep
}

func tsKey(nanos int64) string {
	s := strconv.FormatInt(nanos, 10)
	for len(s) < tsWidth {
		s = "0" + s
	}
	return s
}

// collectKeys returns the keys in b having prefix, sorted.
// Keys are fully collected before returning so callers may read and write
// b afterwards without holding up the traversal.
func collectKeys(ctx context.Context, b kv.KeysPrefixTraversingBucket, prefix string) []string {
	var keys []string
	for k := range b.KeysPrefix(ctx, prefix, nil) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kvGetJSON(ctx context.Context, b kv.Bucket, k string, v interface{}) error {
	raw, err := b.Get(ctx, k)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return nil
}

func kvSetJSON(ctx context.Context, b kv.Bucket, k string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return b.Set(ctx, k, raw)
}

// kvGetAllJSON decodes each key in keys using newV for a fresh value
// and passes it to keep. Keys that vanished since listing are skipped.
func kvGetAllJSON(ctx context.Context, b kv.Bucket, keys []string, newV func() interface{}, keep func(interface{})) error {
	for _, k := range keys {
		v := newV()
		err := kvGetJSON(ctx, b, k, v)
		if isNotFound(err) {
			continue
		} else if err != nil {
			return err
		}
		keep(v)
	}
	return nil
}
