// Package objstore defines the object store used for encrypted datasets,
// wrapped keys and executor outputs.
//
// The orchestrator never reads or writes object contents. It only hands out
// short-lived URLs and checks that referenced objects exist.
package objstore

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrEmptyRef   = errors.New("empty object ref")
	ErrInvalidRef = errors.New("invalid object ref")
)

// Store issues capability URLs for objects identified by a ref.
type Store interface {
	// PutURL returns a URL a client may upload the object to.
	PutURL(ctx context.Context, ref string) (string, error)

	// GetURL returns a URL a client may download the object from.
	GetURL(ctx context.Context, ref string) (string, error)

	// Exists reports whether the object has been stored.
	Exists(ctx context.Context, ref string) (bool, error)
}

// ValidRef checks that ref is a non-empty, slash-separated relative path
// without empty or dot segments.
func ValidRef(ref string) error {
	if ref == "" {
		return ErrEmptyRef
	}
	for _, seg := range strings.Split(ref, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidRef
		}
	}
	return nil
}

// Join joins ref segments with slashes.
func Join(elem ...string) string {
	return strings.Join(elem, "/")
}
