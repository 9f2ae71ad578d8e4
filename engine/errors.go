package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned from an Engine operation wraps at most
// one of these.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrNotApproved         = errors.New("not approved")
	ErrNoDatasets          = errors.New("no datasets")
	ErrExecutorUnavailable = errors.New("executor unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConflict            = errors.New("conflict")
)

// Kind is the stable name of an error kind.
type Kind string

const (
	KindInvalidArgument     Kind = "InvalidArgument"
	KindNotFound            Kind = "NotFound"
	KindNotApproved         Kind = "NotApproved"
	KindNoDatasets          Kind = "NoDatasets"
	KindExecutorUnavailable Kind = "ExecutorUnavailable"
	KindStoreUnavailable    Kind = "StoreUnavailable"
	KindConflict            Kind = "Conflict"
	KindInternal            Kind = "Internal"
)

var kinds = []struct {
	err    error
	kind   Kind
	status int
}{
	{ErrInvalidArgument, KindInvalidArgument, http.StatusBadRequest},
	{ErrNotFound, KindNotFound, http.StatusNotFound},
	{ErrNotApproved, KindNotApproved, http.StatusForbidden},
	{ErrNoDatasets, KindNoDatasets, http.StatusBadRequest},
	{ErrExecutorUnavailable, KindExecutorUnavailable, http.StatusBadGateway},
	{ErrStoreUnavailable, KindStoreUnavailable, http.StatusServiceUnavailable},
	{ErrConflict, KindConflict, http.StatusConflict},
}

// ErrorKind returns the kind of err or KindInternal if it has none.
func ErrorKind(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// HTTPStatus returns the HTTP status code for the kind of err.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// kindError wraps kind with a formatted message.
// The cause (if any) is formatted, not wrapped, so that err carries one kind.
func kindError(kind error, format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, a...))
}
