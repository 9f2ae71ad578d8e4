package inmem

import (
	"testing"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestEngineStorage(t, func() storage.AllStorage { return New() })
}
