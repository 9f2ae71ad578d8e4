package pgsql

import (
	"context"
	"os"
	"testing"

	"github.com/collabtee/collabtee/engine/storage"
	"github.com/collabtee/collabtee/engine/storage/test"
)

func TestPgSQLStorage(t *testing.T) {
	testDSN := os.Getenv("COLLABTEE_PGSQL_STORAGE_TEST_DSN")
	if testDSN == "" {
		t.Skip("COLLABTEE_PGSQL_STORAGE_TEST_DSN not set")
	}

	ctx := context.Background()

	s, err := New(ctx, WithDSN(testDSN))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err = s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	truncate := func() {
		_, err := s.pool.Exec(ctx, `TRUNCATE workflows, approvals, datasets, wrapped_keys, results;`)
		if err != nil {
			t.Fatal(err)
		}
	}

	test.TestEngineStorage(t, func() storage.AllStorage { truncate(); return s })
}
