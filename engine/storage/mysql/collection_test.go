package mysql

import (
	"errors"
	"testing"

	"github.com/collabtee/collabtee/engine/storage"
)

func TestCollectionQueries(t *testing.T) {
	if _, err := newCollection(storage.EntityDataset, ""); !errors.Is(err, storage.ErrMissingOwnerID) {
		t.Errorf("have: %v, want: %v", err, storage.ErrMissingOwnerID)
	}

	c, err := newCollection(storage.EntityDataset, "A")
	if err != nil {
		t.Fatal(err)
	}

	q, args := c.selectQuery("dataset_id", "workflow_id = ?", "ORDER BY created_at", "W")
	if have, want := q, "SELECT dataset_id FROM datasets WHERE owner_id = ? AND workflow_id = ? ORDER BY created_at;"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(args), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := args[0], "A"; have != want {
		t.Errorf("owner arg: have: %v, want: %v", have, want)
	}

	q, args = c.insertQuery([]string{"workflow_id", "dataset_id"}, "W", "D")
	if have, want := q, "INSERT INTO datasets (owner_id, workflow_id, dataset_id) VALUES (?, ?, ?);"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(args), 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
