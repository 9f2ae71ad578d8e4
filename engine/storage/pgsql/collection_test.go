package pgsql

import (
	"testing"

	"github.com/collabtee/collabtee/engine/storage"
)

func TestRebind(t *testing.T) {
	if have, want := rebind("a = ? AND b = ?"), "a = $1 AND b = $2"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestCollectionQueries(t *testing.T) {
	c, err := newCollection(storage.EntityApproval, "B")
	if err != nil {
		t.Fatal(err)
	}
	q, args := c.selectQuery("approved", "workflow_id = ?", "", "W")
	if have, want := q, "SELECT approved FROM approvals WHERE approver_id = $1 AND workflow_id = $2;"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := args[0], "B"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	q, _ = c.insertQuery([]string{"workflow_id", "approved"}, "W", true)
	if have, want := q, "INSERT INTO approvals (approver_id, workflow_id, approved) VALUES ($1, $2, $3);"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
