package mysql

import (
	"github.com/collabtee/collabtee/engine/storage"
)

// collection is one party's namespace of an entity table.
// Statements built from it are always bound to the owner.
type collection struct {
	table    string
	ownerCol string
	owner    string
}

var entityTables = map[storage.Entity]struct{ table, ownerCol string }{
	storage.EntityWorkflow:   {"workflows", "creator_id"},
	storage.EntityApproval:   {"approvals", "approver_id"},
	storage.EntityDataset:    {"datasets", "owner_id"},
	storage.EntityWrappedKey: {"wrapped_keys", "owner_id"},
}

func newCollection(entity storage.Entity, owner string) (*collection, error) {
	if owner == "" {
		return nil, storage.ErrMissingOwnerID
	}
	t, ok := entityTables[entity]
	if !ok {
		panic("mysql: no owned table for entity " + entity)
	}
	return &collection{table: t.table, ownerCol: t.ownerCol, owner: owner}, nil
}

// selectQuery builds a SELECT of cols from the collection.
// Any conds are ANDed after the owner condition and args bind them.
func (c *collection) selectQuery(cols, conds, suffix string, args ...any) (string, []any) {
	q := "SELECT " + cols + " FROM " + c.table + " WHERE " + c.ownerCol + " = ?"
	if conds != "" {
		q += " AND " + conds
	}
	if suffix != "" {
		q += " " + suffix
	}
	return q + ";", append([]any{c.owner}, args...)
}

// insertQuery builds an INSERT into the collection of cols (excluding the owner).
func (c *collection) insertQuery(cols []string, args ...any) (string, []any) {
	q := "INSERT INTO " + c.table + " (" + c.ownerCol
	vals := "?"
	for _, col := range cols {
		q += ", " + col
		vals += ", ?"
	}
	return q + ") VALUES (" + vals + ");", append([]any{c.owner}, args...)
}
