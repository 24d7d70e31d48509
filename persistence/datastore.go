package persistence

import (
	"context"
)

// Datastore is a backend that stores relations. Every method that talks to
// the backend blocks for the round trip and takes a context.
type Datastore interface {
	// DefaultSchema is the schema relations are created in when they name none.
	DefaultSchema() string
	MaxTableNameLen() int
	MaxColumnNameLen() int

	// AssertRelation creates the table for rel if needed and otherwise
	// validates the live table against it, then widens rel's field
	// dimensions to what is actually stored. It is idempotent and safe to
	// call concurrently from several processes.
	AssertRelation(ctx context.Context, rel *Relation, user string) error
	DropRelation(ctx context.Context, rel *Relation, user string) error
	HasRelation(ctx context.Context, schema, table string, user string) (bool, error)

	// CreateEntity returns an unsaved row; it does no I/O.
	CreateEntity(rel *Relation, user string) *Entity
	// GetEntity returns the row with primary key uri or an EntityNotFound error.
	GetEntity(ctx context.Context, rel *Relation, uri string, user string) (*Entity, error)
	// PutEntity inserts a new row or updates a stored one.
	PutEntity(ctx context.Context, e *Entity, user string) error
	PutEntities(ctx context.Context, es []*Entity, user string) error
	DeleteEntity(ctx context.Context, key Key, user string) error
	// DeleteEntities deletes keys in order. Rows or tables that are already
	// gone are skipped; the first other failure stops the deletion.
	DeleteEntities(ctx context.Context, keys []Key, user string) error

	CreateQuery(rel *Relation, user string) Query
	CreateTaskLock(user string) TaskLock

	Close() error
}
