// Package sqlstore implements persistence.Datastore on top of database/sql.
// Everything backend-specific lives behind the Dialect interface; the
// dialect packages register themselves with Register.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/logger"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/tracing"
)

// Ensure type implements interface.
var _ persistence.Datastore = (*Datastore)(nil)

// Datastore is a persistence.Datastore over one database/sql pool.
type Datastore struct {
	db      *sql.DB
	dialect Dialect
	schema  string
	logger  logger.Logger
	now     func() time.Time
	// lockNow, when set, replaces the backend clock of the task lock.
	lockNow func() time.Time

	mu sync.Mutex
	// asserted maps quoted qualified names of reconciled relations to the
	// statement that created the table, if this process created it.
	asserted map[string]string

	lockMu  sync.Mutex
	lockRel *persistence.Relation
}

// DatastoreOption configures a Datastore.
type DatastoreOption func(ds *Datastore) error

// OptDatastoreLogger sets the logger; the default discards everything.
func OptDatastoreLogger(l logger.Logger) DatastoreOption {
	return func(ds *Datastore) error {
		ds.logger = l
		return nil
	}
}

// OptDatastoreSchema sets the default schema instead of asking the backend.
func OptDatastoreSchema(schema string) DatastoreOption {
	return func(ds *Datastore) error {
		if schema != "" && !persistence.ValidIdentifier(schema) {
			return persistence.NewErrInvalidIdentifier(schema, "invalid schema name")
		}
		ds.schema = schema
		return nil
	}
}

// OptDatastoreClock replaces time.Now for the audit stamps of entities
// written through the Datastore. The task lock does not use it.
func OptDatastoreClock(now func() time.Time) DatastoreOption {
	return func(ds *Datastore) error {
		ds.now = now
		return nil
	}
}

// OptDatastoreLockClock replaces the backend clock the task lock reads its
// current time from. It is meant for tests that need to move time forward;
// processes sharing a lock table must leave it unset.
func OptDatastoreLockClock(now func() time.Time) DatastoreOption {
	return func(ds *Datastore) error {
		ds.lockNow = now
		return nil
	}
}

// Open connects to the backend described by cfg.
func Open(ctx context.Context, cfg Config, opts ...DatastoreOption) (*Datastore, error) {
	d, err := LookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s connection", d.Name())
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, persistence.WrapPersistence(err, "connecting to "+d.Name())
	}
	if cfg.Schema != "" {
		opts = append([]DatastoreOption{OptDatastoreSchema(cfg.Schema)}, opts...)
	}
	ds, err := New(ctx, db, d, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

// New wraps an already opened pool. The Datastore takes ownership of db and
// closes it on Close.
func New(ctx context.Context, db *sql.DB, d Dialect, opts ...DatastoreOption) (*Datastore, error) {
	ds := &Datastore{
		db:       db,
		dialect:  d,
		logger:   logger.NopLogger,
		now:      time.Now,
		asserted: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(ds); err != nil {
			return nil, err
		}
	}
	if ds.schema == "" {
		schema, err := d.CurrentSchema(ctx, db)
		if err != nil {
			return nil, persistence.WrapPersistence(err, "reading current schema")
		}
		ds.schema = schema
	}
	ds.logger = ds.logger.WithPrefix("[" + d.Name() + "] ")
	return ds, nil
}

// DB returns the underlying pool.
func (ds *Datastore) DB() *sql.DB { return ds.db }

// Dialect returns the backend dialect.
func (ds *Datastore) Dialect() Dialect { return ds.dialect }

func (ds *Datastore) Logger() logger.Logger { return ds.logger }

func (ds *Datastore) DefaultSchema() string { return ds.schema }
func (ds *Datastore) MaxTableNameLen() int  { return ds.dialect.MaxTableNameLen() }
func (ds *Datastore) MaxColumnNameLen() int { return ds.dialect.MaxColumnNameLen() }

func (ds *Datastore) Close() error {
	return ds.db.Close()
}

// CreateEntity returns an unsaved row stamped with user and the current time.
func (ds *Datastore) CreateEntity(rel *persistence.Relation, user string) *persistence.Entity {
	return persistence.NewEntity(rel, user, ds.now())
}

func (ds *Datastore) CreateQuery(rel *persistence.Relation, user string) persistence.Query {
	return newQuery(ds, rel)
}

// schemaOf resolves the schema a relation lives in.
func (ds *Datastore) schemaOf(rel *persistence.Relation) string {
	if rel.Schema() != "" {
		return rel.Schema()
	}
	return ds.schema
}

// tableOf returns the quoted, qualified table name of rel.
func (ds *Datastore) tableOf(rel *persistence.Relation) string {
	return QualifiedName(ds.dialect, ds.schemaOf(rel), rel.Table())
}

// metricName is the label the access metrics use for rel.
func (ds *Datastore) metricName(rel *persistence.Relation) string {
	return ds.schemaOf(rel) + "." + rel.Table()
}

func startSpan(ctx context.Context, op string, rel *persistence.Relation) (tracing.Span, context.Context) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Datastore."+op)
	if rel != nil {
		span.LogKV("table", rel.QualifiedName())
	}
	return span, ctx
}
