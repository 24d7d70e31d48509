package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

// AssertRelation creates rel's table if it is missing, validates it against
// the live columns and widens rel's field dimensions to what is stored.
func (ds *Datastore) AssertRelation(ctx context.Context, rel *persistence.Relation, user string) error {
	span, ctx := startSpan(ctx, "AssertRelation", rel)
	defer span.Finish()

	if err := ds.checkNames(rel); err != nil {
		return err
	}
	schema := ds.schemaOf(rel)

	cols, err := ds.dialect.Introspect(ctx, ds.db, schema, rel.Table())
	if err != nil {
		return persistence.WrapPersistence(err, "introspecting "+ds.tableOf(rel))
	}

	var createdWith string
	if cols == nil {
		if createdWith, err = ds.createTable(ctx, schema, rel); err != nil {
			return err
		}
		if cols, err = ds.dialect.Introspect(ctx, ds.db, schema, rel.Table()); err != nil {
			return persistence.WrapPersistence(err, "introspecting "+ds.tableOf(rel))
		} else if cols == nil {
			return errors.WithCode(
				fmt.Errorf("table %s does not exist after creation", ds.tableOf(rel)),
				persistence.ErrPersistence,
			)
		}
	}

	if err := ds.reconcile(schema, rel, cols, createdWith); err != nil {
		return err
	}

	ds.mu.Lock()
	if createdWith != "" || ds.asserted[ds.tableOf(rel)] == "" {
		ds.asserted[ds.tableOf(rel)] = createdWith
	}
	ds.mu.Unlock()
	return nil
}

// createTable issues the dialect's DDL for rel and returns it. When the
// statement fails because another process created the table first, the
// failure is ignored and the empty string is returned.
func (ds *Datastore) createTable(ctx context.Context, schema string, rel *persistence.Relation) (string, error) {
	stmts, err := ds.dialect.CreateTable(schema, rel)
	if err != nil {
		return "", err
	}
	ddl := strings.Join(stmts, ";\n")
	ds.logger.Infof("creating table %s: %s", ds.tableOf(rel), ddl)

	if _, err := ds.db.ExecContext(ctx, stmts[0]); err != nil {
		cols, ierr := ds.dialect.Introspect(ctx, ds.db, schema, rel.Table())
		if ierr != nil || cols == nil {
			return "", persistence.WrapPersistence(err, "creating "+ds.tableOf(rel))
		}
		ds.logger.Warnf("creating %s failed (%v) but the table now exists; validating it instead", ds.tableOf(rel), err)
		return "", nil
	}
	for _, stmt := range stmts[1:] {
		if _, err := ds.db.ExecContext(ctx, stmt); err != nil {
			return "", persistence.WrapPersistence(err, "indexing "+ds.tableOf(rel))
		}
	}
	return ddl, nil
}

// reconcile validates every declared field against its live column, in
// declaration order, and copies the stored dimensions into the descriptors.
func (ds *Datastore) reconcile(schema string, rel *persistence.Relation, cols map[string]ObservedColumn, createdWith string) error {
	detail := func() string {
		if createdWith != "" {
			return "Created with: " + createdWith
		}
		ds.mu.Lock()
		prev := ds.asserted[ds.tableOf(rel)]
		ds.mu.Unlock()
		if prev != "" {
			return "Created with: " + prev
		}
		return rel.ColumnList()
	}
	mismatch := func(f *persistence.Field, format string, args ...interface{}) error {
		return persistence.NewErrSchemaMismatch(schema, rel.Table(), f.Name(), fmt.Sprintf(format, args...), detail())
	}

	for _, f := range rel.Fields() {
		obs, ok := cols[strings.ToUpper(f.Name())]
		if !ok {
			return mismatch(f, "column is missing")
		}

		switch {
		case f.Type() == persistence.Boolean && obs.Type == persistence.String:
			// booleans may be kept in a one-character string column
		case f.Type() == persistence.URI && obs.Type != persistence.String:
			return mismatch(f, "declared %s but stored as %s", f.Type(), obs.Type)
		case f.Type() == persistence.URI || f.Type() == obs.Type:
		case f.Type() == persistence.String && obs.Type == persistence.LongString:
		case f.Type() == persistence.Decimal && obs.Type == persistence.Integer && f.Scale() == 0 && !f.DoublePrecision():
		default:
			return mismatch(f, "declared %s but stored as %s", f.Type(), obs.Type)
		}

		switch f.Type() {
		case persistence.String, persistence.URI, persistence.Binary, persistence.LongString:
			if obs.MaxLength > 0 && obs.MaxLength < f.MaxLength() {
				return mismatch(f, "stored length %d is shorter than the declared %d", obs.MaxLength, f.MaxLength())
			}
		}
		if !obs.Nullable && f.Nullable() {
			return mismatch(f, "stored as NOT NULL but declared nullable")
		}
		if f.Type() != persistence.Boolean {
			f.Widen(obs.Dimensions)
		}
	}
	return nil
}

func (ds *Datastore) checkNames(rel *persistence.Relation) error {
	d := ds.dialect
	if n := len(rel.Table()); n > d.MaxTableNameLen() {
		return persistence.NewErrInvalidIdentifier(rel.Table(), fmt.Sprintf("%d characters exceeds the %s limit of %d", n, d.Name(), d.MaxTableNameLen()))
	}
	for _, f := range rel.Fields() {
		if n := len(f.Name()); n > d.MaxColumnNameLen() {
			return persistence.NewErrInvalidIdentifier(f.Name(), fmt.Sprintf("%d characters exceeds the %s limit of %d", n, d.Name(), d.MaxColumnNameLen()))
		}
	}
	if n := len(rel.Fields()); n > d.MaxBindParams() {
		return persistence.NewErrInvalidIdentifier(rel.Table(), fmt.Sprintf("%d columns exceeds the %s bind parameter limit of %d", n, d.Name(), d.MaxBindParams()))
	}
	return nil
}

// DropRelation drops rel's table if it exists.
func (ds *Datastore) DropRelation(ctx context.Context, rel *persistence.Relation, user string) error {
	span, ctx := startSpan(ctx, "DropRelation", rel)
	defer span.Finish()

	stmt := ds.dialect.DropTable(ds.schemaOf(rel), rel.Table())
	ds.logger.Infof("dropping table %s", ds.tableOf(rel))
	if _, err := ds.db.ExecContext(ctx, stmt); err != nil {
		return persistence.WrapPersistence(err, "dropping "+ds.tableOf(rel))
	}
	ds.mu.Lock()
	delete(ds.asserted, ds.tableOf(rel))
	ds.mu.Unlock()
	return nil
}

// HasRelation reports whether schema.table exists. An empty schema means the
// default schema.
func (ds *Datastore) HasRelation(ctx context.Context, schema, table string, user string) (bool, error) {
	span, ctx := startSpan(ctx, "HasRelation", nil)
	defer span.Finish()

	if schema == "" {
		schema = ds.schema
	}
	cols, err := ds.dialect.Introspect(ctx, ds.db, schema, table)
	if err != nil {
		return false, persistence.WrapPersistence(err, "introspecting "+QualifiedName(ds.dialect, schema, table))
	}
	return cols != nil, nil
}
