package sqlstore

import (
	"context"
	"database/sql"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

// maxInsertRows caps the VALUES tuples of one multi-row INSERT. SQL Server
// refuses more than 1000.
const maxInsertRows = 1000

// GetEntity reads the row of rel with primary key uri.
func (ds *Datastore) GetEntity(ctx context.Context, rel *persistence.Relation, uri string, user string) (*persistence.Entity, error) {
	span, ctx := startSpan(ctx, "GetEntity", rel)
	defer span.Finish()
	CounterGets.WithLabelValues(ds.metricName(rel)).Inc()

	s := newStmt(ds.dialect).write(
		"SELECT ", columnList(ds.dialect, rel.Fields()),
		" FROM ", ds.tableOf(rel),
		" WHERE ", ds.dialect.Quote(persistence.URIColumn), " = ",
	)
	if err := s.bindValue(rel.PrimaryKey(), uri); err != nil {
		return nil, err
	}
	rows, err := ds.db.QueryContext(ctx, s.String(), s.args...)
	if err != nil {
		return nil, persistence.WrapPersistence(err, "reading "+ds.tableOf(rel))
	}
	es, err := scanEntities(rows, rel)
	if err != nil {
		return nil, err
	}
	switch len(es) {
	case 0:
		return nil, persistence.NewErrEntityNotFound(rel.QualifiedName(), uri)
	case 1:
		return es[0], nil
	default:
		return nil, persistence.NewErrEntityNotUnique(rel.QualifiedName(), uri, len(es))
	}
}

// PutEntity inserts e when it has never been stored and updates it by
// primary key otherwise.
func (ds *Datastore) PutEntity(ctx context.Context, e *persistence.Entity, user string) error {
	return ds.PutEntities(ctx, []*persistence.Entity{e}, user)
}

// PutEntities writes es in argument order. Consecutive entities of the same
// relation that are all new or all stored form a run: a run of new entities
// is inserted with multi-row INSERTs sized to the dialect's bind parameter
// ceiling, a run of stored entities is updated one statement per row, each
// chunk in its own transaction. The first failing run stops the batch; runs
// before it stay written.
func (ds *Datastore) PutEntities(ctx context.Context, es []*persistence.Entity, user string) error {
	if len(es) == 0 {
		return nil
	}
	span, ctx := startSpan(ctx, "PutEntities", es[0].Relation())
	defer span.Finish()

	for _, r := range splitRuns(es) {
		var err error
		if r.stored {
			err = ds.update(ctx, r.rel, r.entities, user)
		} else {
			err = ds.insert(ctx, r.rel, r.entities)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// putRun is a maximal stretch of consecutive arguments sharing a relation
// and a storage state.
type putRun struct {
	rel      *persistence.Relation
	stored   bool
	entities []*persistence.Entity
}

func splitRuns(es []*persistence.Entity) []*putRun {
	var runs []*putRun
	var cur *putRun
	for _, e := range es {
		if cur == nil || cur.rel != e.Relation() || cur.stored != e.FromStorage() {
			cur = &putRun{rel: e.Relation(), stored: e.FromStorage()}
			runs = append(runs, cur)
		}
		cur.entities = append(cur.entities, e)
	}
	return runs
}

// chunkSize is the number of rows of rel one statement may carry.
func (ds *Datastore) chunkSize(rel *persistence.Relation) int {
	n := ds.dialect.MaxBindParams() / len(rel.Fields())
	if n > maxInsertRows {
		n = maxInsertRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

func checkRequired(e *persistence.Entity) error {
	for _, f := range e.Relation().Fields() {
		if !f.Nullable() && e.IsNull(f) {
			return persistence.NewErrNullViolation(f.Name())
		}
	}
	return nil
}

func (ds *Datastore) insert(ctx context.Context, rel *persistence.Relation, es []*persistence.Entity) error {
	for _, e := range es {
		if err := checkRequired(e); err != nil {
			return err
		}
	}

	fields := rel.Fields()
	size := ds.chunkSize(rel)
	for start := 0; start < len(es); start += size {
		end := start + size
		if end > len(es) {
			end = len(es)
		}
		chunk := es[start:end]

		s := newStmt(ds.dialect).write(
			"INSERT INTO ", ds.tableOf(rel), " (", columnList(ds.dialect, fields), ") VALUES ",
		)
		for i, e := range chunk {
			if i > 0 {
				s.write(", ")
			}
			s.write("(")
			for j, f := range fields {
				if j > 0 {
					s.write(", ")
				}
				if err := s.bindValue(f, e.Value(f)); err != nil {
					return err
				}
			}
			s.write(")")
		}

		ds.logger.Debugf("inserting %d rows into %s", len(chunk), ds.tableOf(rel))
		if _, err := ds.db.ExecContext(ctx, s.String(), s.args...); err != nil {
			return persistence.WrapPersistence(err, "inserting into "+ds.tableOf(rel))
		}
		for _, e := range chunk {
			e.MarkStored()
		}
		CounterPuts.WithLabelValues(ds.metricName(rel)).Add(float64(len(chunk)))
	}
	return nil
}

func (ds *Datastore) update(ctx context.Context, rel *persistence.Relation, es []*persistence.Entity, user string) error {
	size := ds.chunkSize(rel)
	for start := 0; start < len(es); start += size {
		end := start + size
		if end > len(es) {
			end = len(es)
		}
		if err := ds.updateChunk(ctx, rel, es[start:end], user); err != nil {
			return err
		}
	}
	return nil
}

func (ds *Datastore) updateChunk(ctx context.Context, rel *persistence.Relation, es []*persistence.Entity, user string) error {
	now := ds.now()
	for _, e := range es {
		e.Touch(user, now)
		if err := checkRequired(e); err != nil {
			return err
		}
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.WrapPersistence(err, "starting update of "+ds.tableOf(rel))
	}
	defer func() { _ = tx.Rollback() }()

	pk := rel.PrimaryKey()
	for _, e := range es {
		s := newStmt(ds.dialect).write("UPDATE ", ds.tableOf(rel), " SET ")
		first := true
		for _, f := range rel.Fields() {
			if f == pk {
				continue
			}
			if !first {
				s.write(", ")
			}
			first = false
			s.write(ds.dialect.Quote(f.Name()), " = ")
			if err := s.bindValue(f, e.Value(f)); err != nil {
				return err
			}
		}
		s.write(" WHERE ", ds.dialect.Quote(pk.Name()), " = ")
		if err := s.bindValue(pk, e.URI()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.String(), s.args...); err != nil {
			return persistence.WrapPersistence(err, "updating "+ds.tableOf(rel))
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence.WrapPersistence(err, "committing update of "+ds.tableOf(rel))
	}
	CounterPuts.WithLabelValues(ds.metricName(rel)).Add(float64(len(es)))
	return nil
}

// DeleteEntity deletes the row named by key. A missing row is an
// EntityNotFound error.
func (ds *Datastore) DeleteEntity(ctx context.Context, key persistence.Key, user string) error {
	span, ctx := startSpan(ctx, "DeleteEntity", key.Relation)
	defer span.Finish()
	return ds.deleteOne(ctx, ds.db, key)
}

func (ds *Datastore) deleteOne(ctx context.Context, q Querier, key persistence.Key) error {
	rel := key.Relation
	s := newStmt(ds.dialect).write(
		"DELETE FROM ", ds.tableOf(rel), " WHERE ", ds.dialect.Quote(persistence.URIColumn), " = ",
	)
	if err := s.bindValue(rel.PrimaryKey(), key.URI); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, s.String(), s.args...)
	if err != nil {
		return persistence.WrapPersistence(err, "deleting from "+ds.tableOf(rel))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.NewErrEntityNotFound(rel.QualifiedName(), key.URI)
	}
	CounterDeletes.WithLabelValues(ds.metricName(rel)).Inc()
	return nil
}

// DeleteEntities deletes keys in the order given. It first deletes each
// relation's keys in bulk; if that fails it deletes key by key, skipping
// keys whose table or row is already gone and stopping at the first other
// failure.
func (ds *Datastore) DeleteEntities(ctx context.Context, keys []persistence.Key, user string) error {
	if len(keys) == 0 {
		return nil
	}
	span, ctx := startSpan(ctx, "DeleteEntities", keys[0].Relation)
	defer span.Finish()

	err := ds.bulkDelete(ctx, keys)
	if err == nil {
		return nil
	}
	ds.logger.Warnf("bulk delete of %d keys failed, deleting one at a time: %v", len(keys), err)

	missing := make(map[*persistence.Relation]bool)
	for _, key := range keys {
		if missing[key.Relation] {
			continue
		}
		err := ds.deleteOne(ctx, ds.db, key)
		switch {
		case err == nil, isNotFound(err):
		case ds.dialect.IsMissingTable(err):
			ds.logger.Debugf("skipping deletes from missing table %s", ds.tableOf(key.Relation))
			missing[key.Relation] = true
		default:
			return errors.Wrapf(err, "deleting %s", key)
		}
	}
	return nil
}

// bulkDelete issues chunked DELETE ... WHERE _URI IN (...) statements per
// relation, in one transaction.
func (ds *Datastore) bulkDelete(ctx context.Context, keys []persistence.Key) error {
	var order []*persistence.Relation
	byRel := make(map[*persistence.Relation][]string)
	for _, key := range keys {
		if _, ok := byRel[key.Relation]; !ok {
			order = append(order, key.Relation)
		}
		byRel[key.Relation] = append(byRel[key.Relation], key.URI)
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	size := ds.dialect.MaxBindParams()
	if size > maxInsertRows {
		size = maxInsertRows
	}
	for _, rel := range order {
		uris := byRel[rel]
		for start := 0; start < len(uris); start += size {
			end := start + size
			if end > len(uris) {
				end = len(uris)
			}
			if err := ds.deleteIn(ctx, tx, rel, uris[start:end]); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (ds *Datastore) deleteIn(ctx context.Context, tx *sql.Tx, rel *persistence.Relation, uris []string) error {
	s := newStmt(ds.dialect).write(
		"DELETE FROM ", ds.tableOf(rel), " WHERE ", ds.dialect.Quote(persistence.URIColumn), " IN (",
	)
	for i, uri := range uris {
		if i > 0 {
			s.write(", ")
		}
		if err := s.bindValue(rel.PrimaryKey(), uri); err != nil {
			return err
		}
	}
	s.write(")")
	res, err := tx.ExecContext(ctx, s.String(), s.args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		CounterDeletes.WithLabelValues(ds.metricName(rel)).Add(float64(n))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrEntityNotFound)
}
