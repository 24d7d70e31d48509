package sqlstore

import (
	"context"
	"strings"

	"github.com/featurebasedb/relstore/persistence"
)

// Ensure type implements interface.
var _ persistence.Query = (*query)(nil)

type filter struct {
	field *persistence.Field
	op    persistence.FilterOp
	value interface{}
	// set is non-nil for value-set filters.
	set []interface{}
}

type sortSpec struct {
	field *persistence.Field
	dir   persistence.Direction
}

// query builds SELECT statements against one relation. Builder errors are
// held until the query is executed.
type query struct {
	ds      *Datastore
	rel     *persistence.Relation
	filters []filter
	sorts   []sortSpec
	err     error
}

func newQuery(ds *Datastore, rel *persistence.Relation) *query {
	return &query{ds: ds, rel: rel}
}

func (q *query) fail(err error) *query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q *query) AddFilter(field *persistence.Field, op persistence.FilterOp, value interface{}) persistence.Query {
	if err := q.rel.CheckOwned(field); err != nil {
		return q.fail(err)
	}
	v, err := persistence.Coerce(field, value)
	if err != nil {
		return q.fail(err)
	}
	if v == nil && op != persistence.EQ && op != persistence.NE {
		return q.fail(persistence.NewErrInvalidQuery(op.String() + " with a null value on " + field.Name()))
	}
	q.filters = append(q.filters, filter{field: field, op: op, value: v})
	return q
}

func (q *query) AddValueSetFilter(field *persistence.Field, values []interface{}) persistence.Query {
	if err := q.rel.CheckOwned(field); err != nil {
		return q.fail(err)
	}
	set := make([]interface{}, 0, len(values))
	for _, value := range values {
		v, err := persistence.Coerce(field, value)
		if err != nil {
			return q.fail(err)
		}
		if v == nil {
			return q.fail(persistence.NewErrInvalidQuery("null in the value set of " + field.Name()))
		}
		set = append(set, v)
	}
	q.filters = append(q.filters, filter{field: field, set: set})
	return q
}

func (q *query) AddSort(field *persistence.Field, dir persistence.Direction) persistence.Query {
	if err := q.rel.CheckOwned(field); err != nil {
		return q.fail(err)
	}
	switch field.Type() {
	case persistence.Binary, persistence.LongString:
		return q.fail(persistence.NewErrInvalidQuery("cannot sort on " + field.Type().String() + " field " + field.Name()))
	}
	q.sorts = append(q.sorts, sortSpec{field: field, dir: dir})
	return q
}

// where writes the ANDed filters, if any.
func (q *query) where(s *stmt, extra func(s *stmt) error) error {
	d := q.ds.dialect
	if len(q.filters) == 0 && extra == nil {
		return nil
	}
	s.write(" WHERE ")
	for i, f := range q.filters {
		if i > 0 {
			s.write(" AND ")
		}
		col := d.Quote(f.field.Name())
		switch {
		case f.set != nil && len(f.set) == 0:
			s.write("1 = 0")
		case f.set != nil:
			s.write(col, " IN (")
			for j, v := range f.set {
				if j > 0 {
					s.write(", ")
				}
				if err := s.bindValue(f.field, v); err != nil {
					return err
				}
			}
			s.write(")")
		case f.value == nil && f.op == persistence.EQ:
			s.write(col, " IS NULL")
		case f.value == nil:
			s.write(col, " IS NOT NULL")
		default:
			s.write(col, " ", f.op.SQL(), " ")
			if err := s.bindValue(f.field, f.value); err != nil {
				return err
			}
		}
	}
	if extra != nil {
		if len(q.filters) > 0 {
			s.write(" AND ")
		}
		return extra(s)
	}
	return nil
}

func (q *query) orderBy(s *stmt, sorts []sortSpec) {
	for i, o := range sorts {
		if i == 0 {
			s.write(" ORDER BY ")
		} else {
			s.write(", ")
		}
		s.write(q.ds.dialect.Quote(o.field.Name()), " ", o.dir.SQL())
	}
}

func (q *query) selectAll() *stmt {
	return newStmt(q.ds.dialect).write(
		"SELECT ", columnList(q.ds.dialect, q.rel.Fields()), " FROM ", q.ds.tableOf(q.rel),
	)
}

func (q *query) run(ctx context.Context, text string, args []interface{}) ([]*persistence.Entity, error) {
	name := q.ds.metricName(q.rel)
	CounterQueries.WithLabelValues(name).Inc()
	q.ds.logger.Debugf("query: %s %v", text, args)

	rows, err := q.ds.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, persistence.WrapPersistence(err, "querying "+q.ds.tableOf(q.rel))
	}
	es, err := scanEntities(rows, q.rel)
	if err != nil {
		return nil, err
	}
	CounterQueryResults.WithLabelValues(name).Add(float64(len(es)))
	return es, nil
}

// Execute returns every matching row.
func (q *query) Execute(ctx context.Context) ([]*persistence.Entity, error) {
	span, ctx := startSpan(ctx, "Query.Execute", q.rel)
	defer span.Finish()
	if q.err != nil {
		return nil, q.err
	}

	s := q.selectAll()
	if err := q.where(s, nil); err != nil {
		return nil, err
	}
	q.orderBy(s, q.sorts)
	return q.run(ctx, s.String(), s.args)
}

// ExecutePage returns up to fetchLimit rows ordered by the first sort and
// then the primary key, continuing strictly after resume. Sorts after the
// first do not take part in paging.
func (q *query) ExecutePage(ctx context.Context, resume *persistence.ResumePoint, fetchLimit int) (*persistence.QueryResult, error) {
	span, ctx := startSpan(ctx, "Query.ExecutePage", q.rel)
	defer span.Finish()
	if q.err != nil {
		return nil, q.err
	}
	if fetchLimit <= 0 {
		return nil, persistence.NewErrInvalidQuery("fetch limit must be positive")
	}
	if len(q.sorts) == 0 {
		return nil, persistence.NewErrInvalidQuery("paging requires a sort")
	}
	dom := q.sorts[0]
	if dom.field.Nullable() {
		return nil, persistence.NewErrInvalidQuery("dominant sort field " + dom.field.Name() + " must not be nullable")
	}
	pk := q.rel.PrimaryKey()
	sorts := []sortSpec{dom}
	if dom.field != pk {
		sorts = append(sorts, sortSpec{field: pk, dir: persistence.Ascending})
	}
	if len(q.sorts) > 1 {
		q.ds.logger.Debugf("paging %s ignores %d secondary sorts", q.ds.tableOf(q.rel), len(q.sorts)-1)
	}

	var after func(s *stmt) error
	if resume != nil {
		if !strings.EqualFold(resume.Attribute, dom.field.Name()) {
			return nil, persistence.NewErrInvalidResumePoint("resume point is for " + resume.Attribute + ", query is sorted by " + dom.field.Name())
		}
		if resume.Descending != (dom.dir == persistence.Descending) {
			return nil, persistence.NewErrInvalidResumePoint("resume point direction does not match the sort on " + dom.field.Name())
		}
		v, err := persistence.ParseValue(dom.field, resume.Value)
		if err != nil {
			return nil, err
		}
		after = q.continuation(dom, v, resume.LastURI)
	}

	s := q.selectAll()
	if err := q.where(s, after); err != nil {
		return nil, err
	}
	q.orderBy(s, sorts)

	es, err := q.run(ctx, q.ds.dialect.Limit(s.String(), fetchLimit+1), s.args)
	if err != nil {
		return nil, err
	}

	res := &persistence.QueryResult{Entities: es}
	if len(es) > fetchLimit {
		res.Entities = es[:fetchLimit]
		res.HasMore = true
	}
	if n := len(res.Entities); n > 0 {
		last := res.Entities[n-1]
		value, err := persistence.FormatValue(dom.field, last.Value(dom.field))
		if err != nil {
			return nil, err
		}
		res.Resume = &persistence.ResumePoint{
			Attribute:  dom.field.Name(),
			Value:      value,
			LastURI:    last.URI(),
			Descending: dom.dir == persistence.Descending,
		}
	}
	return res, nil
}

// continuation writes the keyset predicate selecting rows strictly after
// (v, lastURI) in the paging order.
func (q *query) continuation(dom sortSpec, v interface{}, lastURI string) func(s *stmt) error {
	d := q.ds.dialect
	pk := q.rel.PrimaryKey()
	return func(s *stmt) error {
		pkCol := d.Quote(pk.Name())
		if dom.field == pk {
			op := " > "
			if dom.dir == persistence.Descending {
				op = " < "
			}
			s.write(pkCol, op)
			return s.bindValue(pk, lastURI)
		}

		col := d.Quote(dom.field.Name())
		op := " > "
		if dom.dir == persistence.Descending {
			op = " < "
		}
		s.write("(", col, op)
		if err := s.bindValue(dom.field, v); err != nil {
			return err
		}
		s.write(" OR (", col, " = ")
		if err := s.bindValue(dom.field, v); err != nil {
			return err
		}
		s.write(" AND ", pkCol, " > ")
		if err := s.bindValue(pk, lastURI); err != nil {
			return err
		}
		s.write("))")
		return nil
	}
}

// ExecuteDistinct returns the distinct non-null values of field under the
// filters, ordered by the sort on field when there is one.
func (q *query) ExecuteDistinct(ctx context.Context, field *persistence.Field) ([]interface{}, error) {
	span, ctx := startSpan(ctx, "Query.ExecuteDistinct", q.rel)
	defer span.Finish()
	if q.err != nil {
		return nil, q.err
	}
	if err := q.rel.CheckOwned(field); err != nil {
		return nil, err
	}
	return q.distinct(ctx, field)
}

func (q *query) distinct(ctx context.Context, field *persistence.Field) ([]interface{}, error) {
	d := q.ds.dialect
	s := newStmt(d).write("SELECT DISTINCT ", d.Quote(field.Name()), " FROM ", q.ds.tableOf(q.rel))
	if err := q.where(s, nil); err != nil {
		return nil, err
	}
	for _, o := range q.sorts {
		if o.field == field {
			q.orderBy(s, []sortSpec{o})
			break
		}
	}

	CounterQueries.WithLabelValues(q.ds.metricName(q.rel)).Inc()
	rows, err := q.ds.db.QueryContext(ctx, s.String(), s.args...)
	if err != nil {
		return nil, persistence.WrapPersistence(err, "querying "+q.ds.tableOf(q.rel))
	}
	vs, err := scanValues(rows, field)
	if err != nil {
		return nil, err
	}
	CounterQueryResults.WithLabelValues(q.ds.metricName(q.rel)).Add(float64(len(vs)))
	return vs, nil
}

// ExecuteForeignKey returns the distinct values of the URI-valued field as
// keys into rel.
func (q *query) ExecuteForeignKey(ctx context.Context, field *persistence.Field, rel *persistence.Relation) ([]persistence.Key, error) {
	span, ctx := startSpan(ctx, "Query.ExecuteForeignKey", q.rel)
	defer span.Finish()
	if q.err != nil {
		return nil, q.err
	}
	if err := q.rel.CheckOwned(field); err != nil {
		return nil, err
	}
	if t := field.Type(); t != persistence.URI && t != persistence.String {
		return nil, persistence.NewErrInvalidQuery(field.Name() + " does not hold row identifiers")
	}
	vs, err := q.distinct(ctx, field)
	if err != nil {
		return nil, err
	}
	keys := make([]persistence.Key, len(vs))
	for i, v := range vs {
		keys[i] = persistence.Key{Relation: rel, URI: v.(string)}
	}
	return keys, nil
}

// Count returns the number of rows matching the filters.
func (q *query) Count(ctx context.Context) (int64, error) {
	span, ctx := startSpan(ctx, "Query.Count", q.rel)
	defer span.Finish()
	if q.err != nil {
		return 0, q.err
	}
	s := newStmt(q.ds.dialect).write("SELECT COUNT(*) FROM ", q.ds.tableOf(q.rel))
	if err := q.where(s, nil); err != nil {
		return 0, err
	}
	CounterQueries.WithLabelValues(q.ds.metricName(q.rel)).Inc()
	var n int64
	if err := q.ds.db.QueryRowContext(ctx, s.String(), s.args...).Scan(&n); err != nil {
		return 0, persistence.WrapPersistence(err, "counting "+q.ds.tableOf(q.rel))
	}
	return n, nil
}
