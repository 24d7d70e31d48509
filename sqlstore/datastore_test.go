package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

type submissions struct {
	*persistence.Relation
	form, score, amount, ratio, done, when, payload *persistence.Field
}

func newSubmissions(t *testing.T, table string) *submissions {
	t.Helper()
	s := &submissions{
		form:    persistence.NewStringField("FORM_ID", false, 80).WithIndex(persistence.IndexHashed),
		score:   persistence.NewIntegerField("SCORE", false, 9).WithIndex(persistence.IndexOrdered),
		amount:  persistence.NewDecimalField("AMOUNT", true, 12, 2),
		ratio:   persistence.NewDoubleField("RATIO", true),
		done:    persistence.NewField("DONE", persistence.Boolean, true),
		when:    persistence.NewField("SUBMITTED_AT", persistence.DateTime, true),
		payload: persistence.NewBinaryField("PAYLOAD", true, 0),
	}
	var err error
	s.Relation, err = persistence.NewRelation("", table, s.form, s.score, s.amount, s.ratio, s.done, s.when, s.payload)
	require.NoError(t, err)
	return s
}

func TestDatastore_AssertRelation(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ds := open(t)
			table := tableName("SUB")

			ok, err := ds.HasRelation(ctx, "", table, "tester")
			require.NoError(t, err)
			assert.False(t, ok)

			rel := newSubmissions(t, table)
			mustAssert(t, ds, rel.Relation)
			ok, err = ds.HasRelation(ctx, "", table, "tester")
			require.NoError(t, err)
			assert.True(t, ok)

			// Asserting again, and from a fresh declaration, is a no-op.
			require.NoError(t, ds.AssertRelation(ctx, rel.Relation, "tester"))
			again := newSubmissions(t, table)
			require.NoError(t, ds.AssertRelation(ctx, again.Relation, "tester"))
			assert.Equal(t, rel.form.Dimensions(), again.form.Dimensions())
		})
	}
}

func TestDatastore_AssertRelationWidens(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	table := tableName("WIDE")

	wide := persistence.MustRelation("", table,
		persistence.NewStringField("NAME", true, 200),
		persistence.NewDecimalField("AMOUNT", true, 20, 6),
	)
	mustAssert(t, ds, wide)

	name := persistence.NewStringField("NAME", true, 50)
	amount := persistence.NewDecimalField("AMOUNT", true, 10, 2)
	narrow := persistence.MustRelation("", table, name, amount)
	require.NoError(t, ds.AssertRelation(ctx, narrow, "tester"))
	assert.Equal(t, 200, name.MaxLength())
	assert.Equal(t, 20, amount.Precision())
	assert.Equal(t, 6, amount.Scale())
}

func TestDatastore_AssertRelationMismatch(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	table := tableName("MIS")

	mustAssert(t, ds, persistence.MustRelation("", table,
		persistence.NewStringField("NAME", false, 40),
		persistence.NewIntegerField("N", true, 9),
	))

	tests := map[string]*persistence.Relation{
		"longer string": persistence.MustRelation("", table,
			persistence.NewStringField("NAME", false, 41),
			persistence.NewIntegerField("N", true, 9)),
		"nullable over not null": persistence.MustRelation("", table,
			persistence.NewStringField("NAME", true, 40),
			persistence.NewIntegerField("N", true, 9)),
		"missing column": persistence.MustRelation("", table,
			persistence.NewStringField("NAME", false, 40),
			persistence.NewIntegerField("N", true, 9),
			persistence.NewField("EXTRA", persistence.Boolean, true)),
		"type": persistence.MustRelation("", table,
			persistence.NewStringField("NAME", false, 40),
			persistence.NewField("N", persistence.DateTime, true)),
	}
	for name, rel := range tests {
		t.Run(name, func(t *testing.T) {
			err := ds.AssertRelation(ctx, rel, "tester")
			require.Error(t, err)
			assert.True(t, errors.Is(err, persistence.ErrSchemaMismatch), "got %v", err)
		})
	}
}

func TestDatastore_AssertRelationNameLimits(t *testing.T) {
	ds := mustOpen(t)
	long := make([]byte, ds.MaxTableNameLen()+1)
	for i := range long {
		long[i] = 'T'
	}
	err := ds.AssertRelation(context.Background(), persistence.MustRelation("", string(long)), "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrInvalidIdentifier))
}

func TestDatastore_PutGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := newClock()
			ds := open(t, sqlstore.OptDatastoreClock(clk.Now))
			rel := newSubmissions(t, tableName("SUB"))
			mustAssert(t, ds, rel.Relation)

			e := ds.CreateEntity(rel.Relation, "alice")
			_, err := e.SetString(rel.form, "form-1")
			require.NoError(t, err)
			require.NoError(t, e.SetInt(rel.score, 7))
			_, err = e.SetValue(rel.amount, "1234.567")
			require.NoError(t, err)
			require.NoError(t, e.SetFloat(rel.ratio, 0.25))
			require.NoError(t, e.SetBool(rel.done, true))
			when := time.Date(2021, 7, 8, 9, 10, 11, 123456000, time.UTC)
			require.NoError(t, e.SetTime(rel.when, when))
			require.NoError(t, e.SetBytes(rel.payload, []byte{0, 1, 2, 255}))
			require.NoError(t, ds.PutEntity(ctx, e, "alice"))
			assert.True(t, e.FromStorage())

			got, err := ds.GetEntity(ctx, rel.Relation, e.URI(), "alice")
			require.NoError(t, err)
			assert.Equal(t, "form-1", got.String(rel.form))
			score, _ := got.Int(rel.score)
			assert.Equal(t, int64(7), score)
			assert.Equal(t, "1234.57", got.Decimal(rel.amount).Text('f'))
			ratio, _ := got.Float(rel.ratio)
			assert.Equal(t, 0.25, ratio)
			done, _ := got.Bool(rel.done)
			assert.True(t, done)
			gotWhen, _ := got.Time(rel.when)
			assert.Equal(t, when, gotWhen)
			assert.Equal(t, []byte{0, 1, 2, 255}, got.Bytes(rel.payload))
			assert.Equal(t, "alice", got.CreatorURIUser())
			assert.Equal(t, clk.Now(), got.CreationDate())

			// The second put is an update stamped by the new user.
			clk.Advance(time.Minute)
			require.NoError(t, got.SetInt(rel.score, 8))
			require.NoError(t, got.SetNull(rel.done))
			require.NoError(t, ds.PutEntity(ctx, got, "bob"))

			again, err := ds.GetEntity(ctx, rel.Relation, e.URI(), "bob")
			require.NoError(t, err)
			score, _ = again.Int(rel.score)
			assert.Equal(t, int64(8), score)
			assert.True(t, again.IsNull(rel.done))
			assert.Equal(t, "bob", again.LastUpdateURIUser())
			assert.Equal(t, clk.Now(), again.LastUpdateDate())
			assert.Equal(t, e.CreationDate(), again.CreationDate())

			n, err := ds.CreateQuery(rel.Relation, "bob").Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestDatastore_GetEntityNotFound(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("SUB"))
	mustAssert(t, ds, rel.Relation)

	_, err := ds.GetEntity(ctx, rel.Relation, "uuid:missing", "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrEntityNotFound))
}

func TestDatastore_PutRequiresNonNull(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("SUB"))
	mustAssert(t, ds, rel.Relation)

	e := ds.CreateEntity(rel.Relation, "tester")
	require.NoError(t, e.SetInt(rel.score, 1))
	err := ds.PutEntity(ctx, e, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrNullViolation))
	assert.False(t, e.FromStorage())
}

func TestDatastore_PutEntitiesBatches(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("SUB"))
	mustAssert(t, ds, rel.Relation)

	// More rows than one INSERT may carry.
	const n = 2500
	es := make([]*persistence.Entity, n)
	for i := range es {
		e := ds.CreateEntity(rel.Relation, "tester")
		_, err := e.SetString(rel.form, fmt.Sprintf("form-%d", i%3))
		require.NoError(t, err)
		require.NoError(t, e.SetInt(rel.score, int64(i)))
		es[i] = e
	}
	require.NoError(t, ds.PutEntities(ctx, es, "tester"))

	count, err := ds.CreateQuery(rel.Relation, "tester").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	for _, e := range es {
		v, _ := e.Int(rel.score)
		require.NoError(t, e.SetInt(rel.score, v+n))
	}
	require.NoError(t, ds.PutEntities(ctx, es, "tester"))

	count, err = ds.CreateQuery(rel.Relation, "tester").AddFilter(rel.score, persistence.GE, n).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func TestDatastore_PutEntitiesArgumentOrder(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	a := newSubmissions(t, tableName("A"))
	b := newSubmissions(t, tableName("B"))
	mustAssert(t, ds, a.Relation)
	mustAssert(t, ds, b.Relation)

	newRow := func(rel *submissions, score int64) *persistence.Entity {
		e := ds.CreateEntity(rel.Relation, "tester")
		_, err := e.SetString(rel.form, "f")
		require.NoError(t, err)
		require.NoError(t, e.SetInt(rel.score, score))
		return e
	}
	stored := newRow(a, 1)
	require.NoError(t, ds.PutEntity(ctx, stored, "tester"))

	// The update comes first, so it is applied before the failing insert.
	require.NoError(t, stored.SetInt(a.score, 2))
	bad := ds.CreateEntity(a.Relation, "tester")
	require.NoError(t, bad.SetInt(a.score, 3))
	err := ds.PutEntities(ctx, []*persistence.Entity{stored, bad}, "tester")
	assert.True(t, errors.Is(err, persistence.ErrNullViolation), "got %v", err)

	got, err := ds.GetEntity(ctx, a.Relation, stored.URI(), "tester")
	require.NoError(t, err)
	score, _ := got.Int(a.score)
	assert.Equal(t, int64(2), score)
	assert.False(t, bad.FromStorage())

	// Interleaved relations and branches.
	require.NoError(t, stored.SetInt(a.score, 4))
	batch := []*persistence.Entity{newRow(a, 10), newRow(b, 20), stored, newRow(b, 21), newRow(a, 11)}
	require.NoError(t, ds.PutEntities(ctx, batch, "tester"))
	for _, e := range batch {
		assert.True(t, e.FromStorage())
	}
	for rel, want := range map[*submissions]int64{a: 3, b: 2} {
		n, err := ds.CreateQuery(rel.Relation, "tester").Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n, rel.Table())
	}
	got, err = ds.GetEntity(ctx, a.Relation, stored.URI(), "tester")
	require.NoError(t, err)
	score, _ = got.Int(a.score)
	assert.Equal(t, int64(4), score)
}

func TestDatastore_Delete(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	a := newSubmissions(t, tableName("A"))
	b := newSubmissions(t, tableName("B"))
	mustAssert(t, ds, a.Relation)
	mustAssert(t, ds, b.Relation)

	put := func(rel *submissions) *persistence.Entity {
		e := ds.CreateEntity(rel.Relation, "tester")
		_, err := e.SetString(rel.form, "f")
		require.NoError(t, err)
		require.NoError(t, e.SetInt(rel.score, 1))
		require.NoError(t, ds.PutEntity(ctx, e, "tester"))
		return e
	}

	e := put(a)
	require.NoError(t, ds.DeleteEntity(ctx, e.Key(), "tester"))
	err := ds.DeleteEntity(ctx, e.Key(), "tester")
	assert.True(t, errors.Is(err, persistence.ErrEntityNotFound))

	a1, a2, b1 := put(a), put(a), put(b)
	keys := []persistence.Key{a1.Key(), b1.Key(), {Relation: a.Relation, URI: "uuid:gone"}, a2.Key()}
	require.NoError(t, ds.DeleteEntities(ctx, keys, "tester"))
	for _, rel := range []*submissions{a, b} {
		n, err := ds.CreateQuery(rel.Relation, "tester").Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	}

	// Keys into a dropped table are skipped.
	c1 := put(a)
	require.NoError(t, ds.DropRelation(ctx, b.Relation, "tester"))
	keys = []persistence.Key{{Relation: b.Relation, URI: b1.URI()}, c1.Key()}
	require.NoError(t, ds.DeleteEntities(ctx, keys, "tester"))
	_, err = ds.GetEntity(ctx, a.Relation, c1.URI(), "tester")
	assert.True(t, errors.Is(err, persistence.ErrEntityNotFound))
}

func TestOpen_UnknownDialect(t *testing.T) {
	cfg := sqlstore.NewConfig()
	cfg.Dialect = "oracle"
	_, err := sqlstore.Open(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrUnsupportedDialect))
}

func TestDialects(t *testing.T) {
	assert.Equal(t, []string{"mysql", "postgres", "sqlite", "sqlserver"}, sqlstore.Dialects())
}
