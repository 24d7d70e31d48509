package sqlstore_test

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

type row struct {
	uri   string
	score int64
}

// seed stores n rows whose scores repeat every five rows, so the dominant
// sort has ties the primary key must break.
func seed(t *testing.T, ds *sqlstore.Datastore, rel *submissions, n int) []row {
	t.Helper()
	es := make([]*persistence.Entity, n)
	rows := make([]row, n)
	for i := range es {
		e := ds.CreateEntity(rel.Relation, "tester")
		_, err := e.SetString(rel.form, fmt.Sprintf("form-%d", i%3))
		require.NoError(t, err)
		require.NoError(t, e.SetInt(rel.score, int64(i%5)))
		if i%4 == 0 {
			require.NoError(t, e.SetBool(rel.done, true))
		}
		es[i] = e
		rows[i] = row{uri: e.URI(), score: int64(i % 5)}
	}
	require.NoError(t, ds.PutEntities(context.Background(), es, "tester"))
	return rows
}

func TestQuery_ExecutePage(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ds := open(t)
			rel := newSubmissions(t, tableName("PAGE"))
			mustAssert(t, ds, rel.Relation)

			const n = 23
			rows := seed(t, ds, rel, n)

			for _, dir := range []persistence.Direction{persistence.Ascending, persistence.Descending} {
				want := append([]row(nil), rows...)
				sort.Slice(want, func(i, j int) bool {
					if want[i].score != want[j].score {
						if dir == persistence.Descending {
							return want[i].score > want[j].score
						}
						return want[i].score < want[j].score
					}
					return want[i].uri < want[j].uri
				})

				for _, size := range []int{1, n / 2, n, n + 5} {
					t.Run(fmt.Sprintf("%s/%d", dir.SQL(), size), func(t *testing.T) {
						got := pageAll(t, ds, rel, dir, size)
						require.Len(t, got, n)
						assert.Equal(t, want, got)
					})
				}
			}
		})
	}
}

// pageAll reads every page of a SCORE-sorted query, passing the resume point
// through its encoded form as a client would.
func pageAll(t *testing.T, ds *sqlstore.Datastore, rel *submissions, dir persistence.Direction, size int) []row {
	t.Helper()
	ctx := context.Background()
	var (
		out    []row
		resume *persistence.ResumePoint
	)
	for pages := 0; ; pages++ {
		require.Less(t, pages, 100, "paging does not terminate")
		q := ds.CreateQuery(rel.Relation, "tester").AddSort(rel.score, dir)
		res, err := q.ExecutePage(ctx, resume, size)
		require.NoError(t, err)
		require.LessOrEqual(t, len(res.Entities), size)
		for _, e := range res.Entities {
			score, _ := e.Int(rel.score)
			out = append(out, row{uri: e.URI(), score: score})
		}
		if !res.HasMore {
			return out
		}
		require.NotNil(t, res.Resume)
		resume, err = persistence.DecodeResumePoint(res.Resume.Encode())
		require.NoError(t, err)
	}
}

func TestQuery_ExecutePageByLastUpdate(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	ds := mustOpen(t, sqlstore.OptDatastoreClock(clk.Now))
	rel := newSubmissions(t, tableName("PAGE"))
	mustAssert(t, ds, rel.Relation)

	// Rows created in the same instant share a timestamp.
	for i := 0; i < 3; i++ {
		seed(t, ds, rel, 4)
		clk.Advance(persistence.TimestampResolution)
	}

	seen := make(map[string]bool)
	var resume *persistence.ResumePoint
	for {
		res, err := ds.CreateQuery(rel.Relation, "tester").
			AddSort(rel.LastUpdateDate(), persistence.Ascending).
			ExecutePage(ctx, resume, 5)
		require.NoError(t, err)
		for _, e := range res.Entities {
			require.False(t, seen[e.URI()], "row %s returned twice", e.URI())
			seen[e.URI()] = true
		}
		if !res.HasMore {
			break
		}
		resume = res.Resume
	}
	assert.Len(t, seen, 12)
}

func TestQuery_ExecutePageInvalid(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("PAGE"))
	mustAssert(t, ds, rel.Relation)

	_, err := ds.CreateQuery(rel.Relation, "tester").ExecutePage(ctx, nil, 10)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery), "no sort: %v", err)

	_, err = ds.CreateQuery(rel.Relation, "tester").AddSort(rel.score, persistence.Ascending).ExecutePage(ctx, nil, 0)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery), "zero limit: %v", err)

	_, err = ds.CreateQuery(rel.Relation, "tester").AddSort(rel.amount, persistence.Ascending).ExecutePage(ctx, nil, 10)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery), "nullable sort: %v", err)

	resume := &persistence.ResumePoint{Attribute: "FORM_ID", Value: "x", LastURI: "uuid:x"}
	_, err = ds.CreateQuery(rel.Relation, "tester").AddSort(rel.score, persistence.Ascending).ExecutePage(ctx, resume, 10)
	assert.True(t, errors.Is(err, persistence.ErrInvalidResumePoint), "wrong attribute: %v", err)

	resume = &persistence.ResumePoint{Attribute: "SCORE", Value: "1", LastURI: "uuid:x", Descending: true}
	_, err = ds.CreateQuery(rel.Relation, "tester").AddSort(rel.score, persistence.Ascending).ExecutePage(ctx, resume, 10)
	assert.True(t, errors.Is(err, persistence.ErrInvalidResumePoint), "wrong direction: %v", err)

	res, err := ds.CreateQuery(rel.Relation, "tester").AddSort(rel.score, persistence.Ascending).ExecutePage(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	assert.Nil(t, res.Resume)
	assert.False(t, res.HasMore)
}

func TestQuery_Filters(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("FILT"))
	mustAssert(t, ds, rel.Relation)
	seed(t, ds, rel, 20)

	count := func(q persistence.Query) int64 {
		t.Helper()
		n, err := q.Count(ctx)
		require.NoError(t, err)
		return n
	}
	newQ := func() persistence.Query { return ds.CreateQuery(rel.Relation, "tester") }

	assert.Equal(t, int64(20), count(newQ()))
	assert.Equal(t, int64(4), count(newQ().AddFilter(rel.score, persistence.EQ, 3)))
	assert.Equal(t, int64(16), count(newQ().AddFilter(rel.score, persistence.NE, 3)))
	assert.Equal(t, int64(8), count(newQ().AddFilter(rel.score, persistence.GT, 2)))
	assert.Equal(t, int64(12), count(newQ().AddFilter(rel.score, persistence.LE, 2)))
	assert.Equal(t, int64(5), count(newQ().AddFilter(rel.done, persistence.EQ, true)))
	assert.Equal(t, int64(15), count(newQ().AddFilter(rel.done, persistence.EQ, nil)))
	assert.Equal(t, int64(5), count(newQ().AddFilter(rel.done, persistence.NE, nil)))
	assert.Equal(t, int64(8), count(newQ().AddValueSetFilter(rel.score, []interface{}{0, 4})))
	assert.Equal(t, int64(0), count(newQ().AddValueSetFilter(rel.score, nil)))
	assert.Equal(t, int64(4), count(newQ().
		AddFilter(rel.form, persistence.EQ, "form-0").
		AddValueSetFilter(rel.score, []interface{}{0, 1, 2})))

	es, err := newQ().AddFilter(rel.score, persistence.LT, 1).AddSort(rel.form, persistence.Descending).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, es, 4)
	for i := 1; i < len(es); i++ {
		assert.GreaterOrEqual(t, es[i-1].String(rel.form), es[i].String(rel.form))
	}
}

func TestQuery_Distinct(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	rel := newSubmissions(t, tableName("DIST"))
	mustAssert(t, ds, rel.Relation)
	seed(t, ds, rel, 20)

	vs, err := ds.CreateQuery(rel.Relation, "tester").
		AddSort(rel.score, persistence.Descending).
		ExecuteDistinct(ctx, rel.score)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(4), int64(3), int64(2), int64(1), int64(0)}, vs)

	// NULLs are not values.
	vs, err = ds.CreateQuery(rel.Relation, "tester").ExecuteDistinct(ctx, rel.done)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{true}, vs)
}

func TestQuery_ExecuteForeignKey(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)

	top := persistence.MustRelation("", tableName("TOP"))
	topLevel := persistence.TopLevelAuriField()
	ordinal := persistence.OrdinalNumberField()
	child := persistence.MustRelation("", tableName("CHILD"), topLevel, ordinal)
	mustAssert(t, ds, top)
	mustAssert(t, ds, child)

	parents := []*persistence.Entity{ds.CreateEntity(top, "tester"), ds.CreateEntity(top, "tester")}
	require.NoError(t, ds.PutEntities(ctx, parents, "tester"))
	var kids []*persistence.Entity
	for i, p := range parents {
		for j := 0; j <= i+1; j++ {
			e := ds.CreateEntity(child, "tester")
			_, err := e.SetString(topLevel, p.URI())
			require.NoError(t, err)
			require.NoError(t, e.SetInt(ordinal, int64(j+1)))
			kids = append(kids, e)
		}
	}
	require.NoError(t, ds.PutEntities(ctx, kids, "tester"))

	keys, err := ds.CreateQuery(child, "tester").
		AddFilter(ordinal, persistence.GE, 2).
		ExecuteForeignKey(ctx, topLevel, top)
	require.NoError(t, err)
	var got []string
	for _, k := range keys {
		got = append(got, k.URI)
	}
	assert.ElementsMatch(t, []string{parents[0].URI(), parents[1].URI()}, got)
	for _, k := range keys {
		assert.Same(t, top, k.Relation)
		_, err := ds.GetEntity(ctx, k.Relation, k.URI, "tester")
		assert.NoError(t, err)
	}

	_, err = ds.CreateQuery(child, "tester").ExecuteForeignKey(ctx, ordinal, top)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery))
}

func TestQuery_ForeignField(t *testing.T) {
	ctx := context.Background()
	ds := mustOpen(t)
	a := newSubmissions(t, tableName("A"))
	b := newSubmissions(t, tableName("B"))
	mustAssert(t, ds, a.Relation)

	_, err := ds.CreateQuery(a.Relation, "tester").AddFilter(b.score, persistence.EQ, 1).Execute(ctx)
	assert.True(t, errors.Is(err, persistence.ErrForeignField))

	_, err = ds.CreateQuery(a.Relation, "tester").AddSort(a.payload, persistence.Ascending).Execute(ctx)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery))

	_, err = ds.CreateQuery(a.Relation, "tester").AddFilter(a.score, persistence.GT, nil).Execute(ctx)
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery))
}
