package sqlstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/logger"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
	_ "github.com/featurebasedb/relstore/sqlstore/mysql"
	_ "github.com/featurebasedb/relstore/sqlstore/postgres"
	_ "github.com/featurebasedb/relstore/sqlstore/sqlite"
	_ "github.com/featurebasedb/relstore/sqlstore/sqlserver"
)

// clock is a settable time source for audit stamps and, in lock tests, for
// the lock protocol.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mustOpen returns a Datastore on a fresh SQLite file, closed at the end of
// the test.
func mustOpen(t *testing.T, opts ...sqlstore.DatastoreOption) *sqlstore.Datastore {
	t.Helper()
	cfg := sqlstore.NewConfig()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "relstore.db") + "?_busy_timeout=5000"
	return mustOpenConfig(t, cfg, opts...)
}

func mustOpenConfig(t *testing.T, cfg sqlstore.Config, opts ...sqlstore.DatastoreOption) *sqlstore.Datastore {
	t.Helper()
	opts = append([]sqlstore.DatastoreOption{sqlstore.OptDatastoreLogger(logger.NewLogfLogger(t))}, opts...)
	ds, err := sqlstore.Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

// backends returns the datastores the shared tests run against: SQLite
// always, and each server dialect whose RELSTORE_TEST_<DIALECT>_DSN is set.
func backends(t *testing.T) map[string]func(t *testing.T, opts ...sqlstore.DatastoreOption) *sqlstore.Datastore {
	out := map[string]func(t *testing.T, opts ...sqlstore.DatastoreOption) *sqlstore.Datastore{
		"sqlite": mustOpen,
	}
	for _, name := range []string{"mysql", "postgres", "sqlserver"} {
		dsn := os.Getenv("RELSTORE_TEST_" + strings.ToUpper(name) + "_DSN")
		if dsn == "" {
			continue
		}
		cfg := sqlstore.NewConfig()
		cfg.Dialect = name
		cfg.DSN = dsn
		out[name] = func(t *testing.T, opts ...sqlstore.DatastoreOption) *sqlstore.Datastore {
			return mustOpenConfig(t, cfg, opts...)
		}
	}
	return out
}

// tableName returns base with a random suffix so runs against a shared
// server do not collide.
func tableName(base string) string {
	return base + "_" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// mustAssert asserts rel and drops it when the test ends.
func mustAssert(t *testing.T, ds *sqlstore.Datastore, rel *persistence.Relation) {
	t.Helper()
	require.NoError(t, ds.AssertRelation(context.Background(), rel, "tester"))
	t.Cleanup(func() {
		if err := ds.DropRelation(context.Background(), rel, "tester"); err != nil {
			t.Logf("dropping %s: %v", rel.QualifiedName(), err)
		}
	})
}
