package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/featurebasedb/relstore/persistence"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the engine and the
// dialects issue statements through.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ObservedColumn is a live column as reported by the backend catalog,
// already mapped back onto the abstract type system.
type ObservedColumn struct {
	Name     string
	Type     persistence.DataType
	Nullable bool
	persistence.Dimensions
}

// Dialect is everything backend-specific: identifier rules, type mapping in
// both directions, value binding and the exclusive section the task lock
// protocol runs in. Each dialect keeps its type tables to itself.
type Dialect interface {
	// Name is the configuration name of the dialect, e.g. "mysql".
	Name() string
	// DriverName is the database/sql driver the dialect registers.
	DriverName() string

	MaxTableNameLen() int
	MaxColumnNameLen() int
	// MaxBindParams is the largest number of bind parameters one statement
	// may carry.
	MaxBindParams() int

	// Quote returns name as a quoted identifier.
	Quote(name string) string
	// Placeholder returns the bind marker of the n-th parameter, from 1.
	Placeholder(n int) string
	// Limit restricts an ordered SELECT to n rows.
	Limit(query string, n int) string

	// CurrentSchema reports the schema unqualified names resolve to.
	CurrentSchema(ctx context.Context, q Querier) (string, error)
	// Introspect returns the columns of schema.table keyed by upper-cased
	// name, or a nil map when the table does not exist.
	Introspect(ctx context.Context, q Querier, schema, table string) (map[string]ObservedColumn, error)
	// CreateTable returns the CREATE TABLE statement followed by any
	// separate index statements.
	CreateTable(schema string, rel *persistence.Relation) ([]string, error)
	// DropTable returns the statement dropping schema.table if it exists.
	DropTable(schema, table string) string

	// IsMissingTable reports whether err says a table does not exist.
	IsMissingTable(err error) bool

	// BindValue converts a canonical value of f into a driver argument.
	BindValue(f *persistence.Field, v interface{}) (interface{}, error)

	// Now reads the current UTC time from the backend. The task lock
	// protocol runs on this clock, never on the client's.
	Now(ctx context.Context, q Querier) (time.Time, error)

	// LockTable runs fn on conn while holding schema.table exclusively, at
	// the strictest isolation the backend offers, and commits when fn
	// returns nil.
	LockTable(ctx context.Context, conn *sql.Conn, schema, table string, fn func(q Querier) error) error
}

// QueryTime runs query, which must return one timestamp, and returns it in
// UTC. Drivers hand timestamps back as time.Time or as text depending on the
// column type and DSN settings; both are accepted.
func QueryTime(ctx context.Context, q Querier, query string) (time.Time, error) {
	var raw interface{}
	if err := q.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return time.Time{}, err
	}
	switch x := raw.(type) {
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return persistence.ParseTime(string(x))
	case string:
		return persistence.ParseTime(x)
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp value %T", raw)
}

// QualifiedName quotes and joins schema and table.
func QualifiedName(d Dialect, schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]Dialect)
)

// Register makes a dialect available by name to Open. It is called from the
// init functions of the dialect packages.
func Register(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	if _, dup := dialects[d.Name()]; dup {
		panic("sqlstore: Register called twice for dialect " + d.Name())
	}
	dialects[d.Name()] = d
}

// LookupDialect returns a registered dialect.
func LookupDialect(name string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, persistence.NewErrUnsupportedDialect(name)
	}
	return d, nil
}

// Dialects lists the registered dialect names.
func Dialects() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DiscardConn makes database/sql close conn instead of returning it to the
// pool. Dialects call it when they cannot restore session state, such as a
// table lock or autocommit mode, after an exclusive section.
func DiscardConn(conn *sql.Conn) {
	_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
}
