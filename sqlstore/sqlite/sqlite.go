// Package sqlite is the embedded SQLite dialect of sqlstore. Importing it
// registers the dialect under the name "sqlite" together with the
// go-sqlite3 driver.
//
// Column types are declared with names that survive a round trip through
// PRAGMA table_info, so reconciliation sees the declared dimensions again.
// Timestamps are stored as fixed-width UTC text so that ordering and range
// filters compare correctly. Exact decimals use NUMERIC affinity and keep
// about fifteen significant digits.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/mattn/go-sqlite3"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

const (
	Name = "sqlite"

	// MainSchema is the schema of the database file itself.
	MainSchema = "main"

	maxColumnNameLen = 128
	maxTableNameLen  = 124
	maxBindParams    = 32766

	// maxBlobSize is the default SQLITE_MAX_LENGTH.
	maxBlobSize = 1000000000

	// TimeLayout is the stored form of DateTime values.
	TimeLayout = "2006-01-02 15:04:05.000000000"
)

func init() {
	sqlstore.Register(Dialect{})
}

// Ensure type implements interface.
var _ sqlstore.Dialect = Dialect{}

// Dialect implements sqlstore.Dialect for SQLite 3.
type Dialect struct{}

func (Dialect) Name() string          { return Name }
func (Dialect) DriverName() string    { return "sqlite3" }
func (Dialect) MaxTableNameLen() int  { return maxTableNameLen }
func (Dialect) MaxColumnNameLen() int { return maxColumnNameLen }
func (Dialect) MaxBindParams() int    { return maxBindParams }

func (Dialect) Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return "?" }

func (Dialect) Limit(query string, n int) string {
	return query + " LIMIT " + strconv.Itoa(n)
}

func (Dialect) CurrentSchema(ctx context.Context, q sqlstore.Querier) (string, error) {
	return MainSchema, nil
}

func (d Dialect) Introspect(ctx context.Context, q sqlstore.Querier, schema, table string) (map[string]sqlstore.ObservedColumn, error) {
	if schema == "" {
		schema = MainSchema
	}
	rows, err := q.QueryContext(ctx, "PRAGMA "+d.Quote(schema)+".table_info("+d.Quote(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]sqlstore.ObservedColumn)
	for rows.Next() {
		var (
			cid, notNull, pk int64
			name, typ        string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col, err := parseColumn(name, typ)
		if err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		cols[strings.ToUpper(name)] = col
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

// parseColumn maps a declared type such as "VARCHAR(80)" or "DECIMAL(38,10)"
// back onto the abstract types.
func parseColumn(name, declared string) (sqlstore.ObservedColumn, error) {
	col := sqlstore.ObservedColumn{Name: name}
	typ := strings.ToLower(strings.TrimSpace(declared))
	var args []int
	if i := strings.Index(typ, "("); i >= 0 {
		for _, a := range strings.Split(strings.TrimSuffix(typ[i+1:], ")"), ",") {
			n, err := strconv.Atoi(strings.TrimSpace(a))
			if err != nil {
				return col, fmt.Errorf("column %s has malformed type %q", name, declared)
			}
			args = append(args, n)
		}
		typ = strings.TrimSpace(typ[:i])
	}
	arg := func(i int) int {
		if i < len(args) {
			return args[i]
		}
		return 0
	}

	switch {
	case typ == "boolean":
		col.Type = persistence.Boolean
	case strings.Contains(typ, "blob"):
		col.Type = persistence.Binary
		col.MaxLength = maxBlobSize
	case strings.Contains(typ, "char"):
		if arg(0) == 0 {
			col.Type = persistence.LongString
			col.MaxLength = maxBlobSize
			break
		}
		col.Type = persistence.String
		col.MaxLength = arg(0)
	case strings.Contains(typ, "text"), strings.Contains(typ, "clob"):
		col.Type = persistence.LongString
		col.MaxLength = maxBlobSize
	case strings.Contains(typ, "date"), strings.Contains(typ, "time"):
		col.Type = persistence.DateTime
	case typ == "bigint":
		col.Type = persistence.Integer
		col.Precision = 19
	case strings.Contains(typ, "int"):
		col.Type = persistence.Integer
		col.Precision = 10
	case strings.Contains(typ, "float"), strings.Contains(typ, "double"), strings.Contains(typ, "real"):
		col.Type = persistence.Decimal
		col.Precision = persistence.DoublePrecisionBits
		col.DoublePrecision = true
	case typ == "decimal", typ == "numeric":
		col.Precision = arg(0)
		if arg(1) == 0 {
			col.Type = persistence.Integer
		} else {
			col.Type = persistence.Decimal
			col.Scale = arg(1)
		}
	default:
		return col, fmt.Errorf("column %s has unsupported type %q", name, declared)
	}
	return col, nil
}

func (Dialect) IsMissingTable(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return strings.Contains(err.Error(), "no such table")
}

// CreateTable returns the CREATE TABLE followed by one CREATE INDEX per
// indexed field. SQLite only has ordered indexes; hashed hints get one too.
func (d Dialect) CreateTable(schema string, rel *persistence.Relation) ([]string, error) {
	if err := sqlstore.CheckIndexable(rel); err != nil {
		return nil, err
	}
	if schema == "" {
		schema = MainSchema
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(sqlstore.QualifiedName(d, schema, rel.Table()))
	b.WriteString(" (")
	for i, f := range rel.Fields() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(f.Name()))
		b.WriteString(" ")
		b.WriteString(columnType(f))
		b.WriteString(sqlstore.NullClause(f))
		if f == rel.PrimaryKey() {
			b.WriteString(" PRIMARY KEY")
		}
	}
	b.WriteString(")")
	stmts := []string{b.String()}

	// The index name carries the schema; the table must not.
	for _, f := range sqlstore.SecondaryIndexed(rel) {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			sqlstore.QualifiedName(d, schema, sqlstore.IndexName(rel.Table(), f.Name())),
			d.Quote(rel.Table()),
			d.Quote(f.Name()),
		))
	}
	return stmts, nil
}

func columnType(f *persistence.Field) string {
	switch f.Type() {
	case persistence.Binary:
		return "BLOB"
	case persistence.LongString:
		return "TEXT"
	case persistence.String, persistence.URI:
		return fmt.Sprintf("VARCHAR(%d)", sqlstore.StringLen(f))
	case persistence.Boolean:
		return "BOOLEAN"
	case persistence.Integer:
		if sqlstore.IntegerDigits(f) > 9 {
			return "BIGINT"
		}
		return "INTEGER"
	case persistence.Decimal:
		if f.DoublePrecision() {
			return "DOUBLE"
		}
		p, s := sqlstore.DecimalDims(f)
		return fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case persistence.DateTime:
		return "DATETIME"
	}
	panic("unknown data type " + f.Type().String())
}

func (d Dialect) DropTable(schema, table string) string {
	if schema == "" {
		schema = MainSchema
	}
	return "DROP TABLE IF EXISTS " + sqlstore.QualifiedName(d, schema, table)
}

// BindValue stores timestamps in TimeLayout and decimals as text, except
// finite doubles which go in as REAL. NaN must not be bound as a float:
// SQLite turns it into NULL.
func (Dialect) BindValue(f *persistence.Field, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *apd.Decimal:
		if f.DoublePrecision() && !persistence.IsSpecialDecimal(x) {
			return persistence.DecimalToFloat(x), nil
		}
		return persistence.FormatDecimal(x), nil
	case time.Time:
		return x.UTC().Format(TimeLayout), nil
	}
	return v, nil
}

// Now reads the database clock. SQLite only keeps milliseconds.
func (Dialect) Now(ctx context.Context, q sqlstore.Querier) (time.Time, error) {
	return sqlstore.QueryTime(ctx, q, "SELECT strftime('%Y-%m-%d %H:%M:%f', 'now')")
}

// LockTable runs fn inside BEGIN IMMEDIATE, which takes the database write
// lock up front. The lock covers the whole file, not just the table.
func (d Dialect) LockTable(ctx context.Context, conn *sql.Conn, schema, table string, fn func(q sqlstore.Querier) error) error {
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return persistence.WrapPersistence(err, "locking "+table)
	}
	if err := fn(conn); err != nil {
		if _, rerr := conn.ExecContext(context.Background(), "ROLLBACK"); rerr != nil {
			sqlstore.DiscardConn(conn)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if _, rerr := conn.ExecContext(context.Background(), "ROLLBACK"); rerr != nil {
			sqlstore.DiscardConn(conn)
		}
		return persistence.WrapPersistence(err, "committing "+table)
	}
	return nil
}
