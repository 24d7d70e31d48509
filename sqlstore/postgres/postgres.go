// Package postgres is the PostgreSQL dialect of sqlstore. Importing it
// registers the dialect under the name "postgres" together with the lib/pq
// driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/lib/pq"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

const (
	Name = "postgres"

	maxColumnNameLen = 63
	// Four characters are kept back for the index name suffix.
	maxTableNameLen = 59
	maxBindParams   = 34300

	maxBlobSize = 65536 * 4096
	// maxRowSize bounds what is still reported as a String.
	maxRowSize = 65000

	errUndefinedTable = "42P01"
)

func init() {
	sqlstore.Register(Dialect{})
}

// Ensure type implements interface.
var _ sqlstore.Dialect = Dialect{}

// Dialect implements sqlstore.Dialect for PostgreSQL 10 and later.
type Dialect struct{}

func (Dialect) Name() string          { return Name }
func (Dialect) DriverName() string    { return "postgres" }
func (Dialect) MaxTableNameLen() int  { return maxTableNameLen }
func (Dialect) MaxColumnNameLen() int { return maxColumnNameLen }
func (Dialect) MaxBindParams() int    { return maxBindParams }

func (Dialect) Quote(name string) string { return pq.QuoteIdentifier(name) }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) Limit(query string, n int) string {
	return query + " LIMIT " + strconv.Itoa(n)
}

func (Dialect) CurrentSchema(ctx context.Context, q sqlstore.Querier) (string, error) {
	var schema string
	err := q.QueryRowContext(ctx, "SELECT current_schema()").Scan(&schema)
	return schema, err
}

const tableDefQuery = `SELECT column_name, is_nullable, character_maximum_length, numeric_precision, numeric_scale, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`

func (Dialect) Introspect(ctx context.Context, q sqlstore.Querier, schema, table string) (map[string]sqlstore.ObservedColumn, error) {
	rows, err := q.QueryContext(ctx, tableDefQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]sqlstore.ObservedColumn)
	for rows.Next() {
		var (
			name, nullable, typ      string
			maxLen, precision, scale sql.NullInt64
		)
		if err := rows.Scan(&name, &nullable, &maxLen, &precision, &scale, &typ); err != nil {
			return nil, err
		}
		col, err := parseColumn(name, strings.ToLower(typ), maxLen, precision, scale)
		if err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
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

func parseColumn(name, typ string, maxLen, precision, scale sql.NullInt64) (sqlstore.ObservedColumn, error) {
	col := sqlstore.ObservedColumn{Name: name}
	switch {
	case typ == "boolean":
		col.Type = persistence.Boolean
	case typ == "bytea":
		col.Type = persistence.Binary
		col.MaxLength = maxBlobSize
	case typ == "text":
		col.Type = persistence.LongString
		col.MaxLength = maxBlobSize
	case maxLen.Valid:
		if !strings.Contains(typ, "char") {
			return col, fmt.Errorf("column %s has unsupported type %q", name, typ)
		}
		col.MaxLength = int(maxLen.Int64)
		if col.MaxLength <= maxRowSize {
			col.Type = persistence.String
		} else {
			col.Type = persistence.LongString
		}
	case !scale.Valid:
		switch {
		case strings.Contains(typ, "date"), strings.Contains(typ, "time"):
			col.Type = persistence.DateTime
		case typ == "double precision", typ == "real":
			col.Type = persistence.Decimal
			col.Precision = int(precision.Int64)
			col.DoublePrecision = true
		default:
			return col, fmt.Errorf("column %s has unsupported type %q", name, typ)
		}
	case scale.Int64 == 0:
		col.Type = persistence.Integer
		col.Precision = int(precision.Int64)
	default:
		col.Type = persistence.Decimal
		col.Precision = int(precision.Int64)
		col.Scale = int(scale.Int64)
	}
	return col, nil
}

func (Dialect) IsMissingTable(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == errUndefinedTable
}

// CreateTable returns the CREATE TABLE, with the primary key declared
// UNIQUE, followed by one CREATE INDEX per indexed field.
func (d Dialect) CreateTable(schema string, rel *persistence.Relation) ([]string, error) {
	if err := sqlstore.CheckIndexable(rel); err != nil {
		return nil, err
	}
	table := sqlstore.QualifiedName(d, schema, rel.Table())

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, f := range rel.Fields() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(f.Name()))
		b.WriteString(" ")
		b.WriteString(columnType(f))
		if f == rel.PrimaryKey() {
			b.WriteString(" UNIQUE")
		}
		b.WriteString(sqlstore.NullClause(f))
	}
	b.WriteString(")")
	stmts := []string{b.String()}

	for _, f := range sqlstore.SecondaryIndexed(rel) {
		using := ""
		if f.IndexHint() == persistence.IndexHashed {
			using = " USING HASH"
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s%s (%s)",
			d.Quote(sqlstore.IndexName(rel.Table(), f.Name())), table, using, d.Quote(f.Name())))
	}
	return stmts, nil
}

func columnType(f *persistence.Field) string {
	switch f.Type() {
	case persistence.Binary:
		return "BYTEA"
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
			return "FLOAT(53)"
		}
		p, s := sqlstore.DecimalDims(f)
		return fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case persistence.DateTime:
		return "TIMESTAMP WITHOUT TIME ZONE"
	}
	panic("unknown data type " + f.Type().String())
}

func (d Dialect) DropTable(schema, table string) string {
	return "DROP TABLE IF EXISTS " + sqlstore.QualifiedName(d, schema, table)
}

// BindValue sends decimals as text. NUMERIC and double precision columns
// both accept NaN and the infinities spelled out.
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
		return x.UTC(), nil
	}
	return v, nil
}

func (Dialect) Now(ctx context.Context, q sqlstore.Querier) (time.Time, error) {
	return sqlstore.QueryTime(ctx, q, "SELECT now() AT TIME ZONE 'utc'")
}

// LockTable runs fn in a serializable transaction holding an ACCESS
// EXCLUSIVE lock on the table.
func (d Dialect) LockTable(ctx context.Context, conn *sql.Conn, schema, table string, fn func(q sqlstore.Querier) error) error {
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return persistence.WrapPersistence(err, "starting lock transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "LOCK TABLE "+sqlstore.QualifiedName(d, schema, table)+" IN ACCESS EXCLUSIVE MODE"); err != nil {
		return persistence.WrapPersistence(err, "locking "+table)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence.WrapPersistence(err, "committing "+table)
	}
	return nil
}
