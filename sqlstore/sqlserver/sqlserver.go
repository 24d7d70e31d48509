// Package sqlserver is the Microsoft SQL Server dialect of sqlstore.
// Importing it registers the dialect under the name "sqlserver" together
// with the go-mssqldb driver.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	mssql "github.com/denisenkom/go-mssqldb"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

const (
	Name = "sqlserver"

	maxColumnNameLen = 114
	// Four characters are kept back for the index name suffix.
	maxTableNameLen = 112
	maxBindParams   = 2000

	// maxInRowNVarchar is the longest nvarchar stored in the row.
	maxInRowNVarchar = 4000
	// maxBlobSize caps (max) columns to something a client can buffer.
	maxBlobSize = 65536 * 4096

	errInvalidObject = 208
)

func init() {
	sqlstore.Register(Dialect{})
}

// Ensure type implements interface.
var _ sqlstore.Dialect = Dialect{}

// Dialect implements sqlstore.Dialect for SQL Server 2016 and later.
type Dialect struct{}

func (Dialect) Name() string          { return Name }
func (Dialect) DriverName() string    { return "sqlserver" }
func (Dialect) MaxTableNameLen() int  { return maxTableNameLen }
func (Dialect) MaxColumnNameLen() int { return maxColumnNameLen }
func (Dialect) MaxBindParams() int    { return maxBindParams }

func (Dialect) Quote(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (Dialect) Limit(query string, n int) string {
	return query + " OFFSET 0 ROWS FETCH NEXT " + strconv.Itoa(n) + " ROWS ONLY"
}

func (Dialect) CurrentSchema(ctx context.Context, q sqlstore.Querier) (string, error) {
	var schema string
	err := q.QueryRowContext(ctx, "SELECT SCHEMA_NAME()").Scan(&schema)
	return schema, err
}

const tableDefQuery = `SELECT c.name, c.is_nullable, c.max_length, c.precision, c.scale, t.name
FROM sys.columns c
JOIN sys.types t ON c.system_type_id = t.system_type_id AND c.user_type_id = t.user_type_id
JOIN sys.tables tn ON c.object_id = tn.object_id
JOIN sys.schemas s ON tn.schema_id = s.schema_id
WHERE s.name = @p1 AND tn.name = @p2`

func (Dialect) Introspect(ctx context.Context, q sqlstore.Querier, schema, table string) (map[string]sqlstore.ObservedColumn, error) {
	rows, err := q.QueryContext(ctx, tableDefQuery, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]sqlstore.ObservedColumn)
	for rows.Next() {
		var (
			name, typ                string
			nullable                 bool
			maxLen, precision, scale int64
		)
		if err := rows.Scan(&name, &nullable, &maxLen, &precision, &scale, &typ); err != nil {
			return nil, err
		}
		col, err := parseColumn(name, strings.ToLower(typ), int(maxLen), int(precision), int(scale))
		if err != nil {
			return nil, err
		}
		col.Nullable = nullable
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

func parseColumn(name, typ string, maxLen, precision, scale int) (sqlstore.ObservedColumn, error) {
	col := sqlstore.ObservedColumn{Name: name}
	capLen := func(n int) int {
		if n < 0 || n > maxBlobSize {
			return maxBlobSize
		}
		return n
	}
	switch {
	case typ == "bit":
		col.Type = persistence.Boolean
	case strings.Contains(typ, "binary"), typ == "image":
		col.Type = persistence.Binary
		col.MaxLength = capLen(maxLen)
	case strings.Contains(typ, "text"), strings.Contains(typ, "char"):
		n := capLen(maxLen)
		if strings.HasPrefix(typ, "n") && maxLen > 0 {
			// Two bytes per character.
			n /= 2
		}
		col.MaxLength = n
		if n <= maxInRowNVarchar {
			col.Type = persistence.String
		} else {
			col.Type = persistence.LongString
		}
	case strings.Contains(typ, "date"), strings.Contains(typ, "time"):
		col.Type = persistence.DateTime
	case strings.Contains(typ, "int"):
		col.Type = persistence.Integer
		col.Precision = precision
	case typ == "float", typ == "real":
		col.Type = persistence.Decimal
		col.Precision = precision
		col.DoublePrecision = true
	case typ == "decimal", typ == "numeric":
		col.Precision = precision
		if scale == 0 {
			col.Type = persistence.Integer
		} else {
			col.Type = persistence.Decimal
			col.Scale = scale
		}
	default:
		return col, fmt.Errorf("column %s has unsupported type %q", name, typ)
	}
	return col, nil
}

func (Dialect) IsMissingTable(err error) bool {
	var me mssql.Error
	return errors.As(err, &me) && me.Number == errInvalidObject
}

// CreateTable returns the CREATE TABLE with a non-clustered primary key,
// followed by one CREATE INDEX per indexed field. The first ordered index
// is clustered; hashed ones never are.
func (d Dialect) CreateTable(schema string, rel *persistence.Relation) ([]string, error) {
	if err := sqlstore.CheckIndexable(rel); err != nil {
		return nil, err
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
			b.WriteString(" PRIMARY KEY NONCLUSTERED")
		}
	}
	b.WriteString(")")
	stmts := []string{b.String()}

	clustered := false
	for _, f := range sqlstore.SecondaryIndexed(rel) {
		kind := "NONCLUSTERED"
		if f.IndexHint() == persistence.IndexOrdered && !clustered {
			kind = "CLUSTERED"
			clustered = true
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %s INDEX %s ON %s (%s)",
			kind,
			d.Quote(sqlstore.IndexName(rel.Table(), f.Name())),
			sqlstore.QualifiedName(d, schema, rel.Table()),
			d.Quote(f.Name()),
		))
	}
	return stmts, nil
}

func columnType(f *persistence.Field) string {
	switch f.Type() {
	case persistence.Binary:
		return "varbinary(max)"
	case persistence.LongString:
		return "nvarchar(max)"
	case persistence.String, persistence.URI:
		n := sqlstore.StringLen(f)
		if n > maxInRowNVarchar {
			return "nvarchar(max)"
		}
		return fmt.Sprintf("nvarchar(%d)", n)
	case persistence.Boolean:
		return "bit"
	case persistence.Integer:
		if sqlstore.IntegerDigits(f) > 9 {
			return "bigint"
		}
		return "integer"
	case persistence.Decimal:
		if f.DoublePrecision() {
			return "float(53)"
		}
		p, s := sqlstore.DecimalDims(f)
		return fmt.Sprintf("decimal(%d,%d)", p, s)
	case persistence.DateTime:
		return "datetime2(7)"
	}
	panic("unknown data type " + f.Type().String())
}

func (d Dialect) DropTable(schema, table string) string {
	return "DROP TABLE IF EXISTS " + sqlstore.QualifiedName(d, schema, table)
}

// BindValue sends exact decimals as text so the server converts them without
// passing through a float. SQL Server has no NaN or infinities.
func (Dialect) BindValue(f *persistence.Field, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *apd.Decimal:
		if persistence.IsSpecialDecimal(x) {
			return nil, persistence.NewErrNonFiniteDecimal(f.Name(), Name)
		}
		if f.DoublePrecision() {
			return persistence.DecimalToFloat(x), nil
		}
		return persistence.FormatDecimal(x), nil
	case time.Time:
		return x.UTC(), nil
	}
	return v, nil
}

func (Dialect) Now(ctx context.Context, q sqlstore.Querier) (time.Time, error) {
	return sqlstore.QueryTime(ctx, q, "SELECT SYSUTCDATETIME()")
}

// LockTable runs fn in a serializable transaction that first takes an
// exclusive table lock held until commit.
func (d Dialect) LockTable(ctx context.Context, conn *sql.Conn, schema, table string, fn func(q sqlstore.Querier) error) error {
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return persistence.WrapPersistence(err, "starting lock transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	q := "SELECT COUNT(*) FROM " + sqlstore.QualifiedName(d, schema, table) + " WITH (TABLOCKX, HOLDLOCK)"
	if err := tx.QueryRowContext(ctx, q).Scan(&n); err != nil {
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
