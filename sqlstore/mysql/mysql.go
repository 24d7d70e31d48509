// Package mysql is the MySQL dialect of sqlstore. Importing it registers the
// dialect under the name "mysql" together with the go-sql-driver driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-sql-driver/mysql"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

const (
	Name = "mysql"

	maxTableNameLen  = 64
	maxColumnNameLen = 64
	maxBindParams    = 65000

	// Sizes of the blob and text families.
	tinySize   = 255
	plainSize  = 65535
	mediumSize = 16777215
	// longSize is bounded by max_allowed_packet rather than the column.
	longSize = 1073741823 - 65536

	errNoSuchTable = 1146
)

func init() {
	sqlstore.Register(Dialect{})
}

// Ensure type implements interface.
var _ sqlstore.Dialect = Dialect{}

// Dialect implements sqlstore.Dialect for MySQL 5.7 and later.
type Dialect struct{}

func (Dialect) Name() string          { return Name }
func (Dialect) DriverName() string    { return "mysql" }
func (Dialect) MaxTableNameLen() int  { return maxTableNameLen }
func (Dialect) MaxColumnNameLen() int { return maxColumnNameLen }
func (Dialect) MaxBindParams() int    { return maxBindParams }

func (Dialect) Quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(n int) string { return "?" }

func (Dialect) Limit(query string, n int) string {
	return query + " LIMIT " + strconv.Itoa(n)
}

func (Dialect) CurrentSchema(ctx context.Context, q sqlstore.Querier) (string, error) {
	var schema sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schema); err != nil {
		return "", err
	}
	if !schema.Valid || schema.String == "" {
		return "", errors.New(persistence.ErrInvalidIdentifier, "no database selected: name one in the DSN or the schema setting")
	}
	return schema.String, nil
}

func (d Dialect) Introspect(ctx context.Context, q sqlstore.Querier, schema, table string) (map[string]sqlstore.ObservedColumn, error) {
	rows, err := q.QueryContext(ctx, "SHOW COLUMNS FROM "+sqlstore.QualifiedName(d, schema, table))
	if err != nil {
		if d.IsMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]sqlstore.ObservedColumn)
	for rows.Next() {
		var field, typ, null, key, dflt, extra sql.NullString
		if err := rows.Scan(&field, &typ, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		col, err := parseColumn(field.String, typ.String)
		if err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(null.String, "YES")
		cols[strings.ToUpper(col.Name)] = col
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

func (Dialect) IsMissingTable(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errNoSuchTable
}

// parseColumn maps a SHOW COLUMNS type such as "decimal(38,10)" or
// "varchar(80)" onto the abstract types.
func parseColumn(name, columnType string) (sqlstore.ObservedColumn, error) {
	col := sqlstore.ObservedColumn{Name: name}
	typ := strings.ToLower(columnType)
	var first, second int
	if i := strings.Index(typ, "("); i >= 0 {
		terms := strings.TrimSuffix(typ[i+1:], ")")
		if j := strings.Index(terms, ")"); j >= 0 {
			terms = terms[:j]
		}
		typ = typ[:i]
		parts := strings.SplitN(terms, ",", 2)
		first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
		if len(parts) == 2 {
			second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
	}

	switch {
	case strings.Contains(typ, "char"):
		col.Type = persistence.String
		col.MaxLength = first
	case strings.Contains(typ, "decimal"):
		if second == 0 {
			col.Type = persistence.Integer
			col.Precision = first
		} else {
			col.Type = persistence.Decimal
			col.Precision = first
			col.Scale = second
		}
	case strings.Contains(typ, "double"), strings.Contains(typ, "float"):
		col.Type = persistence.Decimal
		col.Precision = persistence.DoublePrecisionBits
		col.DoublePrecision = true
	case strings.Contains(typ, "int"):
		col.Type = persistence.Integer
		col.Precision = first
	case strings.Contains(typ, "date"), strings.Contains(typ, "time"):
		col.Type = persistence.DateTime
	case strings.Contains(typ, "binary"):
		col.Type = persistence.Binary
		col.MaxLength = first
	case strings.Contains(typ, "blob"):
		col.Type = persistence.Binary
		col.MaxLength = familySize(typ)
	case strings.Contains(typ, "text"):
		col.Type = persistence.LongString
		col.MaxLength = familySize(typ)
	default:
		return col, fmt.Errorf("column %s has unsupported type %q", name, columnType)
	}
	return col, nil
}

func familySize(typ string) int {
	switch {
	case strings.Contains(typ, "tiny"):
		return tinySize
	case strings.Contains(typ, "medium"):
		return mediumSize
	case strings.Contains(typ, "long"):
		return longSize
	}
	return plainSize
}

// CreateTable returns a single CREATE TABLE carrying every index. The
// primary key gets a non-unique hash index, never a PRIMARY KEY.
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
	}

	b.WriteString(", INDEX(")
	b.WriteString(d.Quote(rel.PrimaryKey().Name()))
	b.WriteString(") USING HASH")
	for _, f := range sqlstore.SecondaryIndexed(rel) {
		b.WriteString(", INDEX(")
		b.WriteString(d.Quote(f.Name()))
		b.WriteString(")")
		if f.IndexHint() == persistence.IndexHashed {
			b.WriteString(" USING HASH")
		}
	}
	b.WriteString(")")
	return []string{b.String()}, nil
}

func columnType(f *persistence.Field) string {
	switch f.Type() {
	case persistence.Binary:
		if n := f.MaxLength(); n > mediumSize {
			return "LONGBLOB"
		}
		return "MEDIUMBLOB"
	case persistence.LongString:
		return "MEDIUMTEXT CHARACTER SET utf8mb4"
	case persistence.String, persistence.URI:
		return fmt.Sprintf("VARCHAR(%d) CHARACTER SET utf8mb4", sqlstore.StringLen(f))
	case persistence.Boolean:
		return "CHAR(1) CHARACTER SET utf8mb4"
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
		return "DATETIME(6)"
	}
	panic("unknown data type " + f.Type().String())
}

func (d Dialect) DropTable(schema, table string) string {
	return "DROP TABLE IF EXISTS " + sqlstore.QualifiedName(d, schema, table)
}

// BindValue stores booleans as "1" or "0" in their CHAR(1) column and
// decimals as text. MySQL has no representation for NaN or the infinities.
func (Dialect) BindValue(f *persistence.Field, v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
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

// Now formats the server time as text so the result does not depend on the
// parseTime and loc DSN settings.
func (Dialect) Now(ctx context.Context, q sqlstore.Querier) (time.Time, error) {
	return sqlstore.QueryTime(ctx, q, "SELECT DATE_FORMAT(UTC_TIMESTAMP(6), '%Y-%m-%d %H:%i:%s.%f')")
}

// LockTable runs fn between LOCK TABLES and UNLOCK TABLES with autocommit
// off. MySQL requires that order: a transaction started with BEGIN would
// release the table lock.
func (d Dialect) LockTable(ctx context.Context, conn *sql.Conn, schema, table string, fn func(q sqlstore.Querier) error) error {
	if _, err := conn.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return persistence.WrapPersistence(err, "setting isolation level")
	}
	if _, err := conn.ExecContext(ctx, "SET autocommit=0"); err != nil {
		return persistence.WrapPersistence(err, "disabling autocommit")
	}
	defer func() {
		if _, rerr := conn.ExecContext(context.Background(), "SET autocommit=1"); rerr != nil {
			sqlstore.DiscardConn(conn)
		}
	}()

	if _, err := conn.ExecContext(ctx, "LOCK TABLES "+sqlstore.QualifiedName(d, schema, table)+" WRITE"); err != nil {
		return persistence.WrapPersistence(err, "locking "+table)
	}
	defer func() {
		if _, uerr := conn.ExecContext(context.Background(), "UNLOCK TABLES"); uerr != nil {
			sqlstore.DiscardConn(conn)
		}
	}()

	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return persistence.WrapPersistence(err, "committing "+table)
	}
	return nil
}
