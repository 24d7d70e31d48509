package sqlserver

import (
	"testing"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

func TestParseColumn(t *testing.T) {
	tests := []struct {
		typ                      string
		maxLen, precision, scale int
		want                     persistence.DataType
		dims                     persistence.Dimensions
	}{
		{"nvarchar", 160, 0, 0, persistence.String, persistence.Dimensions{MaxLength: 80}},
		{"nvarchar", -1, 0, 0, persistence.LongString, persistence.Dimensions{MaxLength: maxBlobSize}},
		{"varchar", 200, 0, 0, persistence.String, persistence.Dimensions{MaxLength: 200}},
		{"varbinary", -1, 0, 0, persistence.Binary, persistence.Dimensions{MaxLength: maxBlobSize}},
		{"bit", 1, 1, 0, persistence.Boolean, persistence.Dimensions{}},
		{"bigint", 8, 19, 0, persistence.Integer, persistence.Dimensions{Precision: 19}},
		{"float", 8, 53, 0, persistence.Decimal, persistence.Dimensions{Precision: 53, DoublePrecision: true}},
		{"decimal", 17, 38, 10, persistence.Decimal, persistence.Dimensions{Precision: 38, Scale: 10}},
		{"decimal", 9, 19, 0, persistence.Integer, persistence.Dimensions{Precision: 19}},
		{"datetime2", 8, 27, 7, persistence.DateTime, persistence.Dimensions{}},
	}
	for _, test := range tests {
		col, err := parseColumn("C", test.typ, test.maxLen, test.precision, test.scale)
		require.NoError(t, err, test.typ)
		assert.Equal(t, test.want, col.Type, test.typ)
		assert.Equal(t, test.dims, col.Dimensions, test.typ)
	}

	_, err := parseColumn("C", "xml", -1, 0, 0)
	assert.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	rel := persistence.MustRelation("", "T",
		persistence.NewStringField("FORM_ID", false, 80).WithIndex(persistence.IndexHashed),
		persistence.NewStringField("NOTES", true, 5000),
	)
	stmts, err := Dialect{}.CreateTable("dbo", rel)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE [dbo].[T] ([_URI] nvarchar(80) NOT NULL PRIMARY KEY NONCLUSTERED, ")
	assert.Contains(t, stmts[0], "[_CREATION_DATE] datetime2(7) NOT NULL")
	assert.Contains(t, stmts[0], "[NOTES] nvarchar(max) NULL)")
	assert.Equal(t, "CREATE CLUSTERED INDEX [T_lud] ON [dbo].[T] ([_LAST_UPDATE_DATE])", stmts[1])
	assert.Equal(t, "CREATE NONCLUSTERED INDEX [T_fi7] ON [dbo].[T] ([FORM_ID])", stmts[2])
}

func TestBindValue(t *testing.T) {
	d := Dialect{}
	nan, _ := persistence.ParseDecimal("NaN")
	_, err := d.BindValue(persistence.NewDecimalField("E", true, 10, 2), nan)
	assert.True(t, errors.Is(err, persistence.ErrNonFiniteDecimal), "got %v", err)

	dec, _ := persistence.ParseDecimal("10.50")
	v, err := d.BindValue(persistence.NewDecimalField("E", true, 10, 2), dec)
	require.NoError(t, err)
	assert.Equal(t, "10.50", v)
}

// Neither numeric column type has a NaN or infinity, so every special value
// is refused before it reaches the server, for exact and double fields alike.
func TestBindValue_NonFinite(t *testing.T) {
	d := Dialect{}
	for _, f := range []*persistence.Field{
		persistence.NewDecimalField("E", true, 10, 2),
		persistence.NewDoubleField("D", true),
	} {
		for _, s := range []string{"NaN", "Infinity", "-Infinity"} {
			v, err := persistence.ParseDecimal(s)
			require.NoError(t, err)
			_, err = d.BindValue(f, v)
			assert.True(t, errors.Is(err, persistence.ErrNonFiniteDecimal), "%s %s: got %v", f.Name(), s, err)
		}
	}
}

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "[a]]b]", d.Quote("a]b"))
	assert.Equal(t, "@p2", d.Placeholder(2))
	assert.Equal(t, "SELECT 1 ORDER BY x OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY", d.Limit("SELECT 1 ORDER BY x", 5))
	assert.True(t, d.IsMissingTable(mssql.Error{Number: errInvalidObject}))
	assert.False(t, d.IsMissingTable(mssql.Error{Number: 2627}))
}
