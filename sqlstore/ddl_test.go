package sqlstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

func TestIndexName(t *testing.T) {
	assert.Equal(t, "T_lud", sqlstore.IndexName("T", "_LAST_UPDATE_DATE"))
	assert.Equal(t, "T_fi7", sqlstore.IndexName("T", "FORM_ID"))
	assert.Equal(t, "T_pa2", sqlstore.IndexName("T", "_PARENT_AURI"))
}

func TestCheckIndexable(t *testing.T) {
	ok := persistence.MustRelation("", "T", persistence.NewStringField("S", true, 10).WithIndex(persistence.IndexOrdered))
	require.NoError(t, sqlstore.CheckIndexable(ok))

	for _, f := range []*persistence.Field{
		persistence.NewDecimalField("D", true, 10, 2),
		persistence.NewBinaryField("B", true, 0),
		persistence.NewField("L", persistence.LongString, true),
	} {
		rel := persistence.MustRelation("", "T", f.WithIndex(persistence.IndexHashed))
		err := sqlstore.CheckIndexable(rel)
		assert.True(t, errors.Is(err, persistence.ErrInvalidIdentifier), "%s: %v", f.Name(), err)
	}
}

func TestLookupDialect(t *testing.T) {
	for _, name := range []string{"mysql", "MySQL", "postgres", "sqlite", "sqlserver"} {
		d, err := sqlstore.LookupDialect(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, d.DriverName())
	}
}
