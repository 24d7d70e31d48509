package sqlstore

import (
	"strconv"
	"strings"

	"github.com/featurebasedb/relstore/persistence"
)

// IndexName returns the name of the secondary index on field: the table
// name, an underscore and the initials of the field's underscore-separated
// words, padded with a digit when fewer than three.
func IndexName(table, field string) string {
	var b strings.Builder
	for _, part := range strings.Split(field, "_") {
		if part != "" {
			b.WriteByte(part[0])
		}
	}
	if b.Len() < 3 {
		b.WriteString(strconv.Itoa(len(field) % 10))
	}
	return table + "_" + strings.ToLower(b.String())
}

// NullClause returns " NULL" or " NOT NULL" for f.
func NullClause(f *persistence.Field) string {
	if f.Nullable() {
		return " NULL"
	}
	return " NOT NULL"
}

// IntegerDigits returns the declared digits of an Integer field, or the
// default when none were declared.
func IntegerDigits(f *persistence.Field) int {
	if p := f.Precision(); p > 0 {
		return p
	}
	return persistence.DefaultIntegerPrecision
}

// DecimalDims returns the precision and scale of an exact Decimal field,
// falling back to the defaults.
func DecimalDims(f *persistence.Field) (precision, scale int) {
	precision, scale = f.Precision(), f.Scale()
	if precision <= 0 {
		precision = persistence.DefaultDecimalPrecision
	}
	if scale < 0 {
		scale = persistence.DefaultDecimalScale
	}
	return precision, scale
}

// StringLen returns the declared length of a String or URI field, or the
// type default.
func StringLen(f *persistence.Field) int {
	if n := f.MaxLength(); n > 0 {
		return n
	}
	if f.Type() == persistence.URI {
		return persistence.URIStringLen
	}
	return persistence.DefaultMaxStringLength
}

// SecondaryIndexed returns the fields other than the primary key that carry
// an index hint.
func SecondaryIndexed(rel *persistence.Relation) []*persistence.Field {
	var out []*persistence.Field
	for _, f := range rel.Fields() {
		if f.Indexable() && f != rel.PrimaryKey() {
			out = append(out, f)
		}
	}
	return out
}

// CheckIndexable rejects indexes the engine cannot maintain: decimals are
// never indexed and never serve as primary keys.
func CheckIndexable(rel *persistence.Relation) error {
	if rel.PrimaryKey().Type() == persistence.Decimal {
		return persistence.NewErrInvalidIdentifier(rel.PrimaryKey().Name(), "a decimal cannot be a primary key")
	}
	for _, f := range SecondaryIndexed(rel) {
		switch f.Type() {
		case persistence.Decimal, persistence.Binary, persistence.LongString:
			return persistence.NewErrInvalidIdentifier(f.Name(), "a "+f.Type().String()+" field cannot be indexed")
		}
	}
	return nil
}
