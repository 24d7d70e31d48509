package persistence

import (
	"regexp"
	"strings"
)

// Audit column names carried by every relation.
const (
	URIColumn               = "_URI"
	CreatorURIUserColumn    = "_CREATOR_URI_USER"
	CreationDateColumn      = "_CREATION_DATE"
	LastUpdateURIUserColumn = "_LAST_UPDATE_URI_USER"
	LastUpdateDateColumn    = "_LAST_UPDATE_DATE"
)

// Column names of the dynamic-table conventions.
const (
	TopLevelAuriColumn  = "_TOP_LEVEL_AURI"
	ParentAuriColumn    = "_PARENT_AURI"
	OrdinalNumberColumn = "_ORDINAL_NUMBER"
	DomAuriColumn       = "_DOM_AURI"
	SubAuriColumn       = "_SUB_AURI"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may be used, unquoted or quoted, as a
// table or column name on every supported dialect.
func ValidIdentifier(name string) bool {
	return identifierRE.MatchString(name)
}

// Relation is an immutable table definition: the audit columns followed by
// the caller's fields, in declaration order.
type Relation struct {
	schema string
	table  string
	fields []*Field
	byName map[string]*Field
	owned  map[*Field]struct{}

	pk                *Field
	creatorURIUser    *Field
	creationDate      *Field
	lastUpdateURIUser *Field
	lastUpdateDate    *Field
}

// NewRelation builds a relation for schema.table. The field descriptors
// become owned by the relation; passing one that another relation already
// owns is an InvalidIdentifier error.
func NewRelation(schema, table string, fields ...*Field) (*Relation, error) {
	if schema != "" && !ValidIdentifier(schema) {
		return nil, NewErrInvalidIdentifier(schema, "schema name must match "+identifierRE.String())
	}
	if !ValidIdentifier(table) {
		return nil, NewErrInvalidIdentifier(table, "table name must match "+identifierRE.String())
	}

	r := &Relation{
		schema:            schema,
		table:             table,
		byName:            make(map[string]*Field, len(fields)+5),
		owned:             make(map[*Field]struct{}, len(fields)+5),
		pk:                NewURIField(URIColumn, false).WithIndex(IndexHashed),
		creatorURIUser:    NewURIField(CreatorURIUserColumn, false),
		creationDate:      NewField(CreationDateColumn, DateTime, false),
		lastUpdateURIUser: NewURIField(LastUpdateURIUserColumn, true),
		lastUpdateDate:    NewField(LastUpdateDateColumn, DateTime, false).WithIndex(IndexOrdered),
	}

	all := append([]*Field{r.pk, r.creatorURIUser, r.creationDate, r.lastUpdateURIUser, r.lastUpdateDate}, fields...)
	for _, f := range all {
		if f == nil {
			return nil, NewErrInvalidIdentifier(table, "nil field descriptor")
		}
		if !ValidIdentifier(f.name) {
			return nil, NewErrInvalidIdentifier(f.name, "column name must match "+identifierRE.String())
		}
		key := strings.ToUpper(f.name)
		if _, ok := r.byName[key]; ok {
			return nil, NewErrInvalidIdentifier(f.name, "duplicate column in "+r.QualifiedName())
		}
		if _, ok := r.owned[f]; ok {
			return nil, NewErrInvalidIdentifier(f.name, "descriptor listed twice in "+r.QualifiedName())
		}
		r.byName[key] = f
		r.owned[f] = struct{}{}
		r.fields = append(r.fields, f)
	}
	for i, f := range r.fields {
		if err := f.claim(r); err != nil {
			for _, g := range r.fields[:i] {
				g.release(r)
			}
			return nil, err
		}
	}
	return r, nil
}

// MustRelation is NewRelation for package-level definitions; it panics on error.
func MustRelation(schema, table string, fields ...*Field) *Relation {
	r, err := NewRelation(schema, table, fields...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Relation) Schema() string { return r.schema }
func (r *Relation) Table() string  { return r.table }

// QualifiedName returns schema.table, or just table without a schema.
func (r *Relation) QualifiedName() string {
	if r.schema == "" {
		return r.table
	}
	return r.schema + "." + r.table
}

// Fields returns the columns in declaration order. The slice must not be
// modified.
func (r *Relation) Fields() []*Field { return r.fields }

// Field returns the descriptor for a column name, compared case-insensitively.
func (r *Relation) Field(name string) (*Field, bool) {
	f, ok := r.byName[strings.ToUpper(name)]
	return f, ok
}

func (r *Relation) PrimaryKey() *Field        { return r.pk }
func (r *Relation) CreatorURIUser() *Field    { return r.creatorURIUser }
func (r *Relation) CreationDate() *Field      { return r.creationDate }
func (r *Relation) LastUpdateURIUser() *Field { return r.lastUpdateURIUser }
func (r *Relation) LastUpdateDate() *Field    { return r.lastUpdateDate }

// Owns reports whether f is one of this relation's descriptors. Identity is
// by descriptor, so a same-named field of another relation is not owned.
func (r *Relation) Owns(f *Field) bool {
	_, ok := r.owned[f]
	return ok
}

// CheckOwned returns a ForeignField error when f is not owned by r.
func (r *Relation) CheckOwned(f *Field) error {
	if f == nil {
		return NewErrForeignField("<nil>", r.QualifiedName())
	}
	if !r.Owns(f) {
		return NewErrForeignField(f.name, r.QualifiedName())
	}
	return nil
}

// MustOwn panics with a ForeignField error when f is not owned by r.
func (r *Relation) MustOwn(f *Field) {
	if err := r.CheckOwned(f); err != nil {
		panic(err)
	}
}

// ColumnList returns a one-line summary of every column, used in schema
// mismatch diagnostics.
func (r *Relation) ColumnList() string {
	parts := make([]string, len(r.fields))
	for i, f := range r.fields {
		parts[i] = f.String()
	}
	return "expected columns: " + strings.Join(parts, ", ")
}

// TopLevelAuriField returns a new nullable identifier referencing the
// top-level record a row belongs to.
func TopLevelAuriField() *Field {
	return NewURIField(TopLevelAuriColumn, true)
}

// ParentAuriField returns a new nullable identifier referencing the
// enclosing record.
func ParentAuriField() *Field {
	return NewURIField(ParentAuriColumn, true).WithIndex(IndexHashed)
}

// OrdinalNumberField returns a new ordinal (1, 2, ...) within a parent.
func OrdinalNumberField() *Field {
	return NewField(OrdinalNumberColumn, Integer, false)
}

// DomAuriField returns a new identifier of the dominant side of an association.
func DomAuriField() *Field {
	return NewURIField(DomAuriColumn, false).WithIndex(IndexHashed)
}

// SubAuriField returns a new identifier of the subordinate side of an association.
func SubAuriField() *Field {
	return NewURIField(SubAuriColumn, false)
}

// Key identifies one row.
type Key struct {
	Relation *Relation
	URI      string
}

func (k Key) String() string {
	return k.Relation.QualifiedName() + "/" + k.URI
}
