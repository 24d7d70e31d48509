package sqlstore

import (
	"database/sql"
	"strings"

	"github.com/featurebasedb/relstore/persistence"
)

// stmt accumulates SQL text and its bind arguments, numbering placeholders
// in the dialect's style as they are added.
type stmt struct {
	d    Dialect
	sb   strings.Builder
	args []interface{}
}

func newStmt(d Dialect) *stmt {
	return &stmt{d: d}
}

func (s *stmt) write(parts ...string) *stmt {
	for _, p := range parts {
		s.sb.WriteString(p)
	}
	return s
}

// bind appends a raw driver argument and writes its placeholder.
func (s *stmt) bind(arg interface{}) *stmt {
	s.args = append(s.args, arg)
	s.sb.WriteString(s.d.Placeholder(len(s.args)))
	return s
}

// bindValue converts a canonical value of f through the dialect and binds it.
func (s *stmt) bindValue(f *persistence.Field, v interface{}) error {
	arg, err := s.d.BindValue(f, v)
	if err != nil {
		return err
	}
	s.bind(arg)
	return nil
}

func (s *stmt) String() string { return s.sb.String() }

// columnList returns the quoted column names of fields separated by commas.
func columnList(d Dialect, fields []*persistence.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = d.Quote(f.Name())
	}
	return strings.Join(names, ", ")
}

// scanEntities reads every row of a SELECT over rel's full column list.
func scanEntities(rows *sql.Rows, rel *persistence.Relation) ([]*persistence.Entity, error) {
	defer rows.Close()

	fields := rel.Fields()
	raw := make([]interface{}, len(fields))
	dest := make([]interface{}, len(fields))
	for i := range raw {
		dest[i] = &raw[i]
	}

	var out []*persistence.Entity
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, persistence.WrapPersistence(err, "scanning "+rel.QualifiedName())
		}
		e := persistence.NewLoadedEntity(rel)
		for i, f := range fields {
			if err := e.SetLoaded(f, raw[i]); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.WrapPersistence(err, "reading "+rel.QualifiedName())
	}
	return out, nil
}

// scanValues reads a single-column result set as canonical values of f,
// skipping NULLs.
func scanValues(rows *sql.Rows, f *persistence.Field) ([]interface{}, error) {
	defer rows.Close()

	var out []interface{}
	for rows.Next() {
		var raw interface{}
		if err := rows.Scan(&raw); err != nil {
			return nil, persistence.WrapPersistence(err, "scanning "+f.Name())
		}
		v, err := persistence.Coerce(f, raw)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.WrapPersistence(err, "reading "+f.Name())
	}
	return out, nil
}
