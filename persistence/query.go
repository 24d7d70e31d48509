package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// FilterOp is a comparison operator of a query filter.
type FilterOp int

const (
	EQ FilterOp = iota
	NE
	GT
	GE
	LT
	LE
)

// SQL returns the operator's SQL spelling.
func (op FilterOp) SQL() string {
	return [...]string{"=", "<>", ">", ">=", "<", "<="}[op]
}

func (op FilterOp) String() string {
	return [...]string{"EQ", "NE", "GT", "GE", "LT", "LE"}[op]
}

// ParseFilterOp accepts EQ..LE or the SQL spelling.
func ParseFilterOp(s string) (FilterOp, error) {
	for op := EQ; op <= LE; op++ {
		if s == op.String() || s == op.SQL() {
			return op, nil
		}
	}
	return 0, NewErrInvalidQuery("unknown filter operator " + s)
}

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) SQL() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Query accumulates filters and sorts against one relation. Filters are
// ANDed; the first sort added is the dominant sort.
type Query interface {
	// AddFilter restricts field op value. A nil value is only valid with EQ
	// (IS NULL) and NE (IS NOT NULL).
	AddFilter(field *Field, op FilterOp, value interface{}) Query
	// AddValueSetFilter restricts field to one of values (SQL IN).
	AddValueSetFilter(field *Field, values []interface{}) Query
	AddSort(field *Field, dir Direction) Query

	// Execute returns every matching row in sort order.
	Execute(ctx context.Context) ([]*Entity, error)
	// ExecutePage returns at most fetchLimit rows, continuing after resume
	// when it is non-nil.
	ExecutePage(ctx context.Context, resume *ResumePoint, fetchLimit int) (*QueryResult, error)
	// ExecuteDistinct returns the distinct non-null values of field under the
	// current filters, in the order of field's sort if there is one.
	ExecuteDistinct(ctx context.Context, field *Field) ([]interface{}, error)
	// ExecuteForeignKey returns the distinct non-null values of a URI field
	// as keys into rel, typically the top-level records of matching rows.
	ExecuteForeignKey(ctx context.Context, field *Field, rel *Relation) ([]Key, error)
	// Count returns the number of matching rows.
	Count(ctx context.Context) (int64, error)
}

// QueryResult is one page of a paged query.
type QueryResult struct {
	Entities []*Entity
	// Resume continues after the last entity; nil for an empty page.
	Resume *ResumePoint
	// HasMore reports whether at least one more row follows this page.
	HasMore bool
}

// ResumePoint records where a paged query stopped: the value of the
// dominant sort attribute and the primary key of the last returned row.
type ResumePoint struct {
	Attribute  string `json:"a"`
	Value      string `json:"v"`
	LastURI    string `json:"u"`
	Descending bool   `json:"d,omitempty"`
}

// Encode returns an opaque URL-safe token for r.
func (r *ResumePoint) Encode() string {
	b, _ := json.Marshal(r)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeResumePoint parses a token produced by Encode.
func DecodeResumePoint(token string) (*ResumePoint, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewErrInvalidResumePoint(err.Error())
	}
	var r ResumePoint
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, NewErrInvalidResumePoint(err.Error())
	}
	if r.Attribute == "" || r.LastURI == "" {
		return nil, NewErrInvalidResumePoint("missing attribute or last key")
	}
	return &r, nil
}
