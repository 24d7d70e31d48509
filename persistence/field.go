package persistence

import (
	"fmt"
	"sync"
)

// DataType is the abstract storage type of a Field.
type DataType int

const (
	Binary DataType = iota
	LongString
	String
	Integer
	Decimal
	Boolean
	DateTime
	URI
)

var dataTypeNames = [...]string{"BINARY", "LONG_STRING", "STRING", "INTEGER", "DECIMAL", "BOOLEAN", "DATETIME", "URI"}

func (t DataType) String() string {
	if t < 0 || int(t) >= len(dataTypeNames) {
		return fmt.Sprintf("DataType(%d)", int(t))
	}
	return dataTypeNames[t]
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for i, n := range dataTypeNames {
		if n == s {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// IndexHint tells the dialect whether and how to index a column.
type IndexHint int

const (
	IndexNone IndexHint = iota
	IndexOrdered
	IndexHashed
)

func (h IndexHint) String() string {
	switch h {
	case IndexOrdered:
		return "ORDERED"
	case IndexHashed:
		return "HASH"
	}
	return "NONE"
}

const (
	// URIStringLen is the width of every identifier column.
	URIStringLen = 80
	// DefaultMaxStringLength applies to String fields declared without a length.
	DefaultMaxStringLength = 255
	// DefaultIntegerPrecision is the digit count of an Integer without one.
	DefaultIntegerPrecision = 9
	// DefaultDecimalPrecision and DefaultDecimalScale apply to exact decimals.
	DefaultDecimalPrecision = 38
	DefaultDecimalScale     = 10
	// DoublePrecisionBits is the mantissa width of double-precision decimals.
	DoublePrecisionBits = 53
)

// Field describes one column. A Field belongs to exactly one Relation and is
// shared by every Entity of that relation. Name, type and nullability never
// change; the storage dimensions are updated from the live column when the
// relation is asserted against a datastore, and only ever grow.
type Field struct {
	name     string
	typ      DataType
	nullable bool
	index    IndexHint

	mu              sync.RWMutex
	owner           *Relation
	maxLength       int
	precision       int
	scale           int
	doublePrecision bool
}

// claim makes r the owner of f. A descriptor belongs to at most one
// relation: reconciliation widens it for that relation's table only.
func (f *Field) claim(r *Relation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != nil && f.owner != r {
		return NewErrInvalidIdentifier(f.name, "descriptor already belongs to "+f.owner.QualifiedName())
	}
	f.owner = r
	return nil
}

// release undoes claim for a relation that failed to build.
func (f *Field) release(r *Relation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == r {
		f.owner = nil
	}
}

// NewField returns a descriptor with the default dimensions for typ.
func NewField(name string, typ DataType, nullable bool) *Field {
	f := &Field{name: name, typ: typ, nullable: nullable}
	switch typ {
	case String:
		f.maxLength = DefaultMaxStringLength
	case URI:
		f.maxLength = URIStringLen
	case Integer:
		f.precision = DefaultIntegerPrecision
	case Decimal:
		f.precision = DefaultDecimalPrecision
		f.scale = DefaultDecimalScale
	}
	return f
}

// NewStringField returns a String field holding at most maxLen characters.
func NewStringField(name string, nullable bool, maxLen int) *Field {
	f := NewField(name, String, nullable)
	f.maxLength = maxLen
	return f
}

// NewURIField returns an identifier field of URIStringLen characters.
func NewURIField(name string, nullable bool) *Field {
	return NewField(name, URI, nullable)
}

// NewIntegerField returns an Integer with the given number of digits.
func NewIntegerField(name string, nullable bool, precision int) *Field {
	f := NewField(name, Integer, nullable)
	f.precision = precision
	return f
}

// NewDecimalField returns an exact decimal column.
func NewDecimalField(name string, nullable bool, precision, scale int) *Field {
	f := NewField(name, Decimal, nullable)
	f.precision = precision
	f.scale = scale
	return f
}

// NewDoubleField returns a Decimal stored as a 53-bit float.
func NewDoubleField(name string, nullable bool) *Field {
	f := NewField(name, Decimal, nullable)
	f.precision = DoublePrecisionBits
	f.scale = 0
	f.doublePrecision = true
	return f
}

// NewBinaryField returns a Binary column of at least maxLen bytes. A zero
// maxLen lets the dialect pick its natural blob size.
func NewBinaryField(name string, nullable bool, maxLen int) *Field {
	f := NewField(name, Binary, nullable)
	f.maxLength = maxLen
	return f
}

// WithIndex sets the index hint and returns f. It must be called before the
// field is handed to NewRelation.
func (f *Field) WithIndex(h IndexHint) *Field {
	f.index = h
	return f
}

func (f *Field) Name() string         { return f.name }
func (f *Field) Type() DataType       { return f.typ }
func (f *Field) Nullable() bool       { return f.nullable }
func (f *Field) IndexHint() IndexHint { return f.index }

func (f *Field) MaxLength() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxLength
}

func (f *Field) Precision() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.precision
}

func (f *Field) Scale() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scale
}

func (f *Field) DoublePrecision() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doublePrecision
}

// Dimensions is the storage sizing of a column.
type Dimensions struct {
	MaxLength       int
	Precision       int
	Scale           int
	DoublePrecision bool
}

// Dimensions returns a consistent snapshot of the storage sizing.
func (f *Field) Dimensions() Dimensions {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Dimensions{
		MaxLength:       f.maxLength,
		Precision:       f.precision,
		Scale:           f.scale,
		DoublePrecision: f.doublePrecision,
	}
}

// Widen records the dimensions observed on the live column. Values smaller
// than the current ones are ignored, so a descriptor never shrinks below
// what was declared.
func (f *Field) Widen(d Dimensions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.MaxLength > f.maxLength {
		f.maxLength = d.MaxLength
	}
	if d.Precision > f.precision {
		f.precision = d.Precision
	}
	if d.Scale > f.scale {
		f.scale = d.Scale
	}
	if d.DoublePrecision {
		f.doublePrecision = true
	}
}

// Indexable reports whether the dialect should create an index for f.
func (f *Field) Indexable() bool {
	return f.index != IndexNone
}

func (f *Field) String() string {
	d := f.Dimensions()
	null := "NOT NULL"
	if f.nullable {
		null = "NULL"
	}
	switch f.typ {
	case String, URI, Binary, LongString:
		return fmt.Sprintf("%s %s(%d) %s", f.name, f.typ, d.MaxLength, null)
	case Integer:
		return fmt.Sprintf("%s %s(%d) %s", f.name, f.typ, d.Precision, null)
	case Decimal:
		if d.DoublePrecision {
			return fmt.Sprintf("%s %s(double) %s", f.name, f.typ, null)
		}
		return fmt.Sprintf("%s %s(%d,%d) %s", f.name, f.typ, d.Precision, d.Scale, null)
	}
	return fmt.Sprintf("%s %s %s", f.name, f.typ, null)
}
