package persistence

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
)

// AnonymousUser is the identity recorded for unauthenticated writes.
const AnonymousUser = "anonymousUser"

// TimestampResolution is the granularity every backend can store exactly.
const TimestampResolution = time.Microsecond

// Entity is one row of a Relation. Values are held in canonical Go types
// (see Coerce); a missing value is NULL.
type Entity struct {
	rel         *Relation
	values      map[*Field]interface{}
	fromStorage bool
}

// NewEntity returns an unsaved row with a fresh identifier and the creation
// audit columns stamped. Applications obtain entities through
// Datastore.CreateEntity; this constructor is for Datastore implementations.
func NewEntity(rel *Relation, user string, now time.Time) *Entity {
	now = now.UTC().Truncate(TimestampResolution)
	e := &Entity{rel: rel, values: make(map[*Field]interface{}, len(rel.fields))}
	e.values[rel.pk] = NewURI()
	e.values[rel.creatorURIUser] = user
	e.values[rel.creationDate] = now
	e.values[rel.lastUpdateDate] = now
	return e
}

// NewLoadedEntity returns an empty row to be filled from storage with
// SetLoaded. It is already marked as stored.
func NewLoadedEntity(rel *Relation) *Entity {
	return &Entity{rel: rel, values: make(map[*Field]interface{}, len(rel.fields)), fromStorage: true}
}

func (e *Entity) Relation() *Relation { return e.rel }

// URI returns the primary key.
func (e *Entity) URI() string {
	s, _ := e.values[e.rel.pk].(string)
	return s
}

func (e *Entity) Key() Key {
	return Key{Relation: e.rel, URI: e.URI()}
}

// FromStorage reports whether the row has been written (or was read) and the
// next put must therefore be an update.
func (e *Entity) FromStorage() bool { return e.fromStorage }

// MarkStored flips the row to the update branch after its first insert.
func (e *Entity) MarkStored() { e.fromStorage = true }

// Touch stamps the last-update audit columns. The new timestamp is always
// strictly later than the previous one.
func (e *Entity) Touch(user string, now time.Time) {
	now = now.UTC().Truncate(TimestampResolution)
	if prev, ok := e.values[e.rel.lastUpdateDate].(time.Time); ok && !now.After(prev) {
		now = prev.Add(TimestampResolution)
	}
	e.values[e.rel.lastUpdateDate] = now
	if user == "" {
		delete(e.values, e.rel.lastUpdateURIUser)
	} else {
		e.values[e.rel.lastUpdateURIUser] = user
	}
}

func (e *Entity) CreatorURIUser() string    { return e.String(e.rel.creatorURIUser) }
func (e *Entity) LastUpdateURIUser() string { return e.String(e.rel.lastUpdateURIUser) }

func (e *Entity) CreationDate() time.Time {
	t, _ := e.Time(e.rel.creationDate)
	return t
}

func (e *Entity) LastUpdateDate() time.Time {
	t, _ := e.Time(e.rel.lastUpdateDate)
	return t
}

// IsNull reports whether f has no value.
func (e *Entity) IsNull(f *Field) bool {
	e.rel.MustOwn(f)
	return e.values[f] == nil
}

// Value returns the canonical value of f, or nil.
func (e *Entity) Value(f *Field) interface{} {
	e.rel.MustOwn(f)
	return e.values[f]
}

func (e *Entity) has(f *Field, t DataType) bool {
	e.mustType(f, t)
	return e.values[f] != nil
}

func (e *Entity) mustType(f *Field, types ...DataType) {
	e.rel.MustOwn(f)
	for _, t := range types {
		if f.typ == t {
			return
		}
	}
	panic(NewErrTypeMismatch(f.name, f.typ, fmt.Sprint(types)))
}

// String returns a String, LongString or URI value, or "" when NULL.
func (e *Entity) String(f *Field) string {
	e.mustType(f, String, LongString, URI)
	s, _ := e.values[f].(string)
	return s
}

// Int returns an Integer value; ok is false when NULL.
func (e *Entity) Int(f *Field) (v int64, ok bool) {
	if !e.has(f, Integer) {
		return 0, false
	}
	return e.values[f].(int64), true
}

// Decimal returns a copy of a Decimal value, or nil when NULL.
func (e *Entity) Decimal(f *Field) *apd.Decimal {
	if !e.has(f, Decimal) {
		return nil
	}
	return new(apd.Decimal).Set(e.values[f].(*apd.Decimal))
}

// Float returns a Decimal value as float64; ok is false when NULL.
func (e *Entity) Float(f *Field) (v float64, ok bool) {
	if !e.has(f, Decimal) {
		return 0, false
	}
	return DecimalToFloat(e.values[f].(*apd.Decimal)), true
}

// Bool returns a Boolean value; ok is false when NULL.
func (e *Entity) Bool(f *Field) (v bool, ok bool) {
	if !e.has(f, Boolean) {
		return false, false
	}
	return e.values[f].(bool), true
}

// Time returns a DateTime value in UTC; ok is false when NULL.
func (e *Entity) Time(f *Field) (v time.Time, ok bool) {
	if !e.has(f, DateTime) {
		return time.Time{}, false
	}
	return e.values[f].(time.Time), true
}

// Bytes returns a Binary value, or nil when NULL.
func (e *Entity) Bytes(f *Field) []byte {
	if !e.has(f, Binary) {
		return nil
	}
	return e.values[f].([]byte)
}

func (e *Entity) checkSet(f *Field, isNull bool, types ...DataType) error {
	if err := e.rel.CheckOwned(f); err != nil {
		return err
	}
	ok := false
	for _, t := range types {
		ok = ok || f.typ == t
	}
	if !ok {
		return NewErrTypeMismatch(f.name, f.typ, types[0].String())
	}
	if isNull && !f.nullable {
		return NewErrNullViolation(f.name)
	}
	return nil
}

// SetString stores s in a String, LongString or URI field. A String value
// longer than the field is truncated and ok is false. LongString and URI
// values are never truncated: overflow is an error and nothing is stored.
func (e *Entity) SetString(f *Field, s string) (ok bool, err error) {
	if err := e.checkSet(f, false, String, LongString, URI); err != nil {
		return false, err
	}
	max := f.MaxLength()
	if n := utf8.RuneCountInString(s); max > 0 && n > max {
		if f.typ != String {
			return false, NewErrOverflow(f.name, max, n)
		}
		s = truncateRunes(s, max)
		ok = false
	} else {
		ok = true
	}
	e.values[f] = s
	return ok, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// SetInt stores an Integer value.
func (e *Entity) SetInt(f *Field, v int64) error {
	if err := e.checkSet(f, false, Integer); err != nil {
		return err
	}
	e.values[f] = v
	return nil
}

// SetDecimal stores d, rounded half-up to the field scale unless the field
// is double precision or d is NaN or infinite. A nil d stores NULL.
func (e *Entity) SetDecimal(f *Field, d *apd.Decimal) error {
	if err := e.checkSet(f, d == nil, Decimal); err != nil {
		return err
	}
	if d == nil {
		delete(e.values, f)
		return nil
	}
	if f.DoublePrecision() || IsSpecialDecimal(d) {
		e.values[f] = new(apd.Decimal).Set(d)
		return nil
	}
	r, err := RoundDecimal(d, f.Scale())
	if err != nil {
		return NewErrTypeMismatch(f.name, f.typ, err.Error())
	}
	e.values[f] = r
	return nil
}

// SetFloat stores v in a Decimal field.
func (e *Entity) SetFloat(f *Field, v float64) error {
	return e.SetDecimal(f, DecimalFromFloat(v))
}

// SetBool stores a Boolean value.
func (e *Entity) SetBool(f *Field, v bool) error {
	if err := e.checkSet(f, false, Boolean); err != nil {
		return err
	}
	e.values[f] = v
	return nil
}

// SetTime stores a DateTime value, normalized to UTC at the resolution every
// backend can hold.
func (e *Entity) SetTime(f *Field, t time.Time) error {
	if err := e.checkSet(f, false, DateTime); err != nil {
		return err
	}
	e.values[f] = t.UTC().Truncate(TimestampResolution)
	return nil
}

// SetBytes stores a Binary value; nil stores NULL. Values longer than a
// bounded field are an overflow error.
func (e *Entity) SetBytes(f *Field, b []byte) error {
	if err := e.checkSet(f, b == nil, Binary); err != nil {
		return err
	}
	if b == nil {
		delete(e.values, f)
		return nil
	}
	if max := f.MaxLength(); max > 0 && len(b) > max {
		return NewErrOverflow(f.name, max, len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	e.values[f] = cp
	return nil
}

// SetNull clears a nullable field.
func (e *Entity) SetNull(f *Field) error {
	if err := e.checkSet(f, true, f.typ); err != nil {
		return err
	}
	delete(e.values, f)
	return nil
}

// SetValue coerces v to the field type and applies the matching setter's
// policy. ok is false when a String value was truncated.
func (e *Entity) SetValue(f *Field, v interface{}) (ok bool, err error) {
	if err := e.rel.CheckOwned(f); err != nil {
		return false, err
	}
	c, err := Coerce(f, v)
	if err != nil {
		return false, err
	}
	if c == nil {
		return true, e.SetNull(f)
	}
	switch x := c.(type) {
	case string:
		return e.SetString(f, x)
	case int64:
		return true, e.SetInt(f, x)
	case *apd.Decimal:
		return true, e.SetDecimal(f, x)
	case bool:
		return true, e.SetBool(f, x)
	case time.Time:
		return true, e.SetTime(f, x)
	case []byte:
		return true, e.SetBytes(f, x)
	}
	return false, NewErrTypeMismatch(f.name, f.typ, fmt.Sprintf("%T", v))
}

// SetLoaded stores a value read from the backend. No truncation or rounding
// is applied: the column already holds what the backend accepted.
func (e *Entity) SetLoaded(f *Field, raw interface{}) error {
	if err := e.rel.CheckOwned(f); err != nil {
		return err
	}
	v, err := Coerce(f, raw)
	if err != nil {
		return err
	}
	if v == nil {
		delete(e.values, f)
	} else {
		e.values[f] = v
	}
	return nil
}
