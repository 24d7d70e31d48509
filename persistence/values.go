package persistence

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// NewURI returns a fresh random row identifier.
func NewURI() string {
	return "uuid:" + uuid.New().String()
}

// decimalContext rounds half-up and is wide enough that quantizing to a
// column scale never fails for lack of precision.
var decimalContext = apd.Context{
	Precision:   1000,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Rounding:    apd.RoundHalfUp,
	Traps:       apd.InvalidOperation,
}

// IsSpecialDecimal reports whether d is NaN or an infinity.
func IsSpecialDecimal(d *apd.Decimal) bool {
	return d != nil && d.Form != apd.Finite
}

// RoundDecimal rounds d half-up to scale digits after the point.
func RoundDecimal(d *apd.Decimal, scale int) (*apd.Decimal, error) {
	out := new(apd.Decimal)
	if _, err := decimalContext.Quantize(out, d, -int32(scale)); err != nil {
		return nil, err
	}
	return out, nil
}

// DecimalFromFloat converts f, keeping NaN and the infinities as decimal
// special values.
func DecimalFromFloat(f float64) *apd.Decimal {
	d := new(apd.Decimal)
	switch {
	case math.IsNaN(f):
		d.Form = apd.NaN
	case math.IsInf(f, 1):
		d.Form = apd.Infinite
	case math.IsInf(f, -1):
		d.Form = apd.Infinite
		d.Negative = true
	default:
		if _, err := d.SetFloat64(f); err != nil {
			d.Form = apd.NaN
		}
	}
	return d
}

// DecimalToFloat is the inverse of DecimalFromFloat.
func DecimalToFloat(d *apd.Decimal) float64 {
	switch d.Form {
	case apd.NaN, apd.NaNSignaling:
		return math.NaN()
	case apd.Infinite:
		if d.Negative {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	f, err := d.Float64()
	if err != nil {
		return math.NaN()
	}
	return f
}

// ParseDecimal accepts plain and exponent notation plus NaN, Infinity,
// -Infinity and Inf.
func ParseDecimal(s string) (*apd.Decimal, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "nan":
		return &apd.Decimal{Form: apd.NaN}, nil
	case "infinity", "inf", "+infinity", "+inf":
		return &apd.Decimal{Form: apd.Infinite}, nil
	case "-infinity", "-inf":
		return &apd.Decimal{Form: apd.Infinite, Negative: true}, nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing decimal %q: %v", s, err)
	}
	return d, nil
}

// FormatDecimal renders d without exponent, or as NaN / Infinity / -Infinity.
func FormatDecimal(d *apd.Decimal) string {
	switch d.Form {
	case apd.NaN, apd.NaNSignaling:
		return "NaN"
	case apd.Infinite:
		if d.Negative {
			return "-Infinity"
		}
		return "Infinity"
	}
	return d.Text('f')
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses the textual timestamps the supported drivers return.
// Values without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseBool accepts the spellings the dialects use for booleans stored in
// character and numeric columns.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized boolean %q", s)
}

// Coerce converts v into the canonical Go type for f: string for
// String, LongString and URI; int64 for Integer; *apd.Decimal for Decimal;
// bool for Boolean; time.Time in UTC for DateTime; []byte for Binary. A nil
// v stays nil. Driver values and caller-supplied filter values both pass
// through here.
func Coerce(f *Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		return NewErrTypeMismatch(f.name, f.typ, fmt.Sprintf("%T", v))
	}
	switch f.typ {
	case String, LongString, URI:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return nil, mismatch()

	case Integer:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case uint64:
			if x > math.MaxInt64 {
				return nil, mismatch()
			}
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, mismatch()
			}
			return int64(x), nil
		case *apd.Decimal:
			i, err := x.Int64()
			if err != nil {
				return nil, mismatch()
			}
			return i, nil
		case []byte:
			return parseInteger(f, string(x))
		case string:
			return parseInteger(f, x)
		}
		return nil, mismatch()

	case Decimal:
		switch x := v.(type) {
		case *apd.Decimal:
			return new(apd.Decimal).Set(x), nil
		case apd.Decimal:
			return new(apd.Decimal).Set(&x), nil
		case float64:
			return DecimalFromFloat(x), nil
		case float32:
			return DecimalFromFloat(float64(x)), nil
		case int64:
			return apd.New(x, 0), nil
		case int:
			return apd.New(int64(x), 0), nil
		case int32:
			return apd.New(int64(x), 0), nil
		case []byte:
			return parseOr(ParseDecimal(string(x)))(mismatch)
		case string:
			return parseOr(ParseDecimal(x))(mismatch)
		}
		return nil, mismatch()

	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case int:
			return x != 0, nil
		case []byte:
			return parseOr(ParseBool(string(x)))(mismatch)
		case string:
			return parseOr(ParseBool(x))(mismatch)
		}
		return nil, mismatch()

	case DateTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case []byte:
			return parseOr(ParseTime(string(x)))(mismatch)
		case string:
			return parseOr(ParseTime(x))(mismatch)
		}
		return nil, mismatch()

	case Binary:
		switch x := v.(type) {
		case []byte:
			out := make([]byte, len(x))
			copy(out, x)
			return out, nil
		case string:
			return []byte(x), nil
		}
		return nil, mismatch()
	}
	return nil, mismatch()
}

// parseOr turns a failed textual parse into the caller's mismatch error.
func parseOr(v interface{}, err error) func(mismatch func() error) (interface{}, error) {
	return func(mismatch func() error) (interface{}, error) {
		if err != nil {
			return nil, mismatch()
		}
		return v, nil
	}
}

func parseInteger(f *Field, s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	// DECIMAL(p,0) columns come back as "12" or "12.0" depending on driver.
	d, err := ParseDecimal(s)
	if err != nil {
		return nil, NewErrTypeMismatch(f.name, f.typ, strconv.Quote(s))
	}
	i, err := d.Int64()
	if err != nil {
		return nil, NewErrTypeMismatch(f.name, f.typ, strconv.Quote(s))
	}
	return i, nil
}

// FormatValue renders a canonical value as the text used in resume points
// and command output.
func FormatValue(f *Field, v interface{}) (string, error) {
	if v == nil {
		return "", NewErrInvalidResumePoint("null value in " + f.name)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case *apd.Decimal:
		return FormatDecimal(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	}
	return "", NewErrTypeMismatch(f.name, f.typ, fmt.Sprintf("%T", v))
}

// ParseValue is the inverse of FormatValue.
func ParseValue(f *Field, s string) (interface{}, error) {
	switch f.typ {
	case Binary, LongString:
		return nil, NewErrInvalidQuery(f.typ.String() + " values are not sortable")
	case DateTime:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, NewErrInvalidResumePoint(err.Error())
		}
		return t.UTC(), nil
	case Boolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, NewErrInvalidResumePoint(err.Error())
		}
		return b, nil
	}
	v, err := Coerce(f, s)
	if err != nil {
		return nil, NewErrInvalidResumePoint(err.Error())
	}
	return v, nil
}
