package persistence_test

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

func TestCoerce(t *testing.T) {
	str := persistence.NewField("S", persistence.String, true)
	num := persistence.NewField("I", persistence.Integer, true)
	dec := persistence.NewField("D", persistence.Decimal, true)
	boo := persistence.NewField("B", persistence.Boolean, true)
	tim := persistence.NewField("T", persistence.DateTime, true)
	bin := persistence.NewField("X", persistence.Binary, true)

	tests := []struct {
		field *persistence.Field
		in    interface{}
		want  interface{}
	}{
		{str, []byte("abc"), "abc"},
		{num, int32(7), int64(7)},
		{num, []byte("12.0"), int64(12)},
		{num, float64(3), int64(3)},
		{boo, int64(0), false},
		{boo, "t", true},
		{boo, []byte("1"), true},
		{tim, "2020-01-02T03:04:05Z", time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)},
		{bin, "raw", []byte("raw")},
		{str, nil, nil},
	}
	for _, test := range tests {
		got, err := persistence.Coerce(test.field, test.in)
		require.NoError(t, err, "%s %#v", test.field.Name(), test.in)
		assert.Equal(t, test.want, got, "%s %#v", test.field.Name(), test.in)
	}

	got, err := persistence.Coerce(dec, []byte("1.50"))
	require.NoError(t, err)
	assert.Equal(t, "1.50", persistence.FormatDecimal(got.(*apd.Decimal)))

	for _, bad := range []struct {
		field *persistence.Field
		in    interface{}
	}{
		{num, 1.5},
		{num, "x"},
		{boo, "maybe"},
		{tim, 12},
		{str, 12},
	} {
		_, err := persistence.Coerce(bad.field, bad.in)
		assert.True(t, errors.Is(err, persistence.ErrTypeMismatch), "%s %#v: %v", bad.field.Name(), bad.in, err)
	}
}

func TestDecimalSpecials(t *testing.T) {
	for _, s := range []string{"NaN", "Infinity", "-Infinity"} {
		d, err := persistence.ParseDecimal(s)
		require.NoError(t, err)
		assert.True(t, persistence.IsSpecialDecimal(d))
		assert.Equal(t, s, persistence.FormatDecimal(d))
	}

	assert.True(t, math.IsNaN(persistence.DecimalToFloat(persistence.DecimalFromFloat(math.NaN()))))
	assert.Equal(t, math.Inf(-1), persistence.DecimalToFloat(persistence.DecimalFromFloat(math.Inf(-1))))
	assert.Equal(t, 2.5, persistence.DecimalToFloat(persistence.DecimalFromFloat(2.5)))

	d, err := persistence.ParseDecimal("1E+3")
	require.NoError(t, err)
	assert.Equal(t, "1000", persistence.FormatDecimal(d))

	_, err = persistence.ParseDecimal("one")
	assert.Error(t, err)
}

func TestFormatParseValue(t *testing.T) {
	str := persistence.NewField("S", persistence.String, true)
	num := persistence.NewField("I", persistence.Integer, true)
	tim := persistence.NewField("T", persistence.DateTime, true)
	boo := persistence.NewField("B", persistence.Boolean, true)

	ts := time.Date(2022, 5, 6, 7, 8, 9, 123000, time.UTC)
	for _, c := range []struct {
		field *persistence.Field
		value interface{}
	}{
		{str, "hello"},
		{num, int64(-5)},
		{tim, ts},
		{boo, true},
	} {
		s, err := persistence.FormatValue(c.field, c.value)
		require.NoError(t, err)
		got, err := persistence.ParseValue(c.field, s)
		require.NoError(t, err)
		assert.Equal(t, c.value, got)
	}

	_, err := persistence.FormatValue(str, nil)
	assert.True(t, errors.Is(err, persistence.ErrInvalidResumePoint))

	_, err = persistence.ParseValue(num, "abc")
	assert.True(t, errors.Is(err, persistence.ErrInvalidResumePoint))

	_, err = persistence.ParseValue(persistence.NewField("L", persistence.LongString, true), "x")
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery))
}

func TestResumePoint(t *testing.T) {
	r := &persistence.ResumePoint{Attribute: "_LAST_UPDATE_DATE", Value: "2021-01-01T00:00:00Z", LastURI: "uuid:x", Descending: true}
	got, err := persistence.DecodeResumePoint(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)

	for _, token := range []string{"", "!!!", "e30"} {
		_, err := persistence.DecodeResumePoint(token)
		assert.True(t, errors.Is(err, persistence.ErrInvalidResumePoint), "token %q", token)
	}
}

func TestParseFilterOp(t *testing.T) {
	op, err := persistence.ParseFilterOp(">=")
	require.NoError(t, err)
	assert.Equal(t, persistence.GE, op)
	op, err = persistence.ParseFilterOp("NE")
	require.NoError(t, err)
	assert.Equal(t, "<>", op.SQL())
	_, err = persistence.ParseFilterOp("LIKE")
	assert.True(t, errors.Is(err, persistence.ErrInvalidQuery))
}

func TestLookupTaskType(t *testing.T) {
	tt, ok := persistence.LookupTaskType("UPLOAD_SUBMISSION")
	require.True(t, ok)
	assert.Equal(t, persistence.TaskUploadSubmission, tt)
	assert.Equal(t, 3*time.Minute, tt.Timeout)

	_, ok = persistence.LookupTaskType("nope")
	assert.False(t, ok)
}
