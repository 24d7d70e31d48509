package logger_test

import (
	"bytes"
	"testing"

	"github.com/featurebasedb/relstore/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardLoggerVerbosity(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.WithPrefix("[sqlstore] ").Warnf("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  shown 2")
	assert.Contains(t, out, "[sqlstore] WARN:  careful")

	buf.Reset()
	logger.NewVerboseLogger(&buf).Debugf("visible")
	assert.Contains(t, buf.String(), "DEBUG: visible")
}

func TestParseLevel(t *testing.T) {
	for name, exp := range map[string]int{
		"panic": logger.LevelPanic,
		"ERROR": logger.LevelError,
		" warn": logger.LevelWarn,
		"info":  logger.LevelInfo,
		"debug": logger.LevelDebug,
	} {
		got, err := logger.ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, exp, got, name)
	}
	_, err := logger.ParseLevel("trace")
	assert.Error(t, err)

	var buf bytes.Buffer
	logger.NewLevelLogger(&buf, logger.LevelWarn).Infof("dropped")
	assert.Empty(t, buf.String())
}
