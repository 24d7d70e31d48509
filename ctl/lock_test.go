package ctl

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/relstore/errors"
)

func TestLockCommand_Run(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	run := func(op, lockID string) string {
		t.Helper()
		stdin, stdout, stderr := testIO("")
		cm := NewLockCommand(stdin, stdout, stderr)
		cm.Config = testConfig(t, dir)
		cm.Op = op
		cm.LockID = lockID
		cm.FormID = "form-1"
		cm.TaskType = "CSV_GENERATION"
		require.NoError(t, cm.Run(ctx), "%s %s", op, lockID)
		return stdout.String()
	}

	assert.Equal(t, "a\ttrue\n", run(LockObtain, "a"))
	assert.Equal(t, "b\tfalse\n", run(LockObtain, "b"))
	assert.Equal(t, "a\ttrue\n", run(LockRenew, "a"))
	assert.Equal(t, "b\tfalse\n", run(LockRenew, "b"))
	assert.Equal(t, "a\tfalse\n", run(LockRelease, "a"))
	assert.Equal(t, "b\ttrue\n", run(LockObtain, "b"))

	// Without an id, obtain generates one.
	out := run(LockObtain, "")
	assert.True(t, strings.HasSuffix(out, "\tfalse\n"), out)
	assert.True(t, strings.HasPrefix(out, "uuid:"), out)
}

func TestLockCommand_Usage(t *testing.T) {
	dir := t.TempDir()
	for name, setup := range map[string]func(cm *LockCommand){
		"no form":          func(cm *LockCommand) { cm.FormID = "" },
		"bad task type":    func(cm *LockCommand) { cm.TaskType = "NAPPING" },
		"renew without id": func(cm *LockCommand) { cm.Op, cm.LockID = LockRenew, "" },
		"unknown op":       func(cm *LockCommand) { cm.Op = "steal" },
	} {
		t.Run(name, func(t *testing.T) {
			stdin, stdout, stderr := testIO("")
			cm := NewLockCommand(stdin, stdout, stderr)
			cm.Config = testConfig(t, dir)
			cm.Op = LockObtain
			cm.LockID = "x"
			cm.FormID = "form-1"
			cm.TaskType = "CREATE_FORM"
			setup(cm)
			err := cm.Run(context.Background())
			assert.True(t, errors.Is(err, ErrUsage), "got %v", err)
		})
	}
}
