package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/featurebasedb/relstore"
	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"
)

// Lock operations.
const (
	LockObtain  = "obtain"
	LockRenew   = "renew"
	LockRelease = "release"
)

// LockCommand represents a command for taking, renewing and dropping task
// locks from the shell, e.g. around maintenance scripts.
type LockCommand struct {
	*relstore.CmdIO
	Config *Config

	Op       string
	LockID   string
	FormID   string
	TaskType string

	// Attempts and Settle apply to obtain only.
	Attempts int
	Settle   time.Duration
}

// NewLockCommand returns a new instance of LockCommand.
func NewLockCommand(stdin io.Reader, stdout, stderr io.Writer) *LockCommand {
	return &LockCommand{
		CmdIO:    relstore.NewCmdIO(stdin, stdout, stderr),
		Config:   NewConfig(),
		Attempts: 1,
		Settle:   persistence.MinSettle,
	}
}

// Run performs the operation and prints the lock id and whether the lock is
// held afterwards. A lost race is not an error.
func (cmd *LockCommand) Run(ctx context.Context) error {
	if cmd.FormID == "" {
		return errors.New(ErrUsage, "a form id is required")
	}
	tt, ok := persistence.LookupTaskType(cmd.TaskType)
	if !ok {
		return errors.Newf(ErrUsage, "unknown task type %q", cmd.TaskType)
	}
	if cmd.LockID == "" {
		if cmd.Op != LockObtain {
			return errors.New(ErrUsage, "a lock id is required to "+cmd.Op)
		}
		cmd.LockID = persistence.NewURI()
	}

	ds, err := openDatastore(ctx, cmd.Config, cmd.Logger())
	if err != nil {
		return err
	}
	defer ds.Close()
	tl := ds.CreateTaskLock(cmd.Config.User)

	var held bool
	switch cmd.Op {
	case LockObtain:
		held, err = sqlstore.AcquireLock(ctx, tl, cmd.LockID, cmd.FormID, tt, cmd.Attempts, cmd.Settle)
	case LockRenew:
		held, err = tl.RenewLock(ctx, cmd.LockID, cmd.FormID, tt)
	case LockRelease:
		_, err = tl.ReleaseLock(ctx, cmd.LockID, cmd.FormID, tt)
	default:
		return errors.Newf(ErrUsage, "unknown lock operation %q", cmd.Op)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Stdout, "%s\t%v\n", cmd.LockID, held)
	return nil
}
