package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/relstore/ctl"
)

func newLockCommand(stdin io.Reader, stdout, stderr io.Writer, cfg *ctl.Config) *cobra.Command {
	lc := &cobra.Command{
		Use:   "lock",
		Short: "Obtain, renew or release a task lock.",
	}
	lc.AddCommand(newLockOpCommand(ctl.LockObtain, "Try to obtain a task lock; prints the lock id and whether it is held.", stdin, stdout, stderr, cfg))
	lc.AddCommand(newLockOpCommand(ctl.LockRenew, "Extend a held task lock.", stdin, stdout, stderr, cfg))
	lc.AddCommand(newLockOpCommand(ctl.LockRelease, "Release a task lock.", stdin, stdout, stderr, cfg))
	return lc
}

func newLockOpCommand(op, short string, stdin io.Reader, stdout, stderr io.Writer, cfg *ctl.Config) *cobra.Command {
	lc := ctl.NewLockCommand(stdin, stdout, stderr)
	lc.Config = cfg
	lc.Op = op
	ccmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE:  runE(lc, cfg, stderr),
	}

	flags := ccmd.Flags()
	flags.StringVar(&lc.LockID, "lock-id", "", "Lock id; obtain generates one when empty.")
	flags.StringVar(&lc.FormID, "form-id", "", "Form the lock is taken on.")
	flags.StringVar(&lc.TaskType, "task-type", "", "Task type, e.g. CREATE_FORM.")
	if op == ctl.LockObtain {
		flags.IntVar(&lc.Attempts, "attempts", lc.Attempts, "Number of tries before giving up.")
		flags.DurationVar(&lc.Settle, "settle", lc.Settle, "Pause between tries.")
	}
	return ccmd
}
