package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/relstore/ctl"
)

func newAssertCommand(stdin io.Reader, stdout, stderr io.Writer, cfg *ctl.Config) *cobra.Command {
	ac := ctl.NewAssertCommand(stdin, stdout, stderr)
	ac.Config = cfg
	ccmd := &cobra.Command{
		Use:   "assert",
		Short: "Create or validate the relations of a schema file.",
		Long: `
Assert the relations declared in a TOML schema file: tables that do not
exist are created, existing tables are checked against the declaration,
and the reconciled field dimensions are printed.
`,
		RunE: runE(ac, cfg, stderr),
	}

	flags := ccmd.Flags()
	flags.StringVarP(&ac.SchemaFile, "schema-file", "f", "", "TOML file declaring the relations.")
	return ccmd
}
