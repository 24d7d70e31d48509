package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/relstore/ctl"
)

func newBlobCommand(stdin io.Reader, stdout, stderr io.Writer, cfg *ctl.Config) *cobra.Command {
	bc := &cobra.Command{
		Use:   "blob",
		Short: "Store, read or list the attachments of a record.",
	}
	bc.AddCommand(newBlobOpCommand(ctl.BlobPut, "Store a file as an attachment; prints the outcome.", stdin, stdout, stderr, cfg))
	bc.AddCommand(newBlobOpCommand(ctl.BlobGet, "Write an attachment to a file or stdout.", stdin, stdout, stderr, cfg))
	bc.AddCommand(newBlobOpCommand(ctl.BlobList, "List the attachments of a record.", stdin, stdout, stderr, cfg))
	return bc
}

func newBlobOpCommand(op, short string, stdin io.Reader, stdout, stderr io.Writer, cfg *ctl.Config) *cobra.Command {
	bc := ctl.NewBlobCommand(stdin, stdout, stderr)
	bc.Config = cfg
	bc.Op = op
	ccmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE:  runE(bc, cfg, stderr),
	}

	flags := ccmd.Flags()
	flags.StringVar(&bc.Table, "table", "", "Content table of the attachments.")
	flags.StringVar(&bc.Parent, "parent", "", "Record owning the attachments.")
	flags.StringVar(&bc.TopLevel, "top-level", "", "Top-level record enclosing the parent; defaults to the parent.")
	if op == ctl.BlobList {
		return ccmd
	}
	flags.StringVar(&bc.Path, "path", "", "Unrooted file path of the attachment.")
	flags.StringVar(&bc.File, "file", "", "File to read or write; stdin or stdout when empty.")
	if op == ctl.BlobPut {
		flags.StringVar(&bc.ContentType, "content-type", bc.ContentType, "Content type of the payload.")
		flags.BoolVar(&bc.Overwrite, "overwrite", false, "Replace a different payload already stored at the path.")
	}
	return ccmd
}
