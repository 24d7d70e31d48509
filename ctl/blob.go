package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/featurebasedb/relstore"
	"github.com/featurebasedb/relstore/binarycontent"
	"github.com/featurebasedb/relstore/errors"
)

// Blob operations.
const (
	BlobPut  = "put"
	BlobGet  = "get"
	BlobList = "ls"
)

// BlobCommand represents a command for storing, reading and listing the
// attachments of one parent record.
type BlobCommand struct {
	*relstore.CmdIO
	Config *Config

	Op string
	// Table is the content table; its _REF and _BLB tables sit beside it.
	Table string
	// Parent and TopLevel identify the owning record. TopLevel defaults to
	// Parent.
	Parent   string
	TopLevel string
	// Path is the attachment's unrooted file path.
	Path        string
	ContentType string
	// File is read by put and written by get; "" or "-" is stdin or stdout.
	File      string
	Overwrite bool
}

// NewBlobCommand returns a new instance of BlobCommand.
func NewBlobCommand(stdin io.Reader, stdout, stderr io.Writer) *BlobCommand {
	return &BlobCommand{
		CmdIO:       relstore.NewCmdIO(stdin, stdout, stderr),
		Config:      NewConfig(),
		ContentType: "application/octet-stream",
	}
}

// Run performs the operation.
func (cmd *BlobCommand) Run(ctx context.Context) error {
	if cmd.Table == "" || cmd.Parent == "" {
		return errors.New(ErrUsage, "a table and a parent are required")
	}
	topLevel := cmd.TopLevel
	if topLevel == "" {
		topLevel = cmd.Parent
	}

	ds, err := openDatastore(ctx, cmd.Config, cmd.Logger())
	if err != nil {
		return err
	}
	defer ds.Close()

	rels, err := binarycontent.NewRelations(cmd.Config.Datastore.Schema, cmd.Table,
		binarycontent.OptMaxChunkSize(cmd.Config.BlobChunkSize))
	if err != nil {
		return err
	}
	if err := rels.Assert(ctx, ds, cmd.Config.User); err != nil {
		return err
	}
	m, err := binarycontent.New(rels, cmd.Parent, topLevel, ds, cmd.Config.User,
		binarycontent.OptManipulatorLogger(cmd.Logger()))
	if err != nil {
		return err
	}
	if err := m.Load(ctx); err != nil {
		return err
	}

	switch cmd.Op {
	case BlobPut:
		return cmd.put(ctx, m)
	case BlobGet:
		return cmd.get(ctx, m)
	case BlobList:
		return cmd.list(m)
	}
	return errors.Newf(ErrUsage, "unknown blob operation %q", cmd.Op)
}

func (cmd *BlobCommand) put(ctx context.Context, m *binarycontent.Manipulator) error {
	r := cmd.Stdin
	if cmd.File != "" && cmd.File != "-" {
		f, err := os.Open(cmd.File)
		if err != nil {
			return errors.Wrap(err, "opening input")
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading input")
	}
	outcome, err := m.SetValue(ctx, data, cmd.ContentType, cmd.Path, cmd.Overwrite)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Stdout, outcome)
	return nil
}

func (cmd *BlobCommand) get(ctx context.Context, m *binarycontent.Manipulator) (err error) {
	ordinal, err := cmd.find(m)
	if err != nil {
		return err
	}
	data, err := m.Blob(ctx, ordinal)
	if err != nil {
		return err
	}
	w := cmd.Stdout
	if cmd.File != "" && cmd.File != "-" {
		f, cerr := os.Create(cmd.File)
		if cerr != nil {
			return errors.Wrap(cerr, "creating output")
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	_, err = w.Write(data)
	return err
}

// find returns the ordinal of the attachment at cmd.Path.
func (cmd *BlobCommand) find(m *binarycontent.Manipulator) (int, error) {
	for i := 1; i <= m.AttachmentCount(); i++ {
		path, err := m.UnrootedFilename(i)
		if err != nil {
			return 0, err
		}
		if path == cmd.Path {
			return i, nil
		}
	}
	return 0, errors.Newf(binarycontent.ErrNoAttachment, "%s has no attachment at %q", cmd.Parent, cmd.Path)
}

func (cmd *BlobCommand) list(m *binarycontent.Manipulator) error {
	tw := tabwriter.NewWriter(cmd.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "ORDINAL\tPATH\tSTATE\tTYPE\tLENGTH\tHASH")
	for i := 1; i <= m.AttachmentCount(); i++ {
		path, err := m.UnrootedFilename(i)
		if err != nil {
			return err
		}
		state, _ := m.State(i)
		ctype, _ := m.ContentType(i)
		length, _ := m.ContentLength(i)
		hash, _ := m.ContentHash(i)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", i, path, state, ctype, length, hash)
	}
	return tw.Flush()
}
