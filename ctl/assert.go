package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/featurebasedb/relstore"
	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/persistence"
)

// SchemaFile is the TOML form of a set of relations:
//
//	[[relation]]
//	table = "SUBMISSION"
//	  [[relation.field]]
//	  name = "FORM_ID"
//	  type = "STRING"
//	  max-length = 80
//	  index = "HASH"
type SchemaFile struct {
	Relations []RelationDef `toml:"relation"`
}

// RelationDef declares one relation. The audit columns are implied.
type RelationDef struct {
	Schema string     `toml:"schema"`
	Table  string     `toml:"table"`
	Fields []FieldDef `toml:"field"`
}

// FieldDef declares one field. Zero dimensions take the type defaults.
type FieldDef struct {
	Name      string `toml:"name"`
	Type      string `toml:"type"`
	Nullable  bool   `toml:"nullable"`
	MaxLength int    `toml:"max-length"`
	Precision int    `toml:"precision"`
	Scale     int    `toml:"scale"`
	Double    bool   `toml:"double"`
	Index     string `toml:"index"`
}

// Field builds the descriptor fd declares.
func (fd FieldDef) Field() (*persistence.Field, error) {
	typ, err := persistence.ParseDataType(strings.ToUpper(fd.Type))
	if err != nil {
		return nil, errors.Wrapf(err, "field %s", fd.Name)
	}
	var f *persistence.Field
	switch {
	case typ == persistence.String && fd.MaxLength > 0:
		f = persistence.NewStringField(fd.Name, fd.Nullable, fd.MaxLength)
	case typ == persistence.Integer && fd.Precision > 0:
		f = persistence.NewIntegerField(fd.Name, fd.Nullable, fd.Precision)
	case typ == persistence.Decimal && fd.Double:
		f = persistence.NewDoubleField(fd.Name, fd.Nullable)
	case typ == persistence.Decimal && fd.Precision > 0:
		f = persistence.NewDecimalField(fd.Name, fd.Nullable, fd.Precision, fd.Scale)
	case typ == persistence.Binary:
		f = persistence.NewBinaryField(fd.Name, fd.Nullable, fd.MaxLength)
	default:
		f = persistence.NewField(fd.Name, typ, fd.Nullable)
	}

	switch strings.ToUpper(fd.Index) {
	case "", "NONE":
	case "ORDERED":
		f.WithIndex(persistence.IndexOrdered)
	case "HASH", "HASHED":
		f.WithIndex(persistence.IndexHashed)
	default:
		return nil, errors.Errorf("field %s: unknown index %q", fd.Name, fd.Index)
	}
	return f, nil
}

// Relation builds the relation rd declares.
func (rd RelationDef) Relation() (*persistence.Relation, error) {
	fields := make([]*persistence.Field, 0, len(rd.Fields))
	for _, fd := range rd.Fields {
		f, err := fd.Field()
		if err != nil {
			return nil, errors.Wrapf(err, "relation %s", rd.Table)
		}
		fields = append(fields, f)
	}
	return persistence.NewRelation(rd.Schema, rd.Table, fields...)
}

// ReadSchemaFile parses a schema file.
func ReadSchemaFile(path string) (*SchemaFile, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading schema file")
	}
	var sf SchemaFile
	if err := toml.Unmarshal(buf, &sf); err != nil {
		return nil, errors.Wrapf(err, "parsing schema file %s", path)
	}
	return &sf, nil
}

// AssertCommand represents a command for reconciling declared relations
// with a backend.
type AssertCommand struct {
	*relstore.CmdIO
	Config *Config

	// SchemaFile names the TOML file declaring the relations.
	SchemaFile string
}

// NewAssertCommand returns a new instance of AssertCommand.
func NewAssertCommand(stdin io.Reader, stdout, stderr io.Writer) *AssertCommand {
	return &AssertCommand{
		CmdIO:  relstore.NewCmdIO(stdin, stdout, stderr),
		Config: NewConfig(),
	}
}

// Run asserts every relation of the schema file and prints the reconciled
// fields.
func (cmd *AssertCommand) Run(ctx context.Context) error {
	if cmd.SchemaFile == "" {
		return errors.New(ErrUsage, "a schema file is required")
	}
	sf, err := ReadSchemaFile(cmd.SchemaFile)
	if err != nil {
		return err
	}
	rels := make([]*persistence.Relation, 0, len(sf.Relations))
	for _, rd := range sf.Relations {
		rel, err := rd.Relation()
		if err != nil {
			return err
		}
		rels = append(rels, rel)
	}

	ds, err := openDatastore(ctx, cmd.Config, cmd.Logger())
	if err != nil {
		return err
	}
	defer ds.Close()

	for _, rel := range rels {
		if err := ds.AssertRelation(ctx, rel, cmd.Config.User); err != nil {
			return err
		}
		schema := rel.Schema()
		if schema == "" {
			schema = ds.DefaultSchema()
		}
		fmt.Fprintf(cmd.Stdout, "%s.%s\n", schema, rel.Table())
		for _, f := range rel.Fields() {
			fmt.Fprintf(cmd.Stdout, "\t%s\n", f)
		}
	}
	return nil
}
