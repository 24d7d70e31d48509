package ctl

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/featurebasedb/relstore/binarycontent"
	"github.com/featurebasedb/relstore/errors"
	"github.com/featurebasedb/relstore/logger"
	"github.com/featurebasedb/relstore/persistence"
	"github.com/featurebasedb/relstore/sqlstore"

	// Dialects register themselves with sqlstore.
	_ "github.com/featurebasedb/relstore/sqlstore/mysql"
	_ "github.com/featurebasedb/relstore/sqlstore/postgres"
	_ "github.com/featurebasedb/relstore/sqlstore/sqlite"
	_ "github.com/featurebasedb/relstore/sqlstore/sqlserver"
)

// ErrUsage marks errors in how a command was invoked.
const ErrUsage errors.Code = "Usage"

// Config is the configuration shared by every relstore command. Its TOML
// keys match the flag names, so a file written by generate-config can be
// passed back with --config.
type Config struct {
	Datastore sqlstore.Config `toml:"datastore"`

	// User is recorded in the audit columns of every row written.
	User string `toml:"user"`

	// BlobChunkSize caps the size of one stored blob part.
	BlobChunkSize int `toml:"blob-chunk-size"`

	Verbose bool   `toml:"verbose"`
	LogPath string `toml:"log-path"`
}

// NewConfig returns a Config with defaults filled in.
func NewConfig() *Config {
	return &Config{
		Datastore:     sqlstore.NewConfig(),
		User:          persistence.AnonymousUser,
		BlobChunkSize: binarycontent.DefaultMaxChunkSize,
	}
}

// BuildFlags registers a flag for every field of cfg, defaulting to its
// current value.
func BuildFlags(flags *pflag.FlagSet, cfg *Config) {
	ds := &cfg.Datastore
	flags.StringVar(&ds.Dialect, "datastore.dialect", ds.Dialect, "Backend dialect: "+joinDialects())
	flags.StringVar(&ds.DSN, "datastore.dsn", ds.DSN, "Driver connection string.")
	flags.StringVar(&ds.Schema, "datastore.schema", ds.Schema, "Schema for relations; defaults to the connection's current schema.")
	flags.IntVar(&ds.MaxOpenConns, "datastore.max-open-conns", ds.MaxOpenConns, "Maximum open connections.")
	flags.IntVar(&ds.MaxIdleConns, "datastore.max-idle-conns", ds.MaxIdleConns, "Maximum idle connections.")
	flags.Var(&ds.ConnMaxLifetime, "datastore.conn-max-lifetime", "Maximum lifetime of a connection.")

	flags.StringVar(&cfg.User, "user", cfg.User, "User recorded in audit columns.")
	flags.IntVar(&cfg.BlobChunkSize, "blob-chunk-size", cfg.BlobChunkSize, "Maximum size in bytes of one stored blob part.")
	flags.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging.")
	flags.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "Log to this file instead of stderr.")
}

func joinDialects() string {
	return strings.Join(sqlstore.Dialects(), ", ")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the logger cfg asks for, writing to stderr unless a log
// path is set. The returned closer must be closed when done.
func (cfg *Config) NewLogger(stderr io.Writer) (logger.Logger, io.Closer, error) {
	w := stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogPath != "" {
		fw, err := logger.NewFileWriter(cfg.LogPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening log file")
		}
		w, closer = fw, fw
	}
	if cfg.Verbose {
		return logger.NewVerboseLogger(w), closer, nil
	}
	return logger.NewStandardLogger(w), closer, nil
}

// openDatastore connects to the configured backend.
func openDatastore(ctx context.Context, cfg *Config, log logger.Logger) (*sqlstore.Datastore, error) {
	ds, err := sqlstore.Open(ctx, cfg.Datastore, sqlstore.OptDatastoreLogger(log))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s datastore", cfg.Datastore.Dialect)
	}
	return ds, nil
}
