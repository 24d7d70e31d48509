// Package cmd builds the relstore command tree. The commands themselves live
// in package ctl; this package only wires flags and configuration to them.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/featurebasedb/relstore"
	"github.com/featurebasedb/relstore/ctl"
	"github.com/featurebasedb/relstore/logger"
)

// envPrefix prefixes the environment variables setAllConfig reads.
const envPrefix = "RELSTORE"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := ctl.NewConfig()
	rc := &cobra.Command{
		Use:   "relstore",
		Short: "relstore declares relations on SQL backends and manages their rows, blobs and task locks.",
		Long: `relstore declares relations on SQL backends and manages their rows, blobs and task locks.

It reconciles declared relations with MySQL, SQL Server, PostgreSQL
or SQLite, stores chunked attachments and takes task locks shared
by every process using the same database.

` + relstore.VersionInfo() + "\n",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			return setAllConfig(v, cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	ctl.BuildFlags(rc.PersistentFlags(), cfg)

	rc.AddCommand(newAssertCommand(stdin, stdout, stderr, cfg))
	rc.AddCommand(newLockCommand(stdin, stdout, stderr, cfg))
	rc.AddCommand(newBlobCommand(stdin, stdout, stderr, cfg))
	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// runner is what every ctl command provides.
type runner interface {
	Run(ctx context.Context) error
	SetLogger(l logger.Logger)
}

// runE returns a RunE that sets up logging as cfg asks and then runs c.
func runE(c runner, cfg *ctl.Config, stderr io.Writer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log, closer, err := cfg.NewLogger(stderr)
		if err != nil {
			return err
		}
		defer closer.Close()
		c.SetLogger(log)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return c.Run(ctx)
	}
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Since each flag in the set contains a pointer to
// where its value should be stored, setAllConfig can directly modify the value
// of each config variable.
//
// setAllConfig looks for environment variables which are capitalized versions
// of the flag names with dashes and dots replaced by underscores, and prefixed
// with envPrefix plus an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	// add cmd line flag def to viper
	err := v.BindPFlags(flags)
	if err != nil {
		return err
	}

	// add env to viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	var flagErr error
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	// add config file to viper
	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}

		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	// set all values from viper
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		if f.Changed {
			// The flag was given on the command line, which wins.
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
