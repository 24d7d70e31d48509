package sqlstore

import (
	"time"

	"github.com/featurebasedb/relstore/toml"
)

const (
	DefaultMaxOpenConns    = 16
	DefaultMaxIdleConns    = 4
	DefaultConnMaxLifetime = toml.Duration(30 * time.Minute)
)

// Config describes how to reach a backend.
type Config struct {
	// Dialect is one of the registered dialect names: mysql, sqlserver,
	// postgres or sqlite.
	Dialect string `toml:"dialect"`
	// DSN is passed verbatim to the driver.
	DSN string `toml:"dsn"`
	// Schema overrides the connection's current schema as the default for
	// relations that name none.
	Schema string `toml:"schema"`

	MaxOpenConns    int           `toml:"max-open-conns"`
	MaxIdleConns    int           `toml:"max-idle-conns"`
	ConnMaxLifetime toml.Duration `toml:"conn-max-lifetime"`
}

// NewConfig returns a Config with the pool defaults filled in.
func NewConfig() Config {
	return Config{
		Dialect:         "sqlite",
		DSN:             "file:relstore.db?_busy_timeout=5000",
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
	}
}
