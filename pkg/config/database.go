package config

import "fmt"

// DBDriver is a supported Store backend.
type DBDriver string

const (
	DBDriverPostgres DBDriver = "postgres"
	DBDriverSQLite   DBDriver = "sqlite3"
	DBDriverMySQL    DBDriver = "mysql"
)

// DatabaseConfig describes the Store's backing SQL database.
type DatabaseConfig struct {
	Driver   DBDriver `koanf:"driver"`
	DSN      string   `koanf:"dsn"`
	MaxConns int      `koanf:"max_conns"`
	MaxIdle  int      `koanf:"max_idle"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DBDriverSQLite
	}
	if c.MaxConns == 0 && c.Driver != DBDriverSQLite {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 && c.Driver != DBDriverSQLite {
		c.MaxIdle = 5
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DBDriverPostgres, DBDriverSQLite, DBDriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	return nil
}

// DriverName returns the database/sql driver name registered for this
// config's Driver.
func (c *DatabaseConfig) DriverName() string {
	switch c.Driver {
	case DBDriverPostgres:
		return "postgres"
	case DBDriverMySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}
