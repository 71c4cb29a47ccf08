package rowstore

import (
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/syntrixbase/searchsync/internal/events"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config describes the system-of-record database and the tables mirrored
// into the search index.
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Tables          []Table       `yaml:"tables"`
}

// Table is a mirrored table.
type Table struct {
	// Database is the schema name change messages carry for this table.
	Database string `yaml:"database"`
	Name     string `yaml:"name"`
	// IDColumn holds the document id.
	IDColumn string `yaml:"id_column"`
	// UpdatedAtColumn drives incremental sync.
	UpdatedAtColumn string `yaml:"updated_at_column"`
	// DeletedColumn is the logical-delete marker; empty when the table has
	// none.
	DeletedColumn string `yaml:"deleted_column"`
}

// Index returns the search index the table is mirrored into.
func (t Table) Index() string {
	return events.IndexName(t.Database, t.Name)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverMySQL,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.IDColumn == "" {
			t.IDColumn = "id"
		}
		if t.UpdatedAtColumn == "" {
			t.UpdatedAtColumn = "update_time"
		}
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_DB_DRIVER"); val != "" {
		c.Driver = val
	}
	if val := os.Getenv("SEARCHSYNC_DB_DSN"); val != "" {
		c.DSN = val
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMySQL:
		if c.DSN != "" {
			if _, err := mysql.ParseDSN(c.DSN); err != nil {
				return fmt.Errorf("invalid rowstore.dsn: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return fmt.Errorf("invalid rowstore.driver: %s (must be mysql or postgres)", c.Driver)
	}
	for _, t := range c.Tables {
		if t.Database == "" || t.Name == "" {
			return fmt.Errorf("rowstore.tables entries need database and name")
		}
	}
	return nil
}

// Table returns the configured table whose name or index matches name.
func (c *Config) Table(name string) (Table, bool) {
	for _, t := range c.Tables {
		if t.Name == name || t.Index() == name || t.Database+"."+t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
