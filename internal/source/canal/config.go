package canal

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the binlog connection settings.
type Config struct {
	// Name keys the saved binlog position in the checkpoint store.
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Flavor is mysql or mariadb.
	Flavor string `yaml:"flavor"`
	// ServerID must be unique among the replicas of the server.
	ServerID uint32 `yaml:"server_id"`
	// IncludeTables and ExcludeTables are "schema\\.table" regexes.
	IncludeTables []string `yaml:"include_tables"`
	ExcludeTables []string `yaml:"exclude_tables"`
	// Buffer bounds the entries read ahead of Get.
	Buffer int `yaml:"buffer"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		Name:     "primary",
		Addr:     "127.0.0.1:3306",
		User:     "canal",
		Flavor:   "mysql",
		ServerID: 1001,
		Buffer:   4096,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.Flavor == "" {
		c.Flavor = d.Flavor
	}
	if c.ServerID == 0 {
		c.ServerID = d.ServerID
	}
	if c.Buffer == 0 {
		c.Buffer = d.Buffer
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_MYSQL_ADDR"); val != "" {
		c.Addr = val
	}
	if val := os.Getenv("SEARCHSYNC_MYSQL_USER"); val != "" {
		c.User = val
	}
	if val := os.Getenv("SEARCHSYNC_MYSQL_PASSWORD"); val != "" {
		c.Password = val
	}
	if val := os.Getenv("SEARCHSYNC_MYSQL_SERVER_ID"); val != "" {
		if id, err := strconv.ParseUint(val, 10, 32); err == nil {
			c.ServerID = uint32(id)
		}
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("source.canal.addr is required")
	}
	if c.Flavor != "mysql" && c.Flavor != "mariadb" {
		return fmt.Errorf("invalid source.canal.flavor: %s (must be mysql or mariadb)", c.Flavor)
	}
	if c.Buffer < 0 {
		return fmt.Errorf("source.canal.buffer must not be negative")
	}
	return nil
}
