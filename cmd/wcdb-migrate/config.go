package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the full TOML-driven migration configuration.
type Config struct {
	Workers      int              `toml:"workers"`
	StepInterval duration         `toml:"step_interval"`
	Databases    []DatabaseConfig `toml:"database"`

	// configDir is the directory containing the TOML file, used to resolve
	// relative paths.
	configDir string
}

// DatabaseConfig describes one main database and the source tables being
// migrated into it. Each database gets its own migrate handle and worker.
type DatabaseConfig struct {
	Path   string        `toml:"path"`
	Tables []TableConfig `toml:"table"`
	Hooks  HooksConfig   `toml:"hooks"`
}

// TableConfig binds a destination table to its source. An empty
// source_database means the source table lives in the same file.
type TableConfig struct {
	Destination    string `toml:"destination"`
	SourceDatabase string `toml:"source_database"`
	SourceTable    string `toml:"source_table"`
}

// HooksConfig lists SQL files executed before and after a database's
// migration run.
type HooksConfig struct {
	Before []string `toml:"before"`
	After  []string `toml:"after"`
}

// duration makes time.Duration decodable from TOML strings like "10ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// loadConfig reads a TOML config file and returns a Config with defaults
// applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		StepInterval: duration(10 * time.Millisecond),
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers()
	}
	if cfg.StepInterval < 0 {
		return nil, fmt.Errorf("step_interval must not be negative")
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one [[database]] is required")
	}
	for i := range cfg.Databases {
		db := &cfg.Databases[i]
		db.Path = strings.TrimSpace(db.Path)
		if db.Path == "" {
			return nil, fmt.Errorf("database %d: path is required", i+1)
		}
		for j, table := range db.Tables {
			if table.Destination == "" {
				return nil, fmt.Errorf("database %q table %d: destination is required", db.Path, j+1)
			}
			if table.SourceTable == "" {
				return nil, fmt.Errorf("database %q table %d: source_table is required", db.Path, j+1)
			}
			if table.SourceDatabase == "" && table.SourceTable == table.Destination {
				return nil, fmt.Errorf("database %q table %d: source and destination are identical", db.Path, j+1)
			}
		}
	}

	return &cfg, nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
