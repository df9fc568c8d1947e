package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Meiliangjun/wcdb"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wcdb-migrate [config.toml]",
	Short: "Incremental table migration for WCDB database files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigration,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to migration TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigration(cmd *cobra.Command, args []string) error {
	// Resolve config path: positional arg takes precedence over --config flag
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return fmt.Errorf("config file required: wcdb-migrate <config.toml> or wcdb-migrate --config <config.toml>")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	start := time.Now()

	log.Printf("wcdb-migrate — incremental table migration")
	log.Printf("config: databases=%d workers=%d step_interval=%s",
		len(cfg.Databases), cfg.Workers, time.Duration(cfg.StepInterval))

	wcdb.Initialize()
	wcdb.Shared().SetNotificationForLog("wcdb-migrate", func(code int, message string) {
		log.Printf("engine(%d): %s", code, message)
	})

	monitor := newContentionMonitor()
	monitor.install()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range cfg.Databases {
		db := &cfg.Databases[i]
		g.Go(func() error {
			return migrateDatabase(ctx, cfg, db, monitor)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("migration completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// migrateDatabase drains every configured source table of one database,
// dropping each source as soon as it has drained. It owns one migrate
// handle for the whole run.
func migrateDatabase(ctx context.Context, cfg *Config, db *DatabaseConfig, monitor *contentionMonitor) error {
	log.Printf("migrating %s (%d tables)...", db.Path, len(db.Tables))

	handle, err := wcdb.OpenMigrateHandle(ctx, cfg.resolvePath(db.Path))
	if err != nil {
		return fmt.Errorf("open %s: %w", db.Path, err)
	}
	defer handle.Close(context.Background())
	monitor.adopt(handle.Identifier())

	if err := execSQLFiles(ctx, handle.Handle, cfg, db.Hooks.Before, "before"); err != nil {
		return err
	}

	for _, table := range db.Tables {
		userInfo := &wcdb.MigrationUserInfo{
			Table:          table.Destination,
			SourceTable:    table.SourceTable,
			SourceDatabase: resolveSourcePath(cfg, table.SourceDatabase),
		}

		exists, err := handle.SourceTableExists(ctx, userInfo)
		if err != nil {
			return fmt.Errorf("%s: check source %s: %w", db.Path, table.SourceTable, err)
		}
		if !exists {
			log.Printf("  %s: source table %s already gone, nothing to do", db.Path, table.SourceTable)
			continue
		}

		integerPrimary, columns, err := handle.ColumnsOfUserInfo(ctx, userInfo)
		if err != nil {
			return fmt.Errorf("%s: inspect destination %s: %w", db.Path, table.Destination, err)
		}
		if len(columns) == 0 {
			log.Printf("  WARN: %s: destination table %s does not exist, skipping %s",
				db.Path, table.Destination, table.SourceTable)
			continue
		}

		info := wcdb.NewMigrationInfo(userInfo, integerPrimary, columns)
		ticks := 0
		for {
			done, err := handle.MigrateRows(ctx, info)
			if err != nil {
				return fmt.Errorf("%s: migrate %s: %w", db.Path, table.SourceTable, err)
			}
			ticks++
			if done {
				break
			}
			monitor.backOff(ctx, time.Duration(cfg.StepInterval))
		}
		log.Printf("  %s: %s drained after %d transactions", db.Path, table.SourceTable, ticks)

		if err := handle.DropSourceTable(ctx, info); err != nil {
			return fmt.Errorf("%s: drop source %s: %w", db.Path, table.SourceTable, err)
		}
	}

	if err := execSQLFiles(ctx, handle.Handle, cfg, db.Hooks.After, "after"); err != nil {
		return err
	}
	return nil
}

// resolveSourcePath keeps "" (same-file migration) as-is and resolves
// everything else relative to the config file.
func resolveSourcePath(cfg *Config, p string) string {
	if p == "" {
		return ""
	}
	return cfg.resolvePath(p)
}
