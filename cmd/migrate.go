package cmd

import (
	"fmt"

	"github.com/rexproai/rexpro/db"
	"github.com/rexproai/rexpro/internal/config"
)

// runMigrate applies pending database migrations and exits. serve does this
// automatically; the separate command exists for deploy pipelines that
// migrate before rolling instances.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}
