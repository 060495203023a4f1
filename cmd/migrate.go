package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentscope/internal/config"
	"github.com/nextlevelbuilder/agentscope/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
		Long:  "Migrations are embedded in the binary and applied automatically on open; these commands run them explicitly and report the result.",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

// openMigrationStore opens the configured store, exiting on failure. Opening
// applies pending migrations as a side effect.
func openMigrationStore() *sqlite.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}
	db, err := sqlite.Open(cfg.StoragePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %s\n", err)
		os.Exit(1)
	}
	return db
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			db := openMigrationStore()
			defer db.Close()
			fmt.Printf("migrations applied (%s)\n", db.Dir())
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Run: func(cmd *cobra.Command, args []string) {
			db := openMigrationStore()
			defer db.Close()
			if err := db.MigrateDown(); err != nil {
				fmt.Fprintf(os.Stderr, "migrate down: %s\n", err)
				os.Exit(1)
			}
			version, _, err := db.MigrateVersion()
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate down: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("rolled back; schema now at version %d\n", version)
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Run: func(cmd *cobra.Command, args []string) {
			db := openMigrationStore()
			defer db.Close()
			version, dirty, err := db.MigrateVersion()
			if err != nil {
				fmt.Fprintf(os.Stderr, "migrate version: %s\n", err)
				os.Exit(1)
			}
			if dirty {
				fmt.Printf("version %d (dirty)\n", version)
				return
			}
			fmt.Printf("version %d\n", version)
		},
	}
}
