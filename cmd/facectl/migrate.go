package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/facegroups/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
