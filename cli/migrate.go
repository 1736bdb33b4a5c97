package cli

import (
	"log"

	"Gin_postgres_redis_loan_manager/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := db.Migrate(gdb); err != nil {
				return err
			}
			log.Printf("%s schema is up to date", cfg.DBDriver)
			return nil
		},
	}
}
