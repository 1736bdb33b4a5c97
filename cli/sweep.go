package cli

import (
	"fmt"

	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue loans and purge old notifications once",
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			res, err := runSweep(cmd, cfg, db.NewRepo(gdb, cfg.StatementTimeout))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d loan(s) marked overdue, %d notification(s) purged\n", res.Overdue, res.Purged)
			return nil
		},
	}
}

// runSweep needs no Redis: approvals are not replayed here.
func runSweep(cmd *cobra.Command, cfg config.Config, repo *db.Repo) (services.SweepResult, error) {
	var mail *services.EmailDispatcher
	if cfg.EmailNotifications {
		mail = services.NewEmailDispatcher(services.NewSMTPMailer(cfg), 1, 64, nil)
		defer mail.Shutdown()
	}
	notes := services.NewNotificationService(repo, mail, cfg.NotificationRetention, cfg.ListMaxLimit)
	notes.AppName, notes.WebOrigin = cfg.AppName, cfg.WebOrigin
	loans := services.NewLoanService(repo, notes, nil, nil, cfg.MaxPerRequest, cfg.LateFeeDailyRate, cfg.ListMaxLimit)
	return services.NewSweeper(loans, notes, nil).RunOnce(cmd.Context())
}
