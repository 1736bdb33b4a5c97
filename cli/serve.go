package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/routes"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the overdue sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			routes.RegisterRoutes(a.Router, a)

			if _, err := app.BootstrapFirstAdmin(ctx, cfg, a.Repo); err != nil {
				log.Printf("bootstrap: %v", err)
			}
			if !noSweep {
				go a.Sweeper.Run(ctx, cfg.SweepInterval)
			}

			srv := &http.Server{Addr: ":" + cfg.Port, Handler: a.Router, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() {
				log.Printf("listening on :%s", cfg.Port)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Println("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the background sweeper")
	return cmd
}
