// Package cli is the command tree of the loan manager binary.
package cli

import (
	"fmt"
	"os"
	"strings"

	"Gin_postgres_redis_loan_manager/config"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "loan-manager",
		Short:         "Equipment loan management service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			config.LoadEnv()
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSweepCmd(), newInventoryCmd())
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and refuses unsafe settings. Offline
// commands never sign tokens, so they tolerate a missing JWT secret.
func loadConfig(needSecret bool) (config.Config, error) {
	cfg := config.Load()
	for _, p := range cfg.Validate() {
		if !needSecret && strings.HasPrefix(p, "JWT_SECRET") {
			continue
		}
		return cfg, fmt.Errorf("config: %s", p)
	}
	return cfg, nil
}
