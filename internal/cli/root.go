// Package cli implements the billingd command-line interface.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "billingd",
	Short: "Metered session billing and credit ledger service",
	Long: `billingd meters live interview-practice sessions minute by minute
against prepaid student credit balances. Every elapsed minute is charged
exactly once, balances never go negative, and each charge drives a
continue/warn/terminate decision for the session transport.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; real deployments set the environment directly.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
