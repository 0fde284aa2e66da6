package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "certprep",
	Short: "Certification exam practice gateway",
	Long:  "certprep serves the practice-exam API: question banks, quiz sessions, tier gating and Paystack billing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("db-driver", "", "database driver: sqlite|postgres (overrides DB_DRIVER)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN (overrides DB_DSN)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
