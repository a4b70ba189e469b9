// Command donationcore serves the donation ledger API and manages its schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exitFunc = os.Exit

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "donationcore",
		Short: "Donation stock ledger and institution records service",
		Long: `donationcore tracks donated stock per institution, gates withdrawals
against what is still available and stores institution resources with
their files.

Configuration is read from DONATIONCORE_* environment variables and the
env files given with --env-file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSlice("env-file", []string{".env", ".env.local"}, "env files to load when present")
	root.AddCommand(serveCmd(), migrateCmd())
	return root
}
