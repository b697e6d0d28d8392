package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "settlements",
	Short: "Payment settlement and reconciliation service",
	Long:  "Collects payments over mobile money and card order rails, settles them idempotently from webhooks and polling, and runs reconciliation jobs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
