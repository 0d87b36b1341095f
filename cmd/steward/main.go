// Steward — proactive task orchestration and governance engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Steward — proactive task orchestration and governance engine.",
	Long: `Steward runs recurring tasks through a governed pipeline: a cron
scheduler feeds a durable event queue, sub-agent fan-outs produce plan
candidates, a consensus selector ranks them, and an ethics gate with budget
enforcement decides what may proceed autonomously.`,
	RunE:          runGateway, // Default to gateway mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, tickCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
