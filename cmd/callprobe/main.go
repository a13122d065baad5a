// Command callprobe runs the synthetic-patient call tester and places calls
// against the booking line under test.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harunnryd/callprobe/pkg/runner"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "callprobe",
	Short:         "Adversarial voice tester for appointment booking lines",
	Version:       runner.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `callprobe answers Twilio media streams as a synthetic patient, takes
turns with the bot on the other end and grades every finished call.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is normal outside local development.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/callprobe.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, dialCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
