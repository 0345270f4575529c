package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

// noColor honors NO_COLOR and disables color when stderr is not a terminal.
var noColor = color.NoColor

var rootCmd = &cobra.Command{
	Use:   "ellbridge",
	Short: "Adapt classroom materials for English language learners",
	Long: `ellbridge serves the adaptation API: cached, rate-limited model calls with
fallback between providers, PDF text extraction, image generation and
client error reporting.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", noColor, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(adaptCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("ellbridge version %s", version)
}
