package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "shopchat",
	Short: "Product search assistant for the VietChoice catalog",
	Long: `shopchat talks to the VietChoice catalog backend in plain language.

Ask for products by name, look up barcodes, scan package photos, or run
"shopchat serve" to expose the same assistant over HTTP and MCP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(askCmd, chatCmd, searchCmd, barcodeCmd, scanCmd, sessionCmd, configCmd)
	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
