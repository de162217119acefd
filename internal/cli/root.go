// Package cli implements the cdcbridge command tree: cdc, backfill,
// alerts, evaluate, and approve, each a thin wrapper around the
// corresponding internal package wired from internal/config.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/scalytics/cdcbridge/internal/cli.version=1.2.3"
	version = "0.1.0"
	logo    = "\n" +
		"   ____ ____   ____ _           _     _\n" +
		"  / ___|  _ \\ / ___| |__  _ __(_) __| | __ _  ___\n" +
		" | |   | | | | |   | '_ \\| '__| |/ _` |/ _` |/ _ \\\n" +
		" | |___| |_| | |___| |_) | |  | | (_| | (_| |  __/\n" +
		"  \\____|____/ \\____|_.__/|_|  |_|\\__,_|\\__, |\\___|\n" +
		"                                       |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "cdcbridge",
	Short: "cdcbridge - Oracle CDC to ML-analysis conversation bridge",
	Long:  color.CyanString(logo) + "\nReads call/chat fragments from a relational source, assembles them into conversations, and exchanges them with an ML analysis service over Kafka.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cdcCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(approveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("cdcbridge version")
		fmt.Printf("Version: %s\n", version)
	},
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("-----------------------")
	}
}
