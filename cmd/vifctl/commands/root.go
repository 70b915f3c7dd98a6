// Package commands implements the vifctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the hostif ConnectRPC client, initialized in PersistentPreRunE.
	client *hostIfClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's ConnectRPC address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for vifctl.
var rootCmd = &cobra.Command{
	Use:   "vifctl",
	Short: "CLI client for the vrouterd host-interface daemon",
	Long:  "vifctl communicates with the vrouterd daemon via ConnectRPC to manage host interfaces (vifs).",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newHostIfClient("http://" + serverAddr)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"vrouterd daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(vifCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
