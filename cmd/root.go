// Package cmd wires the wagate CLI: the serve command runs the gateway,
// the rest are thin HTTP clients against a running instance.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	authToken  string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wagate",
		Short: "Multi-instance WhatsApp messaging gateway",
		Long: `wagate runs one or more WhatsApp sessions behind an HTTP API.
Each instance pairs via QR code, reconnects on drops, and defers messages
to unknown recipients until they message in.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "wagate.json5", "config file path")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "gateway address for client commands")
	cmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for client commands")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(instancesCmd())
	cmd.AddCommand(qrCmd())
	cmd.AddCommand(sendCmd())
	cmd.AddCommand(logoutCmd())
	cmd.AddCommand(statsCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
