package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFiles []string
	version  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "gemini-chat",
	Short: "Chat with Gemini through a small web service",
	Long: `gemini-chat keeps a per-session conversation, forwards it to the Gemini API
and pushes every updated transcript to the connected clients.

Quick Start:
  gemini-chat serve                         # start the HTTP/websocket server
  gemini-chat replica --server http://localhost:8080   # chat from the terminal`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
}
