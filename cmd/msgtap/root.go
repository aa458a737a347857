package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/V4T54L/msgtap/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "msgtap",
	Short: "msgtap records message activity from a host messaging client",
	Long: `msgtap observes a host messaging client, turns sends, receives, reads,
saves and deletes into a bounded in-memory log, and serves that log over HTTP.

Run "msgtap serve" to start the server. The other commands talk to a running
server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("MSGTAP_SERVER", "http://localhost:8080"), "Base URL of the msgtap server")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("MSGTAP_API_KEY"), "API key for the msgtap server")
}

// apiClient builds a client from the persistent flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("api-key")
	return client.New(server, key, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
