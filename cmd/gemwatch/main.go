// Package main is the gemwatch entrypoint: a cobra root command with
// "serve" (run the full pipeline) and "recover" (offline backfill replay)
// subcommands, mirroring the pack's cobra-rooted CLI shape.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gemwatch",
	Short: "gemwatch correlates chat-sourced Solana token signals into tiered alerts",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, recoverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}
