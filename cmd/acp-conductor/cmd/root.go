// Package cmd provides the CLI commands for the ACP conductor.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acpconductor/conductor/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "acp-conductor",
	Short: "ACP conductor - protocol router between an editor, optional proxies, and an agent",
	Long: `acp-conductor sits between an interactive client (an editor or
orchestration script) and an AI agent process, optionally interposing an
ordered chain of proxy components between them. It multiplexes the
client<->agent conversation, rewrites request ids per hop, enforces the
proxy successor-wrapping handshake, and bridges MCP tool servers the client
offers over the control channel to the agent as ordinary HTTP MCP servers.

Quick start:
  1. Create a config file: acp-conductor.yaml
  2. Run: acp-conductor run

Configuration:
  Config is loaded from acp-conductor.yaml in the current directory,
  $HOME/.acp-conductor/, or /etc/acp-conductor/.

  Environment variables can override config values with the ACP_CONDUCTOR_ prefix.
  Example: ACP_CONDUCTOR_SERVER_LOG_LEVEL=debug

Commands:
  run              Run the conductor over stdio
  validate-config  Parse and validate the configuration, then exit
  version          Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./acp-conductor.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
