// Package main provides the CLI entry point for the bedrock kernel.
//
// bedrock runs a single-binary agent runtime: a turn-structured
// conversation loop against a remote inference provider, concurrent
// harness-gated tool dispatch, and an event-sourced persistent log.
//
//	bedrock run --config bedrock.toml "do the thing"
//	bedrock repl --model claude-sonnet-4-5
//	bedrock script ./harness/smoke_test.lua
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "bedrock",
		Short:         "Single-binary execution runtime for LLM-driven agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "write logs to this file (rotated), instead of stderr")
	cmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "bedrock.toml", "path to config file")
	cmd.PersistentFlags().StringVarP(&flags.Model, "model", "m", "", "override agent.model")
	cmd.PersistentFlags().StringVarP(&flags.Provider, "provider", "p", "", "override agent.provider")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "run: print a one-line JSON summary (session_id, turn_index) instead of text; events are not streamed")

	cmd.AddCommand(buildRunCmd(&flags))
	cmd.AddCommand(buildReplCmd(&flags))
	cmd.AddCommand(buildScriptCmd(&flags))
	cmd.AddCommand(buildSessionsCmd(&flags))

	return cmd
}

// globalFlags holds the flags shared by every subcommand.
type globalFlags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	Model      string
	Provider   string
	JSON       bool
}
