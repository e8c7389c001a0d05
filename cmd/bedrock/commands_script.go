// ABOUTME: `bedrock script` - evaluate a harness script once against a fresh session, for smoke-testing.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func buildScriptCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script <path>",
		Short: "Evaluate a harness script once against a fresh session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			k, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer k.Shutdown()

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script %s: %w", args[0], err)
			}

			if err := k.RunScript(string(src)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "script %s evaluated successfully\n", args[0])
			return nil
		},
	}
	return cmd
}
