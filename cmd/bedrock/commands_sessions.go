// ABOUTME: `bedrock sessions` - list known session ids, most recently active first.
// ABOUTME: Supplemental CLI surface beyond the core spec's operation set.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func buildSessionsCmd(flags *globalFlags) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List known session ids",
		Args:  cobra.NoArgs,
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

			ids, err := k.ListSessions(ctx, limit, offset)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of sessions to skip")
	return cmd
}
