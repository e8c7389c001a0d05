// ABOUTME: `bedrock run` - process a single prompt against a fresh or rehydrated session, then exit.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func buildRunCmd(flags *globalFlags) *cobra.Command {
	var resumeSession string

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Process one prompt to completion and exit",
		Args:  cobra.MinimumNArgs(1),
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

			session := k.NewSession()
			if resumeSession != "" {
				session, err = k.RehydrateSession(ctx, resumeSession)
				if err != nil {
					return err
				}
			}

			prompt := strings.Join(args, " ")
			if err := k.Run(ctx, session, prompt); err != nil {
				return err
			}

			k.EndSession(session.ID)

			if flags.JSON {
				out, _ := json.Marshal(map[string]any{"session_id": session.ID, "turn_index": session.TurnIndex})
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s completed %d turn(s)\n", session.ID, session.TurnIndex)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resumeSession, "resume", "", "rehydrate an existing session id instead of starting fresh")
	return cmd
}
