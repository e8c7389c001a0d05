// ABOUTME: `bedrock repl` - interactive line loop: empty line ignored, "exit" quits, "/reload" reloads the harness.

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func buildReplCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive line editor against a fresh session",
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

			session := k.NewSession()
			defer k.EndSession(session.ID)

			out := cmd.OutOrStdout()
			in := bufio.NewScanner(cmd.InOrStdin())

			fmt.Fprintf(out, "bedrock repl — session %s. Ctrl-D or \"exit\" to quit, \"/reload\" to reload the harness.\n", session.ID)
			for {
				fmt.Fprint(out, "> ")
				if !in.Scan() {
					fmt.Fprintln(out)
					return nil
				}
				line := strings.TrimSpace(in.Text())
				switch {
				case line == "":
					continue
				case line == "exit":
					return nil
				case line == "/reload":
					if err := k.ReloadHarness(session.ID); err != nil {
						fmt.Fprintf(out, "reload failed: %v\n", err)
					} else {
						fmt.Fprintln(out, "harness reloaded")
					}
					continue
				}

				if err := k.Run(ctx, session, line); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintln(out, session.LastAssistantText())
			}
		},
	}
	return cmd
}
