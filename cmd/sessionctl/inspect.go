package main

import (
	"fmt"
	"strings"

	"github.com/revai/concierge/services"
	"github.com/revai/concierge/services/session"
	"github.com/spf13/cobra"
)

func newInspectCmd(now session.Clock) *cobra.Command {
	var signing signingFlags

	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a session token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := signing.config(0)
			if err != nil {
				return err
			}

			sess, err := session.NewVerifier(cfg, now).Verify(strings.TrimSpace(args[0]))
			if err != nil {
				if reason := services.GetReasonCode(err); reason != "" {
					return fmt.Errorf("token rejected (%s): %w", reason, err)
				}
				return fmt.Errorf("token rejected: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), newSessionOutput(sess, now()))
		},
	}

	signing.register(cmd)
	return cmd
}
