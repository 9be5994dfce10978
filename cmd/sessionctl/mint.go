package main

import (
	"fmt"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services/session"
	"github.com/revai/concierge/utils"
	"github.com/spf13/cobra"
)

type mintOptions struct {
	signing  signingFlags
	tenantID string
	userID   string
	email    string
	name     string
	role     string
	ttl      time.Duration
	asJSON   bool
}

func newMintCmd(now session.Clock) *cobra.Command {
	opts := &mintOptions{}

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a session token for a tenant user",
		Long: `Sign a session token without a password login.

Examples:
  sessionctl mint --tenant 9a1b2c3d-... --user 5f0c2a4e-... --email owner@example.com
  sessionctl mint --tenant ... --user ... --email ... --role admin --ttl 15m --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateUUID(opts.tenantID); err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			if err := utils.ValidateUUID(opts.userID); err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			role := models.UserRole(opts.role)
			if !role.Valid() {
				return fmt.Errorf("--role: unknown role %q", opts.role)
			}

			cfg, err := opts.signing.config(opts.ttl)
			if err != nil {
				return err
			}

			sess, err := session.NewIssuer(cfg, now).Issue(models.Identity{
				UserID:      opts.userID,
				TenantID:    opts.tenantID,
				Email:       opts.email,
				DisplayName: opts.name,
				Role:        role,
			})
			if err != nil {
				return fmt.Errorf("failed to mint session: %w", err)
			}

			if !opts.asJSON {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), sess.Token)
				return err
			}
			out := newSessionOutput(sess, now())
			out.Token = sess.Token
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	opts.signing.register(cmd)
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "tenant ID (UUID)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user ID (UUID)")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.role, "role", string(models.RoleUser), "user role (user or admin)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "session lifetime")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the session as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
