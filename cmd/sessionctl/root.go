package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services/session"
	"github.com/spf13/cobra"
)

const defaultIssuer = "revai-concierge"

// signingFlags are shared by commands that sign or verify tokens
type signingFlags struct {
	secret string
	issuer string
}

func (f *signingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.secret, "secret", "", "HS256 signing secret (default $SESSION_SIGNING_SECRET)")
	cmd.Flags().StringVar(&f.issuer, "issuer", "", "token issuer (default $SESSION_ISSUER or "+defaultIssuer+")")
}

func (f *signingFlags) config(ttl time.Duration) (session.Config, error) {
	secret := f.secret
	if secret == "" {
		secret = os.Getenv("SESSION_SIGNING_SECRET")
	}
	if secret == "" {
		return session.Config{}, fmt.Errorf("signing secret required: pass --secret or set SESSION_SIGNING_SECRET")
	}
	issuer := f.issuer
	if issuer == "" {
		issuer = os.Getenv("SESSION_ISSUER")
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	return session.Config{SigningSecret: secret, TTL: ttl, Issuer: issuer}, nil
}

// sessionOutput is the printed view of a session
type sessionOutput struct {
	SessionID string          `json:"session_id"`
	Token     string          `json:"token,omitempty"`
	Identity  models.Identity `json:"identity"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	ExpiresIn string          `json:"expires_in"`
}

func newSessionOutput(s *models.Session, now time.Time) sessionOutput {
	return sessionOutput{
		SessionID: s.ID,
		Identity:  s.Identity,
		IssuedAt:  s.IssuedAt,
		ExpiresAt: s.ExpiresAt,
		ExpiresIn: s.Remaining(now).String(),
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Operator tooling for RevAI Concierge sessions",
		Long: `Operator tooling for RevAI Concierge sessions.

Commands:
  mint           Sign a session token for a tenant user
  inspect        Verify a session token and print its claims
  hash-password  Hash a password for the users table

The signing secret is read from --secret or SESSION_SIGNING_SECRET.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newMintCmd(time.Now), newInspectCmd(time.Now), newHashPasswordCmd())
	return root
}
