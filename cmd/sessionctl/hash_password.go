package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/revai/concierge/services/credentials"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// Bounds of what the login endpoint accepts
const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

func newHashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for the users table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("--cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if n := len(password); n < minPasswordLength || n > maxPasswordLength {
				return fmt.Errorf("password must be %d to %d bytes", minPasswordLength, maxPasswordLength)
			}

			hash, err := credentials.HashPassword(password, cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
