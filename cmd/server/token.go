package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/repo"
	"github.com/corvino/tripsync/internal/service"
)

func newIssueTokenCmd() *cobra.Command {
	var (
		email    string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Create a user if needed and print a new bearer token for them",
		Long: `Issues a bearer token for local development and testing. Production
deployments get tokens from their identity provider instead. The token is
printed once; only its hash is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if username == "" {
				username = email
			}
			d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.pool.Close()

			auth := service.NewAuthService(repo.NewUserRepo(d.pool))
			token, id, err := auth.IssueToken(cmd.Context(), username, email, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("user:  %s (%s)\n", id.Username, id.UserID)
			fmt.Printf("token: %s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email of the user (created if unknown)")
	cmd.Flags().StringVar(&username, "username", "", "display name for a new user (defaults to the email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime; 0 never expires")
	return cmd
}
