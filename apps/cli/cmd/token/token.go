package token

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opsgate-labs/backoffice-core/platform/go/auth"
)

// Command issues an HS256 session token for dev/local use. The secret must
// match the api server's AUTH_SECRET or the token will be rejected.
func Command() *cobra.Command {
	var (
		secret    string
		userID    string
		email     string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a signed session token for dev/local use",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := auth.NewSessions(secret)
			if err != nil {
				return err
			}

			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user-id uuid: %w", err)
			}

			signed, err := sessions.Issue(id, email, expiresIn)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "shared HS256 signing secret")
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id (uuid)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")

	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
