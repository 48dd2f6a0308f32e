package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/invoice-ledger/internal/app"
	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

func newTokenCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}

	var (
		actorID int64
		name    string
		ttl     time.Duration
		secret  string
		issuer  string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for a staff member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			raw, err := app.NewTokenService(secret, issuer).Issue(shared.Actor{ID: actorID, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	issue.Flags().Int64Var(&actorID, "actor-id", 0, "staff member id recorded as the actor")
	issue.Flags().StringVar(&name, "name", "", "display name carried in the token")
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	issue.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	issue.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "invoice-ledger"), "token issuer")
	_ = issue.MarkFlagRequired("actor-id")
	cmd.AddCommand(issue)
	return cmd
}
