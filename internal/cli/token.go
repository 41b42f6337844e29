package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/cutlog/internal/apiserver"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Issue a bearer token for the reference server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.cfg.ServerJWTSecret
			if secret == "" {
				return apperrors.New(apperrors.ErrValidation, "server_jwt_secret (CUTLOG_SERVER_JWT_SECRET) is required")
			}
			token, err := apiserver.NewJWT(secret).Sign(args[0], ttl)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrInvalid, "sign token", err)
			}
			out := cmd.OutOrStdout()
			if opts.JSON {
				return outputJSON(out, map[string]string{"token": token})
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
