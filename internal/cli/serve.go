package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/cutlog/internal/apiserver"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory reference API server",
		Long: `Run the reference implementation of the cutlog API. Data is kept in memory
and scoped to the subject of the bearer token; issue tokens with "cutlog token".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cfg.ServerJWTSecret == "" {
				return apperrors.New(apperrors.ErrValidation, "server_jwt_secret (CUTLOG_SERVER_JWT_SECRET) is required")
			}
			if addr == "" {
				addr = cfg.ServerAddr
			}

			router := apiserver.NewRouter(apiserver.Options{
				JWTSecret:   cfg.ServerJWTSecret,
				CORSOrigins: cfg.ServerCORSOrigins,
			}, apiserver.NewStore(), apiserver.NewJWT(cfg.ServerJWTSecret))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return apiserver.NewServer(addr, router).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server_addr)")
	return cmd
}
