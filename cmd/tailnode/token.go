package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/tailnode/internal/config"
	"github.com/rmacdonaldsmith/tailnode/internal/statusapi"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		clientID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a status API token",
		Long: `Mint a bearer token for the status API, signed with the configured
secret (--jwt-secret, TAILNODE_STATUS_JWT_SECRET or status.jwt_secret).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Status.JWTSecret == "" {
				return errors.New("no JWT secret configured")
			}
			if ttl <= 0 {
				ttl = cfg.Status.TokenTTL
			}

			auth := statusapi.NewJWTAuth(cfg.Status.JWTSecret, statusapi.Issuer)
			token, expiresAt, err := auth.GenerateToken(clientID, ttl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printf(out, "%s\n", token)
			printf(cmd.ErrOrStderr(), "🔑 Token for %s expires at %s\n", clientID, expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().String("jwt-secret", "", "Secret the status API verifies tokens with")
	cmd.Flags().StringVar(&clientID, "client-id", "cli", "Client ID embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default status.token_ttl)")
	return cmd
}
