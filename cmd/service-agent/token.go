package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"service-agent/internal/middleware"
)

func newTokenCmd(envFile *string) *cobra.Command {
	var (
		subject string
		email   string
		role    string
		secret  string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token signed with JWT_SECRET",
		Example: `  # Admin token valid for one hour
  service-agent token --sub ops-1 --role admin

  # Read-only token with an explicit secret
  service-agent token --sub dashboard --ttl 24h --secret "$JWT_SECRET"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := middleware.TokenSpec{
				Subject: subject,
				Email:   email,
				Role:    role,
				TTL:     ttl,
			}
			if secret == "" {
				cfg, err := loadConfig(*envFile)
				if err != nil {
					return err
				}
				secret = cfg.Auth.JWTSecret
				spec.Audience = cfg.Auth.Audience
				spec.RoleClaim = cfg.Auth.RoleClaim
			}
			return mint(cmd, secret, spec)
		},
	}

	cmd.Flags().StringVar(&subject, "sub", "", "token subject (required)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", "", `role claim; "admin" grants lifecycle and config writes`)
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func mint(cmd *cobra.Command, secret string, spec middleware.TokenSpec) error {
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set JWT_SECRET")
	}
	tok, err := middleware.MintHS256(secret, spec)
	if err != nil {
		return err
	}
	if spec.TTL > 24*time.Hour {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: token is valid for %s\n", spec.TTL)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
