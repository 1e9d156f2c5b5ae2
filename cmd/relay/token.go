package main

import (
	"fmt"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/config"
	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/security"

	"github.com/spf13/cobra"
)

// token: выпуск токена для локальной отладки (wscat, e2e).
func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := mintToken(cfg.Security.JWT, domain.Identity{ID: subject, Role: domain.ParseRole(role)}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "identity (sub claim)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleClient), "client|consultant")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.devTokenTTL)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func mintToken(j config.JWT, id domain.Identity, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = j.DevTokenTTL
	}
	keys, err := loadKeys(j, true)
	if err != nil {
		return "", err
	}
	return security.NewJWTSigner(keys, j.Issuer, j.Audience, ttl).Sign(id, now)
}
