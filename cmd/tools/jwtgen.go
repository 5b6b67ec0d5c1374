package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/config"
)

func main() {
	var (
		operatorID int64
		email      string
		roles      []string
		expiry     time.Duration
		secret     string
		issuer     string
		audience   string
	)

	cmd := &cobra.Command{
		Use:          "jwtgen",
		Short:        "Mint an operator token for local testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if secret != "" {
				cfg.JWTSecret = secret
			}
			if issuer != "" {
				cfg.JWTIssuer = issuer
			}
			if audience != "" {
				cfg.JWTAudience = audience
			}

			for i, role := range roles {
				roles[i] = strings.TrimSpace(role)
				if !auth.ValidRole(roles[i]) {
					return fmt.Errorf("unknown role %q (want %s or %s)", roles[i], auth.RoleCoordinator, auth.RoleAuditor)
				}
			}

			jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, expiry)
			if err := jwtManager.ValidateConfig(); err != nil {
				return err
			}
			token, err := jwtManager.GenerateToken(operatorID, email, roles)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Operator ID: %d\n", operatorID)
			fmt.Fprintf(out, "Email: %s\n", email)
			fmt.Fprintf(out, "Roles: %s\n", strings.Join(roles, ", "))
			fmt.Fprintf(out, "Expiry: %v\n", expiry)
			fmt.Fprintf(out, "Issuer: %s\n", cfg.JWTIssuer)
			fmt.Fprintf(out, "Audience: %s\n", cfg.JWTAudience)
			fmt.Fprintf(out, "\nToken:\n%s\n\n", token)
			fmt.Fprintf(out, "curl -H \"Authorization: Bearer %s\" http://localhost:8080/assets\n", token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&operatorID, "operator", 1, "operator id")
	cmd.Flags().StringVar(&email, "email", "coordinator@example.com", "operator email")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{auth.RoleCoordinator}, "comma-separated roles")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (overrides JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "JWT issuer (overrides JWT_ISS)")
	cmd.Flags().StringVar(&audience, "audience", "", "JWT audience (overrides JWT_AUD)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
