package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"asset-census-api/internal/auth"
	"asset-census-api/internal/config"
	"asset-census-api/internal/store"
)

func main() {
	var (
		dsn string
		dir string
	)

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the census database schema and operator accounts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(); err != nil {
				return err
			}
			cfg := config.Load()
			if dsn == "" {
				dsn = cfg.DatabaseURL
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			if dsn == "" {
				return errors.New("DATABASE_URL or --dsn is required")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (default: DATABASE_URL)")
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default: MIGRATIONS_DIR)")

	open := func(ctx context.Context) (*store.Postgres, *zap.Logger, error) {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
		pg, err := store.OpenPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, logger, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, logger, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer pg.Close()
			defer logger.Sync()

			applied, err := store.Migrate(cmd.Context(), pg.DB, dir, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(applied))
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, logger, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer pg.Close()
			defer logger.Sync()

			migrations, err := store.Migrations(cmd.Context(), pg.DB, dir)
			if err != nil {
				return err
			}
			for _, m := range migrations {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s %s\n", state, m.Checksum[:12], m.Filename)
			}
			return nil
		},
	}

	var (
		email string
		name  string
		roles []string
	)
	operator := &cobra.Command{
		Use:   "operator-add",
		Short: "Create an operator account (password from OPERATOR_PASSWORD)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("OPERATOR_PASSWORD")
			if len(password) < 8 {
				return errors.New("OPERATOR_PASSWORD must be at least 8 characters")
			}
			for i, r := range roles {
				roles[i] = strings.TrimSpace(r)
				if !auth.ValidRole(roles[i]) {
					return fmt.Errorf("unknown role %q", roles[i])
				}
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			pg, logger, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer pg.Close()
			defer logger.Sync()

			id, err := pg.CreateOperator(cmd.Context(), store.Operator{
				Email:        email,
				Name:         name,
				PasswordHash: string(hash),
				Roles:        roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created operator %d (%s)\n", id, email)
			return nil
		},
	}
	operator.Flags().StringVar(&email, "email", "", "operator email")
	operator.Flags().StringVar(&name, "name", "", "display name")
	operator.Flags().StringSliceVar(&roles, "roles", []string{auth.RoleAuditor}, "comma-separated roles")
	_ = operator.MarkFlagRequired("email")

	root.AddCommand(up, status, operator)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
