/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/railbook/apiserver/config"
	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/internal/db"
	"github.com/railbook/apiserver/internal/logging"
	"github.com/railbook/apiserver/internal/services"
	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userPassword string
	userName     string
	userPhone    string
	userAdmin    bool
	userRoles    []string
)

// userCmd groups account maintenance commands that run against the database directly.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account, optionally with ROLE_ADMIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := userPassword
		if password == "" {
			password = os.Getenv("RAILBOOK_USER_PASSWORD")
		}

		return withUserStore(cmd.Context(), func(cfg config.Config, users *store.UserRepository) error {
			logger := logging.New(cfg.Log, os.Stderr)
			// Register touches neither sessions nor tokens.
			authService := auth.NewService(users, nil, nil,
				auth.WithLogger(logger),
				auth.WithBcryptCost(cfg.Auth.BcryptCost),
			)

			user, err := authService.Register(cmd.Context(), auth.RegisterInput{
				Email:    strings.TrimSpace(userEmail),
				Password: password,
				FullName: strings.TrimSpace(userName),
				Phone:    strings.TrimSpace(userPhone),
			})
			if err != nil {
				if errors.Is(err, auth.ErrInvalidInput) {
					return errors.New("--email, --name and a password are required")
				}
				return err
			}

			if userAdmin {
				user, err = services.NewUserService(users).SetRoles(cmd.Context(), user.ID, []string{types.RoleUser, types.RoleAdmin})
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s) with roles %s\n", user.ID, user.Email, strings.Join(user.Roles, ","))
			return nil
		})
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Replace the roles of an existing account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserStore(cmd.Context(), func(cfg config.Config, users *store.UserRepository) error {
			user, err := users.GetByEmail(cmd.Context(), strings.TrimSpace(userEmail))
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no user with email %q", userEmail)
				}
				return err
			}

			user, err = services.NewUserService(users).SetRoles(cmd.Context(), user.ID, userRoles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d now holds %s\n", user.ID, strings.Join(user.Roles, ","))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userGrantCmd)

	userCmd.PersistentFlags().StringVar(&userEmail, "email", "", "account email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "account password (defaults to $RAILBOOK_USER_PASSWORD)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "full name")
	userCreateCmd.Flags().StringVar(&userPhone, "phone", "", "phone number")
	userCreateCmd.Flags().BoolVar(&userAdmin, "admin", false, "also grant ROLE_ADMIN")
	userGrantCmd.Flags().StringSliceVar(&userRoles, "role", nil, "role to hold, repeatable")
	_ = userGrantCmd.MarkFlagRequired("role")
}

func withUserStore(ctx context.Context, fn func(config.Config, *store.UserRepository) error) error {
	cfg := config.LoadConfig()
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()
	return fn(cfg, store.NewUserRepository(conn))
}
