package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/turntimer/internal/api/request"
	"github.com/mcoot/turntimer/internal/api/response"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User and session commands",
	}

	cmd.AddCommand(newUserGuestCmd())
	cmd.AddCommand(newUserRegisterCmd())
	cmd.AddCommand(newUserLoginCmd())
	cmd.AddCommand(newUserMeCmd())
	cmd.AddCommand(newUserLogoutCmd())

	return cmd
}

// authenticate posts to an auth endpoint and stores the returned token
func authenticate(cmd *cobra.Command, path string, req any) error {
	var result response.AuthResponse

	if err := client.Post(path, req, &result); err != nil {
		return err
	}

	// Save token
	if err := cfg.SaveToken(result.SessionToken); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	output(cmd).Print(result)
	return nil
}

func newUserGuestCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Create a guest user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, "/api/v1/users/guest", request.CreateGuestRequest{DisplayName: name})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newUserRegisterCmd() *cobra.Command {
	var name, user, pass string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, "/api/v1/users/register", request.RegisterRequest{
				Username:    user,
				Password:    pass,
				DisplayName: name,
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newUserLoginCmd() *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, "/api/v1/users/login", request.LoginRequest{
				Username: user,
				Password: pass,
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newUserMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show current user info",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.User

			if err := client.Get("/api/v1/users/me", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newUserLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post("/api/v1/users/logout", nil, nil); err != nil {
				return err
			}
			if err := cfg.ClearToken(); err != nil {
				return fmt.Errorf("failed to remove token: %w", err)
			}

			output(cmd).PrintMessage("Logged out")
			return nil
		},
	}
}
