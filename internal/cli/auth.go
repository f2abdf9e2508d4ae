package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

func (a *app) loginCmd() *cobra.Command {
	var creds models.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), resp.User)
		},
	}

	cmd.Flags().StringVar(&creds.Email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")

	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var reg models.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), resp.User)
		},
	}

	cmd.Flags().StringVar(&reg.Email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.Name, "name", "", "display name")

	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Refresh(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "session refreshed")
			return nil
		},
	}
}
