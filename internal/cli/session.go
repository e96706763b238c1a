package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSessionCommand создаёт группу команд для сессии курьера
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the identity provider token used for API calls",
	}

	cmd.AddCommand(newSessionLoginCommand(rootOpts))
	cmd.AddCommand(newSessionLogoutCommand(rootOpts))
	cmd.AddCommand(newSessionStatusCommand(rootOpts))

	return cmd
}

func newSessionLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token issued by the identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return errors.New("--token is required")
			}

			ctx := cmd.Context()
			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.session.SignIn(ctx, token); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			c, _ := a.session.Claims()
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", c.Subject, c.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "JWT bearer token")
	return cmd
}

func newSessionLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.session.SignOut(ctx); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newSessionStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newAgent(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			c, ok := a.session.Claims()
			if !ok {
				fmt.Fprintf(out, "%s\n", a.session.State())
				return nil
			}
			fmt.Fprintf(out, "%s: %s <%s> %s, expires %s\n",
				a.session.State(), c.Subject, c.Email, c.Role, c.ExpiresAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
}
