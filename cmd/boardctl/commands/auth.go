package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"prism-board/client"
	"prism-board/domain"
)

var (
	authEmail    string
	authUsername string
	authPassword string
	authQuiet    bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		user, err := api().Register(ctx, domain.RegisterInput{Email: authEmail, Username: authUsername, Password: authPassword})
		if err != nil {
			return apiError("registration failed", err)
		}
		return printIdentity(cmd, user)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		user, err := api().Login(ctx, domain.LoginInput{Email: authEmail, Password: authPassword})
		if err != nil {
			return apiError("login failed", err)
		}
		return printIdentity(cmd, user)
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		user, err := api().CurrentUser(ctx)
		if err != nil {
			return apiError("lookup failed", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s\n", user.Username, user.Email, user.ID)
		return nil
	},
}

func printIdentity(cmd *cobra.Command, user domain.UserResponse) error {
	w := cmd.OutOrStdout()
	if authQuiet {
		fmt.Fprintln(w, user.Token)
		return nil
	}
	Success(w, "signed in as %s <%s>", user.Username, user.Email)
	fmt.Fprintf(w, "export BOARD_TOKEN=%q\n", user.Token)
	return nil
}

func apiError(title string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return Error(title, fmt.Sprintf("The server answered %d: %s", apiErr.Status, apiErr.Body), nil)
	}
	return Error(title, err.Error(), []string{"Check that the server is running:\n  boardctl --server " + serverURL + " whoami"})
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email")
		c.Flags().StringVar(&authPassword, "password", "", "Account password")
		c.Flags().BoolVarP(&authQuiet, "quiet", "q", false, "Print only the token")
		_ = c.MarkFlagRequired("email")
		_ = c.MarkFlagRequired("password")
	}
	registerCmd.Flags().StringVar(&authUsername, "username", "", "Display name")
	_ = registerCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(registerCmd, loginCmd, whoamiCmd)
}
