package main

import (
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/jrsteele09/go-session-client/auth"
	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/client"
	"github.com/jrsteele09/go-session-client/internal/utils"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func loginCmd(current func() *app) *cobra.Command {
	var email, password, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Long: `Sign in with email and password. When the account has two-factor
authentication enabled the verification code is read from --code or
prompted for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			var err error
			if email == "" {
				if email, err = a.prompt("Email"); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = a.prompt("Password"); err != nil {
					return err
				}
			}

			result, err := a.manager.Login(cmd.Context(), email, password)
			if err != nil {
				return a.userError(err)
			}
			if result.SecondFactorRequired {
				if code == "" {
					if code, err = a.prompt("Verification code"); err != nil {
						return err
					}
				}
				if result, err = a.manager.VerifySecondFactor(cmd.Context(), code); err != nil {
					return a.userError(err)
				}
			}
			a.printf("Signed in as %s\n", describeUser(result))
			a.printf("Continue at %s\n", result.RedirectTo)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	cmd.Flags().StringVar(&code, "code", "", "Six digit verification code")
	return cmd
}

func describeUser(result *auth.LoginResult) string {
	if result.User == nil {
		return "unknown user"
	}
	if result.User.Username != "" {
		return result.User.Username + " <" + result.User.Email + ">"
	}
	return result.User.Email
}

func logoutCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			if err := a.manager.Logout(cmd.Context()); err != nil {
				return a.userError(err)
			}
			a.printf("Signed out\n")
			if a.navigatedTo != "" {
				a.printf("Continue at %s\n", a.navigatedTo)
			}
			return nil
		},
	}
}

func registerCmd(current func() *app) *cobra.Command {
	var (
		data         auth.RegisterData
		phone, orgID string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long:  `Create an account. A verification email is sent; no session is created.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			if data.PasswordConfirm == "" {
				data.PasswordConfirm = data.Password
			}
			if phone != "" {
				data.PhoneNumber = utils.Ptr(phone)
			}
			if orgID != "" {
				data.OrganizationID = utils.Ptr(orgID)
			}
			if err := a.manager.Register(cmd.Context(), data); err != nil {
				return a.userError(err)
			}
			a.printf("Account created. Check %s for a verification link.\n", data.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&data.Username, "username", "", "Username")
	cmd.Flags().StringVar(&data.Email, "email", "", "Email")
	cmd.Flags().StringVar(&data.Password, "password", "", "Password")
	cmd.Flags().StringVar(&data.PasswordConfirm, "password-confirm", "", "Password confirmation (defaults to --password)")
	cmd.Flags().StringVar(&data.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&data.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&orgID, "organization", "", "Organization id")
	return cmd
}

func statusCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the restored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a := current()
			s := a.manager.Snapshot()
			a.printf("Status: %s\n", s.Status)
			if s.User != nil {
				a.printf("User:   %s (%s)\n", s.User.Email, s.User.ID)
			}
			if s.Error != "" {
				a.printf("Error:  %s\n", s.Error)
			}
			return nil
		},
	}
}

func verifyEmailCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <key>",
		Short: "Confirm an email address with the key from the verification link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			result, err := a.manager.VerifyEmail(cmd.Context(), args[0])
			if err != nil {
				return a.userError(err)
			}
			a.printf("Email verified\n")
			keys := make([]string, 0, len(result))
			for k := range result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				a.printf("  %s: %v\n", k, result[k])
			}
			return nil
		},
	}
}

func resetPasswordCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Request or complete a password reset",
	}

	var email string
	requestCmd := &cobra.Command{
		Use:   "request",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			if err := a.manager.RequestPasswordReset(cmd.Context(), email); err != nil {
				return a.userError(err)
			}
			a.printf("If an account exists for %s a reset link has been sent.\n", email)
			return nil
		},
	}
	requestCmd.Flags().StringVar(&email, "email", "", "Account email")

	var confirm auth.PasswordResetConfirm
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with the token from the reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			if confirm.PasswordConfirm == "" {
				confirm.PasswordConfirm = confirm.Password
			}
			if err := a.manager.ConfirmPasswordReset(cmd.Context(), confirm); err != nil {
				return a.userError(err)
			}
			a.printf("Password changed. Sign in with the new password.\n")
			return nil
		},
	}
	confirmCmd.Flags().StringVar(&confirm.Token, "token", "", "Reset token")
	confirmCmd.Flags().StringVar(&confirm.UserID, "uid", "", "User id from the reset link")
	confirmCmd.Flags().StringVar(&confirm.Password, "password", "", "New password")
	confirmCmd.Flags().StringVar(&confirm.PasswordConfirm, "password-confirm", "", "New password confirmation (defaults to --password)")

	cmd.AddCommand(requestCmd, confirmCmd)
	return cmd
}

func getCmd(current func() *app) *cobra.Command {
	var failClosed bool

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Send an authenticated GET to the API",
		Long: `Send a GET request to a path under API_BASE_URL. The access token is
attached and refreshed when it has expired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			before := a.manager.Snapshot().Status
			policy := client.ProceedUnauthenticated
			if failClosed {
				policy = client.FailRequest
			}
			httpClient, err := a.httpClient(policy)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, apiURL(a.config.GetAPIBaseURL(), args[0]), nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return errors.Wrap(err, "request failed")
			}
			defer resp.Body.Close()

			a.printf("%s\n", resp.Status)
			if _, err := io.Copy(a.out, resp.Body); err != nil {
				return errors.Wrap(err, "read response")
			}
			a.printf("\n")
			if before == session.Authenticated && a.manager.Snapshot().Status != session.Authenticated {
				a.printf("Session ended. Sign in again at %s\n", a.config.GetLoginPath())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failClosed, "fail-closed", false, "Fail instead of sending unauthenticated when the refresh fails")
	return cmd
}

// apiURL joins path onto the API base without forcing a trailing slash when
// the path carries a query.
func apiURL(base, path string) string {
	if strings.Contains(path, "?") {
		p, q, _ := strings.Cut(path, "?")
		return backend.JoinURL(base, p) + "?" + q
	}
	return backend.JoinURL(base, path)
}

func tokenCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it when expired",
		Long: `Print the current access token for use with other tools, for example
curl -H "Authorization: Bearer $(sessionctl -q token)".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			authenticator, err := a.newAuthenticator(client.FailRequest)
			if err != nil {
				return err
			}
			tok, err := oauth2.ReuseTokenSource(nil, authenticator.TokenSource(cmd.Context())).Token()
			if errors.Is(err, client.ErrNoSession) {
				return errors.New("not signed in")
			}
			if err != nil {
				return a.userError(err)
			}
			a.printf("%s\n", tok.AccessToken)
			return nil
		},
	}
}

func openCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Show what the route guard does with a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a := current()
			decision := a.guard.Decide(args[0], a.manager.Snapshot().Status)
			switch decision.Location {
			case "":
				a.printf("%s %s\n", decision.Action, args[0])
			default:
				a.printf("%s %s -> %s\n", decision.Action, args[0], decision.Location)
			}
			return nil
		},
	}
}
