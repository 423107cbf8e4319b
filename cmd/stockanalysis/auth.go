package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/display"
	"stockanalysis/internal/session"
)

func askPassword(message string) (string, error) {
	var pw string
	err := survey.AskOne(&survey.Password{Message: message}, &pw, survey.WithValidator(survey.Required))
	return pw, err
}

func newLoginCmd(get func() *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			a.restore(ctx)
			if a.sess.Authenticated() {
				u := a.sess.Snapshot().User
				display.Notice(a.out, fmt.Sprintf("already logged in as %s", u.Username))
				return nil
			}

			if username == "" {
				if err := survey.AskOne(&survey.Input{Message: "Username:"}, &username,
					survey.WithValidator(survey.MinLength(3))); err != nil {
					return err
				}
			}
			if password == "" {
				var err error
				if password, err = askPassword("Password:"); err != nil {
					return err
				}
			}

			user, err := a.sess.Login(ctx, username, password)
			if err != nil {
				return err
			}
			a.cache.OnSessionChange(ctx, a.sess.Status())
			display.Success(a.out, fmt.Sprintf("logged in as %s", user.Username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
	return cmd
}

func newLogoutCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			had := a.tokens.Has()
			a.restore(ctx)
			a.sess.Logout(ctx)
			a.cache.OnSessionChange(ctx, session.Unauthenticated)
			if had {
				display.Success(a.out, "logged out")
			} else {
				display.Dim(a.out, "not logged in")
			}
			return nil
		},
	}
}

func newWhoamiCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			a.restore(cmd.Context())
			snap := a.sess.Snapshot()
			display.User(a.out, snap.User, snap.Permissions, a.sess.HasPredictionAccess(), a.sess.HasAdminAccess())
			if exp, ok := a.tokens.ExpiresAt(); ok && snap.Authenticated {
				display.Dim(a.out, fmt.Sprintf("token expires %s", exp.Local().Format(time.RFC1123)))
			}
			return nil
		},
	}
}

func newRegisterCmd(get func() *app) *cobra.Command {
	var req apiclient.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			qs := []*survey.Question{}
			if req.Username == "" {
				qs = append(qs, &survey.Question{Name: "Username", Prompt: &survey.Input{Message: "Username:"}, Validate: survey.MinLength(3)})
			}
			if req.Email == "" {
				qs = append(qs, &survey.Question{Name: "Email", Prompt: &survey.Input{Message: "Email:"}, Validate: survey.Required})
			}
			if len(qs) > 0 {
				if err := survey.Ask(qs, &req); err != nil {
					return err
				}
			}
			var err error
			if req.Password, err = askPassword("Password:"); err != nil {
				return err
			}
			if req.PasswordConfirm, err = askPassword("Confirm password:"); err != nil {
				return err
			}

			res, err := a.client.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			msg := res.Message
			if msg == "" {
				msg = fmt.Sprintf("account %s created", res.User.Username)
			}
			display.Success(a.out, msg)
			display.Dim(a.out, "run `stockanalysis login` to sign in")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "account username")
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	return cmd
}

func newPasswordCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change or reset a password",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "change",
		Short: "Change the signed-in user's password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			var req apiclient.PasswordChange
			var err error
			if req.OldPassword, err = askPassword("Current password:"); err != nil {
				return err
			}
			if req.NewPassword, err = askPassword("New password:"); err != nil {
				return err
			}
			if req.NewPasswordConfirm, err = askPassword("Confirm new password:"); err != nil {
				return err
			}
			msg, err := a.client.ChangePassword(ctx, req)
			if err != nil {
				return err
			}
			display.Success(a.out, orDefault(msg, "password changed"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forgot EMAIL",
		Short: "Request a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			msg, err := a.client.ForgotPassword(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			display.Success(a.out, orDefault(msg, "reset instructions sent"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset USERNAME_OR_EMAIL",
		Short: "Reset a password directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			req := apiclient.PasswordReset{UsernameOrEmail: args[0]}
			var err error
			if req.NewPassword, err = askPassword("New password:"); err != nil {
				return err
			}
			if req.ConfirmPassword, err = askPassword("Confirm new password:"); err != nil {
				return err
			}
			if req.NewPassword != req.ConfirmPassword {
				return errors.New("passwords do not match")
			}
			msg, err := a.client.DirectPasswordReset(cmd.Context(), req)
			if err != nil {
				return err
			}
			display.Success(a.out, orDefault(msg, "password reset"))
			return nil
		},
	})
	return cmd
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
