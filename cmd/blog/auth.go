package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/blog-client/blogapi"
	apperrors "github.com/alexjbarnes/blog-client/internal/errors"
)

func invalid(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
}

func newRegisterCmd(a *app) *cobra.Command {
	var req blogapi.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readSecret("Password: ", req.Password)
			if err != nil {
				return err
			}

			req.Password = password
			if err := req.Validate(); err != nil {
				return invalid(err)
			}

			user, err := a.client.Register(cmd.Context(), req)
			if err != nil {
				return err
			}

			return a.message("Registered %s. Check %s for a verification code, then run `blog verify`.", user.Username, req.Email)
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "username (at least 2 characters)")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var req blogapi.VerifyOTPRequest

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm an email address with the emailed code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := req.Validate(); err != nil {
				return invalid(err)
			}

			resp, err := a.client.VerifyOTP(cmd.Context(), req)
			if err != nil {
				return err
			}

			return a.message("%s", resp.Message)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.OTP, "otp", "", "6-digit verification code")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("otp")

	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var req blogapi.LoginRequest

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readSecret("Password: ", req.Password)
			if err != nil {
				return err
			}

			req.Password = password

			user, err := a.session.Login(cmd.Context(), req)
			if err != nil {
				return err
			}

			if a.output != "text" {
				return a.print(user)
			}

			return a.message("Logged in as @%s.", user.Username)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.session.Logout(); err != nil {
				return err
			}

			return a.message("Logged out.")
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored user without contacting the API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			user, err := a.currentUser()
			if err != nil {
				return err
			}

			if a.output != "text" {
				return a.print(user)
			}

			return a.message("@%s <%s> (id %s)", user.Username, user.Email, user.ID)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise the stored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st, err := a.session.Status()
			if err != nil {
				return err
			}

			return a.print(st)
		},
	}
}
