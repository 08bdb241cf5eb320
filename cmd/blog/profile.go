package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/blog-client/blogapi"
	apperrors "github.com/alexjbarnes/blog-client/internal/errors"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
	}

	cmd.AddCommand(newProfileShowCmd(a), newProfileUpdateCmd(a))

	return cmd
}

func newProfileShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Fetch your profile from the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			me, err := a.currentUser()
			if err != nil {
				return err
			}

			user, err := a.client.GetUser(cmd.Context(), me.ID)
			if err != nil {
				return err
			}

			if err := a.session.UpdateUser(user); err != nil {
				return err
			}

			return a.print(user)
		},
	}
}

func newProfileUpdateCmd(a *app) *cobra.Command {
	var username, email, bio string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change your username, email or bio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req blogapi.UpdateUserRequest

			if cmd.Flags().Changed("username") {
				req.Username = &username
			}

			if cmd.Flags().Changed("email") {
				req.Email = &email
			}

			if cmd.Flags().Changed("bio") {
				req.Bio = &bio
			}

			if req.Username == nil && req.Email == nil && req.Bio == nil {
				return fmt.Errorf("%w: nothing to update, pass --username, --email or --bio", apperrors.ErrInvalidInput)
			}

			if err := req.Validate(); err != nil {
				return invalid(err)
			}

			me, err := a.currentUser()
			if err != nil {
				return err
			}

			user, err := a.client.UpdateUser(cmd.Context(), me.ID, req)
			if err != nil {
				return err
			}

			if err := a.session.UpdateUser(user); err != nil {
				return err
			}

			return a.print(user)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "new username")
	cmd.Flags().StringVar(&email, "email", "", "new email address")
	cmd.Flags().StringVar(&bio, "bio", "", "new bio (at most 500 characters)")

	return cmd
}

func newAvatarCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "avatar <image>",
		Short: "Upload a new avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := a.currentUser()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening avatar: %w", err)
			}
			defer f.Close()

			user, err := a.client.UploadAvatar(cmd.Context(), me.ID, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}

			if err := a.session.UpdateUser(user); err != nil {
				return err
			}

			if a.output != "text" {
				return a.print(user)
			}

			return a.message("Avatar updated: %s", user.Image)
		},
	}
}
