package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/blog-client/blogapi"
	"github.com/alexjbarnes/blog-client/internal/render"
)

func newPostsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List or write posts",
	}

	cmd.AddCommand(newPostsListCmd(a), newPostsCreateCmd(a))

	return cmd
}

// postPage is the structured form of one listed page.
type postPage struct {
	Posts []blogapi.Post `json:"posts"`
	Meta  *blogapi.Meta  `json:"meta,omitempty"`
}

func newPostsListCmd(a *app) *cobra.Command {
	var (
		userID         string
		page, pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's posts (yours by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				me, err := a.currentUser()
				if err != nil {
					return err
				}

				userID = me.ID
			}

			posts, meta, err := a.client.ListUserPosts(cmd.Context(), userID, page, pageSize)
			if err != nil {
				return err
			}

			if a.output != render.FormatText {
				return a.print(postPage{Posts: posts, Meta: meta})
			}

			if len(posts) == 0 {
				return a.message("No posts yet.")
			}

			if err := render.PostCards(a.stdout, posts); err != nil {
				return err
			}

			if meta != nil {
				_, err = fmt.Fprintf(a.stdout, "\nPage %d of %d (%d posts)\n", meta.Page, meta.TotalPages, meta.TotalItems)
			}

			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID (defaults to the logged-in user)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 10, "posts per page")

	return cmd
}

func newPostsCreateCmd(a *app) *cobra.Command {
	var (
		req       blogapi.CreatePostRequest
		bodyFile  string
		imagePath string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish or draft a post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("reading body: %w", err)
				}

				req.Body = string(data)
			}

			if err := req.Validate(); err != nil {
				return invalid(err)
			}

			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("reading image: %w", err)
				}

				req.Image = &blogapi.Image{Filename: filepath.Base(imagePath), Data: data}
			}

			if _, err := a.currentUser(); err != nil {
				return err
			}

			post, err := a.client.CreatePost(cmd.Context(), req)
			if err != nil {
				return err
			}

			if a.output != render.FormatText {
				return a.print(post)
			}

			return render.PostCards(a.stdout, []blogapi.Post{*post})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Title, "title", "", "post title")
	f.StringVar(&req.Slug, "slug", "", "URL slug")
	f.StringVar(&req.Body, "body", "", "post body")
	f.StringVar(&bodyFile, "body-file", "", "read the post body from a file")
	f.StringVar(&req.Abstract, "abstract", "", "short summary shown on cards")
	f.BoolVar(&req.Published, "published", false, "publish immediately instead of saving a draft")
	f.StringVar(&imagePath, "image", "", "cover image file")
	f.StringVar(&req.Location, "location", "", "location name")
	f.Float64Var(&req.Lat, "lat", 0, "latitude")
	f.Float64Var(&req.Lon, "lon", 0, "longitude")
	f.StringVar(&req.Locale, "locale", "", "locale tag, e.g. en or fr")
	f.StringArrayVar(&req.Tags, "tag", nil, "tag (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}
