package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/blog-client/blogapi"
	"github.com/alexjbarnes/blog-client/internal/config"
	apperrors "github.com/alexjbarnes/blog-client/internal/errors"
	"github.com/alexjbarnes/blog-client/internal/logging"
	"github.com/alexjbarnes/blog-client/internal/render"
	"github.com/alexjbarnes/blog-client/internal/session"
	"github.com/alexjbarnes/blog-client/internal/state"
	statevalkey "github.com/alexjbarnes/blog-client/internal/state/valkey"
)

// skipSetup marks commands that run without config or a credential store.
const skipSetup = "skip-setup"

// app holds what every command needs once the root command has set up.
type app struct {
	loadConfig func() (*config.Config, error)
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	output     string

	cfg     *config.Config
	logger  *slog.Logger
	client  *blogapi.Client
	session *session.Manager
	closers []func() error
}

func newApp(loadConfig func() (*config.Config, error), stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		loadConfig: loadConfig,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		output:     render.FormatText,
	}
}

// setup loads config, opens the credential store and builds the client.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipSetup] != "" {
		return nil
	}

	if !render.ValidFormat(a.output) {
		return fmt.Errorf("%w: --output must be one of %s", apperrors.ErrInvalidInput, strings.Join(render.Formats, ", "))
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.New(a.stderr, cfg.Environment, cfg.LogLevel)

	store, err := a.openStore()
	if err != nil {
		return err
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.HTTPClient = blogapi.NewHTTPClient(cfg.HTTPTimeout)
	clientCfg.Store = store
	clientCfg.Logger = a.logger
	clientCfg.OnSessionExpired = a.sessionExpired

	a.client = blogapi.NewClient(clientCfg)
	a.session = session.NewManager(a.client)

	return nil
}

func (a *app) openStore() (blogapi.CredentialStore, error) {
	if a.cfg.ValkeyAddr != "" {
		store, err := statevalkey.Dial(a.cfg.ValkeyAddr, a.cfg.ValkeyPrefix)
		if err != nil {
			return nil, err
		}

		a.closers = append(a.closers, store.Close)
		a.logger.Debug("using valkey credential store", slog.String("addr", a.cfg.ValkeyAddr))

		return store, nil
	}

	var opts []state.Option
	if a.cfg.CredentialsKey != "" {
		opts = append(opts, state.WithPassphrase(a.cfg.CredentialsKey))
	}

	store, err := state.LoadAt(a.cfg.StatePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	a.closers = append(a.closers, store.Close)
	a.logger.Debug("using local credential store",
		slog.String("path", a.cfg.StatePath),
		slog.Bool("encrypted", store.Encrypted()),
	)

	return store, nil
}

// sessionExpired is the client's hook for an unrecoverable 401. The store is
// already cleared; the user is pointed back at the login entry point.
func (a *app) sessionExpired(context.Context) {
	fmt.Fprintf(a.stderr, "Your session has expired. Run `blog login` to sign in again (%s).\n", a.cfg.LoginURL)
}

// Close releases the credential store.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}

	a.closers = nil

	return errors.Join(errs...)
}

// print writes v in the selected output format.
func (a *app) print(v any) error {
	return render.Value(a.stdout, a.output, v)
}

// message prints a confirmation line, or {"message": ...} for structured
// output.
func (a *app) message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if a.output == render.FormatText {
		_, err := fmt.Fprintln(a.stdout, msg)
		return err
	}

	return a.print(blogapi.MessageResponse{Message: msg})
}

// readSecret returns value, or reads one line from stdin when it is empty.
func (a *app) readSecret(prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}

	fmt.Fprint(a.stderr, prompt)

	scanner := bufio.NewScanner(a.stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}

		return "", fmt.Errorf("%w: no input", apperrors.ErrInvalidInput)
	}

	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}

func (a *app) currentUser() (*blogapi.User, error) {
	user, err := a.session.CurrentUser()
	if errors.Is(err, apperrors.ErrNotLoggedIn) {
		return nil, fmt.Errorf("%w, run `blog login` first", err)
	}

	return user, err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "blog",
		Short:         "Command-line client for the blog API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.output, "output", "o", render.FormatText,
		"output format: "+strings.Join(render.Formats, ", "))

	root.AddCommand(
		newVersionCmd(a),
		newRegisterCmd(a),
		newVerifyCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newStatusCmd(a),
		newProfileCmd(a),
		newAvatarCmd(a),
		newPostsCmd(a),
	)

	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the client version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(a.stdout, Version)
			return err
		},
	}
}
