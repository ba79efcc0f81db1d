package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/dashauth/internal/app"
	"github.com/florianilch/dashauth/internal/observability"
	"github.com/florianilch/dashauth/internal/tokens"
)

// errNotLoggedIn is returned by commands that need a session.
var errNotLoggedIn = errors.New("not logged in, run 'dashauth login' first")

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "dashauth",
		Usage: "Session manager and auth gateway for the monitoring dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "backend--base-url",
				Usage: "monitoring backend base URL",
				Value: app.DefaultConfigBackendBaseURL,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "token storage (file|env|keyring|redis|memory)",
				Value: string(app.DefaultConfigStorage),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			tokenCommand(),
			statusCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate against the backend and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Usage:    "account name",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "read the password from stdin instead of prompting",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				if err := a.RequireWritableStorage(); err != nil {
					return fmt.Errorf("login failed: %w", err)
				}

				password, err := readPassword(cmd.Bool("password-stdin"), os.Stdin, cmd.Root().ErrWriter)
				if err != nil {
					return err
				}

				if err := a.Manager().Authenticate(ctx, cmd.String("username"), password); err != nil {
					return fmt.Errorf("login failed: %w", err)
				}

				_, _ = fmt.Fprintln(cmd.Root().Writer, describe(a.Manager().Current()))
				return nil
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "invalidate and forget the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				if err := a.RequireWritableStorage(); err != nil {
					return fmt.Errorf("logout failed: %w", err)
				}

				if err := a.Manager().Logout(ctx); err != nil {
					// The local session is gone; the backend may still accept the old refresh token.
					slog.WarnContext(ctx, "logged out locally only", "error", err)
				}
				_, _ = fmt.Fprintln(cmd.Root().Writer, "logged out")
				return nil
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a valid access token, refreshing it if needed",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				token, err := a.Manager().AccessToken(ctx)
				if err != nil {
					return fmt.Errorf("failed to obtain access token: %w", err)
				}
				if token == "" {
					return errNotLoggedIn
				}
				_, _ = fmt.Fprintln(cmd.Root().Writer, token)
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show whether a session is stored",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Manager().AccessToken(ctx); err != nil {
					slog.WarnContext(ctx, "session refresh failed", "error", err)
				}
				_, _ = fmt.Fprintln(cmd.Root().Writer, describe(a.Manager().Current()))
				return nil
			})
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local auth gateway for the dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app.App) error {
				slog.InfoContext(ctx, "starting")

				if err := a.Start(ctx); err != nil {
					return fmt.Errorf("app failed to start: %w", err)
				}

				slog.InfoContext(ctx, "stopped gracefully")
				return nil
			})
		},
	}
}

// withApp loads the configuration, sets up observability and runs fn with a ready App.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownTelemetry, err := observability.Instrument(ctx, observability.Config{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: string(cfg.Telemetry.Exporter),
		Endpoint: cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush telemetry: %v\n", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close token storage", "error", err)
		}
	}()

	return fn(ctx, application)
}

// readPassword prompts on the terminal without echo, or reads one line from in.
func readPassword(fromStdin bool, in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())

	if !fromStdin && term.IsTerminal(fd) {
		_, _ = fmt.Fprint(prompt, "Password: ")
		password, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	return readPasswordLine(in)
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

// describe renders the session state for humans.
func describe(set *tokens.Set) string {
	authenticated, known := set.Authenticated()
	switch {
	case !known:
		return "session state unknown"
	case !authenticated:
		return "not logged in"
	default:
		return fmt.Sprintf("logged in, access token valid until %s", set.ExpiresAt().Local().Format(time.RFC1123))
	}
}
