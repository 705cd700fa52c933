// Command gateway is the telos metered LLM gateway server.
//
// It reads configuration from environment variables (or config.yaml) and
// starts the HTTP API on the configured port.
//
// Quick-start (embedded SQLite, in-memory cache):
//
//	JWT_SECRET=change-me ./gateway serve
//
// A first account can also be created from the CLI:
//
//	JWT_SECRET=change-me ./gateway create-user --email you@example.com --password secret123
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teloslabs/telos-gateway/internal/app"
	"github.com/teloslabs/telos-gateway/internal/auth"
	"github.com/teloslabs/telos-gateway/internal/config"
	"github.com/teloslabs/telos-gateway/internal/store"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:     "gateway",
		Short:   "Metered LLM gateway: keyed access, cached replies, usage accounting",
		Version: version,
		// Bare `gateway` behaves like `gateway serve`.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newCreateUserCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Build the structured logger. All subsystems share this instance.
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return err
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("gateway stopped", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func newCreateUserCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account without going through the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Database.URL, cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			user := &store.User{Email: email, PasswordHash: hash}
			if err := st.Users.Create(cmd.Context(), user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.ID, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email address")
	cmd.Flags().StringVar(&password, "password", "", "account password (min 8 characters)")

	return cmd
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug, // include file:line only in debug mode
	}))
}
