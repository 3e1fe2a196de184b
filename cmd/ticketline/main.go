// Package main provides the ticketline agent binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ticketline/cmd/internal/app"
	authapi "ticketline/cmd/internal/auth/api"
	"ticketline/cmd/internal/auth/state"
)

const appName = "ticketline"

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Local session agent for the booking web UI",
		Long: `ticketline keeps the booking session alive for the web UI.

It restores the session once at startup, renews the access token before it
expires, persists the safe subset of auth state and serves it over HTTP and
a WebSocket stream.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.LoadDotEnv(); err != nil {
				return err
			}
			if configPath != "" {
				return os.Setenv("TICKETLINE_CONFIG_FILE", configPath)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(serveCmd(), statusCmd(), logoutCmd(), versionCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent until interrupted",
		RunE: func(*cobra.Command, []string) error {
			return app.Run()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted auth state (no network)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadQuiet()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			store, backends, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			if err := store.Hydrate(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			out := struct {
				state.Public
				Storage string `json:"storage"`
			}{Public: store.Snapshot().Public(), Storage: cfg.Storage}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func logoutCmd() *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted auth state and renewal credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadQuiet()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			backends, err := app.OpenBackends(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer backends.Close()

			if revoke {
				sealer, err := app.NewSealerFromEnv(cfg, log)
				if err != nil {
					return err
				}
				client, err := authapi.NewClient(log, cfg.Backend, authapi.WithCredentialStorage(backends.Credentials, sealer))
				if err != nil {
					return err
				}
				if err := client.RevokeRenewalCredential(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: revoke failed: %v\n", err)
				}
			}

			if err := backends.Snapshot.Clear(ctx); err != nil {
				return fmt.Errorf("clear state: %w", err)
			}
			if err := backends.Credentials.Clear(ctx); err != nil {
				return fmt.Errorf("clear credentials: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Also revoke the renewal credential at the backend")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// loadQuiet loads config with a stderr logger so command output stays clean.
func loadQuiet() (app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, nil, err
	}
	var w io.Writer = os.Stderr
	if cfg.LogLevel != "debug" {
		w = io.Discard
	}
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg app.Config, log *slog.Logger) (*state.Store, *app.Backends, error) {
	sealer, err := app.NewSealerFromEnv(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	backends, err := app.OpenBackends(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return app.NewStore(log, backends, sealer), backends, nil
}
