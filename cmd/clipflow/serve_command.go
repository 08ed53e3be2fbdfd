package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/api"
	"github.com/clipflow/clipflow/internal/history"
	"github.com/clipflow/clipflow/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		Long: "Run the local control API on 127.0.0.1. Browser front-ends drive the " +
			"session through it and follow progress over its WebSocket feed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.API.Port = port
			}
			return runServe(cmd, ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides api.port)")
	return cmd
}

func runServe(cmd *cobra.Command, ctx *commandContext) error {
	startTime := time.Now()
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := ctx.logger(cmd.ErrOrStderr(), true)
	logger.Info("starting clipflow", "version", Version, "data_dir", cfg.DataDir(), "backend", cfg.Backend.URL)

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("clipflow serve is already running (lock %s)", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	repo, closeHistory, err := ctx.openHistory(logger)
	defer closeHistory()
	if err != nil {
		return err
	}

	token := cfg.API.Token
	if token == "" {
		token, err = history.EnsureAPIToken(cmd.Context(), repo)
		if err != nil {
			return fmt.Errorf("failed to ensure api token: %w", err)
		}
	}

	s, err := ctx.openSession(cmd, logging.WithComponent(logger, "session"), repo)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.Close()

	api.Version = Version
	server := api.NewServer(api.ServerConfig{
		Port:      cfg.API.Port,
		Session:   s,
		History:   repo,
		Token:     token,
		Logger:    logging.WithComponent(logger, "api"),
		StartTime: startTime,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ClipFlow %s\n", Version)
	fmt.Fprintf(out, "  API URL:    http://%s\n", server.Addr())
	fmt.Fprintf(out, "  Auth Token: %s\n", token)
	fmt.Fprintf(out, "  Backend:    %s (%s)\n", cfg.Backend.URL, cfg.Backend.Variant)
	fmt.Fprintln(out)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	select {
	case <-cmd.Context().Done():
		logger.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
