package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/config"
	"github.com/clipflow/clipflow/internal/db"
	"github.com/clipflow/clipflow/internal/history"
	"github.com/clipflow/clipflow/internal/logging"
	"github.com/clipflow/clipflow/internal/session"
	"github.com/clipflow/clipflow/internal/upload"
)

// interactiveLogLevel keeps one-shot commands quiet unless asked otherwise.
const interactiveLogLevel = "warn"

type commandContext struct {
	configFlag   *string
	backendFlag  *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, backendFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		backendFlag:  backendFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if override := flagValue(c.backendFlag); override != "" {
			cfg.Backend.URL = strings.TrimRight(override, "/")
			if err := cfg.Validate(); err != nil {
				c.configErr = fmt.Errorf("--backend: %w", err)
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger builds the command's logger. Interactive commands log text to
// stderr; the daemon follows the configured level and format.
func (c *commandContext) logger(w io.Writer, daemon bool) *slog.Logger {
	level := interactiveLogLevel
	format := logging.FormatText
	if daemon && c.config != nil {
		level = c.config.Logging.Level
		format = c.config.Logging.Format
	}
	if override := flagValue(c.logLevelFlag); override != "" {
		level = override
	}
	return logging.NewLogger(level, format, w)
}

func (c *commandContext) backendClient(logger *slog.Logger) (*backend.HTTPClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return backend.NewHTTPClient(backend.Options{
		BaseURL:     cfg.Backend.URL,
		ClipsPath:   cfg.Backend.ClipsPath,
		ProcessPath: cfg.Backend.ProcessPath,
		Timeout:     cfg.HTTPTimeout(),
	}, logger), nil
}

// openHistory opens the journal database. The returned close function is
// always safe to call.
func (c *commandContext) openHistory(logger *slog.Logger) (*history.SQLiteRepository, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, func() {}, err
	}
	database, err := db.Open(cfg.DBPath(), logger)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open history: %w", err)
	}
	return history.NewRepository(database.Conn()), func() { _ = database.Close() }, nil
}

// openSession opens a session against the configured backend. Jobs and
// batches are journaled when the history database is available.
func (c *commandContext) openSession(cmd *cobra.Command, logger *slog.Logger, repo *history.SQLiteRepository) (*session.Session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := c.backendClient(logger)
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Client: client,
		Sync:   !cfg.Streamed(),
		Limits: upload.Limits{
			MaxFileBytes:      cfg.Upload.MaxFileBytes,
			AllowedExtensions: cfg.Upload.AllowedExtensions,
		},
		Logger: logger,
	}
	if repo != nil {
		opts.JobRecorder = repo
		opts.BatchRecorder = repo
	}
	return session.Open(cmd.Context(), opts)
}

// withSession runs fn against a journaled session and closes everything
// afterwards.
func (c *commandContext) withSession(cmd *cobra.Command, fn func(*session.Session) error) error {
	logger := c.logger(cmd.ErrOrStderr(), false)

	repo, closeHistory, err := c.openHistory(logger)
	if err != nil {
		logger.Warn("history unavailable, continuing without a journal", "error", err)
		repo = nil
	}
	defer closeHistory()

	s, err := c.openSession(cmd, logger, repo)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func (c *commandContext) withClient(cmd *cobra.Command, fn func(*backend.HTTPClient) error) error {
	client, err := c.backendClient(c.logger(cmd.ErrOrStderr(), false))
	if err != nil {
		return err
	}
	return fn(client)
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
