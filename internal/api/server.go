package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/history"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/session"
	"github.com/clipflow/clipflow/internal/upload"
)

// Version is reported by /health.
var Version = "0.1.0"

// Session is the part of session.Session the API drives.
type Session interface {
	View() session.ViewState
	Clips() []backend.Clip
	Refresh(ctx context.Context) error
	Remove(ctx context.Context, clipID string) error
	Upload(ctx context.Context, files []string) (*upload.BatchResult, error)
	Concatenate(ctx context.Context, opts session.ConcatOptions) (processing.Job, error)
	Reset() error
	Subscribe(fn func(session.ViewState)) (unsubscribe func())
	Backend() backend.Client
}

var _ Session = (*session.Session)(nil)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	feeds      *feedHub
}

type ServerConfig struct {
	Port      int
	Session   Session
	History   history.Repository
	Token     string
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	hub := newFeedHub()
	router := newRouter(cfg, hub)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
		feeds:  hub,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every view feed and waits for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.feeds.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
