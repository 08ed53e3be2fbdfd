// Package session wires the clip registry, the upload coordinator and the
// processing orchestrator into one explicit context. Several sessions can
// coexist; nothing here is global.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/clips"
	"github.com/clipflow/clipflow/internal/logging"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

// ErrClosed is returned by operations on a session after Close.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	Client backend.Client
	// Sync selects the synchronous result source: the concatenate response
	// is the final outcome and no progress stream is opened.
	Sync          bool
	Limits        upload.Limits
	JobRecorder   processing.Recorder
	BatchRecorder upload.Recorder
	Logger        *slog.Logger
}

// ConcatOptions selects the clips of a job. Nil ClipIDs means every clip
// in the registry, in registry order.
type ConcatOptions struct {
	ClipIDs        []string
	OutputFilename string
}

// Session ties the clip registry, uploads and the processing job to one
// backend client and publishes a combined view to subscribers.
type Session struct {
	client   backend.Client
	registry *clips.Registry
	uploads  *upload.Coordinator
	jobs     *processing.Orchestrator
	logger   *slog.Logger

	unsubscribeJobs func()

	mu      sync.Mutex
	lastErr string
	closed  bool
	subs    map[int]func(ViewState)
	nextSub int

	notifyMu sync.Mutex
}

// Open builds the components and performs the initial refresh. A failed
// refresh does not fail Open; it shows up as the view's last error.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("session: backend client is required")
	}
	logger := logging.WithComponent(logging.OrDiscard(opts.Logger), "session")

	s := &Session{
		client: opts.Client,
		logger: logger,
		subs:   make(map[int]func(ViewState)),
	}
	s.registry = clips.NewRegistry(opts.Client, opts.Logger)
	s.uploads = upload.NewCoordinator(opts.Client, s.registry, upload.Options{
		Limits:     opts.Limits,
		Recorder:   opts.BatchRecorder,
		OnProgress: func(upload.Progress) { s.publish() },
	}, opts.Logger)

	var source processing.Source = processing.NewStreamedSource(opts.Client)
	if opts.Sync {
		source = processing.NewSyncSource(opts.Client)
	}
	s.jobs = processing.NewOrchestrator(source, processing.Options{Recorder: opts.JobRecorder}, opts.Logger)
	s.unsubscribeJobs = s.jobs.Subscribe(func(j processing.Job) {
		if j.Status == processing.StatusError {
			s.setLastError(j.ErrorDetail)
		}
		s.publish()
	})

	if err := s.registry.Refresh(ctx); err != nil {
		logger.Warn("initial clip refresh failed", "error", err)
		s.setLastError(backend.Reason(err))
	}
	return s, nil
}

// Backend returns the client the session talks to.
func (s *Session) Backend() backend.Client {
	return s.client
}

// Refresh reloads the clip set from the backend.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.registry.Refresh(ctx)
	s.noteResult(err)
	s.publish()
	return err
}

// Remove deletes a clip and refreshes. A NotFound error means the clip was
// already gone; the registry is refreshed either way.
func (s *Session) Remove(ctx context.Context, clipID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.registry.Remove(ctx, clipID)
	s.noteResult(err)
	s.publish()
	return err
}

// Upload runs one batch. Per-file failures are in the result; the error is
// only set when the batch never started.
func (s *Session) Upload(ctx context.Context, files []string) (*upload.BatchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	res, err := s.uploads.UploadBatch(ctx, files)
	switch {
	case err != nil:
		s.noteResult(err)
	case res.RefreshErr != nil:
		s.noteResult(res.RefreshErr)
	case res.Failed() > 0:
		s.setLastError(fmt.Sprintf("%d of %d uploads failed", res.Failed(), len(res.Files)))
	default:
		s.setLastError("")
	}
	s.publish()
	return res, err
}

// Concatenate starts a job over the selected clips.
func (s *Session) Concatenate(ctx context.Context, opts ConcatOptions) (processing.Job, error) {
	if err := s.checkOpen(); err != nil {
		return processing.Job{}, err
	}
	ids := opts.ClipIDs
	if ids == nil {
		ids = s.registry.IDs()
	}
	job, err := s.jobs.Start(ctx, ids, processing.StartOptions{OutputFilename: opts.OutputFilename})
	if err != nil {
		s.noteResult(err)
		s.publish()
	}
	return job, err
}

// Reset returns a finished job to idle.
func (s *Session) Reset() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.jobs.Reset(); err != nil {
		return err
	}
	s.setLastError("")
	s.publish()
	return nil
}

// Wait blocks until the current job is terminal.
func (s *Session) Wait(ctx context.Context) (processing.Job, error) {
	return s.jobs.Wait(ctx)
}

func (s *Session) Job() processing.Job {
	return s.jobs.Job()
}

func (s *Session) Clips() []backend.Clip {
	return s.registry.Current()
}

// View projects the current state of every component.
func (s *Session) View() ViewState {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()
	return Project(Inputs{
		Clips:         s.registry.Current(),
		Upload:        s.uploads.Current(),
		QueuedBatches: s.uploads.Queued(),
		Job:           s.jobs.Job(),
		LastError:     lastErr,
		RefreshedAt:   s.registry.RefreshedAt(),
	})
}

// Subscribe registers fn to receive a fresh ViewState after every change.
// Calls are serialized; fn must not call back into the session's mutating
// methods.
func (s *Session) Subscribe(fn func(ViewState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close abandons the current job without notifying the backend and drops
// every subscriber.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[int]func(ViewState))
	s.mu.Unlock()

	s.unsubscribeJobs()
	return s.jobs.Close()
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) noteResult(err error) {
	if err == nil {
		s.setLastError("")
		return
	}
	s.setLastError(backend.Reason(err))
}

func (s *Session) setLastError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Session) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	subs := make([]func(ViewState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	view := s.View()
	for _, fn := range subs {
		s.safeCall(fn, view)
	}
}

func (s *Session) safeCall(fn func(ViewState), view ViewState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("view observer panicked", "panic", r)
		}
	}()
	fn(view)
}
