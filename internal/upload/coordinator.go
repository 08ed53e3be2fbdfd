// Package upload sends batches of local video files to the backend one at a
// time and refreshes the clip registry once per batch.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/logging"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
)

// refreshTimeout bounds the closing refresh of a batch whose context was
// cancelled.
const refreshTimeout = 30 * time.Second

// Uploader sends one file.
type Uploader interface {
	UploadClip(ctx context.Context, filename string, r io.Reader) (*backend.Clip, error)
}

// Refresher reloads the clip set after a batch.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Recorder journals finished batches.
type Recorder interface {
	RecordBatch(ctx context.Context, batch *BatchResult) error
}

// Limits are checked locally before a file is sent. Zero values disable the
// corresponding check.
type Limits struct {
	MaxFileBytes      int64
	AllowedExtensions []string
}

// Progress describes the batch currently being uploaded.
type Progress struct {
	BatchID string `json:"batch_id"`
	File    string `json:"file"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Failed  int    `json:"failed"`
}

// Options configures a Coordinator.
type Options struct {
	Limits   Limits
	Recorder Recorder
	// OnProgress is called after each file and once more after the refresh.
	OnProgress func(Progress)
}

// FileResult is the outcome of one file. Exactly one of Clip and Err is set.
type FileResult struct {
	File string        `json:"file"`
	Clip *backend.Clip `json:"clip,omitempty"`
	Err  error         `json:"-"`
}

func (r FileResult) OK() bool {
	return r.Err == nil
}

// BatchResult is the outcome of one UploadBatch call.
type BatchResult struct {
	ID         string
	Files      []FileResult
	RefreshErr error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (b *BatchResult) Succeeded() int {
	n := 0
	for _, f := range b.Files {
		if f.OK() {
			n++
		}
	}
	return n
}

func (b *BatchResult) Failed() int {
	return len(b.Files) - b.Succeeded()
}

// Failures returns the failed files in batch order.
func (b *BatchResult) Failures() []FileResult {
	var out []FileResult
	for _, f := range b.Files {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// Coordinator runs upload batches strictly one after another in arrival
// order.
type Coordinator struct {
	uploader  Uploader
	refresher Refresher
	opts      Options
	allowed   map[string]bool
	logger    *slog.Logger

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
	current *Progress
}

func NewCoordinator(uploader Uploader, refresher Refresher, opts Options, logger *slog.Logger) *Coordinator {
	allowed := make(map[string]bool, len(opts.Limits.AllowedExtensions))
	for _, ext := range opts.Limits.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Coordinator{
		uploader:  uploader,
		refresher: refresher,
		opts:      opts,
		allowed:   allowed,
		logger:    logging.WithComponent(logging.OrDiscard(logger), "upload"),
	}
}

// UploadBatch uploads files in order, records each failure without stopping,
// then refreshes the registry exactly once. The returned error is non-nil
// only when the batch never ran because ctx ended while it was queued.
func (c *Coordinator) UploadBatch(ctx context.Context, files []string) (*BatchResult, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, fmt.Errorf("upload batch not started: %w", err)
	}
	defer c.release()

	batch := &BatchResult{
		ID:        uuid.NewString(),
		Files:     make([]FileResult, 0, len(files)),
		StartedAt: time.Now(),
	}
	log := logging.WithBatchID(c.logger, batch.ID)
	log.Info("upload batch started", "files", len(files))

	progress := Progress{BatchID: batch.ID, Total: len(files)}
	c.setCurrent(&progress)

	for _, path := range files {
		var res FileResult
		if err := ctx.Err(); err != nil {
			res = FileResult{File: path, Err: err}
		} else {
			res = c.uploadOne(ctx, path)
		}
		batch.Files = append(batch.Files, res)

		progress.File = path
		progress.Done++
		if !res.OK() {
			progress.Failed++
			log.Warn("file upload failed",
				"file", logging.SanitizePath(path),
				"error", res.Err,
			)
		} else {
			log.Info("file uploaded",
				"file", logging.SanitizePath(path),
				"clip_id", res.Clip.ID,
			)
		}
		c.setCurrent(&progress)
	}

	refreshCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
	}
	if err := c.refresher.Refresh(refreshCtx); err != nil {
		batch.RefreshErr = err
		log.Warn("refresh after upload batch failed", "error", err)
	}
	batch.FinishedAt = time.Now()

	log.Info("upload batch finished",
		"succeeded", batch.Succeeded(),
		"failed", batch.Failed(),
		"duration_ms", batch.FinishedAt.Sub(batch.StartedAt).Milliseconds(),
	)

	if c.opts.Recorder != nil {
		if err := c.opts.Recorder.RecordBatch(context.WithoutCancel(ctx), batch); err != nil {
			log.Warn("failed to record upload batch", "error", err)
		}
	}
	c.setCurrent(nil)
	c.notify(progress)
	return batch, nil
}

func (c *Coordinator) uploadOne(ctx context.Context, path string) FileResult {
	res := FileResult{File: path}

	info, err := os.Stat(path)
	if err != nil {
		res.Err = fmt.Errorf("stat %s: %w", path, err)
		return res
	}
	if info.IsDir() {
		res.Err = fmt.Errorf("%w: %s is a directory", ErrUnsupportedFile, path)
		return res
	}
	ext := strings.ToLower(filepath.Ext(path))
	if len(c.allowed) > 0 && !c.allowed[ext] {
		res.Err = fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
		return res
	}
	if limit := c.opts.Limits.MaxFileBytes; limit > 0 && info.Size() > limit {
		res.Err = fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), limit)
		return res
	}

	f, err := os.Open(path)
	if err != nil {
		res.Err = fmt.Errorf("open %s: %w", path, err)
		return res
	}
	defer f.Close()

	clip, err := c.uploader.UploadClip(ctx, filepath.Base(path), f)
	if err != nil {
		res.Err = err
		return res
	}
	res.Clip = clip
	return res
}

// Current returns the progress of the running batch, nil when idle.
func (c *Coordinator) Current() *Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	p := *c.current
	return &p
}

// Queued is the number of batches waiting behind the running one.
func (c *Coordinator) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Coordinator) setCurrent(p *Progress) {
	c.mu.Lock()
	if p == nil {
		c.current = nil
	} else {
		cp := *p
		c.current = &cp
	}
	c.mu.Unlock()
	if p != nil {
		c.notify(*p)
	}
}

func (c *Coordinator) notify(p Progress) {
	if c.opts.OnProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("upload progress observer panicked", "panic", r)
		}
	}()
	c.opts.OnProgress(p)
}

// acquire waits for the batch's turn. Waiters are served first come first
// served.
func (c *Coordinator) acquire(ctx context.Context) error {
	c.mu.Lock()
	if !c.busy {
		c.busy = true
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range c.waiters {
			if w == ch {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				c.mu.Unlock()
				return ctx.Err()
			}
		}
		c.mu.Unlock()
		// The turn was handed over concurrently; pass it on.
		c.release()
		return ctx.Err()
	}
}

func (c *Coordinator) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		c.busy = false
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(next)
}
