package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/logging"
)

const recordTimeout = 5 * time.Second

// Recorder journals job transitions.
type Recorder interface {
	RecordJob(ctx context.Context, job Job) error
}

// Options configures an Orchestrator.
type Options struct {
	Recorder Recorder
}

// Orchestrator owns the one processing job. Every transition happens under
// mu, and streamed events are applied by a single pump goroutine in receipt
// order, so observers see a total order of job states.
type Orchestrator struct {
	source Source
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	job            Job
	expectedOutput string
	jobCancel      context.CancelFunc
	done           chan struct{}
	doneClosed     bool
	closed         bool
	subs           map[int]func(Job)
	nextSub        int

	// pending holds committed snapshots not yet delivered. One goroutine
	// at a time drains it, outside mu, so observers and the recorder see
	// transitions in commit order and may read the job while doing so.
	pending  []notification
	draining bool
}

type notification struct {
	job      Job
	finished chan struct{}
}

// NewOrchestrator returns an idle orchestrator that starts jobs through
// source. A nil logger discards.
func NewOrchestrator(source Source, opts Options, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		source: source,
		opts:   opts,
		logger: logging.WithComponent(logging.OrDiscard(logger), "processing"),
		ctx:    ctx,
		cancel: cancel,
		job:    Job{Status: StatusIdle},
		subs:   make(map[int]func(Job)),
	}
}

// Start requests a concatenation of clipIDs. Fewer than MinClips ids fail
// with ErrInsufficientClips and an active job with ErrJobAlreadyActive;
// neither touches the network or the current job. For a streamed source
// Start returns once the backend accepted the job; for a synchronous one
// it returns with the final outcome.
func (o *Orchestrator) Start(ctx context.Context, clipIDs []string, opts StartOptions) (Job, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Job{}, ErrClosed
	}
	if o.job.Status.Active() {
		snap := o.job.clone()
		o.mu.Unlock()
		return snap, ErrJobAlreadyActive
	}
	if o.job.Status.Terminal() {
		snap := o.job.clone()
		o.mu.Unlock()
		return snap, ErrResetRequired
	}
	if len(clipIDs) < MinClips {
		snap := o.job.clone()
		o.mu.Unlock()
		return snap, fmt.Errorf("%w: have %d", ErrInsufficientClips, len(clipIDs))
	}

	jobCtx, jobCancel := context.WithCancel(o.ctx)
	now := time.Now()
	o.job = Job{
		ID:              uuid.NewString(),
		Status:          StatusStarting,
		ClipIDs:         append([]string(nil), clipIDs...),
		RequestedOutput: NormalizeOutputFilename(opts.OutputFilename),
		StartedAt:       now,
		UpdatedAt:       now,
	}
	o.expectedOutput = ""
	o.jobCancel = jobCancel
	o.done = make(chan struct{})
	o.doneClosed = false
	id := o.job.ID
	req := backend.ConcatRequest{
		ClipIDs:        o.job.ClipIDs,
		OutputFilename: o.job.RequestedOutput,
		JobID:          id,
	}
	log := logging.WithJobID(o.logger, id)
	log.Info("starting concatenation", "clips", len(clipIDs), "output", req.OutputFilename)
	o.commitLocked()

	stop := context.AfterFunc(ctx, jobCancel)
	ticket, err := o.source.Begin(jobCtx, req)
	stop()

	o.mu.Lock()
	if o.closed || o.job.ID != id {
		o.mu.Unlock()
		if ticket != nil && ticket.Stream != nil {
			ticket.Stream.Close()
		}
		jobCancel()
		return Job{}, ErrClosed
	}
	if err != nil {
		o.job.Status = StatusError
		o.job.ErrorDetail = backend.Reason(err)
		o.finishLocked()
		snap := o.job.clone()
		log.Warn("concatenation rejected", "error", err)
		o.commitLocked()
		return snap, fmt.Errorf("start concatenation: %w", err)
	}

	o.expectedOutput = ticket.OutputFilename
	if ticket.Result != nil {
		o.applyLocked(*ticket.Result)
		snap := o.job.clone()
		log.Info("concatenation finished", "status", snap.Status, "output", snap.OutputFilename)
		o.commitLocked()
		return snap, nil
	}

	o.job.Status = StatusRunning
	o.job.Progress = 0
	o.job.Message = ticket.Message
	o.job.UpdatedAt = time.Now()
	snap := o.job.clone()
	o.wg.Add(1)
	go o.pump(jobCtx, id, ticket.Stream, jobCancel)
	log.Info("concatenation accepted")
	o.commitLocked()
	return snap, nil
}

// pump applies the events of one job until it is terminal or the stream
// ends. The stream is closed as soon as the job context is done.
func (o *Orchestrator) pump(ctx context.Context, jobID string, stream backend.ProgressSubscription, cancel context.CancelFunc) {
	defer o.wg.Done()
	defer cancel()
	defer stream.Close()
	stopClose := context.AfterFunc(ctx, func() { stream.Close() })
	defer stopClose()

	log := logging.WithJobID(o.logger, jobID)
	for {
		ev, err := stream.Next()
		if err != nil {
			if backend.IsClosed(err) {
				o.streamEnded(jobID, err)
				return
			}
			log.Warn("skipping unreadable progress event", "error", err)
			continue
		}
		if finished := o.apply(jobID, ev); finished {
			return
		}
	}
}

// apply feeds one streamed event to the job and reports whether the job no
// longer accepts events.
func (o *Orchestrator) apply(jobID string, ev backend.ProgressEvent) bool {
	o.mu.Lock()
	if o.closed || o.job.ID != jobID || o.job.Status != StatusRunning {
		o.mu.Unlock()
		return true
	}
	if ev.JobID != "" && ev.JobID != jobID {
		o.mu.Unlock()
		logging.WithJobID(o.logger, jobID).Debug("dropping event of another job", "event_job_id", ev.JobID)
		return false
	}
	if recorded := o.job.Progress; !ev.Terminal() && ev.Percent() < recorded {
		o.mu.Unlock()
		logging.WithJobID(o.logger, jobID).Debug("dropping stale progress",
			"progress", ev.Percent(),
			"recorded", recorded,
		)
		return false
	}
	o.applyLocked(ev)
	finished := o.job.Status.Terminal()
	if finished {
		logging.WithJobID(o.logger, jobID).Info("concatenation finished",
			"status", o.job.Status,
			"output", o.job.OutputFilename,
			"error_detail", o.job.ErrorDetail,
		)
	}
	o.commitLocked()
	return finished
}

func (o *Orchestrator) applyLocked(ev backend.ProgressEvent) {
	o.job.Stage = ev.Stage
	o.job.Message = ev.Message
	o.job.UpdatedAt = time.Now()
	switch ev.Stage {
	case backend.StageComplete:
		o.job.Status = StatusComplete
		o.job.Progress = 100
		o.job.OutputFilename = firstNonEmpty(ev.OutputFilename, o.expectedOutput, o.job.RequestedOutput)
		o.job.FileSize = ev.FileSize
		o.finishLocked()
	case backend.StageError:
		o.job.Status = StatusError
		o.job.ErrorDetail = firstNonEmpty(ev.Message, "processing failed")
		o.finishLocked()
	default:
		o.job.Progress = ev.Percent()
	}
}

func (o *Orchestrator) streamEnded(jobID string, err error) {
	o.mu.Lock()
	if o.closed || o.job.ID != jobID || o.job.Status != StatusRunning {
		o.mu.Unlock()
		return
	}
	o.job.Status = StatusError
	o.job.ErrorDetail = StreamClosedDetail
	o.job.UpdatedAt = time.Now()
	o.finishLocked()
	logging.WithJobID(o.logger, jobID).Warn("progress stream ended early", "error", err)
	o.commitLocked()
}

// finishLocked releases the job context. Waiters are released by
// commitLocked once observers have seen the terminal state.
func (o *Orchestrator) finishLocked() {
	if o.jobCancel != nil {
		o.jobCancel()
		o.jobCancel = nil
	}
}

// Reset returns a finished job to idle. It fails with ErrJobActive while a
// job is starting or running and does nothing when already idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.job.Status.Active():
		o.mu.Unlock()
		return ErrJobActive
	case o.job.Status == StatusIdle:
		o.mu.Unlock()
		return nil
	}
	o.logger.Info("job reset", "job_id", o.job.ID, "from", o.job.Status)
	o.job = Job{Status: StatusIdle}
	o.expectedOutput = ""
	o.done = nil
	o.doneClosed = false
	o.commitLocked()
	return nil
}

// Job returns a snapshot of the current job.
func (o *Orchestrator) Job() Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.clone()
}

// Wait blocks until the current job is terminal. It returns immediately when
// no job was started.
func (o *Orchestrator) Wait(ctx context.Context) (Job, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return o.Job(), nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return o.Job(), ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed && !o.job.Status.Terminal() {
		return o.job.clone(), ErrClosed
	}
	return o.job.clone(), nil
}

// Subscribe registers fn for every job change and returns a function that
// removes it. fn may read the job; it must not call Start, Reset or Close.
func (o *Orchestrator) Subscribe(fn func(Job)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Close abandons the current job without notifying the backend and stops
// the progress pump. Later calls return ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.job.Status.Active() && o.done != nil && !o.doneClosed {
		close(o.done)
		o.doneClosed = true
	}
	if o.job.Status.Active() {
		o.logger.Info("abandoning active job", "job_id", o.job.ID, "status", o.job.Status)
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

// commitLocked queues the current job for observers and the recorder and
// releases mu. If no other goroutine is delivering, the caller drains the
// queue before returning.
func (o *Orchestrator) commitLocked() {
	n := notification{job: o.job.clone()}
	if n.job.Status.Terminal() && o.done != nil && !o.doneClosed {
		n.finished = o.done
		o.doneClosed = true
	}
	o.pending = append(o.pending, n)
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	for len(o.pending) > 0 {
		next := o.pending[0]
		o.pending[0] = notification{}
		o.pending = o.pending[1:]
		subs := make([]func(Job), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
		o.mu.Unlock()

		o.deliver(next, subs)

		o.mu.Lock()
	}
	o.pending = nil
	o.draining = false
	o.mu.Unlock()
}

func (o *Orchestrator) deliver(n notification, subs []func(Job)) {
	if o.opts.Recorder != nil && n.job.ID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := o.opts.Recorder.RecordJob(ctx, n.job); err != nil {
			o.logger.Warn("failed to record job", "job_id", n.job.ID, "error", err)
		}
		cancel()
	}
	for _, fn := range subs {
		o.safeCall(fn, n.job)
	}
	if n.finished != nil {
		close(n.finished)
	}
}

func (o *Orchestrator) safeCall(fn func(Job), job Job) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job observer panicked", "panic", r)
		}
	}()
	fn(job)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
