package processing

import (
	"context"
	"fmt"

	"github.com/clipflow/clipflow/internal/backend"
)

// Ticket is what a Source hands back once the backend took the request.
// Exactly one of Result and Stream is set.
type Ticket struct {
	// Result is the terminal outcome when the backend answered synchronously.
	Result *backend.ProgressEvent
	// Stream delivers progress until a terminal event.
	Stream backend.ProgressSubscription
	// Message and OutputFilename echo the acknowledgement.
	Message        string
	OutputFilename string
}

// Source starts a job on the backend. The orchestrator is written against
// this interface only.
type Source interface {
	Begin(ctx context.Context, req backend.ConcatRequest) (*Ticket, error)
}

type streamStarter interface {
	StartConcatenation(ctx context.Context, req backend.ConcatRequest) (*backend.ConcatAck, error)
	SubscribeProgress(ctx context.Context, jobID string) (backend.ProgressSubscription, error)
}

// StreamedSource subscribes to the progress channel and then posts the
// start request, so no event of the job can be missed.
type StreamedSource struct {
	backend streamStarter
}

func NewStreamedSource(b streamStarter) *StreamedSource {
	return &StreamedSource{backend: b}
}

func (s *StreamedSource) Begin(ctx context.Context, req backend.ConcatRequest) (*Ticket, error) {
	sub, err := s.backend.SubscribeProgress(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to progress: %w", err)
	}
	ack, err := s.backend.StartConcatenation(ctx, req)
	if err != nil {
		sub.Close()
		return nil, err
	}
	if !ack.Success {
		sub.Close()
		if ack.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotAccepted, ack.Message)
		}
		return nil, ErrNotAccepted
	}
	return &Ticket{
		Stream:         sub,
		Message:        ack.Message,
		OutputFilename: ack.OutputFilename,
	}, nil
}

type concatenator interface {
	Concatenate(ctx context.Context, req backend.ConcatRequest) (*backend.ConcatResult, error)
}

// SyncSource waits for the concatenate response, which is itself the
// terminal outcome.
type SyncSource struct {
	backend concatenator
}

func NewSyncSource(b concatenator) *SyncSource {
	return &SyncSource{backend: b}
}

func (s *SyncSource) Begin(ctx context.Context, req backend.ConcatRequest) (*Ticket, error) {
	res, err := s.backend.Concatenate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Ticket{
		Result: &backend.ProgressEvent{
			JobID:          req.JobID,
			Stage:          backend.StageComplete,
			Progress:       100,
			Message:        res.Message,
			OutputFilename: res.OutputFilename,
		},
		Message:        res.Message,
		OutputFilename: res.OutputFilename,
	}, nil
}
