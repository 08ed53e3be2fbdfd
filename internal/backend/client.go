// Package backend talks to the ClipFlow media backend: the clip store
// endpoints, the two concatenate variants and the progress WebSocket.
package backend

import (
	"context"
	"io"
)

// ClipStore is the subset of the backend the clip registry and the upload
// coordinator need.
type ClipStore interface {
	ListClips(ctx context.Context) ([]Clip, error)
	UploadClip(ctx context.Context, filename string, r io.Reader) (*Clip, error)
	DeleteClip(ctx context.Context, id string) error
}

// Processor starts concatenation jobs. Concatenate is the synchronous
// variant; StartConcatenation plus SubscribeProgress is the streamed one.
type Processor interface {
	Concatenate(ctx context.Context, req ConcatRequest) (*ConcatResult, error)
	StartConcatenation(ctx context.Context, req ConcatRequest) (*ConcatAck, error)
	SubscribeProgress(ctx context.Context, jobID string) (ProgressSubscription, error)
}

// ProgressSubscription yields progress events until the stream ends.
// Next returns io.EOF when the server closed the stream cleanly.
type ProgressSubscription interface {
	Next() (ProgressEvent, error)
	Close() error
}

// Client is the full backend surface used by the CLI and the local API.
type Client interface {
	ClipStore
	Processor
	ListOutputs(ctx context.Context) ([]Output, error)
	DownloadOutput(ctx context.Context, filename string, w io.Writer) (int64, error)
	Health(ctx context.Context) (*Health, error)
}
