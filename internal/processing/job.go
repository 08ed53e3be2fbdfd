// Package processing drives a concatenation job from the start request to a
// terminal state, feeding it from either a streamed or a synchronous
// backend.
package processing

import (
	"errors"
	"strings"
	"time"
)

// MinClips is the smallest clip count a concatenation accepts.
const MinClips = 2

var (
	ErrInsufficientClips = errors.New("at least 2 clips are required for concatenation")
	ErrJobAlreadyActive  = errors.New("a concatenation job is already active")
	ErrResetRequired     = errors.New("previous job finished; reset before starting another")
	ErrJobActive         = errors.New("cannot reset while a job is active")
	ErrClosed            = errors.New("orchestrator closed")
	ErrNotAccepted       = errors.New("backend did not accept the job")
)

// Status is the job lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Active reports whether a job is starting or running.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// Terminal reports whether the job finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// StreamClosedDetail is the error detail of a job whose progress stream
// ended without a terminal event.
const StreamClosedDetail = "progress stream closed before the job finished"

// Job is a snapshot of the single processing job. OutputFilename is set only
// when complete; ErrorDetail only on error.
type Job struct {
	ID              string    `json:"id,omitempty"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	Stage           string    `json:"stage,omitempty"`
	Message         string    `json:"message,omitempty"`
	ClipIDs         []string  `json:"clip_ids,omitempty"`
	RequestedOutput string    `json:"requested_output,omitempty"`
	OutputFilename  string    `json:"output_filename,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

func (j Job) clone() Job {
	if j.ClipIDs != nil {
		j.ClipIDs = append([]string(nil), j.ClipIDs...)
	}
	return j
}

// StartOptions are optional parameters of a concatenation.
type StartOptions struct {
	OutputFilename string
}

// NormalizeOutputFilename trims name and appends ".mp4" when missing, the
// same rule the backend applies, so the recorded name matches the file.
func NormalizeOutputFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, ".mp4") {
		name += ".mp4"
	}
	return name
}
