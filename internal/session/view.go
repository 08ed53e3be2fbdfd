package session

import (
	"fmt"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

// ViewState is everything a front end needs to render the session. It is a
// pure function of component state and holds no behavior.
type ViewState struct {
	Clips          []backend.Clip   `json:"clips"`
	ClipCount      int              `json:"clip_count"`
	CanConcatenate bool             `json:"can_concatenate"`
	Upload         *upload.Progress `json:"upload,omitempty"`
	QueuedBatches  int              `json:"queued_batches"`
	Job            processing.Job   `json:"job"`
	ProgressLabel  string           `json:"progress_label"`
	LastError      string           `json:"last_error,omitempty"`
	RefreshedAt    time.Time        `json:"refreshed_at,omitzero"`
}

// Inputs are the component snapshots a ViewState is derived from.
type Inputs struct {
	Clips         []backend.Clip
	Upload        *upload.Progress
	QueuedBatches int
	Job           processing.Job
	LastError     string
	RefreshedAt   time.Time
}

// Project derives the view state.
func Project(in Inputs) ViewState {
	clips := in.Clips
	if clips == nil {
		clips = []backend.Clip{}
	}
	return ViewState{
		Clips:          clips,
		ClipCount:      len(clips),
		CanConcatenate: len(clips) >= processing.MinClips && in.Job.Status == processing.StatusIdle,
		Upload:         in.Upload,
		QueuedBatches:  in.QueuedBatches,
		Job:            in.Job,
		ProgressLabel:  ProgressLabel(in.Job),
		LastError:      in.LastError,
		RefreshedAt:    in.RefreshedAt,
	}
}

// ProgressLabel renders a one-line description of the job.
func ProgressLabel(j processing.Job) string {
	switch j.Status {
	case processing.StatusStarting:
		return "starting"
	case processing.StatusRunning:
		stage := j.Stage
		if stage == "" {
			stage = "processing"
		}
		if j.Message != "" {
			return fmt.Sprintf("%s %d%%: %s", stage, j.Progress, j.Message)
		}
		return fmt.Sprintf("%s %d%%", stage, j.Progress)
	case processing.StatusComplete:
		return "complete: " + j.OutputFilename
	case processing.StatusError:
		return "error: " + j.ErrorDetail
	default:
		return ""
	}
}
