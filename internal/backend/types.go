package backend

import "math"

// Clip is one uploaded video as reported by GET /api/clips/.
// Metadata fields are nil when the backend could not extract them.
type Clip struct {
	ID         string   `json:"id"`
	Filename   string   `json:"filename"`
	FileSize   *int64   `json:"file_size,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	Width      *int     `json:"width,omitempty"`
	Height     *int     `json:"height,omitempty"`
	FPS        *float64 `json:"fps,omitempty"`
	FrameCount *int     `json:"frame_count,omitempty"`
	HasAudio   *bool    `json:"has_audio,omitempty"`
	Thumbnail  string   `json:"thumbnail,omitempty"`
}

// ClipList is the response body of GET /api/clips/.
type ClipList struct {
	Clips []Clip `json:"clips"`
}

// UploadResponse is the response body of POST /api/clips/upload.
type UploadResponse struct {
	Message string `json:"message"`
	Clip    *Clip  `json:"clip"`
}

// ConcatRequest is the body of both concatenate endpoints.
// JobID is only understood by streamed backends; others ignore it.
type ConcatRequest struct {
	ClipIDs        []string `json:"clip_ids"`
	OutputFilename string   `json:"output_filename,omitempty"`
	JobID          string   `json:"job_id,omitempty"`
}

// ConcatResult is the terminal answer of a synchronous backend.
type ConcatResult struct {
	Message        string `json:"message,omitempty"`
	OutputFilename string `json:"output_filename"`
	OutputPath     string `json:"output_path,omitempty"`
	HadAudio       bool   `json:"had_audio"`
	ClipsProcessed int    `json:"clips_processed"`
}

// ConcatAck is the acknowledgement of a streamed backend; the job runs on.
type ConcatAck struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	OutputFilename string `json:"output_filename,omitempty"`
	ClipCount      int    `json:"clip_count"`
	JobID          string `json:"job_id,omitempty"`
}

// Stage values that end a job. Every other stage is an opaque label.
const (
	StageComplete = "complete"
	StageError    = "error"
)

// ProgressEvent is one message on the progress WebSocket.
type ProgressEvent struct {
	JobID          string  `json:"job_id,omitempty"`
	Stage          string  `json:"stage"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message,omitempty"`
	OutputFilename string  `json:"output_filename,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`
}

// Terminal reports whether the event ends the job.
func (e ProgressEvent) Terminal() bool {
	return e.Stage == StageComplete || e.Stage == StageError
}

// Percent returns the progress rounded to the nearest integer and clamped to 0..100.
func (e ProgressEvent) Percent() int {
	if math.IsNaN(e.Progress) || e.Progress <= 0 {
		return 0
	}
	if e.Progress >= 100 {
		return 100
	}
	return int(math.Round(e.Progress))
}

// Output is one finished file listed by GET /api/process/outputs.
type Output struct {
	Filename string  `json:"filename"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// OutputList is the response body of GET /api/process/outputs.
type OutputList struct {
	Outputs []Output `json:"outputs"`
	Count   int      `json:"count"`
}

// Health is the response body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}
