package api

import (
	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/history"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type ClipsResponse struct {
	Clips []backend.Clip `json:"clips"`
	Count int            `json:"count"`
}

type UploadRequest struct {
	Paths []string `json:"paths"`
}

type UploadFileResponse struct {
	Path   string `json:"path"`
	ClipID string `json:"clip_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type UploadResponse struct {
	BatchID      string               `json:"batch_id"`
	Succeeded    int                  `json:"succeeded"`
	Failed       int                  `json:"failed"`
	Files        []UploadFileResponse `json:"files"`
	RefreshError string               `json:"refresh_error,omitempty"`
}

type StartJobRequest struct {
	ClipIDs        []string `json:"clip_ids,omitempty"`
	OutputFilename string   `json:"output_filename,omitempty"`
}

type JobsResponse struct {
	Jobs []processing.Job `json:"jobs"`
}

type BatchesResponse struct {
	Batches []history.Batch `json:"batches"`
}

type OutputsResponse struct {
	Outputs []backend.Output `json:"outputs"`
	Count   int              `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func BatchToResponse(b *upload.BatchResult) UploadResponse {
	resp := UploadResponse{
		BatchID:   b.ID,
		Succeeded: b.Succeeded(),
		Failed:    b.Failed(),
		Files:     make([]UploadFileResponse, len(b.Files)),
	}
	for i, f := range b.Files {
		resp.Files[i] = UploadFileResponse{Path: f.File}
		if f.Clip != nil {
			resp.Files[i].ClipID = f.Clip.ID
		}
		if f.Err != nil {
			resp.Files[i].Error = backend.Reason(f.Err)
		}
	}
	if b.RefreshErr != nil {
		resp.RefreshError = backend.Reason(b.RefreshErr)
	}
	return resp
}
