package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/db"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestRecordJob_UpsertsSnapshots(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := processing.Job{
		ID:              "job-1",
		Status:          processing.StatusStarting,
		ClipIDs:         []string{"clip_1", "clip_2"},
		RequestedOutput: "merged.mp4",
		StartedAt:       started,
		UpdatedAt:       started,
	}
	if err := repo.RecordJob(ctx, job); err != nil {
		t.Fatalf("RecordJob(starting) error = %v", err)
	}

	job.Status = processing.StatusComplete
	job.Progress = 100
	job.Stage = backend.StageComplete
	job.OutputFilename = "merged.mp4"
	job.FileSize = 4096
	job.UpdatedAt = started.Add(time.Minute)
	if err := repo.RecordJob(ctx, job); err != nil {
		t.Fatalf("RecordJob(complete) error = %v", err)
	}

	got, err := repo.GetJob(ctx, "job-1")
	if err != nil || got == nil {
		t.Fatalf("GetJob() = %v, %v", got, err)
	}
	if got.Status != processing.StatusComplete || got.Progress != 100 || got.OutputFilename != "merged.mp4" || got.FileSize != 4096 {
		t.Errorf("job = %+v", got)
	}
	if len(got.ClipIDs) != 2 || got.ClipIDs[1] != "clip_2" {
		t.Errorf("ClipIDs = %v", got.ClipIDs)
	}
	if !got.StartedAt.Equal(started) || !got.UpdatedAt.Equal(started.Add(time.Minute)) {
		t.Errorf("times = %v / %v", got.StartedAt, got.UpdatedAt)
	}

	jobs, err := repo.ListJobs(ctx, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs() = %v, %v", jobs, err)
	}
}

func TestGetJob_Unknown(t *testing.T) {
	repo := setupTestDB(t)
	got, err := repo.GetJob(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetJob(nope) = %v, %v; want nil, nil", got, err)
	}
}

func TestListJobs_NewestFirst(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		at := base.Add(time.Duration(i) * time.Hour)
		if err := repo.RecordJob(ctx, processing.Job{ID: id, Status: processing.StatusError, StartedAt: at, UpdatedAt: at}); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := repo.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].ID != "mid" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestRecordBatch(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	batch := &upload.BatchResult{
		ID: "batch-1",
		Files: []upload.FileResult{
			{File: "/videos/a.mp4", Clip: &backend.Clip{ID: "clip_1"}},
			{File: "/videos/b.mp4", Err: &backend.RejectedError{Op: "upload clip", StatusCode: 400, Detail: "invalid codec"}},
		},
		RefreshErr: errors.New("refresh clips: backend down"),
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
	}
	if err := repo.RecordBatch(ctx, batch); err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}

	batches, err := repo.ListBatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	b := batches[0]
	if b.FileCount != 2 || b.Succeeded != 1 || b.Failed != 1 || b.RefreshError == "" {
		t.Errorf("batch = %+v", b)
	}
	if len(b.Files) != 2 || b.Files[0].ClipID != "clip_1" || b.Files[1].Error == "" || b.Files[1].ClipID != "" {
		t.Errorf("files = %+v", b.Files)
	}
}

func TestEnsureAPIToken_Stable(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first, err := EnsureAPIToken(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureAPIToken() error = %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}
	second, err := EnsureAPIToken(ctx, repo)
	if err != nil {
		t.Fatalf("EnsureAPIToken() error = %v", err)
	}
	if first != second {
		t.Error("token should be generated once")
	}
}

func TestOrchestratorRecordsIntoJournal(t *testing.T) {
	repo := setupTestDB(t)
	fake := &syncConcatenator{}
	o := processing.NewOrchestrator(processing.NewSyncSource(fake), processing.Options{Recorder: repo}, nil)
	defer o.Close()

	job, err := o.Start(context.Background(), []string{"a", "b"}, processing.StartOptions{OutputFilename: "x"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetJob() = %v, %v", stored, err)
	}
	if stored.Status != processing.StatusComplete || stored.OutputFilename != "x.mp4" {
		t.Errorf("stored = %+v", stored)
	}
}

type syncConcatenator struct{}

func (syncConcatenator) Concatenate(ctx context.Context, req backend.ConcatRequest) (*backend.ConcatResult, error) {
	return &backend.ConcatResult{OutputFilename: req.OutputFilename, ClipsProcessed: len(req.ClipIDs)}, nil
}

func TestSecondOpenKeepsRunningJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	first, err := db.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer first.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	job := processing.Job{
		ID:        "job-live",
		Status:    processing.StatusRunning,
		ClipIDs:   []string{"clip_1"},
		Progress:  40,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := NewRepository(first.Conn()).RecordJob(ctx, job); err != nil {
		t.Fatalf("RecordJob() error = %v", err)
	}

	second, err := db.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()

	got, err := NewRepository(second.Conn()).GetJob(ctx, "job-live")
	if err != nil || got == nil {
		t.Fatalf("GetJob() = %v, %v", got, err)
	}
	if got.Status != processing.StatusRunning || got.ErrorDetail != "" {
		t.Errorf("job after second open = %s %q, want running", got.Status, got.ErrorDetail)
	}
}
