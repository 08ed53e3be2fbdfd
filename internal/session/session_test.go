package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/backend/backendtest"
	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openSession(t *testing.T, fake *backendtest.Server, syncMode bool) *Session {
	t.Helper()
	client := backend.NewHTTPClient(backend.Options{BaseURL: fake.URL, Timeout: 5 * time.Second}, testLogger())
	s, err := Open(context.Background(), Options{
		Client: client,
		Sync:   syncMode,
		Limits: upload.Limits{AllowedExtensions: []string{".mp4"}},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeVideos(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("video:"+name), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

type viewLog struct {
	mu    sync.Mutex
	views []ViewState
}

func (l *viewLog) add(v ViewState) {
	l.mu.Lock()
	l.views = append(l.views, v)
	l.mu.Unlock()
}

func (l *viewLog) snapshot() []ViewState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ViewState(nil), l.views...)
}

func TestSession_UploadThenConcatenateScenario(t *testing.T) {
	fake := backendtest.New(t)
	fake.RejectUpload("b.mp4", backendtest.Failure{Status: http.StatusBadRequest, Detail: "invalid codec"})
	fake.Script(
		backend.ProgressEvent{Stage: "processing", Progress: 0},
		backend.ProgressEvent{Stage: "processing", Progress: 50},
		backend.ProgressEvent{Stage: backend.StageComplete, Progress: 100, OutputFilename: "merged.mp4", FileSize: 2048},
	)
	s := openSession(t, fake, false)

	log := &viewLog{}
	defer s.Subscribe(log.add)()

	res, err := s.Upload(context.Background(), writeVideos(t, "a.mp4", "b.mp4", "c.mp4"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.Succeeded() != 2 || res.Failed() != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 2/1", res.Succeeded(), res.Failed())
	}
	if got := backend.Reason(res.Failures()[0].Err); got != "invalid codec" {
		t.Errorf("failure reason = %q, want invalid codec", got)
	}

	view := s.View()
	if view.ClipCount != 2 || !view.CanConcatenate {
		t.Fatalf("view after upload = %+v", view)
	}

	job, err := s.Concatenate(context.Background(), ConcatOptions{OutputFilename: "merged"})
	if err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	if got := fake.LastConcatRequest().ClipIDs; len(got) != 2 {
		t.Errorf("backend saw clip ids %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if final.ID != job.ID || final.Status != processing.StatusComplete || final.OutputFilename != "merged.mp4" || final.Progress != 100 {
		t.Errorf("final job = %+v", final)
	}

	var progress []int
	last := -1
	for _, v := range log.snapshot() {
		if v.Job.ID != job.ID || !(v.Job.Status == processing.StatusRunning || v.Job.Status == processing.StatusComplete) {
			continue
		}
		if v.Job.Progress < last {
			t.Errorf("progress went backwards: %d after %d", v.Job.Progress, last)
		}
		last = v.Job.Progress
		progress = append(progress, v.Job.Progress)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("observed progress = %v, want to end at 100", progress)
	}
	seen50 := false
	for _, p := range progress {
		if p == 50 {
			seen50 = true
		}
	}
	if !seen50 {
		t.Errorf("observed progress = %v, want a 50 step", progress)
	}

	end := s.View()
	if end.CanConcatenate {
		t.Error("a finished job must be reset before the next one")
	}
	if end.ProgressLabel != "complete: merged.mp4" {
		t.Errorf("label = %q", end.ProgressLabel)
	}
}

func TestSession_TooFewClipsNeverReachesBackend(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("only.mp4")
	s := openSession(t, fake, false)

	_, err := s.Concatenate(context.Background(), ConcatOptions{})
	if !errors.Is(err, processing.ErrInsufficientClips) {
		t.Fatalf("Concatenate() error = %v, want ErrInsufficientClips", err)
	}
	if calls := fake.Calls(); calls.Start != 0 || calls.Subscribe != 0 || calls.Concatenate != 0 {
		t.Errorf("calls = %+v, want no processing calls", calls)
	}
	view := s.View()
	if view.Job.Status != processing.StatusIdle || view.CanConcatenate {
		t.Errorf("view = %+v", view)
	}
	if view.LastError == "" {
		t.Error("expected the rejection to be reported")
	}
}

func TestSession_OpenSurvivesRefreshFailure(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("a.mp4")
	fake.FailList(&backendtest.Failure{Status: http.StatusServiceUnavailable, Detail: "warming up"})
	s := openSession(t, fake, false)

	view := s.View()
	if view.ClipCount != 0 || view.LastError != "warming up" {
		t.Fatalf("view = %+v", view)
	}

	fake.FailList(nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	view = s.View()
	if view.ClipCount != 1 || view.LastError != "" || view.RefreshedAt.IsZero() {
		t.Errorf("view after refresh = %+v", view)
	}
}

func TestSession_RemoveUnknownStillRefreshes(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("a.mp4")
	s := openSession(t, fake, false)
	listsBefore := fake.Calls().List

	err := s.Remove(context.Background(), "missing")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Remove() error = %v, want ErrNotFound", err)
	}
	if got := fake.Calls().List; got != listsBefore+1 {
		t.Errorf("list calls = %d, want %d", got, listsBefore+1)
	}
	if s.View().ClipCount != 1 {
		t.Error("clip set should be unchanged")
	}
}

func TestSession_SyncVariantAndReset(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("a.mp4")
	fake.AddClip("b.mp4")
	s := openSession(t, fake, true)

	job, err := s.Concatenate(context.Background(), ConcatOptions{ClipIDs: []string{"clip_2", "clip_1"}})
	if err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	if job.Status != processing.StatusComplete || job.OutputFilename != "concatenated.mp4" {
		t.Errorf("job = %+v", job)
	}
	if got := fake.LastConcatRequest().ClipIDs; len(got) != 2 || got[0] != "clip_2" {
		t.Errorf("backend saw %v, want explicit order", got)
	}

	if _, err := s.Concatenate(context.Background(), ConcatOptions{}); !errors.Is(err, processing.ErrResetRequired) {
		t.Errorf("second Concatenate() error = %v, want ErrResetRequired", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if v := s.View(); v.Job.Status != processing.StatusIdle || !v.CanConcatenate {
		t.Errorf("view after reset = %+v", v)
	}
}

func TestSession_IndependentSessions(t *testing.T) {
	fakeA := backendtest.New(t)
	fakeA.AddClip("a1.mp4")
	fakeA.AddClip("a2.mp4")
	fakeB := backendtest.New(t)
	fakeB.AddClip("b1.mp4")

	a := openSession(t, fakeA, true)
	b := openSession(t, fakeB, true)

	if _, err := a.Concatenate(context.Background(), ConcatOptions{}); err != nil {
		t.Fatalf("a.Concatenate() error = %v", err)
	}
	if a.Job().Status != processing.StatusComplete {
		t.Errorf("a job = %+v", a.Job())
	}
	if b.Job().Status != processing.StatusIdle || b.View().ClipCount != 1 {
		t.Errorf("b should be untouched: %+v", b.View())
	}
}

func TestSession_ClosedRejectsOperations(t *testing.T) {
	fake := backendtest.New(t)
	s := openSession(t, fake, false)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := s.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() error = %v", err)
	}
	if _, err := s.Upload(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Upload() error = %v", err)
	}
	if _, err := s.Concatenate(context.Background(), ConcatOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Concatenate() error = %v", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset() error = %v", err)
	}
}

func TestSession_PanickingSubscriberIsContained(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("a.mp4")
	s := openSession(t, fake, false)

	s.Subscribe(func(ViewState) { panic("boom") })
	log := &viewLog{}
	unsubscribe := s.Subscribe(log.add)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(log.snapshot()) != 1 {
		t.Errorf("views = %d, want 1", len(log.snapshot()))
	}

	unsubscribe()
	_ = s.Refresh(context.Background())
	if len(log.snapshot()) != 1 {
		t.Error("unsubscribed observer was called")
	}
}

func TestOpen_RequiresClient(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("expected an error without a client")
	}
}

// slowJournal stands in for a database-backed job recorder.
type slowJournal struct {
	mu   sync.Mutex
	jobs []processing.Job
}

func (j *slowJournal) RecordJob(ctx context.Context, job processing.Job) error {
	time.Sleep(30 * time.Millisecond)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job)
	return nil
}

func TestSession_JournaledJobWithImmediateProgress(t *testing.T) {
	fake := backendtest.New(t)
	fake.AddClip("a.mp4")
	fake.AddClip("b.mp4")
	fake.Script(
		backend.ProgressEvent{Stage: "starting", Progress: 0},
		backend.ProgressEvent{Stage: "processing", Progress: 40},
		backend.ProgressEvent{Stage: backend.StageComplete, Progress: 100, OutputFilename: "merged.mp4"},
	)

	journal := &slowJournal{}
	client := backend.NewHTTPClient(backend.Options{BaseURL: fake.URL, Timeout: 5 * time.Second}, testLogger())
	s, err := Open(context.Background(), Options{
		Client:      client,
		JobRecorder: journal,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := &viewLog{}
	defer s.Subscribe(log.add)()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.Concatenate(ctx, ConcatOptions{}); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	job, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if job.Status != processing.StatusComplete || job.OutputFilename != "merged.mp4" {
		t.Fatalf("job = %+v", job)
	}

	views := log.snapshot()
	if len(views) == 0 || views[len(views)-1].ProgressLabel != "complete: merged.mp4" {
		t.Fatalf("last view = %+v", views)
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if last := journal.jobs[len(journal.jobs)-1]; last.Status != processing.StatusComplete {
		t.Errorf("last journaled status = %s, want complete", last.Status)
	}
}
