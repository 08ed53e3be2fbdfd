package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/backend/backendtest"
	"github.com/clipflow/clipflow/internal/processing"
)

func TestConfigInitWritesSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	requireContains(t, string(data), "[backend]")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected an error when the file exists")
	} else {
		requireContains(t, err.Error(), "--overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+env.configPath)
	requireContains(t, out, env.fake.URL+" (sync)")
	requireContains(t, out, "Configuration valid")
}

func TestInvalidBackendFlag(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	_, _, err := runCLI(t, []string{"--backend", "ftp://nowhere", "clips"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for a non-http backend")
	}
	requireContains(t, err.Error(), "--backend")
}

func TestClipsList(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("beach.mp4")
	env.fake.AddClip("sunset.mov")

	out, _, err := runCLI(t, []string{"clips"}, env.configPath)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	requireContains(t, out, "clip_1")
	requireContains(t, out, "beach.mp4")
	requireContains(t, out, "sunset.mov")
	requireContains(t, out, "Resolution")

	out, _, err = runCLI(t, []string{"clips", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("clips --json: %v", err)
	}
	var clips []backend.Clip
	if err := json.Unmarshal([]byte(out), &clips); err != nil {
		t.Fatalf("decode clips json: %v\n%s", err, out)
	}
	if len(clips) != 2 || clips[1].Filename != "sunset.mov" {
		t.Fatalf("clips = %+v", clips)
	}
}

func TestClipsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	out, _, err := runCLI(t, []string{"clips"}, env.configPath)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	requireContains(t, out, "No clips uploaded")
}

func TestClipsListBackendFailure(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.FailList(&backendtest.Failure{Status: http.StatusServiceUnavailable, Detail: "warming up"})

	_, _, err := runCLI(t, []string{"clips"}, env.configPath)
	if err == nil {
		t.Fatal("expected list failure")
	}
	requireContains(t, err.Error(), "warming up")
}

func TestClipsRemove(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")

	out, _, err := runCLI(t, []string{"clips", "rm", "clip_1"}, env.configPath)
	if err != nil {
		t.Fatalf("clips rm: %v", err)
	}
	requireContains(t, out, "Removed clip_1")
	requireContains(t, out, "1 clips remain")
	if got := len(env.fake.Clips()); got != 1 {
		t.Fatalf("backend clips = %d, want 1", got)
	}
}

func TestUploadReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.RejectUpload("b.mp4", backendtest.Failure{Status: http.StatusBadRequest, Detail: "invalid codec"})
	files := env.writeVideos(t, "a.mp4", "b.mp4")

	out, _, err := runCLI(t, append([]string{"upload"}, files...), env.configPath)
	if err == nil {
		t.Fatal("expected an error when an upload fails")
	}
	requireContains(t, err.Error(), "1 of 2 uploads failed")
	requireContains(t, out, "invalid codec")
	requireContains(t, out, "1 uploaded, 1 failed")

	out, _, err = runCLI(t, []string{"history", "batches"}, env.configPath)
	if err != nil {
		t.Fatalf("history batches: %v", err)
	}
	requireContains(t, out, "invalid codec")
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	files := env.writeVideos(t, "notes.txt")

	out, _, err := runCLI(t, append([]string{"upload", "--json"}, files...), env.configPath)
	if err == nil {
		t.Fatal("expected an error for an unsupported file")
	}
	if calls := env.fake.Calls(); calls.Upload != 0 {
		t.Fatalf("upload calls = %d, want 0", calls.Upload)
	}
	requireContains(t, out, `"failed": 1`)
}

func TestConcatSyncVariant(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")

	out, _, err := runCLI(t, []string{"concat", "--output", "final"}, env.configPath)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	requireContains(t, out, "Created final.mp4")

	req := env.fake.LastConcatRequest()
	if strings.Join(req.ClipIDs, ",") != "clip_1,clip_2" {
		t.Fatalf("clip ids = %v", req.ClipIDs)
	}

	out, _, err = runCLI(t, []string{"history", "jobs", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history jobs: %v", err)
	}
	var jobs []processing.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(jobs) != 1 || jobs[0].Status != processing.StatusComplete || jobs[0].OutputFilename != "final.mp4" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestConcatExplicitOrder(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")
	env.fake.AddClip("c.mp4")

	if _, _, err := runCLI(t, []string{"concat", "--ids", "clip_3,clip_1"}, env.configPath); err != nil {
		t.Fatalf("concat: %v", err)
	}
	if got := strings.Join(env.fake.LastConcatRequest().ClipIDs, ","); got != "clip_3,clip_1" {
		t.Fatalf("clip ids = %s", got)
	}
}

func TestConcatStreamedVariant(t *testing.T) {
	env := setupCLITestEnv(t, "streamed")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")
	env.fake.Script(
		backend.ProgressEvent{Stage: "processing", Progress: 0},
		backend.ProgressEvent{Stage: "processing", Progress: 50},
		backend.ProgressEvent{Stage: backend.StageComplete, Progress: 100, OutputFilename: "merged.mp4", FileSize: 2048},
	)

	out, errOut, err := runCLI(t, []string{"concat"}, env.configPath)
	if err != nil {
		t.Fatalf("concat: %v\n%s", err, errOut)
	}
	requireContains(t, out, "Created merged.mp4 (2.0 kB)")
	requireContains(t, errOut, "processing 50%")
	requireContains(t, errOut, "complete: merged.mp4")
}

func TestConcatStreamedError(t *testing.T) {
	env := setupCLITestEnv(t, "streamed")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")
	env.fake.Script(backend.ProgressEvent{Stage: backend.StageError, Message: "disk full"})

	_, _, err := runCLI(t, []string{"concat"}, env.configPath)
	if err == nil {
		t.Fatal("expected the job to fail")
	}
	requireContains(t, err.Error(), "concatenation failed: disk full")
}

func TestConcatTooFewClips(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("only.mp4")

	_, _, err := runCLI(t, []string{"concat"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error with one clip")
	}
	requireContains(t, err.Error(), "at least 2 clips")
	if calls := env.fake.Calls(); calls.Concatenate != 0 || calls.Start != 0 {
		t.Fatalf("backend was called: %+v", calls)
	}
}

func TestConcatBackendRejection(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")
	env.fake.FailConcatenate(&backendtest.Failure{Status: http.StatusInternalServerError, Detail: "ffmpeg exited"})

	_, _, err := runCLI(t, []string{"concat"}, env.configPath)
	if err == nil {
		t.Fatal("expected a rejection")
	}
	requireContains(t, err.Error(), "ffmpeg exited")
}

func TestOutputsAndDownload(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	env.fake.AddOutput("merged.mp4", []byte("merged video bytes"))

	out, _, err := runCLI(t, []string{"outputs"}, env.configPath)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	requireContains(t, out, "merged.mp4")
	requireContains(t, out, "18 B")

	dest := t.TempDir()
	out, _, err = runCLI(t, []string{"download", "merged.mp4", "--dest", dest}, env.configPath)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	requireContains(t, out, "Saved merged.mp4")
	data, err := os.ReadFile(filepath.Join(dest, "merged.mp4"))
	if err != nil || string(data) != "merged video bytes" {
		t.Fatalf("downloaded = %q, %v", data, err)
	}

	if _, _, err := runCLI(t, []string{"download", "merged.mp4", "--dest", dest}, env.configPath); err == nil {
		t.Fatal("expected an error when the file exists")
	}
}

func TestDownloadMissingOutputLeavesNoFile(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	dest := filepath.Join(t.TempDir(), "missing.mp4")

	if _, _, err := runCLI(t, []string{"download", "missing.mp4", "--dest", dest}, env.configPath); err == nil {
		t.Fatal("expected an error for a missing output")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestDownloadRejectsPathLikeNames(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	_, _, err := runCLI(t, []string{"download", "../secret.mp4"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error")
	}
	requireContains(t, err.Error(), "invalid output filename")
}

func TestHealth(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	out, _, err := runCLI(t, []string{"health"}, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, env.fake.URL)
}

func TestHealthUnreachable(t *testing.T) {
	env := setupCLITestEnv(t, "sync")
	url := env.fake.URL
	env.fake.Close()

	_, _, err := runCLI(t, []string{"health"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for a stopped backend")
	}
	requireContains(t, err.Error(), url)
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t, "sync")

	out, _, err := runCLI(t, []string{"history", "jobs"}, env.configPath)
	if err != nil {
		t.Fatalf("history jobs: %v", err)
	}
	requireContains(t, out, "No jobs recorded")

	out, _, err = runCLI(t, []string{"history", "batches"}, env.configPath)
	if err != nil {
		t.Fatalf("history batches: %v", err)
	}
	requireContains(t, out, "No upload batches recorded")
}

func TestCanceledConcatReturnsContextError(t *testing.T) {
	env := setupCLITestEnv(t, "streamed")
	env.fake.AddClip("a.mp4")
	env.fake.AddClip("b.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if env.fake.WaitSubscriber(5 * time.Second) {
			cancel()
		}
	}()
	defer cancel()

	_, _, err := runCLIContext(t, ctx, []string{"concat"}, env.configPath)
	if err == nil {
		t.Fatal("expected cancellation to end the wait")
	}
}
