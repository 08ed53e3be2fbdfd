// Package history journals concatenation jobs and upload batches in the
// local sqlite database. It is an audit trail; clips are never cached here.
package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clipflow/clipflow/internal/processing"
	"github.com/clipflow/clipflow/internal/upload"
)

// Config keys.
const (
	KeyAPIToken = "api_token"
)

const defaultListLimit = 50

// Repository is the journal surface used by the CLI and the local API.
type Repository interface {
	RecordJob(ctx context.Context, job processing.Job) error
	GetJob(ctx context.Context, id string) (*processing.Job, error)
	ListJobs(ctx context.Context, limit int) ([]processing.Job, error)

	RecordBatch(ctx context.Context, batch *upload.BatchResult) error
	ListBatches(ctx context.Context, limit int) ([]Batch, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Batch is a journaled upload batch.
type Batch struct {
	ID           string      `json:"id"`
	FileCount    int         `json:"file_count"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	RefreshError string      `json:"refresh_error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	Files        []BatchFile `json:"files"`
}

// BatchFile is the journaled outcome of one file.
type BatchFile struct {
	Path   string `json:"path"`
	ClipID string `json:"clip_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ Repository          = (*SQLiteRepository)(nil)
	_ processing.Recorder = (*SQLiteRepository)(nil)
	_ upload.Recorder     = (*SQLiteRepository)(nil)
)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordJob inserts the job or overwrites its previous snapshot. The job is
// owned by this process until it finishes.
func (r *SQLiteRepository) RecordJob(ctx context.Context, j processing.Job) error {
	clipIDs, err := json.Marshal(j.ClipIDs)
	if err != nil {
		return fmt.Errorf("encode clip ids: %w", err)
	}
	if j.ClipIDs == nil {
		clipIDs = []byte("[]")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, stage, message, clip_ids, requested_output,
			output_filename, file_size, error_detail, started_at, updated_at, owner_pid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			stage = excluded.stage,
			message = excluded.message,
			output_filename = excluded.output_filename,
			file_size = excluded.file_size,
			error_detail = excluded.error_detail,
			updated_at = excluded.updated_at
	`, j.ID, string(j.Status), j.Progress, nullString(j.Stage), nullString(j.Message), string(clipIDs),
		nullString(j.RequestedOutput), nullString(j.OutputFilename), nullInt64(j.FileSize),
		nullString(j.ErrorDetail), formatTime(j.StartedAt), formatTime(j.UpdatedAt), os.Getpid())
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

const jobColumns = `id, status, progress, stage, message, clip_ids, requested_output,
	output_filename, file_size, error_detail, started_at, updated_at`

// GetJob returns nil, nil when the job is unknown.
func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*processing.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns the most recently started jobs first.
func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]processing.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []processing.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (processing.Job, error) {
	var j processing.Job
	var status, clipIDs, startedAt, updatedAt string
	var stage, message, requested, output, detail sql.NullString
	var fileSize sql.NullInt64

	err := s.Scan(&j.ID, &status, &j.Progress, &stage, &message, &clipIDs, &requested,
		&output, &fileSize, &detail, &startedAt, &updatedAt)
	if err != nil {
		return j, err
	}
	j.Status = processing.Status(status)
	j.Stage = stage.String
	j.Message = message.String
	j.RequestedOutput = requested.String
	j.OutputFilename = output.String
	j.FileSize = fileSize.Int64
	j.ErrorDetail = detail.String
	if err := json.Unmarshal([]byte(clipIDs), &j.ClipIDs); err != nil {
		return j, fmt.Errorf("decode clip ids of job %s: %w", j.ID, err)
	}
	j.StartedAt = parseTime(startedAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// RecordBatch stores a finished batch and its per-file outcomes.
func (r *SQLiteRepository) RecordBatch(ctx context.Context, b *upload.BatchResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch %s: %w", b.ID, err)
	}
	defer tx.Rollback()

	refreshErr := ""
	if b.RefreshErr != nil {
		refreshErr = b.RefreshErr.Error()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, file_count, succeeded, failed, refresh_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, len(b.Files), b.Succeeded(), b.Failed(), nullString(refreshErr),
		formatTime(b.StartedAt), formatTime(b.FinishedAt))
	if err != nil {
		return fmt.Errorf("record batch %s: %w", b.ID, err)
	}

	for i, f := range b.Files {
		var clipID, errMsg string
		if f.Clip != nil {
			clipID = f.Clip.ID
		}
		if f.Err != nil {
			errMsg = f.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_files (batch_id, position, path, clip_id, error)
			VALUES (?, ?, ?, ?, ?)
		`, b.ID, i, f.File, nullString(clipID), nullString(errMsg))
		if err != nil {
			return fmt.Errorf("record batch %s file %d: %w", b.ID, i, err)
		}
	}
	return tx.Commit()
}

// ListBatches returns the most recent batches first, with their files.
func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_count, succeeded, failed, refresh_error, started_at, finished_at
		FROM batches ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	batches := []Batch{}
	for rows.Next() {
		var b Batch
		var refreshErr sql.NullString
		var startedAt, finishedAt string
		if err := rows.Scan(&b.ID, &b.FileCount, &b.Succeeded, &b.Failed, &refreshErr, &startedAt, &finishedAt); err != nil {
			rows.Close()
			return nil, err
		}
		b.RefreshError = refreshErr.String
		b.StartedAt = parseTime(startedAt)
		b.FinishedAt = parseTime(finishedAt)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range batches {
		files, err := r.batchFiles(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].Files = files
	}
	return batches, nil
}

func (r *SQLiteRepository) batchFiles(ctx context.Context, batchID string) ([]BatchFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, clip_id, error FROM batch_files WHERE batch_id = ? ORDER BY position
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []BatchFile{}
	for rows.Next() {
		var f BatchFile
		var clipID, errMsg sql.NullString
		if err := rows.Scan(&f.Path, &clipID, &errMsg); err != nil {
			return nil, err
		}
		f.ClipID = clipID.String
		f.Error = errMsg.String
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetConfig returns "" when the key is not set.
func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// EnsureAPIToken returns the stored local API token, generating and storing
// a new random one on first use.
func EnsureAPIToken(ctx context.Context, repo Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, KeyAPIToken)
	if err != nil {
		return "", fmt.Errorf("read api token: %w", err)
	}
	if existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate api token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	if err := repo.SetConfig(ctx, KeyAPIToken, token); err != nil {
		return "", fmt.Errorf("store api token: %w", err)
	}
	return token, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
