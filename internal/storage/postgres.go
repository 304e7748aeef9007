/**
 * PostgreSQL Job Store for OCR Worker
 *
 * Records the state of every job the worker sees. The store is a
 * worker.Sender, so it is wired next to the transport publisher and each
 * event becomes one UPSERT of the job row.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/result"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/lib/pq"
)

// DefaultSchema holds the jobs table when no schema is configured.
const DefaultSchema = "ocr"

// Job states.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobStore persists job state in PostgreSQL
type JobStore struct {
	db     *sql.DB
	table  string
	schema string
	logger *logging.Logger
}

var _ worker.Sender = (*JobStore)(nil)

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID        string
	Action       string
	Status       string
	Stage        string
	Progress     float64
	Confidence   float64
	Result       []byte
	ErrorCode    string
	ErrorMessage string
}

// JobRecord is a stored job row.
type JobRecord struct {
	JobID        string          `json:"jobId"`
	Action       string          `json:"action"`
	Status       string          `json:"status"`
	Stage        string          `json:"stage,omitempty"`
	Progress     float64         `json:"progress"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0, 1] so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escapes JSONB rejects. \u0000 is dropped and
// the other control character escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	out := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(out, []byte(" "))
}

// NewJobStore opens and pings the database.
func NewJobStore(databaseURL, schema string, logger *logging.Logger) (*JobStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if schema == "" {
		schema = DefaultSchema
	}
	if logger == nil {
		logger = logging.NewLogger("storage")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &JobStore{
		db:     db,
		schema: schema,
		table:  pq.QuoteIdentifier(schema) + ".jobs",
		logger: logger,
	}, nil
}

// EnsureSchema creates the schema and jobs table when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(s.schema),
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id            TEXT PRIMARY KEY,
			action        TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			stage         TEXT,
			progress      NUMERIC(5,4) NOT NULL DEFAULT 0,
			confidence    NUMERIC(5,4),
			result        JSONB,
			error_code    TEXT,
			error_message TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema %s: %w", s.schema, err)
		}
	}
	return nil
}

// Send records e. Failures are returned to the reply, which logs them; the
// job itself is never failed by the store.
func (s *JobStore) Send(ctx context.Context, e worker.Event) error {
	update, err := updateFromEvent(e)
	if err != nil {
		return errors.NewStorageFailedError(e.JobID, err)
	}
	if err := s.UpdateJobStatus(ctx, update); err != nil {
		return errors.NewStorageFailedError(e.JobID, err)
	}
	return nil
}

// updateFromEvent maps an outbound event to a row update.
func updateFromEvent(e worker.Event) (*JobUpdate, error) {
	update := &JobUpdate{JobID: e.JobID, Action: string(e.Action)}

	switch e.Status {
	case worker.StatusProgress:
		update.Status = StatusProcessing
		if p, ok := e.Data.(worker.ProgressData); ok {
			update.Stage = p.Status
			update.Progress = p.Progress
		}
	case worker.StatusResolve:
		update.Status = StatusCompleted
		update.Progress = 1
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		update.Result = sanitizeJSONForPostgres(data)
		switch r := e.Data.(type) {
		case *result.Recognition:
			update.Confidence = float64(r.Confidence) / 100
		case *result.Detection:
			update.Confidence = r.OrientationConfidence / 100
		}
	case worker.StatusReject:
		update.Status = StatusFailed
		update.Progress = 1
		update.ErrorMessage = fmt.Sprint(e.Data)
		update.ErrorCode = string(rejectCode(update.ErrorMessage))
	default:
		return nil, fmt.Errorf("unknown event status: %s", e.Status)
	}
	return update, nil
}

// rejectCode recovers the error code from the reasons that carry a fixed
// prefix. Other reasons are stored without a code.
func rejectCode(reason string) errors.ErrorCode {
	switch {
	case strings.HasPrefix(reason, errors.DetectFailedMessage):
		return errors.ErrorDetectFailed
	case strings.HasPrefix(reason, "Processing timed out"):
		return errors.ErrorProcessTimeout
	case strings.HasPrefix(reason, "unknown action"):
		return errors.ErrorUnknownAction
	}
	return ""
}

// UpdateJobStatus upserts the job row.
func (s *JobStore) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)
	progress := sanitizeConfidence(update.Progress)

	var resultJSON interface{}
	if len(update.Result) > 0 {
		resultJSON = string(update.Result)
	}

	// Completed and failed rows are final; late progress does not reopen them.
	query := `
		INSERT INTO ` + s.table + ` AS j (
			id, action, status, stage, progress, confidence,
			result, error_code, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5::NUMERIC(5,4),
			NULLIF($6::NUMERIC(5,4), 0), $7::jsonb,
			NULLIF($8, ''), NULLIF($9, ''), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			action = COALESCE(NULLIF(EXCLUDED.action, ''), j.action),
			status = EXCLUDED.status,
			stage = COALESCE(EXCLUDED.stage, j.stage),
			progress = EXCLUDED.progress,
			confidence = COALESCE(EXCLUDED.confidence, j.confidence),
			result = COALESCE(EXCLUDED.result, j.result),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
		WHERE j.status NOT IN ('completed', 'failed')
			OR EXCLUDED.status <> 'processing'
	`

	_, err := s.db.ExecContext(ctx, query,
		update.JobID,        // $1
		update.Action,       // $2
		update.Status,       // $3
		update.Stage,        // $4
		progress,            // $5
		confidence,          // $6
		resultJSON,          // $7
		update.ErrorCode,    // $8
		update.ErrorMessage, // $9
	)
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, confidence, err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (s *JobStore) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT id, action, status, stage, progress, confidence,
			result, error_code, error_message, created_at, updated_at
		FROM ` + s.table + `
		WHERE id = $1
	`

	var (
		rec                            JobRecord
		stage, errorCode, errorMessage sql.NullString
		confidence                     sql.NullFloat64
		resultJSON                     []byte
	)
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.JobID, &rec.Action, &rec.Status, &stage, &rec.Progress, &confidence,
		&resultJSON, &errorCode, &errorMessage, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rec.Stage = stage.String
	rec.ErrorCode = errorCode.String
	rec.ErrorMessage = errorMessage.String
	if confidence.Valid {
		rec.Confidence = &confidence.Float64
	}
	if len(resultJSON) > 0 {
		rec.Result = resultJSON
	}
	return &rec, nil
}

// Ping checks database connectivity
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *JobStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (s *JobStore) GetStats() sql.DBStats {
	return s.db.Stats()
}
