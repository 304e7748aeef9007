package storage

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/result"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
)

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.9632000000000001, 0.9632},
		{0.91, 0.91},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := sanitizeConfidence(tt.in); got != tt.want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	in := []byte(`{"text":"a\u0000b\u0007c\n"}`)
	got := string(sanitizeJSONForPostgres(in))
	if got != `{"text":"ab c\n"}` {
		t.Errorf("sanitizeJSONForPostgres() = %s", got)
	}
}

func TestUpdateFromEvent(t *testing.T) {
	t.Run("progress", func(t *testing.T) {
		u, err := updateFromEvent(worker.Event{
			JobID:  "j1",
			Action: worker.ActionRecognize,
			Status: worker.StatusProgress,
			Data:   worker.ProgressData{Status: "recognizing text", Progress: 0.5},
		})
		if err != nil {
			t.Fatal(err)
		}
		if u.Status != StatusProcessing || u.Stage != "recognizing text" || u.Progress != 0.5 || u.Action != "recognize" {
			t.Errorf("update = %+v", u)
		}
	})

	t.Run("resolve", func(t *testing.T) {
		u, err := updateFromEvent(worker.Event{
			JobID:  "j1",
			Status: worker.StatusResolve,
			Data:   &result.Recognition{Text: "Hello\u0000", Confidence: 91},
		})
		if err != nil {
			t.Fatal(err)
		}
		if u.Status != StatusCompleted || u.Confidence != 0.91 || u.Progress != 1 {
			t.Errorf("update = %+v", u)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(u.Result, &doc); err != nil {
			t.Fatalf("result is not JSON: %v", err)
		}
		if doc["text"] != "Hello" {
			t.Errorf("text = %q", doc["text"])
		}
	})

	t.Run("reject", func(t *testing.T) {
		u, err := updateFromEvent(worker.Event{JobID: "j1", Status: worker.StatusReject, Data: errors.DetectFailedMessage})
		if err != nil {
			t.Fatal(err)
		}
		if u.Status != StatusFailed || u.ErrorMessage != errors.DetectFailedMessage || u.ErrorCode != string(errors.ErrorDetectFailed) {
			t.Errorf("update = %+v", u)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		if _, err := updateFromEvent(worker.Event{JobID: "j1", Status: "nope"}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRejectCode(t *testing.T) {
	tests := []struct {
		reason string
		want   errors.ErrorCode
	}{
		{"Processing timed out after 20ms: context deadline exceeded", errors.ErrorProcessTimeout},
		{"unknown action: x", errors.ErrorUnknownAction},
		{"Failed to detect OS", errors.ErrorDetectFailed},
		{"image is required", ""},
	}
	for _, tt := range tests {
		if got := rejectCode(tt.reason); got != tt.want {
			t.Errorf("rejectCode(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestJobStoreLifecycle(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	store, err := NewJobStore(url, "ocr_test", logging.Discard())
	if err != nil {
		t.Fatalf("NewJobStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	jobID := "store-" + strings.ReplaceAll(t.Name(), "/", "-")
	events := []worker.Event{
		{JobID: jobID, Action: worker.ActionRecognize, Status: worker.StatusProgress, Data: worker.ProgressData{Status: "recognizing text", Progress: 0.25}},
		{JobID: jobID, Action: worker.ActionRecognize, Status: worker.StatusResolve, Data: &result.Recognition{Text: "Hello", Confidence: 91}},
		{JobID: jobID, Action: worker.ActionRecognize, Status: worker.StatusProgress, Data: worker.ProgressData{Status: "late", Progress: 0.5}},
	}
	for _, e := range events {
		if err := store.Send(ctx, e); err != nil {
			t.Fatalf("Send(%s) error = %v", e.Status, err)
		}
	}

	rec, err := store.GetJobByID(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusCompleted || rec.Stage != "recognizing text" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Confidence == nil || *rec.Confidence != 0.91 {
		t.Errorf("confidence = %v", rec.Confidence)
	}
	if !strings.Contains(string(rec.Result), `"Hello"`) {
		t.Errorf("result = %s", rec.Result)
	}

	if _, err := store.GetJobByID(ctx, "missing-job"); err == nil {
		t.Error("expected error for a missing job")
	}
}
