package archive

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/drawscan/types"
)

func testEntry(sessionID string) *Entry {
	return &Entry{
		Meta:    &types.SessionMeta{SessionID: sessionID, Endpoint: "http://pipeline", Filename: "bracket.png"},
		State:   types.SessionCompleted,
		Outcome: &types.Outcome{Status: types.OutcomeSuccess, Message: "ok"},
		Snapshot: &types.Snapshot{
			AnnotatedImage: "aW1hZ2U=",
			StatusMessage:  "Done",
			Summary:        "Bracket with two welds",
			PageExtraction: &types.PageExtraction{Text: "Title block", Table: map[string]string{"Part No": "B-7"}},
			Items: []types.Item{
				{ClassName: "weld", Confidence: 0.91, RawCrop: "cmF3", VLMText: "fillet 5mm", Data: map[string]any{"raw_crop": "cmF3", "cls_name": "weld"}},
				{ClassName: "hole", Confidence: 0.77},
			},
			Version: 6,
		},
		CompletedAt: time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeriveDay(t *testing.T) {
	ts := time.Date(2026, 2, 7, 23, 30, 0, 0, time.FixedZone("X", -3*3600))
	if got := DeriveDay(ts); got != "2026-02-08" {
		t.Errorf("DeriveDay() = %s, want 2026-02-08 (UTC)", got)
	}
}

func TestWriter_WriteAndReadSession(t *testing.T) {
	w, err := New(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	path, err := w.Write(t.Context(), testEntry("sess-1"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if path != "drawscan/day=2026-02-07/session_id=sess-1" {
		t.Errorf("path = %s", path)
	}

	records, err := w.ReadSession(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ReadSession returned %d records, want 3", len(records))
	}

	session := records[0]
	if session["record_kind"] != RecordKindSession {
		t.Errorf("record_kind = %v, want %s", session["record_kind"], RecordKindSession)
	}
	if session["summary"] != "Bracket with two welds" {
		t.Errorf("summary = %v", session["summary"])
	}
	if session["outcome"] != "success" {
		t.Errorf("outcome = %v", session["outcome"])
	}
	if _, ok := session["annotated_image"]; ok {
		t.Error("annotated_image stored without IncludeImages")
	}

	item := records[1]
	if item["record_kind"] != RecordKindItem || item["cls_name"] != "weld" {
		t.Errorf("first item = %v", item)
	}
	if data, ok := item["data"].(map[string]any); ok {
		if _, has := data["raw_crop"]; has {
			t.Error("raw_crop kept in item data without IncludeImages")
		}
	}
	if records[2]["cls_name"] != "hole" {
		t.Errorf("second item cls_name = %v", records[2]["cls_name"])
	}
}

func TestWriter_IncludeImages(t *testing.T) {
	w, err := New(Config{IncludeImages: true}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := w.Write(t.Context(), testEntry("sess-img")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	records, err := w.ReadSession(t.Context(), "sess-img")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	img, _ := records[0]["annotated_image"].(string)
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Errorf("annotated_image = %q, want data URL", img)
	}
	if records[1]["raw_crop"] != "data:image/png;base64,cmF3" {
		t.Errorf("raw_crop = %v", records[1]["raw_crop"])
	}
}

func TestWriter_RejectsIncompleteSession(t *testing.T) {
	w, _ := New(Config{}, lode.NewMemoryFactory())

	entry := testEntry("sess-f")
	entry.State = types.SessionFailed
	_, err := w.Write(t.Context(), entry)
	if !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
}

func TestWriter_ReadSessionExactMatch(t *testing.T) {
	w, _ := New(Config{}, lode.NewMemoryFactory())

	if _, err := w.Write(t.Context(), testEntry("s-10")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_, err := w.ReadSession(t.Context(), "s-1")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for prefix id, got %v", err)
	}
}

func TestWriter_MultipleSessions(t *testing.T) {
	w, _ := New(Config{Dataset: "drawings"}, lode.NewMemoryFactory())

	for _, id := range []string{"a", "b"} {
		if _, err := w.Write(t.Context(), testEntry(id)); err != nil {
			t.Fatalf("Write %s failed: %v", id, err)
		}
	}

	records, err := w.ReadSession(t.Context(), "a")
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	for _, r := range records {
		if r["session_id"] != "a" {
			t.Errorf("record from wrong session: %v", r["session_id"])
		}
	}
}

func TestWriter_RequiresSnapshot(t *testing.T) {
	w, _ := New(Config{}, lode.NewMemoryFactory())
	if _, err := w.Write(t.Context(), &Entry{Meta: &types.SessionMeta{SessionID: "x"}}); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

func TestNewFS_RequiresRoot(t *testing.T) {
	if _, err := NewFS(Config{}, ""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestNewFS_Writes(t *testing.T) {
	w, err := NewFS(Config{}, t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	if w.Backend() != "fs" {
		t.Errorf("Backend() = %s, want fs", w.Backend())
	}
	if _, err := w.Write(t.Context(), testEntry("sess-fs")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/prefix", "bucket", "prefix"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		bucket, prefix := ParseS3Path(tt.in)
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q; want %q, %q", tt.in, bucket, prefix, tt.bucket, tt.prefix)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	if err := (&S3Config{Bucket: "b"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
