package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/obra/internal/models"
)

func TestWriteSearchResults_JSON(t *testing.T) {
	results := []models.SearchResult{{Path: "notes/bread.md", Score: 0.31, Snippet: "Sourdough basics."}}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, results, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded []models.SearchResult
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != results[0] {
		t.Errorf("decoded = %+v, want %+v", decoded, results)
	}
}

func TestWriteSearchResults_JSON_empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("empty results = %q, want []", got)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	results := []models.SearchResult{
		{Path: "a.md", Score: 0.5, Snippet: "First."},
		{Path: "b.md", Score: 0.75},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"1. a.md", "0.5000", "First.", "2. b.md"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	_ = WriteSearchResults(&buf, nil, OutputText)
	if !strings.Contains(buf.String(), "No results") {
		t.Errorf("empty text output = %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := &models.Status{
		State:        "not running",
		Vault:        "/home/me/vault",
		LastSync:     now.Add(-3 * time.Hour),
		IndexedFiles: 12,
		Chunks:       40,
		DiskBytes:    2048,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, now, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"not running", "/home/me/vault", "3h ago", "12", "40", "2.0 KiB"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSyncReport(t *testing.T) {
	r := &models.SyncReport{
		Added: 2, Modified: 1, Deleted: 3, Unchanged: 10, Chunks: 9,
		Warnings: []models.FileWarning{{Path: "bad.pdf", Error: "encrypted"}},
		Duration: 1500 * time.Millisecond,
	}
	var buf bytes.Buffer
	if err := WriteSyncReport(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"2 added", "1 modified", "3 deleted", "10 unchanged", "1.5s", "bad.pdf: encrypted"} {
		if !strings.Contains(out, sub) {
			t.Errorf("report output missing %q:\n%s", sub, out)
		}
	}
}

func TestHumanizeSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"never", time.Time{}, "never"},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"hours", now.Add(-90 * time.Minute), "1h ago"},
		{"days", now.Add(-50 * time.Hour), "2d ago"},
		{"future clock skew", now.Add(time.Minute), "just now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HumanizeSince(tt.t, now); got != tt.want {
				t.Errorf("HumanizeSince() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.n); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
