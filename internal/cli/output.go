// Package cli renders obra's command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetWidth = 120

// WriteSearchResults writes ranked results to w in the given format.
func WriteSearchResults(w io.Writer, results []models.SearchResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []models.SearchResult{}
		}
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No results.")
		return err
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s  (%.4f)\n", i+1, r.Path, r.Score)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", utils.Truncate(r.Snippet, snippetWidth))
		}
	}
	return nil
}

// WriteStatus writes the daemon state and index stats. now anchors the
// humanized last-sync time.
func WriteStatus(w io.Writer, st *models.Status, now time.Time, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "daemon:        %s\n", st.State)
	fmt.Fprintf(w, "vault:         %s\n", st.Vault)
	fmt.Fprintf(w, "last indexed:  %s\n", HumanizeSince(st.LastSync, now))
	fmt.Fprintf(w, "files:         %d\n", st.IndexedFiles)
	fmt.Fprintf(w, "chunks:        %d\n", st.Chunks)
	if st.DiskBytes > 0 {
		fmt.Fprintf(w, "disk usage:    %s\n", HumanBytes(st.DiskBytes))
	}
	return nil
}

// WriteSyncReport summarizes a sync pass, followed by its per-file warnings.
func WriteSyncReport(w io.Writer, r *models.SyncReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Indexed in %s: %d added, %d modified, %d deleted, %d unchanged (%d chunks)\n",
		r.Duration.Round(time.Millisecond), r.Added, r.Modified, r.Deleted, r.Unchanged, r.Chunks)
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", warn.Path, warn.Error)
	}
	return nil
}

// HumanizeSince renders how long ago t was: just now, Nm ago, Nh ago or Nd ago.
func HumanizeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

// HumanBytes formats n with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
