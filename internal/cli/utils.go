// Package cli renders engine and query output for terminal use.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/shirabe/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// snippetLen caps how much chunk text a terminal result shows.
const snippetLen = 200

// WriteQueryResults writes query results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteQueryResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeQueryResultsText(w, response)
		return nil
	}
}

func writeQueryResultsText(w io.Writer, response *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (branch: %s)\n\n",
		response.Total, response.QueryTime, response.Branch)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result *models.QueryResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", result.Rank, result.Score)
	location := fmt.Sprintf("%s:%d-%d", result.Point.Path, result.Point.StartLine, result.Point.EndLine)
	if result.Point.Language != "" {
		location += " [" + result.Point.Language + "]"
	}
	fmt.Fprintln(w, location)
	if result.ContentUnavailable {
		fmt.Fprintf(w, "\n(content unavailable at this revision)\n")
	} else {
		fmt.Fprintf(w, "\n%s\n", Truncate(result.Text, snippetLen))
	}
	fmt.Fprintln(w)
}

// WriteIndexingStats writes the outcome of one indexing run to w.
func WriteIndexingStats(w io.Writer, stats *models.IndexingStats, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	default:
		writeIndexingStatsText(w, stats)
		return nil
	}
}

func writeIndexingStatsText(w io.Writer, stats *models.IndexingStats) {
	target := stats.Branch
	if stats.Commit != "" {
		target += "@" + shortCommit(stats.Commit)
	}
	if stats.NoOp() {
		fmt.Fprintf(w, "Nothing to do on %s (%d files checked in %dms)\n",
			target, stats.FilesSeen, stats.Duration)
		return
	}
	scan := "incremental"
	if stats.FullScan {
		scan = "full scan"
	}
	fmt.Fprintf(w, "Indexed %s in %dms (%s)\n", target, stats.Duration, scan)
	fmt.Fprintf(w, "  files:  %d seen, %d embedded, %d reused, %d relabeled, %d hidden\n",
		stats.FilesSeen, stats.FilesEmbedded, stats.FilesReused, stats.FilesRelabeled, stats.FilesHidden)
	fmt.Fprintf(w, "  points: %d created, %d hidden\n", stats.PointsCreated, stats.PointsHidden)
	if len(stats.FilesFailed) > 0 {
		fmt.Fprintf(w, "  failed: %s\n", strings.Join(stats.FilesFailed, ", "))
	}
}

// WriteRebuildStats writes the outcome of a rebuild to w.
func WriteRebuildStats(w io.Writer, stats *models.RebuildStats, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	default:
		fmt.Fprintf(w, "Rebuilt to generation %d in %dms (%s): %d points\n",
			stats.Generation, stats.Duration, stats.Reason, stats.Points)
		return nil
	}
}

// WriteStatus writes a collection snapshot to w.
func WriteStatus(w io.Writer, status *models.CollectionStatus, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	default:
		writeStatusText(w, status)
		return nil
	}
}

func writeStatusText(w io.Writer, status *models.CollectionStatus) {
	fmt.Fprintf(w, "Collection:   %s\n", status.CollectionID)
	fmt.Fprintf(w, "Mode:         %s\n", status.Mode)
	fmt.Fprintf(w, "Branch:       %s\n", status.Branch)
	if status.Commit != "" {
		fmt.Fprintf(w, "Commit:       %s\n", shortCommit(status.Commit))
	}
	fmt.Fprintf(w, "Generation:   %d\n", status.Generation)
	fmt.Fprintf(w, "Stale:        %t\n", status.Stale)
	fmt.Fprintf(w, "Points:       %d (%d deleted labels)\n", status.Points, status.DeletedLabels)
	fmt.Fprintf(w, "Last indexed: %s\n", formatTime(status.LastIndexed))
	fmt.Fprintf(w, "Last build:   %s\n", formatTime(status.LastBuild))
	fmt.Fprintf(w, "Disk usage:   %s\n", FormatBytes(status.DiskBytes))
}

// PrintQueryResults prints query results to stdout in text format.
func PrintQueryResults(response *models.QueryResponse) {
	_ = WriteQueryResults(os.Stdout, response, OutputText)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
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

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
