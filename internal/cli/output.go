// Package cli provides CLI output formatting for Kotae.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kotae/internal/models"
)

// OutputFormat is the format for answer output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteAnswer writes a chat answer to w in the given format.
func WriteAnswer(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	default:
		writeAnswerText(w, resp)
		return nil
	}
}

func writeAnswerText(w io.Writer, resp *models.ChatResponse) {
	fmt.Fprintf(w, "%s\n", resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for i, id := range resp.Sources {
			fmt.Fprintf(w, "  %d. %s\n", i+1, id)
		}
	}
}

// WriteStats writes index statistics to w in the given format.
func WriteStats(w io.Writer, stats *models.Stats, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	default:
		fmt.Fprintf(w, "Documents:         %d\n", stats.Documents)
		fmt.Fprintf(w, "Chunks:            %d\n", stats.Chunks)
		fmt.Fprintf(w, "Vector index size: %d\n", stats.VectorIndexSize)
		fmt.Fprintf(w, "Index backend:     %s\n", stats.IndexBackend)
		return nil
	}
}

// WriteReport writes an ingestion report to w in the given format.
func WriteReport(w io.Writer, report interface {
	Summary() string
}, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		fmt.Fprintln(w, report.Summary())
		return nil
	}
}
