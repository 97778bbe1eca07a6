// Package export renders workspace transcripts for sharing. Markdown is
// the canonical format; HTML is derived from it and sanitized, since
// transcript text is untrusted model output.
package export

import (
	"fmt"

	"github.com/coder/cmux-sub012/types"
)

// Format selects a transcript renderer.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Exporter renders a transcript to bytes.
type Exporter interface {
	Export(title string, msgs []types.Message) ([]byte, error)
}

// New returns the Exporter for format.
func New(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatHTML:
		return &HTMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
