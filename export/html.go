package export

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/coder/cmux-sub012/types"
)

// HTMLExporter renders the Markdown transcript to sanitized HTML.
type HTMLExporter struct{}

func (e *HTMLExporter) Export(title string, msgs []types.Message) ([]byte, error) {
	md, err := (&MarkdownExporter{}).Export(title, msgs)
	if err != nil {
		return nil, err
	}

	renderer := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
	var buf bytes.Buffer
	if err := renderer.Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("render transcript html: %w", err)
	}

	// Transcript text is model output; strip anything not safe for
	// user-generated content.
	return bluemonday.UGCPolicy().SanitizeBytes(buf.Bytes()), nil
}
