package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coder/cmux-sub012/types"
)

// MarkdownExporter renders a transcript as a Markdown document: one
// section per message, tool calls as fenced JSON blocks, reasoning as
// blockquotes.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(title string, msgs []types.Message) ([]byte, error) {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}

	for _, msg := range msgs {
		fmt.Fprintf(&b, "## %s\n\n", roleHeading(msg.Role))
		for _, part := range msg.Parts {
			writePart(&b, part)
		}
		if msg.Truncated {
			b.WriteString("*(message truncated)*\n\n")
		}
	}
	return []byte(b.String()), nil
}

func roleHeading(role types.Role) string {
	switch role {
	case types.RoleUser:
		return "User"
	case types.RoleAssistant:
		return "Assistant"
	default:
		return string(role)
	}
}

func writePart(b *strings.Builder, part types.Part) {
	switch p := part.(type) {
	case types.TextPart:
		b.WriteString(p.Text)
		b.WriteString("\n\n")
	case types.ReasoningPart:
		for _, line := range strings.Split(strings.TrimRight(p.Text, "\n"), "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	case types.ToolPart:
		fmt.Fprintf(b, "**Tool: %s**\n\n", p.ToolName)
		writeJSONBlock(b, "Input", p.Input)
		if p.State == types.ToolStateOutputAvailable {
			writeJSONBlock(b, "Output", p.Output)
		}
	case types.FilePart:
		fmt.Fprintf(b, "**File: %s** (%s)\n\n", p.Filename, p.MediaType)
	default:
		fmt.Fprintf(b, "*(unrenderable part %T)*\n\n", part)
	}
}

func writeJSONBlock(b *strings.Builder, label string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	pretty := raw
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err == nil {
		pretty = buf.Bytes()
	}
	fmt.Fprintf(b, "%s:\n\n```json\n%s\n```\n\n", label, pretty)
}
