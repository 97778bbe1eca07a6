// Package anthropic converts workspace messages into Anthropic API
// parameters for exact token counting.
package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/coder/cmux-sub012/types"
)

// ConvertMessages converts workspace messages to Anthropic message
// parameters. Parts with no API representation are dropped.
func ConvertMessages(messages []types.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if block, ok := convertPart(part); ok {
				blocks = append(blocks, block)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		params = append(params, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: blocks,
		})
	}

	return params
}

func convertPart(part types.Part) (anthropic.ContentBlockParamUnion, bool) {
	switch p := part.(type) {
	case types.TextPart:
		return anthropic.NewTextBlock(p.Text), true

	case types.ReasoningPart:
		// Reasoning text still occupies context, so it counts as text.
		return anthropic.NewTextBlock(p.Text), true

	case types.ToolPart:
		var input any
		if len(p.Input) > 0 {
			_ = json.Unmarshal(p.Input, &input)
		}
		// The API requires a dictionary, not null.
		if input == nil {
			input = map[string]any{}
		}
		return anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName), true

	case types.FilePart:
		if p.URL != "" && p.MediaType != "" && isImageMediaType(p.MediaType) {
			return anthropic.NewImageBlock(anthropic.URLImageSourceParam{
				URL: p.URL,
			}), true
		}
		return anthropic.ContentBlockParamUnion{}, false

	default:
		return anthropic.ContentBlockParamUnion{}, false
	}
}

func isImageMediaType(mediaType string) bool {
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
