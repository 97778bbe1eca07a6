package tokens

import "context"

// Tokenizer computes exact token counts for model-bound text. CountTokens
// is the CPU-or-network-heavy operation the worker keeps off the
// interactive path.
type Tokenizer interface {
	// CountTokens returns the exact token count of text for the model.
	CountTokens(ctx context.Context, model, text string) (int, error)

	// Supports reports whether the tokenizer recognizes the model string.
	Supports(model string) bool
}

// EstimateTokenizer is a purely local tokenizer using a fixed
// characters-per-token divisor. It recognizes every model, so it is
// useful offline and in tests.
type EstimateTokenizer struct {
	// CharsPerToken is the divisor; zero means 4.
	CharsPerToken int
}

// CountTokens implements Tokenizer.
func (e EstimateTokenizer) CountTokens(_ context.Context, _ string, text string) (int, error) {
	divisor := e.CharsPerToken
	if divisor <= 0 {
		divisor = 4
	}
	return len(text) / divisor, nil
}

// Supports implements Tokenizer.
func (EstimateTokenizer) Supports(string) bool { return true }
