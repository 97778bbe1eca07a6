// Package compaction coordinates conversation compaction: a marked user
// message asks the model to summarize the transcript so far, and the
// controller handles the ways that request can end before the summary
// finishes streaming. Cancelling discards the request entirely and
// restores the typed command; accepting early keeps the partial summary
// produced so far.
//
// The controller never talks to a provider itself. It interrupts the
// stream through an injected Interruptor and reacts when the resulting
// interruption reaches the aggregator.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cmux "github.com/coder/cmux-sub012"
	"github.com/coder/cmux-sub012/streaming"
	"github.com/coder/cmux-sub012/types"
)

// Interruptor stops the in-flight assistant stream for a workspace. The
// stream surfaces the stop as an abort, which the caller ingests before
// invoking HandleInterrupted.
type Interruptor interface {
	Interrupt(ctx context.Context) error
}

// HistoryTruncator trims a workspace's persisted transcript down to a
// leading fraction of its messages.
type HistoryTruncator interface {
	TruncateFraction(ctx context.Context, workspaceID string, keepFraction float64) error
}

// CountTruncator trims a persisted transcript to an exact message count.
// History stores that implement it get precise truncation; others fall
// back to TruncateFraction.
type CountTruncator interface {
	TruncateToCount(ctx context.Context, workspaceID string, keep int) error
}

// Recorder persists the outcome of an accepted compaction.
type Recorder interface {
	AppendMessage(ctx context.Context, workspaceID string, msg types.Message) error
	RecordCompaction(ctx context.Context, workspaceID string, messagesBefore, messagesAfter int) error
}

// Config carries the collaborators for one workspace's Controller. Only
// Aggregator and Interruptor are required.
type Config struct {
	WorkspaceID string
	Aggregator  *streaming.Aggregator
	Interruptor Interruptor

	// History receives truncations mirroring the in-memory transcript.
	// Optional; may also implement CountTruncator and Recorder.
	History HistoryTruncator

	// RestoreInput receives the raw command text after a cancel so the
	// caller can put it back in the editor. Optional.
	RestoreInput func(text string)

	// Sentinel is appended to a partial summary accepted early. Empty
	// means the default sentinel.
	Sentinel string

	// SummarizerModel is stamped on an accepted summary message when the
	// partial stream carried no model of its own. Empty means the default
	// summarizer model.
	SummarizerModel string

	Logger *slog.Logger
}

// ConfigFromCore seeds a Config with the tunables the core configuration
// carries. Collaborators still have to be filled in by the caller.
func ConfigFromCore(workspaceID string, core *cmux.Config) Config {
	return Config{
		WorkspaceID:     workspaceID,
		Sentinel:        core.TruncationSentinel,
		SummarizerModel: core.SummarizerModel,
	}
}

// Controller drives cancellation and early acceptance of a compaction
// request for a single workspace.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	cancelling bool
	requestIdx int
	rawCommand string
}

// NewController validates cfg and returns a Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Aggregator == nil {
		return nil, fmt.Errorf("%w: aggregator is required", cmux.ErrInvalidConfig)
	}
	if cfg.Interruptor == nil {
		return nil, fmt.Errorf("%w: interruptor is required", cmux.ErrInvalidConfig)
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = cmux.DefaultTruncationSentinel
	}
	if cfg.SummarizerModel == "" {
		cfg.SummarizerModel = cmux.DefaultSummarizerModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, requestIdx: -1}, nil
}

// requestIndex returns the index of the trailing compaction request in
// msgs, or -1 when the last user message is not a request.
func requestIndex(msgs []types.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleUser {
			continue
		}
		if IsRequest(msgs[i]) {
			return i
		}
		return -1
	}
	return -1
}

// Cancel aborts a pending or in-flight compaction and rolls the
// conversation back to the state before the request was sent: the
// request message and any partial summary are removed, persisted
// history is trimmed to match, and the raw command text is handed back
// for restoration. A request whose summary has not started streaming
// yet is rolled back without an interrupt. Returns false with nil
// error when the trailing user message is not a compaction request or
// the summary already committed.
//
// The cancelling flag is set before the stream is interrupted so the
// interruption handler knows to skip summary handling.
func (c *Controller) Cancel(ctx context.Context) (bool, error) {
	msgs := c.cfg.Aggregator.Messages()
	idx := requestIndex(msgs)
	if idx < 0 {
		return false, nil
	}
	open := c.cfg.Aggregator.Streaming()
	// Messages after the request with no stream open mean the summary
	// already committed; that compaction is done, not cancellable.
	if !open && idx != len(msgs)-1 {
		return false, nil
	}
	raw := RawCommand(msgs[idx])

	if open {
		c.mu.Lock()
		c.cancelling = true
		c.requestIdx = idx
		c.rawCommand = raw
		c.mu.Unlock()

		if err := c.cfg.Interruptor.Interrupt(ctx); err != nil {
			c.mu.Lock()
			c.cancelling = false
			c.mu.Unlock()
			return false, cmux.NewWorkspaceError("cancel compaction", c.cfg.WorkspaceID, err).WithContext("stage", "interrupt")
		}
	}

	if err := c.truncateHistory(ctx, idx, len(msgs)); err != nil {
		c.cfg.Logger.Warn("history truncation failed during cancel",
			"workspace_id", c.cfg.WorkspaceID, "error", err)
	}
	if err := c.cfg.Aggregator.TruncateTo(idx); err != nil {
		return false, cmux.NewWorkspaceError("cancel compaction", c.cfg.WorkspaceID, err)
	}

	if c.cfg.RestoreInput != nil && raw != "" {
		c.cfg.RestoreInput(raw)
	}
	return true, nil
}

// AcceptEarly stops the summary stream so the partial summary streamed
// so far becomes the compaction result. The actual swap happens in
// HandleInterrupted once the abort reaches the aggregator.
//
// Unlike Cancel, AcceptEarly needs partial output to keep and so
// requires the summary stream to be open: it returns false with nil
// error when the trailing user message is not a compaction request or
// nothing is streaming.
func (c *Controller) AcceptEarly(ctx context.Context) (bool, error) {
	msgs := c.cfg.Aggregator.Messages()
	if requestIndex(msgs) < 0 || !c.cfg.Aggregator.Streaming() {
		return false, nil
	}
	if err := c.cfg.Interruptor.Interrupt(ctx); err != nil {
		return false, cmux.NewWorkspaceError("accept compaction early", c.cfg.WorkspaceID, err).WithContext("stage", "interrupt")
	}
	return true, nil
}

// HandleInterrupted reacts to a stream interruption after the abort has
// been ingested. A cancelled compaction was already rolled back by
// Cancel, so the flag is consumed and nothing else happens. Otherwise,
// when the trailing user message is a compaction request, the partial
// summary text plus a truncation sentinel replaces the conversation
// from the request onward. Interruptions unrelated to compaction return
// false.
func (c *Controller) HandleInterrupted(ctx context.Context) (bool, error) {
	c.mu.Lock()
	wasCancelling := c.cancelling
	c.cancelling = false
	c.mu.Unlock()
	if wasCancelling {
		return false, nil
	}

	msgs := c.cfg.Aggregator.Messages()
	idx := requestIndex(msgs)
	if idx < 0 {
		return false, nil
	}

	var partial strings.Builder
	model := c.cfg.SummarizerModel
	for _, m := range msgs[idx+1:] {
		if m.Role != types.RoleAssistant {
			continue
		}
		partial.WriteString(m.Text())
		if m.Model != "" {
			model = m.Model
		}
	}

	summary := types.Message{
		ID:    uuid.NewString(),
		Role:  types.RoleAssistant,
		Model: model,
		Parts: []types.Part{
			types.TextPart{Text: partial.String() + c.cfg.Sentinel},
		},
		Metadata:  map[string]any{MetadataTypeKey: TypeCompactionSummary},
		Truncated: true,
		CreatedAt: time.Now(),
	}
	if err := c.cfg.Aggregator.CompactInto(idx, summary); err != nil {
		return false, cmux.NewWorkspaceError("accept compaction early", c.cfg.WorkspaceID, err)
	}

	if err := c.recordAccepted(ctx, idx, len(msgs), summary); err != nil {
		c.cfg.Logger.Warn("history update failed after accepted compaction",
			"workspace_id", c.cfg.WorkspaceID, "error", err)
	}
	return true, nil
}

func (c *Controller) truncateHistory(ctx context.Context, keep, total int) error {
	if c.cfg.History == nil {
		return nil
	}
	if ct, ok := c.cfg.History.(CountTruncator); ok {
		return ct.TruncateToCount(ctx, c.cfg.WorkspaceID, keep)
	}
	return c.cfg.History.TruncateFraction(ctx, c.cfg.WorkspaceID, float64(keep)/float64(total+1))
}

func (c *Controller) recordAccepted(ctx context.Context, keep, total int, summary types.Message) error {
	if c.cfg.History == nil {
		return nil
	}
	if err := c.truncateHistory(ctx, keep, total); err != nil {
		return err
	}
	rec, ok := c.cfg.History.(Recorder)
	if !ok {
		return nil
	}
	if err := rec.AppendMessage(ctx, c.cfg.WorkspaceID, summary); err != nil {
		return err
	}
	return rec.RecordCompaction(ctx, c.cfg.WorkspaceID, total, keep+1)
}
