// Package tokens tracks token counts and generation throughput for
// streaming messages.
//
// Counting happens in two grades. Every tracked delta updates an instant
// character-based heuristic so the interactive path always has a number.
// Once enough text has buffered (or on Finalize) the message is sent to a
// background tokenization worker for an exact count, which replaces the
// heuristic and is never downgraded back.
//
// The worker channel carries at most one bulk request at a time per
// accountant: a newer Calculate displaces the pending one, rejecting it
// with ErrSuperseded, and responses for stale correlation ids are dropped
// silently.
package tokens

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cmux "github.com/coder/cmux-sub012"
	"github.com/coder/cmux-sub012/streaming"
)

// Config holds accountant configuration.
type Config struct {
	// CharsPerToken is the heuristic divisor. Default: 4
	CharsPerToken int

	// BufferThreshold is the buffered character count that triggers exact
	// tokenization for a message. Default: 400
	BufferThreshold int

	// Window is the trailing throughput window. Default: 10s
	Window time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return ConfigFromCore(cmux.DefaultConfig())
}

// ConfigFromCore derives an accountant Config from the core
// configuration, so tuned heuristic and threshold values flow through.
func ConfigFromCore(core *cmux.Config) *Config {
	return &Config{
		CharsPerToken:   core.CharsPerToken,
		BufferThreshold: core.TokenBufferThreshold,
		Window:          core.TPSWindow,
	}
}

// Stats maps message id to exact token count.
type Stats map[string]int

type messageState struct {
	deltas    []DeltaRecord
	full      strings.Builder
	kindChars map[streaming.DeltaKind]int

	exact        bool
	exactTokens  int
	coveredChars int // chars included in the exact count

	requestedChars int // chars included in the latest issued exact request
}

type inflightItem struct {
	messageID     string
	snapshotChars int
}

type calcOutcome struct {
	stats Stats
	err   error
}

type pendingCalc struct {
	id       uuid.UUID
	ch       chan calcOutcome
	snapshot map[string]int
}

func (p *pendingCalc) resolve(out calcOutcome) {
	select {
	case p.ch <- out:
	default:
	}
}

// Accountant tracks token counts and throughput per message. All methods
// are safe for concurrent use; exact tokenization results are applied
// asynchronously from the worker goroutine.
type Accountant struct {
	config    *Config
	tokenizer Tokenizer
	worker    *Worker
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	model    string
	messages map[string]*messageState
	inflight map[uuid.UUID]inflightItem
	pending  *pendingCalc
}

// NewAccountant creates an accountant backed by the given tokenizer.
// A nil config uses defaults. Call Start before tracking.
func NewAccountant(tokenizer Tokenizer, config *Config) *Accountant {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Accountant{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger,
		now:       time.Now,
		messages:  make(map[string]*messageState),
		inflight:  make(map[uuid.UUID]inflightItem),
	}
	a.worker = NewWorker(tokenizer, a.handleResponse, logger)
	return a
}

// Start launches the tokenization worker.
func (a *Accountant) Start(ctx context.Context) error {
	return a.worker.Start(ctx)
}

// Stop shuts the worker down. A Calculate still waiting on the worker
// is failed with ErrChannelFailure so its caller is not left hanging
// until its context expires.
func (a *Accountant) Stop(ctx context.Context) error {
	err := a.worker.Stop(ctx)

	a.mu.Lock()
	if a.pending != nil {
		a.pending.resolve(calcOutcome{err: ErrChannelFailure})
		a.pending = nil
	}
	a.mu.Unlock()
	return err
}

// SubscribeNotifications registers a handler for out-of-band worker
// notifications (tokenizer-ready, encoding-loaded).
func (a *Accountant) SubscribeNotifications(h func(Notification)) func() {
	return a.worker.SubscribeNotifications(h)
}

// SetModel switches the model used for exact tokenization. Setting an
// unrecognized model string is a no-op when exact counts are already
// cached for a recognized model, so exactness is never downgraded to an
// approximation.
func (a *Accountant) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if model == a.model {
		return
	}
	if !a.tokenizer.Supports(model) && a.tokenizer.Supports(a.model) && a.hasExactLocked() {
		return
	}
	a.model = model
}

// Model returns the model currently used for exact tokenization.
func (a *Accountant) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *Accountant) hasExactLocked() bool {
	for _, st := range a.messages {
		if st.exact {
			return true
		}
	}
	return false
}

// TrackDelta records one streamed delta for a message: the text feeds the
// instant heuristic and a timestamped record feeds throughput. Crossing
// the buffer threshold sends the message for exact tokenization.
func (a *Accountant) TrackDelta(messageID, text string, kind streaming.DeltaKind) {
	if text == "" {
		return
	}

	a.mu.Lock()
	st := a.ensureLocked(messageID)
	st.deltas = append(st.deltas, DeltaRecord{
		Tokens:      len(text) / a.config.CharsPerToken,
		TimestampMS: a.now().UnixMilli(),
		Kind:        kind,
	})
	st.kindChars[kind] += len(text)
	st.full.WriteString(text)

	if st.full.Len()-st.requestedChars >= a.config.BufferThreshold {
		a.issueExactLocked(messageID, st)
	}
	a.mu.Unlock()
}

// Finalize sends the message's full text for exact tokenization.
func (a *Accountant) Finalize(messageID string) {
	a.mu.Lock()
	st, ok := a.messages[messageID]
	if ok && st.full.Len() > 0 && st.full.Len() > st.coveredChars {
		a.issueExactLocked(messageID, st)
	}
	a.mu.Unlock()
}

func (a *Accountant) ensureLocked(messageID string) *messageState {
	st, ok := a.messages[messageID]
	if !ok {
		st = &messageState{kindChars: make(map[streaming.DeltaKind]int)}
		a.messages[messageID] = st
	}
	return st
}

// issueExactLocked sends a single-message exact tokenization request.
// Submission failures are logged and isolated to this message.
func (a *Accountant) issueExactLocked(messageID string, st *messageState) {
	id := uuid.New()
	snapshot := st.full.Len()
	req := Request{
		ID:    id,
		Model: a.model,
		Items: []RequestItem{{MessageID: messageID, Text: st.full.String()}},
	}
	if err := a.worker.Submit(req); err != nil {
		a.logger.Warn("exact tokenization submit failed",
			"message_id", messageID, "error", err)
		return
	}
	st.requestedChars = snapshot
	a.inflight[id] = inflightItem{messageID: messageID, snapshotChars: snapshot}
}

// handleResponse applies worker responses. Runs on the worker goroutine.
func (a *Accountant) handleResponse(resp Response) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil && resp.ID == a.pending.id {
		p := a.pending
		a.pending = nil
		if resp.Err != nil {
			p.resolve(calcOutcome{err: resp.Err})
			return
		}
		for messageID, n := range resp.Counts {
			a.applyExactLocked(messageID, n, p.snapshot[messageID])
		}
		p.resolve(calcOutcome{stats: Stats(resp.Counts)})
		return
	}

	if item, ok := a.inflight[resp.ID]; ok {
		delete(a.inflight, resp.ID)
		if resp.Err != nil {
			a.logger.Warn("exact tokenization failed",
				"message_id", item.messageID, "error", resp.Err)
			return
		}
		if n, ok := resp.Counts[item.messageID]; ok {
			a.applyExactLocked(item.messageID, n, item.snapshotChars)
		}
		return
	}

	// Response for a displaced or cleared request: drop silently.
}

func (a *Accountant) applyExactLocked(messageID string, tokens, coveredChars int) {
	st, ok := a.messages[messageID]
	if !ok {
		return
	}
	if st.exact && coveredChars < st.coveredChars {
		// A newer exact count already covers more text.
		return
	}
	st.exact = true
	st.exactTokens = tokens
	st.coveredChars = coveredChars
}

// TokenCount returns the current best token count for a message: the
// per-kind character heuristic before exact tokenization, the exact
// count (plus a heuristic for any text streamed since) after.
func (a *Accountant) TokenCount(messageID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.messages[messageID]
	if !ok {
		return 0
	}
	if st.exact {
		residual := st.full.Len() - st.coveredChars
		if residual < 0 {
			residual = 0
		}
		return st.exactTokens + residual/a.config.CharsPerToken
	}

	total := 0
	for _, chars := range st.kindChars {
		total += chars / a.config.CharsPerToken
	}
	return total
}

// TPS returns the message's tokens-per-second over the trailing window.
func (a *Accountant) TPS(messageID string) int {
	nowMS := a.now().UnixMilli()

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.messages[messageID]
	if !ok {
		return 0
	}
	return calculateTPS(st.deltas, nowMS, a.config.Window)
}

// Calculate requests exact token counts for every tracked message as one
// bulk request. At most one bulk request is in flight: a newer call
// displaces the previous one, whose wait ends with ErrSuperseded.
// Channel failures end the wait with ErrChannelFailure and leave future
// requests unaffected.
func (a *Accountant) Calculate(ctx context.Context) (Stats, error) {
	a.mu.Lock()
	if a.pending != nil {
		a.pending.resolve(calcOutcome{err: ErrSuperseded})
		a.pending = nil
	}

	items := make([]RequestItem, 0, len(a.messages))
	snapshot := make(map[string]int, len(a.messages))
	for messageID, st := range a.messages {
		items = append(items, RequestItem{MessageID: messageID, Text: st.full.String()})
		snapshot[messageID] = st.full.Len()
	}

	p := &pendingCalc{
		id:       uuid.New(),
		ch:       make(chan calcOutcome, 1),
		snapshot: snapshot,
	}
	a.pending = p
	model := a.model
	a.mu.Unlock()

	if err := a.worker.Submit(Request{ID: p.id, Model: model, Items: items}); err != nil {
		a.clearPending(p)
		return nil, ErrChannelFailure
	}

	select {
	case out := <-p.ch:
		return out.stats, out.err
	case <-ctx.Done():
		a.clearPending(p)
		return nil, ctx.Err()
	}
}

func (a *Accountant) clearPending(p *pendingCalc) {
	a.mu.Lock()
	if a.pending == p {
		a.pending = nil
	}
	a.mu.Unlock()
}

// Clear discards all state for one message. In-flight results for it are
// dropped when they arrive.
func (a *Accountant) Clear(messageID string) {
	a.mu.Lock()
	delete(a.messages, messageID)
	for id, item := range a.inflight {
		if item.messageID == messageID {
			delete(a.inflight, id)
		}
	}
	a.mu.Unlock()
}

// ClearAll discards state for every message.
func (a *Accountant) ClearAll() {
	a.mu.Lock()
	a.messages = make(map[string]*messageState)
	a.inflight = make(map[uuid.UUID]inflightItem)
	a.mu.Unlock()
}
