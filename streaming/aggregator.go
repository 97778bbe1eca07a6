// Package streaming reassembles ordered workspace stream events into a
// committed message log.
//
// Per-workspace state machine:
//
//	idle -> streaming          (StartEvent)
//	streaming -> idle          (EndEvent commits, AbortEvent commits truncated)
//
// Only one message may be streaming at a time. Re-ingesting events for an
// already-committed message id is a no-op, so duplicate delivery is safe.
package streaming

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/cmux-sub012/types"
)

type phase int

const (
	phaseIdle phase = iota
	phaseStreaming
)

// Observer is invoked after each mutation of the log, outside the
// aggregator lock. committed is true when the mutation finished a
// message (commit, abort, or an appended user message).
type Observer func(committed bool)

// Aggregator turns one workspace's ordered stream events into messages.
// It never blocks; all methods are safe for concurrent use, though events
// for a workspace are expected to arrive from a single delivery channel.
type Aggregator struct {
	mu        sync.Mutex
	messages  []types.Message
	phase     phase
	openID    string
	openIdx   int
	committed map[string]bool

	observer Observer
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithObserver sets the mutation observer.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		openIdx:   -1,
		committed: make(map[string]bool),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest applies one stream event to the log.
//
// Malformed or duplicate events are ignored and return nil. The one
// exception is a StartEvent while a message is already streaming: that is
// a programming error in the delivery layer and returns
// ErrStreamAlreadyOpen so it cannot silently corrupt the log.
func (a *Aggregator) Ingest(event Event) error {
	a.mu.Lock()

	var committed bool
	var mutated bool
	var err error

	switch ev := event.(type) {
	case *StartEvent:
		mutated, err = a.applyStart(ev)
	case *DeltaEvent:
		mutated = a.applyDelta(ev)
	case *EndEvent:
		mutated = a.applyEnd(ev)
		committed = mutated
	case *AbortEvent:
		mutated = a.applyAbort(ev)
		committed = mutated
	default:
		a.mu.Unlock()
		return fmt.Errorf("streaming: unhandled event variant %T", event)
	}

	observer := a.observer
	a.mu.Unlock()

	if err != nil {
		return err
	}
	if mutated && observer != nil {
		observer(committed)
	}
	return nil
}

func (a *Aggregator) applyStart(ev *StartEvent) (bool, error) {
	if a.committed[ev.MessageID] {
		// Duplicate delivery of a start for a finished message.
		return false, nil
	}
	if a.phase == phaseStreaming {
		return false, fmt.Errorf("%w: message %s still open", ErrStreamAlreadyOpen, a.openID)
	}

	a.messages = append(a.messages, types.Message{
		ID:        ev.MessageID,
		Role:      types.RoleAssistant,
		Model:     ev.Model,
		CreatedAt: a.now(),
	})
	a.phase = phaseStreaming
	a.openID = ev.MessageID
	a.openIdx = len(a.messages) - 1
	return true, nil
}

func (a *Aggregator) applyDelta(ev *DeltaEvent) bool {
	if a.phase != phaseStreaming {
		return false
	}

	// Committed messages may land behind the open one while it streams, so
	// the open message is addressed by index, never as the tail of the log.
	msg := &a.messages[a.openIdx]
	if merged := mergeIntoLastPart(msg, ev); merged {
		return true
	}
	msg.Parts = append(msg.Parts, newPartForDelta(ev))
	return true
}

// mergeIntoLastPart appends the delta to the last part when the kinds
// match. Returns false when a new part must be opened.
func mergeIntoLastPart(msg *types.Message, ev *DeltaEvent) bool {
	if len(msg.Parts) == 0 {
		return false
	}

	last := msg.Parts[len(msg.Parts)-1]
	switch p := last.(type) {
	case types.TextPart:
		if ev.Kind != DeltaText {
			return false
		}
		p.Text += ev.Text
		msg.Parts[len(msg.Parts)-1] = p
	case types.ReasoningPart:
		if ev.Kind != DeltaReasoning {
			return false
		}
		p.Text += ev.Text
		msg.Parts[len(msg.Parts)-1] = p
	case types.ToolPart:
		if ev.Kind != DeltaToolArgs {
			return false
		}
		p.Input = append(p.Input, ev.Text...)
		msg.Parts[len(msg.Parts)-1] = p
	case types.FilePart:
		// Files never arrive as deltas; a delta after a file part opens
		// a new part of the delta's kind.
		return false
	default:
		panic(fmt.Sprintf("streaming: unhandled part variant %T", last))
	}
	return true
}

func newPartForDelta(ev *DeltaEvent) types.Part {
	switch ev.Kind {
	case DeltaText:
		return types.TextPart{Text: ev.Text}
	case DeltaReasoning:
		return types.ReasoningPart{Text: ev.Text}
	case DeltaToolArgs:
		return types.ToolPart{
			State: types.ToolStateInputAvailable,
			Input: []byte(ev.Text),
		}
	default:
		panic(fmt.Sprintf("streaming: unhandled delta kind %q", ev.Kind))
	}
}

func (a *Aggregator) applyEnd(ev *EndEvent) bool {
	if a.phase != phaseStreaming {
		// Duplicate or stray EndEvent.
		return false
	}

	msg := &a.messages[a.openIdx]
	msg.Parts = types.CloneParts(ev.Parts)
	msg.Usage = ev.Usage
	if ev.Model != "" {
		msg.Model = ev.Model
	}
	if ev.Metadata != nil {
		msg.Metadata = ev.Metadata
	}

	a.committed[a.openID] = true
	a.phase = phaseIdle
	a.openID = ""
	a.openIdx = -1
	return true
}

func (a *Aggregator) applyAbort(ev *AbortEvent) bool {
	if a.phase != phaseStreaming {
		return false
	}

	msg := &a.messages[a.openIdx]
	if ev.PartialParts != nil {
		msg.Parts = types.CloneParts(ev.PartialParts)
	}
	msg.Truncated = true

	a.committed[a.openID] = true
	a.phase = phaseIdle
	a.openID = ""
	a.openIdx = -1
	return true
}

// AppendUser appends a committed user message to the log. User sends flow
// through the same log as streamed assistant messages so ordering is
// preserved.
func (a *Aggregator) AppendUser(msg types.Message) {
	a.mu.Lock()
	msg.Role = types.RoleUser
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = a.now()
	}
	a.messages = append(a.messages, msg.Clone())
	a.committed[msg.ID] = true
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(true)
	}
}

// Messages returns a snapshot of the full ordered log. The returned slice
// and its messages share no mutable state with the aggregator; consumers
// may not observe later mutations through it.
func (a *Aggregator) Messages() []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.Message, len(a.messages))
	for i, m := range a.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the current message count.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

// Streaming reports whether a message is currently open.
func (a *Aggregator) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase == phaseStreaming
}

// TruncateTo discards all messages at index keep and beyond. If the open
// streaming message is discarded the aggregator returns to idle.
func (a *Aggregator) TruncateTo(keep int) error {
	a.mu.Lock()
	if keep < 0 || keep > len(a.messages) {
		a.mu.Unlock()
		return fmt.Errorf("%w: keep=%d len=%d", ErrInvalidTruncation, keep, len(a.messages))
	}

	dropped := a.messages[keep:]
	a.messages = a.messages[:keep]
	for _, m := range dropped {
		delete(a.committed, m.ID)
		if a.phase == phaseStreaming && m.ID == a.openID {
			a.phase = phaseIdle
			a.openID = ""
			a.openIdx = -1
		}
	}
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(false)
	}
	return nil
}

// CompactInto replaces every message at index from and beyond with the
// given summary message. Used by the compaction controller when a partial
// summary is accepted early.
func (a *Aggregator) CompactInto(from int, summary types.Message) error {
	a.mu.Lock()
	if from < 0 || from > len(a.messages) {
		a.mu.Unlock()
		return fmt.Errorf("%w: from=%d len=%d", ErrInvalidTruncation, from, len(a.messages))
	}

	for _, m := range a.messages[from:] {
		delete(a.committed, m.ID)
	}
	a.messages = append(a.messages[:from], summary.Clone())
	a.committed[summary.ID] = true
	a.phase = phaseIdle
	a.openID = ""
	a.openIdx = -1
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(true)
	}
	return nil
}
