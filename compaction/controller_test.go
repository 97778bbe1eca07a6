package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	cmux "github.com/coder/cmux-sub012"
	"github.com/coder/cmux-sub012/streaming"
	"github.com/coder/cmux-sub012/types"
)

type fakeInterruptor struct {
	agg      *streaming.Aggregator
	err      error
	onAbort  func()
	called   int
}

// Interrupt delivers the abort synchronously, the way a provider stream
// surfaces a stop.
func (f *fakeInterruptor) Interrupt(_ context.Context) error {
	f.called++
	if f.err != nil {
		return f.err
	}
	if err := f.agg.Ingest(&streaming.AbortEvent{}); err != nil {
		return err
	}
	if f.onAbort != nil {
		f.onAbort()
	}
	return nil
}

type historyCall struct {
	op   string
	keep int
}

type fakeHistory struct {
	calls    []historyCall
	appended []types.Message
	recorded [][2]int
}

func (f *fakeHistory) TruncateFraction(_ context.Context, _ string, keepFraction float64) error {
	f.calls = append(f.calls, historyCall{op: "fraction", keep: int(keepFraction * 100)})
	return nil
}

func (f *fakeHistory) TruncateToCount(_ context.Context, _ string, keep int) error {
	f.calls = append(f.calls, historyCall{op: "count", keep: keep})
	return nil
}

func (f *fakeHistory) AppendMessage(_ context.Context, _ string, msg types.Message) error {
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeHistory) RecordCompaction(_ context.Context, _ string, before, after int) error {
	f.recorded = append(f.recorded, [2]int{before, after})
	return nil
}

// midCompaction builds a conversation with one finished exchange, a
// compaction request, and a partially streamed summary still open.
func midCompaction(t *testing.T) *streaming.Aggregator {
	t.Helper()
	agg := streaming.NewAggregator()
	agg.AppendUser(types.NewUserMessage("hello"))

	ingest := func(ev streaming.Event) {
		t.Helper()
		if err := agg.Ingest(ev); err != nil {
			t.Fatalf("Ingest(%T): %v", ev, err)
		}
	}
	ingest(&streaming.StartEvent{MessageID: "a1", Model: "claude-sonnet-4-5"})
	ingest(&streaming.DeltaEvent{Kind: streaming.DeltaText, Text: "Hi there."})
	ingest(&streaming.EndEvent{Parts: []types.Part{types.TextPart{Text: "Hi there."}}})

	agg.AppendUser(NewRequestMessage("Summarize the conversation so far.", "/compact -m hi"))

	ingest(&streaming.StartEvent{MessageID: "a2", Model: "claude-sonnet-4-5"})
	ingest(&streaming.DeltaEvent{Kind: streaming.DeltaText, Text: "Partial summary"})
	return agg
}

func newTestController(t *testing.T, agg *streaming.Aggregator, mut func(*Config)) (*Controller, *fakeInterruptor) {
	t.Helper()
	intr := &fakeInterruptor{agg: agg}
	cfg := Config{
		WorkspaceID: "ws-1",
		Aggregator:  agg,
		Interruptor: intr,
	}
	if mut != nil {
		mut(&cfg)
	}
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl, intr
}

func TestCancelRollsBackToBeforeRequest(t *testing.T) {
	agg := midCompaction(t)
	hist := &fakeHistory{}
	var restored string
	ctrl, intr := newTestController(t, agg, func(cfg *Config) {
		cfg.History = hist
		cfg.RestoreInput = func(text string) { restored = text }
	})

	ok, err := ctrl.Cancel(context.Background())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("Cancel = false, want true")
	}
	if intr.called != 1 {
		t.Errorf("interrupt called %d times", intr.called)
	}

	msgs := agg.Messages()
	if len(msgs) != 2 {
		t.Fatalf("conversation has %d messages, want 2: %+v", len(msgs), msgs)
	}
	if msgs[0].Text() != "hello" || msgs[1].Text() != "Hi there." {
		t.Errorf("unexpected survivors: %q, %q", msgs[0].Text(), msgs[1].Text())
	}
	if restored != "/compact -m hi" {
		t.Errorf("restored input = %q", restored)
	}
	if len(hist.calls) != 1 || hist.calls[0].op != "count" || hist.calls[0].keep != 2 {
		t.Errorf("history calls = %+v, want one count truncation to 2", hist.calls)
	}
}

func TestCancelSetsFlagBeforeInterrupt(t *testing.T) {
	agg := midCompaction(t)
	ctrl, intr := newTestController(t, agg, nil)

	// The abort handler fires while Cancel is still mid-flight. The
	// cancelling flag must already be visible so the handler does not
	// treat the abort as an early acceptance.
	var handled bool
	intr.onAbort = func() {
		ok, err := ctrl.HandleInterrupted(context.Background())
		if err != nil {
			t.Errorf("HandleInterrupted during cancel: %v", err)
		}
		handled = ok
	}

	if _, err := ctrl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if handled {
		t.Error("abort during cancel was handled as an accepted compaction")
	}
	if got := len(agg.Messages()); got != 2 {
		t.Errorf("conversation has %d messages, want 2", got)
	}
}

func TestCancelWhenNotCompacting(t *testing.T) {
	agg := streaming.NewAggregator()
	agg.AppendUser(types.NewUserMessage("just chatting"))
	ctrl, intr := newTestController(t, agg, nil)

	ok, err := ctrl.Cancel(context.Background())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel = true for a conversation with no compaction in flight")
	}
	if intr.called != 0 {
		t.Error("interrupt called with no compaction in flight")
	}
}

func TestCancelBeforeSummaryStreams(t *testing.T) {
	agg := streaming.NewAggregator()
	agg.AppendUser(types.NewUserMessage("hello"))
	agg.AppendUser(NewRequestMessage("Summarize the conversation so far.", "/compact"))

	var restored string
	ctrl, intr := newTestController(t, agg, func(cfg *Config) {
		cfg.RestoreInput = func(text string) { restored = text }
	})

	ok, err := ctrl.Cancel(context.Background())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("Cancel = false for a pending request, want true")
	}
	if intr.called != 0 {
		t.Error("interrupt called with no stream open")
	}

	msgs := agg.Messages()
	if len(msgs) != 1 || msgs[0].Text() != "hello" {
		t.Errorf("conversation after cancel = %+v, want just the greeting", msgs)
	}
	if restored != "/compact" {
		t.Errorf("restored input = %q", restored)
	}
}

func TestCancelAfterSummaryCommitted(t *testing.T) {
	agg := midCompaction(t)
	if err := agg.Ingest(&streaming.EndEvent{
		Parts: []types.Part{types.TextPart{Text: "Full summary."}},
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	ctrl, intr := newTestController(t, agg, nil)

	ok, err := ctrl.Cancel(context.Background())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel = true after the summary committed")
	}
	if intr.called != 0 {
		t.Error("interrupt called after the summary committed")
	}
	if got := len(agg.Messages()); got != 4 {
		t.Errorf("conversation has %d messages, want 4 untouched", got)
	}
}

func TestAcceptEarlyRequiresOpenStream(t *testing.T) {
	agg := streaming.NewAggregator()
	agg.AppendUser(NewRequestMessage("Summarize the conversation so far.", "/compact"))
	ctrl, intr := newTestController(t, agg, nil)

	ok, err := ctrl.AcceptEarly(context.Background())
	if err != nil {
		t.Fatalf("AcceptEarly: %v", err)
	}
	if ok {
		t.Error("AcceptEarly = true with nothing streaming")
	}
	if intr.called != 0 {
		t.Error("interrupt called with nothing streaming")
	}
}

func TestCancelInterruptFailure(t *testing.T) {
	agg := midCompaction(t)
	ctrl, intr := newTestController(t, agg, nil)
	intr.err = errors.New("stream already gone")

	if _, err := ctrl.Cancel(context.Background()); err == nil {
		t.Fatal("Cancel succeeded despite interrupt failure")
	}

	// The failed cancel must not leave the flag set: a later unrelated
	// interruption still gets handled.
	if err := agg.Ingest(&streaming.AbortEvent{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	ok, err := ctrl.HandleInterrupted(context.Background())
	if err != nil {
		t.Fatalf("HandleInterrupted: %v", err)
	}
	if !ok {
		t.Error("interruption after failed cancel was not handled")
	}
}

func TestAcceptEarlyKeepsPartialSummary(t *testing.T) {
	agg := midCompaction(t)
	hist := &fakeHistory{}
	ctrl, _ := newTestController(t, agg, func(cfg *Config) {
		cfg.History = hist
	})

	ok, err := ctrl.AcceptEarly(context.Background())
	if err != nil {
		t.Fatalf("AcceptEarly: %v", err)
	}
	if !ok {
		t.Fatal("AcceptEarly = false, want true")
	}

	ok, err = ctrl.HandleInterrupted(context.Background())
	if err != nil {
		t.Fatalf("HandleInterrupted: %v", err)
	}
	if !ok {
		t.Fatal("HandleInterrupted = false, want true")
	}

	msgs := agg.Messages()
	if len(msgs) != 3 {
		t.Fatalf("conversation has %d messages, want 3", len(msgs))
	}
	summary := msgs[2]
	if summary.Role != types.RoleAssistant || !summary.Truncated {
		t.Errorf("summary = %+v, want truncated assistant message", summary)
	}
	if !IsSummary(summary) {
		t.Error("summary message lacks the compaction-summary marker")
	}
	want := "Partial summary" + cmux.DefaultTruncationSentinel
	if summary.Text() != want {
		t.Errorf("summary text = %q, want %q", summary.Text(), want)
	}
	if summary.Model != "claude-sonnet-4-5" {
		t.Errorf("summary model = %q, want the streamed model", summary.Model)
	}

	if len(hist.appended) != 1 || !strings.HasPrefix(hist.appended[0].Text(), "Partial summary") {
		t.Errorf("history appended = %+v", hist.appended)
	}
	if len(hist.recorded) != 1 || hist.recorded[0] != [2]int{4, 3} {
		t.Errorf("compaction record = %+v, want [4 3]", hist.recorded)
	}
}

func TestAcceptEarlyUsesConfiguredSentinelAndModel(t *testing.T) {
	agg := streaming.NewAggregator()
	agg.AppendUser(NewRequestMessage("Summarize the conversation so far.", "/compact"))
	ingest := func(ev streaming.Event) {
		t.Helper()
		if err := agg.Ingest(ev); err != nil {
			t.Fatalf("Ingest(%T): %v", ev, err)
		}
	}
	ingest(&streaming.StartEvent{MessageID: "a1"})
	ingest(&streaming.DeltaEvent{Kind: streaming.DeltaText, Text: "So far"})

	core := cmux.DefaultConfig()
	core.TruncationSentinel = "\n\n[cut short]"

	intr := &fakeInterruptor{agg: agg}
	cfg := ConfigFromCore("ws-9", core)
	cfg.Aggregator = agg
	cfg.Interruptor = intr
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if _, err := ctrl.AcceptEarly(context.Background()); err != nil {
		t.Fatalf("AcceptEarly: %v", err)
	}
	if _, err := ctrl.HandleInterrupted(context.Background()); err != nil {
		t.Fatalf("HandleInterrupted: %v", err)
	}

	summary := agg.Messages()[0]
	if got, want := summary.Text(), "So far\n\n[cut short]"; got != want {
		t.Errorf("summary text = %q, want %q", got, want)
	}
	// The stream carried no model, so the configured summarizer is stamped.
	if summary.Model != core.SummarizerModel {
		t.Errorf("summary model = %q, want %q", summary.Model, core.SummarizerModel)
	}
}

func TestHandleInterruptedUnrelated(t *testing.T) {
	agg := streaming.NewAggregator()
	agg.AppendUser(types.NewUserMessage("hello"))
	if err := agg.Ingest(&streaming.StartEvent{MessageID: "a1"}); err != nil {
		t.Fatal(err)
	}
	if err := agg.Ingest(&streaming.AbortEvent{}); err != nil {
		t.Fatal(err)
	}
	ctrl, _ := newTestController(t, agg, nil)

	ok, err := ctrl.HandleInterrupted(context.Background())
	if err != nil {
		t.Fatalf("HandleInterrupted: %v", err)
	}
	if ok {
		t.Error("unrelated interruption handled as compaction")
	}
}

func TestFractionFallback(t *testing.T) {
	agg := midCompaction(t)

	// A history store without exact truncation gets the keep fraction:
	// 2 of 4 messages survive, keep = 2/(4+1).
	var gotFraction float64
	hist := truncateFractionFunc(func(_ context.Context, _ string, keepFraction float64) error {
		gotFraction = keepFraction
		return nil
	})

	ctrl, _ := newTestController(t, agg, func(cfg *Config) {
		cfg.History = hist
	})
	if _, err := ctrl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotFraction != 2.0/5.0 {
		t.Errorf("keep fraction = %v, want 0.4", gotFraction)
	}
}

type truncateFractionFunc func(ctx context.Context, workspaceID string, keepFraction float64) error

func (f truncateFractionFunc) TruncateFraction(ctx context.Context, workspaceID string, keepFraction float64) error {
	return f(ctx, workspaceID, keepFraction)
}
