// Package cmux implements the workspace streaming and compaction core for
// running several concurrent AI coding-agent conversations.
//
// Each workspace is an independent conversation with its own message log.
// An external transport delivers one ordered stream-event sequence per
// workspace; the per-workspace aggregator (package streaming) reassembles
// those events into committed messages, the Store fans state out to
// observers and tracks recency, token accounting (package tokens) runs off
// the committed and partial text asynchronously, and the compaction
// controller (package compaction) implements the cancel / accept-early
// protocol for context compaction.
//
// # Quick Start
//
//	cfg := cmux.DefaultConfig()
//	store := cmux.NewStore(cfg)
//
//	unsubscribe := store.Subscribe(func() {
//	    // read the slice of state you care about
//	})
//	defer unsubscribe()
//
//	agg := store.Aggregator("workspace-1")
//	agg.Ingest(&streaming.StartEvent{MessageID: "m1", Model: "claude-sonnet-4-5"})
//	agg.Ingest(&streaming.DeltaEvent{Kind: streaming.DeltaText, Text: "Hello"})
//	agg.Ingest(&streaming.EndEvent{Parts: []types.Part{types.TextPart{Text: "Hello"}}})
//
// Window and process management, git worktrees, PTY bridging and rendering
// are external collaborators and are consumed through narrow interfaces;
// see package compaction for the interrupt/truncate capability and package
// transport for the remote-call envelope.
package cmux
