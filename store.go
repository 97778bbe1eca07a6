package cmux

import (
	"sort"
	"sync"
	"time"

	"github.com/coder/cmux-sub012/streaming"
	"github.com/coder/cmux-sub012/types"
)

// Listener is notified after any store mutation: a new event ingested, a
// metadata update, or a recency bump. Notification granularity is
// store-wide, so listeners must tolerate being called for workspaces they
// do not care about and read only the slice they need.
type Listener func()

// WorkspaceState is a read-only snapshot of one workspace. Consumers must
// not retain references expecting live updates; every notification should
// be followed by a fresh read.
type WorkspaceState struct {
	ID        string
	Messages  []types.Message
	Metadata  map[string]any
	RecencyMS int64
}

type workspaceState struct {
	id         string
	aggregator *streaming.Aggregator
	metadata   map[string]any
	recencyMS  int64
}

// Store owns all workspace state: one aggregator per workspace, created
// lazily on first reference, plus metadata and recency. The store is the
// only broadly shared mutable structure; all mutation goes through its
// methods and reads are snapshots.
type Store struct {
	config *Config

	mu         sync.RWMutex
	workspaces map[string]*workspaceState

	listenerMu sync.RWMutex
	listeners  map[int64]Listener
	nextSubID  int64

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the time source. Used by tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty workspace store. A nil config uses defaults.
func NewStore(config *Config, opts ...StoreOption) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Store{
		config:     config,
		workspaces: make(map[string]*workspaceState),
		listeners:  make(map[int64]Listener),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the store's configuration.
func (s *Store) Config() *Config {
	return s.config
}

// Subscribe registers a listener for store mutations. Notification is
// synchronous. Returns a function to unsubscribe.
func (s *Store) Subscribe(l Listener) func() {
	s.listenerMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = l
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// notify synchronously invokes every listener. Called after the state
// mutation is complete and no store locks are held.
func (s *Store) notify() {
	s.listenerMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l()
	}
}

// Aggregator returns the workspace's stream aggregator, creating the
// backing state on first reference.
func (s *Store) Aggregator(id string) *streaming.Aggregator {
	return s.state(id).aggregator
}

func (s *Store) state(id string) *workspaceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[id]
	if ok {
		return ws
	}

	ws = &workspaceState{
		id:       id,
		metadata: make(map[string]any),
	}
	ws.aggregator = streaming.NewAggregator(
		streaming.WithObserver(func(committed bool) {
			if committed {
				s.bump(id)
			}
			s.notify()
		}),
	)
	s.workspaces[id] = ws
	return ws
}

// bump records activity for a workspace. Safe to call with or without a
// prior reference.
func (s *Store) bump(id string) {
	nowMS := s.now().UnixMilli()
	s.mu.Lock()
	if ws, ok := s.workspaces[id]; ok {
		ws.recencyMS = nowMS
	}
	s.mu.Unlock()
}

// AppendUser appends a user-originated message to the workspace log and
// bumps recency. The aggregator's observer handles notification.
func (s *Store) AppendUser(id string, msg types.Message) {
	s.state(id).aggregator.AppendUser(msg)
}

// SetMetadata updates one metadata key for a workspace.
func (s *Store) SetMetadata(id, key string, value any) {
	ws := s.state(id)
	s.mu.Lock()
	ws.metadata[key] = value
	s.mu.Unlock()
	s.notify()
}

// WorkspaceState returns a snapshot of one workspace, or false when the
// workspace has never been referenced.
func (s *Store) WorkspaceState(id string) (WorkspaceState, bool) {
	s.mu.RLock()
	ws, ok := s.workspaces[id]
	s.mu.RUnlock()
	if !ok {
		return WorkspaceState{}, false
	}
	return s.snapshot(ws), true
}

// AllStates returns a snapshot of every workspace keyed by id.
func (s *Store) AllStates() map[string]WorkspaceState {
	s.mu.RLock()
	states := make([]*workspaceState, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		states = append(states, ws)
	}
	s.mu.RUnlock()

	out := make(map[string]WorkspaceState, len(states))
	for _, ws := range states {
		out[ws.id] = s.snapshot(ws)
	}
	return out
}

func (s *Store) snapshot(ws *workspaceState) WorkspaceState {
	// Aggregator snapshots self-lock; take them outside s.mu.
	messages := ws.aggregator.Messages()

	s.mu.RLock()
	metadata := make(map[string]any, len(ws.metadata))
	for k, v := range ws.metadata {
		metadata[k] = v
	}
	recency := ws.recencyMS
	s.mu.RUnlock()

	return WorkspaceState{
		ID:        ws.id,
		Messages:  messages,
		Metadata:  metadata,
		RecencyMS: recency,
	}
}

// Recency returns the last-activity timestamp in Unix milliseconds for
// every workspace.
func (s *Store) Recency() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.workspaces))
	for id, ws := range s.workspaces {
		out[id] = ws.recencyMS
	}
	return out
}

// Partition splits workspace ids into recent and old by the configured
// staleness threshold: last activity at least the threshold ago means
// old. Each group is sorted most recent first.
func (s *Store) Partition(now time.Time) (recent, old []string) {
	cutoffMS := now.Add(-s.config.StalenessThreshold).UnixMilli()

	s.mu.RLock()
	type entry struct {
		id        string
		recencyMS int64
	}
	entries := make([]entry, 0, len(s.workspaces))
	for id, ws := range s.workspaces {
		entries = append(entries, entry{id: id, recencyMS: ws.recencyMS})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].recencyMS != entries[j].recencyMS {
			return entries[i].recencyMS > entries[j].recencyMS
		}
		return entries[i].id < entries[j].id
	})

	for _, e := range entries {
		if e.recencyMS > cutoffMS {
			recent = append(recent, e.id)
		} else {
			old = append(old, e.id)
		}
	}
	return recent, old
}

// Remove discards a workspace's state. Called when the workspace is
// removed upstream.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, existed := s.workspaces[id]
	delete(s.workspaces, id)
	s.mu.Unlock()

	if !existed {
		return NewWorkspaceError("remove workspace", id, ErrWorkspaceNotFound)
	}
	s.notify()
	return nil
}
