package tokens

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestItem is one message's text inside a tokenization request.
type RequestItem struct {
	MessageID string
	Text      string
}

// Request is a correlated tokenization request delivered to the worker.
type Request struct {
	// ID correlates the response; stale ids are dropped by the receiver.
	ID uuid.UUID

	// Model selects the tokenizer encoding.
	Model string

	Items []RequestItem
}

// Response carries the counts for one Request.
type Response struct {
	ID uuid.UUID

	// Counts maps message id to exact token count. Items whose
	// tokenization failed are absent; failures are isolated per message.
	Counts map[string]int

	// Err is set when no items could be tokenized.
	Err error
}

// NotificationType identifies an out-of-band worker notification.
type NotificationType string

const (
	// NotificationTokenizerReady is broadcast once the worker is running.
	NotificationTokenizerReady NotificationType = "tokenizer-ready"

	// NotificationEncodingLoaded is broadcast the first time a model's
	// encoding is used.
	NotificationEncodingLoaded NotificationType = "encoding-loaded"
)

// Notification is a fire-and-forget broadcast from the worker. It carries
// no correlation id.
type Notification struct {
	Type     NotificationType
	Encoding string
}

// Worker runs exact tokenization on its own goroutine so the interactive
// path never blocks on it. Responses are delivered to the handler given
// at construction, on the worker goroutine.
type Worker struct {
	tokenizer Tokenizer
	handle    func(Response)
	logger    *slog.Logger

	requests chan Request

	mu        sync.RWMutex
	handlers  map[int64]func(Notification)
	nextSubID int64

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker. handle receives every response; it must not
// block for long since the worker is single-threaded.
func NewWorker(tokenizer Tokenizer, handle func(Response), logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		tokenizer: tokenizer,
		handle:    handle,
		logger:    logger,
		requests:  make(chan Request, 16),
		handlers:  make(map[int64]func(Notification)),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return nil
}

// Stop shuts the worker down and waits for the goroutine to exit.
func (w *Worker) Stop(context.Context) error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	w.cancel()
	<-w.done
	return nil
}

// Submit queues a request. It never blocks: a full queue or a stopped
// worker is a channel failure.
func (w *Worker) Submit(req Request) error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	select {
	case w.requests <- req:
		return nil
	default:
		return ErrChannelFailure
	}
}

// SubscribeNotifications registers a handler for out-of-band worker
// notifications. Returns a function to unsubscribe.
func (w *Worker) SubscribeNotifications(h func(Notification)) func() {
	w.mu.Lock()
	id := w.nextSubID
	w.nextSubID++
	w.handlers[id] = h
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

func (w *Worker) broadcast(n Notification) {
	w.mu.RLock()
	handlers := make([]func(Notification), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	// loaded tracks which encodings this worker has already touched.
	// Confined to the worker goroutine.
	loaded := make(map[string]bool)

	w.broadcast(Notification{Type: NotificationTokenizerReady})

	for {
		// Cancellation beats draining: requests still queued at shutdown
		// stay unprocessed and are failed by the owner of the wait.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			if !loaded[req.Model] {
				loaded[req.Model] = true
				w.broadcast(Notification{Type: NotificationEncodingLoaded, Encoding: req.Model})
			}
			w.handle(w.process(ctx, req))
		}
	}
}

func (w *Worker) process(ctx context.Context, req Request) Response {
	counts := make(map[string]int, len(req.Items))
	var lastErr error
	for _, item := range req.Items {
		n, err := w.tokenizer.CountTokens(ctx, req.Model, item.Text)
		if err != nil {
			// One message's failure must not affect the others.
			w.logger.Warn("tokenization failed",
				"message_id", item.MessageID, "model", req.Model, "error", err)
			lastErr = err
			continue
		}
		counts[item.MessageID] = n
	}

	resp := Response{ID: req.ID, Counts: counts}
	if len(counts) == 0 && lastErr != nil {
		resp.Err = lastErr
	}
	return resp
}
