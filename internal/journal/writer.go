package journal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eapache/queue"

	"github.com/roach88/splithost/internal/timer"
)

// Writer persists timer events in the background. Observe is a
// timer.Observer and never blocks on the database; Run drains the queue.
//
// The queue is unbounded so a slow disk never drops or stalls events.
//
// Thread-safety: Observe may be called from any goroutine. Run must be
// called from exactly one goroutine.
type Writer struct {
	store   *Store
	session string
	logger  *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
	signal  chan struct{} // buffered, size 1
}

// NewWriter creates a writer for session.
func NewWriter(store *Store, session string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:   store,
		session: session,
		logger:  logger,
		pending: queue.New(),
		signal:  make(chan struct{}, 1),
	}
}

// Session returns the session id events are written under.
func (w *Writer) Session() string {
	return w.session
}

// Observe enqueues ev. Events observed after Close are dropped.
func (w *Writer) Observe(ev timer.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending.Add(ev)

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Writer) tryDequeue() (timer.Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Length() == 0 {
		return timer.Event{}, false
	}
	return w.pending.Remove().(timer.Event), true
}

// Len returns the number of events not yet written.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending.Length()
}

// Close stops accepting events. Run drains what is queued and returns.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.signal)
}

// Run writes queued events until ctx is cancelled or the writer is closed.
// On either, whatever is already queued is still written before returning.
// Write failures are logged and skipped.
func (w *Writer) Run(ctx context.Context) error {
	for {
		w.drain()

		select {
		case <-ctx.Done():
			w.Close()
			w.drain()
			return ctx.Err()
		case _, ok := <-w.signal:
			if !ok {
				w.drain()
				return nil
			}
		}
	}
}

func (w *Writer) drain() {
	for {
		ev, ok := w.tryDequeue()
		if !ok {
			return
		}
		w.write(ev)
	}
}

func (w *Writer) write(ev timer.Event) {
	// Not tied to the run context: the final drain runs after cancellation.
	ctx := context.Background()
	var err error
	if ev.Entry != nil {
		err = w.store.WriteEntry(ctx, w.session, *ev.Entry)
	} else {
		err = w.store.WriteEvent(ctx, w.session, ev)
	}
	if err != nil {
		w.logger.Error("journal write failed", "session", w.session, "action", ev.Action, "error", err)
	}
}
