package usagelog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	flushTimeout  = 5 * time.Second
)

// Writer decouples the request hot path from log persistence.
//
// Entries go onto an internal buffered channel and a background goroutine
// flushes them to the Store in batches, so a slow or failing store never
// blocks a request. If the channel fills up (> 10 000 entries), new entries
// are dropped and counted in Dropped.
type Writer struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	store   Store
	baseCtx context.Context
	log     *slog.Logger
}

// NewWriter starts the background flusher. Flushes run on a context detached
// from ctx, so entries accepted before Close still persist when ctx is
// already cancelled during shutdown.
func NewWriter(ctx context.Context, store Store, log *slog.Logger) (*Writer, error) {
	if ctx == nil {
		return nil, fmt.Errorf("usagelog: context must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("usagelog: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	w := &Writer{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		store:   store,
		baseCtx: ctx,
		log:     log,
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Write enqueues one entry without blocking. Missing IDs and timestamps are
// filled in here so callers only describe the invocation.
func (w *Writer) Write(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	} else {
		entry.CreatedAt = entry.CreatedAt.UTC()
	}
	entry.Input = Truncate(entry.Input)
	entry.Output = Truncate(entry.Output)

	select {
	case w.ch <- entry:
	default:
		atomic.AddInt64(&w.dropped, 1)
	}
}

// Dropped reports how many entries were discarded because the buffer was full.
func (w *Writer) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

// Close drains buffered entries, flushes them, and stops the flusher.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Detached from the lifetime context: the final drain must still
		// reach the store after shutdown has cancelled it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(w.baseCtx), flushTimeout)
		if err := w.store.Insert(ctx, batch); err != nil {
			w.log.Error("usage log flush failed",
				slog.Int("entries", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-w.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.done:
			for {
				select {
				case entry := <-w.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
