// Package buffer accumulates incoming events per date-key and flushes them
// to the partition store in batches, either when a queue reaches the batch
// size or when a flush timer elapses.
//
// Mutual exclusion is per date-key, so unrelated dates never contend. At
// most one flush is in flight per key; a flush triggered while another is
// completing is deferred until it finishes, and events enqueued meanwhile
// accumulate in a fresh queue.
package buffer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
	"github.com/sisuxi/sisu-slack-bot/internal/logging"
)

// Appender is the partition store primitive the buffer flushes into. The
// buffer guarantees appends for one date are never concurrent.
type Appender interface {
	Append(date string, events []types.Event) error
}

// Options configures the write buffer.
type Options struct {
	// BatchSize triggers an immediate flush when a queue reaches it.
	// Default: 10.
	BatchSize int

	// FlushInterval is the timer delay armed on the first enqueue for a
	// date-key. Default: 5s.
	FlushInterval time.Duration
}

// DefaultOptions returns the default buffer options.
func DefaultOptions() Options {
	return Options{
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
	}
}

// Stats holds buffer counters.
type Stats struct {
	EventsQueued    atomic.Int64
	EventsPersisted atomic.Int64
	Flushes         atomic.Int64
	FlushErrors     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the buffer counters.
type StatsSnapshot struct {
	EventsQueued    int64
	EventsPersisted int64
	Flushes         int64
	FlushErrors     int64
}

// Buffer is the per-date write buffer.
type Buffer struct {
	store Appender
	opts  Options
	log   *slog.Logger

	// now is swappable in tests.
	now func() time.Time

	mu     sync.Mutex
	queues map[string]*dateQueue
	closed atomic.Bool

	stats Stats
}

// dateQueue holds the pending events and flush state for one date-key.
// Its mutex guards all fields; it is never held across store I/O.
type dateQueue struct {
	mu       sync.Mutex
	pending  []types.Event
	timer    *time.Timer
	flushing bool
	rearm    bool
}

// New creates a write buffer flushing into store.
func New(store Appender, opts Options) *Buffer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultOptions().FlushInterval
	}
	return &Buffer{
		store:  store,
		opts:   opts,
		log:    logging.Component("buffer"),
		now:    time.Now,
		queues: make(map[string]*dateQueue),
	}
}

// Enqueue constructs an Event from caller data, stamping timestamp and
// eventId, and queues it for the record's date partition. Field contents
// are not validated. Reaching the batch size flushes synchronously; the
// returned error is the flush error, never a validation error.
func (b *Buffer) Enqueue(data types.EventData) (types.Event, error) {
	if b.closed.Load() {
		return types.Event{}, errors.ErrBufferClosed
	}

	ev := types.NewEvent(data, b.now())
	key := ev.DateKey()
	q := b.queue(key)

	q.mu.Lock()
	q.pending = append(q.pending, ev)
	n := len(q.pending)
	if n < b.opts.BatchSize {
		if q.timer == nil && !q.flushing {
			q.timer = b.newTimer(key)
		}
		q.mu.Unlock()
		b.stats.EventsQueued.Add(1)
		return ev, nil
	}
	q.mu.Unlock()

	b.stats.EventsQueued.Add(1)
	return ev, b.flushKey(key)
}

// Flush forces a flush of one date-key's queue.
func (b *Buffer) Flush(date string) error {
	b.mu.Lock()
	q := b.queues[date]
	b.mu.Unlock()
	if q == nil {
		return nil
	}
	return b.flushKey(date)
}

// FlushAll flushes every date-key with pending events. Used as the read
// consistency barrier and by Close.
func (b *Buffer) FlushAll() error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.queues))
	for key := range b.queues {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := b.flushKey(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains every key's timer and queue and rejects further enqueues.
// It must be invoked before process exit so no buffered events are lost.
func (b *Buffer) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	err := b.FlushAll()

	// A failed flush leaves its batch queued; drop the timers regardless so
	// nothing fires against a closed buffer.
	b.mu.Lock()
	for _, q := range b.queues {
		q.mu.Lock()
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		q.mu.Unlock()
	}
	b.mu.Unlock()

	return err
}

// Pending returns the number of queued-but-unflushed events for a date.
func (b *Buffer) Pending(date string) int {
	b.mu.Lock()
	q := b.queues[date]
	b.mu.Unlock()
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() StatsSnapshot {
	return StatsSnapshot{
		EventsQueued:    b.stats.EventsQueued.Load(),
		EventsPersisted: b.stats.EventsPersisted.Load(),
		Flushes:         b.stats.Flushes.Load(),
		FlushErrors:     b.stats.FlushErrors.Load(),
	}
}

// queue returns the dateQueue for key, creating it if needed.
func (b *Buffer) queue(key string) *dateQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[key]
	if q == nil {
		q = &dateQueue{}
		b.queues[key] = q
	}
	return q
}

// newTimer arms the flush timer for key. Timer flushes run off the caller's
// goroutine; their errors are surfaced through the log and the batch is
// retained for retry.
func (b *Buffer) newTimer(key string) *time.Timer {
	return time.AfterFunc(b.opts.FlushInterval, func() {
		if err := b.flushKey(key); err != nil {
			b.log.Error("timer flush failed", "date", key, "error", err)
		}
	})
}

// flushKey moves the key's queued events into the store as one append. If a
// flush for the key is already in flight, the trigger is deferred: the
// in-flight flush re-runs after completing. The queue is only cleared once
// the append has succeeded; on failure the batch is restored ahead of any
// events enqueued meanwhile and the timer is re-armed for retry.
func (b *Buffer) flushKey(key string) error {
	q := b.queue(key)

	q.mu.Lock()
	if q.flushing {
		q.rearm = true
		q.mu.Unlock()
		return nil
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	batch := q.pending
	q.pending = nil
	q.flushing = true
	q.mu.Unlock()

	err := b.store.Append(key, batch)

	q.mu.Lock()
	q.flushing = false
	again := false
	if err != nil {
		q.pending = append(batch, q.pending...)
	} else {
		b.stats.Flushes.Add(1)
		b.stats.EventsPersisted.Add(int64(len(batch)))
		again = q.rearm || len(q.pending) >= b.opts.BatchSize
	}
	q.rearm = false
	if len(q.pending) > 0 && q.timer == nil && !again && !b.closed.Load() {
		q.timer = b.newTimer(key)
	}
	q.mu.Unlock()

	if err != nil {
		b.stats.FlushErrors.Add(1)
		return errors.Wrapf(err, "flush partition %s", key)
	}
	if again {
		return b.flushKey(key)
	}
	return nil
}
