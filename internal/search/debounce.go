package search

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a search runs.
const DefaultDebounce = 300 * time.Millisecond

// SearchFunc performs one search; Searcher.Search satisfies it.
type SearchFunc func(ctx context.Context, query string) ([]Suggestion, error)

// DeliverFunc receives the outcome of the latest query. It is called with the
// debouncer lock held and must not call Trigger or Stop.
type DeliverFunc func(query string, suggestions []Suggestion, err error)

// Debouncer runs a search once input has been quiet for a fixed delay. Each
// Trigger replaces the pending search and cancels one already in flight;
// results of superseded queries are dropped.
type Debouncer struct {
	delay   time.Duration
	search  SearchFunc
	deliver DeliverFunc

	mu         sync.Mutex
	timer      *time.Timer
	cancel     context.CancelFunc
	generation uint64
	stopped    bool
	wg         sync.WaitGroup
}

// NewDebouncer creates a Debouncer. A non-positive delay uses DefaultDebounce.
func NewDebouncer(delay time.Duration, search SearchFunc, deliver DeliverFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, search: search, deliver: deliver}
}

// Trigger schedules a search for query after the quiet period.
func (d *Debouncer) Trigger(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.cancelPendingLocked()

	d.generation++
	gen := d.generation
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		defer cancel()

		if ctx.Err() != nil {
			return
		}
		results, err := d.search(ctx, query)

		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.generation || d.stopped || ctx.Err() != nil {
			return
		}
		d.deliver(query, results, err)
	})
}

// cancelPendingLocked stops the pending timer and cancels a running search.
func (d *Debouncer) cancelPendingLocked() {
	if d.timer != nil && d.timer.Stop() {
		// the callback will never run
		d.wg.Done()
	}
	d.timer = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Stop cancels pending and running searches and waits for them to return.
// Trigger is a no-op afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.cancelPendingLocked()
	d.mu.Unlock()

	d.wg.Wait()
}
