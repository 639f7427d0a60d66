// Package dispatch bridges capture producers to the reconciler. Each
// producer gets its own pump goroutine so one producer's backlog is never
// reordered, while a shared semaphore bounds how many reconciliations run
// across all producers. Stopping drains what was polled but never
// reconciled into the store's pending spool; the next start replays it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inklingd/inkling/internal/observe"
	"github.com/inklingd/inkling/internal/reconcile"
	"github.com/inklingd/inkling/internal/store"
)

// Handler receives every terminal outcome, including skips and failures.
// Handlers run after the update's slot is released; a panicking handler is
// logged and never unwinds the pump.
type Handler func(reconcile.Outcome)

// Options configures NewDispatcher.
type Options struct {
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	// MaxConcurrent bounds reconciliations running at once. Zero selects 4.
	MaxConcurrent int
	// PollInterval is how long an idle pump sleeps between polls.
	// Zero selects 200ms.
	PollInterval time.Duration
}

// Dispatcher runs the update pipeline: poll producers, admit updates
// through the semaphore, reconcile, notify handlers.
type Dispatcher struct {
	store        *store.Store
	rec          *reconcile.Reconciler
	sem          *Semaphore
	pollInterval time.Duration

	mu        sync.Mutex
	producers map[string]*pump
	handlers  []Handler

	running  atomic.Bool
	baseCtx  context.Context // gates admission, cancelled on Stop
	baseStop context.CancelFunc
	workCtx  context.Context // carries reconciliations past Stop until the grace period ends
	workStop context.CancelFunc
	wg       sync.WaitGroup

	admitted  atomic.Int64
	committed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

// pump owns one producer's poll loop.
type pump struct {
	producer observe.Producer
	stop     chan struct{}
	done     chan struct{}
	launched bool
	carry    *observe.Update // polled but not admitted when stopping
}

// NewDispatcher creates a dispatcher. Producers and handlers are
// registered separately before or after Start.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Dispatcher{
		store:        opts.Store,
		rec:          opts.Reconciler,
		sem:          NewSemaphore(opts.MaxConcurrent),
		pollInterval: opts.PollInterval,
		producers:    make(map[string]*pump),
	}
}

// AddProducer registers a capture source. When the dispatcher is already
// running its pump starts immediately.
func (d *Dispatcher) AddProducer(p observe.Producer) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("producer must have a name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.producers[p.Name()]; exists {
		return fmt.Errorf("producer %s already registered", p.Name())
	}
	pmp := &pump{producer: p, stop: make(chan struct{}), done: make(chan struct{})}
	d.producers[p.Name()] = pmp
	if d.running.Load() {
		d.startPump(pmp, nil)
	}
	return nil
}

// RemoveProducer unregisters a capture source. The update it is currently
// reconciling finishes; anything still queued is spooled for the next
// start rather than dropped.
func (d *Dispatcher) RemoveProducer(ctx context.Context, name string) error {
	d.mu.Lock()
	pmp, ok := d.producers[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("producer %s not registered", name)
	}
	delete(d.producers, name)
	launched := pmp.launched
	d.mu.Unlock()

	close(pmp.stop)
	if launched {
		<-pmp.done
	}
	if err := pmp.producer.Stop(ctx); err != nil {
		slog.Warn("Producer stop failed", "producer", name, "error", err)
	}
	d.spoolRemainder(ctx, pmp)
	return nil
}

// RegisterHandler subscribes a callback to update outcomes.
func (d *Dispatcher) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Start replays the pending spool and begins polling every registered
// producer. Spooled updates replay through their producer's own pump so
// they stay ordered ahead of fresh captures.
func (d *Dispatcher) Start(ctx context.Context) error {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending updates: %w", err)
	}
	backlog := make(map[string][]store.PendingUpdate)
	for _, row := range pending {
		backlog[row.Observer] = append(backlog[row.Observer], row)
	}

	d.mu.Lock()
	if d.running.Load() {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.baseCtx, d.baseStop = context.WithCancel(ctx)
	d.workCtx, d.workStop = context.WithCancel(context.Background())
	d.running.Store(true)
	n := len(d.producers)
	for name, pmp := range d.producers {
		rows := backlog[name]
		delete(backlog, name)
		d.startPump(pmp, rows)
	}
	d.mu.Unlock()

	// Rows whose producer is no longer registered still replay; the data
	// was already captured.
	var orphans []store.PendingUpdate
	for _, row := range pending {
		if _, ok := backlog[row.Observer]; ok {
			orphans = append(orphans, row)
		}
	}
	if len(orphans) > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.replayQueued(orphans)
		}()
	}

	slog.Info("Dispatcher started", "producers", n, "queued", len(pending), "slots", d.sem.Cap())
	return nil
}

// Stop ends admission, waits for in-flight reconciliations until ctx
// expires, then stops every producer and spools whatever is still queued.
// Spooled and in-flight updates are never lost and never run twice.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.baseStop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Grace period over; cut off in-flight oracle and store calls.
		d.workStop()
		<-done
	}
	d.workStop()

	d.mu.Lock()
	pumps := make([]*pump, 0, len(d.producers))
	for name, pmp := range d.producers {
		pumps = append(pumps, pmp)
		delete(d.producers, name)
	}
	d.mu.Unlock()

	for _, pmp := range pumps {
		if err := pmp.producer.Stop(ctx); err != nil {
			slog.Warn("Producer stop failed", "producer", pmp.producer.Name(), "error", err)
		}
		d.spoolRemainder(ctx, pmp)
	}

	slog.Info("Dispatcher stopped",
		"admitted", d.admitted.Load(),
		"committed", d.committed.Load(),
		"skipped", d.skipped.Load(),
		"failed", d.failed.Load())
	return nil
}

// Stats is a point-in-time dispatcher snapshot.
type Stats struct {
	Producers int   `json:"producers"`
	Admitted  int64 `json:"admitted"`
	Committed int64 `json:"committed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	SlotsFree int   `json:"slots_free"`
	SlotsCap  int   `json:"slots_cap"`
}

// Stats reports dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	n := len(d.producers)
	d.mu.Unlock()
	return Stats{
		Producers: n,
		Admitted:  d.admitted.Load(),
		Committed: d.committed.Load(),
		Skipped:   d.skipped.Load(),
		Failed:    d.failed.Load(),
		SlotsFree: d.sem.Available(),
		SlotsCap:  d.sem.Cap(),
	}
}

// startPump launches one producer's loop. Callers hold d.mu.
func (d *Dispatcher) startPump(pmp *pump, backlog []store.PendingUpdate) {
	if pmp.launched {
		return
	}
	pmp.launched = true
	d.wg.Add(1)
	go d.runPump(pmp, backlog)
}

func (d *Dispatcher) runPump(pmp *pump, backlog []store.PendingUpdate) {
	defer d.wg.Done()
	defer close(pmp.done)

	for _, row := range backlog {
		if !d.admitQueued(row) {
			return
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		for {
			u, ok := pmp.producer.Poll()
			if !ok {
				break
			}
			if !d.admit(pmp, u) {
				return
			}
		}
		select {
		case <-d.baseCtx.Done():
			return
		case <-pmp.stop:
			return
		case <-ticker.C:
		}
	}
}

// admit waits for a slot and reconciles one live update inline, keeping
// the producer's stream in order. A false return means the dispatcher is
// stopping and the update is carried to the spool instead.
func (d *Dispatcher) admit(pmp *pump, u observe.Update) bool {
	if err := d.sem.Acquire(d.baseCtx); err != nil {
		pmp.carry = &u
		return false
	}
	d.admitted.Add(1)
	out := d.rec.Reconcile(d.workCtx, pmp.producer.Name(), u)
	d.sem.Release()
	d.record(out)
	d.notify(out)
	return true
}

// admitQueued replays one spooled row. If admission is cancelled the row
// simply stays in the spool for the next start.
func (d *Dispatcher) admitQueued(row store.PendingUpdate) bool {
	if err := d.sem.Acquire(d.baseCtx); err != nil {
		return false
	}
	d.admitted.Add(1)
	out := d.rec.ReconcileQueued(d.workCtx, row)
	d.sem.Release()
	d.record(out)
	d.notify(out)
	return true
}

func (d *Dispatcher) replayQueued(rows []store.PendingUpdate) {
	for _, row := range rows {
		if !d.admitQueued(row) {
			return
		}
	}
}

func (d *Dispatcher) record(out reconcile.Outcome) {
	switch out.Status {
	case reconcile.StatusCommitted:
		d.committed.Add(1)
	case reconcile.StatusSkipped:
		d.skipped.Add(1)
	default:
		d.failed.Add(1)
		slog.Error("Update failed", "observer", out.Observer, "error", out.Err)
	}
}

func (d *Dispatcher) notify(out reconcile.Outcome) {
	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Update handler panicked", "panic", r)
				}
			}()
			h(out)
		}()
	}
}

// spoolRemainder persists whatever a stopped producer still holds.
func (d *Dispatcher) spoolRemainder(ctx context.Context, pmp *pump) {
	name := pmp.producer.Name()
	var rows []store.PendingUpdate
	if pmp.carry != nil {
		rows = append(rows, pendingRow(name, *pmp.carry))
		pmp.carry = nil
	}
	for {
		u, ok := pmp.producer.Poll()
		if !ok {
			break
		}
		rows = append(rows, pendingRow(name, u))
	}
	if len(rows) == 0 {
		return
	}
	if err := d.store.EnqueuePending(ctx, rows); err != nil {
		slog.Error("Failed to spool pending updates", "producer", name, "count", len(rows), "error", err)
		return
	}
	slog.Info("Spooled pending updates", "producer", name, "count", len(rows))
}

func pendingRow(name string, u observe.Update) store.PendingUpdate {
	return store.PendingUpdate{
		Observer:    name,
		Content:     u.Content,
		ContentType: string(u.Kind),
		At:          u.At,
	}
}
