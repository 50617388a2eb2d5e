package router

import (
	"context"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"golang.org/x/sync/errgroup"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrQueueFull          = errors.New("destination queue is full")
	ErrClosed             = errors.New("router is closed")
)

// Destination is a named sink for output events.
// Write should return once ctx is done, reporting an error if the write didn't complete.
// A Write that outlives ctx is abandoned and the attempt fails with ctx's error.
// Write is never called again until an abandoned Write has returned.
type Destination interface {
	Write(ctx context.Context, out event.Output) error
	Close() error
}

// DestinationError reports that a destination failed to accept an event.
type DestinationError struct {
	Destination string
	// Attempts is the number of write attempts made. It's 0 if the event was never queued.
	Attempts int
	Line     int64
	Err      error
}

func (e *DestinationError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("destination '%s' dropped line %d: %v", e.Destination, e.Line, e.Err)
	}
	return fmt.Sprintf("destination '%s' failed to write line %d after %d attempt(s): %v", e.Destination, e.Line, e.Attempts, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

type Options struct {
	// QueueSize is the number of events buffered per destination.
	QueueSize int
	// EnqueueTimeout is how long Dispatch waits for room in a full queue before dropping the event.
	// Once it has expired for a destination, Dispatch stops waiting for that destination until its queue drains.
	EnqueueTimeout time.Duration
	// WriteTimeout bounds each write attempt.
	WriteTimeout time.Duration
	// MaxRetries is the number of retries after a failed write attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnError is called for every DestinationError, from the goroutine that observed it.
	OnError func(err *DestinationError)
}

func DefaultOptions() Options {
	return Options{
		QueueSize:      1024,
		EnqueueTimeout: time.Second,
		WriteTimeout:   5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = def.EnqueueTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = def.InitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// Stats counts what happened to events for a single destination.
type Stats struct {
	Queued  int   `json:"queued"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Retries int64 `json:"retries"`
}

type worker struct {
	name  string
	dest  Destination
	queue chan event.Output
	log   hclog.Logger
	// inflight is closed when an abandoned Write returns.
	inflight chan struct{}
	// saturated is set when an enqueue timed out, and cleared once the queue accepts an event.
	saturated atomic.Bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	retries atomic.Int64
}

// Router holds the destination table and delivers events to destinations.
// Each destination has its own FIFO queue and worker goroutine, so events reach a destination in the order they were dispatched,
// and a slow or failing destination never holds up the others.
type Router struct {
	log     hclog.Logger
	opts    Options
	workers map[string]*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mux    sync.RWMutex
	closed bool

	pendMux sync.Mutex
	pending int
	idle    *sync.Cond
}

// New creates a Router for dests and starts one worker per destination.
func New(log hclog.Logger, dests map[string]Destination, opts Options) *Router {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		log:     log.Named("router"),
		opts:    opts.withDefaults(),
		workers: map[string]*worker{},
		ctx:     ctx,
		cancel:  cancel,
	}
	r.idle = sync.NewCond(&r.pendMux)
	for name, dest := range dests {
		w := &worker{
			name:  name,
			dest:  dest,
			queue: make(chan event.Output, r.opts.QueueSize),
			log:   r.log.With("destination", name),
		}
		r.workers[name] = w
		r.wg.Add(1)
		go r.run(w)
	}
	r.log.Debug("Started destination workers", "count", len(r.workers))
	return r
}

// Has reports whether name is in the destination table.
func (r *Router) Has(name string) bool {
	_, ok := r.workers[name]
	return ok
}

// Names lists the destination table, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) report(err *DestinationError) {
	r.log.Error("Destination error", "destination", err.Destination, "line", err.Line, "attempts", err.Attempts, "error", err.Err)
	if r.opts.OnError != nil {
		r.opts.OnError(err)
	}
}

func (r *Router) addPending(delta int) {
	r.pendMux.Lock()
	defer r.pendMux.Unlock()
	r.pending += delta
	if r.pending == 0 {
		r.idle.Broadcast()
	}
}

// Dispatch queues out for its destination and returns without waiting for the write.
// If the queue stays full for the enqueue timeout, the event is dropped and a *DestinationError is returned.
// After that, events for the same destination are dropped without waiting until its queue has room again.
func (r *Router) Dispatch(ctx context.Context, out event.Output) error {
	w, ok := r.workers[out.Destination]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, out.Destination)
	}
	r.mux.RLock()
	defer r.mux.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.addPending(1)
	select {
	case w.queue <- out:
		w.saturated.Store(false)
		return nil
	default:
	}

	var cause error
	if w.saturated.Load() {
		cause = ErrQueueFull
	} else {
		timer := time.NewTimer(r.opts.EnqueueTimeout)
		defer timer.Stop()
		select {
		case w.queue <- out:
			return nil
		case <-timer.C:
			cause = ErrQueueFull
			w.saturated.Store(true)
			w.log.Warn("Destination queue stayed full, dropping events until it has room", "timeout", r.opts.EnqueueTimeout.String())
		case <-ctx.Done():
			cause = ctx.Err()
		}
	}
	r.addPending(-1)
	w.dropped.Add(1)
	derr := &DestinationError{Destination: w.name, Line: out.Line, Err: cause}
	r.report(derr)
	return derr
}

func (r *Router) run(w *worker) {
	defer r.wg.Done()
	for out := range w.queue {
		if err := r.write(w, out); err != nil {
			w.failed.Add(1)
			r.report(err)
		} else {
			w.written.Add(1)
		}
		r.addPending(-1)
	}
	w.log.Debug("Destination worker stopped")
}

func (r *Router) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialBackoff
	bo.MaxInterval = r.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.opts.MaxRetries)), r.ctx)
}

func (r *Router) write(w *worker, out event.Output) *DestinationError {
	var attempts int
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.WriteTimeout)
		defer cancel()
		return w.attempt(ctx, out)
	}
	notify := func(err error, wait time.Duration) {
		w.retries.Add(1)
		w.log.Warn("Write failed, retrying", "line", out.Line, "attempt", attempts, "wait", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(op, r.backOff(), notify); err != nil {
		return &DestinationError{Destination: w.name, Attempts: attempts, Line: out.Line, Err: err}
	}
	return nil
}

// attempt bounds a single Write by ctx, whether or not the destination honors it.
func (w *worker) attempt(ctx context.Context, out event.Output) error {
	if w.inflight != nil {
		select {
		case <-w.inflight:
			w.inflight = nil
		case <-ctx.Done():
			return fmt.Errorf("%w: an earlier write is still blocked", ctx.Err())
		}
	}
	result := make(chan error, 1)
	go func() {
		result <- w.dest.Write(ctx, out)
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-result:
		return err
	default:
	}
	w.log.Warn("Write did not return before its deadline, abandoning it", "line", out.Line)
	abandoned := make(chan struct{})
	go func() {
		<-result
		close(abandoned)
	}()
	w.inflight = abandoned
	return ctx.Err()
}

// ApplyWriteDeadline sets ctx's deadline, or clears the deadline if ctx has none, on w if it supports write deadlines.
// Files that can't take a deadline, like regular files, are left as they are.
func ApplyWriteDeadline(ctx context.Context, w any) error {
	d, ok := w.(interface{ SetWriteDeadline(t time.Time) error })
	if !ok {
		return nil
	}
	deadline, _ := ctx.Deadline()
	if err := d.SetWriteDeadline(deadline); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return err
	}
	return nil
}

// Flush blocks until every queued event has been written or has failed.
func (r *Router) Flush() {
	r.pendMux.Lock()
	defer r.pendMux.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}

// Stats returns counters for each destination.
func (r *Router) Stats() map[string]Stats {
	stats := make(map[string]Stats, len(r.workers))
	for name, w := range r.workers {
		stats[name] = Stats{
			Queued:  len(w.queue),
			Written: w.written.Load(),
			Failed:  w.failed.Load(),
			Dropped: w.dropped.Load(),
			Retries: w.retries.Load(),
		}
	}
	return stats
}

// Close stops accepting events, waits for queued events to be written, and closes every destination.
// Calling Close more than once is safe.
func (r *Router) Close() error {
	r.mux.Lock()
	if r.closed {
		r.mux.Unlock()
		return nil
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.queue)
	}
	r.mux.Unlock()

	start := time.Now()
	r.wg.Wait()
	r.cancel()

	var eg errgroup.Group
	for _, w := range r.workers {
		w := w
		eg.Go(func() error {
			if err := w.dest.Close(); err != nil {
				w.log.Error("Failed to close destination", "error", err)
				return fmt.Errorf("closing destination '%s': %w", w.name, err)
			}
			return nil
		})
	}
	err := eg.Wait()
	r.log.Debug("Closed router", "duration", time.Since(start).String())
	return err
}
