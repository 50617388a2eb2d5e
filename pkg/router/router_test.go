package router

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memDest struct {
	mux    sync.Mutex
	lines  []int64
	fail   int
	block  chan struct{}
	closed atomic.Bool
}

func (d *memDest) Write(ctx context.Context, out event.Output) error {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.fail > 0 {
		d.fail--
		return errors.New("transient")
	}
	d.lines = append(d.lines, out.Line)
	return nil
}

func (d *memDest) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *memDest) written() []int64 {
	d.mux.Lock()
	defer d.mux.Unlock()
	return append([]int64(nil), d.lines...)
}

type failDest struct{}

func (failDest) Write(context.Context, event.Output) error {
	return errors.New("always fails")
}

func (failDest) Close() error {
	return errors.New("close failed")
}

func fastOpts() Options {
	return Options{
		QueueSize:      16,
		EnqueueTimeout: 20 * time.Millisecond,
		WriteTimeout:   50 * time.Millisecond,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func out(dest string, line int64) event.Output {
	return event.Output{Destination: dest, Payload: fmt.Sprintf("line %d", line), Line: line}
}

func TestRouter_FIFO(t *testing.T) {
	a, b := &memDest{}, &memDest{}
	r := New(hclog.NewNullLogger(), map[string]Destination{"a": a, "b": b}, fastOpts())
	defer func() { _ = r.Close() }()

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(1); i <= 100; i++ {
				assert.NoError(t, r.Dispatch(context.Background(), out(name, i)))
			}
		}()
	}
	wg.Wait()
	r.Flush()

	for _, d := range []*memDest{a, b} {
		lines := d.written()
		require.Len(t, lines, 100)
		for i, n := range lines {
			assert.Equal(t, int64(i+1), n, "Events should arrive in dispatch order")
		}
	}
	assert.Equal(t, int64(100), r.Stats()["a"].Written)
}

func TestRouter_Isolation(t *testing.T) {
	slow := &memDest{block: make(chan struct{})}
	fast := &memDest{}
	r := New(nil, map[string]Destination{"slow": slow, "fast": fast}, fastOpts())

	require.NoError(t, r.Dispatch(context.Background(), out("slow", 1)))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, r.Dispatch(context.Background(), out("fast", i)))
	}
	assert.Eventually(t, func() bool {
		return len(fast.written()) == 5
	}, time.Second, 5*time.Millisecond, "A blocked destination should not hold up the others")
	close(slow.block)
	r.Flush()
	assert.Equal(t, []int64{1}, slow.written())
	require.NoError(t, r.Close())
}

func TestRouter_Retries(t *testing.T) {
	d := &memDest{fail: 2}
	r := New(nil, map[string]Destination{"d": d}, fastOpts())
	require.NoError(t, r.Dispatch(context.Background(), out("d", 1)))
	r.Flush()

	assert.Equal(t, []int64{1}, d.written())
	stats := r.Stats()["d"]
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(1), stats.Written)
	assert.Equal(t, int64(0), stats.Failed)
	require.NoError(t, r.Close())
}

func TestRouter_FailureReported(t *testing.T) {
	var (
		mux  sync.Mutex
		errs []*DestinationError
	)
	opts := fastOpts()
	opts.OnError = func(err *DestinationError) {
		mux.Lock()
		defer mux.Unlock()
		errs = append(errs, err)
	}
	ok := &memDest{}
	r := New(nil, map[string]Destination{"bad": failDest{}, "ok": ok}, opts)
	require.NoError(t, r.Dispatch(context.Background(), out("bad", 4)))
	require.NoError(t, r.Dispatch(context.Background(), out("ok", 4)))
	r.Flush()

	mux.Lock()
	require.Len(t, errs, 1)
	assert.Equal(t, "bad", errs[0].Destination)
	assert.Equal(t, 3, errs[0].Attempts)
	assert.Equal(t, int64(4), errs[0].Line)
	mux.Unlock()
	assert.Equal(t, []int64{4}, ok.written())
	assert.Equal(t, int64(1), r.Stats()["bad"].Failed)

	err := r.Close()
	assert.ErrorContains(t, err, "close failed")
}

func TestRouter_WriteTimeout(t *testing.T) {
	var got atomic.Pointer[DestinationError]
	opts := fastOpts()
	opts.MaxRetries = 0
	opts.OnError = func(err *DestinationError) {
		got.Store(err)
	}
	d := &memDest{block: make(chan struct{})}
	r := New(nil, map[string]Destination{"d": d}, opts)
	require.NoError(t, r.Dispatch(context.Background(), out("d", 1)))
	r.Flush()

	derr := got.Load()
	require.NotNil(t, derr)
	assert.ErrorIs(t, derr, context.DeadlineExceeded)
	assert.Equal(t, 1, derr.Attempts)
	close(d.block)
	require.NoError(t, r.Close())
}

// stuckDest ignores ctx and holds every Write until release is closed.
type stuckDest struct {
	release chan struct{}
	calls   atomic.Int32
}

func (d *stuckDest) Write(context.Context, event.Output) error {
	d.calls.Add(1)
	<-d.release
	return nil
}

func (d *stuckDest) Close() error {
	return nil
}

func TestRouter_WriteIgnoresContext(t *testing.T) {
	var (
		mux    sync.Mutex
		failed []*DestinationError
	)
	opts := fastOpts()
	opts.MaxRetries = 0
	opts.OnError = func(err *DestinationError) {
		mux.Lock()
		defer mux.Unlock()
		failed = append(failed, err)
	}
	d := &stuckDest{release: make(chan struct{})}
	r := New(nil, map[string]Destination{"d": d}, opts)
	require.NoError(t, r.Dispatch(context.Background(), out("d", 1)))
	require.NoError(t, r.Dispatch(context.Background(), out("d", 2)))

	flushed := make(chan struct{})
	go func() {
		r.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("Flush should not wait on a write past its deadline")
	}

	mux.Lock()
	require.Len(t, failed, 2)
	for _, derr := range failed {
		assert.ErrorIs(t, derr, context.DeadlineExceeded)
	}
	mux.Unlock()
	assert.Equal(t, int32(1), d.calls.Load(), "Write should not start while an earlier one is still blocked")
	assert.Equal(t, int64(2), r.Stats()["d"].Failed)

	close(d.release)
	require.NoError(t, r.Close())
}

func TestApplyWriteDeadline(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer func() {
		_ = pr.Close()
		_ = pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, ApplyWriteDeadline(ctx, pw))
	_, err = pw.Write(make([]byte, 1<<20))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	f, err := os.CreateTemp(t.TempDir(), "regular-*")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.NoError(t, ApplyWriteDeadline(ctx, f), "Regular files should be left as they are")
	assert.NoError(t, ApplyWriteDeadline(ctx, new(strings.Builder)))
}

func TestRouter_QueueSaturated(t *testing.T) {
	opts := fastOpts()
	opts.QueueSize = 1
	opts.EnqueueTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 5 * time.Second
	d := &memDest{block: make(chan struct{})}
	r := New(nil, map[string]Destination{"d": d}, opts)

	require.NoError(t, r.Dispatch(context.Background(), out("d", 1)))
	assert.Eventually(t, func() bool {
		return r.Stats()["d"].Queued == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, r.Dispatch(context.Background(), out("d", 2)))

	assert.ErrorIs(t, r.Dispatch(context.Background(), out("d", 3)), ErrQueueFull)
	start := time.Now()
	for i := int64(4); i <= 10; i++ {
		assert.ErrorIs(t, r.Dispatch(context.Background(), out("d", i)), ErrQueueFull)
	}
	assert.Less(t, time.Since(start), opts.EnqueueTimeout, "A saturated destination should drop without waiting")
	assert.Equal(t, int64(8), r.Stats()["d"].Dropped)

	close(d.block)
	r.Flush()
	require.NoError(t, r.Dispatch(context.Background(), out("d", 11)))
	r.Flush()
	assert.Equal(t, []int64{1, 2, 11}, d.written())
	require.NoError(t, r.Close())
}

func TestRouter_QueueFull(t *testing.T) {
	opts := fastOpts()
	opts.QueueSize = 1
	opts.WriteTimeout = time.Second
	d := &memDest{block: make(chan struct{})}
	r := New(nil, map[string]Destination{"d": d}, opts)

	// One event held by the worker, one in the queue.
	require.NoError(t, r.Dispatch(context.Background(), out("d", 1)))
	assert.Eventually(t, func() bool {
		return r.Stats()["d"].Queued == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, r.Dispatch(context.Background(), out("d", 2)))

	err := r.Dispatch(context.Background(), out("d", 3))
	assert.ErrorIs(t, err, ErrQueueFull)
	var derr *DestinationError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 0, derr.Attempts)
	assert.Equal(t, int64(1), r.Stats()["d"].Dropped)

	close(d.block)
	r.Flush()
	assert.Equal(t, []int64{1, 2}, d.written())
	require.NoError(t, r.Close())
}

func TestRouter_UnknownDestination(t *testing.T) {
	r := New(nil, map[string]Destination{"a": &memDest{}}, fastOpts())
	defer func() { _ = r.Close() }()
	assert.ErrorIs(t, r.Dispatch(context.Background(), out("nope", 1)), ErrUnknownDestination)
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("nope"))
}

func TestRouter_Close(t *testing.T) {
	a, b := &memDest{}, &memDest{}
	r := New(nil, map[string]Destination{"b": b, "a": a}, fastOpts())
	assert.Equal(t, []string{"a", "b"}, r.Names())
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, r.Dispatch(context.Background(), out("a", i)))
	}
	require.NoError(t, r.Close())
	assert.Len(t, a.written(), 10, "Close should drain queued events")
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())

	assert.ErrorIs(t, r.Dispatch(context.Background(), out("a", 11)), ErrClosed)
	assert.NoError(t, r.Close())
}
