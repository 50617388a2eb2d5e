package iterator

import (
	"errors"
	"sync"
)

var (
	ErrAtEnd = errors.New("end of iteration")
)

// Line is a single raw input line, with its trailing newline stripped.
type Line struct {
	Text string
	// Num is the 1-based position of the line within its source.
	Num int64
	// Source names where the line came from.
	Source string
}

type Iterator interface {
	// Next returns the next Line in the stream.
	// Returns ErrAtEnd if the end of the stream is reached.
	Next() (Line, error)
	// Iterate will progress through all Line items in the stream, calling iter for each one.
	// If iter returns ErrAtEnd, then iteration will cease, returning nil.
	// If any other error is returned, then iteration will cease, and the error will be returned.
	Iterate(iter func(line Line) error) error
}

// Func adapts a plain next function into an Iterator.
type Func func() (Line, error)

func (f Func) Next() (Line, error) {
	return f()
}

func (f Func) Iterate(iter func(line Line) error) error {
	return iterate(f, iter)
}

func iterate(next func() (Line, error), iter func(line Line) error) error {
	for {
		line, err := next()
		if err == nil {
			err = iter(line)
		}
		if err != nil {
			if IsEnd(err) {
				return nil
			}
			return err
		}
	}
}

// End is a convenience for returning ErrAtEnd from a Func.
func End() (Line, error) {
	return Line{}, ErrAtEnd
}

// Err is a convenience for returning an error from a Func.
func Err(err error) (Line, error) {
	return Line{}, err
}

func IsEnd(err error) bool {
	return errors.Is(err, ErrAtEnd)
}

var _ Iterator = (*lineSlice)(nil)

type lineSlice struct {
	lines []Line
	next  int
}

func (s *lineSlice) Next() (Line, error) {
	cur := s.next
	if len(s.lines) > cur {
		s.next++
		return s.lines[cur], nil
	}
	return End()
}

func (s *lineSlice) Iterate(iter func(line Line) error) error {
	return iterate(s.Next, iter)
}

func FromSlice(lines []Line) Iterator {
	return &lineSlice{lines: lines}
}

// FromStrings numbers each string as a line from source.
func FromStrings(source string, text ...string) Iterator {
	lines := make([]Line, len(text))
	for i, t := range text {
		lines[i] = Line{Text: t, Num: int64(i + 1), Source: source}
	}
	return FromSlice(lines)
}

var _ Iterator = (*lineChannel)(nil)

type lineChannel struct {
	ch <-chan Line
}

func (c *lineChannel) Next() (Line, error) {
	line, ok := <-c.ch
	if !ok {
		return End()
	}
	return line, nil
}

func (c *lineChannel) Iterate(iter func(line Line) error) error {
	return iterate(c.Next, iter)
}

func FromChannel(lines <-chan Line) Iterator {
	return &lineChannel{ch: lines}
}

// AsChannel forwards every Line of iter into a channel that is closed at the end of iteration.
// Iteration errors other than ErrAtEnd end the channel early.
func AsChannel(iter Iterator) <-chan Line {
	if c, ok := iter.(*lineChannel); ok {
		return c.ch
	}
	if s, ok := iter.(*lineSlice); ok {
		remaining := s.lines[s.next:]
		ch := make(chan Line, len(remaining))
		defer close(ch)
		for _, l := range remaining {
			ch <- l
		}
		s.next = len(s.lines)
		return ch
	}
	ch := make(chan Line)
	go func() {
		defer close(ch)
		_ = iter.Iterate(func(line Line) error {
			ch <- line
			return nil
		})
	}()
	return ch
}

// Merge will take over the passed in Iterators and forward all Line elements to the new Iterator.
// Lines from any single input keep their relative order; lines from different inputs interleave as they arrive.
// If any input fails, the merged Iterator returns the first such error, and the remaining inputs are drained in the background.
// It's advised not to read from an iterator that has been passed to Merge.
func Merge(iters ...Iterator) Iterator {
	switch len(iters) {
	case 0:
		return FromSlice(nil)
	case 1:
		return iters[0]
	}
	m := &merged{
		ch:     make(chan Line),
		failed: make(chan struct{}),
	}
	var wg sync.WaitGroup
	for _, it := range iters {
		it := it
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := it.Iterate(func(line Line) error {
				m.ch <- line
				return nil
			})
			if err != nil {
				m.fail(err)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(m.ch)
	}()
	return m
}

var _ Iterator = (*merged)(nil)

type merged struct {
	ch chan Line

	mux    sync.Mutex
	err    error
	failed chan struct{}
	drain  sync.Once
}

func (m *merged) fail(err error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.err != nil {
		return
	}
	m.err = err
	close(m.failed)
}

func (m *merged) failure() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.err
}

func (m *merged) Next() (Line, error) {
	select {
	case <-m.failed:
	default:
		select {
		case line, ok := <-m.ch:
			if ok {
				return line, nil
			}
		case <-m.failed:
		}
	}
	err := m.failure()
	if err == nil {
		return End()
	}
	m.drain.Do(func() {
		go func() {
			for range m.ch {
			}
		}()
	})
	return Err(err)
}

func (m *merged) Iterate(iter func(line Line) error) error {
	return iterate(m.Next, iter)
}

// Drain will drain all lines from an Iterator in a new goroutine.
// This can be useful as an error fallback in case of an iteration error to prevent upstream blocking.
func Drain(iter Iterator) {
	ch := AsChannel(iter)
	go func() {
		for range ch {
		}
	}()
}
