package iterator

import (
	"context"
)

// Filter wraps an Iterator with a function that - when it returns true - will allow the Line through.
// Errors from the wrapped Iterator are always passed through.
func Filter(iter Iterator, filter func(line Line) bool) Iterator {
	return Func(func() (Line, error) {
		for {
			line, err := iter.Next()
			if err != nil {
				return line, err
			}
			if filter(line) {
				return line, nil
			}
		}
	})
}

type result struct {
	line Line
	err  error
}

// Cancellable wraps an iterator and makes it cancellable by context.
// Once the context is cancelled, Next returns ErrAtEnd and the wrapped Iterator is drained in the background so upstream producers don't block.
// A Next call that is already blocked in the wrapped Iterator also returns ErrAtEnd when the context is cancelled.
func Cancellable(ctx context.Context, iter Iterator) Iterator {
	results := make(chan result)
	go func() {
		defer close(results)
		for {
			line, err := iter.Next()
			select {
			case results <- result{line: line, err: err}:
			case <-ctx.Done():
				if err == nil {
					Drain(iter)
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return Func(func() (Line, error) {
		if ctx.Err() != nil {
			return End()
		}
		select {
		case <-ctx.Done():
			return End()
		case r, ok := <-results:
			if !ok {
				return End()
			}
			return r.line, r.err
		}
	})
}
