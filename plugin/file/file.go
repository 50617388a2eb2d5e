package file

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/nxadm/tail"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"io"
	"os"
	"sync"
)

// Source behaves the same as CtxSource, except that it will use context.Background as the context.
func Source(filename string) (iterator.Iterator, error) {
	return CtxSource(context.Background(), filename)
}

// CtxSource will create an iterator.Iterator that reads each line of the file once, closing the file at the end of input.
// Line numbers start at 1, and the Source of each Line is the file name.
func CtxSource(ctx context.Context, filename string) (iterator.Iterator, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	lines := iterator.FromReader(f, filename)
	return iterator.Cancellable(ctx, iterator.Func(func() (iterator.Line, error) {
		line, err := lines.Next()
		if err != nil {
			once.Do(func() {
				_ = f.Close()
			})
		}
		return line, err
	})), nil
}

// TailOptions controls how a file is followed.
type TailOptions struct {
	// FromEnd starts following at the end of the file instead of reading the existing content first.
	FromEnd bool
	// Poll watches for changes by polling instead of using file system notifications.
	Poll bool
	Log  hclog.Logger
}

// CtxTailSource follows the file like "tail -F", emitting each line appended to it.
// The file must exist when tailing starts, but it may be rotated or recreated afterward.
// Tailing stops when ctx is done.
func CtxTailSource(ctx context.Context, filename string, opts TailOptions) (iterator.Iterator, error) {
	_, iter, err := ctxTailSource(ctx, filename, opts)
	return iter, err
}

func ctxTailSource(ctx context.Context, filename string, opts TailOptions) (*tail.Tail, iterator.Iterator, error) {
	log := opts.Log
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("tail").With("file", filename)
	conf := tail.Config{
		ReOpen:    true,
		MustExist: true,
		Follow:    true,
		Poll:      opts.Poll,
		Logger:    log.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	if opts.FromEnd {
		conf.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(filename, conf)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan iterator.Line)
	go func() {
		defer close(ch)
		defer func() {
			if err := t.Stop(); err != nil {
				log.Debug("Tail stopped with error", "error", err)
			}
		}()
		var num int64
		for {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-t.Lines:
				if !ok {
					return
				}
				if l.Err != nil {
					log.Warn("Tail reported an error", "error", l.Err)
					continue
				}
				num++
				line := iterator.Line{
					Text:   iterator.TrimNewline(l.Text),
					Num:    num,
					Source: filename,
				}
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return t, iterator.FromChannel(ch), nil
}

var _ router.Destination = (*Destination)(nil)

// Destination appends each event to a file.
type Destination struct {
	path string
	enc  event.Encoding
	f    *os.File
}

// NewDestination opens filename for appending, creating it with perms if necessary.
// The file's permissions will not be modified if it already exists.
func NewDestination(filename string, perms os.FileMode, enc event.Encoding) (*Destination, error) {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perms)
	if err != nil {
		return nil, err
	}
	return &Destination{
		path: filename,
		enc:  enc,
		f:    f,
	}, nil
}

func (d *Destination) Write(ctx context.Context, out event.Output) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := d.enc.Encode(out)
	if err != nil {
		return err
	}
	if err := router.ApplyWriteDeadline(ctx, d.f); err != nil {
		return err
	}
	_, err = d.f.Write(data)
	return err
}

func (d *Destination) Close() error {
	return d.f.Close()
}
