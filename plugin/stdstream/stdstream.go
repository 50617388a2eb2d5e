package stdstream

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
	"io"
	"os"
)

var _ plugin.Plugin = (*stdplugin)(nil)

func Plugin() plugin.Plugin {
	return new(stdplugin)
}

type stdplugin struct {
}

func (s *stdplugin) ID() string {
	return "std"
}

func (s *stdplugin) Register(reg *plugin.Registration) {
	reg.RegisterSource("std", "In", func(ctx context.Context, _ plugin.Args) (iterator.Iterator, error) {
		return SourceIn(ctx), nil
	})
	reg.DocumentSource("std", "In", `std.In

Reads each line of STDIN as an input line, ending when STDIN is closed.`)
	reg.RegisterDestination("std", "Out", func(_ context.Context, _ hclog.Logger, args plugin.Args) (router.Destination, error) {
		enc, err := args.Encoding()
		if err != nil {
			return nil, err
		}
		return NewWriter(os.Stdout, enc), nil
	})
	reg.DocumentDestination("std", "Out", `std.Out {format}

Writes each event as a line to STDOUT, either the payload (format "line", the default) or the whole event (format "json").`)
	reg.RegisterDestination("std", "Err", func(_ context.Context, _ hclog.Logger, args plugin.Args) (router.Destination, error) {
		enc, err := args.Encoding()
		if err != nil {
			return nil, err
		}
		return NewWriter(os.Stderr, enc), nil
	})
	reg.DocumentDestination("std", "Err", `std.Err {format}

Writes each event as a line to STDERR, either the payload (format "line", the default) or the whole event (format "json").`)
}

func (s *stdplugin) Stopping() error {
	return nil
}

// SourceIn reads lines from STDIN until it's closed or ctx is done.
func SourceIn(ctx context.Context) iterator.Iterator {
	return iterator.Cancellable(ctx, iterator.FromReader(os.Stdin, "stdin"))
}

var _ router.Destination = (*Writer)(nil)

// Writer is a destination that writes encoded events to an io.Writer.
// The io.Writer is not closed by Close, since it's expected to be a standard stream.
type Writer struct {
	w   io.Writer
	enc event.Encoding
}

func NewWriter(w io.Writer, enc event.Encoding) *Writer {
	return &Writer{w: w, enc: enc}
}

func (w *Writer) Write(ctx context.Context, out event.Output) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := w.enc.Encode(out)
	if err != nil {
		return err
	}
	if err := router.ApplyWriteDeadline(ctx, w.w); err != nil {
		return err
	}
	_, err = w.w.Write(data)
	return err
}

func (w *Writer) Close() error {
	if s, ok := w.w.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	return nil
}
