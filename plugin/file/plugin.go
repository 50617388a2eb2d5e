package file

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
)

func Plugin() plugin.Plugin {
	return new(filePlugin)
}

type filePlugin struct{}

func (*filePlugin) ID() string {
	return "file"
}

func (*filePlugin) Stopping() error {
	return nil
}

func (*filePlugin) Register(reg *plugin.Registration) {
	reg.RegisterSource("file", "Tail", func(ctx context.Context, args plugin.Args) (iterator.Iterator, error) {
		path, err := args.Required("path")
		if err != nil {
			return nil, err
		}
		return CtxTailSource(ctx, path, TailOptions{
			FromEnd: args.String("from", "start") == "end",
			Poll:    args.String("poll", "false") == "true",
		})
	})
	reg.DocumentSource("file", "Tail", `file.Tail {path, from, poll}

This source will watch the file specified by path for changes, producing a new line for each line appended to it.
The file is reopened if it's rotated or recreated.
If from is "end", then only lines written after startup are read. Otherwise the existing content is read first.
If poll is "true", then the file is polled for changes instead of using file system notifications.`)
	reg.RegisterSource("file", "File", func(ctx context.Context, args plugin.Args) (iterator.Iterator, error) {
		path, err := args.Required("path")
		if err != nil {
			return nil, err
		}
		return CtxSource(ctx, path)
	})
	reg.DocumentSource("file", "File", `file.File {path}

This source will read each line of the file specified by path once, ending when the end of the file is reached.`)
	reg.RegisterDestination("file", "File", func(_ context.Context, _ hclog.Logger, args plugin.Args) (router.Destination, error) {
		path, err := args.Required("path")
		if err != nil {
			return nil, err
		}
		mode, err := args.FileMode("mode", 0600)
		if err != nil {
			return nil, err
		}
		enc, err := args.Encoding()
		if err != nil {
			return nil, err
		}
		return NewDestination(path, mode, enc)
	})
	reg.DocumentDestination("file", "File", `file.File {path, mode, format}

This destination will append each event to the file specified by path, creating it if necessary.
If mode is specified, and it's a string representing a valid octal file mode like "644", then this mode will be used to create the file if it doesn't already exist.
If mode is not specified, then a value of "600" will be assumed.
The file's permissions will not be modified if it already exists.
The format may be "line" (the default) to write the payload as a line, or "json" to write the whole event as a JSON document on a single line.`)
}
