package process

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
)

func Plugin() plugin.Plugin {
	return new(execPlugin)
}

type execPlugin struct{}

func (*execPlugin) ID() string {
	return "exec"
}

func (*execPlugin) Stopping() error {
	return nil
}

func (*execPlugin) Register(reg *plugin.Registration) {
	reg.RegisterDestination("exec", "Process", func(_ context.Context, log hclog.Logger, args plugin.Args) (router.Destination, error) {
		command, err := args.Required("command")
		if err != nil {
			return nil, err
		}
		enc, err := args.Encoding()
		if err != nil {
			return nil, err
		}
		return StartProcess(log, command, args.Fields("args"), enc)
	})
	reg.DocumentDestination("exec", "Process", `exec.Process {command, args, format}

This destination starts command once, with the whitespace separated args, and writes each event as a line to its standard input.
The command is looked up in the PATH if it's not a path itself. Its standard output and error are logged by routelog.
When routelog shuts down, the process's input is closed and it's given time to exit before being killed.`)
}
