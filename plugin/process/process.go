package process

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/router"
	"os"
	"os/exec"
	"time"
)

var (
	ErrProcessExited = errors.New("process has exited")
)

// CloseTimeout is how long Close waits for the process to exit after its input is closed, before killing it.
var CloseTimeout = 5 * time.Second

var _ router.Destination = (*Process)(nil)

// Process is a destination that writes each event to the standard input of a long-running process.
// The process is started once, and its output is logged.
type Process struct {
	log   hclog.Logger
	cmd   *exec.Cmd
	stdin *os.File
	enc   event.Encoding

	done    chan struct{}
	waitErr error
}

// StartProcess looks up command in the PATH and starts it with args.
func StartProcess(log hclog.Logger, command string, args []string, enc event.Encoding) (*Process, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	log = log.Named("exec").With("command", command)
	cmd := exec.Command(path, args...)
	cmd.Stdin = r
	cmd.Stdout = log.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Info})
	cmd.Stderr = log.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Warn})
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, err
	}
	_ = r.Close()

	p := &Process{
		log:   log,
		cmd:   cmd,
		stdin: w,
		enc:   enc,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.waitErr = cmd.Wait()
		log.Debug("Process exited", "pid", cmd.Process.Pid, "error", p.waitErr)
	}()
	log.Debug("Started process", "pid", cmd.Process.Pid)
	return p, nil
}

func (p *Process) Write(ctx context.Context, out event.Output) error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: %v", ErrProcessExited, p.waitErr)
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.enc.Encode(out)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := p.stdin.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = p.stdin.Write(data)
	return err
}

// Close closes the process's input and waits for it to exit, killing it if it doesn't exit within CloseTimeout.
func (p *Process) Close() error {
	_ = p.stdin.Close()
	select {
	case <-p.done:
	case <-time.After(CloseTimeout):
		p.log.Warn("Process didn't exit after its input was closed, killing it", "timeout", CloseTimeout.String())
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.waitErr
	}
	if exitErr != nil && !exitErr.Exited() {
		return nil
	}
	return p.waitErr
}
