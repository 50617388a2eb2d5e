package process

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestProcess(t *testing.T) {
	requireSh(t)
	out := filepath.Join(t.TempDir(), "out.txt")
	p, err := StartProcess(hclog.NewNullLogger(), "sh", []string{"-c", "cat > " + out}, event.EncodeLine)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Write(ctx, event.Output{Payload: "a"}))
	require.NoError(t, p.Write(ctx, event.Output{Payload: "b"}))
	require.NoError(t, p.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestProcess_Exited(t *testing.T) {
	requireSh(t)
	p, err := StartProcess(nil, "sh", []string{"-c", "exit 3"}, event.EncodeLine)
	require.NoError(t, err)
	<-p.done

	err = p.Write(context.Background(), event.Output{Payload: "a"})
	assert.ErrorIs(t, err, ErrProcessExited)
	var exitErr *exec.ExitError
	assert.ErrorAs(t, p.Close(), &exitErr)
}

func TestProcess_WriteDeadline(t *testing.T) {
	requireSh(t)
	// The process never reads its input, so writes block once the pipe buffer is full.
	p, err := StartProcess(nil, "sh", []string{"-c", "sleep 30"}, event.EncodeLine)
	require.NoError(t, err)
	defer func() {
		old := CloseTimeout
		CloseTimeout = 10 * time.Millisecond
		assert.NoError(t, p.Close(), "A killed process should close cleanly")
		CloseTimeout = old
	}()

	big := event.Output{Payload: string(make([]byte, 1<<20))}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Write(ctx, big)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestProcess_NotFound(t *testing.T) {
	_, err := StartProcess(nil, "routelog-no-such-command", nil, event.EncodeLine)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestPlugin(t *testing.T) {
	requireSh(t)
	reg := plugin.NewRegistration()
	Plugin().Register(reg)

	_, err := reg.OpenDestination(context.Background(), nil, "exec.Process", plugin.Args{})
	assert.ErrorIs(t, err, plugin.ErrArgs)

	d, err := reg.OpenDestination(context.Background(), nil, "exec.Process", plugin.Args{"command": "sh", "args": "-c true"})
	require.NoError(t, err)
	assert.NoError(t, d.Close())
}
