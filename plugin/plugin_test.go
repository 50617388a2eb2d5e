package plugin

import (
	"context"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
	"time"
)

func TestRegistration_AllDocs(t *testing.T) {
	reg := NewRegistration()
	newTestPlugin(t).Register(reg)

	expectedDocs := `Sources:
  test.Empty

  test.Source

  Returns test data.

Destinations:
  test.Discard

  Discards every event.

`
	assert.Equal(t, expectedDocs, reg.AllDocs())
}

func TestRegistration_Empty(t *testing.T) {
	assert.Equal(t, "Sources:\n  None\nDestinations:\n  None\n", NewRegistration().AllDocs())
}

func TestRegistration_Open(t *testing.T) {
	reg := NewRegistration()
	newTestPlugin(t).Register(reg)

	iter, err := reg.OpenSource(context.Background(), "test.Source", nil)
	require.NoError(t, err)
	var lines []string
	require.NoError(t, iter.Iterate(func(line iterator.Line) error {
		lines = append(lines, line.Text)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, lines)

	dest, err := reg.OpenDestination(context.Background(), hclog.NewNullLogger(), "test.Discard", Args{"name": "x"})
	require.NoError(t, err)
	assert.NoError(t, dest.Write(context.Background(), event.Output{}))

	_, err = reg.OpenDestination(context.Background(), hclog.NewNullLogger(), "test.Discard", nil)
	assert.ErrorIs(t, err, ErrArgs)

	_, err = reg.OpenSource(context.Background(), "test.Missing", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = reg.OpenDestination(context.Background(), nil, "nodot", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRegistration_Check(t *testing.T) {
	reg := NewRegistration()
	newTestPlugin(t).Register(reg)

	assert.NoError(t, reg.CheckSource("test.Empty"))
	assert.NoError(t, reg.CheckDestination("test.Discard"))
	assert.ErrorIs(t, reg.CheckSource("test.Discard"), ErrUnknownKind)
	assert.ErrorIs(t, reg.CheckDestination("test.Source"), ErrUnknownKind)
	assert.ErrorIs(t, reg.CheckDestination(""), ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	tests := map[string]struct {
		kind      string
		qualifier string
		class     string
		fails     bool
	}{
		"valid":         {kind: "file.File", qualifier: "file", class: "File"},
		"extra dot":     {kind: "a.b.c", qualifier: "a", class: "b.c"},
		"no dot":        {kind: "file", fails: true},
		"empty class":   {kind: "file.", fails: true},
		"empty qualify": {kind: ".File", fails: true},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			q, c, err := ParseKind(tc.kind)
			if tc.fails {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.qualifier, q)
			assert.Equal(t, tc.class, c)
		})
	}
}

func TestArgs(t *testing.T) {
	args := Args{
		"path":    "/tmp/x",
		"empty":   "",
		"mode":    "644",
		"badmode": "9z",
		"timeout": "250ms",
		"bad":     "soon",
		"format":  "json",
		"cmd":     "  grep -v  debug ",
	}
	assert.Equal(t, "/tmp/x", args.String("path", "def"))
	assert.Equal(t, "def", args.String("empty", "def"))
	assert.Equal(t, "def", args.String("missing", "def"))

	_, err := args.Required("empty")
	assert.ErrorIs(t, err, ErrArgs)
	val, err := args.Required("path")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/x", val)

	mode, err := args.FileMode("mode", 0600)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), mode)
	mode, err = args.FileMode("missing", 0600)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), mode)
	_, err = args.FileMode("badmode", 0600)
	assert.ErrorIs(t, err, ErrArgs)

	d, err := args.Duration("timeout", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	_, err = args.Duration("bad", time.Second)
	assert.ErrorIs(t, err, ErrArgs)

	enc, err := args.Encoding()
	assert.NoError(t, err)
	assert.Equal(t, event.EncodeJSON, enc)
	enc, err = Args{}.Encoding()
	assert.NoError(t, err)
	assert.Equal(t, event.EncodeLine, enc)
	_, err = Args{"format": "xml"}.Encoding()
	assert.ErrorIs(t, err, ErrArgs)

	assert.Equal(t, []string{"grep", "-v", "debug"}, args.Fields("cmd"))
}

var _ Plugin = (*testPlugin)(nil)

type testPlugin struct {
	t *testing.T
}

func newTestPlugin(t *testing.T) Plugin {
	return &testPlugin{t: t}
}

func (t *testPlugin) ID() string {
	return "test"
}

type discard struct{}

func (discard) Write(context.Context, event.Output) error { return nil }
func (discard) Close() error                               { return nil }

func (t *testPlugin) Register(reg *Registration) {
	reg.RegisterSource("test", "Empty", func(ctx context.Context, args Args) (iterator.Iterator, error) {
		return iterator.FromSlice(nil), nil
	})
	reg.RegisterSource("test", "Source", func(ctx context.Context, args Args) (iterator.Iterator, error) {
		return iterator.FromStrings("test", "a", "b", "c"), nil
	})
	reg.DocumentSource("test", "Source", `test.Source

Returns test data.`)
	reg.RegisterDestination("test", "Discard", func(ctx context.Context, log hclog.Logger, args Args) (router.Destination, error) {
		if _, err := args.Required("name"); err != nil {
			return nil, err
		}
		t.t.Log("Creating discard destination")
		return discard{}, nil
	})
	reg.DocumentDestination("test", "Discard", `test.Discard

Discards every event.`)
}

func (t *testPlugin) Stopping() error {
	return nil
}
