package store

import (
	"context"
	"database/sql"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

var testEvents = []event.Output{
	{Destination: "archive", Payload: "first", Line: 1, Source: "stdin", Fields: map[string]string{"line": "first", "other-field": "value"}},
	{Destination: "archive", Payload: "second", Line: 2, Source: "stdin", Fields: map[string]string{"line": "second", "severity": "ERROR"}},
	{Destination: "archive", Payload: "third", Line: 3, Fields: map[string]string{"evt_payload": "sneaky"}},
}

func TestSqliteStore_Table(t *testing.T) {
	store := _tempStore(t)
	ctx := context.Background()
	dest, err := store.Table(ctx, "events")
	require.NoError(t, err)
	for _, out := range testEvents {
		require.NoError(t, dest.Write(ctx, out))
	}
	require.NoError(t, dest.Close())

	rows, err := store.db.QueryContext(ctx, `select evt_payload, evt_line, "other-field", severity, field_evt_payload from events order by evt_id`)
	require.NoError(t, err)
	defer func() {
		_ = rows.Close()
	}()
	type row struct {
		payload  string
		line     int64
		other    sql.NullString
		severity sql.NullString
		reserved sql.NullString
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.payload, &r.line, &r.other, &r.severity, &r.reserved))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].payload)
	assert.Equal(t, "value", got[0].other.String)
	assert.False(t, got[0].severity.Valid)
	assert.Equal(t, "ERROR", got[1].severity.String)
	assert.Equal(t, int64(3), got[2].line)
	assert.Equal(t, "sneaky", got[2].reserved.String)
}

func TestSqliteStore_SharedTable(t *testing.T) {
	store := _tempStore(t)
	ctx := context.Background()
	a, err := store.Table(ctx, "events")
	require.NoError(t, err)
	b, err := store.Table(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, event.Output{Payload: "a", Fields: map[string]string{"tag": "x"}}))
	assert.NoError(t, b.Write(ctx, event.Output{Payload: "b", Fields: map[string]string{"tag": "y"}}), "A column added by another writer should be picked up")
}

func TestSqliteStore_Payloads(t *testing.T) {
	store := _tempStore(t)
	ctx := context.Background()
	dest, err := store.Table(ctx, "events")
	require.NoError(t, err)
	for i := 0; i < pageSize+5; i++ {
		require.NoError(t, dest.Write(ctx, event.Output{Payload: "p", Source: "stdin"}))
	}
	require.NoError(t, dest.Write(ctx, event.Output{Payload: "last"}))

	iter, err := store.Payloads(ctx, "events")
	require.NoError(t, err)
	var lines []iterator.Line
	require.NoError(t, iter.Iterate(func(line iterator.Line) error {
		lines = append(lines, line)
		return nil
	}))
	require.Len(t, lines, pageSize+6)
	assert.Equal(t, iterator.Line{Text: "p", Num: 1, Source: "stdin"}, lines[0])
	assert.Equal(t, iterator.Line{Text: "last", Num: pageSize + 6, Source: "events"}, lines[pageSize+5])
}

func TestSqliteStore_BadTable(t *testing.T) {
	store := _tempStore(t)
	_, err := store.Table(context.Background(), "drop table x;")
	assert.ErrorIs(t, err, ErrBadTable)
	_, err = store.Payloads(context.Background(), "a.b.c")
	assert.ErrorIs(t, err, ErrBadTable)
}

func TestPlugin(t *testing.T) {
	reg := plugin.NewRegistration()
	p := Plugin()
	p.Register(reg)
	file := filepath.Join(t.TempDir(), "store.db")

	ctx := context.Background()
	dest, err := reg.OpenDestination(ctx, hclog.NewNullLogger(), "sqlite.Table", plugin.Args{"file": file, "table": "events"})
	require.NoError(t, err)
	require.NoError(t, dest.Write(ctx, event.Output{Payload: "stored"}))
	require.NoError(t, dest.Close())

	iter, err := reg.OpenSource(ctx, "sqlite.Table", plugin.Args{"file": file, "table": "events"})
	require.NoError(t, err)
	line, err := iter.Next()
	require.NoError(t, err)
	assert.Equal(t, "stored", line.Text)

	_, err = reg.OpenDestination(ctx, nil, "sqlite.Table", plugin.Args{"file": file})
	assert.ErrorIs(t, err, plugin.ErrArgs)
	assert.NoError(t, p.Stopping())
}

func _tempStore(t *testing.T) *SqliteStore {
	log := hclog.New(&hclog.LoggerOptions{Level: hclog.Debug, Output: hclog.DefaultOutput})
	store, err := NewStore(log, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err, "Failed to create new store")
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error("Failed to close DB")
		}
	})
	return store
}
