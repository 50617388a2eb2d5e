package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
	"sync"
)

func Plugin() plugin.Plugin {
	return &sqlitePlugin{
		storeCache: map[string]*SqliteStore{},
	}
}

type sqlitePlugin struct {
	mux        sync.Mutex
	storeCache map[string]*SqliteStore
}

func (p *sqlitePlugin) ID() string {
	return "sqlite"
}

func (p *sqlitePlugin) Stopping() error {
	p.mux.Lock()
	defer p.mux.Unlock()
	var errs []error
	for file, store := range p.storeCache {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: file: %s", err, file))
		}
		delete(p.storeCache, file)
	}
	if len(errs) > 0 {
		return fmt.Errorf("error closing SQLite plugin: %w", errors.Join(errs...))
	}
	return nil
}

func (p *sqlitePlugin) store(log hclog.Logger, file string) (*SqliteStore, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if store, ok := p.storeCache[file]; ok {
		return store, nil
	}
	store, err := NewStore(log, file)
	if err != nil {
		return nil, err
	}
	p.storeCache[file] = store
	return store, nil
}

func fileAndTable(args plugin.Args) (string, string, error) {
	file, err := args.Required("file")
	if err != nil {
		return "", "", err
	}
	table, err := args.Required("table")
	if err != nil {
		return "", "", err
	}
	return file, table, nil
}

func (p *sqlitePlugin) Register(reg *plugin.Registration) {
	reg.RegisterSource("sqlite", "Table", func(ctx context.Context, args plugin.Args) (iterator.Iterator, error) {
		file, table, err := fileAndTable(args)
		if err != nil {
			return nil, err
		}
		store, err := p.store(hclog.Default(), file)
		if err != nil {
			return nil, err
		}
		return store.Payloads(ctx, table)
	})
	reg.DocumentSource("sqlite", "Table", `sqlite.Table {file, table}

This source will read the payload of every event stored in a table by the sqlite.Table destination, in the order they were written.
It doesn't wait for rows added after the end of the table is reached, so it's best used to replay a snapshot.`)
	reg.RegisterDestination("sqlite", "Table", func(ctx context.Context, log hclog.Logger, args plugin.Args) (router.Destination, error) {
		file, table, err := fileAndTable(args)
		if err != nil {
			return nil, err
		}
		store, err := p.store(log, file)
		if err != nil {
			return nil, err
		}
		return store.Table(ctx, table)
	})
	reg.DocumentDestination("sqlite", "Table", `sqlite.Table {file, table}

This destination will land all events into the SQLite database table specified. The table may be prefixed with a schema name like "my_schema.my_table".
If the table does not exist, then it will be created with an integer primary key column called evt_id, and the columns evt_destination, evt_payload, evt_line, and evt_source.
A text column is created as needed for each event field, so the table may trend toward being sparsely populated if the events are largely heterogeneous.
Fields that share a name with an event column are stored with a "field_" prefix.`)
}
