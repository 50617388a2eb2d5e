package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	_ "modernc.org/sqlite"
	"regexp"
	"sort"
)

var (
	tablePattern = regexp.MustCompile(`^[\w\d]+(\.[\w\d]+)?$`)
	ErrBadTable  = errors.New("invalid table name")
)

// SqliteStore is a store for output events using Sqlite3 as a storage engine.
// All access goes through a single connection, so any number of tables in the same file can be written without lock contention.
type SqliteStore struct {
	db  *sql.DB
	log hclog.Logger
}

func NewStore(log hclog.Logger, filename string) (*SqliteStore, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	log = log.Named("sqlite-event-store").With("file", filename)
	return &SqliteStore{
		db:  db,
		log: log,
	}, nil
}

// Payloads reads the payload of each event stored in table, in the order they were written.
func (s *SqliteStore) Payloads(ctx context.Context, table string) (iterator.Iterator, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %s", ErrBadTable, table)
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	return newPayloadIterator(ctx, s.log, s.db, table), nil
}

// Table returns a destination that inserts one row per event into table.
// If the table does not exist, then it will be created with the event columns. A text column is added for each field as it's first seen.
func (s *SqliteStore) Table(ctx context.Context, table string) (*TableDestination, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %s", ErrBadTable, table)
	}
	log := s.log.With("table", table)
	log.Debug("Ensuring the specified table is present")
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	cols, err := s.getTableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	colMap := map[string]bool{}
	for _, c := range cols {
		colMap[c] = true
	}
	return &TableDestination{
		store:  s,
		table:  table,
		log:    log,
		colMap: colMap,
	}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) ensureTable(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(createTable, table))
	return err
}

func (s *SqliteStore) getTableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "select * from "+table+" limit 0")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	return rows.Columns()
}

func (s *SqliteStore) addColumn(ctx context.Context, table string, colName string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("alter table %s add column %s text null", table, quoteIdent(colName)))
	return err
}

var _ router.Destination = (*TableDestination)(nil)

// TableDestination writes events as rows of a table.
// Closing a TableDestination doesn't close the SqliteStore it belongs to.
type TableDestination struct {
	store  *SqliteStore
	table  string
	log    hclog.Logger
	colMap map[string]bool
}

func (d *TableDestination) Write(ctx context.Context, out event.Output) error {
	names := make([]string, 0, len(out.Fields))
	for name := range out.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := []string{destinationColumn, payloadColumn, lineColumn, sourceColumn}
	args := []any{out.Destination, out.Payload, out.Line, out.Source}
	for _, name := range names {
		col := columnName(name)
		if !d.colMap[col] {
			d.log.Debug("New field discovered, adding to table", "field", name, "column", col)
			if err := d.store.addColumn(ctx, d.table, col); err != nil && !d.refreshHas(ctx, col) {
				d.log.Error("Failed to add field to table", "field", name, "error", err)
				return err
			}
			d.colMap[col] = true
		}
		cols = append(cols, col)
		args = append(args, out.Fields[name])
	}
	if _, err := d.store.db.ExecContext(ctx, insertQuery(d.table, cols), args...); err != nil {
		d.log.Error("Failed to insert into table", "error", err)
		return err
	}
	return nil
}

// refreshHas reloads the table's columns, in case another writer added col.
func (d *TableDestination) refreshHas(ctx context.Context, col string) bool {
	cols, err := d.store.getTableColumns(ctx, d.table)
	if err != nil {
		return false
	}
	for _, c := range cols {
		d.colMap[c] = true
	}
	return d.colMap[col]
}

func (d *TableDestination) Close() error {
	return nil
}
