package store

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"strings"
)

const (
	idColumn          = "evt_id"
	destinationColumn = "evt_destination"
	payloadColumn     = "evt_payload"
	lineColumn        = "evt_line"
	sourceColumn      = "evt_source"

	createTable = `
create table if not exists %s (
	evt_id integer primary key,
	evt_destination text not null,
	evt_payload text not null,
	evt_line integer not null,
	evt_source text null
)`
	selectPage = `select evt_id, evt_payload, evt_source from %s where evt_id > ? order by evt_id limit ?`

	pageSize = 500
)

var reservedColumns = map[string]bool{
	idColumn:          true,
	destinationColumn: true,
	payloadColumn:     true,
	lineColumn:        true,
	sourceColumn:      true,
}

// columnName maps a field name to its column, keeping clear of the event columns.
func columnName(field string) string {
	if reservedColumns[field] {
		return "field_" + field
	}
	return field
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func insertQuery(table string, cols []string) string {
	var (
		into   strings.Builder
		params strings.Builder
	)
	for i, c := range cols {
		if i > 0 {
			into.WriteString(",")
			params.WriteString(",")
		}
		into.WriteString(quoteIdent(c))
		params.WriteString("?")
	}
	return fmt.Sprintf("insert into %s (%s) values (%s)", table, into.String(), params.String())
}

// newPayloadIterator reads the payload column of table in evt_id order, one page at a time.
// The rows of a page are read fully before the next query so no connection is held between calls.
func newPayloadIterator(ctx context.Context, log hclog.Logger, db *sql.DB, table string) iterator.Iterator {
	var (
		lastID int64
		num    int64
		page   []iterator.Line
		ids    []int64
		done   bool
	)
	query := fmt.Sprintf(selectPage, table)
	fetch := func() error {
		rows, err := db.QueryContext(ctx, query, lastID, pageSize)
		if err != nil {
			return err
		}
		defer func() {
			_ = rows.Close()
		}()
		page, ids = page[:0], ids[:0]
		for rows.Next() {
			var (
				id      int64
				payload string
				source  sql.NullString
			)
			if err := rows.Scan(&id, &payload, &source); err != nil {
				return err
			}
			if source.String == "" {
				source.String = table
			}
			ids = append(ids, id)
			page = append(page, iterator.Line{Text: payload, Source: source.String})
		}
		return rows.Err()
	}
	return iterator.Func(func() (iterator.Line, error) {
		if done {
			return iterator.End()
		}
		if len(page) == 0 {
			if err := fetch(); err != nil {
				done = true
				log.Error("Failed to query table", "table", table, "error", err)
				return iterator.Err(err)
			}
			if len(page) == 0 {
				done = true
				return iterator.End()
			}
		}
		line := page[0]
		lastID = ids[0]
		page, ids = page[1:], ids[1:]
		num++
		line.Num = num
		return line, nil
	})
}
