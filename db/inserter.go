// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"estcorp/merror"

	"github.com/rs/zerolog/log"
)

const (
	// PostgreSQL allows at most 65535 arguments per statement
	maxArgsPerStatement = 60000
)

type tableBuffer struct {
	table   string
	columns []string
	rows    [][]any

	// number of rows belonging to finished documents
	complete int
}

type InserterStats struct {
	Docs       int
	Rows       int
	Flushes    int
	FlushSecs  float64
	LastTextID int
}

// Inserter buffers rows of multiple tables and writes them using
// multi-row INSERT statements. Buffers are flushed only at document
// boundaries and each flush runs in a single transaction so a document
// is either stored completely or not at all.
type Inserter struct {
	backend          *Backend
	bufferSize       int
	queryLengthLimit int

	buffers     map[string]*tableBuffer
	tableOrder  []string
	maxRows     int
	estLength   int
	pendingDocs []int
	docOpen     bool
	stats       InserterStats
}

func (ins *Inserter) Stats() InserterStats {
	return ins.stats
}

func estimateSize(v any) int {
	switch tv := v.(type) {
	case string:
		return len(tv) + 4
	case []byte:
		return len(tv) + 4
	default:
		return 12
	}
}

// Add buffers a row of the current document. Columns must be the same
// for all rows of a table.
func (ins *Inserter) Add(table string, columns []string, values ...any) error {
	if len(columns) != len(values) {
		return merror.NewInternalError(
			"number of values (%d) does not match number of columns (%d)", len(values), len(columns))
	}
	buf, ok := ins.buffers[table]
	if !ok {
		buf = &tableBuffer{table: table, columns: columns, rows: make([][]any, 0, 100)}
		ins.buffers[table] = buf
		ins.tableOrder = append(ins.tableOrder, table)

	} else if strings.Join(buf.columns, "\x00") != strings.Join(columns, "\x00") {
		return merror.NewInternalError("inconsistent columns for table %s", table)
	}
	buf.rows = append(buf.rows, values)
	if len(buf.rows) > ins.maxRows {
		ins.maxRows = len(buf.rows)
	}
	for _, v := range values {
		ins.estLength += estimateSize(v)
	}
	ins.docOpen = true
	return nil
}

// EndDocument marks all rows added so far as belonging to a complete
// document. Buffers are flushed if a limit is reached.
func (ins *Inserter) EndDocument(ctx context.Context, textID int) error {
	ins.pendingDocs = append(ins.pendingDocs, textID)
	for _, buf := range ins.buffers {
		buf.complete = len(buf.rows)
	}
	ins.docOpen = false
	ins.stats.Docs++
	if ins.maxRows >= ins.bufferSize || ins.estLength >= ins.queryLengthLimit {
		return ins.Flush(ctx)
	}
	return nil
}

func (ins *Inserter) reset() {
	for _, buf := range ins.buffers {
		buf.rows = buf.rows[:0]
		buf.complete = 0
	}
	ins.maxRows = 0
	ins.estLength = 0
	ins.pendingDocs = ins.pendingDocs[:0]
}

func (ins *Inserter) insertChunk(ctx context.Context, tx *sql.Tx, buf *tableBuffer, rows [][]any) error {
	d := ins.backend.dialect
	quotedCols := make([]string, len(buf.columns))
	for i, c := range buf.columns {
		quotedCols[i] = d.Quote(c)
	}
	values := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(buf.columns))
	for i, row := range rows {
		values[i] = d.Placeholders(len(args)+1, len(row))
		args = append(args, row...)
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		d.Table(buf.table), strings.Join(quotedCols, ", "), strings.Join(values, ", "),
	)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", buf.table, err)
	}
	return nil
}

func (ins *Inserter) writeTable(ctx context.Context, tx *sql.Tx, buf *tableBuffer) error {
	maxRows := maxArgsPerStatement / len(buf.columns)
	var from, chunkLen int
	for i, row := range buf.rows {
		rowLen := 0
		for _, v := range row {
			rowLen += estimateSize(v)
		}
		if i > from && (i-from >= maxRows || chunkLen+rowLen > ins.queryLengthLimit) {
			if err := ins.insertChunk(ctx, tx, buf, buf.rows[from:i]); err != nil {
				return err
			}
			from = i
			chunkLen = 0
		}
		chunkLen += rowLen
	}
	if from < len(buf.rows) {
		return ins.insertChunk(ctx, tx, buf, buf.rows[from:])
	}
	return nil
}

// Flush writes all complete documents in a single transaction.
// Rows of a document not finished by EndDocument are not allowed here.
func (ins *Inserter) Flush(ctx context.Context) error {
	if ins.docOpen {
		return merror.NewInternalError("cannot flush inserter with an unfinished document")
	}
	if len(ins.pendingDocs) == 0 {
		return nil
	}
	t0 := time.Now()
	tx, err := ins.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start insert transaction: %w", err)
	}
	var numRows int
	for _, table := range ins.tableOrder {
		buf := ins.buffers[table]
		if len(buf.rows) == 0 {
			continue
		}
		if err := ins.writeTable(ctx, tx, buf); err != nil {
			tx.Rollback()
			log.Error().
				Err(err).
				Ints("textIds", ins.pendingDocs).
				Msg("failed to insert documents, transaction rolled back")
			return err
		}
		numRows += len(buf.rows)
	}
	if err := tx.Commit(); err != nil {
		log.Error().
			Err(err).
			Ints("textIds", ins.pendingDocs).
			Msg("failed to commit documents")
		return fmt.Errorf("failed to commit inserted documents: %w", err)
	}
	ins.stats.Rows += numRows
	ins.stats.Flushes++
	ins.stats.FlushSecs += time.Since(t0).Seconds()
	ins.stats.LastTextID = ins.pendingDocs[len(ins.pendingDocs)-1]
	log.Debug().
		Int("docs", len(ins.pendingDocs)).
		Int("rows", numRows).
		Float64("durationSecs", time.Since(t0).Seconds()).
		Msg("inserted buffered rows")
	ins.reset()
	return nil
}

// Discard drops rows of an unfinished document
func (ins *Inserter) Discard() {
	ins.maxRows = 0
	ins.estLength = 0
	for _, buf := range ins.buffers {
		buf.rows = buf.rows[:buf.complete]
		if len(buf.rows) > ins.maxRows {
			ins.maxRows = len(buf.rows)
		}
		for _, row := range buf.rows {
			for _, v := range row {
				ins.estLength += estimateSize(v)
			}
		}
	}
	ins.docOpen = false
}

func NewInserter(backend *Backend, bufferSize, queryLengthLimit int) *Inserter {
	return &Inserter{
		backend:          backend,
		bufferSize:       bufferSize,
		queryLengthLimit: queryLengthLimit,
		buffers:          make(map[string]*tableBuffer),
		tableOrder:       make([]string, 0, 10),
		pendingDocs:      make([]int, 0, 100),
	}
}
