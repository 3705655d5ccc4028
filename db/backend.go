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

// Package db stores collections in a relational database.
//
// Each collection consists of a base table with texts, a structure table
// describing layers, a metadata table, one table per layer and (optionally)
// a table with sentence fingerprints. All the rows are linked by
// `text_id`. A global registry table lists all the collections.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"estcorp/engine"
)

const (
	RegistryTable = "__collections"
	SchemaVersion = "estcorp-1"

	StateCreated   = "created"
	StateImporting = "importing"
	StatePartial   = "partial"
	StateComplete  = "complete"
)

var (
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrSplitDocument      = errors.New("split documents cannot be imported")
)

// Names provides table names of a collection
type Names struct {
	Collection string
}

func (n Names) Base() string {
	return n.Collection
}

func (n Names) Structure() string {
	return n.Collection + "__structure"
}

func (n Names) Metadata() string {
	return n.Collection + "__metadata"
}

func (n Names) Layer(layer string) string {
	return fmt.Sprintf("%s__%s__layer", n.Collection, layer)
}

func (n Names) Hash() string {
	return n.Collection + "__sentences__hash"
}

// Backend wraps a database connection along with its SQL dialect
type Backend struct {
	db      *sql.DB
	dialect engine.Dialect
}

func (b *Backend) DB() *sql.DB {
	return b.db
}

func (b *Backend) Dialect() engine.Dialect {
	return b.dialect
}

func (b *Backend) TableExists(ctx context.Context, table string) (bool, error) {
	q, args := b.dialect.TableExistsQuery(table)
	var cnt int
	if err := b.db.QueryRowContext(ctx, q, args...).Scan(&cnt); err != nil {
		return false, fmt.Errorf("failed to test table existence: %w", err)
	}
	return cnt > 0, nil
}

func (b *Backend) tablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	q, args := b.dialect.TablesWithPrefixQuery(prefix)
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()
	ans := make([]string, 0, 10)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		ans = append(ans, name)
	}
	return ans, rows.Err()
}

func NewBackend(db *sql.DB, dialect engine.Dialect) *Backend {
	return &Backend{
		db:      db,
		dialect: dialect,
	}
}
