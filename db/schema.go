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

	"estcorp/document"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const (
	ColTextID    = "text_id"
	ColInitialID = "initial_id"

	ColVertFile         = "_vert_file"
	ColVertDocID        = "_vert_doc_id"
	ColVertDocStartLine = "_vert_doc_start_line"
	ColVertDocEndLine   = "_vert_doc_end_line"
)

// CollectionSpec describes tables of a new collection
type CollectionSpec struct {
	Name        string
	Description string

	// Layers are layer templates (spans are ignored)
	Layers []*document.Layer

	MetaFields          []string
	MetadataDescription string
	AddHashTable        bool
	AddVertIndexingInfo bool
	RemoveInitialID     bool
}

// MetadataColumns returns metadata table columns (text_id excluded)
// in the order they are created.
func (spec CollectionSpec) MetadataColumns() []string {
	ans := make([]string, 0, len(spec.MetaFields)+4)
	for _, f := range spec.MetaFields {
		if f == "id" {
			if spec.RemoveInitialID {
				continue
			}
			f = ColInitialID
		}
		ans = append(ans, f)
	}
	if spec.AddVertIndexingInfo {
		ans = append(ans, ColVertFile, ColVertDocID, ColVertDocStartLine, ColVertDocEndLine)
	}
	return ans
}

// MetaFieldToColumn maps a document metadata field to a metadata
// table column.
func MetaFieldToColumn(field string) string {
	if field == "id" {
		return ColInitialID
	}
	return field
}

func (spec CollectionSpec) validate() error {
	if len(spec.Layers) == 0 {
		return fmt.Errorf("collection %s has no layers", spec.Name)
	}
	for _, f := range spec.MetaFields {
		if f == ColTextID || f == ColInitialID {
			return fmt.Errorf("metadata field name `%s` is reserved", f)
		}
		if strings.HasPrefix(f, "_vert_") && spec.AddVertIndexingInfo {
			return fmt.Errorf("metadata field name `%s` collides with indexing info", f)
		}
	}
	return nil
}

// EnsureRegistry creates the global registry of collections if missing
func (b *Backend) EnsureRegistry(ctx context.Context) error {
	d := b.dialect
	q := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"%s %s PRIMARY KEY, "+
			"%s %s, %s %s, %s %s, %s %s, %s %s, %s %s)",
		d.Table(RegistryTable),
		d.Quote("collection"), d.ShortTextType(),
		d.Quote("version"), d.ShortTextType(),
		d.Quote("description"), d.TextType(),
		d.Quote("created"), d.ShortTextType(),
		d.Quote("import_state"), d.ShortTextType(),
		d.Quote("meta_fields"), d.TextType(),
		d.Quote("layers"), d.TextType(),
	)
	if _, err := b.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to create collections registry: %w", err)
	}
	return nil
}

func (b *Backend) CollectionExists(ctx context.Context, name string) (bool, error) {
	return b.TableExists(ctx, Names{name}.Base())
}

func (b *Backend) createTables(ctx context.Context, tx *sql.Tx, spec CollectionSpec) error {
	d := b.dialect
	names := Names{spec.Name}
	stmts := make([]string, 0, 20)
	stmts = append(
		stmts,
		fmt.Sprintf(
			"CREATE TABLE %s (%s INTEGER PRIMARY KEY, %s %s)",
			d.Table(names.Base()), d.Quote("id"), d.Quote("data"), d.JSONType(),
		),
		fmt.Sprintf(
			"CREATE TABLE %s (%s %s PRIMARY KEY, %s %s, %s %s, %s %s, %s BOOLEAN, %s %s)",
			d.Table(names.Structure()),
			d.Quote("layer_name"), d.ShortTextType(),
			d.Quote("attributes"), d.TextType(),
			d.Quote("parent"), d.ShortTextType(),
			d.Quote("enveloping"), d.ShortTextType(),
			d.Quote("ambiguous"),
			d.Quote("meta"), d.TextType(),
		),
	)
	metaCols := make([]string, 0, len(spec.MetaFields)+2)
	metaCols = append(metaCols, d.SerialPK("id", true), d.Quote(ColTextID)+" INTEGER NOT NULL")
	for _, col := range spec.MetadataColumns() {
		metaCols = append(metaCols, d.Quote(col)+" "+d.TextType())
	}
	stmts = append(
		stmts,
		fmt.Sprintf("CREATE TABLE %s (%s)", d.Table(names.Metadata()), strings.Join(metaCols, ", ")),
		d.CreateIndex(names.Metadata(), ColTextID),
	)
	if spec.MetadataDescription != "" {
		if c := d.TableComment(names.Metadata(), spec.MetadataDescription); c != "" {
			stmts = append(stmts, c)
		}
	}
	for _, layer := range spec.Layers {
		table := names.Layer(layer.Name)
		stmts = append(
			stmts,
			fmt.Sprintf(
				"CREATE TABLE %s (%s, %s INTEGER NOT NULL, %s %s)",
				d.Table(table), d.SerialPK("id", false), d.Quote(ColTextID), d.Quote("data"), d.JSONType(),
			),
			d.CreateIndex(table, ColTextID),
		)
		if c := d.TableComment(table, fmt.Sprintf("%s layer of the %s collection", layer.Name, spec.Name)); c != "" {
			stmts = append(stmts, c)
		}
	}
	if spec.AddHashTable {
		stmts = append(
			stmts,
			fmt.Sprintf(
				"CREATE TABLE %s (%s, %s INTEGER NOT NULL, %s INTEGER NOT NULL, %s %s NOT NULL)",
				d.Table(names.Hash()),
				d.SerialPK("id", true),
				d.Quote(ColTextID),
				d.Quote("sentence_id"),
				d.Quote(document.HashAttr), d.ShortTextType(),
			),
			d.CreateIndex(names.Hash(), ColTextID),
			d.CreateIndex(names.Hash(), document.HashAttr),
		)
	}
	for _, stmt := range stmts {
		log.Debug().Str("sql", stmt).Msg("creating collection table")
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create collection table: %w", err)
		}
	}
	return nil
}

func (b *Backend) insertStructure(ctx context.Context, tx *sql.Tx, spec CollectionSpec) error {
	d := b.dialect
	q := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES %s",
		d.Table(Names{spec.Name}.Structure()),
		d.Quote("layer_name"), d.Quote("attributes"), d.Quote("parent"),
		d.Quote("enveloping"), d.Quote("ambiguous"), d.Quote("meta"),
		d.Placeholders(1, 6),
	)
	for _, layer := range spec.Layers {
		attrs, err := sonic.Marshal(layer.Attributes)
		if err != nil {
			return err
		}
		meta, err := sonic.Marshal(layer.Meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(
			ctx, q, layer.Name, string(attrs), layer.Parent, layer.Enveloping, layer.Ambiguous, string(meta))
		if err != nil {
			return fmt.Errorf("failed to insert layer structure: %w", err)
		}
	}
	return nil
}

func (b *Backend) registerCollection(ctx context.Context, tx *sql.Tx, spec CollectionSpec) error {
	d := b.dialect
	layerNames := make([]string, len(spec.Layers))
	for i, l := range spec.Layers {
		layerNames[i] = l.Name
	}
	layersJSON, err := sonic.Marshal(layerNames)
	if err != nil {
		return err
	}
	metaJSON, err := sonic.Marshal(spec.MetadataColumns())
	if err != nil {
		return err
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES %s",
		d.Table(RegistryTable),
		d.Quote("collection"), d.Quote("version"), d.Quote("description"), d.Quote("created"),
		d.Quote("import_state"), d.Quote("meta_fields"), d.Quote("layers"),
		d.Placeholders(1, 7),
	)
	_, err = tx.ExecContext(
		ctx, q, spec.Name, SchemaVersion, spec.Description,
		time.Now().Format(time.RFC3339), StateCreated, string(metaJSON), string(layersJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}
	return nil
}

// CreateCollection creates all the tables of a collection and registers it.
// An existing collection is reported via ErrCollectionExists unless
// overwrite is set, in which case it is dropped first.
func (b *Backend) CreateCollection(ctx context.Context, spec CollectionSpec, overwrite bool) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if err := b.EnsureRegistry(ctx); err != nil {
		return err
	}
	exists, err := b.CollectionExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrCollectionExists, spec.Name)
		}
		log.Warn().Str("collection", spec.Name).Msg("removing existing collection")
		if err := b.DropCollection(ctx, spec.Name); err != nil {
			return err
		}
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if err := b.createTables(ctx, tx, spec); err != nil {
		tx.Rollback()
		return err
	}
	if err := b.insertStructure(ctx, tx, spec); err != nil {
		tx.Rollback()
		return err
	}
	if err := b.registerCollection(ctx, tx, spec); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Info().
		Str("collection", spec.Name).
		Int("layers", len(spec.Layers)).
		Int("metaFields", len(spec.MetaFields)).
		Bool("hashTable", spec.AddHashTable).
		Msg("collection created")
	return nil
}

// DropCollection removes all the tables of a collection along with
// its registry record.
func (b *Backend) DropCollection(ctx context.Context, name string) error {
	names := Names{name}
	tables, err := b.tablesWithPrefix(ctx, name+"__")
	if err != nil {
		return err
	}
	toDrop := make([]string, 0, len(tables)+1)
	for _, t := range tables {
		switch {
		case t == names.Structure(), t == names.Metadata(), t == names.Hash():
			toDrop = append(toDrop, t)
		case strings.HasSuffix(t, "__layer") && strings.Count(strings.TrimPrefix(t, name+"__"), "__") == 1:
			toDrop = append(toDrop, t)
		}
	}
	toDrop = append(toDrop, names.Base())
	for _, t := range toDrop {
		if _, err := b.db.ExecContext(ctx, b.dialect.DropTable(t)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t, err)
		}
		log.Debug().Str("table", t).Msg("table dropped")
	}
	regExists, err := b.TableExists(ctx, RegistryTable)
	if err != nil {
		return err
	}
	if regExists {
		q := fmt.Sprintf(
			"DELETE FROM %s WHERE %s = %s",
			b.dialect.Table(RegistryTable), b.dialect.Quote("collection"), b.dialect.Placeholder(1),
		)
		if _, err := b.db.ExecContext(ctx, q, name); err != nil {
			return fmt.Errorf("failed to unregister collection: %w", err)
		}
	}
	return nil
}

// SetImportState updates the state of the collection in the registry
func (b *Backend) SetImportState(ctx context.Context, name, state string) error {
	q := fmt.Sprintf(
		"UPDATE %s SET %s = %s WHERE %s = %s",
		b.dialect.Table(RegistryTable),
		b.dialect.Quote("import_state"), b.dialect.Placeholder(1),
		b.dialect.Quote("collection"), b.dialect.Placeholder(2),
	)
	res, err := b.db.ExecContext(ctx, q, state, name)
	if err != nil {
		return fmt.Errorf("failed to set import state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}
