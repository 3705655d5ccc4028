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
	"errors"
	"fmt"
	"sort"

	"estcorp/document"
	"estcorp/shard"

	"github.com/bytedance/sonic"
)

// CollectionRecord is a row of the collections registry
type CollectionRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Created     string   `json:"created"`
	ImportState string   `json:"importState"`
	MetaColumns []string `json:"metaColumns"`
	Layers      []string `json:"layers"`
}

// CollectionStats contains row counts of collection tables
type CollectionStats struct {
	Texts    int            `json:"texts"`
	Metadata int            `json:"metadata"`
	Hashes   int            `json:"hashes"`
	Layers   map[string]int `json:"layers"`
}

func (b *Backend) scanRecord(row interface{ Scan(...any) error }) (*CollectionRecord, error) {
	var rec CollectionRecord
	var desc, created, state, metaJSON, layersJSON sql.NullString
	if err := row.Scan(&rec.Name, &rec.Version, &desc, &created, &state, &metaJSON, &layersJSON); err != nil {
		return nil, err
	}
	rec.Description = desc.String
	rec.Created = created.String
	rec.ImportState = state.String
	if metaJSON.Valid && metaJSON.String != "" {
		if err := sonic.UnmarshalString(metaJSON.String, &rec.MetaColumns); err != nil {
			return nil, fmt.Errorf("invalid meta fields of collection %s: %w", rec.Name, err)
		}
	}
	if layersJSON.Valid && layersJSON.String != "" {
		if err := sonic.UnmarshalString(layersJSON.String, &rec.Layers); err != nil {
			return nil, fmt.Errorf("invalid layers of collection %s: %w", rec.Name, err)
		}
	}
	return &rec, nil
}

func (b *Backend) registrySelect() string {
	d := b.dialect
	return fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s, %s, %s FROM %s",
		d.Quote("collection"), d.Quote("version"), d.Quote("description"), d.Quote("created"),
		d.Quote("import_state"), d.Quote("meta_fields"), d.Quote("layers"),
		d.Table(RegistryTable),
	)
}

func (b *Backend) ListCollections(ctx context.Context) ([]*CollectionRecord, error) {
	exists, err := b.TableExists(ctx, RegistryTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []*CollectionRecord{}, nil
	}
	rows, err := b.db.QueryContext(
		ctx, b.registrySelect()+" ORDER BY "+b.dialect.Quote("collection"))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()
	ans := make([]*CollectionRecord, 0, 10)
	for rows.Next() {
		rec, err := b.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
		ans = append(ans, rec)
	}
	return ans, rows.Err()
}

func (b *Backend) GetCollection(ctx context.Context, name string) (*CollectionRecord, error) {
	exists, err := b.TableExists(ctx, RegistryTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	row := b.db.QueryRowContext(
		ctx,
		b.registrySelect()+" WHERE "+b.dialect.Quote("collection")+" = "+b.dialect.Placeholder(1),
		name,
	)
	rec, err := b.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)

	} else if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	return rec, nil
}

func (b *Backend) countRows(ctx context.Context, table string) (int, error) {
	var ans int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+b.dialect.Table(table)).Scan(&ans)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return ans, nil
}

func (b *Backend) GetCollectionStats(ctx context.Context, rec *CollectionRecord) (*CollectionStats, error) {
	names := Names{rec.Name}
	var ans CollectionStats
	var err error
	ans.Texts, err = b.countRows(ctx, names.Base())
	if err != nil {
		return nil, err
	}
	ans.Metadata, err = b.countRows(ctx, names.Metadata())
	if err != nil {
		return nil, err
	}
	hashExists, err := b.TableExists(ctx, names.Hash())
	if err != nil {
		return nil, err
	}
	if hashExists {
		ans.Hashes, err = b.countRows(ctx, names.Hash())
		if err != nil {
			return nil, err
		}
	}
	ans.Layers = make(map[string]int)
	for _, layer := range rec.Layers {
		ans.Layers[layer], err = b.countRows(ctx, names.Layer(layer))
		if err != nil {
			return nil, err
		}
	}
	return &ans, nil
}

// LoadStructure returns layer templates of a collection
func (b *Backend) LoadStructure(ctx context.Context, collection string) ([]*document.Layer, error) {
	d := b.dialect
	rows, err := b.db.QueryContext(
		ctx,
		fmt.Sprintf(
			"SELECT %s, %s, %s, %s, %s, %s FROM %s",
			d.Quote("layer_name"), d.Quote("attributes"), d.Quote("parent"),
			d.Quote("enveloping"), d.Quote("ambiguous"), d.Quote("meta"),
			d.Table(Names{collection}.Structure()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load structure of %s: %w", collection, err)
	}
	defer rows.Close()
	ans := make([]*document.Layer, 0, 10)
	for rows.Next() {
		var l document.Layer
		var attrs, parent, enveloping, meta sql.NullString
		if err := rows.Scan(&l.Name, &attrs, &parent, &enveloping, &l.Ambiguous, &meta); err != nil {
			return nil, fmt.Errorf("failed to load structure of %s: %w", collection, err)
		}
		l.Parent = parent.String
		l.Enveloping = enveloping.String
		if attrs.String != "" {
			if err := sonic.UnmarshalString(attrs.String, &l.Attributes); err != nil {
				return nil, fmt.Errorf("invalid attributes of layer %s: %w", l.Name, err)
			}
		}
		if meta.String != "" && meta.String != "null" {
			if err := sonic.UnmarshalString(meta.String, &l.Meta); err != nil {
				return nil, fmt.Errorf("invalid meta of layer %s: %w", l.Name, err)
			}
		}
		l.Spans = []document.Span{}
		ans = append(ans, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ans, func(i, j int) bool { return ans[i].Name < ans[j].Name })
	return ans, nil
}

// scanJSON reads JSON data stored either as text or as raw bytes
// (drivers differ here)
func scanJSON(src any, dest any) error {
	switch tv := src.(type) {
	case string:
		return sonic.UnmarshalString(tv, dest)
	case []byte:
		return sonic.Unmarshal(tv, dest)
	case nil:
		return nil
	default:
		// already decoded by the driver
		tmp, err := sonic.Marshal(tv)
		if err != nil {
			return fmt.Errorf("unexpected JSON column value %T: %w", src, err)
		}
		return sonic.Unmarshal(tmp, dest)
	}
}

// LoadDocument reconstructs a document (text, metadata and all layers)
// from the collection tables.
func (b *Backend) LoadDocument(ctx context.Context, collection string, textID int) (*document.Document, error) {
	d := b.dialect
	names := Names{collection}
	var raw any
	err := b.db.QueryRowContext(
		ctx,
		fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s = %s",
			d.Quote("data"), d.Table(names.Base()), d.Quote("id"), d.Placeholder(1),
		),
		textID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d in %s", ErrDocumentNotFound, textID, collection)

	} else if err != nil {
		return nil, fmt.Errorf("failed to load document %d: %w", textID, err)
	}
	var doc document.Document
	if err := scanJSON(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %d: %w", textID, err)
	}
	if doc.Meta == nil {
		doc.Meta = make(map[string]string)
	}
	doc.Layers = make([]*document.Layer, 0, 10)
	structure, err := b.LoadStructure(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, tpl := range structure {
		var rawLayer any
		err := b.db.QueryRowContext(
			ctx,
			fmt.Sprintf(
				"SELECT %s FROM %s WHERE %s = %s",
				d.Quote("data"), d.Table(names.Layer(tpl.Name)), d.Quote(ColTextID), d.Placeholder(1),
			),
			textID,
		).Scan(&rawLayer)
		if errors.Is(err, sql.ErrNoRows) {
			continue

		} else if err != nil {
			return nil, fmt.Errorf("failed to load layer %s of document %d: %w", tpl.Name, textID, err)
		}
		var layer document.Layer
		if err := scanJSON(rawLayer, &layer); err != nil {
			return nil, fmt.Errorf("failed to decode layer %s of document %d: %w", tpl.Name, textID, err)
		}
		doc.Layers = append(doc.Layers, &layer)
	}
	return &doc, nil
}

// ExistingTextIDs returns the set of text IDs already stored
// in the base table.
func (b *Backend) ExistingTextIDs(ctx context.Context, collection string, block *shard.Block) (map[int]bool, error) {
	d := b.dialect
	rows, err := b.db.QueryContext(
		ctx,
		fmt.Sprintf("SELECT %s FROM %s", d.Quote("id"), d.Table(Names{collection}.Base())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load text ids: %w", err)
	}
	defer rows.Close()
	ans := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to load text ids: %w", err)
		}
		if block.Contains(id) {
			ans[id] = true
		}
	}
	return ans, rows.Err()
}

// Orphans returns, for each dependent table, the number of rows whose
// text_id has no matching row in the base table.
func (b *Backend) Orphans(ctx context.Context, rec *CollectionRecord) (map[string]int, error) {
	d := b.dialect
	names := Names{rec.Name}
	tables := []string{names.Metadata()}
	for _, l := range rec.Layers {
		tables = append(tables, names.Layer(l))
	}
	hashExists, err := b.TableExists(ctx, names.Hash())
	if err != nil {
		return nil, err
	}
	if hashExists {
		tables = append(tables, names.Hash())
	}
	ans := make(map[string]int)
	for _, t := range tables {
		var cnt int
		err := b.db.QueryRowContext(
			ctx,
			fmt.Sprintf(
				"SELECT COUNT(*) FROM %s AS t WHERE NOT EXISTS (SELECT 1 FROM %s AS b WHERE b.%s = t.%s)",
				d.Table(t), d.Table(names.Base()), d.Quote("id"), d.Quote(ColTextID),
			),
		).Scan(&cnt)
		if err != nil {
			return nil, fmt.Errorf("failed to check orphans of %s: %w", t, err)
		}
		if cnt > 0 {
			ans[t] = cnt
		}
	}
	return ans, nil
}

// IncompleteTexts returns text IDs of the base table missing a row
// in some of the layer tables.
func (b *Backend) IncompleteTexts(ctx context.Context, rec *CollectionRecord) ([]int, error) {
	d := b.dialect
	names := Names{rec.Name}
	found := make(map[int]bool)
	for _, l := range rec.Layers {
		rows, err := b.db.QueryContext(
			ctx,
			fmt.Sprintf(
				"SELECT b.%s FROM %s AS b WHERE NOT EXISTS (SELECT 1 FROM %s AS t WHERE t.%s = b.%s)",
				d.Quote("id"), d.Table(names.Base()), d.Table(names.Layer(l)), d.Quote(ColTextID), d.Quote("id"),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to check completeness of %s: %w", l, err)
		}
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		rows.Close()
	}
	ans := make([]int, 0, len(found))
	for id := range found {
		ans = append(ans, id)
	}
	sort.Ints(ans)
	return ans, nil
}

// SentenceHashes returns sentence fingerprints of a document ordered
// by sentence index.
func (b *Backend) SentenceHashes(ctx context.Context, collection string, textID int) ([]string, error) {
	d := b.dialect
	rows, err := b.db.QueryContext(
		ctx,
		fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
			d.Quote(document.HashAttr), d.Table(Names{collection}.Hash()),
			d.Quote(ColTextID), d.Placeholder(1), d.Quote("sentence_id"),
		),
		textID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentence hashes: %w", err)
	}
	defer rows.Close()
	ans := make([]string, 0, 50)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		ans = append(ans, h)
	}
	return ans, rows.Err()
}
