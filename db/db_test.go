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
	"errors"
	"path/filepath"
	"testing"

	"estcorp/document"
	"estcorp/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *Backend {
	conf := &engine.DBConf{
		Driver: engine.DriverSQLite,
		Name:   filepath.Join(t.TempDir(), "test.db"),
	}
	require.NoError(t, conf.ValidateAndDefaults("db"))
	sqlDB, err := engine.Open(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewBackend(sqlDB, engine.NewDialect(conf))
}

func testSpec() CollectionSpec {
	return CollectionSpec{
		Name:        "coll",
		Description: "test collection",
		Layers: []*document.Layer{
			{Name: document.LayerWords, Attributes: []string{}},
			{
				Name:       document.LayerSentences,
				Attributes: []string{document.HashAttr},
				Enveloping: document.LayerWords,
			},
		},
		MetaFields:   []string{"genre", "id"},
		AddHashTable: true,
	}
}

func TestCreateCollection(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))

	for _, table := range []string{
		"coll", "coll__structure", "coll__metadata", "coll__words__layer",
		"coll__sentences__layer", "coll__sentences__hash", RegistryTable,
	} {
		ok, err := b.TableExists(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
	rec, err := b.GetCollection(ctx, "coll")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, rec.Version)
	assert.Equal(t, StateCreated, rec.ImportState)
	assert.Equal(t, []string{"genre", ColInitialID}, rec.MetaColumns)
	assert.Equal(t, []string{document.LayerWords, document.LayerSentences}, rec.Layers)

	structure, err := b.LoadStructure(ctx, "coll")
	require.NoError(t, err)
	require.Len(t, structure, 2)
	assert.Equal(t, document.LayerSentences, structure[0].Name)
	assert.Equal(t, document.LayerWords, structure[0].Enveloping)
	assert.Equal(t, []string{document.HashAttr}, structure[0].Attributes)
}

func TestCreateExistingCollection(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	err := b.CreateCollection(ctx, testSpec(), false)
	assert.True(t, errors.Is(err, ErrCollectionExists))

	require.NoError(t, b.SetImportState(ctx, "coll", StateComplete))
	require.NoError(t, b.CreateCollection(ctx, testSpec(), true))
	rec, err := b.GetCollection(ctx, "coll")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, rec.ImportState)
}

func TestDropCollectionKeepsOthers(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	other := testSpec()
	other.Name = "coll__x"
	require.NoError(t, b.CreateCollection(ctx, other, false))

	require.NoError(t, b.DropCollection(ctx, "coll"))
	ok, err := b.TableExists(ctx, "coll__words__layer")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.TableExists(ctx, "coll__x__words__layer")
	require.NoError(t, err)
	assert.True(t, ok)

	recs, err := b.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "coll__x", recs[0].Name)

	_, err = b.GetCollection(ctx, "coll")
	assert.True(t, errors.Is(err, ErrCollectionNotFound))
}

func TestListCollectionsWithoutRegistry(t *testing.T) {
	b := openTestBackend(t)
	recs, err := b.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 0)
}

func insertDoc(t *testing.T, ins *Inserter, textID int) {
	names := Names{"coll"}
	require.NoError(t, ins.Add(names.Base(), []string{"id", "data"}, textID, `{"text":"a b","meta":{}}`))
	require.NoError(t, ins.Add(
		names.Layer(document.LayerWords), []string{ColTextID, "data"}, textID,
		`{"name":"words","attributes":[],"parent":"","enveloping":"","ambiguous":false,"spans":[]}`,
	))
	require.NoError(t, ins.Add(
		names.Layer(document.LayerSentences), []string{ColTextID, "data"}, textID,
		`{"name":"sentences","attributes":[],"parent":"","enveloping":"words","ambiguous":false,"spans":[]}`,
	))
	require.NoError(t, ins.Add(
		names.Hash(), []string{ColTextID, "sentence_id", document.HashAttr}, textID, 0, "abc"))
}

func TestInserterAndQueries(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	ins := NewInserter(b, 2, 1000000)
	for i := 0; i < 5; i++ {
		insertDoc(t, ins, i)
		require.NoError(t, ins.EndDocument(ctx, i))
	}
	// unfinished document must not be written
	insertDoc(t, ins, 5)
	ins.Discard()
	require.NoError(t, ins.Flush(ctx))
	assert.Equal(t, 5, ins.Stats().Docs)
	assert.Equal(t, 4, ins.Stats().LastTextID)

	ids, err := b.ExistingTextIDs(ctx, "coll", nil)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}, ids)

	rec, err := b.GetCollection(ctx, "coll")
	require.NoError(t, err)
	stats, err := b.GetCollectionStats(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Texts)
	assert.Equal(t, 5, stats.Hashes)
	assert.Equal(t, map[string]int{"words": 5, "sentences": 5}, stats.Layers)

	orphans, err := b.Orphans(ctx, rec)
	require.NoError(t, err)
	assert.Len(t, orphans, 0)
	incomplete, err := b.IncompleteTexts(ctx, rec)
	require.NoError(t, err)
	assert.Len(t, incomplete, 0)

	hashes, err := b.SentenceHashes(ctx, "coll", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, hashes)

	doc, err := b.LoadDocument(ctx, "coll", 2)
	require.NoError(t, err)
	assert.Equal(t, "a b", doc.Text)
	assert.Len(t, doc.Layers, 2)
}

func TestInserterRejectsOpenDocument(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	ins := NewInserter(b, 100, 1000000)
	insertDoc(t, ins, 0)
	assert.Error(t, ins.Flush(ctx))
	err := ins.Add(Names{"coll"}.Base(), []string{"id"}, 1)
	assert.Error(t, err)
}

func TestDiscardRestoresBufferEstimates(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	ins := NewInserter(b, 100, 1000000)
	insertDoc(t, ins, 0)
	require.NoError(t, ins.EndDocument(ctx, 0))
	rowsBefore, lengthBefore := ins.maxRows, ins.estLength

	insertDoc(t, ins, 1)
	assert.Greater(t, ins.estLength, lengthBefore)
	ins.Discard()
	assert.Equal(t, rowsBefore, ins.maxRows)
	assert.Equal(t, lengthBefore, ins.estLength)
}

func TestOrphansDetected(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateCollection(ctx, testSpec(), false))
	ins := NewInserter(b, 100, 1000000)
	insertDoc(t, ins, 0)
	require.NoError(t, ins.EndDocument(ctx, 0))
	require.NoError(t, ins.Flush(ctx))
	_, err := b.DB().ExecContext(ctx, `DELETE FROM "coll" WHERE "id" = 0`)
	require.NoError(t, err)

	rec, err := b.GetCollection(ctx, "coll")
	require.NoError(t, err)
	orphans, err := b.Orphans(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, orphans["coll__words__layer"])
	assert.Equal(t, 1, orphans["coll__sentences__hash"])
}

func TestMetadataColumns(t *testing.T) {
	spec := CollectionSpec{MetaFields: []string{"id", "title"}, AddVertIndexingInfo: true}
	assert.Equal(
		t,
		[]string{ColInitialID, "title", ColVertFile, ColVertDocID, ColVertDocStartLine, ColVertDocEndLine},
		spec.MetadataColumns(),
	)
	spec.RemoveInitialID = true
	spec.AddVertIndexingInfo = false
	assert.Equal(t, []string{"title"}, spec.MetadataColumns())
}
