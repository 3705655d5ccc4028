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

package dbimport

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"estcorp/collection"
	"estcorp/db"
	"estcorp/document"
	"estcorp/merror"
	"estcorp/shard"

	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog/log"
)

var errStopWalk = errors.New("stop walking")

type Options struct {
	Block *shard.Block

	// InputSuffix selects an annotated variant of document files
	// (e.g. `_syntax` for `doc_syntax.json`)
	InputSuffix string

	// Resume skips documents already stored in the base table
	Resume bool

	// First limits the import to the first N documents of the collection
	First int

	// Last limits the import to the last N documents of the collection
	Last int

	ProgressEach int

	// OnProgress is called each ProgressEach imported documents
	OnProgress func(docs, lastTextID int)
}

type Stats struct {
	Docs         int     `json:"docs"`
	Existing     int     `json:"existing"`
	Rows         int     `json:"rows"`
	LastTextID   int     `json:"lastTextId"`
	DurationSecs float64 `json:"durationSecs"`
}

// Importer stores documents of a collection directory into previously
// created collection tables. Each document gets `text_id` equal to its
// global position in the collection (source files in configured order,
// documents in their original order) so independently running shards
// assign the same IDs.
type Importer struct {
	conf    *collection.Conf
	backend *db.Backend
	opts    Options
	names   db.Names

	record    *db.CollectionRecord
	hashTable bool
	vertFiles map[string]string
	existing  map[int]bool
	stats     Stats
}

func (imp *Importer) Stats() Stats {
	return imp.stats
}

func (imp *Importer) sentenceHashes(doc *document.Document) ([]string, error) {
	sl := doc.Layer(document.LayerSentences)
	if sl == nil {
		return []string{}, nil
	}
	if !sl.HasAttribute(document.HashAttr) {
		return document.SentenceFingerprints(doc)
	}
	ans := make([]string, len(sl.Spans))
	for i, sp := range sl.Spans {
		if len(sp.Annotations) == 0 {
			continue
		}
		if v, ok := sp.Annotations[0][document.HashAttr].(string); ok {
			ans[i] = v
		}
	}
	return ans, nil
}

func (imp *Importer) metadataValue(column string, doc *document.Document, sourceDir string) any {
	var v string
	var ok bool
	switch column {
	case db.ColInitialID:
		v, ok = doc.Meta["id"]
	case db.ColVertFile:
		v, ok = imp.vertFiles[filepath.Base(sourceDir)]
	case db.ColVertDocID:
		v, ok = doc.Meta[document.MetaDocID]
	case db.ColVertDocStartLine:
		v, ok = doc.Meta[document.MetaDocStartLine]
	case db.ColVertDocEndLine:
		v, ok = doc.Meta[document.MetaDocEndLine]
	default:
		v, ok = doc.Meta[column]
	}
	if !ok {
		return nil
	}
	return v
}

func (imp *Importer) loadDocument(dd collection.DocDir) (*document.Document, error) {
	files, err := collection.DocumentFiles(dd.Path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, merror.NewInputError("no document file found in %s", dd.Path)
	}
	if len(files) > 1 {
		return nil, fmt.Errorf("%w: %s", db.ErrSplitDocument, dd.Path)
	}
	path := files[0]
	if imp.opts.InputSuffix != "" {
		path = collection.AnnotatedFile(path, imp.opts.InputSuffix)
	}
	doc, err := document.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if document.IsSplitPart(doc) {
		return nil, fmt.Errorf("%w: %s", db.ErrSplitDocument, path)
	}
	return doc, nil
}

func (imp *Importer) importDocument(
	ctx context.Context,
	ins *db.Inserter,
	textID int,
	sourceDir string,
	dd collection.DocDir,
) error {
	doc, err := imp.loadDocument(dd)
	if err != nil {
		return err
	}
	var hashes []string
	if imp.hashTable {
		hashes, err = imp.sentenceHashes(doc)
		if err != nil {
			return err
		}
	}
	if err := prepareLayers(imp.conf, doc); err != nil {
		return err
	}

	base := &document.Document{Text: doc.Text, Meta: doc.Meta, Layers: []*document.Layer{}}
	baseData, err := document.Marshal(base)
	if err != nil {
		return fmt.Errorf("failed to encode document %d: %w", textID, err)
	}
	if err := ins.Add(imp.names.Base(), []string{"id", "data"}, textID, string(baseData)); err != nil {
		return err
	}

	metaCols := make([]string, 0, len(imp.record.MetaColumns)+1)
	metaCols = append(metaCols, db.ColTextID)
	metaVals := make([]any, 0, len(imp.record.MetaColumns)+1)
	metaVals = append(metaVals, textID)
	for _, col := range imp.record.MetaColumns {
		metaCols = append(metaCols, col)
		metaVals = append(metaVals, imp.metadataValue(col, doc, sourceDir))
	}
	if err := ins.Add(imp.names.Metadata(), metaCols, metaVals...); err != nil {
		return err
	}

	hashCols := []string{db.ColTextID, "sentence_id", document.HashAttr}
	for i, h := range hashes {
		if err := ins.Add(imp.names.Hash(), hashCols, textID, i, h); err != nil {
			return err
		}
	}

	layerCols := []string{db.ColTextID, "data"}
	for _, layer := range doc.Layers {
		if !collections.SliceContains(imp.record.Layers, layer.Name) {
			return merror.NewInputError(
				"document %s contains layer %s unknown to collection %s",
				dd.Path, layer.Name, imp.conf.Name,
			)
		}
		data, err := document.MarshalLayer(layer)
		if err != nil {
			return fmt.Errorf("failed to encode layer %s of document %d: %w", layer.Name, textID, err)
		}
		if err := ins.Add(imp.names.Layer(layer.Name), layerCols, textID, string(data)); err != nil {
			return err
		}
	}
	if len(doc.Layers) < len(imp.record.Layers) {
		log.Warn().
			Int("textId", textID).
			Str("path", dd.Path).
			Strs("layers", doc.LayerNames()).
			Msg("document misses some of the collection layers")
	}
	return nil
}

func (imp *Importer) countDocuments() (int, error) {
	var ans int
	err := collection.WalkDocuments(
		imp.conf.CollDir(),
		imp.conf.SourceFiles,
		func(seq int, sourceDir string, dd collection.DocDir) error {
			ans++
			return nil
		},
	)
	return ans, err
}

func (imp *Importer) isFullRun() bool {
	return imp.opts.Block.IsAll() && imp.opts.First == 0 && imp.opts.Last == 0
}

func (imp *Importer) prepare(ctx context.Context) error {
	var err error
	imp.record, err = imp.backend.GetCollection(ctx, imp.conf.Name)
	if err != nil {
		return err
	}
	imp.hashTable, err = imp.backend.TableExists(ctx, imp.names.Hash())
	if err != nil {
		return err
	}
	imp.vertFiles = make(map[string]string)
	for _, src := range imp.conf.SourceFiles {
		imp.vertFiles[collection.SourceStem(src)] = filepath.Base(src)
	}
	imp.existing = make(map[int]bool)
	if imp.opts.Resume {
		imp.existing, err = imp.backend.ExistingTextIDs(ctx, imp.conf.Name, imp.opts.Block)
		if err != nil {
			return err
		}
		log.Info().
			Int("existing", len(imp.existing)).
			Msg("resuming import, stored documents will be skipped")
	}
	return nil
}

// Run imports all the documents matching the configured options
func (imp *Importer) Run(ctx context.Context) error {
	t0 := time.Now()
	if err := imp.prepare(ctx); err != nil {
		return err
	}
	var numDocs int
	if imp.opts.Last > 0 {
		var err error
		numDocs, err = imp.countDocuments()
		if err != nil {
			return err
		}
	}
	if err := imp.backend.SetImportState(ctx, imp.conf.Name, db.StateImporting); err != nil {
		return err
	}
	log.Info().
		Str("collection", imp.conf.Name).
		Str("block", imp.opts.Block.String()).
		Str("inputSuffix", imp.opts.InputSuffix).
		Msg("starting import")

	ins := db.NewInserter(imp.backend, imp.conf.InsertBufferSize, imp.conf.InsertQueryLengthLimit)
	imp.stats.LastTextID = -1
	err := collection.WalkDocuments(
		imp.conf.CollDir(),
		imp.conf.SourceFiles,
		func(seq int, sourceDir string, dd collection.DocDir) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if imp.opts.First > 0 && seq >= imp.opts.First {
				return errStopWalk
			}
			if imp.opts.Last > 0 && seq < numDocs-imp.opts.Last {
				return nil
			}
			if !imp.opts.Block.Contains(seq) {
				return nil
			}
			if imp.existing[seq] {
				imp.stats.Existing++
				return nil
			}
			if err := imp.importDocument(ctx, ins, seq, sourceDir, dd); err != nil {
				ins.Discard()
				return fmt.Errorf("failed to import document %s (text_id %d): %w", dd.Path, seq, err)
			}
			if err := ins.EndDocument(ctx, seq); err != nil {
				return err
			}
			imp.stats.Docs++
			imp.stats.LastTextID = seq
			if imp.opts.ProgressEach > 0 && imp.stats.Docs%imp.opts.ProgressEach == 0 {
				log.Info().
					Int("docs", imp.stats.Docs).
					Int("lastTextId", seq).
					Msg("import progress")
				if imp.opts.OnProgress != nil {
					imp.opts.OnProgress(imp.stats.Docs, seq)
				}
			}
			return nil
		},
	)
	if errors.Is(err, errStopWalk) {
		err = nil
	}
	if err != nil {
		// documents finished so far are still consistent
		if flushErr := ins.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			log.Error().Err(flushErr).Msg("failed to store already processed documents")
		}
		if stErr := imp.backend.SetImportState(
			context.WithoutCancel(ctx), imp.conf.Name, db.StatePartial); stErr != nil {
			log.Error().Err(stErr).Msg("failed to update import state")
		}
		imp.stats.Rows = ins.Stats().Rows
		return err
	}
	if err := ins.Flush(ctx); err != nil {
		return err
	}
	state := db.StatePartial
	if imp.isFullRun() {
		state = db.StateComplete
	}
	if err := imp.backend.SetImportState(ctx, imp.conf.Name, state); err != nil {
		return err
	}
	imp.stats.Rows = ins.Stats().Rows
	imp.stats.DurationSecs = time.Since(t0).Seconds()
	log.Info().
		Str("collection", imp.conf.Name).
		Str("block", imp.opts.Block.String()).
		Int("docs", imp.stats.Docs).
		Int("existing", imp.stats.Existing).
		Int("rows", imp.stats.Rows).
		Int("flushes", ins.Stats().Flushes).
		Float64("flushSecs", ins.Stats().FlushSecs).
		Float64("durationSecs", imp.stats.DurationSecs).
		Str("importState", state).
		Msg("import finished")
	return nil
}

func NewImporter(conf *collection.Conf, backend *db.Backend, opts Options) *Importer {
	return &Importer{
		conf:    conf,
		backend: backend,
		opts:    opts,
		names:   db.Names{Collection: conf.Name},
	}
}
