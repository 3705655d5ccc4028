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

// Package convert turns source files of a collection (vert, prevert,
// XML-TEI) into JSON documents stored in the collection directory.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"estcorp/collection"
	"estcorp/document"
	"estcorp/shard"
	"estcorp/teixml"
	"estcorp/vert"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

type Stats struct {
	Files           int     `json:"files"`
	Docs            int     `json:"docs"`
	SplitDocs       int     `json:"splitDocs"`
	WrittenFiles    int     `json:"writtenFiles"`
	LongSentences   int     `json:"longSentences"`
	OversizedLayers int     `json:"oversizedLayers"`
	DurationSecs    float64 `json:"durationSecs"`
}

type Converter struct {
	conf          *collection.Conf
	block         *shard.Block
	progressEach  int
	stats         Stats
	collectorAll  *collection.MetaFieldsCollector
	collectorFile *collection.MetaFieldsCollector
}

func (c *Converter) Stats() Stats {
	return c.stats
}

func (c *Converter) countLongSentences(doc *document.Document, sourceFile string) {
	sents, err := doc.Enveloped(document.LayerSentences, document.LayerWords)
	if err != nil {
		return
	}
	for i, s := range sents {
		if len(s) > c.conf.MaxSentenceLength {
			c.stats.LongSentences++
			log.Warn().
				Str("file", sourceFile).
				Str("docId", doc.Meta["id"]).
				Int("sentence", i).
				Int("words", len(s)).
				Msg("sentence exceeds maximal length")
		}
	}
}

// checkLayerSizes tests serialized sizes of layers, it returns the first
// layer exceeding the limit (or an empty string)
func (c *Converter) checkLayerSizes(doc *document.Document) (string, error) {
	for _, l := range doc.Layers {
		data, err := document.MarshalLayer(l)
		if err != nil {
			return "", err
		}
		if len(data) > c.conf.MaxLayerSize {
			return l.Name, nil
		}
	}
	return "", nil
}

func (c *Converter) removeOldFiles(docDir string) error {
	files, err := collection.DocumentFiles(docDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove outdated document file: %w", err)
		}
	}
	return nil
}

func (c *Converter) processDoc(ctx context.Context, doc *document.Document, sourceFile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	docID, err := strconv.Atoi(doc.Meta[document.MetaDocID])
	if err != nil {
		return fmt.Errorf("document without valid %s: %w", document.MetaDocID, err)
	}
	if doc.Layer(document.LayerSentences) != nil {
		c.countLongSentences(doc, sourceFile)
		if c.conf.AddSentenceHashes {
			if err := document.AddSentenceHashes(doc); err != nil {
				return err
			}
		}
	}
	oversized, err := c.checkLayerSizes(doc)
	if err != nil {
		return fmt.Errorf("failed to check layer sizes: %w", err)
	}
	if oversized != "" {
		c.stats.OversizedLayers++
		log.Error().
			Str("file", sourceFile).
			Str("docId", doc.Meta["id"]).
			Str("layer", oversized).
			Int("limit", c.conf.MaxLayerSize).
			Msg("layer too large, skipping document")
		return nil
	}
	c.collectorFile.Add(doc.Meta)

	docDir, err := collection.EnsureDocDir(
		c.conf.CollDir(), sourceFile, docID, c.conf.MaxDocsPerGroup)
	if err != nil {
		return err
	}
	if err := c.removeOldFiles(docDir); err != nil {
		return err
	}
	parts := document.Split(doc, c.conf.MaxTextSize)
	if len(parts) > 1 {
		c.stats.SplitDocs++
		log.Warn().
			Str("file", sourceFile).
			Str("docId", doc.Meta["id"]).
			Int("parts", len(parts)).
			Msg("document too large, split into parts")
	}
	for i, part := range parts {
		var partNum int
		if len(parts) > 1 {
			partNum = i + 1
		}
		outPath := filepath.Join(docDir, collection.DocFileName(partNum, ""))
		if err := document.SaveFile(part, outPath); err != nil {
			return err
		}
		if !fs.PathExists(outPath) {
			return fmt.Errorf("failed to verify written file %s", outPath)
		}
		c.stats.WrittenFiles++
	}
	c.stats.Docs++
	if c.progressEach > 0 && c.stats.Docs%c.progressEach == 0 {
		log.Info().
			Str("file", sourceFile).
			Int("docs", c.stats.Docs).
			Msg("conversion progress")
	}
	return nil
}

func (c *Converter) metaFieldsFileName() string {
	if c.block.IsAll() && len(c.conf.FocusDocIDs) == 0 {
		return collection.MetaFieldsFile
	}
	if c.block.IsAll() {
		return "meta_fields_focus.txt"
	}
	return fmt.Sprintf("meta_fields_%d_%d.txt", c.block.Divisor, c.block.Remainder)
}

func (c *Converter) convertFile(ctx context.Context, sourceFile string) error {
	c.collectorFile = collection.NewMetaFieldsCollector()
	procDoc := func(doc *document.Document) error {
		return c.processDoc(ctx, doc, sourceFile)
	}
	switch c.conf.Format {
	case collection.FormatTEI:
		if err := teixml.WalkSource(sourceFile, c.block, c.conf.Src, procDoc); err != nil {
			return err
		}
	default:
		opts := vert.Options{
			Prevert:     c.conf.Format == collection.FormatPrevert,
			Block:       c.block,
			FocusDocIDs: c.conf.FocusDocIDs,
			Src:         c.conf.Src,
		}
		if !opts.Prevert {
			opts.MorphColumns = c.conf.MorphColumns
		}
		stats, err := vert.ParseFile(sourceFile, opts, procDoc)
		if err != nil {
			return err
		}
		log.Info().
			Str("file", sourceFile).
			Int("docs", stats.Docs).
			Int("skippedDocs", stats.SkippedDocs).
			Int("tokens", stats.Tokens).
			Msg("source file converted")
	}
	if c.conf.CollectMetaFields {
		c.collectorAll.Merge(c.collectorFile)
		sd := filepath.Join(c.conf.CollDir(), collection.SourceStem(sourceFile))
		if err := os.MkdirAll(sd, 0755); err != nil {
			return fmt.Errorf("failed to create source directory: %w", err)
		}
		if err := collection.WriteMetaFields(
			filepath.Join(sd, c.metaFieldsFileName()), c.collectorFile.Fields()); err != nil {
			return err
		}
	}
	return nil
}

// Run converts all the configured source files
func (c *Converter) Run(ctx context.Context) error {
	t0 := time.Now()
	if err := os.MkdirAll(c.conf.CollDir(), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	for _, src := range c.conf.SourceFiles {
		log.Info().
			Str("file", src).
			Str("block", c.block.String()).
			Msg("converting source file")
		if err := c.convertFile(ctx, src); err != nil {
			return fmt.Errorf("failed to convert %s: %w", src, err)
		}
		c.stats.Files++
	}
	if c.conf.CollectMetaFields && c.block.IsAll() && len(c.conf.FocusDocIDs) == 0 {
		if err := collection.WriteMetaFields(
			filepath.Join(c.conf.CollDir(), collection.MetaFieldsFile),
			c.collectorAll.Fields(),
		); err != nil {
			return err
		}
	}
	c.stats.DurationSecs = time.Since(t0).Seconds()
	log.Info().
		Int("files", c.stats.Files).
		Int("docs", c.stats.Docs).
		Int("splitDocs", c.stats.SplitDocs).
		Int("longSentences", c.stats.LongSentences).
		Int("oversizedLayers", c.stats.OversizedLayers).
		Float64("durationSecs", c.stats.DurationSecs).
		Msg("conversion finished")
	return nil
}

func NewConverter(conf *collection.Conf, block *shard.Block, progressEach int) *Converter {
	return &Converter{
		conf:         conf,
		block:        block,
		progressEach: progressEach,
		collectorAll: collection.NewMetaFieldsCollector(),
	}
}
