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

package annotate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"estcorp/collection"
	"estcorp/document"
	"estcorp/shard"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

// HashSource provides sentence fingerprints of already imported documents
type HashSource interface {
	SentenceHashes(ctx context.Context, collection string, textID int) ([]string, error)
}

type Options struct {
	Block *shard.Block

	// Force re-annotates documents with an existing output file
	Force bool

	// ChangedOnly re-annotates only documents whose sentences
	// differ from the imported version
	ChangedOnly bool

	ProgressEach int
}

type Stats struct {
	Docs         int     `json:"docs"`
	SplitDocs    int     `json:"splitDocs"`
	Files        int     `json:"files"`
	Skipped      int     `json:"skipped"`
	Unchanged    int     `json:"unchanged"`
	DurationSecs float64 `json:"durationSecs"`
}

// Runner annotates all the documents of a collection
// using a single tagger.
type Runner struct {
	conf   *collection.Conf
	tagger *Tagger
	hashes HashSource
	opts   Options
	stats  Stats
}

func (r *Runner) Stats() Stats {
	return r.stats
}

// isUnchanged tests whether sentences of the document match
// the fingerprints stored with the imported version.
func (r *Runner) isUnchanged(ctx context.Context, textID int, doc *document.Document) (bool, error) {
	stored, err := r.hashes.SentenceHashes(ctx, r.conf.Name, textID)
	if err != nil {
		return false, err
	}
	if len(stored) == 0 {
		return false, nil
	}
	current, err := document.SentenceFingerprints(doc)
	if err != nil {
		return false, err
	}
	return slices.Equal(stored, current), nil
}

func (r *Runner) processFile(ctx context.Context, textID int, docFile string, isSplit bool) error {
	tconf := r.tagger.Conf()
	inFile := docFile
	if tconf.InputSuffix != "" {
		inFile = collection.AnnotatedFile(docFile, tconf.InputSuffix)
	}
	outFile := collection.AnnotatedFile(docFile, tconf.OutputSuffix)
	outExists := fs.PathExists(outFile)
	if outExists && !r.opts.Force && !r.opts.ChangedOnly {
		r.stats.Skipped++
		return nil
	}
	doc, err := document.LoadFile(inFile)
	if err != nil {
		return err
	}
	if r.opts.ChangedOnly && outExists && !isSplit {
		unchanged, err := r.isUnchanged(ctx, textID, doc)
		if err != nil {
			return fmt.Errorf("failed to compare sentence fingerprints: %w", err)
		}
		if unchanged {
			r.stats.Unchanged++
			return nil
		}
	}
	layers, err := r.tagger.Tag(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to annotate %s: %w", inFile, err)
	}
	if err := r.tagger.Apply(doc, layers); err != nil {
		return fmt.Errorf("failed to annotate %s: %w", inFile, err)
	}
	if err := document.SaveFile(doc, outFile); err != nil {
		return err
	}
	r.stats.Files++
	return nil
}

// Run annotates documents of the collection. Documents are filtered
// by the shard block using their index within the source file.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.ChangedOnly && r.hashes == nil {
		return fmt.Errorf("annotating changed documents only requires a database")
	}
	t0 := time.Now()
	log.Info().
		Str("collection", r.conf.Name).
		Str("tagger", r.tagger.Conf().Name).
		Str("block", r.opts.Block.String()).
		Bool("force", r.opts.Force).
		Bool("changedOnly", r.opts.ChangedOnly).
		Msg("starting annotation")
	err := collection.WalkDocuments(
		r.conf.CollDir(),
		r.conf.SourceFiles,
		func(seq int, sourceDir string, dd collection.DocDir) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !r.opts.Block.Contains(dd.ID) {
				return nil
			}
			files, err := collection.DocumentFiles(dd.Path)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				log.Warn().Str("path", dd.Path).Msg("no document files found")
				return nil
			}
			for _, f := range files {
				if err := r.processFile(ctx, seq, f, len(files) > 1); err != nil {
					return err
				}
			}
			r.stats.Docs++
			if len(files) > 1 {
				r.stats.SplitDocs++
			}
			if r.opts.ProgressEach > 0 && r.stats.Docs%r.opts.ProgressEach == 0 {
				log.Info().
					Int("docs", r.stats.Docs).
					Int("files", r.stats.Files).
					Msg("annotation progress")
			}
			return nil
		},
	)
	if err != nil {
		return err
	}
	r.stats.DurationSecs = time.Since(t0).Seconds()
	log.Info().
		Str("collection", r.conf.Name).
		Int("docs", r.stats.Docs).
		Int("splitDocs", r.stats.SplitDocs).
		Int("annotatedFiles", r.stats.Files).
		Int("skipped", r.stats.Skipped).
		Int("unchanged", r.stats.Unchanged).
		Float64("durationSecs", r.stats.DurationSecs).
		Msg("annotation finished")
	return nil
}

// NewRunner creates an annotation runner, hashes may be nil
// unless Options.ChangedOnly is set.
func NewRunner(conf *collection.Conf, tagger *Tagger, hashes HashSource, opts Options) *Runner {
	return &Runner{
		conf:   conf,
		tagger: tagger,
		hashes: hashes,
		opts:   opts,
	}
}
