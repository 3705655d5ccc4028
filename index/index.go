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

// Package index builds summaries of source vertical files used
// for planning and random sampling: a document ID index, per-file
// counts and per-file metadata indexes.
package index

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"estcorp/collection"
	"estcorp/vert"

	"github.com/bytedance/sonic"
	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DocIDIndexFile  = "vert_document_index.csv"
	CountsIndexFile = "vert_counts.csv"

	MetaIDField        = "__id"
	MetaWordsField     = "__words"
	MetaSentencesField = "__sentences"
)

// language detection fields are large and not useful for sampling
var ignoredMetaFields = []string{"lang_old2", "lang_scores", "lang_scores2"}

type Options struct {
	Prevert bool

	// Workers limits number of files processed in parallel
	Workers int
}

func (opts Options) workers() int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	return runtime.NumCPU()
}

// sortedFiles returns files ordered by their base name so that output
// does not depend on the order of arguments
func sortedFiles(files []string) []string {
	ans := make([]string, len(files))
	copy(ans, files)
	sort.SliceStable(ans, func(i, j int) bool {
		return filepath.Base(ans[i]) < filepath.Base(ans[j])
	})
	return ans
}

// forEachFile runs fn for all the files in parallel. Results are expected
// to be stored by fn under the provided index.
func forEachFile(ctx context.Context, files []string, opts Options, fn func(i int, file string) error) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.workers())
	for i, f := range files {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			t0 := time.Now()
			if err := fn(i, f); err != nil {
				return fmt.Errorf("failed to index %s: %w", f, err)
			}
			log.Info().
				Str("file", f).
				Float64("durationSecs", time.Since(t0).Seconds()).
				Msg("file indexed")
			return nil
		})
	}
	return eg.Wait()
}

func writeCSV(path string, header []string, rows [][]string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmpPath, path)
}

// BuildDocIDIndex writes a CSV file with columns `vert_file,doc_index`
// listing IDs of all documents of the files.
func BuildDocIDIndex(ctx context.Context, files []string, outPath string, opts Options) (int, error) {
	files = sortedFiles(files)
	results := make([][]string, len(files))
	err := forEachFile(ctx, files, opts, func(i int, file string) error {
		ids, err := vert.DocIDs(file, opts.Prevert)
		if err != nil {
			return err
		}
		results[i] = ids
		return nil
	})
	if err != nil {
		return 0, err
	}
	rows := make([][]string, 0, 1000)
	for i, ids := range results {
		name := filepath.Base(files[i])
		for _, id := range ids {
			rows = append(rows, []string{name, id})
		}
	}
	if err := writeCSV(outPath, []string{"vert_file", "doc_index"}, rows); err != nil {
		return 0, err
	}
	log.Info().
		Int("files", len(files)).
		Int("docs", len(rows)).
		Str("output", outPath).
		Msg("document index written")
	return len(rows), nil
}

// FileCounts contains sizes of a single source file
type FileCounts struct {
	File      string `json:"file"`
	Docs      int    `json:"docs"`
	Sentences int    `json:"sentences"`
	Words     int    `json:"words"`
}

// MetaIndexPath returns path of the metadata index of a source file
func MetaIndexPath(outDir, file string) string {
	return filepath.Join(outDir, fmt.Sprintf("meta_indx_%s.jl", collection.SourceStem(file)))
}

// encodeMetaRecord produces a JSON object with the technical fields
// first and the remaining metadata sorted by name.
func encodeMetaRecord(id string, info vert.DocInfo) ([]byte, error) {
	keys := make([]string, 0, len(info.Attrs))
	for k := range info.Attrs {
		if !collections.SliceContains(ignoredMetaFields, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	buff := make([]byte, 0, 256)
	appendPair := func(k string, v any) error {
		kb, err := sonic.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		if len(buff) > 1 {
			buff = append(buff, ',')
		}
		buff = append(buff, kb...)
		buff = append(buff, ':')
		buff = append(buff, vb...)
		return nil
	}
	buff = append(buff, '{')
	if err := appendPair(MetaIDField, id); err != nil {
		return nil, err
	}
	if err := appendPair(MetaWordsField, info.Words); err != nil {
		return nil, err
	}
	if err := appendPair(MetaSentencesField, info.Sentences); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k == MetaIDField || k == MetaWordsField || k == MetaSentencesField {
			return nil, fmt.Errorf("document %s uses reserved metadata name %s", id, k)
		}
		if err := appendPair(k, info.Attrs[k]); err != nil {
			return nil, err
		}
	}
	buff = append(buff, '}')
	return buff, nil
}

func countFile(file, outDir string, opts Options) (FileCounts, error) {
	ans := FileCounts{File: filepath.Base(file)}
	metaPath := MetaIndexPath(outDir, file)
	tmpPath := metaPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return ans, err
	}
	w := bufio.NewWriter(f)
	stem := collection.SourceStem(file)
	_, err = vert.ScanFile(file, vert.Options{Prevert: opts.Prevert}, func(info vert.DocInfo) error {
		ans.Docs++
		ans.Words += info.Words
		ans.Sentences += info.Sentences
		rec, err := encodeMetaRecord(stem+"__"+strconv.Itoa(ans.Docs), info)
		if err != nil {
			return err
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if err == nil {
		err = w.Flush()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return ans, err
	}
	if ans.Docs == 0 {
		return ans, os.Remove(tmpPath)
	}
	return ans, os.Rename(tmpPath, metaPath)
}

// BuildCountsIndex writes a CSV file with columns
// `vert_file,docs,sentences,words` (into outDir/vert_counts.csv) and
// a JSON-lines metadata index for each file (meta_indx_<stem>.jl).
func BuildCountsIndex(ctx context.Context, files []string, outDir string, opts Options) ([]FileCounts, error) {
	files = sortedFiles(files)
	results := make([]FileCounts, len(files))
	err := forEachFile(ctx, files, opts, func(i int, file string) error {
		var err error
		results[i], err = countFile(file, outDir, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(results))
	var total FileCounts
	for _, c := range results {
		if c.Words == 0 && c.Docs == 0 {
			continue
		}
		rows = append(rows, []string{
			c.File, strconv.Itoa(c.Docs), strconv.Itoa(c.Sentences), strconv.Itoa(c.Words),
		})
		total.Docs += c.Docs
		total.Sentences += c.Sentences
		total.Words += c.Words
	}
	if err := writeCSV(
		filepath.Join(outDir, CountsIndexFile),
		[]string{"vert_file", "docs", "sentences", "words"},
		rows,
	); err != nil {
		return nil, err
	}
	log.Info().
		Int("files", len(files)).
		Int("docs", total.Docs).
		Int("sentences", total.Sentences).
		Int("words", total.Words).
		Msg("counts index written")
	return results, nil
}
