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

// Package sample makes reproducible random selections of documents
// (from document and metadata indexes) and of recorded differences.
package sample

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"estcorp/index"
	"estcorp/merror"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const (
	// DfltSeed is used when no seed is specified
	DfltSeed = 1

	maxFailedAttempts = 20
)

// Pick identifies a selected document
type Pick struct {
	File  string
	DocID string
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// SplitEven splits n items into the given number of parts of roughly
// equal size. The first n % parts parts are larger by one.
func SplitEven(n, parts int) []int {
	if parts <= 0 {
		return []int{}
	}
	ans := make([]int, parts)
	k, m := n/parts, n%parts
	for i := range ans {
		ans[i] = k
		if i < m {
			ans[i]++
		}
	}
	return ans
}

// pickDistinct randomly selects up to target distinct items. The
// selection stops early once maxFailedAttempts consecutive draws hit
// already selected items. Selected indexes are returned.
func pickDistinct(rnd *rand.Rand, items []string, target int) []int {
	selected := make(map[string]int)
	var failed int
	for len(selected) < target && len(items) > 0 {
		i := rnd.IntN(len(items))
		if _, ok := selected[items[i]]; ok {
			failed++
			if failed >= maxFailedAttempts {
				log.Warn().
					Int("attempts", failed).
					Int("selected", len(selected)).
					Int("target", target).
					Msg("too many unsuccessful random picks in a row, stopping")
				break
			}
			continue
		}
		selected[items[i]] = i
		failed = 0
	}
	ans := make([]int, 0, len(selected))
	for _, i := range selected {
		ans = append(ans, i)
	}
	sort.Slice(ans, func(i, j int) bool { return items[ans[i]] < items[ans[j]] })
	return ans
}

// LoadDocIndex reads a CSV document index (vert_file,doc_index)
func LoadDocIndex(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load document index: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	ans := make(map[string][]string)
	var line int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document index: %w", err)
		}
		line++
		if line == 1 && rec[0] == "vert_file" {
			continue
		}
		ans[rec[0]] = append(ans[rec[0]], rec[1])
	}
	return ans, nil
}

func sortedKeys[T any](m map[string]T) []string {
	ans := make([]string, 0, len(m))
	for k := range m {
		ans = append(ans, k)
	}
	sort.Strings(ans)
	return ans
}

// PickFromDocIndex randomly selects n documents from the index.
// The picks are split evenly among the indexed files.
func PickFromDocIndex(docIndex map[string][]string, n int, seed int64) []Pick {
	files := sortedKeys(docIndex)
	goals := SplitEven(n, len(files))
	rnd := newRand(seed)
	ans := make([]Pick, 0, n)
	for i, file := range files {
		if goals[i] == 0 {
			continue
		}
		ids := docIndex[file]
		for _, j := range pickDistinct(rnd, ids, goals[i]) {
			ans = append(ans, Pick{File: file, DocID: ids[j]})
		}
	}
	return ans
}

// MetaEntry is a document record of a metadata index
type MetaEntry struct {
	File  string
	ID    string
	Words int
	Meta  map[string]any
}

// NumericIDs is a filter accepting only documents with a numeric `id`
func NumericIDs(e MetaEntry) bool {
	_, err := strconv.Atoi(e.ID)
	return err == nil
}

func metaIndexSourceFile(path string) string {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, "meta_indx_")
	return strings.TrimSuffix(name, ".jl") + ".vert"
}

// LoadMetaIndex reads a JSON-lines metadata index produced
// by index.BuildCountsIndex. Entries not accepted by the filter
// (if any) are skipped.
func LoadMetaIndex(path string, filter func(MetaEntry) bool) ([]MetaEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta index: %w", err)
	}
	defer f.Close()
	srcFile := metaIndexSourceFile(path)
	ans := make([]MetaEntry, 0, 1000)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lineNum int
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := sonic.UnmarshalString(line, &rec); err != nil {
			return nil, merror.NewInputError("invalid meta index record %s:%d: %s", path, lineNum, err)
		}
		if _, ok := rec[index.MetaIDField]; !ok {
			return nil, merror.NewInputError("meta index record %s:%d without %s", path, lineNum, index.MetaIDField)
		}
		entry := MetaEntry{File: srcFile, Meta: rec}
		if v, ok := rec["id"]; ok {
			entry.ID = fmt.Sprint(v)
		}
		if v, ok := rec[index.MetaWordsField].(float64); ok {
			entry.Words = int(v)
		}
		if filter == nil || filter(entry) {
			ans = append(ans, entry)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to load meta index: %w", err)
	}
	return ans, nil
}

// PickFromMetaIndexes randomly selects n documents from the metadata
// indexes. Picks are split evenly among the index files. The total
// number of words of the picked documents is returned too.
func PickFromMetaIndexes(paths []string, n int, seed int64, filter func(MetaEntry) bool) ([]Pick, int, error) {
	entries := make(map[string][]MetaEntry)
	for _, p := range paths {
		ee, err := LoadMetaIndex(p, filter)
		if err != nil {
			return nil, 0, err
		}
		if len(ee) > 0 {
			entries[p] = ee
		}
	}
	files := sortedKeys(entries)
	goals := SplitEven(n, len(files))
	rnd := newRand(seed)
	ans := make([]Pick, 0, n)
	var words int
	for i, file := range files {
		if goals[i] == 0 {
			continue
		}
		ids := make([]string, len(entries[file]))
		for j, e := range entries[file] {
			ids[j] = e.ID
		}
		for _, j := range pickDistinct(rnd, ids, goals[i]) {
			e := entries[file][j]
			ans = append(ans, Pick{File: e.File, DocID: e.ID})
			words += e.Words
		}
	}
	return ans, words, nil
}

// WritePicks writes picks as CSV lines `file,doc_id`
func WritePicks(path string, picks []Pick) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write picks: %w", err)
	}
	w := csv.NewWriter(f)
	for _, p := range picks {
		if err := w.Write([]string{p.File, p.DocID}); err != nil {
			f.Close()
			return fmt.Errorf("failed to write picks: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write picks: %w", err)
	}
	return f.Close()
}

// PicksFileName returns a conventional name of the output file
func PicksFileName(n int) string {
	return fmt.Sprintf("random_pick_x%d_from_vert.csv", n)
}
