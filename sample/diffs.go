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

package sample

import (
	"bufio"
	"fmt"
	"os"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"estcorp/diff"
	"estcorp/merror"

	"github.com/rs/zerolog/log"
)

var diffHeaderRegexp = regexp.MustCompile(`^\s*([^:]+(?:::[^:]+)*)::(\d+)\s*$`)

type diffBlock struct {
	number   string
	category string
	lines    []string
}

// diffCategory returns the subcorpus part of a difference header
// (i.e. the source directory of `src/0/12/doc` or the first item
// of `src::doc`)
func diffCategory(stub string) string {
	if i := strings.Index(stub, "::"); i >= 0 {
		stub = stub[:i]
	}
	if i := strings.Index(stub, "/"); i >= 0 {
		stub = stub[:i]
	}
	return stub
}

func readDiffBlocks(path string) ([]diffBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read differences: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	ans := make([]diffBlock, 0, 100)
	var curr *diffBlock
	seen := make(map[string]bool)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if strings.Contains(line, diff.Separator) {
			if curr != nil && curr.number != "" {
				ans = append(ans, *curr)
			}
			curr = &diffBlock{lines: []string{line}}
			continue
		}
		if curr == nil {
			continue
		}
		curr.lines = append(curr.lines, line)
		if m := diffHeaderRegexp.FindStringSubmatch(line); m != nil && curr.number == "" {
			if seen[m[2]] {
				return nil, merror.NewInputError("duplicate difference number %s in %s", m[2], path)
			}
			seen[m[2]] = true
			curr.number = m[2]
			curr.category = diffCategory(m[1])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read differences: %w", err)
	}
	if curr != nil && curr.number != "" {
		ans = append(ans, *curr)
	}
	return ans, nil
}

// PickDiffsFileName returns the output path for n differences picked
// from diffFile (`x_diffs.txt` => `x_diffs_x<n>.txt` or `x_diffs_x<n>_even.txt`).
func PickDiffsFileName(diffFile string, n int, even bool) string {
	ext := filepath.Ext(diffFile)
	var evenSfx string
	if even {
		evenSfx = "_even"
	}
	return fmt.Sprintf("%s_x%d%s%s", strings.TrimSuffix(diffFile, ext), n, evenSfx, ext)
}

// pickEven selects n/k blocks from each of k categories (or all the
// blocks of smaller categories) and tops the selection up to n with
// random blocks of categories having some left.
func pickEven(rnd *rand.Rand, blocks []diffBlock, n int) []int {
	byCategory := make(map[string][]int)
	for i, b := range blocks {
		byCategory[b.category] = append(byCategory[b.category], i)
	}
	categories := sortedKeys(byCategory)
	quota := n / len(categories)
	ans := make([]int, 0, n)
	rest := make([]int, 0, len(blocks))
	for _, c := range categories {
		items := byCategory[c]
		take := min(quota, len(items))
		for j, p := range rnd.Perm(len(items)) {
			if j < take {
				ans = append(ans, items[p])

			} else {
				rest = append(rest, items[p])
			}
		}
		log.Debug().
			Str("category", c).
			Int("total", len(items)).
			Int("picked", take).
			Msg("even pick from category")
	}
	if missing := n - len(ans); missing > 0 {
		sort.Ints(rest)
		perm := rnd.Perm(len(rest))
		for _, p := range perm[:min(missing, len(rest))] {
			ans = append(ans, rest[p])
		}
	}
	return ans
}

// PickDiffs randomly selects n differences from a report written
// by diff.Reporter and writes them (in their original order) into
// a new file. With even set, the selection is spread evenly among
// subcorpora. The path of the new file is returned.
func PickDiffs(diffFile string, n int, seed int64, even bool) (string, error) {
	if n <= 0 {
		return "", merror.NewInputError("number of differences to pick must be positive")
	}
	blocks, err := readDiffBlocks(diffFile)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "", merror.NewInputError("no differences found in %s", diffFile)
	}
	if len(blocks) <= n {
		return "", merror.NewInputError(
			"cannot pick %d differences, %s contains only %d", n, diffFile, len(blocks))
	}
	var selection []int
	if even {
		selection = pickEven(newRand(seed), blocks, n)

	} else {
		numbers := make([]string, len(blocks))
		for i, b := range blocks {
			numbers[i] = b.number
		}
		selection = pickDistinct(newRand(seed), numbers, n)
	}
	picked := make(map[int]bool)
	for _, i := range selection {
		picked[i] = true
	}
	outPath := PickDiffsFileName(diffFile, n, even)
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to write picked differences: %w", err)
	}
	w := bufio.NewWriter(f)
	for i, b := range blocks {
		if !picked[i] {
			continue
		}
		for _, line := range b.lines {
			w.WriteString(line)
			w.WriteByte('\n')
		}
	}
	w.WriteString(diff.Separator)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write picked differences: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	log.Info().
		Str("input", diffFile).
		Str("output", outPath).
		Int("total", len(blocks)).
		Int("picked", len(picked)).
		Msg("differences picked")
	return outPath, nil
}
