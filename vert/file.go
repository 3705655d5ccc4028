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

package vert

import (
	"fmt"
	"time"

	"estcorp/document"

	"github.com/rs/zerolog/log"
	"github.com/tomachalek/vertigo/v5"
)

func parse(path string, proc *processor) (Stats, error) {
	pc := &vertigo.ParserConf{
		InputFilePath:         path,
		Encoding:              "utf-8",
		StructAttrAccumulator: "comb",
	}
	tags, err := openDocTagReader(path)
	if err != nil {
		return proc.stats, err
	}
	defer tags.Close()
	proc.tags = tags
	t0 := time.Now()
	err = vertigo.ParseVerticalFile(pc, proc)
	if err == nil && proc.lastErr == nil && proc.curr != nil {
		log.Warn().
			Str("file", path).
			Int("docStartLine", proc.curr.startLine).
			Msg("unclosed <doc> at the end of file")
		proc.stats.UnclosedDocs++
		proc.closeDoc(-1)
	}
	if err == nil {
		err = proc.lastErr
	}
	if err != nil {
		return proc.stats, fmt.Errorf("failed to process vertical file %s: %w", path, err)
	}
	log.Debug().
		Str("file", path).
		Int("docs", proc.stats.Docs).
		Int("skipped", proc.stats.SkippedDocs).
		Int("tokens", proc.stats.Tokens).
		Float64("durationSec", time.Since(t0).Seconds()).
		Msg("vertical file processed")
	if proc.stats.OutsideTokens > 0 {
		log.Warn().
			Str("file", path).
			Int("count", proc.stats.OutsideTokens).
			Msg("found tokens outside of any <doc>")
	}
	return proc.stats, nil
}

// ParseFile builds documents from a vertical (or prevert) file
// and passes them one by one to fn. An error returned by fn stops
// the processing.
func ParseFile(path string, opts Options, fn func(doc *document.Document) error) (Stats, error) {
	return parse(path, &processor{opts: opts, fn: fn})
}

// ScanFile is a lighter variant of ParseFile which does not build
// documents, it only reports their attributes and sizes.
func ScanFile(path string, opts Options, fn func(info DocInfo) error) (Stats, error) {
	return parse(path, &processor{opts: opts, infoFn: fn})
}

// DocIDs returns the `id` attributes of all documents in the file
func DocIDs(path string, prevert bool) ([]string, error) {
	ans := make([]string, 0, 1000)
	_, err := ScanFile(path, Options{Prevert: prevert}, func(info DocInfo) error {
		ans = append(ans, info.ID)
		return nil
	})
	return ans, err
}
