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

package diff

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"estcorp/collection"
	"estcorp/document"
	"estcorp/merror"

	"github.com/rs/zerolog/log"
)

const (
	// Separator starts each reported difference
	Separator = "=========="

	docSeparatorLen = 85
	contextChars    = 40
)

// Reporter writes differences in a vertical text format. Each
// difference gets a header `<stub>::<N>` where N is a number unique
// within the report.
type Reporter struct {
	w       *bufio.Writer
	nameA   string
	nameB   string
	counter int
	summary Summary
	docs    int
}

func (r *Reporter) Count() int {
	return r.counter
}

func (r *Reporter) Summary() Summary {
	return r.summary
}

func snippet(runes []rune, start, end int) string {
	start = max(0, min(start, len(runes)))
	end = max(0, min(end, len(runes)))
	if start >= end {
		return ""
	}
	return strings.ReplaceAll(string(runes[start:end]), "\n", `\n`)
}

func (r *Reporter) formatSide(runes []rune, name string, width int, g Group, spans []Span) string {
	var buff strings.Builder
	buff.WriteString(fmt.Sprintf(" %-*s   ", width, name))
	before, after := g.Start, g.End
	if len(spans) > 0 {
		before = spans[0].Start
		after = spans[len(spans)-1].End
	}
	buff.WriteString("...")
	buff.WriteString(snippet(runes, before-contextChars, before))
	for i, s := range spans {
		if i > 0 && spans[i-1].End < s.Start {
			buff.WriteString(snippet(runes, spans[i-1].End, s.Start))
		}
		buff.WriteString("{")
		buff.WriteString(snippet(runes, s.Start, s.End))
		buff.WriteString("} /")
		buff.WriteString(s.Label)
	}
	if len(spans) == 0 {
		buff.WriteString(snippet(runes, g.Start, g.End))
	}
	buff.WriteString(snippet(runes, after, after+contextChars))
	buff.WriteString("...")
	return buff.String()
}

// Write adds differences of a single document to the report
func (r *Reporter) Write(text, stub string, groups []Group, summary Summary) error {
	r.summary.Add(summary)
	r.docs++
	if len(groups) == 0 {
		return nil
	}
	runes := []rune(text)
	width := max(len(r.nameA), len(r.nameB))
	for i, g := range groups {
		if i == 0 {
			fmt.Fprintln(r.w, strings.Repeat("=", docSeparatorLen))

		} else {
			fmt.Fprintln(r.w, Separator)
		}
		fmt.Fprintln(r.w)
		fmt.Fprintf(r.w, "  %s::%d\n", stub, r.counter)
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, r.formatSide(runes, r.nameA, width, g, g.A))
		fmt.Fprintln(r.w, r.formatSide(runes, r.nameB, width, g, g.B))
		if _, err := fmt.Fprintln(r.w); err != nil {
			return fmt.Errorf("failed to write differences: %w", err)
		}
		r.counter++
	}
	return nil
}

// Close finishes the report with a separator so that the last
// difference is delimited the same way as the others.
func (r *Reporter) Close() error {
	if r.counter > 0 {
		fmt.Fprintln(r.w, Separator)
	}
	return r.w.Flush()
}

func NewReporter(w io.Writer, nameA, nameB string) *Reporter {
	return &Reporter{w: bufio.NewWriter(w), nameA: nameA, nameB: nameB}
}

// ----------------------------

// RunConf describes a comparison of two annotation versions stored
// in document files of a collection (e.g. `doc_syntax.json` vs.
// `doc_syntax2.json`).
type RunConf struct {
	SuffixA string
	LayerA  string
	SuffixB string
	LayerB  string
	Attr    string

	// NameA and NameB label layers in the report (layer names are
	// used by default)
	NameA string
	NameB string
}

func (rc RunConf) names() (string, string) {
	a, b := rc.NameA, rc.NameB
	if a == "" {
		a = rc.LayerA
	}
	if b == "" {
		b = rc.LayerB
	}
	if a == b {
		a += rc.SuffixA
		b += rc.SuffixB
	}
	return a, b
}

func loadLayer(path, layer string) (*document.Document, *document.Layer, error) {
	doc, err := document.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	l := doc.Layer(layer)
	if l == nil {
		return nil, nil, merror.NewInputError("document %s has no layer %s", path, layer)
	}
	return doc, l, nil
}

// RunDir compares both versions of all documents of a collection
// and writes a report into outPath.
func RunDir(ctx context.Context, conf *collection.Conf, rc RunConf, outPath string) (Summary, int, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return Summary{}, 0, fmt.Errorf("failed to create diff report: %w", err)
	}
	defer f.Close()
	nameA, nameB := rc.names()
	rep := NewReporter(f, nameA, nameB)
	collDir := conf.CollDir()
	err = collection.WalkDocuments(
		collDir,
		conf.SourceFiles,
		func(seq int, sourceDir string, dd collection.DocDir) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := collection.DocumentFiles(dd.Path)
			if err != nil {
				return err
			}
			for _, docFile := range files {
				docA, layerA, err := loadLayer(collection.AnnotatedFile(docFile, rc.SuffixA), rc.LayerA)
				if err != nil {
					return err
				}
				docB, layerB, err := loadLayer(collection.AnnotatedFile(docFile, rc.SuffixB), rc.LayerB)
				if err != nil {
					return err
				}
				if docA.Text != docB.Text {
					log.Warn().Str("file", docFile).Msg("document versions differ in text, skipping")
					continue
				}
				groups, summary := Compare(layerA, layerB, rc.Attr)
				stub, err := filepath.Rel(collDir, strings.TrimSuffix(docFile, ".json"))
				if err != nil {
					return err
				}
				if err := rep.Write(docA.Text, filepath.ToSlash(stub), groups, summary); err != nil {
					return err
				}
			}
			return nil
		},
	)
	if err != nil {
		return Summary{}, 0, err
	}
	if err := rep.Close(); err != nil {
		return Summary{}, 0, err
	}
	s := rep.Summary()
	log.Info().
		Str("output", outPath).
		Int("docs", rep.docs).
		Int("differences", rep.Count()).
		Int("equal", s.Equal).
		Int("conflicts", s.Conflicts).
		Int("modified", s.Modified).
		Int("missing", s.Missing).
		Int("extra", s.Extra).
		Str("diffRatio", strconv.FormatFloat(float64(s.Differences())/float64(max(1, s.Differences()+s.Equal)), 'f', 4, 64)).
		Msg("comparison finished")
	return s, rep.Count(), nil
}
