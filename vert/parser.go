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

// Package vert reads ENC style vertical files (one token per line,
// structures as XML-like tags) and prevert files (raw text lines within
// the same structures) and turns them into documents.
package vert

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"estcorp/document"
	"estcorp/shard"

	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog/log"
	"github.com/tomachalek/vertigo/v5"
)

const (
	structDoc  = "doc"
	structPar  = "p"
	structSent = "s"
	structGlue = "g"
)

// Options control which documents are built and how.
type Options struct {

	// Prevert switches to the raw text mode where each line
	// is a piece of text instead of a token
	Prevert bool

	// Block selects documents by their index within the file
	Block *shard.Block

	// FocusDocIDs (if non-empty) restricts processing to documents
	// with the `id` attribute listed here
	FocusDocIDs []string

	// MorphColumns names the token columns following the word
	// (an empty column list means no morph. layer is created)
	MorphColumns []string

	// Src is stored as `src` metadata of documents missing the attribute
	Src string
}

// DocInfo is a lightweight summary of a document used for indexing
type DocInfo struct {
	Index     int
	ID        string
	StartLine int
	EndLine   int
	Attrs     map[string]string
	Words     int
	Sentences int
}

// Stats summarize a processed file
type Stats struct {
	Docs           int
	SkippedDocs    int
	Tokens         int
	OutsideTokens  int
	UnclosedDocs   int
	MalformedLines int
}

type docBuilder struct {
	index     int
	startLine int
	attrs     map[string]string

	text    strings.Builder
	textLen int

	// separator to be inserted before the next piece of text
	pendingSep string
	glue       bool

	parStart  int
	inPar     bool
	sentStart int
	inSent    bool

	words      *document.Layer
	sentences  *document.Layer
	paragraphs *document.Layer
	morph      *document.Layer

	numWords int
	numSents int
}

func (db *docBuilder) appendText(s string) (start, end int) {
	if db.textLen > 0 {
		sep := db.pendingSep
		if sep == "" && !db.glue {
			sep = " "
		}
		db.text.WriteString(sep)
		db.textLen += utf8.RuneCountInString(sep)
	}
	db.pendingSep = ""
	db.glue = false
	start = db.textLen
	db.text.WriteString(s)
	db.textLen += utf8.RuneCountInString(s)
	db.markStarts(start)
	return start, db.textLen
}

// markStarts resolves starting positions of opened p/s structures
// once their first text is known
func (db *docBuilder) markStarts(pos int) {
	if db.inPar && db.parStart < 0 {
		db.parStart = pos
	}
	if db.inSent && db.sentStart < 0 {
		db.sentStart = pos
	}
}

// requestSep sets a separator used before the next text, a "stronger"
// (longer) separator wins
func (db *docBuilder) requestSep(sep string) {
	if len(sep) > len(db.pendingSep) {
		db.pendingSep = sep
	}
}

type processor struct {
	opts    Options
	fn      func(doc *document.Document) error
	infoFn  func(info DocInfo) error
	curr    *docBuilder
	nextIdx int
	stats   Stats
	lastErr error

	// optional source of complete <doc> attributes
	tags *docTagReader
}

func (p *processor) build() bool {
	return p.fn != nil
}

func (p *processor) ProcToken(token *vertigo.Token, line int, err error) error {
	if err != nil {
		p.stats.MalformedLines++
		log.Warn().Err(err).Int("line", line).Msg("skipping malformed line")
		return nil
	}
	if p.curr == nil {
		p.stats.OutsideTokens++
		return nil
	}
	p.stats.Tokens++
	if p.curr.attrs == nil { // skipped document
		return nil
	}
	if !p.build() {
		if !p.opts.Prevert {
			p.curr.numWords++
			p.curr.markStarts(0)
		}
		return nil
	}
	if p.opts.Prevert {
		p.curr.requestSep("\n")
		p.curr.appendText(token.Word)
		return nil
	}
	start, end := p.curr.appendText(token.Word)
	p.curr.words.AddSpan(start, end, nil)
	p.curr.numWords++
	if p.curr.morph != nil {
		ann := make(document.Annotation, len(p.opts.MorphColumns))
		for i, col := range p.opts.MorphColumns {
			if i < len(token.Attrs) {
				ann[col] = token.Attrs[i]

			} else {
				ann[col] = nil
			}
		}
		p.curr.morph.AddSpan(start, end, ann)
	}
	return nil
}

func (p *processor) isFocused(attrs map[string]string) bool {
	if len(p.opts.FocusDocIDs) == 0 {
		return true
	}
	return collections.SliceContains(p.opts.FocusDocIDs, attrs["id"])
}

func (p *processor) openDoc(strc *vertigo.Structure, line int) {
	if p.curr != nil {
		log.Warn().
			Int("line", line).
			Int("docStartLine", p.curr.startLine).
			Msg("nested <doc>, closing the previous one")
		p.stats.UnclosedDocs++
		p.closeDoc(line - 1)
	}
	idx := p.nextIdx
	p.nextIdx++
	p.curr = &docBuilder{index: idx, startLine: line}
	attrs := p.docAttrs(strc, line)
	ensureDocID(attrs, line)
	if p.opts.Src != "" && attrs["src"] == "" {
		attrs["src"] = p.opts.Src
	}
	if !p.opts.Block.Contains(idx) || !p.isFocused(attrs) {
		p.stats.SkippedDocs++
		return
	}
	p.curr.attrs = attrs
	if p.build() {
		p.curr.paragraphs = &document.Layer{Name: document.LayerParagraphs, Attributes: []string{}}
		if !p.opts.Prevert {
			p.curr.words = &document.Layer{Name: document.LayerWords, Attributes: []string{}}
			p.curr.sentences = &document.Layer{
				Name:       document.LayerSentences,
				Attributes: []string{},
				Enveloping: document.LayerWords,
			}
			if len(p.opts.MorphColumns) > 0 {
				p.curr.morph = &document.Layer{
					Name:       document.LayerMorph,
					Attributes: append([]string{}, p.opts.MorphColumns...),
					Parent:     document.LayerWords,
				}
			}
		}
	}
}

// docAttrs prefers attributes read directly from the <doc> line as
// the structure parser drops empty values
func (p *processor) docAttrs(strc *vertigo.Structure, line int) map[string]string {
	if p.tags != nil {
		raw, ok := p.tags.next()
		if ok && (strc.Attrs["id"] == "" || raw["id"] == strc.Attrs["id"]) {
			return raw
		}
		log.Warn().
			Int("line", line).
			Msg("failed to match raw <doc> attributes, using parsed ones")
		p.tags = nil
	}
	attrs := make(map[string]string, len(strc.Attrs)+4)
	for k, v := range strc.Attrs {
		attrs[k] = v
	}
	return attrs
}

func (p *processor) closeDoc(line int) {
	curr := p.curr
	p.curr = nil
	if curr.attrs == nil {
		return
	}
	if p.lastErr != nil {
		return
	}
	p.stats.Docs++
	if p.infoFn != nil {
		err := p.infoFn(DocInfo{
			Index:     curr.index,
			ID:        curr.attrs["id"],
			StartLine: curr.startLine,
			EndLine:   line,
			Attrs:     curr.attrs,
			Words:     curr.numWords,
			Sentences: curr.numSents,
		})
		if err != nil {
			p.lastErr = err
		}
		return
	}
	doc := document.New(curr.text.String())
	for k, v := range curr.attrs {
		doc.Meta[k] = v
	}
	doc.Meta[document.MetaDocID] = strconv.Itoa(curr.index)
	doc.Meta[document.MetaDocStartLine] = strconv.Itoa(curr.startLine)
	doc.Meta[document.MetaDocEndLine] = strconv.Itoa(line)
	for _, l := range []*document.Layer{curr.words, curr.sentences, curr.paragraphs, curr.morph} {
		if l != nil {
			if l.Spans == nil {
				l.Spans = []document.Span{}
			}
			doc.Layers = append(doc.Layers, l)
		}
	}
	if err := p.fn(doc); err != nil {
		p.lastErr = err
	}
}

func (p *processor) ProcStruct(strc *vertigo.Structure, line int, err error) error {
	if err != nil {
		p.stats.MalformedLines++
		log.Warn().Err(err).Int("line", line).Msg("skipping malformed structure")
		return nil
	}
	if strc.Name == structDoc {
		p.openDoc(strc, line)
		return p.lastErr
	}
	if p.curr == nil || p.curr.attrs == nil {
		return nil
	}
	switch strc.Name {
	case structGlue:
		p.curr.glue = true
	case structPar:
		p.curr.requestSep("\n\n")
		p.curr.inPar = true
		p.curr.parStart = -1
	case structSent:
		p.curr.inSent = true
		p.curr.sentStart = -1
	}
	return nil
}

func (p *processor) ProcStructClose(strc *vertigo.StructureClose, line int, err error) error {
	if err != nil {
		p.stats.MalformedLines++
		log.Warn().Err(err).Int("line", line).Msg("skipping malformed structure end")
		return nil
	}
	if strc.Name == structDoc {
		if p.curr != nil {
			p.closeDoc(line)
		}
		return p.lastErr
	}
	if p.curr == nil || p.curr.attrs == nil {
		return nil
	}
	switch strc.Name {
	case structPar:
		if p.build() && p.curr.inPar && p.curr.parStart >= 0 {
			p.curr.paragraphs.AddSpan(p.curr.parStart, p.curr.textLen, nil)
		}
		p.curr.inPar = false
		p.curr.requestSep("\n\n")
	case structSent:
		if p.curr.inSent && p.curr.sentStart >= 0 {
			p.curr.numSents++
			if p.build() && !p.opts.Prevert {
				p.curr.sentences.AddSpan(p.curr.sentStart, p.curr.textLen, nil)
			}
		}
		p.curr.inSent = false
	}
	return nil
}

// ensureDocID fills in the `id` attribute for documents without one
func ensureDocID(attrs map[string]string, line int) {
	if attrs["id"] != "" {
		return
	}
	if v := attrs["doaj_id"]; v != "" {
		attrs["id"] = v

	} else if v := attrs["ISBN"]; v != "" {
		attrs["id"] = v

	} else if v := attrs["url"]; v != "" && strings.Contains(attrs["src"], "Feeds") {
		attrs["id"] = fmt.Sprintf("%s(doc@line:%d)", v, line)

	} else {
		attrs["id"] = fmt.Sprintf("(doc@line:%d)", line)
	}
}
