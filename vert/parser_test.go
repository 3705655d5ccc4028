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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"estcorp/document"
	"estcorp/shard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<doc id="d%d" title="Pealkiri %d" src="Test">
<p>
<s>
Tere	tere	I
<g/>
!	!	Z
</s>
<s>
Kuidas	kuidas	D
läheb	minema	V	b
<g/>
?	?	Z
</s>
</p>
</doc>
`

func writeVert(t *testing.T, numDocs int) string {
	var buff strings.Builder
	for i := 0; i < numDocs; i++ {
		buff.WriteString(fmt.Sprintf(sampleDoc, i, i))
	}
	path := filepath.Join(t.TempDir(), "test.vert")
	require.NoError(t, os.WriteFile(path, []byte(buff.String()), 0644))
	return path
}

func TestParseFileBuildsDocuments(t *testing.T) {
	path := writeVert(t, 10)
	docs := make([]*document.Document, 0, 10)
	stats, err := ParseFile(
		path,
		Options{MorphColumns: []string{"lemma", "partofspeech", "form"}},
		func(doc *document.Document) error {
			docs = append(docs, doc)
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Docs)
	require.Len(t, docs, 10)

	doc := docs[3]
	assert.Equal(t, "Tere! Kuidas läheb?", doc.Text)
	assert.Equal(t, "d3", doc.Meta["id"])
	assert.Equal(t, "Pealkiri 3", doc.Meta["title"])
	assert.Equal(t, "3", doc.Meta[document.MetaDocID])
	assert.NoError(t, doc.Validate())

	sents, err := doc.Enveloped(document.LayerSentences, document.LayerWords)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Tere", "!"}, {"Kuidas", "läheb", "?"}}, sents)

	paragraphs := doc.Layer(document.LayerParagraphs)
	require.Len(t, paragraphs.Spans, 1)
	assert.Equal(t, doc.Text, doc.SpanText(paragraphs.Spans[0]))

	morph := doc.Layer(document.LayerMorph)
	require.Len(t, morph.Spans, 5)
	assert.Equal(t, "minema", morph.Spans[3].Annotations[0]["lemma"])
	assert.Equal(t, "V", morph.Spans[3].Annotations[0]["partofspeech"])
}

func TestParseFileWithBlock(t *testing.T) {
	path := writeVert(t, 10)
	ids := make([]string, 0, 5)
	stats, err := ParseFile(
		path,
		Options{Block: &shard.Block{Divisor: 3, Remainder: 1}},
		func(doc *document.Document) error {
			ids = append(ids, doc.Meta[document.MetaDocID])
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4", "7"}, ids)
	assert.Equal(t, 7, stats.SkippedDocs)
}

func TestParseFileFocusDocIDs(t *testing.T) {
	path := writeVert(t, 10)
	ids := make([]string, 0, 2)
	_, err := ParseFile(
		path,
		Options{FocusDocIDs: []string{"d2", "d8"}},
		func(doc *document.Document) error {
			ids = append(ids, doc.Meta["id"])
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d8"}, ids)
}

func TestParseFileCallbackErrorStops(t *testing.T) {
	path := writeVert(t, 10)
	var n int
	_, err := ParseFile(path, Options{}, func(doc *document.Document) error {
		n++
		if n == 2 {
			return fmt.Errorf("stop here")
		}
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 2, n)
}

func TestScanFile(t *testing.T) {
	path := writeVert(t, 4)
	infos := make([]DocInfo, 0, 4)
	_, err := ScanFile(path, Options{}, func(info DocInfo) error {
		infos = append(infos, info)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, infos, 4)
	assert.Equal(t, 5, infos[0].Words)
	assert.Equal(t, 2, infos[0].Sentences)
	assert.Equal(t, "d2", infos[2].ID)
	assert.Less(t, infos[0].EndLine, infos[1].StartLine)
}

func TestDocIDs(t *testing.T) {
	ids, err := DocIDs(writeVert(t, 3), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"d0", "d1", "d2"}, ids)
}

func TestEnsureDocID(t *testing.T) {
	attrs := map[string]string{"doaj_id": "x"}
	ensureDocID(attrs, 10)
	assert.Equal(t, "x", attrs["id"])

	attrs = map[string]string{"url": "http://a", "src": "nc21_Feeds"}
	ensureDocID(attrs, 10)
	assert.Equal(t, "http://a(doc@line:10)", attrs["id"])

	attrs = map[string]string{"url": "http://a", "src": "nc21_Web"}
	ensureDocID(attrs, 10)
	assert.Equal(t, "(doc@line:10)", attrs["id"])

	attrs = map[string]string{"id": "keep"}
	ensureDocID(attrs, 10)
	assert.Equal(t, "keep", attrs["id"])
}

func TestParsePrevert(t *testing.T) {
	data := "<doc id=\"a\">\n<p>\nEsimene rida.\nTeine rida.\n</p>\n<p>\nKolmas.\n</p>\n</doc>\n"
	path := filepath.Join(t.TempDir(), "test.prevert")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	var doc *document.Document
	_, err := ParseFile(path, Options{Prevert: true}, func(d *document.Document) error {
		doc = d
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "Esimene rida.\nTeine rida.\n\nKolmas.", doc.Text)
	assert.Nil(t, doc.Layer(document.LayerWords))
	assert.Len(t, doc.Layer(document.LayerParagraphs).Spans, 2)
}

func parseSingle(t *testing.T, data string) *document.Document {
	path := filepath.Join(t.TempDir(), "single.vert")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	var doc *document.Document
	_, err := ParseFile(path, Options{}, func(d *document.Document) error {
		doc = d
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func TestParseFileConsecutiveGlue(t *testing.T) {
	doc := parseSingle(
		t,
		"<doc id=\"g\">\n<s>\nTa\nütles\n<g/>\n:\n\"\n<g/>\nJah\n<g/>\n\"\n<g/>\n!\n</s>\n</doc>\n",
	)
	assert.Equal(t, "Ta ütles: \"Jah\"!", doc.Text)
	words, err := doc.Enveloped(document.LayerSentences, document.LayerWords)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Ta", "ütles", ":", "\"", "Jah", "\"", "!"}}, words)
}

func TestParseFileKeepsAllDocAttributes(t *testing.T) {
	doc := parseSingle(
		t,
		"<doc id=\"d0\" title=\"\" data-src=\"X\" xml:lang=\"et\">\n<s>\nTere\n</s>\n</doc>\n",
	)
	assert.Equal(t, "d0", doc.Meta["id"])
	title, ok := doc.Meta["title"]
	assert.True(t, ok)
	assert.Equal(t, "", title)
	assert.Equal(t, "X", doc.Meta["data-src"])
	assert.Equal(t, "et", doc.Meta["xml:lang"])
}

func TestParseTagAttrs(t *testing.T) {
	assert.Equal(
		t,
		map[string]string{"id": "a b", "title": "", "x-y": "1"},
		parseTagAttrs(`<doc id="a b" title="" x-y = "1">`),
	)
	assert.Equal(t, map[string]string{}, parseTagAttrs("<doc>"))
	assert.True(t, isDocTag(`<doc id="1">`))
	assert.True(t, isDocTag("<doc>"))
	assert.False(t, isDocTag("<document>"))
	assert.False(t, isDocTag("doc"))
}
