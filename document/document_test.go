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

package document

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mkDoc builds a document from sentences given as word lists,
// words separated by a space, sentences by a space too.
func mkDoc(sentences ...[]string) *Document {
	var text strings.Builder
	words := &Layer{Name: LayerWords, Attributes: []string{}}
	sents := &Layer{Name: LayerSentences, Attributes: []string{}, Enveloping: LayerWords}
	pos := 0
	for _, s := range sentences {
		sStart := pos
		for i, w := range s {
			if pos > 0 {
				text.WriteString(" ")
				pos++
			}
			if i == 0 {
				sStart = pos
			}
			text.WriteString(w)
			l := len([]rune(w))
			words.AddSpan(pos, pos+l, nil)
			pos += l
		}
		sents.AddSpan(sStart, pos, nil)
	}
	doc := New(text.String())
	doc.Layers = append(doc.Layers, words, sents)
	return doc
}

func TestSpanTextUsesCharacterOffsets(t *testing.T) {
	doc := mkDoc([]string{"Öösel", "sõitis", "rong"})
	wl := doc.Layer(LayerWords)
	assert.Equal(t, "Öösel", doc.SpanText(wl.Spans[0]))
	assert.Equal(t, "sõitis", doc.SpanText(wl.Spans[1]))
	assert.Equal(t, "rong", doc.SpanText(wl.Spans[2]))
	assert.NoError(t, doc.Validate())
}

func TestRoundTrip(t *testing.T) {
	doc := mkDoc([]string{"Tere", "maailm", "!"}, []string{"Kuidas", "läheb", "?"})
	doc.Meta["title"] = "Tervitus"
	doc.Meta[MetaDocID] = "3"
	doc.Layer(LayerWords).Spans[1].Annotations[0]["lemma"] = "maailm"

	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, SaveFile(doc, path))
	doc2, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, doc.Text, doc2.Text)
	assert.Equal(t, doc.Meta, doc2.Meta)
	assert.Equal(t, doc.LayerNames(), doc2.LayerNames())
	for _, name := range doc.LayerNames() {
		l1, l2 := doc.Layer(name), doc2.Layer(name)
		require.Len(t, l2.Spans, len(l1.Spans))
		for i := range l1.Spans {
			assert.Equal(t, l1.Spans[i].Start, l2.Spans[i].Start)
			assert.Equal(t, l1.Spans[i].End, l2.Spans[i].End)
		}
	}
	assert.Equal(t, "maailm", doc2.Layer(LayerWords).Spans[1].Annotations[0]["lemma"])
}

func TestMarshalIsStable(t *testing.T) {
	doc := mkDoc([]string{"Üks", "kaks"})
	doc.Meta["b"] = "2"
	doc.Meta["a"] = "1"
	doc.Meta["c"] = "3"
	d1, err := Marshal(doc)
	require.NoError(t, err)
	d2, err := Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Less(t, strings.Index(string(d1), `"a"`), strings.Index(string(d1), `"b"`))
}

func TestEnveloped(t *testing.T) {
	doc := mkDoc([]string{"A", "b", "."}, []string{"C", "d"})
	sents, err := doc.Enveloped(LayerSentences, LayerWords)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "b", "."}, {"C", "d"}}, sents)
	_, err = doc.Enveloped("foo", LayerWords)
	assert.Error(t, err)
}

func TestFingerprintIsPure(t *testing.T) {
	h1 := SentenceFingerprint([]string{"Tere", "maailm"})
	h2 := SentenceFingerprint([]string{"Tere", "maailm"})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, SentenceFingerprint([]string{"Teremaailm"}))
	assert.NotEqual(t, h1, SentenceFingerprint([]string{"Tere", "maailm", "!"}))
}

func TestFingerprintDependsOnlyOnSentenceText(t *testing.T) {
	doc1 := mkDoc([]string{"Esimene", "lause"}, []string{"Sama", "lause"})
	doc2 := mkDoc([]string{"Sama", "lause"})
	doc2.Meta["other"] = "meta"
	h1, err := SentenceFingerprints(doc1)
	require.NoError(t, err)
	h2, err := SentenceFingerprints(doc2)
	require.NoError(t, err)
	assert.Equal(t, h1[1], h2[0])
}

func TestAddSentenceHashes(t *testing.T) {
	doc := mkDoc([]string{"A", "b"}, []string{"C"})
	require.NoError(t, AddSentenceHashes(doc))
	sl := doc.Layer(LayerSentences)
	assert.True(t, sl.HasAttribute(HashAttr))
	assert.Equal(t, SentenceFingerprint([]string{"C"}), sl.Spans[1].Annotations[0][HashAttr])
	sl.RemoveAttribute(HashAttr)
	assert.False(t, sl.HasAttribute(HashAttr))
	_, ok := sl.Spans[0].Annotations[0][HashAttr]
	assert.False(t, ok)
}

func TestSplitKeepsSentencesWhole(t *testing.T) {
	doc := mkDoc(
		[]string{"aaaa", "bbbb"},
		[]string{"cccc", "dddd"},
		[]string{"eeee", "ffff"},
		[]string{"gggg"},
	)
	doc.Meta["id"] = "x1"
	parts := Split(doc, 12)
	require.Len(t, parts, 4)
	var joined strings.Builder
	var numWords int
	for i, p := range parts {
		joined.WriteString(p.Text)
		assert.NoError(t, p.Validate())
		assert.Equal(t, "x1", p.Meta["id"])
		assert.Equal(t, "4", p.Meta[MetaSplitDoc])
		assert.Equal(t, []string{"1", "2", "3", "4"}[i], p.Meta[MetaSplitDocPart])
		assert.Len(t, p.Layer(LayerSentences).Spans, 1)
		numWords += len(p.Layer(LayerWords).Spans)
	}
	assert.Equal(t, doc.Text, joined.String())
	assert.Equal(t, 7, numWords)
	assert.Equal(t, "cccc", parts[1].SpanText(parts[1].Layer(LayerWords).Spans[0]))
	assert.True(t, IsSplitPart(parts[0]))
}

func TestSplitSmallDocument(t *testing.T) {
	doc := mkDoc([]string{"a", "b"}, []string{"c"})
	parts := Split(doc, 1000)
	require.Len(t, parts, 1)
	assert.Same(t, doc, parts[0])
	assert.False(t, IsSplitPart(parts[0]))
}

func TestRenameLayer(t *testing.T) {
	doc := mkDoc([]string{"a"})
	require.NoError(t, doc.RenameLayer(LayerWords, "tokens"))
	assert.Nil(t, doc.Layer(LayerWords))
	assert.Equal(t, "tokens", doc.Layer(LayerSentences).Enveloping)
	assert.Error(t, doc.RenameLayer("missing", "x"))
}
