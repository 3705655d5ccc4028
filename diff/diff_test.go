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
	"strings"
	"testing"

	"estcorp/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "Mari elab Tallinnas ja Tartus ."

func nerLayer(name string, spans ...Span) *document.Layer {
	l := &document.Layer{Name: name, Attributes: []string{"nertag"}}
	for _, s := range spans {
		l.AddSpan(s.Start, s.End, document.Annotation{"nertag": s.Label})
	}
	return l
}

func sampleLayers() (*document.Layer, *document.Layer) {
	a := nerLayer("ner_old", Span{0, 4, "PER"}, Span{10, 19, "LOC"}, Span{23, 29, "LOC"})
	b := nerLayer("ner_new", Span{0, 4, "PER"}, Span{5, 9, "MISC"}, Span{10, 19, "ORG"}, Span{20, 29, "LOC"})
	return a, b
}

func TestCompare(t *testing.T) {
	a, b := sampleLayers()
	groups, summary := Compare(a, b, "nertag")
	assert.Equal(t, Summary{Equal: 1, Modified: 1, Conflicts: 1, Extra: 1}, summary)
	require.Len(t, groups, 3)
	assert.Equal(t, KindExtra, groups[0].Kind)
	assert.Equal(t, KindModified, groups[1].Kind)
	assert.Equal(t, "LOC", groups[1].A[0].Label)
	assert.Equal(t, "ORG", groups[1].B[0].Label)
	assert.Equal(t, KindConflict, groups[2].Kind)
	assert.Equal(t, 20, groups[2].Start)
	assert.Equal(t, 29, groups[2].End)
}

func TestCompareIdentical(t *testing.T) {
	a, _ := sampleLayers()
	groups, summary := Compare(a, a, "nertag")
	assert.Len(t, groups, 0)
	assert.Equal(t, 3, summary.Equal)
	assert.Equal(t, 0, summary.Differences())
}

func TestConflictsAreGroupedByContinuity(t *testing.T) {
	a := nerLayer("a", Span{0, 4, "X"}, Span{4, 8, "X"}, Span{20, 25, "X"})
	b := nerLayer("b", Span{0, 8, "X"}, Span{21, 25, "X"})
	groups, summary := Compare(a, b, "nertag")
	assert.Equal(t, 2, summary.Conflicts)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].A, 2)
	assert.Len(t, groups[0].B, 1)
	assert.Equal(t, 20, groups[1].Start)
}

func TestMissing(t *testing.T) {
	a := nerLayer("a", Span{0, 4, "PER"})
	b := nerLayer("b")
	groups, summary := Compare(a, b, "nertag")
	assert.Equal(t, 1, summary.Missing)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].B, 0)
}

func TestReport(t *testing.T) {
	a, b := sampleLayers()
	groups, summary := Compare(a, b, "nertag")
	var buff strings.Builder
	rep := NewReporter(&buff, "ner_old", "ner_new")
	require.NoError(t, rep.Write(sampleText, "src/0/0/doc", groups, summary))
	require.NoError(t, rep.Write(sampleText, "src/0/1/doc", groups[:1], Summary{Extra: 1}))
	require.NoError(t, rep.Close())
	assert.Equal(t, 4, rep.Count())
	assert.Equal(t, 2, rep.Summary().Extra)

	out := buff.String()
	assert.Contains(t, out, "  src/0/0/doc::0\n")
	assert.Contains(t, out, "  src/0/0/doc::2\n")
	assert.Contains(t, out, "  src/0/1/doc::3\n")
	assert.Contains(t, out, " ner_old   ...Mari elab {Tallinnas} /LOC ja Tartus ....")
	assert.Contains(t, out, " ner_new   ...Mari elab {Tallinnas} /ORG ja Tartus ....")
	assert.Equal(t, 5, strings.Count(out, Separator+"\n"))
	assert.True(t, strings.HasSuffix(out, Separator+"\n"))
}
