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
	"strconv"
)

// Split cuts a document longer than maxSize characters into parts.
// Cuts are made only at sentence starts, so a part may be longer
// than maxSize if it consists of a single long sentence. Spans crossing
// a cut (e.g. paragraphs) are clipped. Documents without a sentence layer
// or short enough are returned as they are.
func Split(doc *Document, maxSize int) []*Document {
	textLen := doc.TextLen()
	sl := doc.Layer(LayerSentences)
	if maxSize <= 0 || textLen <= maxSize || sl == nil || len(sl.Spans) < 2 {
		return []*Document{doc}
	}
	bounds := []int{0}
	chunkStart := 0
	for i, sp := range sl.Spans {
		if i > 0 && sp.End-chunkStart > maxSize && sp.Start > chunkStart {
			bounds = append(bounds, sp.Start)
			chunkStart = sp.Start
		}
	}
	bounds = append(bounds, textLen)
	if len(bounds) == 2 {
		return []*Document{doc}
	}
	runes := []rune(doc.Text)
	numParts := len(bounds) - 1
	ans := make([]*Document, numParts)
	for i := 0; i < numParts; i++ {
		from, to := bounds[i], bounds[i+1]
		part := New(string(runes[from:to]))
		for k, v := range doc.Meta {
			part.Meta[k] = v
		}
		part.Meta[MetaSplitDoc] = strconv.Itoa(numParts)
		part.Meta[MetaSplitDocPart] = strconv.Itoa(i + 1)
		for _, l := range doc.Layers {
			nl := l.Template()
			for _, sp := range l.Spans {
				if sp.Start == sp.End {
					if sp.Start < from || sp.Start >= to && i < numParts-1 {
						continue
					}

				} else if sp.End <= from || sp.Start >= to {
					continue
				}
				nl.Spans = append(nl.Spans, Span{
					Start:       max(sp.Start, from) - from,
					End:         min(sp.End, to) - from,
					Annotations: sp.Annotations,
				})
			}
			part.Layers = append(part.Layers, nl)
		}
		ans[i] = part
	}
	return ans
}

// IsSplitPart tests whether the document was created by Split
func IsSplitPart(doc *Document) bool {
	_, ok := doc.Meta[MetaSplitDoc]
	return ok
}
