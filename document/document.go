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

// Package document contains the in-memory representation of an annotated
// text as it is passed between conversion, annotation and import steps.
//
// All span positions are character (code point) offsets into Document.Text.
package document

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

const (
	LayerWords      = "words"
	LayerSentences  = "sentences"
	LayerParagraphs = "paragraphs"
	LayerMorph      = "morph_analysis"

	HashAttr = "sha256"

	MetaDocID        = "_doc_id"
	MetaDocStartLine = "_doc_start_line"
	MetaDocEndLine   = "_doc_end_line"
	MetaSplitDoc     = "_split_document"
	MetaSplitDocPart = "_split_document_part"
)

// Annotation is a single set of attribute values attached to a span.
type Annotation map[string]any

type Span struct {
	Start       int          `json:"start"`
	End         int          `json:"end"`
	Annotations []Annotation `json:"annotations"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Within tests whether the span lies inside the other one
func (s Span) Within(other Span) bool {
	return s.Start >= other.Start && s.End <= other.End
}

type Layer struct {
	Name       string         `json:"name"`
	Attributes []string       `json:"attributes"`
	Parent     string         `json:"parent,omitempty"`
	Enveloping string         `json:"enveloping,omitempty"`
	Ambiguous  bool           `json:"ambiguous"`
	Meta       map[string]any `json:"meta,omitempty"`
	Spans      []Span         `json:"spans"`
}

// AddSpan appends a span with a single annotation
func (l *Layer) AddSpan(start, end int, ann Annotation) {
	if ann == nil {
		ann = Annotation{}
	}
	l.Spans = append(l.Spans, Span{Start: start, End: end, Annotations: []Annotation{ann}})
}

// Template returns a copy of the layer without any spans.
func (l *Layer) Template() *Layer {
	ans := &Layer{
		Name:       l.Name,
		Attributes: append([]string{}, l.Attributes...),
		Parent:     l.Parent,
		Enveloping: l.Enveloping,
		Ambiguous:  l.Ambiguous,
		Spans:      []Span{},
	}
	if l.Meta != nil {
		ans.Meta = make(map[string]any, len(l.Meta))
		for k, v := range l.Meta {
			ans.Meta[k] = v
		}
	}
	return ans
}

func (l *Layer) HasAttribute(name string) bool {
	for _, a := range l.Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// RemoveAttribute removes the attribute from the layer declaration
// and from all the annotations.
func (l *Layer) RemoveAttribute(name string) {
	attrs := make([]string, 0, len(l.Attributes))
	for _, a := range l.Attributes {
		if a != name {
			attrs = append(attrs, a)
		}
	}
	l.Attributes = attrs
	for _, sp := range l.Spans {
		for _, ann := range sp.Annotations {
			delete(ann, name)
		}
	}
}

// -----------------------------

type Document struct {
	Text   string            `json:"text"`
	Meta   map[string]string `json:"meta"`
	Layers []*Layer          `json:"layers"`

	runes []rune
}

func New(text string) *Document {
	return &Document{
		Text:   text,
		Meta:   make(map[string]string),
		Layers: make([]*Layer, 0, 4),
	}
}

// TextLen returns the length of the text in characters
func (doc *Document) TextLen() int {
	return utf8.RuneCountInString(doc.Text)
}

// SpanText returns the text covered by the span
func (doc *Document) SpanText(s Span) string {
	if doc.runes == nil {
		doc.runes = []rune(doc.Text)
	}
	if s.Start < 0 || s.End > len(doc.runes) || s.Start > s.End {
		return ""
	}
	return string(doc.runes[s.Start:s.End])
}

func (doc *Document) Layer(name string) *Layer {
	for _, l := range doc.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (doc *Document) AddLayer(layer *Layer) error {
	if doc.Layer(layer.Name) != nil {
		return fmt.Errorf("layer %s already present in the document", layer.Name)
	}
	doc.Layers = append(doc.Layers, layer)
	return nil
}

// SetLayer adds the layer or replaces an existing layer with the same name
func (doc *Document) SetLayer(layer *Layer) {
	for i, l := range doc.Layers {
		if l.Name == layer.Name {
			doc.Layers[i] = layer
			return
		}
	}
	doc.Layers = append(doc.Layers, layer)
}

func (doc *Document) RenameLayer(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	l := doc.Layer(oldName)
	if l == nil {
		return fmt.Errorf("cannot rename missing layer %s", oldName)
	}
	if doc.Layer(newName) != nil {
		return fmt.Errorf("cannot rename layer %s to existing %s", oldName, newName)
	}
	l.Name = newName
	for _, other := range doc.Layers {
		if other.Parent == oldName {
			other.Parent = newName
		}
		if other.Enveloping == oldName {
			other.Enveloping = newName
		}
	}
	return nil
}

func (doc *Document) LayerNames() []string {
	ans := make([]string, len(doc.Layers))
	for i, l := range doc.Layers {
		ans[i] = l.Name
	}
	sort.Strings(ans)
	return ans
}

// Validate checks that all the spans lie within the text
// and that dependent layers refer to existing ones.
func (doc *Document) Validate() error {
	size := doc.TextLen()
	for _, l := range doc.Layers {
		if l.Parent != "" && doc.Layer(l.Parent) == nil {
			return fmt.Errorf("layer %s: missing parent layer %s", l.Name, l.Parent)
		}
		if l.Enveloping != "" && doc.Layer(l.Enveloping) == nil {
			return fmt.Errorf("layer %s: missing enveloped layer %s", l.Name, l.Enveloping)
		}
		for i, sp := range l.Spans {
			if sp.Start < 0 || sp.End > size || sp.Start > sp.End {
				return fmt.Errorf(
					"layer %s: span %d [%d, %d) out of text range %d", l.Name, i, sp.Start, sp.End, size)
			}
		}
	}
	return nil
}

// Enveloped returns, for each span of the enveloping layer, the strings
// covered by the spans of the inner layer lying inside it.
func (doc *Document) Enveloped(outerLayer, innerLayer string) ([][]string, error) {
	outer := doc.Layer(outerLayer)
	if outer == nil {
		return nil, fmt.Errorf("missing layer %s", outerLayer)
	}
	inner := doc.Layer(innerLayer)
	if inner == nil {
		return nil, fmt.Errorf("missing layer %s", innerLayer)
	}
	ans := make([][]string, len(outer.Spans))
	var j int
	for i, osp := range outer.Spans {
		ans[i] = make([]string, 0, 20)
		for j < len(inner.Spans) && inner.Spans[j].End <= osp.Start {
			j++
		}
		for k := j; k < len(inner.Spans) && inner.Spans[k].Start < osp.End; k++ {
			if inner.Spans[k].Within(osp) {
				ans[i] = append(ans[i], doc.SpanText(inner.Spans[k]))
			}
		}
	}
	return ans, nil
}

// Counts returns number of words and sentences in the document.
// Missing layers count as zero.
func (doc *Document) Counts() (words, sentences int) {
	if l := doc.Layer(LayerWords); l != nil {
		words = len(l.Spans)
	}
	if l := doc.Layer(LayerSentences); l != nil {
		sentences = len(l.Spans)
	}
	return
}

// Copy creates a deep copy of the document metadata and layer structure
// (annotations are shared).
func (doc *Document) Copy() *Document {
	ans := New(doc.Text)
	for k, v := range doc.Meta {
		ans.Meta[k] = v
	}
	for _, l := range doc.Layers {
		nl := l.Template()
		nl.Spans = append(nl.Spans, l.Spans...)
		ans.Layers = append(ans.Layers, nl)
	}
	return ans
}
