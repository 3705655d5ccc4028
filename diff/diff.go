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

// Package diff compares two versions of an annotation layer
// and writes human readable reports of their differences.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"estcorp/document"
)

const (
	KindConflict = "conflict"
	KindModified = "modified"
	KindMissing  = "missing"
	KindExtra    = "extra"
)

type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

func (s Span) overlaps(other Span) bool {
	if s.Start == s.End || other.Start == other.End {
		return s.Start == other.Start && s.End == other.End
	}
	return s.Start < other.End && other.Start < s.End
}

// Group is a single reported difference. Continuous conflicting
// spans are merged into one group.
type Group struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Kind  string `json:"kind"`
	A     []Span `json:"a"`
	B     []Span `json:"b"`
}

type Summary struct {
	Equal     int `json:"equal"`
	Conflicts int `json:"conflicts"`
	Modified  int `json:"modified"`
	Missing   int `json:"missing"`
	Extra     int `json:"extra"`
}

func (s Summary) Differences() int {
	return s.Conflicts + s.Modified + s.Missing + s.Extra
}

func (s *Summary) Add(other Summary) {
	s.Equal += other.Equal
	s.Conflicts += other.Conflicts
	s.Modified += other.Modified
	s.Missing += other.Missing
	s.Extra += other.Extra
}

type loc struct {
	start, end int
}

func spanLabel(sp document.Span, attr string) string {
	labels := make([]string, 0, len(sp.Annotations))
	for _, ann := range sp.Annotations {
		if v, ok := ann[attr]; ok && v != nil {
			labels = append(labels, fmt.Sprint(v))

		} else {
			labels = append(labels, "")
		}
	}
	return strings.Join(labels, "|")
}

func layerSpans(layer *document.Layer, attr string) ([]Span, map[loc]string) {
	spans := make([]Span, 0, len(layer.Spans))
	idx := make(map[loc]string, len(layer.Spans))
	for _, sp := range layer.Spans {
		s := Span{Start: sp.Start, End: sp.End, Label: spanLabel(sp, attr)}
		spans = append(spans, s)
		idx[loc{sp.Start, sp.End}] = s.Label
	}
	return spans, idx
}

func sortSpans(spans []Span) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start == spans[j].Start {
			return spans[i].End < spans[j].End
		}
		return spans[i].Start < spans[j].Start
	})
}

// groupConflicts merges conflicting spans of both layers into groups.
// A span joins the current group if it overlaps the group or directly
// continues some of the group's spans.
func groupConflicts(confA, confB []Span) []Group {
	type item struct {
		span Span
		isA  bool
	}
	items := make([]item, 0, len(confA)+len(confB))
	for _, s := range confA {
		items = append(items, item{s, true})
	}
	for _, s := range confB {
		items = append(items, item{s, false})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].span.Start == items[j].span.Start {
			return items[i].span.End < items[j].span.End
		}
		return items[i].span.Start < items[j].span.Start
	})
	ans := make([]Group, 0, 10)
	var curr *Group
	for _, it := range items {
		joins := curr != nil && it.span.Start < curr.End
		if !joins && curr != nil {
			same := curr.A
			if !it.isA {
				same = curr.B
			}
			for _, s := range same {
				if s.End == it.span.Start {
					joins = true
					break
				}
			}
		}
		if !joins {
			if curr != nil {
				ans = append(ans, *curr)
			}
			curr = &Group{Start: it.span.Start, End: it.span.End, Kind: KindConflict}
		}
		if it.isA {
			curr.A = append(curr.A, it.span)

		} else {
			curr.B = append(curr.B, it.span)
		}
		if it.span.End > curr.End {
			curr.End = it.span.End
		}
	}
	if curr != nil {
		ans = append(ans, *curr)
	}
	return ans
}

// Compare finds differences between two layers annotating the same
// text. Spans are compared by their location and by the value of attr.
func Compare(layerA, layerB *document.Layer, attr string) ([]Group, Summary) {
	spansA, idxA := layerSpans(layerA, attr)
	spansB, idxB := layerSpans(layerB, attr)
	var summary Summary
	ans := make([]Group, 0, 10)
	onlyA := make([]Span, 0, 10)
	onlyB := make([]Span, 0, 10)
	for _, s := range spansA {
		labelB, ok := idxB[loc{s.Start, s.End}]
		if !ok {
			onlyA = append(onlyA, s)
			continue
		}
		if labelB == s.Label {
			summary.Equal++
			continue
		}
		summary.Modified++
		ans = append(ans, Group{
			Start: s.Start,
			End:   s.End,
			Kind:  KindModified,
			A:     []Span{s},
			B:     []Span{{Start: s.Start, End: s.End, Label: labelB}},
		})
	}
	for _, s := range spansB {
		if _, ok := idxA[loc{s.Start, s.End}]; !ok {
			onlyB = append(onlyB, s)
		}
	}
	confA := make([]Span, 0, len(onlyA))
	confB := make([]Span, 0, len(onlyB))
	for _, a := range onlyA {
		var conflicting bool
		for _, b := range onlyB {
			if a.overlaps(b) {
				conflicting = true
				break
			}
		}
		if conflicting {
			confA = append(confA, a)

		} else {
			summary.Missing++
			ans = append(ans, Group{Start: a.Start, End: a.End, Kind: KindMissing, A: []Span{a}, B: []Span{}})
		}
	}
	for _, b := range onlyB {
		var conflicting bool
		for _, a := range onlyA {
			if b.overlaps(a) {
				conflicting = true
				break
			}
		}
		if conflicting {
			confB = append(confB, b)

		} else {
			summary.Extra++
			ans = append(ans, Group{Start: b.Start, End: b.End, Kind: KindExtra, A: []Span{}, B: []Span{b}})
		}
	}
	sortSpans(confA)
	sortSpans(confB)
	conflicts := groupConflicts(confA, confB)
	summary.Conflicts = len(conflicts)
	ans = append(ans, conflicts...)
	sort.SliceStable(ans, func(i, j int) bool {
		if ans[i].Start == ans[j].Start {
			return ans[i].End < ans[j].End
		}
		return ans[i].Start < ans[j].Start
	})
	return ans, summary
}
