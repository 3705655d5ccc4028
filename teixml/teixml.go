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

// Package teixml reads XML-TEI documents (Estonian Reference Corpus
// style) either from plain files, directories or zip archives.
package teixml

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"estcorp/document"
	"estcorp/shard"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

const (
	MetaXMLFile = "_xml_file"
)

// header elements copied to the document metadata
var headerFields = map[string]string{
	"title":     "title",
	"author":    "author",
	"date":      "date",
	"publisher": "publisher",
	"idno":      "id",
}

// Parse reads a single TEI document. Paragraph-like elements (`p`, `head`)
// within `text` become paragraphs separated by an empty line.
func Parse(r io.Reader) (*document.Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	var inHeader, inText bool
	var headerElm string
	var depthInPar int
	meta := make(map[string]string)
	var par strings.Builder
	paragraphs := make([]string, 0, 50)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse TEI document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "teiHeader":
				inHeader = true
			case t.Name.Local == "text":
				inText = true
			case inHeader:
				if _, ok := headerFields[t.Name.Local]; ok {
					headerElm = t.Name.Local
				}
			case inText && (t.Name.Local == "p" || t.Name.Local == "head"):
				depthInPar++
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "teiHeader":
				inHeader = false
			case t.Name.Local == "text":
				inText = false
			case inHeader && t.Name.Local == headerElm:
				headerElm = ""
			case inText && (t.Name.Local == "p" || t.Name.Local == "head") && depthInPar > 0:
				depthInPar--
				if depthInPar == 0 {
					txt := normalizeSpace(par.String())
					if txt != "" {
						paragraphs = append(paragraphs, txt)
					}
					par.Reset()
				}
			}
		case xml.CharData:
			if inHeader && headerElm != "" {
				key := headerFields[headerElm]
				if _, ok := meta[key]; !ok {
					if v := normalizeSpace(string(t)); v != "" {
						meta[key] = v
					}
				}

			} else if depthInPar > 0 {
				par.Write(t)
			}
		}
	}
	doc := document.New(strings.Join(paragraphs, "\n\n"))
	for k, v := range meta {
		doc.Meta[k] = v
	}
	pl := &document.Layer{Name: document.LayerParagraphs, Attributes: []string{}}
	var pos int
	for _, p := range paragraphs {
		l := utf8.RuneCountInString(p)
		pl.AddSpan(pos, pos+l, nil)
		pos += l + 2
	}
	if pl.Spans == nil {
		pl.Spans = []document.Span{}
	}
	doc.Layers = append(doc.Layers, pl)
	return doc, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type source struct {
	name string
	open func() (io.ReadCloser, error)
}

func listSources(path string) ([]source, func() error, error) {
	noop := func() error { return nil }
	isDir, err := fs.IsDir(path)
	if err != nil {
		return nil, noop, err
	}
	if isDir {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, noop, err
		}
		ans := make([]source, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".xml") {
				continue
			}
			fullPath := filepath.Join(path, e.Name())
			ans = append(ans, source{
				name: e.Name(),
				open: func() (io.ReadCloser, error) { return os.Open(fullPath) },
			})
		}
		sort.Slice(ans, func(i, j int) bool { return ans[i].name < ans[j].name })
		return ans, noop, nil
	}
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, noop, err
		}
		ans := make([]source, 0, len(zr.File))
		for _, f := range zr.File {
			if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
				continue
			}
			zf := f
			ans = append(ans, source{name: zf.Name, open: zf.Open})
		}
		sort.Slice(ans, func(i, j int) bool { return ans[i].name < ans[j].name })
		return ans, zr.Close, nil
	}
	return []source{{
		name: filepath.Base(path),
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}}, noop, nil
}

// WalkSource parses all TEI documents found in path (a file, a directory
// or a zip archive) in the order of their names. Each document gets
// its index within the source as the `_doc_id` metadata. Documents not
// selected by the block are skipped without parsing.
func WalkSource(path string, block *shard.Block, src string, fn func(doc *document.Document) error) error {
	sources, closeFn, err := listSources(path)
	if err != nil {
		return fmt.Errorf("failed to read TEI source %s: %w", path, err)
	}
	defer closeFn()
	if len(sources) == 0 {
		return fmt.Errorf("failed to read TEI source %s: %w", path, errors.New("no XML files found"))
	}
	for i, s := range sources {
		if !block.Contains(i) {
			continue
		}
		r, err := s.open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", s.name, err)
		}
		doc, err := Parse(r)
		r.Close()
		if err != nil {
			log.Error().Err(err).Str("file", s.name).Msg("skipping invalid TEI document")
			continue
		}
		doc.Meta[MetaXMLFile] = s.name
		doc.Meta[document.MetaDocID] = strconv.Itoa(i)
		if doc.Meta["id"] == "" {
			doc.Meta["id"] = strings.TrimSuffix(filepath.Base(s.name), filepath.Ext(s.name))
		}
		if src != "" && doc.Meta["src"] == "" {
			doc.Meta["src"] = src
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}
