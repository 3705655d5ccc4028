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

package collection

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"estcorp/document"

	"github.com/czcorpus/cnc-gokit/collections"
)

const (
	MetaFieldsFile = "meta_fields.txt"

	// matches also files written by sharded conversions
	// (e.g. meta_fields_4_1.txt)
	MetaFieldsPattern = "meta_fields*.txt"
)

// technical fields added by converters, they are never considered
// a part of document metadata
var ignoredMetaFields = []string{
	"autocorrected_paragraphs",
	document.MetaDocID,
	document.MetaDocStartLine,
	document.MetaDocEndLine,
	document.MetaSplitDoc,
	document.MetaSplitDocPart,
}

// MetaFieldsCollector gathers names of all metadata fields
// found in processed documents.
type MetaFieldsCollector struct {
	fields map[string]struct{}
}

func (mfc *MetaFieldsCollector) Add(meta map[string]string) {
	for k := range meta {
		if !collections.SliceContains(ignoredMetaFields, k) {
			mfc.fields[k] = struct{}{}
		}
	}
}

func (mfc *MetaFieldsCollector) Merge(other *MetaFieldsCollector) {
	for f := range other.fields {
		mfc.fields[f] = struct{}{}
	}
}

// Fields returns collected field names sorted alphabetically
func (mfc *MetaFieldsCollector) Fields() []string {
	ans := make([]string, 0, len(mfc.fields))
	for f := range mfc.fields {
		ans = append(ans, f)
	}
	sort.Strings(ans)
	return ans
}

func (mfc *MetaFieldsCollector) Size() int {
	return len(mfc.fields)
}

func NewMetaFieldsCollector() *MetaFieldsCollector {
	return &MetaFieldsCollector{fields: make(map[string]struct{})}
}

// WriteMetaFields stores field names, one per line
func WriteMetaFields(path string, fields []string) error {
	var data strings.Builder
	for _, f := range fields {
		data.WriteString(f)
		data.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(data.String()), 0644); err != nil {
		return fmt.Errorf("failed to write meta fields: %w", err)
	}
	return nil
}

func LoadMetaFields(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load meta fields: %w", err)
	}
	defer f.Close()
	ans := make([]string, 0, 20)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			ans = append(ans, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to load meta fields: %w", err)
	}
	return ans, nil
}

// CollectionMetaFields loads meta fields of the whole collection.
// If the collection level file is missing (e.g. after a sharded
// conversion), all the per-source files are merged.
func CollectionMetaFields(collDir string) ([]string, error) {
	ans, err := LoadMetaFields(filepath.Join(collDir, MetaFieldsFile))
	if err == nil {
		return ans, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	subdirs, err := SourceSubdirs(collDir)
	if err != nil {
		return nil, err
	}
	coll := NewMetaFieldsCollector()
	for _, sd := range subdirs {
		files, err := filepath.Glob(filepath.Join(sd, MetaFieldsPattern))
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			fields, err := LoadMetaFields(file)
			if err != nil {
				return nil, err
			}
			for _, f := range fields {
				coll.fields[f] = struct{}{}
			}
		}
	}
	return coll.Fields(), nil
}

// FirstDocument loads the first document of the collection
func FirstDocument(collDir string, sources []string) (*document.Document, error) {
	var ans *document.Document
	errStop := errors.New("stop")
	err := WalkDocuments(collDir, sources, func(seq int, sourceDir string, dd DocDir) error {
		files, err := DocumentFiles(dd.Path)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		ans, err = document.LoadFile(files[0])
		if err != nil {
			return err
		}
		return errStop
	})
	if err != nil && err != errStop {
		return nil, err
	}
	if ans == nil {
		return nil, ErrNoDocuments
	}
	return ans, nil
}

// LayerTemplates returns layers of the document without any spans
func LayerTemplates(doc *document.Document) []*document.Layer {
	ans := make([]*document.Layer, len(doc.Layers))
	for i, l := range doc.Layers {
		ans[i] = l.Template()
	}
	return ans
}
