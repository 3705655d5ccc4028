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
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// the std. config sorts map keys so the produced files are stable
var jsonAPI = sonic.ConfigStd

func Marshal(doc *Document) ([]byte, error) {
	return jsonAPI.Marshal(doc)
}

func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := jsonAPI.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc.Meta == nil {
		doc.Meta = make(map[string]string)
	}
	if doc.Layers == nil {
		doc.Layers = make([]*Layer, 0)
	}
	for _, l := range doc.Layers {
		if l.Spans == nil {
			l.Spans = []Span{}
		}
	}
	return &doc, nil
}

func MarshalLayer(layer *Layer) ([]byte, error) {
	return jsonAPI.Marshal(layer)
}

// UnmarshalLayers decodes a JSON array of layers
func UnmarshalLayers(data []byte) ([]*Layer, error) {
	var ans []*Layer
	if err := jsonAPI.Unmarshal(data, &ans); err != nil {
		return nil, fmt.Errorf("failed to decode layers: %w", err)
	}
	return ans, nil
}

func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", path, err)
	}
	doc, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", path, err)
	}
	return doc, nil
}

// SaveFile writes the document into a temporary file first and then
// renames it so an interrupted run never leaves a truncated JSON file.
func SaveFile(doc *Document, path string) error {
	data, err := Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save document %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save document %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save document %s: %w", path, err)
	}
	return nil
}
