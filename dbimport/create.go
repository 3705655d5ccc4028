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

// Package dbimport moves JSON documents of a collection into
// database tables.
package dbimport

import (
	"context"
	"errors"
	"fmt"

	"estcorp/collection"
	"estcorp/db"
	"estcorp/document"
	"estcorp/merror"

	"github.com/rs/zerolog/log"
)

// loadFirstDocument loads the first document of the collection,
// optionally its annotated variant.
func loadFirstDocument(conf *collection.Conf, inputSuffix string) (*document.Document, error) {
	doc, err := collection.FirstDocument(conf.CollDir(), conf.SourceFiles)
	if err != nil {
		return nil, err
	}
	if inputSuffix == "" {
		return doc, nil
	}
	var ans *document.Document
	errStop := errors.New("stop")
	err = collection.WalkDocuments(
		conf.CollDir(),
		conf.SourceFiles,
		func(seq int, sourceDir string, dd collection.DocDir) error {
			files, err := collection.DocumentFiles(dd.Path)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return nil
			}
			ans, err = document.LoadFile(collection.AnnotatedFile(files[0], inputSuffix))
			if err != nil {
				return err
			}
			return errStop
		},
	)
	if err != nil && err != errStop {
		return nil, err
	}
	return ans, nil
}

// prepareLayers applies layer renaming and hash attribute removal
// to a document in place.
func prepareLayers(conf *collection.Conf, doc *document.Document) error {
	for _, name := range doc.LayerNames() {
		if err := doc.RenameLayer(name, conf.RenamedLayer(name)); err != nil {
			return merror.NewInputError("failed to apply layer renaming: %s", err)
		}
	}
	if conf.RemoveSentencesHashAttr {
		if sl := doc.Layer(conf.RenamedLayer(document.LayerSentences)); sl != nil {
			sl.RemoveAttribute(document.HashAttr)
		}
	}
	return nil
}

// BuildSpec derives collection tables from the collection configuration,
// its meta fields and layers of the first document.
func BuildSpec(conf *collection.Conf, inputSuffix string) (db.CollectionSpec, error) {
	doc, err := loadFirstDocument(conf, inputSuffix)
	if err != nil {
		return db.CollectionSpec{}, fmt.Errorf("failed to determine collection layers: %w", err)
	}
	if err := prepareLayers(conf, doc); err != nil {
		return db.CollectionSpec{}, err
	}
	fields, err := collection.CollectionMetaFields(conf.CollDir())
	if err != nil {
		return db.CollectionSpec{}, fmt.Errorf("failed to determine collection metadata: %w", err)
	}
	metaFields := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == db.ColTextID || f == db.ColInitialID {
			log.Warn().Str("field", f).Msg("metadata field uses a reserved name, ignoring")
			continue
		}
		metaFields = append(metaFields, f)
	}
	return db.CollectionSpec{
		Name:                conf.Name,
		Description:         conf.Description,
		Layers:              collection.LayerTemplates(doc),
		MetaFields:          metaFields,
		MetadataDescription: conf.MetadataDescription,
		AddHashTable:        conf.AddSentenceHashes,
		AddVertIndexingInfo: conf.AddVertIndexingInfo,
		RemoveInitialID:     conf.RemoveInitialID,
	}, nil
}

// CreateTables creates (or recreates if overwrite is set) all the
// collection tables.
func CreateTables(
	ctx context.Context,
	backend *db.Backend,
	conf *collection.Conf,
	inputSuffix string,
	overwrite bool,
) error {
	spec, err := BuildSpec(conf, inputSuffix)
	if err != nil {
		return err
	}
	return backend.CreateCollection(ctx, spec, overwrite)
}
