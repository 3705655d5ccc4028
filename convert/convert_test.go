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

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"estcorp/collection"
	"estcorp/document"
	"estcorp/shard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVert(t *testing.T, dir string, numDocs int) string {
	var buff strings.Builder
	for i := 0; i < numDocs; i++ {
		buff.WriteString(fmt.Sprintf("<doc id=\"d%d\" genre=\"news\">\n<p>\n<s>\n", i))
		buff.WriteString("Üks\tüks\tN\n")
		buff.WriteString("lause\tlause\tS\n")
		buff.WriteString("</s>\n</p>\n</doc>\n")
	}
	path := filepath.Join(dir, "sample.vert")
	require.NoError(t, os.WriteFile(path, []byte(buff.String()), 0644))
	return path
}

func mkConf(t *testing.T) *collection.Conf {
	dir := t.TempDir()
	conf := &collection.Conf{
		Name:              "test_coll",
		DataDir:           dir,
		SourceFiles:       []string{writeVert(t, dir, 5)},
		AddSentenceHashes: true,
		CollectMetaFields: true,
	}
	require.NoError(t, conf.ValidateAndDefaults("collection"))
	return conf
}

func TestConvertVert(t *testing.T) {
	conf := mkConf(t)
	conv := NewConverter(conf, nil, 0)
	require.NoError(t, conv.Run(context.Background()))
	assert.Equal(t, 5, conv.Stats().Docs)

	docPath := filepath.Join(
		collection.DocDirPath(conf.CollDir(), conf.SourceFiles[0], 2, conf.MaxDocsPerGroup),
		"doc.json",
	)
	doc, err := document.LoadFile(docPath)
	require.NoError(t, err)
	assert.Equal(t, "Üks lause", doc.Text)
	assert.Equal(t, "d2", doc.Meta["id"])
	sl := doc.Layer(document.LayerSentences)
	require.Len(t, sl.Spans, 1)
	assert.Equal(
		t,
		document.SentenceFingerprint([]string{"Üks", "lause"}),
		sl.Spans[0].Annotations[0][document.HashAttr],
	)
	fields, err := collection.LoadMetaFields(filepath.Join(conf.CollDir(), collection.MetaFieldsFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"genre", "id"}, fields)
}

func TestConvertSharded(t *testing.T) {
	conf := mkConf(t)
	for rem := 0; rem < 2; rem++ {
		conv := NewConverter(conf, &shard.Block{Divisor: 2, Remainder: rem}, 0)
		require.NoError(t, conv.Run(context.Background()))
	}
	var num int
	err := collection.WalkDocuments(conf.CollDir(), conf.SourceFiles, func(seq int, sd string, dd collection.DocDir) error {
		assert.Equal(t, seq, dd.ID)
		num++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, num)
	fields, err := collection.CollectionMetaFields(conf.CollDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"genre", "id"}, fields)
}

func TestConvertSplitsLargeDocuments(t *testing.T) {
	conf := mkConf(t)
	dir := conf.DataDir
	var buff strings.Builder
	buff.WriteString("<doc id=\"big\">\n")
	for i := 0; i < 4; i++ {
		buff.WriteString("<s>\nüks\nkaks\nkolm\n</s>\n")
	}
	buff.WriteString("</doc>\n")
	src := filepath.Join(dir, "big.vert")
	require.NoError(t, os.WriteFile(src, []byte(buff.String()), 0644))
	conf.SourceFiles = []string{src}
	conf.MaxTextSize = 20

	conv := NewConverter(conf, nil, 0)
	require.NoError(t, conv.Run(context.Background()))
	assert.Equal(t, 1, conv.Stats().SplitDocs)
	files, err := collection.DocumentFiles(
		collection.DocDirPath(conf.CollDir(), src, 0, conf.MaxDocsPerGroup))
	require.NoError(t, err)
	assert.Len(t, files, 4)
	assert.Equal(t, "doc_01.json", filepath.Base(files[0]))
}
