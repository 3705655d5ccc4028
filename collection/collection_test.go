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
	"os"
	"path/filepath"
	"testing"

	"estcorp/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceStem(t *testing.T) {
	assert.Equal(t, "nc19_Feeds", SourceStem("/data/nc19_Feeds.vert.gz"))
	assert.Equal(t, "nc19_Feeds", SourceStem("nc19_Feeds.vert"))
	assert.Equal(t, "koond", SourceStem("/x/koond.zip"))
	assert.Equal(t, "file.v2", SourceStem("file.v2.vert"))
}

func TestDocDirPath(t *testing.T) {
	assert.Equal(
		t,
		filepath.Join("/c", "src", "0", "29999"),
		DocDirPath("/c", "/data/src.vert", 29999, 30000),
	)
	assert.Equal(
		t,
		filepath.Join("/c", "src", "1", "30000"),
		DocDirPath("/c", "/data/src.vert", 30000, 30000),
	)
}

func TestIsDocumentSubdir(t *testing.T) {
	assert.True(t, IsDocumentSubdir("/c/src/0/15"))
	assert.True(t, IsDocumentSubdir("/c/src/3/90001/"))
	assert.False(t, IsDocumentSubdir("/c/src/0"))
	assert.False(t, IsDocumentSubdir("/c/src/x/12"))
}

func TestDocFileName(t *testing.T) {
	assert.Equal(t, "doc.json", DocFileName(0, ""))
	assert.Equal(t, "doc_03.json", DocFileName(3, ""))
	assert.Equal(t, "doc_syntax.json", DocFileName(0, "_syntax"))
	assert.Equal(t, "doc_syntax.json", AnnotatedFile("doc.json", "_syntax"))
}

func mkCollection(t *testing.T) string {
	collDir := t.TempDir()
	for _, src := range []string{"b.vert", "a.vert"} {
		for _, id := range []int{0, 1, 2, 10} {
			dir, err := EnsureDocDir(collDir, src, id, 3)
			require.NoError(t, err)
			doc := document.New("text of " + src)
			doc.Meta["src"] = src
			require.NoError(t, document.SaveFile(doc, filepath.Join(dir, DocFileName(0, ""))))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "doc_syntax.json"), []byte("{}"), 0644))
		}
	}
	return collDir
}

func TestWalkDocumentsKeepsSourceOrder(t *testing.T) {
	collDir := mkCollection(t)
	seen := make([]string, 0, 8)
	seqs := make([]int, 0, 8)
	err := WalkDocuments(collDir, []string{"/x/b.vert", "/x/a.vert"}, func(seq int, sd string, dd DocDir) error {
		seen = append(seen, filepath.Base(sd))
		seqs = append(seqs, seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b", "b", "b", "a", "a", "a", "a"}, seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, seqs)
}

func TestWalkDocumentsUnknownSource(t *testing.T) {
	collDir := mkCollection(t)
	err := WalkDocuments(collDir, []string{"/x/b.vert"}, func(seq int, sd string, dd DocDir) error {
		return nil
	})
	assert.Error(t, err)
}

func TestWalkEmptyCollection(t *testing.T) {
	err := WalkDocuments(t.TempDir(), nil, func(seq int, sd string, dd DocDir) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestDocumentSubdirsSortedByID(t *testing.T) {
	collDir := mkCollection(t)
	dirs, err := DocumentSubdirs(filepath.Join(collDir, "a"))
	require.NoError(t, err)
	ids := make([]int, len(dirs))
	for i, d := range dirs {
		ids[i] = d.ID
	}
	assert.Equal(t, []int{0, 1, 2, 10}, ids)
	files, err := DocumentFiles(dirs[0].Path)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "doc.json", filepath.Base(files[0]))
}

func TestMetaFieldsCollector(t *testing.T) {
	mfc := NewMetaFieldsCollector()
	mfc.Add(map[string]string{"title": "x", "author": "y", document.MetaDocID: "1"})
	mfc.Add(map[string]string{"year": "1999", "title": "z"})
	assert.Equal(t, []string{"author", "title", "year"}, mfc.Fields())

	path := filepath.Join(t.TempDir(), MetaFieldsFile)
	require.NoError(t, WriteMetaFields(path, mfc.Fields()))
	fields, err := LoadMetaFields(path)
	require.NoError(t, err)
	assert.Equal(t, mfc.Fields(), fields)
}

func TestCollectionMetaFieldsMergesSources(t *testing.T) {
	collDir := mkCollection(t)
	require.NoError(t, WriteMetaFields(filepath.Join(collDir, "a", MetaFieldsFile), []string{"title", "src"}))
	require.NoError(t, WriteMetaFields(filepath.Join(collDir, "b", MetaFieldsFile), []string{"author", "src"}))
	fields, err := CollectionMetaFields(collDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"author", "src", "title"}, fields)
}

func TestFirstDocument(t *testing.T) {
	collDir := mkCollection(t)
	doc, err := FirstDocument(collDir, []string{"a.vert", "b.vert"})
	require.NoError(t, err)
	assert.Equal(t, "a.vert", doc.Meta["src"])
}
