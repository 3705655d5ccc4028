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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/czcorpus/cnc-gokit/fs"
)

var (
	ErrNoDocuments = errors.New("no documents found")

	docFileRegexp = regexp.MustCompile(`^doc(_(\d+))?\.json$`)
	sourceExts    = []string{".gz", ".zip", ".vert", ".prevert", ".xml", ".txt"}
)

// DocDir represents a directory with JSON file(s) of a single document
type DocDir struct {
	Path string

	// ID is a document index within its source file
	ID int
}

// SourceStem returns a source file name without its directory
// and known extensions (e.g. `/data/nc19_Feeds.vert.gz` => `nc19_Feeds`).
func SourceStem(path string) string {
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		var known bool
		for _, e := range sourceExts {
			if strings.EqualFold(e, ext) {
				known = true
				break
			}
		}
		if !known || ext == base {
			return base
		}
		base = strings.TrimSuffix(base, ext)
	}
}

// DocDirPath returns a directory where JSON files of a document are stored.
// Documents are grouped by their source file and then into groups of at
// most maxDocsPerGroup items: `collDir/<source stem>/<group>/<docID>`.
func DocDirPath(collDir, sourceFile string, docID, maxDocsPerGroup int) string {
	return filepath.Join(
		collDir,
		SourceStem(sourceFile),
		strconv.Itoa(docID/maxDocsPerGroup),
		strconv.Itoa(docID),
	)
}

// EnsureDocDir is like DocDirPath but it also creates the directory
func EnsureDocDir(collDir, sourceFile string, docID, maxDocsPerGroup int) (string, error) {
	ans := DocDirPath(collDir, sourceFile, docID, maxDocsPerGroup)
	if err := os.MkdirAll(ans, 0755); err != nil {
		return "", fmt.Errorf("failed to create document directory: %w", err)
	}
	return ans, nil
}

// DocFileName returns a name of a document file. For split documents
// the part is 1-based, zero means the document was not split.
func DocFileName(part int, suffix string) string {
	if part > 0 {
		return fmt.Sprintf("doc_%02d%s.json", part, suffix)
	}
	return fmt.Sprintf("doc%s.json", suffix)
}

// IsDocumentSubdir tests whether the path looks like `.../<group>/<docID>`
func IsDocumentSubdir(path string) bool {
	clean := filepath.Clean(path)
	docID := filepath.Base(clean)
	group := filepath.Base(filepath.Dir(clean))
	_, err1 := strconv.Atoi(docID)
	_, err2 := strconv.Atoi(group)
	return err1 == nil && err2 == nil
}

// SourceSubdirs lists the first level subdirectories of the collection
// directory (one per source file), sorted by name.
func SourceSubdirs(collDir string) ([]string, error) {
	entries, err := os.ReadDir(collDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection directory: %w", err)
	}
	ans := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ans = append(ans, filepath.Join(collDir, e.Name()))
		}
	}
	sort.Strings(ans)
	return ans, nil
}

// OrderSubdirsBySources orders source subdirectories the same way
// as the source files are ordered in the configuration. Subdirectories
// without a configured source are reported as an error.
func OrderSubdirsBySources(sources []string, subdirs []string) ([]string, error) {
	byStem := make(map[string]string)
	for _, sd := range subdirs {
		byStem[filepath.Base(sd)] = sd
	}
	ans := make([]string, 0, len(subdirs))
	for _, src := range sources {
		stem := SourceStem(src)
		sd, ok := byStem[stem]
		if !ok {
			continue
		}
		ans = append(ans, sd)
		delete(byStem, stem)
	}
	if len(byStem) > 0 {
		unknown := make([]string, 0, len(byStem))
		for k := range byStem {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("directories without configured source file: %s", strings.Join(unknown, ", "))
	}
	return ans, nil
}

// DocumentSubdirs returns all document directories of a source subdir
// sorted by the document index.
func DocumentSubdirs(sourceDir string) ([]DocDir, error) {
	groups, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}
	ans := make([]DocDir, 0, 100)
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(g.Name()); err != nil {
			continue
		}
		groupPath := filepath.Join(sourceDir, g.Name())
		docs, err := os.ReadDir(groupPath)
		if err != nil {
			return nil, fmt.Errorf("failed to list document group: %w", err)
		}
		for _, d := range docs {
			if !d.IsDir() {
				continue
			}
			id, err := strconv.Atoi(d.Name())
			if err != nil {
				continue
			}
			ans = append(ans, DocDir{Path: filepath.Join(groupPath, d.Name()), ID: id})
		}
	}
	sort.Slice(ans, func(i, j int) bool {
		return ans[i].ID < ans[j].ID
	})
	return ans, nil
}

// DocumentFiles lists source JSON files of a document (`doc.json`
// or `doc_01.json`, `doc_02.json`,... for split documents), i.e. files
// produced by annotation steps (`doc_syntax.json`) are excluded.
func DocumentFiles(docDir string) ([]string, error) {
	entries, err := os.ReadDir(docDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list document directory: %w", err)
	}
	type item struct {
		path string
		part int
	}
	items := make([]item, 0, 1)
	for _, e := range entries {
		m := docFileRegexp.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		var part int
		if m[2] != "" {
			part, _ = strconv.Atoi(m[2])
		}
		items = append(items, item{path: filepath.Join(docDir, e.Name()), part: part})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].part < items[j].part
	})
	ans := make([]string, len(items))
	for i, v := range items {
		ans[i] = v.path
	}
	return ans, nil
}

// AnnotatedFile returns a path of an annotated variant of a document file
// (e.g. `doc.json` + `_syntax` => `doc_syntax.json`).
func AnnotatedFile(docFile, suffix string) string {
	return strings.TrimSuffix(docFile, ".json") + suffix + ".json"
}

// WalkDocuments calls fn for each document directory of the collection,
// source subdirectories are processed in the order of the configured
// source files (or by name if no sources are configured). The callback
// gets also a global zero-based sequence number of the document.
func WalkDocuments(collDir string, sources []string, fn func(seq int, sourceDir string, dd DocDir) error) error {
	isDir, err := fs.IsDir(collDir)
	if err != nil {
		return fmt.Errorf("failed to walk collection: %w", err)
	}
	if !isDir {
		return fmt.Errorf("failed to walk collection: %s is not a directory", collDir)
	}
	subdirs, err := SourceSubdirs(collDir)
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		subdirs, err = OrderSubdirsBySources(sources, subdirs)
		if err != nil {
			return err
		}
	}
	var seq int
	for _, sd := range subdirs {
		docs, err := DocumentSubdirs(sd)
		if err != nil {
			return err
		}
		for _, dd := range docs {
			if err := fn(seq, sd, dd); err != nil {
				return err
			}
			seq++
		}
	}
	if seq == 0 {
		return ErrNoDocuments
	}
	return nil
}
