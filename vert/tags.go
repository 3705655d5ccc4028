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

package vert

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var tagAttrRegexp = regexp.MustCompile(`([^\s="<>/]+)\s*=\s*"([^"]*)"`)

// parseTagAttrs reads all name="value" pairs of a structure tag.
// Unlike the structure parser, empty values and names with
// '-' or ':' are kept.
func parseTagAttrs(line string) map[string]string {
	ans := make(map[string]string)
	for _, m := range tagAttrRegexp.FindAllStringSubmatch(line, -1) {
		ans[m[1]] = m[2]
	}
	return ans
}

func isDocTag(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "<"+structDoc+" ") ||
		strings.HasPrefix(line, "<"+structDoc+">") ||
		strings.HasPrefix(line, "<"+structDoc+"\t")
}

// docTagReader follows a vertical file in parallel with the main
// parser and provides raw attributes of its <doc> tags in order
type docTagReader struct {
	file io.Closer
	gz   io.Closer
	sc   *bufio.Scanner
}

func (r *docTagReader) next() (map[string]string, bool) {
	for r.sc.Scan() {
		if line := r.sc.Text(); isDocTag(line) {
			return parseTagAttrs(line), true
		}
	}
	return nil, false
}

func (r *docTagReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

func openDocTagReader(path string) (*docTagReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	ans := &docTagReader{file: f}
	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		ans.gz = gz
		src = gz
	}
	ans.sc = bufio.NewScanner(src)
	ans.sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return ans, nil
}
