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

package annotate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"estcorp/collection"
	"estcorp/convert"
	"estcorp/document"
	"estcorp/merror"
	"estcorp/shard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const syntaxOutput = `[{"name":"syntax","attributes":["deprel"],"parent":"words","ambiguous":false,"spans":[]}]`

func writeScript(t *testing.T, dir, name, body string) string {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func mkCollection(t *testing.T, numDocs int) *collection.Conf {
	dir := t.TempDir()
	var buff strings.Builder
	for i := 0; i < numDocs; i++ {
		buff.WriteString(fmt.Sprintf("<doc id=\"d%d\">\n<s>\nTere\ttere\tI\nmaailm\tmaailm\tS\n</s>\n</doc>\n", i))
	}
	src := filepath.Join(dir, "src.vert")
	require.NoError(t, os.WriteFile(src, []byte(buff.String()), 0644))
	conf := &collection.Conf{
		Name:              "ann_test",
		DataDir:           dir,
		SourceFiles:       []string{src},
		AddSentenceHashes: true,
	}
	require.NoError(t, conf.ValidateAndDefaults("collection"))
	require.NoError(t, convert.NewConverter(conf, nil, 0).Run(context.Background()))
	return conf
}

func syntaxTagger(t *testing.T, dir string) *TaggerConf {
	conf := &TaggerConf{
		Name:    "syntax",
		Command: writeScript(t, dir, "tagger.sh", "cat > /dev/null\necho '"+syntaxOutput+"'"),
		Layers:  []string{"syntax"},
	}
	require.NoError(t, conf.ValidateAndDefaults("tagger"))
	return conf
}

func docFile(conf *collection.Conf, docID int, suffix string) string {
	dir := collection.DocDirPath(conf.CollDir(), conf.SourceFiles[0], docID, conf.MaxDocsPerGroup)
	return filepath.Join(dir, "doc"+suffix+".json")
}

type mapHashes map[int][]string

func (m mapHashes) SentenceHashes(ctx context.Context, collection string, textID int) ([]string, error) {
	return m[textID], nil
}

func TestTaggerConfDefaults(t *testing.T) {
	conf := &TaggerConf{Name: "ner", Command: "ner-tagger", Layers: []string{"ner"}}
	require.NoError(t, conf.ValidateAndDefaults("tagger"))
	assert.Equal(t, "_ner", conf.OutputSuffix)
	assert.Equal(t, dfltTimeoutSecs, conf.TimeoutSecs)

	conf = &TaggerConf{Name: "ner", Command: "ner-tagger"}
	assert.Error(t, conf.ValidateAndDefaults("tagger"))
}

func TestTagAddsLayers(t *testing.T) {
	tconf := syntaxTagger(t, t.TempDir())
	doc := document.New("Tere maailm")
	words := &document.Layer{Name: document.LayerWords, Attributes: []string{}}
	words.AddSpan(0, 4, nil)
	words.AddSpan(5, 11, nil)
	require.NoError(t, doc.AddLayer(words))

	tagger := NewTagger(tconf)
	layers, err := tagger.Tag(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "syntax", layers[0].Name)
	require.NoError(t, tagger.Apply(doc, layers))
	assert.Equal(t, []string{"syntax", "words"}, doc.LayerNames())
}

func TestTagMissingLayer(t *testing.T) {
	dir := t.TempDir()
	tconf := &TaggerConf{
		Name:    "ner",
		Command: writeScript(t, dir, "tagger.sh", "cat > /dev/null\necho '[]'"),
		Layers:  []string{"ner"},
	}
	require.NoError(t, tconf.ValidateAndDefaults("tagger"))
	_, err := NewTagger(tconf).Tag(context.Background(), document.New("x"))
	assert.True(t, merror.IsInputError(err))
}

func TestTagFailureReportsStderr(t *testing.T) {
	dir := t.TempDir()
	tconf := &TaggerConf{
		Name:    "broken",
		Command: writeScript(t, dir, "tagger.sh", "echo 'model not found' >&2\nexit 3"),
		Layers:  []string{"x"},
	}
	require.NoError(t, tconf.ValidateAndDefaults("tagger"))
	_, err := NewTagger(tconf).Tag(context.Background(), document.New("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestTagTimeout(t *testing.T) {
	dir := t.TempDir()
	tconf := &TaggerConf{
		Name:        "slow",
		Command:     writeScript(t, dir, "tagger.sh", "exec sleep 10"),
		Layers:      []string{"x"},
		TimeoutSecs: 1,
	}
	require.NoError(t, tconf.ValidateAndDefaults("tagger"))
	_, err := NewTagger(tconf).Tag(context.Background(), document.New("x"))
	var tErr merror.TimeoutError
	assert.True(t, errors.As(err, &tErr))
}

func TestRunnerAnnotatesCollection(t *testing.T) {
	ctx := context.Background()
	conf := mkCollection(t, 4)
	tagger := NewTagger(syntaxTagger(t, t.TempDir()))

	r := NewRunner(conf, tagger, nil, Options{})
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 4, r.Stats().Files)
	doc, err := document.LoadFile(docFile(conf, 2, "_syntax"))
	require.NoError(t, err)
	assert.NotNil(t, doc.Layer("syntax"))
	assert.NotNil(t, doc.Layer(document.LayerWords))

	// existing outputs are kept
	r = NewRunner(conf, tagger, nil, Options{})
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 0, r.Stats().Files)
	assert.Equal(t, 4, r.Stats().Skipped)

	r = NewRunner(conf, tagger, nil, Options{Force: true})
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 4, r.Stats().Files)
}

func TestRunnerRespectsBlock(t *testing.T) {
	conf := mkCollection(t, 5)
	tagger := NewTagger(syntaxTagger(t, t.TempDir()))
	r := NewRunner(conf, tagger, nil, Options{Block: mustBlock(t, "2,1")})
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 2, r.Stats().Files)
	_, err := os.Stat(docFile(conf, 1, "_syntax"))
	assert.NoError(t, err)
	_, err = os.Stat(docFile(conf, 2, "_syntax"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunnerChangedOnly(t *testing.T) {
	ctx := context.Background()
	conf := mkCollection(t, 3)
	tagger := NewTagger(syntaxTagger(t, t.TempDir()))
	require.NoError(t, NewRunner(conf, tagger, nil, Options{}).Run(ctx))

	same := document.SentenceFingerprint([]string{"Tere", "maailm"})
	hashes := mapHashes{0: {same}, 1: {"outdated"}, 2: {same}}
	r := NewRunner(conf, tagger, hashes, Options{ChangedOnly: true})
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 2, r.Stats().Unchanged)
	assert.Equal(t, 1, r.Stats().Files)

	assert.Error(t, NewRunner(conf, tagger, nil, Options{ChangedOnly: true}).Run(ctx))
}

func mustBlock(t *testing.T, s string) *shard.Block {
	b, err := shard.ParseBlock(s)
	require.NoError(t, err)
	return b
}
