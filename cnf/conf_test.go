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

package cnf

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"estcorp/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAML(t *testing.T) {
	dataDir := t.TempDir()
	src := fmt.Sprintf(`
logLevel: debug
timeZone: UTC
db:
  driver: sqlite
  name: %s
collection:
  name: koond_2026
  dataDir: %s
  sourceFormat: prevert
  sourceFiles: [a.prevert, b.prevert]
  addSentenceHashes: true
  layerRenamingMap:
    morph_analysis: v1_morph
annotation:
  taggers:
    - name: stanza
      command: /bin/cat
      layers: [stanza_syntax]
redis:
  host: localhost
`, filepath.Join(dataDir, "db.sqlite"), dataDir)
	conf, err := Parse([]byte(src), true)
	require.NoError(t, err)
	require.NoError(t, ValidateAndDefaults(conf))

	assert.True(t, conf.IsDebugMode())
	assert.Equal(t, engine.DriverSQLite, conf.DB.Driver)
	assert.Equal(t, "koond_2026", conf.Collection.Name)
	assert.Equal(t, []string{"a.prevert", "b.prevert"}, conf.Collection.SourceFiles)
	assert.True(t, conf.Collection.AddSentenceHashes)
	assert.Equal(t, "v1_morph", conf.Collection.LayerRenamingMap["morph_analysis"])
	tagger, err := conf.Annotation.Tagger("stanza")
	require.NoError(t, err)
	assert.Equal(t, "_stanza", tagger.OutputSuffix)
	assert.Equal(t, 6379, conf.Redis.Port)
	assert.Equal(t, 1000, conf.LogProgressEach)
	assert.Equal(t, "UTC", conf.TimezoneLocation().String())
}

func TestParseJSONDefaults(t *testing.T) {
	dataDir := t.TempDir()
	src := fmt.Sprintf(`{"collection": {"name": "koond", "dataDir": %q}}`, dataDir)
	conf, err := Parse([]byte(src), false)
	require.NoError(t, err)
	require.NoError(t, ValidateAndDefaults(conf))
	assert.Nil(t, conf.DB)
	assert.Nil(t, conf.Redis)
	assert.Equal(t, "Europe/Tallinn", conf.TimeZone)
	assert.Equal(t, dfltListenPort, conf.Server.ListenPort)
	assert.Equal(t, dfltServerWriteTimeoutSecs, conf.Server.ServerWriteTimeoutSecs)
}

func TestValidateRejectsInvalid(t *testing.T) {
	conf, err := Parse([]byte(`{"timeZone": "UTC"}`), false)
	require.NoError(t, err)
	assert.Error(t, ValidateAndDefaults(conf))

	dataDir := t.TempDir()
	conf, err = Parse([]byte(fmt.Sprintf(`{"collection": {"name": "1bad", "dataDir": %q}}`, dataDir)), false)
	require.NoError(t, err)
	assert.Error(t, ValidateAndDefaults(conf))

	conf, err = Parse([]byte(fmt.Sprintf(
		`{"timeZone": "Nowhere/Else", "collection": {"name": "ok", "dataDir": %q}}`, dataDir)), false)
	require.NoError(t, err)
	assert.Error(t, ValidateAndDefaults(conf))
}

func TestLoadConfigFromFile(t *testing.T) {
	dataDir := t.TempDir()
	path := filepath.Join(dataDir, "conf.yml")
	require.NoError(t, os.WriteFile(
		path,
		[]byte(fmt.Sprintf("collection:\n  name: koond\n  dataDir: %s\n", dataDir)),
		0644,
	))
	conf := LoadConfig(path)
	assert.Equal(t, "koond", conf.Collection.Name)
	assert.Equal(t, path, conf.GetSourcePath())
}
