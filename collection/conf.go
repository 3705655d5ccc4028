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
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

const (
	FormatVert    = "vert"
	FormatPrevert = "prevert"
	FormatTEI     = "tei"

	DfltMaxDocsPerGroup        = 30000
	DfltMaxTextSize            = 5000000
	DfltMaxLayerSize           = 175000000
	DfltMaxSentenceLength      = 1000
	DfltInsertBufferSize       = 10000
	DfltInsertQueryLengthLimit = 5000000
)

var (
	collNameRegexp    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	DfltMorphColumns  = []string{"lemma", "partofspeech", "form"}
	supportedFormats  = []string{FormatVert, FormatPrevert, FormatTEI}
	reservedMetaNames = []string{"id", "text_id", "initial_id"}
)

// Conf describes a single collection: where its sources are,
// how they are converted to JSON files and how they are imported
// into a database.
type Conf struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DataDir     string   `json:"dataDir"`
	Format      string   `json:"sourceFormat"`
	SourceFiles []string `json:"sourceFiles"`

	// Src is stored as the `src` metadata field of documents
	// missing it
	Src string `json:"src"`

	MaxDocsPerGroup   int      `json:"maxDocsPerGroup"`
	AddSentenceHashes bool     `json:"addSentenceHashes"`
	CollectMetaFields bool     `json:"collectMetaFields"`
	FocusDocIDs       []string `json:"focusDocIds"`
	MaxTextSize       int      `json:"maxTextSize"`
	MaxLayerSize      int      `json:"maxLayerSize"`
	MaxSentenceLength int      `json:"maxSentenceLength"`
	MorphColumns      []string `json:"morphColumns"`

	AddVertIndexingInfo     bool              `json:"addVertIndexingInfo"`
	RemoveInitialID         bool              `json:"removeInitialId"`
	RemoveSentencesHashAttr bool              `json:"removeSentencesHashAttr"`
	LayerRenamingMap        map[string]string `json:"layerRenamingMap"`
	MetadataDescription     string            `json:"metadataDescription"`

	InsertBufferSize       int `json:"insertBufferSize"`
	InsertQueryLengthLimit int `json:"insertQueryLengthLimit"`
}

// CollDir is the root directory of the collection JSON files
func (conf *Conf) CollDir() string {
	return filepath.Join(conf.DataDir, conf.Name)
}

// RenamedLayer returns a layer name as it should appear in the database
func (conf *Conf) RenamedLayer(name string) string {
	if v, ok := conf.LayerRenamingMap[name]; ok {
		return v
	}
	return name
}

func IsReservedMetaName(name string) bool {
	for _, v := range reservedMetaNames {
		if v == name {
			return true
		}
	}
	return false
}

func (conf *Conf) ValidateAndDefaults(confContext string) error {
	if conf == nil {
		return fmt.Errorf("missing configuration section `%s`", confContext)
	}
	if !collNameRegexp.MatchString(conf.Name) {
		return fmt.Errorf(
			"invalid %s.name `%s` (letters, digits and underscore are allowed)", confContext, conf.Name)
	}
	if conf.DataDir == "" {
		return fmt.Errorf("missing %s.dataDir", confContext)
	}
	isDir, err := fs.IsDir(conf.DataDir)
	if err != nil {
		return fmt.Errorf("failed to validate %s.dataDir: %w", confContext, err)
	}
	if !isDir {
		return fmt.Errorf("%s.dataDir %s is not a directory", confContext, conf.DataDir)
	}
	if conf.Format == "" {
		conf.Format = FormatVert
		log.Warn().
			Str("format", conf.Format).
			Msgf("%s.sourceFormat not specified, using default", confContext)
	}
	var formatOK bool
	for _, f := range supportedFormats {
		if f == conf.Format {
			formatOK = true
			break
		}
	}
	if !formatOK {
		return fmt.Errorf("unsupported %s.sourceFormat `%s`", confContext, conf.Format)
	}
	if len(conf.SourceFiles) == 0 {
		log.Warn().Msgf("no %s.sourceFiles specified, only JSON based operations will be available", confContext)
	}
	stems := make(map[string]string)
	for _, src := range conf.SourceFiles {
		stem := SourceStem(src)
		if prev, ok := stems[stem]; ok {
			return fmt.Errorf(
				"%s.sourceFiles %s and %s map to the same directory %s", confContext, prev, src, stem)
		}
		stems[stem] = src
	}
	if conf.MaxDocsPerGroup <= 0 {
		conf.MaxDocsPerGroup = DfltMaxDocsPerGroup
		log.Warn().
			Int("value", conf.MaxDocsPerGroup).
			Msgf("%s.maxDocsPerGroup not specified, using default", confContext)
	}
	if conf.MaxTextSize <= 0 {
		conf.MaxTextSize = DfltMaxTextSize
	}
	if conf.MaxLayerSize <= 0 {
		conf.MaxLayerSize = DfltMaxLayerSize
	}
	if conf.MaxSentenceLength <= 0 {
		conf.MaxSentenceLength = DfltMaxSentenceLength
	}
	if len(conf.MorphColumns) == 0 {
		conf.MorphColumns = DfltMorphColumns
		log.Warn().
			Strs("columns", conf.MorphColumns).
			Msgf("%s.morphColumns not specified, using default", confContext)
	}
	if conf.InsertBufferSize <= 0 {
		conf.InsertBufferSize = DfltInsertBufferSize
	}
	if conf.InsertQueryLengthLimit <= 0 {
		conf.InsertQueryLengthLimit = DfltInsertQueryLengthLimit
	}
	for from, to := range conf.LayerRenamingMap {
		if !collNameRegexp.MatchString(to) {
			return fmt.Errorf("invalid %s.layerRenamingMap target name `%s` for %s", confContext, to, from)
		}
	}
	return nil
}
