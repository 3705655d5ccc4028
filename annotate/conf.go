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
	"fmt"
	"time"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

const (
	dfltTimeoutSecs = 600
)

// TaggerConf describes an external annotation program.
//
// The program gets a document JSON on its standard input and it is
// expected to write a JSON array of new layers to its standard output.
type TaggerConf struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`

	// InputSuffix selects a previously annotated variant
	// of documents as the input
	InputSuffix  string `json:"inputSuffix"`
	OutputSuffix string `json:"outputSuffix"`

	// InputLayers limits layers sent to the tagger (empty = all)
	InputLayers []string `json:"inputLayers"`

	// Layers lists layers the tagger must produce
	Layers []string `json:"layers"`

	// RemoveLayers are dropped from the annotated document
	RemoveLayers []string `json:"removeLayers"`

	TimeoutSecs int `json:"timeoutSecs"`
}

func (conf *TaggerConf) Timeout() time.Duration {
	return time.Duration(conf.TimeoutSecs) * time.Second
}

func (conf *TaggerConf) ValidateAndDefaults(confContext string) error {
	if conf.Name == "" {
		return fmt.Errorf("missing %s.name", confContext)
	}
	if conf.Command == "" {
		return fmt.Errorf("missing %s.command", confContext)
	}
	if conf.OutputSuffix == "" {
		conf.OutputSuffix = "_" + conf.Name
		log.Warn().
			Str("outputSuffix", conf.OutputSuffix).
			Msgf("%s.outputSuffix not specified, using default", confContext)
	}
	if conf.OutputSuffix == conf.InputSuffix {
		return fmt.Errorf("%s.outputSuffix must differ from %s.inputSuffix", confContext, confContext)
	}
	if len(conf.Layers) == 0 {
		return fmt.Errorf("%s.layers must list at least one produced layer", confContext)
	}
	if conf.TimeoutSecs == 0 {
		conf.TimeoutSecs = dfltTimeoutSecs
		log.Warn().
			Int("timeoutSecs", conf.TimeoutSecs).
			Msgf("%s.timeoutSecs not specified, using default", confContext)
	}
	if conf.TimeoutSecs < 0 {
		return fmt.Errorf("invalid %s.timeoutSecs", confContext)
	}
	if !fs.PathExists(conf.Command) {
		log.Warn().
			Str("command", conf.Command).
			Msgf("%s.command is not a file, it will be searched in PATH", confContext)
	}
	return nil
}

type Conf struct {
	Taggers []*TaggerConf `json:"taggers"`
}

// Tagger returns a tagger configuration by its name
func (conf *Conf) Tagger(name string) (*TaggerConf, error) {
	if conf == nil {
		return nil, fmt.Errorf("no taggers configured")
	}
	for _, t := range conf.Taggers {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tagger `%s` not configured", name)
}

func (conf *Conf) ValidateAndDefaults(confContext string) error {
	if conf == nil {
		return nil
	}
	names := make(map[string]bool)
	for i, t := range conf.Taggers {
		if err := t.ValidateAndDefaults(fmt.Sprintf("%s.taggers[%d]", confContext, i)); err != nil {
			return err
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate tagger name `%s` in %s", t.Name, confContext)
		}
		names[t.Name] = true
	}
	return nil
}
