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

// Package annotate runs external annotation programs (taggers) over
// JSON documents of a collection.
package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"estcorp/document"
	"estcorp/merror"

	"github.com/czcorpus/cnc-gokit/collections"
)

const (
	maxStderrInError = 2000
)

// Tagger wraps an external program producing new document layers
type Tagger struct {
	conf *TaggerConf
}

func (t *Tagger) Conf() *TaggerConf {
	return t.conf
}

func (t *Tagger) inputDocument(doc *document.Document) *document.Document {
	if len(t.conf.InputLayers) == 0 {
		return doc
	}
	ans := &document.Document{Text: doc.Text, Meta: doc.Meta, Layers: make([]*document.Layer, 0, len(t.conf.InputLayers))}
	for _, l := range doc.Layers {
		if collections.SliceContains(t.conf.InputLayers, l.Name) {
			ans.Layers = append(ans.Layers, l)
		}
	}
	return ans
}

func shortStderr(buff *bytes.Buffer) string {
	s := strings.TrimSpace(buff.String())
	if len(s) > maxStderrInError {
		return s[len(s)-maxStderrInError:]
	}
	return s
}

// Tag runs the tagger and returns layers it produced. All the layers
// listed in the tagger configuration must be present.
func (t *Tagger) Tag(ctx context.Context, doc *document.Document) ([]*document.Layer, error) {
	input, err := document.Marshal(t.inputDocument(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to encode tagger input: %w", err)
	}
	tctx := ctx
	if t.conf.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, t.conf.Timeout())
		defer cancel()
	}
	cmd := exec.CommandContext(tctx, t.conf.Command, t.conf.Args...)
	cmd.Env = os.Environ()
	cmd.WaitDelay = 2 * time.Second
	var stdOut, errOut bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdOut
	cmd.Stderr = &errOut
	err = cmd.Run()
	if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, merror.TimeoutError{
			Msg: fmt.Sprintf("tagger %s did not finish in %ds", t.conf.Name, t.conf.TimeoutSecs),
		}
	}
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, fmt.Errorf(
			"tagger %s failed (exit code %d): %w: %s", t.conf.Name, code, err, shortStderr(&errOut))
	}
	layers, err := document.UnmarshalLayers(stdOut.Bytes())
	if err != nil {
		return nil, fmt.Errorf("tagger %s produced invalid output: %w", t.conf.Name, err)
	}
	for _, expected := range t.conf.Layers {
		var found bool
		for _, l := range layers {
			if l.Name == expected {
				found = true
				break
			}
		}
		if !found {
			return nil, merror.NewInputError("tagger %s did not produce layer %s", t.conf.Name, expected)
		}
	}
	for _, l := range layers {
		if l.Spans == nil {
			l.Spans = []document.Span{}
		}
		if l.Attributes == nil {
			l.Attributes = []string{}
		}
	}
	return layers, nil
}

// Apply adds tagger output layers to the document (replacing
// layers of the same name) and removes layers configured for removal.
func (t *Tagger) Apply(doc *document.Document, layers []*document.Layer) error {
	for _, l := range layers {
		doc.SetLayer(l)
	}
	if len(t.conf.RemoveLayers) > 0 {
		kept := make([]*document.Layer, 0, len(doc.Layers))
		for _, l := range doc.Layers {
			if !collections.SliceContains(t.conf.RemoveLayers, l.Name) {
				kept = append(kept, l)
			}
		}
		doc.Layers = kept
	}
	if err := doc.Validate(); err != nil {
		return merror.NewInputError("tagger %s produced inconsistent document: %s", t.conf.Name, err)
	}
	return nil
}

func NewTagger(conf *TaggerConf) *Tagger {
	return &Tagger{conf: conf}
}
