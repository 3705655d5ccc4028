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

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"estcorp/cnf"
	"estcorp/collection"
	"estcorp/engine"
	"estcorp/merror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitFailure, exitCode(errors.New("disk full")))
	assert.Equal(t, exitInvalidInput, exitCode(merror.NewInputError("bad block %s", "3,3")))
	assert.Equal(
		t,
		exitInvalidInput,
		exitCode(fmt.Errorf("import failed: %w", merror.NewInputError("missing tables"))),
	)
	assert.Equal(t, exitInterrupted, exitCode(fmt.Errorf("stopped: %w", context.Canceled)))
}

func TestOpenBackendWithoutDBConf(t *testing.T) {
	j := &job{
		args: &cmdArgs{
			conf: &cnf.Conf{Collection: &collection.Conf{Name: "koond"}},
		},
		command: "import",
	}
	b, err := j.openBackend(context.Background())
	assert.Nil(t, b)
	assert.True(t, merror.IsInputError(err))
	assert.Equal(t, exitInvalidInput, exitCode(err))
}

func TestOpenBackendReusesConnection(t *testing.T) {
	dbConf := &engine.DBConf{
		Driver: engine.DriverSQLite,
		Name:   filepath.Join(t.TempDir(), "job.db"),
	}
	require.NoError(t, dbConf.ValidateAndDefaults("db"))
	j := &job{
		args: &cmdArgs{
			conf: &cnf.Conf{DB: dbConf, Collection: &collection.Conf{Name: "koond"}},
		},
		command: "check",
	}
	b1, err := j.openBackend(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { b1.DB().Close() })
	b2, err := j.openBackend(context.Background())
	require.NoError(t, err)
	assert.Same(t, b1, b2)
}
