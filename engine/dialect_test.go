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

package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexNameShort(t *testing.T) {
	assert.Equal(t, "idx_koond__metadata__text_id", IndexName("koond__metadata", "text_id"))
}

func TestIndexNameLong(t *testing.T) {
	table1 := "koondkorpus_ajalehed_ja_ajakirjad_2024__morph_analysis_extended__layer"
	table2 := "koondkorpus_ajalehed_ja_ajakirjad_2024__morph_analysis_extended2__layer"
	name1 := IndexName(table1, "text_id")
	name2 := IndexName(table2, "text_id")
	assert.LessOrEqual(t, len(name1), maxIdentifierLength)
	assert.LessOrEqual(t, len(name2), maxIdentifierLength)
	assert.True(t, strings.HasPrefix(name1, "idx_koondkorpus_"))
	assert.NotEqual(t, name1, name2)
	assert.Equal(t, name1, IndexName(table1, "text_id"))
}

func TestCreateIndexUsesShortName(t *testing.T) {
	d := NewDialect(&DBConf{Driver: DriverPostgres, Schema: "public"})
	table := strings.Repeat("t", 80)
	stmt := d.CreateIndex(table, "text_id")
	assert.Contains(t, stmt, d.Quote(IndexName(table, "text_id")))
	assert.NotContains(t, stmt, "idx_"+table)
}
