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

package dbimport

import (
	"context"

	"estcorp/db"

	"github.com/rs/zerolog/log"
)

// CheckReport summarizes consistency of an imported collection
type CheckReport struct {
	Collection  string              `json:"collection"`
	ImportState string              `json:"importState"`
	Stats       *db.CollectionStats `json:"stats"`
	Orphans     map[string]int      `json:"orphans"`
	Incomplete  []int               `json:"incomplete"`
}

// IsConsistent tells whether there are no orphaned rows
// and no documents with missing layers.
func (r *CheckReport) IsConsistent() bool {
	return len(r.Orphans) == 0 && len(r.Incomplete) == 0
}

// Check looks for rows whose text_id is missing in the base table
// and for texts missing some of their layer rows (typically
// after an interrupted import).
func Check(ctx context.Context, backend *db.Backend, collection string) (*CheckReport, error) {
	rec, err := backend.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	ans := &CheckReport{Collection: collection, ImportState: rec.ImportState}
	ans.Stats, err = backend.GetCollectionStats(ctx, rec)
	if err != nil {
		return nil, err
	}
	ans.Orphans, err = backend.Orphans(ctx, rec)
	if err != nil {
		return nil, err
	}
	ans.Incomplete, err = backend.IncompleteTexts(ctx, rec)
	if err != nil {
		return nil, err
	}
	for table, cnt := range ans.Orphans {
		log.Warn().
			Str("collection", collection).
			Str("table", table).
			Int("rows", cnt).
			Msg("found orphaned rows")
	}
	if len(ans.Incomplete) > 0 {
		log.Warn().
			Str("collection", collection).
			Int("texts", len(ans.Incomplete)).
			Ints("firstTextIds", ans.Incomplete[:min(10, len(ans.Incomplete))]).
			Msg("found texts with missing layers")
	}
	return ans, nil
}
