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

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"estcorp/db"
	"estcorp/rdb"

	"github.com/czcorpus/cnc-gokit/datetime"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrRegistryNotConfigured = errors.New("shard registry not configured")

type ShardLister interface {
	ListShards(ctx context.Context, collection string) ([]rdb.ShardInfo, error)
}

type collectionInfo struct {
	*db.CollectionRecord
	Stats *db.CollectionStats `json:"stats"`
}

type Actions struct {
	backend  *db.Backend
	shards   ShardLister
	location *time.Location
}

func (a *Actions) Collections(ctx *gin.Context) {
	recs, err := a.backend.ListCollections(ctx.Request.Context())
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, map[string]any{"collections": recs})
}

func (a *Actions) respondDBError(ctx *gin.Context, err error) {
	if errors.Is(err, db.ErrCollectionNotFound) || errors.Is(err, db.ErrDocumentNotFound) {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("path", ctx.Request.URL.Path).Msg("failed to process request")
	uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
}

func (a *Actions) Collection(ctx *gin.Context) {
	rec, err := a.backend.GetCollection(ctx.Request.Context(), ctx.Param("name"))
	if err != nil {
		a.respondDBError(ctx, err)
		return
	}
	stats, err := a.backend.GetCollectionStats(ctx.Request.Context(), rec)
	if err != nil {
		a.respondDBError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, collectionInfo{CollectionRecord: rec, Stats: stats})
}

func (a *Actions) Document(ctx *gin.Context) {
	textID, err := strconv.Atoi(ctx.Param("textId"))
	if err != nil || textID < 0 {
		uniresp.RespondWithErrorJSON(
			ctx, fmt.Errorf("invalid text id `%s`", ctx.Param("textId")), http.StatusBadRequest)
		return
	}
	if _, err := a.backend.GetCollection(ctx.Request.Context(), ctx.Param("name")); err != nil {
		a.respondDBError(ctx, err)
		return
	}
	doc, err := a.backend.LoadDocument(ctx.Request.Context(), ctx.Param("name"), textID)
	if err != nil {
		a.respondDBError(ctx, err)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, doc)
}

func (a *Actions) Shards(ctx *gin.Context) {
	if a.shards == nil {
		uniresp.RespondWithErrorJSON(ctx, ErrRegistryNotConfigured, http.StatusServiceUnavailable)
		return
	}
	var ago time.Duration
	if v := ctx.Query("ago"); v != "" {
		var err error
		ago, err = datetime.ParseDuration(v)
		if err != nil {
			uniresp.RespondWithErrorJSON(ctx, err, http.StatusUnprocessableEntity)
			return
		}
	}
	items, err := a.shards.ListShards(ctx.Request.Context(), ctx.Param("name"))
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	items = rdb.FilterRecent(items, ago, time.Now().In(a.location))
	uniresp.WriteJSONResponse(ctx.Writer, map[string]any{"shards": items})
}

// NewActions creates handlers of the collection API. The `shards`
// argument may be nil in case Redis is not configured.
func NewActions(backend *db.Backend, shards ShardLister, location *time.Location) *Actions {
	return &Actions{
		backend:  backend,
		shards:   shards,
		location: location,
	}
}
