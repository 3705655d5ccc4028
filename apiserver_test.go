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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"estcorp/cnf"
	"estcorp/collection"
	"estcorp/db"
	"estcorp/engine"
	"estcorp/monitoring"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *gin.Engine {
	dbConf := &engine.DBConf{
		Driver: engine.DriverSQLite,
		Name:   filepath.Join(t.TempDir(), "srv.db"),
	}
	require.NoError(t, dbConf.ValidateAndDefaults("db"))
	sqlDB, err := engine.Open(context.Background(), dbConf)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	conf := &cnf.Conf{
		LogLevel:   "debug",
		TimeZone:   "UTC",
		Collection: &collection.Conf{Name: "koond"},
		Server:     cnf.ServerConf{CorsAllowedOrigins: []string{"https://korpus.example.ee"}},
	}
	logger := monitoring.NewRunLogger(nil)
	logger.Log(monitoring.RunLog{RunID: "x", Command: "import", Docs: 3})
	return newRouter(
		conf,
		VersionInfo{Version: "1.0.0"},
		db.NewBackend(sqlDB, engine.NewDialect(dbConf)),
		nil,
		logger,
	)
}

func serve(router *gin.Engine, method, url string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestServerInfo(t *testing.T) {
	w := serve(testRouter(t), http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ans map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &ans))
	assert.Equal(t, "ESTCORP", ans["name"])
	assert.Equal(t, "koond", ans["collection"])
	assert.Equal(t, false, ans["registry"])
	assert.Equal(t, "1.0.0", ans["version"].(map[string]any)["version"])
}

func TestRoutes(t *testing.T) {
	router := testRouter(t)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/collections", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/collections/koond", nil).Code)
	assert.Equal(
		t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/collections/koond/shards", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/monitoring/load/import", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/monitoring/load/diff", nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/monitoring/load?span=week", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/nothing", nil).Code)
}

func TestCORS(t *testing.T) {
	router := testRouter(t)
	w := serve(router, http.MethodGet, "/", map[string]string{"Origin": "https://korpus.example.ee"})
	assert.Equal(t, "https://korpus.example.ee", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodGet, "/", map[string]string{"Origin": "https://other.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodOptions, "/collections", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestVersionAndRunID(t *testing.T) {
	assert.Equal(t, "1.2.3", cleanVersionInfo("'v1.2.3'"))
	t.Setenv("ESTCORP_RUN_ID", "nightly-7")
	assert.Equal(t, "nightly-7", getRunID())
	t.Setenv("ESTCORP_RUN_ID", "")
	assert.Len(t, getRunID(), 36)
}
