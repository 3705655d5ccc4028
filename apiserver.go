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
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"estcorp/cnf"
	"estcorp/db"
	dbActions "estcorp/db/handlers"
	"estcorp/engine"
	"estcorp/monitoring"
	monitoringActions "estcorp/monitoring/handlers"
	"estcorp/rdb"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func getRequestOrigin(ctx *gin.Context) string {
	currOrigin, ok := ctx.Request.Header["Origin"]
	if ok {
		return currOrigin[0]
	}
	return ""
}

func additionalLogEvents() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		logging.AddLogEvent(ctx, "userAgent", ctx.Request.UserAgent())
		logging.AddLogEvent(ctx, "collection", ctx.Param("name"))
		ctx.Next()
	}
}

func CORSMiddleware(conf *cnf.Conf) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var allowedOrigin string
		currOrigin := getRequestOrigin(ctx)
		for _, origin := range conf.Server.CorsAllowedOrigins {
			if currOrigin == origin {
				allowedOrigin = origin
				break
			}
		}
		if allowedOrigin != "" {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			ctx.Writer.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With",
			)
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(204)
			return
		}
		ctx.Next()
	}
}

func mkServerInfo(conf *cnf.Conf, ver VersionInfo) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		uniresp.WriteJSONResponse(
			ctx.Writer,
			map[string]any{
				"name":       "ESTCORP",
				"version":    ver,
				"collection": conf.Collection.Name,
				"registry":   conf.Redis != nil,
			},
		)
	}
}

func newRouter(
	conf *cnf.Conf,
	ver VersionInfo,
	backend *db.Backend,
	shards dbActions.ShardLister,
	runLogger *monitoring.RunLogger,
) *gin.Engine {
	if !conf.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(additionalLogEvents())
	engine.Use(logging.GinMiddleware())
	engine.Use(uniresp.AlwaysJSONContentType())
	engine.Use(CORSMiddleware(conf))
	engine.NoMethod(uniresp.NoMethodHandler)
	engine.NoRoute(uniresp.NotFoundHandler)

	engine.GET("/", mkServerInfo(conf, ver))

	collActions := dbActions.NewActions(backend, shards, conf.TimezoneLocation())
	engine.GET(
		"/collections", collActions.Collections)
	engine.GET(
		"/collections/:name", collActions.Collection)
	engine.GET(
		"/collections/:name/docs/:textId", collActions.Document)
	engine.GET(
		"/collections/:name/shards", collActions.Shards)

	monActions := monitoringActions.NewActions(runLogger)
	engine.GET(
		"/monitoring/runs", monActions.RecentRecords)
	engine.GET(
		"/monitoring/load", monActions.RunsLoad)
	engine.GET(
		"/monitoring/load/:command", monActions.CommandLoad)

	return engine
}

type apiServer struct {
	server  *http.Server
	conf    *cnf.Conf
	handler http.Handler
}

func (api *apiServer) Start(ctx context.Context) {
	log.Info().Msgf(
		"starting to listen at %s:%d", api.conf.Server.ListenAddress, api.conf.Server.ListenPort)
	api.server = &http.Server{
		Handler:      api.handler,
		Addr:         fmt.Sprintf("%s:%d", api.conf.Server.ListenAddress, api.conf.Server.ListenPort),
		WriteTimeout: time.Duration(api.conf.Server.ServerWriteTimeoutSecs) * time.Second,
		ReadTimeout:  time.Duration(api.conf.Server.ServerReadTimeoutSecs) * time.Second,
	}
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
}

func (api *apiServer) Stop(ctx context.Context) error {
	log.Warn().Msg("shutting down ESTCORP HTTP API server")
	return api.server.Shutdown(ctx)
}

func runApiServer(args *cmdArgs, ver VersionInfo) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args.conf.DB == nil {
		log.Fatal().Msg("the `db` configuration section is required")
	}
	sqlDB, err := engine.Open(ctx, args.conf.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to the database")
	}
	defer sqlDB.Close()
	backend := db.NewBackend(sqlDB, engine.NewDialect(args.conf.DB))

	statusWriter, services := newStatusWriter(ctx, args)
	runLogger := monitoring.NewRunLogger(statusWriter)
	services = append(services, runLogger)

	var shards dbActions.ShardLister
	if args.conf.Redis != nil {
		registry := rdb.NewRegistry(args.conf.Redis)
		defer registry.Close()
		if err := registry.TestConnection(ctx, redisConnectionTestTimeout); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		shards = registry
		go runLogger.Follow(registry.Subscribe(ctx))

	} else {
		log.Warn().Msg("Redis not configured, shard registry endpoints will be disabled")
	}

	server := &apiServer{
		conf:    args.conf,
		handler: newRouter(args.conf, ver, backend, shards, runLogger),
	}
	services = append(services, server)
	for _, m := range services {
		m.Start(ctx)
	}
	<-ctx.Done()
	log.Warn().Msg("shutdown signal received")
	stopServices(services)
}

func serveCmd(ver VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <config>",
		Short: "Run a read-only HTTP API with imported collections and running shards",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runApiServer(setup(args), ver)
		},
	}
}
