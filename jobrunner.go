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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"estcorp/db"
	"estcorp/engine"
	"estcorp/merror"
	"estcorp/monitoring"
	"estcorp/rdb"

	"github.com/rs/zerolog/log"
)

const (
	exitFailure      = 1
	exitInvalidInput = 2
	exitInterrupted  = 130
)

// job is a single run of a batch command
type job struct {
	args       *cmdArgs
	command    string
	collection string
	lease      *rdb.Lease
	backend    *db.Backend
}

// progress is called by long running commands from time to time
func (j *job) progress(ctx context.Context, docs, lastTextID int) {
	log.Info().
		Str("command", j.command).
		Int("docs", docs).
		Int("lastTextId", lastTextID).
		Msg("progress")
	if j.lease != nil {
		j.lease.ReportProgress(ctx, docs, lastTextID)
	}
}

// openBackend connects the database configured in the `db` section.
// The connection is closed by runJob.
func (j *job) openBackend(ctx context.Context) (*db.Backend, error) {
	if j.backend != nil {
		return j.backend, nil
	}
	if j.args.conf.DB == nil {
		return nil, merror.NewInputError("command %s requires the `db` configuration section", j.command)
	}
	sqlDB, err := engine.Open(ctx, j.args.conf.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}
	j.backend = db.NewBackend(sqlDB, engine.NewDialect(j.args.conf.DB))
	return j.backend, nil
}

// exitCode maps a job result to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case merror.IsInputError(err):
		return exitInvalidInput
	default:
		return exitFailure
	}
}

func newStatusWriter(ctx context.Context, args *cmdArgs) (monitoring.StatusWriter, []service) {
	if args.conf.Monitoring == nil {
		return &monitoring.NullStatusWriter{}, []service{}
	}
	tsWriter, err := monitoring.NewTimescaleDBWriter(
		ctx, args.conf.Monitoring.DB, args.conf.TimezoneLocation())
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize TimescaleDB writer, run statistics will not be stored")
		return &monitoring.NullStatusWriter{}, []service{}
	}
	return tsWriter, []service{tsWriter}
}

func stopServices(services []service) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range services {
		wg.Add(1)
		go func(srv service) {
			defer wg.Done()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Type("service", srv).Msg("Error shutting down service")
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timed out")
	}
}

// runJob runs a batch command. If Redis is configured, the processed
// shard is registered first so that no other process can work on an
// overlapping shard of the same collection. The function fn returns
// the number of processed documents. Any error terminates the process
// with a non-zero exit code.
func runJob(args *cmdArgs, command string, fn func(ctx context.Context, j *job) (int, error)) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j := &job{
		args:       args,
		command:    command,
		collection: args.conf.Collection.Name,
	}

	statusWriter, services := newStatusWriter(ctx, args)
	runLogger := monitoring.NewRunLogger(statusWriter)
	services = append(services, runLogger)
	for _, s := range services {
		s.Start(ctx)
	}

	var registry *rdb.Registry
	if args.conf.Redis != nil {
		registry = rdb.NewRegistry(args.conf.Redis)
		defer registry.Close()
		if err := registry.TestConnection(ctx, redisConnectionTestTimeout); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		lease, err := registry.Register(ctx, j.collection, command, args.runID, args.block)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to register shard")
		}
		j.lease = lease
	}

	log.Info().
		Str("command", command).
		Str("collection", j.collection).
		Str("block", args.block.String()).
		Msg("starting job")
	begin := time.Now()
	docs, err := runSafely(ctx, j, fn)

	cleanupCtx := context.WithoutCancel(ctx)
	if j.lease != nil {
		if uerr := j.lease.Unregister(cleanupCtx, err); uerr != nil {
			log.Error().Err(uerr).Msg("failed to unregister shard")
		}
	}
	if j.backend != nil {
		j.backend.DB().Close()
	}
	runLogger.Log(monitoring.RunLog{
		RunID:      args.runID,
		Command:    command,
		Collection: j.collection,
		Block:      args.block.String(),
		Docs:       docs,
		Begin:      begin,
		End:        time.Now(),
		Err:        err,
	})
	stop()
	stopServices(services)

	switch code := exitCode(err); code {
	case 0:
		return
	case exitInterrupted:
		log.Error().Msg("job interrupted")
		os.Exit(code)
	case exitInvalidInput:
		log.Error().Err(err).Str("command", command).Msg("job rejected invalid input")
		os.Exit(code)
	default:
		log.Error().Err(err).Str("command", command).Msg("job failed")
		os.Exit(code)
	}
}

func runSafely(ctx context.Context, j *job, fn func(ctx context.Context, j *job) (int, error)) (docs int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = merror.PanicValueToErr(r)
			log.Error().Err(err).Msg("job panicked")
		}
	}()
	return fn(ctx, j)
}
