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

package monitoring

import (
	"context"
	"time"

	"github.com/czcorpus/hltscl"
	"github.com/rs/zerolog/log"
)

/*
Expected table:

create table estcorp_run_stats (
  "time" timestamp with time zone NOT NULL,
  command text,
  collection text,
  block text,
  num_docs int,
  num_errors int,
  duration_secs float
);
select create_hypertable('estcorp_run_stats', 'time');

*/

const runStatsTable = "estcorp_run_stats"

type TimescaleDBWriter struct {
	tableWriter *hltscl.TableWriter
	dataCh      chan<- hltscl.Entry
	errCh       <-chan hltscl.WriteError
	location    *time.Location
}

func (sw *TimescaleDBWriter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("about to close StatusWriter")
				return
			case err := <-sw.errCh:
				log.Error().
					Err(err.Err).
					Str("entry", err.Entry.String()).
					Str("table", runStatsTable).
					Msg("error writing data to TimescaleDB")
			}
		}
	}()
}

func (sw *TimescaleDBWriter) Stop(ctx context.Context) error {
	log.Warn().Msg("stopping StatusWriter")
	return nil
}

func (sw *TimescaleDBWriter) Write(item RunLog) {
	var numErr int
	if item.Err != nil {
		numErr++
	}
	sw.dataCh <- *sw.tableWriter.NewEntry(item.End.In(sw.location)).
		Str("command", item.Command).
		Str("collection", item.Collection).
		Str("block", item.Block).
		Int("num_docs", item.Docs).
		Int("num_errors", numErr).
		Float("duration_secs", item.TimeSpent().Seconds())
}

func NewTimescaleDBWriter(
	ctx context.Context,
	conf hltscl.PgConf,
	tz *time.Location,
) (*TimescaleDBWriter, error) {

	conn, err := hltscl.CreatePool(conf)
	if err != nil {
		return nil, err
	}
	twriter := hltscl.NewTableWriter(conn, runStatsTable, "time", tz)
	dataCh, errCh := twriter.Activate(
		ctx,
		hltscl.WithTimeout(20*time.Second),
	)
	return &TimescaleDBWriter{
		tableWriter: twriter,
		dataCh:      dataCh,
		errCh:       errCh,
		location:    tz,
	}, nil
}
