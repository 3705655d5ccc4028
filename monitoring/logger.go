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
	"errors"
	"sync"
	"time"

	"estcorp/rdb"

	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog/log"
)

const (
	StaleLoadTTL    = time.Hour * 24 * 7
	cleanupInterval = time.Hour
	recentLogSize   = 100
)

var (
	ErrCommandNotFound = errors.New("command not found")
)

// RunLogger keeps aggregated statistics of finished runs along with
// a limited list of the most recent ones. Each record is also passed
// to a StatusWriter.
type RunLogger struct {
	loadData     CommandsLoad
	dataLock     sync.RWMutex
	recentLog    *collections.CircularList[RunLog]
	statusWriter StatusWriter
}

func (w *RunLogger) Log(rec RunLog) {
	w.dataLock.Lock()
	w.loadData[rec.Command] = w.loadData[rec.Command].add(rec)
	w.recentLog.Append(rec)
	w.dataLock.Unlock()
	w.statusWriter.Write(rec)
	evt := log.Info()
	if rec.Err != nil {
		evt = log.Warn().Err(rec.Err)
	}
	evt.
		Str("runId", rec.RunID).
		Str("command", rec.Command).
		Str("collection", rec.Collection).
		Str("block", rec.Block).
		Int("docs", rec.Docs).
		Float64("durationSecs", rec.TimeSpent().Seconds()).
		Msg("run finished")
}

func (w *RunLogger) TotalLoad() CommandLoad {
	w.dataLock.RLock()
	defer w.dataLock.RUnlock()
	return w.loadData.SumLoad()
}

func (w *RunLogger) CommandLoad(command string) (CommandLoad, error) {
	w.dataLock.RLock()
	defer w.dataLock.RUnlock()
	ans, ok := w.loadData[command]
	if !ok {
		return ans, ErrCommandNotFound
	}
	return ans, nil
}

func (w *RunLogger) RecentLoad() CommandLoad {
	w.dataLock.RLock()
	defer w.dataLock.RUnlock()
	var ans CommandLoad
	w.recentLog.ForEach(func(i int, item RunLog) bool {
		ans = ans.add(item)
		return true
	})
	return ans
}

func (w *RunLogger) RecentRecords() []RunLog {
	w.dataLock.RLock()
	defer w.dataLock.RUnlock()
	ans := make([]RunLog, w.recentLog.Len())
	w.recentLog.ForEach(func(i int, item RunLog) bool {
		ans[i] = item
		return true
	})
	return ans
}

// Follow logs final progress messages of shard workers running
// elsewhere. It returns once the channel is closed.
func (w *RunLogger) Follow(msgs <-chan rdb.ShardInfo) {
	for msg := range msgs {
		if msg.Finished {
			w.Log(RunLogFromShard(msg))
		}
	}
}

func (w *RunLogger) Start(ctx context.Context) {
	log.Info().Msg("starting run logger")
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("requesting run logger stop")
				return
			case t := <-ticker.C:
				w.dataLock.Lock()
				w.loadData.cleanOldRecords(t)
				w.dataLock.Unlock()
			}
		}
	}()
}

func (w *RunLogger) Stop(ctx context.Context) error {
	log.Info().Msg("shutting down run logger")
	return nil
}

func NewRunLogger(statusWriter StatusWriter) *RunLogger {
	if statusWriter == nil {
		statusWriter = &NullStatusWriter{}
	}
	return &RunLogger{
		loadData:     make(CommandsLoad),
		recentLog:    collections.NewCircularList[RunLog](recentLogSize),
		statusWriter: statusWriter,
	}
}
