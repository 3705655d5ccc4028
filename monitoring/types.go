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

// Package monitoring collects statistics of finished batch runs.
package monitoring

import (
	"time"

	"estcorp/rdb"

	"github.com/bytedance/sonic"
	"github.com/czcorpus/hltscl"
)

type Conf struct {
	DB hltscl.PgConf `json:"db"`
}

// RunLog describes a finished run of a batch command (possibly
// a single shard of it).
type RunLog struct {
	RunID      string
	Command    string
	Collection string
	Block      string
	Docs       int
	Begin      time.Time
	End        time.Time
	Err        error
}

func (rl RunLog) TimeSpent() time.Duration {
	return rl.End.Sub(rl.Begin)
}

func (rl RunLog) MarshalJSON() ([]byte, error) {
	var errMsg string
	if rl.Err != nil {
		errMsg = rl.Err.Error()
	}
	return sonic.Marshal(
		struct {
			RunID      string    `json:"runId"`
			Command    string    `json:"command"`
			Collection string    `json:"collection"`
			Block      string    `json:"block"`
			Docs       int       `json:"docs"`
			Begin      time.Time `json:"begin"`
			End        time.Time `json:"end"`
			Error      string    `json:"error,omitempty"`
			TimeSpent  float64   `json:"timeSpentSecs"`
		}{
			RunID:      rl.RunID,
			Command:    rl.Command,
			Collection: rl.Collection,
			Block:      rl.Block,
			Docs:       rl.Docs,
			Begin:      rl.Begin,
			End:        rl.End,
			Error:      errMsg,
			TimeSpent:  rl.TimeSpent().Seconds(),
		},
	)
}

type runError string

func (e runError) Error() string {
	return string(e)
}

// RunLogFromShard converts a final progress message of a shard worker
func RunLogFromShard(info rdb.ShardInfo) RunLog {
	ans := RunLog{
		RunID:      info.RunID,
		Command:    info.Command,
		Collection: info.Collection,
		Block:      info.Block.String(),
		Docs:       info.Docs,
		Begin:      info.Started,
		End:        info.Heartbeat,
	}
	if info.Error != "" {
		ans.Err = runError(info.Error)
	}
	return ans
}

// ---

type CommandLoad struct {
	NumRuns       int
	NumDocs       int
	TotalTimeSecs float64
	NumErrors     int
	FirstUpdate   time.Time
	LastUpdate    time.Time
}

// TotalSpan returns time span covered by the load info
func (cl CommandLoad) TotalSpan() time.Duration {
	return cl.LastUpdate.Sub(cl.FirstUpdate)
}

// DocsPerSec is an average processing speed of the command
func (cl CommandLoad) DocsPerSec() float64 {
	if cl.TotalTimeSecs == 0 {
		return 0
	}
	return float64(cl.NumDocs) / cl.TotalTimeSecs
}

func (cl CommandLoad) add(rec RunLog) CommandLoad {
	if cl.FirstUpdate.IsZero() || rec.Begin.Before(cl.FirstUpdate) {
		cl.FirstUpdate = rec.Begin
	}
	if rec.End.After(cl.LastUpdate) {
		cl.LastUpdate = rec.End
	}
	cl.NumRuns++
	cl.NumDocs += rec.Docs
	cl.TotalTimeSecs += rec.TimeSpent().Seconds()
	if rec.Err != nil {
		cl.NumErrors++
	}
	return cl
}

func (cl CommandLoad) MarshalJSON() ([]byte, error) {
	var t0, t1 *time.Time
	if !cl.FirstUpdate.IsZero() {
		t0 = &cl.FirstUpdate
	}
	if !cl.LastUpdate.IsZero() {
		t1 = &cl.LastUpdate
	}
	return sonic.Marshal(
		struct {
			NumRuns       int        `json:"numRuns"`
			NumDocs       int        `json:"numDocs"`
			TotalTimeSecs float64    `json:"totalTimeSecs"`
			NumErrors     int        `json:"numErrors"`
			FirstUpdate   *time.Time `json:"firstUpdate,omitempty"`
			LastUpdate    *time.Time `json:"lastUpdate,omitempty"`
			DocsPerSec    float64    `json:"docsPerSec"`
		}{
			NumRuns:       cl.NumRuns,
			NumDocs:       cl.NumDocs,
			TotalTimeSecs: cl.TotalTimeSecs,
			NumErrors:     cl.NumErrors,
			FirstUpdate:   t0,
			LastUpdate:    t1,
			DocsPerSec:    cl.DocsPerSec(),
		},
	)
}

// CommandsLoad maps command names to their load
type CommandsLoad map[string]CommandLoad

func (cl CommandsLoad) SumLoad() CommandLoad {
	var ans CommandLoad
	for _, v := range cl {
		ans.NumRuns += v.NumRuns
		ans.NumDocs += v.NumDocs
		ans.TotalTimeSecs += v.TotalTimeSecs
		ans.NumErrors += v.NumErrors
		if ans.FirstUpdate.IsZero() || v.FirstUpdate.Before(ans.FirstUpdate) {
			ans.FirstUpdate = v.FirstUpdate
		}
		if v.LastUpdate.After(ans.LastUpdate) {
			ans.LastUpdate = v.LastUpdate
		}
	}
	return ans
}

func (cl CommandsLoad) cleanOldRecords(now time.Time) {
	for k, v := range cl {
		if now.Sub(v.LastUpdate) > StaleLoadTTL {
			delete(cl, k)
		}
	}
}

// ---

type StatusWriter interface {
	Write(item RunLog)
}

type NullStatusWriter struct{}

func (n *NullStatusWriter) Write(item RunLog) {}
