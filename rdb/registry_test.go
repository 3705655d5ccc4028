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

package rdb

import (
	"testing"
	"time"

	"estcorp/shard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindConflict(t *testing.T) {
	running := []ShardInfo{
		{RunID: "a", Command: "import", Block: &shard.Block{Divisor: 4, Remainder: 1}},
		{RunID: "b", Command: "annotate", Block: nil},
	}
	// 2,1 shares odd ids with 4,1
	c := findConflict(running, "x", "import", &shard.Block{Divisor: 2, Remainder: 1})
	require.NotNil(t, c)
	assert.Equal(t, "a", c.RunID)

	assert.Nil(t, findConflict(running, "x", "import", &shard.Block{Divisor: 2, Remainder: 0}))
	assert.Nil(t, findConflict(running, "a", "import", &shard.Block{Divisor: 4, Remainder: 1}))

	c = findConflict(running, "x", "annotate", &shard.Block{Divisor: 3, Remainder: 2})
	require.NotNil(t, c)
	assert.Equal(t, "b", c.RunID)
}

func TestFilterRecent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []ShardInfo{
		{RunID: "old", Heartbeat: now.Add(-time.Hour)},
		{RunID: "new", Heartbeat: now.Add(-time.Minute)},
	}
	ans := FilterRecent(items, 10*time.Minute, now)
	require.Len(t, ans, 1)
	assert.Equal(t, "new", ans[0].RunID)
	assert.Len(t, FilterRecent(items, 0, now), 2)
}

func TestConfDefaults(t *testing.T) {
	conf := &Conf{Host: "localhost"}
	require.NoError(t, conf.ValidateAndDefaults("redis"))
	assert.Equal(t, 6379, conf.Port)
	assert.Equal(t, "estcorp", conf.KeyPrefix)
	assert.Equal(t, 60, conf.LeaseTTLSecs)

	assert.Error(t, (&Conf{}).ValidateAndDefaults("redis"))
	assert.Error(t, (&Conf{Host: "localhost", LeaseTTLSecs: 1}).ValidateAndDefaults("redis"))

	var nilConf *Conf
	assert.NoError(t, nilConf.ValidateAndDefaults("redis"))
}

func TestKeys(t *testing.T) {
	r := NewRegistry(&Conf{Host: "localhost", Port: 6379, KeyPrefix: "ec", LeaseTTLSecs: 30})
	defer r.Close()
	assert.Equal(t, "ec:shard:coll:run1", r.shardKey("coll", "run1"))
	assert.Equal(t, "ec:lock:coll", r.lockKey("coll"))
	assert.Equal(t, "ec:progress:coll", r.channel("coll"))
	assert.Equal(t, 30*time.Second, r.leaseTTL)
}
