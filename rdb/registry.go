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

// Package rdb keeps track of running workers in Redis so that processes
// started on different machines do not work on overlapping shards
// of the same collection.
package rdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"estcorp/shard"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	lockTTL         = 10 * time.Second
	lockRetryDelay  = 200 * time.Millisecond
	maxLockAttempts = 25
	scanBatchSize   = 100
	progressChannel = "progress"
)

var (
	ErrShardConflict = errors.New("overlapping shard is already being processed")
	ErrLockTimeout   = errors.New("failed to acquire registry lock")
)

// ShardInfo describes a single running worker
type ShardInfo struct {
	RunID      string       `json:"runId"`
	Command    string       `json:"command"`
	Collection string       `json:"collection"`
	Block      *shard.Block `json:"block,omitempty"`
	Host       string       `json:"host"`
	PID        int          `json:"pid"`
	Started    time.Time    `json:"started"`
	Heartbeat  time.Time    `json:"heartbeat"`
	Docs       int          `json:"docs"`
	LastTextID int          `json:"lastTextId"`
	Finished   bool         `json:"finished,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// findConflict returns the first running shard of the same command
// selecting at least one document also selected by `block`.
func findConflict(running []ShardInfo, runID, command string, block *shard.Block) *ShardInfo {
	for i, item := range running {
		if item.RunID == runID || item.Command != command {
			continue
		}
		if shard.Overlaps(item.Block, block) {
			return &running[i]
		}
	}
	return nil
}

// FilterRecent keeps shards with a heartbeat not older than `ago`.
// Zero `ago` keeps everything.
func FilterRecent(items []ShardInfo, ago time.Duration, now time.Time) []ShardInfo {
	if ago == 0 {
		return items
	}
	ans := make([]ShardInfo, 0, len(items))
	for _, item := range items {
		if now.Sub(item.Heartbeat) <= ago {
			ans = append(ans, item)
		}
	}
	return ans
}

// Registry stores ShardInfo records as expiring Redis keys. A worker
// which dies without unregistering disappears once its lease expires.
type Registry struct {
	c         *redis.Client
	keyPrefix string
	leaseTTL  time.Duration
}

func (r *Registry) shardKey(collection, runID string) string {
	return fmt.Sprintf("%s:shard:%s:%s", r.keyPrefix, collection, runID)
}

func (r *Registry) lockKey(collection string) string {
	return fmt.Sprintf("%s:lock:%s", r.keyPrefix, collection)
}

func (r *Registry) channel(collection string) string {
	return fmt.Sprintf("%s:%s:%s", r.keyPrefix, progressChannel, collection)
}

func (r *Registry) TestConnection(ctx context.Context, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.c.Ping(tctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (r *Registry) lock(ctx context.Context, collection, runID string) error {
	for i := 0; i < maxLockAttempts; i++ {
		ok, err := r.c.SetNX(ctx, r.lockKey(collection), runID, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to lock registry: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return ErrLockTimeout
}

func (r *Registry) unlock(ctx context.Context, collection, runID string) {
	key := r.lockKey(collection)
	owner, err := r.c.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		log.Error().Err(err).Str("collection", collection).Msg("failed to read registry lock")
		return
	}
	if owner == runID {
		if err := r.c.Del(ctx, key).Err(); err != nil {
			log.Error().Err(err).Str("collection", collection).Msg("failed to release registry lock")
		}
	}
}

func (r *Registry) store(ctx context.Context, info ShardInfo) error {
	data, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to serialize shard info: %w", err)
	}
	if err := r.c.Set(ctx, r.shardKey(info.Collection, info.RunID), data, r.leaseTTL).Err(); err != nil {
		return fmt.Errorf("failed to store shard info: %w", err)
	}
	return nil
}

// ListShards returns all live shard workers of a collection ordered by start time.
func (r *Registry) ListShards(ctx context.Context, collection string) ([]ShardInfo, error) {
	ans := make([]ShardInfo, 0, 10)
	iter := r.c.Scan(ctx, 0, r.shardKey(collection, "*"), scanBatchSize).Iterator()
	for iter.Next(ctx) {
		val, err := r.c.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired meanwhile
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read shard info: %w", err)
		}
		var item ShardInfo
		if err := sonic.Unmarshal([]byte(val), &item); err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("skipping invalid shard record")
			continue
		}
		ans = append(ans, item)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}
	sort.Slice(ans, func(i, j int) bool {
		return ans[i].Started.Before(ans[j].Started)
	})
	return ans, nil
}

// Register claims a shard of a collection for a command. It fails with
// ErrShardConflict in case an overlapping shard of the same command is
// already running. The returned lease keeps itself alive until Unregister.
func (r *Registry) Register(
	ctx context.Context,
	collection, command, runID string,
	block *shard.Block,
) (*Lease, error) {
	if err := r.lock(ctx, collection, runID); err != nil {
		return nil, err
	}
	defer r.unlock(context.WithoutCancel(ctx), collection, runID)

	running, err := r.ListShards(ctx, collection)
	if err != nil {
		return nil, err
	}
	if c := findConflict(running, runID, command, block); c != nil {
		return nil, fmt.Errorf(
			"%w: shard %s of %s run by %s (host %s, pid %d)",
			ErrShardConflict, c.Block, c.Command, c.RunID, c.Host, c.PID,
		)
	}
	host, _ := os.Hostname()
	now := time.Now()
	info := ShardInfo{
		RunID:      runID,
		Command:    command,
		Collection: collection,
		Block:      block,
		Host:       host,
		PID:        os.Getpid(),
		Started:    now,
		Heartbeat:  now,
		LastTextID: -1,
	}
	if err := r.store(ctx, info); err != nil {
		return nil, err
	}
	log.Info().
		Str("collection", collection).
		Str("command", command).
		Str("block", block.String()).
		Str("runId", runID).
		Msg("registered shard worker")
	lease := &Lease{registry: r, info: info, done: make(chan struct{})}
	go lease.keepAlive()
	return lease, nil
}

// Subscribe returns progress messages of all collections. The channel
// is closed once ctx is cancelled.
func (r *Registry) Subscribe(ctx context.Context) <-chan ShardInfo {
	sub := r.c.PSubscribe(ctx, r.channel("*"))
	ans := make(chan ShardInfo)
	go func() {
		defer close(ans)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var item ShardInfo
				if err := sonic.Unmarshal([]byte(msg.Payload), &item); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("invalid progress message")
					continue
				}
				select {
				case ans <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ans
}

func (r *Registry) Close() error {
	return r.c.Close()
}

func NewRegistry(conf *Conf) *Registry {
	return &Registry{
		c: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", conf.Host, conf.Port),
			Password: conf.Password,
			DB:       conf.DB,
		}),
		keyPrefix: conf.KeyPrefix,
		leaseTTL:  time.Duration(conf.LeaseTTLSecs) * time.Second,
	}
}

// ----

// Lease represents a registered shard worker. Its record is refreshed
// periodically and on every progress report.
type Lease struct {
	registry *Registry
	mu       sync.Mutex
	info     ShardInfo
	done     chan struct{}
	once     sync.Once
}

func (l *Lease) Info() ShardInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

func (l *Lease) Heartbeat(ctx context.Context) error {
	l.mu.Lock()
	if l.info.Finished {
		l.mu.Unlock()
		return nil
	}
	l.info.Heartbeat = time.Now()
	info := l.info
	l.mu.Unlock()
	return l.registry.store(ctx, info)
}

func (l *Lease) keepAlive() {
	ticker := time.NewTicker(l.registry.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.Heartbeat(context.Background()); err != nil {
				log.Error().Err(err).Str("runId", l.info.RunID).Msg("failed to refresh shard lease")
			}
		}
	}
}

func (l *Lease) publish(ctx context.Context, info ShardInfo) error {
	data, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to serialize progress: %w", err)
	}
	return l.registry.c.Publish(ctx, l.registry.channel(info.Collection), data).Err()
}

// ReportProgress updates the worker record and publishes the progress
// to the collection's channel. Errors are only logged as progress
// reporting must not stop the actual work.
func (l *Lease) ReportProgress(ctx context.Context, docs, lastTextID int) {
	l.mu.Lock()
	l.info.Docs = docs
	l.info.LastTextID = lastTextID
	l.mu.Unlock()
	if err := l.Heartbeat(ctx); err != nil {
		log.Error().Err(err).Msg("failed to report progress")
		return
	}
	if err := l.publish(ctx, l.Info()); err != nil {
		log.Error().Err(err).Msg("failed to publish progress")
	}
}

// Unregister stops refreshing, removes the worker record and publishes
// the final state of the run.
func (l *Lease) Unregister(ctx context.Context, runErr error) error {
	l.once.Do(func() { close(l.done) })
	l.mu.Lock()
	l.info.Finished = true
	l.info.Heartbeat = time.Now()
	if runErr != nil {
		l.info.Error = runErr.Error()
	}
	info := l.info
	l.mu.Unlock()
	if err := l.registry.c.Del(ctx, l.registry.shardKey(info.Collection, info.RunID)).Err(); err != nil {
		return fmt.Errorf("failed to unregister shard worker: %w", err)
	}
	if err := l.publish(ctx, info); err != nil {
		log.Error().Err(err).Msg("failed to publish final progress")
	}
	log.Info().Str("runId", info.RunID).Int("docs", info.Docs).Msg("unregistered shard worker")
	return nil
}
