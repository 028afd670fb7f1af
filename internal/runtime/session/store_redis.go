// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript 版本比较、写入、刷新 TTL 与更新用户索引在同一脚本内完成。
// KEYS[1] 会话 hash，KEYS[2] 用户索引 zset（二者同一 hash tag，兼容 Cluster）
// ARGV: expected, next, payload, ttl_ms, score, session_id, index_ttl_ms
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
local v = 0
if cur then v = tonumber(cur) end
if v ~= tonumber(ARGV[1]) then
  return {0, v}
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[6])
redis.call('PEXPIRE', KEYS[2], ARGV[7])
return {1, tonumber(ARGV[2])}
`)

// RedisConfig RedisStore 配置
type RedisConfig struct {
	KeyPrefix      string
	DefaultTTL     time.Duration
	IndexRetention time.Duration
}

// RedisStore 基于 Redis 的会话存储：
// hash {prefix}:session:{user}:{session} 保存 version 与 JSON 数据（PX 过期），
// zset {prefix}:user_sessions:{user} 以 updated_at 毫秒为分值索引用户会话。
// 索引条目在会话过期后继续保留 IndexRetention，用于区分“已过期”与“从未存在”。
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
	now    func() time.Time
}

// NewRedisStore 创建 RedisStore
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "hitl"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.IndexRetention <= 0 {
		cfg.IndexRetention = 24 * time.Hour
	}
	return &RedisStore{client: client, cfg: cfg, now: time.Now}
}

func (r *RedisStore) sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("%s:session:{%s}:%s", r.cfg.KeyPrefix, userID, sessionID)
}

func (r *RedisStore) indexKey(userID string) string {
	return fmt.Sprintf("%s:user_sessions:{%s}", r.cfg.KeyPrefix, userID)
}

func (r *RedisStore) userFromIndexKey(key string) string {
	u := strings.TrimPrefix(key, r.cfg.KeyPrefix+":user_sessions:{")
	return strings.TrimSuffix(u, "}")
}

// Load 实现 Store
func (r *RedisStore) Load(ctx context.Context, userID, sessionID string) (*Session, error) {
	data, err := r.client.HGet(ctx, r.sessionKey(userID, sessionID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		if _, zerr := r.client.ZScore(ctx, r.indexKey(userID), sessionID).Result(); zerr == nil {
			return nil, ErrExpired
		} else if !errors.Is(zerr, redis.Nil) {
			return nil, fmt.Errorf("session: redis zscore: %w", zerr)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis hget: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s/%s: %w", userID, sessionID, err)
	}
	return &s, nil
}

// Save 实现 Store
func (r *RedisStore) Save(ctx context.Context, s *Session, expectedVersion int64) (*Session, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	now := r.now()
	saved := s.Clone()
	saved.Version = expectedVersion + 1
	saved.UpdatedAt = now
	if saved.CreatedAt.IsZero() || expectedVersion == 0 {
		saved.CreatedAt = now
	}
	if saved.TTL <= 0 {
		saved.TTL = r.cfg.DefaultTTL
	}
	payload, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}

	res, err := casScript.Run(ctx, r.client,
		[]string{r.sessionKey(s.UserID, s.SessionID), r.indexKey(s.UserID)},
		expectedVersion,
		saved.Version,
		payload,
		saved.TTL.Milliseconds(),
		now.UnixMilli(),
		s.SessionID,
		(saved.TTL + r.cfg.IndexRetention).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("session: redis cas: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("session: redis cas: unexpected reply %v", res)
	}
	if res[0] != 1 {
		return nil, fmt.Errorf("%w: expected %d, current %d", ErrVersionMismatch, expectedVersion, res[1])
	}
	return saved, nil
}

// Delete 实现 Store
func (r *RedisStore) Delete(ctx context.Context, userID, sessionID string) error {
	var del, rem *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, r.sessionKey(userID, sessionID))
		rem = p.ZRem(ctx, r.indexKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	if del.Val() == 0 && rem.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// members 按分值倒序返回索引成员，并标记会话 key 是否仍存在
func (r *RedisStore) members(ctx context.Context, userID string) ([]string, []bool, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("session: redis zrevrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	cmds := make([]*redis.IntCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.Exists(ctx, r.sessionKey(userID, id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("session: redis exists: %w", err)
	}
	live := make([]bool, len(ids))
	for i, c := range cmds {
		live[i] = c.Val() == 1
	}
	return ids, live, nil
}

// List 实现 Store；已过期的悬挂索引条目被跳过
func (r *RedisStore) List(ctx context.Context, userID string) ([]string, error) {
	ids, live, err := r.members(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if live[i] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ActiveOf 实现 Store
func (r *RedisStore) ActiveOf(ctx context.Context, userID string) (string, error) {
	ids, err := r.List(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		s, err := r.Load(ctx, userID, id)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !s.Status.Terminal() {
			return id, nil
		}
	}
	return "", nil
}

func (r *RedisStore) scanIndexKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.cfg.KeyPrefix+":user_sessions:*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session: redis scan: %w", err)
	}
	return keys, nil
}

// Stats 实现 Store
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := r.scanIndexKeys(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Users: make(map[string][]string)}
	for _, k := range keys {
		u := r.userFromIndexKey(k)
		ids, err := r.List(ctx, u)
		if err != nil {
			return Stats{}, err
		}
		if len(ids) == 0 {
			continue
		}
		st.Users[u] = ids
		st.SessionCount += len(ids)
	}
	return st, nil
}

// Prune 实现 Store
func (r *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	keys, err := r.scanIndexKeys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		u := r.userFromIndexKey(k)
		stale, err := r.client.ZRangeByScore(ctx, k, &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("session: redis zrangebyscore: %w", err)
		}
		for _, id := range stale {
			n, err := r.client.Exists(ctx, r.sessionKey(u, id)).Result()
			if err != nil {
				return removed, fmt.Errorf("session: redis exists: %w", err)
			}
			if n > 0 {
				continue
			}
			if err := r.client.ZRem(ctx, k, id).Err(); err != nil {
				return removed, fmt.Errorf("session: redis zrem: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}
