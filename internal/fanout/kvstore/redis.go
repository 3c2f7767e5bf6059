// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// renewScript atomically extends the lock TTL only while we still own it.
// GET + EXPIRE as two round trips would race with expiry and takeover.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`

// releaseScript atomically deletes the lock only while we still own it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// Redis implements Store on a single Redis instance or cluster endpoint.
type Redis struct {
	client  redis.UniversalClient
	renew   *redis.Script
	release *redis.Script
}

// NewRedis wraps an existing client. The caller owns the client lifecycle.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client:  client,
		renew:   redis.NewScript(renewScript),
		release: redis.NewScript(releaseScript),
	}
}

// Open parses a redis:// URL and returns a gateway owning the connection.
func Open(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrStoreProtocol, err)
	}
	return NewRedis(redis.NewClient(opt)), nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapUnavailable("SETNX", err)
	}
	return ok, nil
}

func (r *Redis) CompareAndRenew(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	res, err := r.renew.Run(ctx, r.client, []string{key}, expected, ttl.Milliseconds()).Result()
	if err != nil {
		return false, wrapUnavailable("EVAL renew", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("%w: renew script returned %T", ErrStoreProtocol, res)
	}
	return n == 1, nil
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := r.release.Run(ctx, r.client, []string{key}, expected).Result()
	if err != nil {
		return false, wrapUnavailable("EVAL release", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("%w: release script returned %T", ErrStoreProtocol, res)
	}
	return n == 1, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapUnavailable("GET", err)
	}
	return v, true, nil
}

// GetWithTTL pipelines GET and PTTL so promotion sees a consistent pair.
func (r *Redis) GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, false, wrapUnavailable("GET/PTTL", err)
	}
	v, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, wrapUnavailable("GET", err)
	}
	ttl, err := ttlCmd.Result()
	if err != nil {
		return "", 0, false, wrapUnavailable("PTTL", err)
	}
	return v, ttl, true, nil
}

func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable("SET", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return wrapUnavailable("DEL", err)
	}
	return nil
}

// StreamAppend uses XADD with an exact MAXLEN so the stream is trimmed on
// every append and never exceeds maxLen entries.
func (r *Redis) StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Values: values,
	}).Result()
	if err != nil {
		return "", wrapUnavailable("XADD", err)
	}
	return id, nil
}

func (r *Redis) StreamLen(ctx context.Context, streamKey string) (int64, error) {
	n, err := r.client.XLen(ctx, streamKey).Result()
	if err != nil {
		return 0, wrapUnavailable("XLEN", err)
	}
	return n, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapUnavailable("PING", err)
	}
	return nil
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
