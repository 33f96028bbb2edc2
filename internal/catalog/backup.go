package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const backupKey = "swap-quote:catalog:snapshot"

// Backup persists the last good snapshot so a process restart can
// serve a fresh-enough listing without a cold call upstream.
type Backup interface {
	Save(ctx context.Context, snap *Snapshot) error
	// Load returns (nil, nil) when no backup exists.
	Load(ctx context.Context) (*Snapshot, error)
}

// RedisBackup stores the whole snapshot as one JSON value with TTL.
type RedisBackup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackup(ctx context.Context, addr string, ttl time.Duration) (*RedisBackup, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisBackup{client: client, ttl: ttl}, nil
}

func (b *RedisBackup) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return b.client.Set(ctx, backupKey, data, b.ttl).Err()
}

func (b *RedisBackup) Load(ctx context.Context) (*Snapshot, error) {
	data, err := b.client.Get(ctx, backupKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot backup: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot backup: %w", err)
	}
	return &snap, nil
}

func (b *RedisBackup) Close() error {
	return b.client.Close()
}
