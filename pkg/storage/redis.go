package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch 每次 SCAN 返回的建议条数。
const scanBatch = 100

// RedisOptions 描述 Redis 后端连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration // 条目过期时间，0 表示永不过期
}

// RedisStorage 使用 Redis 作为 Presence Cache 的后端，适合多进程共享缓存。
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage 根据连接参数创建客户端并 PING 校验连通性。
func NewRedisStorage(ctx context.Context, opts RedisOptions) (*RedisStorage, error) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: poolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStorage{client: client, ttl: opts.TTL}, nil
}

// NewRedisStorageWithClient 复用外部创建的客户端。
func NewRedisStorageWithClient(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

// Get 读取键值，redis.Nil 转换为 ErrNotFound。
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get key %s: %w", key, err)
	}
	return data, nil
}

// Set 写入键值。
func (s *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set key %s: %w", key, err)
	}
	return nil
}

// Has 使用 EXISTS 判断键是否存在。
func (s *RedisStorage) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists key %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete 删除键。
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del key %s: %w", key, err)
	}
	return nil
}

// Keys 使用 SCAN 分批遍历，避免 KEYS 阻塞 Redis。
func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		found  []string
	)
	pattern := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan prefix %s: %w", prefix, err)
		}
		// SCAN 可能重复返回同一个键
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			found = append(found, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return found, nil
}

// Close 关闭底层连接池。
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// escapeGlob 转义 SCAN MATCH 中的通配字符，保证前缀按字面匹配。
func escapeGlob(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(s)
}
