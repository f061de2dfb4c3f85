package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ChatGate/internal/provider"
)

// CacheConfig 描述补全结果缓存的连接参数。
type CacheConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// ResponseCache 使用 Redis 缓存补全结果，相同请求在 TTL 内直接命中。
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseCache 创建缓存实例并验证连通性。
func NewResponseCache(cfg CacheConfig) (*ResponseCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &ResponseCache{client: client, ttl: ttl}, nil
}

// CacheKey 根据服务名、模型与消息序列计算缓存键。
func CacheKey(providerName, model string, messages []provider.Message) string {
	digest := sha256.New()
	digest.Write([]byte(providerName))
	digest.Write([]byte{0})
	digest.Write([]byte(model))
	for _, message := range messages {
		digest.Write([]byte{0})
		digest.Write([]byte(message.Role))
		digest.Write([]byte{0})
		digest.Write([]byte(message.Content))
	}
	return "chatgate:cache:" + hex.EncodeToString(digest.Sum(nil))
}

// Get 查询缓存的补全结果，未命中时返回 (nil, nil)。
func (c *ResponseCache) Get(ctx context.Context, key string) (*provider.Result, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("Redis 读取缓存失败: %w", err)
	}
	var result provider.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析缓存结果失败: %w", err)
	}
	return &result, nil
}

// Set 写入补全结果，带过期时间。
func (c *ResponseCache) Set(ctx context.Context, key string, result *provider.Result) error {
	if result == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化缓存结果失败: %w", err)
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入缓存失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *ResponseCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
