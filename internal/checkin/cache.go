package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeCache は表示用端末がデータベースを参照せずに現在のコードを取得するためのキャッシュ。
// 正はデータベース側で、キャッシュの失敗はチェックイン処理を妨げない。
type CodeCache interface {
	// Publish は現在のコードをttlの間保持する。
	Publish(ctx context.Context, meetingID string, code Code, ttl time.Duration) error
	// Lookup は現在のコードを返す。存在しない場合はnilを返す。
	Lookup(ctx context.Context, meetingID string) (*Code, error)
	// Clear はコードを削除する。
	Clear(ctx context.Context, meetingID string) error
}

// RedisCodeCache はRedisを使ったCodeCache。
type RedisCodeCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCodeCache はRedisCodeCacheを生成する。
func NewRedisCodeCache(client *redis.Client) *RedisCodeCache {
	return &RedisCodeCache{client: client, prefix: "chapterhub:checkin:code:"}
}

type cachedCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *RedisCodeCache) key(meetingID string) string {
	return c.prefix + meetingID
}

func encodeCode(code Code) ([]byte, error) {
	data, err := json.Marshal(cachedCode{Code: code.Value, ExpiresAt: code.ExpiresAt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal code: %w", err)
	}
	return data, nil
}

func decodeCode(data []byte) (*Code, error) {
	var cached cachedCode
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code: %w", err)
	}
	if cached.Code == "" {
		return nil, errors.New("cached code is empty")
	}
	return &Code{Value: cached.Code, ExpiresAt: cached.ExpiresAt}, nil
}

// Publish はコードを保存する。ttlが0以下の場合は既存のコードを削除する。
func (c *RedisCodeCache) Publish(ctx context.Context, meetingID string, code Code, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Clear(ctx, meetingID)
	}
	data, err := encodeCode(code)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(meetingID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish code: %w", err)
	}
	return nil
}

// Lookup はキャッシュされたコードを返す。
func (c *RedisCodeCache) Lookup(ctx context.Context, meetingID string) (*Code, error) {
	data, err := c.client.Get(ctx, c.key(meetingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup code: %w", err)
	}
	return decodeCode(data)
}

// Clear はキャッシュされたコードを削除する。
func (c *RedisCodeCache) Clear(ctx context.Context, meetingID string) error {
	if err := c.client.Del(ctx, c.key(meetingID)).Err(); err != nil {
		return fmt.Errorf("failed to clear code: %w", err)
	}
	return nil
}

// NopCodeCache は何もしないCodeCache。Redis未設定時に使用する。
type NopCodeCache struct{}

func (NopCodeCache) Publish(context.Context, string, Code, time.Duration) error { return nil }
func (NopCodeCache) Lookup(context.Context, string) (*Code, error)              { return nil, nil }
func (NopCodeCache) Clear(context.Context, string) error                        { return nil }

// compile-time interface check
var (
	_ CodeCache = (*RedisCodeCache)(nil)
	_ CodeCache = NopCodeCache{}
)
