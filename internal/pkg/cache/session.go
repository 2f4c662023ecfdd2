package cache

import (
	"context"
	"errors"
	"time"
)

const (
	SessionKeyPrefix  = "filechat:session:"
	DefaultSessionTTL = time.Hour
)

// SessionKey 对话最近一次服务商会话的缓存 key
func SessionKey(conversationID string) string {
	return SessionKeyPrefix + conversationID
}

// SessionState 缓存的服务商会话
type SessionState struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	TurnID    string    `json:"turn_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionCache 按对话缓存服务商容器ID，供读取超时后轮询
type SessionCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewSessionCache 创建会话缓存，ttl<=0 时使用默认值
func NewSessionCache(c *RedisCache, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{cache: c, ttl: ttl}
}

// SetSession 写入会话
func (s *SessionCache) SetSession(ctx context.Context, conversationID string, state SessionState) error {
	return s.cache.Set(ctx, SessionKey(conversationID), state, s.ttl)
}

// GetSession 读取会话，不存在时返回 nil, nil
func (s *SessionCache) GetSession(ctx context.Context, conversationID string) (*SessionState, error) {
	var state SessionState
	if err := s.cache.Get(ctx, SessionKey(conversationID), &state); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// DeleteSession 删除会话
func (s *SessionCache) DeleteSession(ctx context.Context, conversationID string) error {
	return s.cache.Delete(ctx, SessionKey(conversationID))
}
