// Package agentstore 从外部存储加载 Agent 配置。
package agentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
)

var ErrNotFound = errors.New("agent not found")

// Loader 按 Agent ID 返回补齐默认值的配置
type Loader interface {
	Load(ctx context.Context, agentID string) (*model.AgentConfig, error)
}

// KV 是 Store 需要的最小 KV 能力，*redis.Redis 满足该接口
type KV interface {
	GetCtx(ctx context.Context, key string) (string, error)
}

// Store 从 Redis 读取 JSON 格式的 Agent 记录，key 为 prefix+agentID
type Store struct {
	kv        KV
	keyPrefix string
	cache     *collection.Cache
	fallback  bool
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.keyPrefix = prefix
	}
}

// WithDefaultFallback 记录不存在时使用默认配置，而不是拒绝连接
func WithDefaultFallback(enabled bool) Option {
	return func(s *Store) {
		s.fallback = enabled
	}
}

func NewStore(kv KV, cacheTTL time.Duration, opts ...Option) (*Store, error) {
	s := &Store{
		kv:        kv,
		keyPrefix: "callbridge:agent:",
	}
	for _, opt := range opts {
		opt(s)
	}

	if cacheTTL > 0 {
		cache, err := collection.NewCache(cacheTTL, collection.WithName("agents"), collection.WithLimit(1024))
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

func MustNewRedisStore(conf redis.RedisConf, cacheTTL time.Duration, opts ...Option) *Store {
	s, err := NewStore(redis.MustNewRedis(conf), cacheTTL, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Store) Load(ctx context.Context, agentID string) (*model.AgentConfig, error) {
	if s.cache == nil {
		return s.fetch(ctx, agentID)
	}

	val, err := s.cache.Take(agentID, func() (any, error) {
		return s.fetch(ctx, agentID)
	})
	if err != nil {
		return nil, err
	}

	// 缓存里的值是共享的，返回副本
	cfg := val.(*model.AgentConfig).Clone()
	return &cfg, nil
}

func (s *Store) fetch(ctx context.Context, agentID string) (*model.AgentConfig, error) {
	raw, err := s.kv.GetCtx(ctx, s.keyPrefix+agentID)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}

	if raw == "" {
		if !s.fallback {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
		}
		cfg := model.DefaultAgentConfig()
		cfg.ID = agentID
		return &cfg, nil
	}

	var cfg model.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	cfg.ID = agentID
	cfg = cfg.WithDefaults()
	return &cfg, nil
}

// StaticLoader 使用配置文件中声明的 Agent，适合本地开发
type StaticLoader map[string]model.AgentConfig

func NewStaticLoader(agents []model.AgentConfig) StaticLoader {
	loader := make(StaticLoader, len(agents))
	for _, a := range agents {
		loader[a.ID] = a
	}
	return loader
}

func (l StaticLoader) Load(_ context.Context, agentID string) (*model.AgentConfig, error) {
	a, ok := l[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	cfg := a.WithDefaults().Clone()
	return &cfg, nil
}
