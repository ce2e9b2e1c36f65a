package config

import (
	"time"

	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/rest"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
)

type Config struct {
	rest.RestConf

	// Provider 配置
	Providers ProviderConfig `json:",optional"`

	// Agent 配置来源：配置了 Redis 时从 Redis 读取，否则使用 Agents 中的静态配置
	AgentStore AgentStoreConfig    `json:",optional"`
	Agents     []model.AgentConfig `json:",optional"`

	Knowledge KnowledgeConfig `json:",optional"`
	Features  FeatureConfig   `json:",optional"`
	Session   SessionConfig   `json:",optional"`
}

type ProviderConfig struct {
	OpenAI OpenAIConfig `json:",optional"`
	Qiniu  QiniuConfig  `json:",optional"`
	Qwen   QwenConfig   `json:",optional"`
	Gemini GeminiConfig `json:",optional"`
}

type OpenAIConfig struct {
	APIKey  string `json:",optional"`
	BaseURL string `json:",optional"`
	Model   string `json:",default=gpt-4o-mini"`
}

type QiniuConfig struct {
	APIKey string `json:",optional"` // 七牛云 AI Token API 密钥
	Model  string `json:",default=deepseek-v3"`
}

type QwenConfig struct {
	APIKey  string `json:",optional"`
	BaseURL string `json:",optional"`
}

type GeminiConfig struct {
	APIKey string `json:",optional"`
	Model  string `json:",default=gemini-2.0-flash"`
}

type AgentStoreConfig struct {
	Redis           redis.RedisConf `json:",optional"`
	KeyPrefix       string          `json:",default=callbridge:agent:"`
	CacheTTL        time.Duration   `json:",default=30s"`
	DefaultFallback bool            `json:",optional"`
}

type KnowledgeConfig struct {
	DataSource  string        `json:",optional"` // Postgres DSN，为空则不启用检索
	AutoMigrate bool          `json:",optional"`
	Embedder    string        `json:",default=openai,options=openai|gemini"`
	EmbedModel  string        `json:",optional"`
	TopK        int           `json:",default=3"`
	Threshold   float64       `json:",default=0.75"`
	Timeout     time.Duration `json:",default=2s"`
}

// FeatureConfig 可以独立开关的能力
type FeatureConfig struct {
	// update_only 且 turntaking=agent_turn 时按 response_required 处理
	TurnTakingPromotion bool `json:",default=true"`
	// 根据挂断短语设置 end_call
	HangupDetection bool `json:",default=true"`
}

type SessionConfig struct {
	WriteTimeout   time.Duration `json:",default=5s"`
	PingInterval   time.Duration `json:",default=20s"`
	MaxMessageSize int64         `json:",default=1048576"`
}
