package svc

import (
	"context"
	"os"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/config"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/agentstore"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/knowledge"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/provider"
)

// ContextRetriever 为生成请求检索补充上下文，失败时返回空字符串
type ContextRetriever interface {
	Retrieve(ctx context.Context, knowledgeBaseID, query string) string
}

type ServiceContext struct {
	Config    config.Config
	Registry  *provider.Registry
	Agents    agentstore.Loader
	Retriever ContextRetriever
}

func NewServiceContext(c config.Config) *ServiceContext {
	return &ServiceContext{
		Config:    c,
		Registry:  newRegistry(c.Providers),
		Agents:    newAgentLoader(c),
		Retriever: newRetriever(c),
	}
}

func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

func newRegistry(c config.ProviderConfig) *provider.Registry {
	registry := provider.NewRegistry()

	// 注册 OpenAI LLM Provider；没有全局 Key 时也注册，依赖 Agent 级别凭证
	openAIKey := envOr(c.OpenAI.APIKey, "OPENAI_API_KEY")
	registry.RegisterLLM("openai", provider.NewOpenAIProvider("openai", openAIKey, c.OpenAI.BaseURL, c.OpenAI.Model))

	// 注册七牛云 LLM Provider（OpenAI 兼容）
	qiniuKey := envOr(c.Qiniu.APIKey, "QINIU_API_KEY")
	registry.RegisterLLM("qiniu", provider.NewOpenAIProvider("qiniu", qiniuKey, provider.QiniuBaseURL, c.Qiniu.Model))

	// 注册 Qwen LLM Provider
	qwenKey := envOr(c.Qwen.APIKey, "QWEN_API_KEY")
	registry.RegisterLLM("qwen", provider.NewQwenProvider(qwenKey, c.Qwen.BaseURL))

	// 注册 Gemini LLM Provider
	geminiKey := envOr(c.Gemini.APIKey, "GEMINI_API_KEY")
	registry.RegisterLLM("gemini", provider.NewGeminiProvider(geminiKey, c.Gemini.Model))

	return registry
}

func newAgentLoader(c config.Config) agentstore.Loader {
	if c.AgentStore.Redis.Host == "" {
		logx.Infof("agent store: using %d static agents from config", len(c.Agents))
		return agentstore.NewStaticLoader(c.Agents)
	}

	return agentstore.MustNewRedisStore(c.AgentStore.Redis, c.AgentStore.CacheTTL,
		agentstore.WithKeyPrefix(c.AgentStore.KeyPrefix),
		agentstore.WithDefaultFallback(c.AgentStore.DefaultFallback))
}

func newRetriever(c config.Config) ContextRetriever {
	kc := c.Knowledge
	if kc.DataSource == "" {
		return nil
	}

	ctx := context.Background()
	store, err := knowledge.NewPgStore(ctx, kc.DataSource)
	if err != nil {
		logx.Errorf("knowledge retrieval disabled: %v", err)
		return nil
	}
	if kc.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			logx.Errorf("knowledge migration failed: %v", err)
		}
	}

	var embedder knowledge.Embedder
	switch kc.Embedder {
	case "gemini":
		e, err := knowledge.NewGeminiEmbedder(ctx, envOr(c.Providers.Gemini.APIKey, "GEMINI_API_KEY"), kc.EmbedModel)
		if err != nil {
			logx.Errorf("knowledge retrieval disabled: %v", err)
			return nil
		}
		embedder = e
	default:
		embedder = knowledge.NewOpenAIEmbedder(envOr(c.Providers.OpenAI.APIKey, "OPENAI_API_KEY"),
			c.Providers.OpenAI.BaseURL, kc.EmbedModel)
	}

	return knowledge.NewRetriever(embedder, store,
		knowledge.WithTopK(kc.TopK),
		knowledge.WithThreshold(kc.Threshold),
		knowledge.WithTimeout(kc.Timeout))
}
