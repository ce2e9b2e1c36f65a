package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrMissingCredential 表示请求和 Provider 都没有可用的 API Key，必须立即失败
var ErrMissingCredential = errors.New("no provider credential configured")

// ErrStreamTruncated 表示流在结束标记之前就断开了，已收到的内容不完整
var ErrStreamTruncated = errors.New("stream ended before completion")

// Registry manages all providers with unified interfaces
type Registry struct {
	mu           sync.RWMutex
	llmProviders map[string]LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{
		llmProviders: make(map[string]LLMProvider),
	}
}

// LLM Provider Interface
//
// ChatStream 返回的 channel 按生成顺序产出文本片段；携带 Err 的 delta 是最后一个元素，
// 表示生成失败。channel 正常关闭表示生成完成。取消通过 ctx 传递。
type LLMProvider interface {
	Name() string
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan *ChatDelta, error)
}

// ChatRequest 是一次生成请求，构造后不再修改
type ChatRequest struct {
	Model       string     `json:"model"`
	Messages    []*Message `json:"messages"`
	Temperature *float64   `json:"temperature,omitempty"` // nil 时使用模型默认值
	TopP        float64    `json:"top_p,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	APIKey      string     `json:"-"` // Agent 级别凭证，覆盖 Provider 默认 Key
}

type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

type ChatDelta struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Err          error  `json:"-"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// resolveKey 请求级凭证优先，其次是 Provider 的默认凭证
func resolveKey(req *ChatRequest, fallback string) (string, error) {
	if req.APIKey != "" {
		return req.APIKey, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrMissingCredential
}

// Registry methods
func (r *Registry) RegisterLLM(name string, provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmProviders[name] = provider
}

func (r *Registry) GetLLM(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if provider, ok := r.llmProviders[name]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("LLM provider '%s' not found", name)
}

// 服务发现相关方法

const TypeLLM = "llm"

// ProviderInfo 表示 Provider 信息
type ProviderInfo struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
}

func llmInfo(name string, p LLMProvider) ProviderInfo {
	return ProviderInfo{
		Name:         name,
		Type:         TypeLLM,
		Status:       "online",
		Capabilities: []string{"stream"},
		Config:       map[string]string{"backend": p.Name()},
	}
}

// GetAllProviders 获取所有 Provider 信息，按名称排序
func (r *Registry) GetAllProviders() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]ProviderInfo, 0, len(r.llmProviders))
	for name, p := range r.llmProviders {
		providers = append(providers, llmInfo(name, p))
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// GetProvidersByType 根据类型获取 Provider 信息
func (r *Registry) GetProvidersByType(providerType string) []ProviderInfo {
	if providerType != TypeLLM {
		return []ProviderInfo{}
	}
	return r.GetAllProviders()
}

// GetProviderInfo 获取特定 Provider 的信息
func (r *Registry) GetProviderInfo(providerType, name string) (*ProviderInfo, error) {
	if providerType == TypeLLM {
		r.mu.RLock()
		p, ok := r.llmProviders[name]
		r.mu.RUnlock()
		if ok {
			info := llmInfo(name, p)
			return &info, nil
		}
	}

	return nil, fmt.Errorf("provider '%s' of type '%s' not found", name, providerType)
}
