// Package knowledge 为生成请求检索补充上下文。检索是可选增强，
// 任何一步失败都只记录日志并返回空字符串。
package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

const (
	DefaultTopK      = 3
	DefaultThreshold = 0.75
	DefaultTimeout   = 2 * time.Second
)

// Embedder 把文本转换成向量
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store 返回指定知识库中与向量最相近、且相似度高于阈值的条目文本，按相似度降序
type Store interface {
	Nearest(ctx context.Context, knowledgeBaseID string, vector []float32, k int, threshold float64) ([]string, error)
}

// Retriever 是上下文检索适配器
type Retriever struct {
	embedder  Embedder
	store     Store
	topK      int
	threshold float64
	timeout   time.Duration
}

type Option func(*Retriever)

func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithThreshold(threshold float64) Option {
	return func(r *Retriever) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Retriever) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func NewRetriever(embedder Embedder, store Store, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		store:     store,
		topK:      DefaultTopK,
		threshold: DefaultThreshold,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve 返回拼接好的上下文，失败时返回空字符串，从不返回错误
func (r *Retriever) Retrieve(ctx context.Context, knowledgeBaseID, query string) string {
	if r == nil || knowledgeBaseID == "" {
		return ""
	}
	query = strings.TrimSpace(query)
	if query == "" || r.embedder == nil || r.store == nil {
		return ""
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger := logx.WithContext(ctx).WithFields(logx.Field("knowledge_base", knowledgeBaseID))
	// 调用方取消（被新请求替换或通话结束）是正常流程，不按错误记录
	fail := func(msg string, err error) string {
		if parent.Err() != nil {
			logger.Infof("retrieval cancelled during %s: %v", msg, err)
		} else {
			logger.Errorf("%s failed: %v", msg, err)
		}
		return ""
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return fail("embedding", err)
	}
	if len(vector) == 0 {
		logger.Errorf("embedding returned empty vector")
		return ""
	}

	texts, err := r.store.Nearest(ctx, knowledgeBaseID, vector, r.topK, r.threshold)
	if err != nil {
		return fail("knowledge lookup", err)
	}

	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
		if len(parts) == r.topK {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}
