package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	QiniuBaseURL  = "https://openai.qiniu.com/v1"
)

// OpenAI 兼容的 LLM Provider（OpenAI、七牛云等）
type OpenAIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewOpenAIProvider(name, apiKey, baseURL, defaultModel string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client: &http.Client{
			// 流式响应的总时长由 ctx 控制，这里只限制建立连接和响应头
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

// OpenAI API 请求结构
type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI API 流式响应结构
type openAIChatChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int      `json:"index"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *ChatDelta, error) {
	apiKey, err := resolveKey(req, p.apiKey)
	if err != nil {
		return nil, err
	}

	// 转换消息格式
	messages := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, *msg)
	}

	oaReq := openAIChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if oaReq.Model == "" {
		oaReq.Model = p.defaultModel
	}

	reqBody, err := json.Marshal(oaReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	deltaStream := make(chan *ChatDelta, 16)

	go func() {
		defer resp.Body.Close()
		defer close(deltaStream)

		emit := func(d *ChatDelta) bool {
			select {
			case deltaStream <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// 收到 finish_reason 或 [DONE] 才算完整结束
		finished := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// 跳过空行和注释行
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var chunk openAIChatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				emit(&ChatDelta{Err: fmt.Errorf("malformed stream chunk: %w", err)})
				return
			}
			if chunk.Error != nil {
				emit(&ChatDelta{Err: fmt.Errorf("stream error (%s): %s", chunk.Error.Type, chunk.Error.Message)})
				return
			}

			delta := &ChatDelta{}
			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				if choice.Delta != nil {
					delta.Text = choice.Delta.Content
				}
				delta.FinishReason = choice.FinishReason
				if choice.FinishReason != "" {
					finished = true
				}
			}
			if chunk.Usage != nil {
				delta.Usage = &Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if delta.Text == "" && delta.FinishReason == "" && delta.Usage == nil {
				continue
			}
			if !emit(delta) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			emit(&ChatDelta{Err: fmt.Errorf("stream reading error: %w", err)})
			return
		}
		if !finished {
			emit(&ChatDelta{Err: ErrStreamTruncated})
		}
	}()

	return deltaStream, nil
}
