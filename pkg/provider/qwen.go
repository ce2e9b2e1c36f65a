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

const QwenBaseURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

// 通义千问 LLM Provider 实现
type QwenProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
}

func NewQwenProvider(apiKey, baseURL string) *QwenProvider {
	if baseURL == "" {
		baseURL = QwenBaseURL
	}
	return &QwenProvider{
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultModel: "qwen-turbo",
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

func (p *QwenProvider) Name() string {
	return "qwen"
}

// 通义千问请求结构
type qwenRequest struct {
	Model      string     `json:"model"`
	Input      qwenInput  `json:"input"`
	Parameters qwenParams `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenParams struct {
	ResultFormat      string   `json:"result_format"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	TopP              float64  `json:"top_p,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	IncrementalOutput bool     `json:"incremental_output,omitempty"`
}

// 通义千问响应结构
type qwenResponse struct {
	Output    qwenOutput `json:"output"`
	Usage     qwenUsage  `json:"usage"`
	RequestID string     `json:"request_id"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type qwenOutput struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type qwenUsage struct {
	OutputTokens int `json:"output_tokens"`
	InputTokens  int `json:"input_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (p *QwenProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *ChatDelta, error) {
	apiKey, err := resolveKey(req, p.apiKey)
	if err != nil {
		return nil, err
	}

	// 转换消息格式
	qwenMessages := make([]qwenMessage, len(req.Messages))
	for i, msg := range req.Messages {
		qwenMessages[i] = qwenMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	// 构建流式请求
	qwenReq := qwenRequest{
		Model: model,
		Input: qwenInput{
			Messages: qwenMessages,
		},
		Parameters: qwenParams{
			ResultFormat:      "text",
			MaxTokens:         req.MaxTokens,
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			IncrementalOutput: true, // 启用增量输出
		},
	}

	return p.sendStreamRequest(ctx, apiKey, qwenReq)
}

func (p *QwenProvider) sendStreamRequest(ctx context.Context, apiKey string, req qwenRequest) (<-chan *ChatDelta, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 设置请求头
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-DashScope-SSE", "enable")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	deltaChan := make(chan *ChatDelta, 16)

	go func() {
		defer resp.Body.Close()
		defer close(deltaChan)

		emit := func(d *ChatDelta) bool {
			select {
			case deltaChan <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finished := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// 解析 SSE 事件
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var qwenResp qwenResponse
			if err := json.Unmarshal([]byte(data), &qwenResp); err != nil {
				emit(&ChatDelta{Err: fmt.Errorf("malformed stream chunk: %w", err)})
				return
			}
			if qwenResp.Code != "" {
				emit(&ChatDelta{Err: fmt.Errorf("dashscope error %s: %s", qwenResp.Code, qwenResp.Message)})
				return
			}

			// 生成过程中 finish_reason 为字符串 "null"
			reason := qwenResp.Output.FinishReason
			if reason == "null" {
				reason = ""
			}
			if reason != "" {
				finished = true
			}
			delta := &ChatDelta{
				Text:         qwenResp.Output.Text,
				FinishReason: reason,
			}
			if qwenResp.Usage.TotalTokens > 0 {
				delta.Usage = &Usage{
					PromptTokens:     qwenResp.Usage.InputTokens,
					CompletionTokens: qwenResp.Usage.OutputTokens,
					TotalTokens:      qwenResp.Usage.TotalTokens,
				}
			}

			if !emit(delta) {
				return
			}
			if delta.FinishReason == "stop" {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			emit(&ChatDelta{Err: fmt.Errorf("error reading stream: %w", err)})
			return
		}
		if !finished {
			emit(&ChatDelta{Err: ErrStreamTruncated})
		}
	}()

	return deltaChan, nil
}
