package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Gemini LLM Provider，基于 google.golang.org/genai
type GeminiProvider struct {
	apiKey       string
	defaultModel string

	mu      sync.Mutex
	clients map[string]*genai.Client // 按 API Key 缓存
}

func NewGeminiProvider(apiKey, defaultModel string) *GeminiProvider {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		clients:      make(map[string]*genai.Client),
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) client(apiKey string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.clients[apiKey] = c
	return c, nil
}

func (p *GeminiProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *ChatDelta, error) {
	apiKey, err := resolveKey(req, p.apiKey)
	if err != nil {
		return nil, err
	}
	client, err := p.client(apiKey)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	system, contents := toGeminiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	deltaChan := make(chan *ChatDelta, 16)

	go func() {
		defer close(deltaChan)

		emit := func(d *ChatDelta) bool {
			select {
			case deltaChan <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if ctx.Err() == nil {
					emit(&ChatDelta{Err: fmt.Errorf("gemini stream: %w", err)})
				}
				return
			}

			delta := &ChatDelta{Text: resp.Text()}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				delta.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
			}
			if u := resp.UsageMetadata; u != nil {
				delta.Usage = &Usage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
				}
			}
			if delta.Text == "" && delta.FinishReason == "" {
				continue
			}
			if !emit(delta) {
				return
			}
		}
	}()

	return deltaChan, nil
}

// toGeminiContents 把 system 消息合并成 SystemInstruction，其余按角色转换，
// 相邻同角色的消息合并为一条
func toGeminiContents(messages []*Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}

		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}

		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(msg.Content))
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return strings.Join(system, "\n\n"), contents
}
