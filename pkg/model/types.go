package model

import "strings"

// AgentConfig 描述一个通话 Agent 的全部配置，加载后在会话期间只读
type AgentConfig struct {
	ID              string   `json:"id"`
	SystemPrompt    string   `json:"systemPrompt,optional"`
	Greeting        string   `json:"greeting,optional"`
	Provider        string   `json:"provider,optional"` // openai|qiniu|qwen|gemini
	Model           string   `json:"model,optional"`
	Temperature     *float64 `json:"temperature,optional"` // 未设置时用默认值，0 表示确定性输出
	MaxTokens       int      `json:"maxTokens,optional"`
	ReminderPrompt  string   `json:"reminderPrompt,optional"`
	KnowledgeBaseID string   `json:"knowledgeBaseId,optional"`
	HangupPhrases   []string `json:"hangupPhrases,optional"` // 大小写不敏感
	Language        string   `json:"language,optional"`
	APIKey          string   `json:"apiKey,optional"` // 可选的 Agent 级别凭证
}

// Utterance 是通话记录中的一句话
type Utterance struct {
	Role    string `json:"role"` // agent|user
	Content string `json:"content"`
}

// Constants for transcript roles
const (
	SpeakerAgent = "agent"
	SpeakerUser  = "user"
)

// Constants for generation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const DefaultReminderPrompt = "(The user has been silent for a while. Gently check in with them or continue the conversation.)"

// DefaultAgentConfig 是唯一的默认配置来源，存储中缺失的字段都从这里补齐
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SystemPrompt:   "You are a helpful voice assistant on a phone call.",
		Greeting:       "Hello, how can I help you today?",
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		Temperature:    Float64(0.7),
		MaxTokens:      200,
		ReminderPrompt: DefaultReminderPrompt,
		HangupPhrases:  []string{"goodbye"},
		Language:       "en-US",
	}
}

// WithDefaults 返回用默认值补齐空字段后的副本
func (c AgentConfig) WithDefaults() AgentConfig {
	def := DefaultAgentConfig()
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = def.SystemPrompt
	}
	if c.Greeting == "" {
		c.Greeting = def.Greeting
	}
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Temperature == nil || *c.Temperature < 0 {
		c.Temperature = def.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if strings.TrimSpace(c.ReminderPrompt) == "" {
		c.ReminderPrompt = def.ReminderPrompt
	}
	if c.HangupPhrases == nil {
		c.HangupPhrases = def.HangupPhrases
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	return c
}

// Clone 返回不与原值共享切片和指针的副本
func (c AgentConfig) Clone() AgentConfig {
	if c.Temperature != nil {
		c.Temperature = Float64(*c.Temperature)
	}
	if c.HangupPhrases != nil {
		c.HangupPhrases = append([]string{}, c.HangupPhrases...)
	}
	return c
}

func Float64(v float64) *float64 {
	return &v
}

// MatchHangup 判断文本中是否包含任一挂断短语（大小写不敏感的子串匹配）
func (c *AgentConfig) MatchHangup(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range c.HangupPhrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// Redacted 返回去掉凭证的副本，用于对外展示
func (c AgentConfig) Redacted() AgentConfig {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}
