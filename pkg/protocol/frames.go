package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
)

// InteractionKind 是入站帧的判别字段
type InteractionKind string

const (
	KindCallDetails      InteractionKind = "call_details"
	KindPingPong         InteractionKind = "ping_pong"
	KindUpdateOnly       InteractionKind = "update_only"
	KindResponseRequired InteractionKind = "response_required"
	KindReminderRequired InteractionKind = "reminder_required"
)

// 出站帧类型
const (
	ResponseTypeConfig   = "config"
	ResponseTypeResponse = "response"
	ResponseTypePingPong = "ping_pong"
)

// 轮次提示
const (
	TurnAgent = "agent_turn"
	TurnUser  = "user_turn"
)

// ErrProtocolViolation 标记所有对端违反协议的错误，连接必须立即关闭
var ErrProtocolViolation = errors.New("protocol violation")

// InboundFrame 是校验过的入站帧
type InboundFrame struct {
	Kind          InteractionKind
	ResponseID    int64
	HasResponseID bool
	Transcript    []model.Utterance
	Timestamp     json.Number
	TurnTaking    string
	Call          json.RawMessage
}

type inboundWire struct {
	InteractionType InteractionKind   `json:"interaction_type"`
	ResponseID      *int64            `json:"response_id,omitempty"`
	Transcript      []model.Utterance `json:"transcript,omitempty"`
	Timestamp       json.Number       `json:"timestamp,omitempty"`
	TurnTaking      string            `json:"turntaking,omitempty"`
	Call            json.RawMessage   `json:"call,omitempty"`
}

// DecodeInbound 解析并校验一帧入站 JSON，任何不合法都返回包装了 ErrProtocolViolation 的错误
func DecodeInbound(data []byte) (*InboundFrame, error) {
	var wire inboundWire
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrProtocolViolation, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after frame", ErrProtocolViolation)
	}

	switch wire.InteractionType {
	case KindCallDetails, KindPingPong, KindUpdateOnly:
	case KindResponseRequired, KindReminderRequired:
		if wire.ResponseID == nil {
			return nil, fmt.Errorf("%w: %s without response_id", ErrProtocolViolation, wire.InteractionType)
		}
	case "":
		return nil, fmt.Errorf("%w: missing interaction_type", ErrProtocolViolation)
	default:
		return nil, fmt.Errorf("%w: unknown interaction_type %q", ErrProtocolViolation, wire.InteractionType)
	}

	if wire.ResponseID != nil && *wire.ResponseID < 0 {
		return nil, fmt.Errorf("%w: negative response_id %d", ErrProtocolViolation, *wire.ResponseID)
	}

	for i, u := range wire.Transcript {
		if u.Role != model.SpeakerAgent && u.Role != model.SpeakerUser {
			return nil, fmt.Errorf("%w: transcript[%d] has role %q", ErrProtocolViolation, i, u.Role)
		}
	}

	switch wire.TurnTaking {
	case "", TurnAgent, TurnUser:
	default:
		return nil, fmt.Errorf("%w: unknown turntaking %q", ErrProtocolViolation, wire.TurnTaking)
	}

	frame := &InboundFrame{
		Kind:       wire.InteractionType,
		Transcript: wire.Transcript,
		Timestamp:  wire.Timestamp,
		TurnTaking: wire.TurnTaking,
		Call:       wire.Call,
	}
	if wire.ResponseID != nil {
		frame.ResponseID = *wire.ResponseID
		frame.HasResponseID = true
	}
	return frame, nil
}

// LastUserUtterance 返回通话记录中最近一句用户发言
func (f *InboundFrame) LastUserUtterance() string {
	for i := len(f.Transcript) - 1; i >= 0; i-- {
		if f.Transcript[i].Role == model.SpeakerUser {
			return f.Transcript[i].Content
		}
	}
	return ""
}

// 出站帧

type ConfigOptions struct {
	AutoReconnect bool `json:"auto_reconnect"`
	CallDetails   bool `json:"call_details"`
}

type ConfigFrame struct {
	ResponseType string        `json:"response_type"`
	Config       ConfigOptions `json:"config"`
}

type ResponseFrame struct {
	ResponseType    string `json:"response_type"`
	ResponseID      int64  `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
}

type PingPongFrame struct {
	ResponseType string      `json:"response_type"`
	Timestamp    json.Number `json:"timestamp"`
}

// NewConfigFrame 返回握手时的 config 帧，能力标志固定：不协商自动重连，不订阅 call_details
func NewConfigFrame() *ConfigFrame {
	return &ConfigFrame{
		ResponseType: ResponseTypeConfig,
		Config:       ConfigOptions{AutoReconnect: false, CallDetails: false},
	}
}

func NewResponseFrame(responseID int64, content string, complete, endCall bool) *ResponseFrame {
	return &ResponseFrame{
		ResponseType:    ResponseTypeResponse,
		ResponseID:      responseID,
		Content:         content,
		ContentComplete: complete,
		EndCall:         endCall,
	}
}

func NewPingPongFrame(ts json.Number) *PingPongFrame {
	return &PingPongFrame{ResponseType: ResponseTypePingPong, Timestamp: ts}
}
