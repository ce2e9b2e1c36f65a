package llmws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/protocol"
)

var (
	errSessionClosed = errors.New("session closed")
	errSuperseded    = errors.New("response superseded")
)

// Conn 是会话需要的 WebSocket 能力，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// CallSession 是一通电话的会话状态
type CallSession struct {
	CallID  string
	AgentID string
	Agent   *model.AgentConfig // 只读

	conn         Conn
	writeTimeout time.Duration

	// WebSocket写入互斥锁 - 每个连接一个
	writeMu sync.Mutex
	closed  bool

	mu         sync.Mutex
	active     bool
	activeID   int64
	cancel     context.CancelFunc
	generation uint64
	// 已经开始过的最大 response id，-1 表示还没有
	lastStarted int64
	highestSeen int64
}

func newCallSession(conn Conn, callID string, agent *model.AgentConfig, writeTimeout time.Duration) *CallSession {
	return &CallSession{
		CallID:       callID,
		AgentID:      agent.ID,
		Agent:        agent,
		conn:         conn,
		writeTimeout: writeTimeout,
		lastStarted:  -1,
		highestSeen:  -1,
	}
}

// observe 记录对端发来的 response id
func (s *CallSession) observe(id int64) {
	s.mu.Lock()
	if id > s.highestSeen {
		s.highestSeen = id
	}
	s.mu.Unlock()
}

// highestResponseID 返回目前见过的最大 response id
func (s *CallSession) highestResponseID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestSeen, s.highestSeen >= 0
}

// markStarted 把 id 记为已处理，用于开场白
func (s *CallSession) markStarted(id int64) {
	s.mu.Lock()
	if id > s.lastStarted {
		s.lastStarted = id
	}
	s.mu.Unlock()
}

// begin 取消正在进行的生成并开始新的一轮，取消与替换在同一把锁内完成。
// id 不大于已开始过的 id 时返回 false（重复或过期的请求）。
func (s *CallSession) begin(parent context.Context, id int64) (context.Context, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id <= s.lastStarted {
		return nil, 0, false
	}
	if s.active && s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	s.generation++
	s.active = true
	s.activeID = id
	s.cancel = cancel
	s.lastStarted = id
	return ctx, s.generation, true
}

// finish 结束 generation 对应的一轮；已被替换时什么也不做
func (s *CallSession) finish(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.active = false
	s.cancel = nil
}

// cancelActive 取消正在进行的生成，之后该轮的帧不会再写出
func (s *CallSession) cancelActive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.active = false
	s.cancel = nil
}

// ActiveResponseID 返回正在生成的 response id
func (s *CallSession) ActiveResponseID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.active
}

func (s *CallSession) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == generation
}

// writeFrame 写出一帧 JSON
func (s *CallSession) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(data)
}

// writeResponse 只在 generation 仍是当前一轮时写出，
// 检查和写入都在写锁内，被替换的流不会在新 id 之后插入帧
func (s *CallSession) writeResponse(generation uint64, frame *protocol.ResponseFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.current(generation) {
		return errSuperseded
	}
	return s.writeLocked(data)
}

func (s *CallSession) writeLocked(data []byte) error {
	if s.closed {
		return errSessionClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// close 取消生成并发送关闭帧，之后的写入全部丢弃
func (s *CallSession) close(code int) {
	s.cancelActive()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	writeClose(s.conn, code, s.writeTimeout)
}

func writeClose(conn Conn, code int, timeout time.Duration) {
	if timeout <= 0 {
		timeout = time.Second
	}
	msg := websocket.FormatCloseMessage(code, protocol.CloseReason(code))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}
