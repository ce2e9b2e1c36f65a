package llmws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/agentstore"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/protocol"
)

// 会话结束原因，用于指标
const (
	reasonRemoteClosed      = "remote_closed"
	reasonMissingAgent      = "missing_agent"
	reasonConfigUnavailable = "config_unavailable"
	reasonUnsupportedData   = "unsupported_data"
	reasonProtocolError     = "protocol_error"
	reasonWriteFailed       = "write_failed"
)

// CallTarget 是从连接地址中解析出的通话标识
type CallTarget struct {
	CallID  string
	AgentID string
}

type LlmWebsocketLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
	// 生成任务和保活任务，会话结束时等待它们退出
	wg sync.WaitGroup
}

func NewLlmWebsocketLogic(ctx context.Context, svcCtx *svc.ServiceContext) *LlmWebsocketLogic {
	return &LlmWebsocketLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// HandleWebSocket 驱动一通电话从握手到断开的全过程，返回时所有生成任务都已退出
func (l *LlmWebsocketLogic) HandleWebSocket(conn Conn, target CallTarget) {
	defer conn.Close()

	conf := l.svcCtx.Config.Session
	logger := l.Logger.WithFields(logx.Field("call_id", target.CallID), logx.Field("agent_id", target.AgentID))

	if target.AgentID == "" {
		logger.Infof("rejecting call without agent id")
		metricSessions.Inc(reasonMissingAgent)
		writeClose(conn, protocol.ClosePolicyViolation, conf.WriteTimeout)
		return
	}

	agent, err := l.svcCtx.Agents.Load(l.ctx, target.AgentID)
	if err != nil {
		if errors.Is(err, agentstore.ErrNotFound) {
			logger.Infof("rejecting call: %v", err)
		} else {
			logger.Errorf("failed to load agent config: %v", err)
		}
		metricSessions.Inc(reasonConfigUnavailable)
		writeClose(conn, protocol.CloseConfigUnavailable, conf.WriteTimeout)
		return
	}

	if conf.MaxMessageSize > 0 {
		conn.SetReadLimit(conf.MaxMessageSize)
	}

	ctx, cancel := context.WithCancel(l.ctx)
	sess := newCallSession(conn, target.CallID, agent, conf.WriteTimeout)
	defer func() {
		cancel()
		sess.cancelActive()
		l.wg.Wait()
	}()

	// 握手：先发 config，再发开场白（response_id 0）
	if err := sess.writeFrame(protocol.NewConfigFrame()); err != nil {
		logger.Errorf("failed to send config frame: %v", err)
		metricSessions.Inc(reasonWriteFailed)
		return
	}
	if err := sess.writeFrame(protocol.NewResponseFrame(0, agent.Greeting, true, false)); err != nil {
		logger.Errorf("failed to send greeting: %v", err)
		metricSessions.Inc(reasonWriteFailed)
		return
	}
	sess.markStarted(0)
	logger.Infof("call session started, provider=%s model=%s", agent.Provider, agent.Model)

	if conf.PingInterval > 0 {
		l.wg.Add(1)
		threading.GoSafe(func() {
			defer l.wg.Done()
			keepAlive(ctx, conn, conf.PingInterval, conf.WriteTimeout)
		})
	}

	reason := l.readLoop(ctx, sess, logger)
	metricSessions.Inc(reason)
	logger.Infof("call session ended: %s", reason)
}

// 主消息循环
func (l *LlmWebsocketLogic) readLoop(ctx context.Context, sess *CallSession, logger logx.Logger) string {
	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				logger.Errorf("WebSocket error: %v", err)
			}
			return reasonRemoteClosed
		}

		if messageType != websocket.TextMessage {
			logger.Infof("closing call: unsupported binary frame")
			sess.close(protocol.CloseUnsupportedData)
			return reasonUnsupportedData
		}

		frame, err := protocol.DecodeInbound(data)
		if err != nil {
			logger.Infof("closing call: %v", err)
			sess.close(protocol.CloseProtocolError)
			return reasonProtocolError
		}

		l.dispatch(ctx, sess, frame, logger)
	}
}

// keepAlive 定期发送 ping，防止中间设备回收空闲连接
func keepAlive(ctx context.Context, conn Conn, interval, timeout time.Duration) {
	if timeout <= 0 {
		timeout = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return
			}
		}
	}
}
