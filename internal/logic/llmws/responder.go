package llmws

import (
	"context"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/prompt"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/protocol"
)

// ApologyMessage 是生成失败时发给对端的内容，失败细节只写日志
const ApologyMessage = "I'm sorry, I'm having trouble responding right now. Could you say that again?"

// respond 开始 responseID 的一轮生成，之前未完成的一轮会被取消
func (l *LlmWebsocketLogic) respond(ctx context.Context, sess *CallSession, frame *protocol.InboundFrame,
	kind protocol.InteractionKind, responseID int64, logger logx.Logger) {
	genCtx, generation, ok := sess.begin(ctx, responseID)
	if !ok {
		logger.Infof("response %d already handled, ignored", responseID)
		return
	}

	logger = logger.WithFields(logx.Field("response_id", responseID))
	l.wg.Add(1)
	threading.GoSafe(func() {
		defer l.wg.Done()
		defer sess.finish(generation)
		l.streamResponse(genCtx, sess, generation, responseID, frame, kind, logger)
	})
}

// streamResponse 检索上下文、组装提示词、把模型输出逐段转发，最后发送结束帧
func (l *LlmWebsocketLogic) streamResponse(ctx context.Context, sess *CallSession, generation uint64,
	responseID int64, frame *protocol.InboundFrame, kind protocol.InteractionKind, logger logx.Logger) {
	agent := sess.Agent
	outcome := outcomeCancelled
	defer func() {
		metricResponses.Inc(agent.Provider, outcome)
	}()

	var retrieved string
	if l.svcCtx.Retriever != nil {
		retrieved = l.svcCtx.Retriever.Retrieve(ctx, agent.KnowledgeBaseID, frame.LastUserUtterance())
	}
	if ctx.Err() != nil {
		return
	}

	messages := prompt.Build(agent, retrieved, frame.Transcript, kind)
	req := prompt.NewRequest(agent, messages)

	llm, err := l.svcCtx.Registry.GetLLM(agent.Provider)
	if err != nil {
		outcome = l.apologize(ctx, sess, generation, responseID, err, logger)
		return
	}

	start := time.Now()
	deltas, err := llm.ChatStream(ctx, req)
	if err != nil {
		outcome = l.apologize(ctx, sess, generation, responseID, err, logger)
		return
	}

	var (
		full  strings.Builder
		first = true
	)
	for delta := range deltas {
		if delta.Err != nil {
			outcome = l.apologize(ctx, sess, generation, responseID, delta.Err, logger)
			return
		}
		if delta.Text == "" {
			continue
		}
		if first {
			metricFirstFragment.Observe(time.Since(start).Milliseconds(), agent.Provider)
			first = false
		}

		full.WriteString(delta.Text)
		if err := sess.writeResponse(generation, protocol.NewResponseFrame(responseID, delta.Text, false, false)); err != nil {
			logger.Debugf("stop streaming: %v", err)
			return
		}
	}

	// 被取消时模型流正常关闭，不能当作完成
	if ctx.Err() != nil {
		return
	}

	endCall := l.svcCtx.Config.Features.HangupDetection && agent.MatchHangup(full.String())
	if err := sess.writeResponse(generation, protocol.NewResponseFrame(responseID, "", true, endCall)); err != nil {
		logger.Debugf("failed to send closing frame: %v", err)
		return
	}

	outcome = outcomeCompleted
	logger.Infof("response complete in %s, end_call=%t", time.Since(start), endCall)
}

// apologize 记录失败原因并发送道歉结束帧；取消导致的错误不算失败
func (l *LlmWebsocketLogic) apologize(ctx context.Context, sess *CallSession, generation uint64,
	responseID int64, cause error, logger logx.Logger) string {
	if ctx.Err() != nil {
		return outcomeCancelled
	}

	logger.Errorf("generation failed: %v", cause)
	if err := sess.writeResponse(generation, protocol.NewResponseFrame(responseID, ApologyMessage, true, false)); err != nil {
		logger.Debugf("failed to send apology: %v", err)
	}
	return outcomeFailed
}
