package llmws

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/protocol"
)

// dispatch 按 interaction_type 处理一帧，需要回复的帧交给 respond 异步生成
func (l *LlmWebsocketLogic) dispatch(ctx context.Context, sess *CallSession, frame *protocol.InboundFrame, logger logx.Logger) {
	metricFrames.Inc(string(frame.Kind))
	if frame.HasResponseID {
		sess.observe(frame.ResponseID)
	}

	switch frame.Kind {
	case protocol.KindCallDetails:
		logger.Infof("call details: %s", frame.Call)

	case protocol.KindPingPong:
		if err := sess.writeFrame(protocol.NewPingPongFrame(frame.Timestamp)); err != nil {
			logger.Errorf("failed to echo ping_pong: %v", err)
		}

	case protocol.KindUpdateOnly:
		if !l.svcCtx.Config.Features.TurnTakingPromotion || frame.TurnTaking != protocol.TurnAgent {
			return
		}
		id, ok := frame.ResponseID, frame.HasResponseID
		if !ok {
			id, ok = sess.highestResponseID()
		}
		if !ok {
			logger.Infof("agent_turn hint without any response id, ignored")
			return
		}
		l.respond(ctx, sess, frame, protocol.KindResponseRequired, id, logger)

	case protocol.KindResponseRequired, protocol.KindReminderRequired:
		l.respond(ctx, sess, frame, frame.Kind, frame.ResponseID, logger)
	}
}
