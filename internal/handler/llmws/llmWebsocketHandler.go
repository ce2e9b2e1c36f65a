package llmws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/logic/llmws"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 对端是语音平台的服务端，不校验 Origin
		return true
	},
}

func LlmWebsocketHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := ParseTarget(r)

		// 升级 HTTP 连接为 WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("WebSocket upgrade failed: %v", err)
			return
		}

		// 会话生命周期不受 HTTP 超时控制，由连接本身决定
		ctx := context.WithoutCancel(r.Context())
		l := llmws.NewLlmWebsocketLogic(ctx, svcCtx)
		l.HandleWebSocket(conn, target)
	}
}

// ParseTarget 从路径或查询参数中取 call id 和 agent id，路径优先；没有 call id 时生成一个
func ParseTarget(r *http.Request) llmws.CallTarget {
	vars := pathvar.Vars(r)
	query := r.URL.Query()

	target := llmws.CallTarget{
		CallID:  vars["call_id"],
		AgentID: vars["agent_id"],
	}
	if target.CallID == "" {
		target.CallID = query.Get("call_id")
	}
	if target.AgentID == "" {
		target.AgentID = query.Get("agent_id")
	}
	if target.CallID == "" {
		target.CallID = uuid.NewString()
	}
	return target
}
