package agent

import (
	"net/http"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/logic/agent"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"
	"github.com/zeromicro/go-zero/rest/httpx"
)

func GetAgentHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AgentRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}

		l := agent.NewGetAgentLogic(r.Context(), svcCtx)
		resp, err := l.GetAgent(&req)
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}
