package handler

import (
	"net/http"

	agent "github.com/unclewu3242592726/CosTalk/callbridge/internal/handler/agent"
	health "github.com/unclewu3242592726/CosTalk/callbridge/internal/handler/health"
	llmws "github.com/unclewu3242592726/CosTalk/callbridge/internal/handler/llmws"
	service "github.com/unclewu3242592726/CosTalk/callbridge/internal/handler/service"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"

	"github.com/zeromicro/go-zero/rest"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		websocketRoutes(serverCtx),
		rest.WithTimeout(0),
	)

	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/health",
				Handler: health.HealthHandler(serverCtx),
			},
		},
	)

	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/services",
				Handler: service.GetServicesHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/services/:type",
				Handler: service.GetServicesByTypeHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/services/:type/:name",
				Handler: service.GetServiceStatusHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/agents/:agent_id",
				Handler: agent.GetAgentHandler(serverCtx),
			},
		},
		rest.WithPrefix("/api"),
	)
}

// websocketRoutes call id 和 agent id 可以放在路径里，也可以只放在查询参数里
func websocketRoutes(serverCtx *svc.ServiceContext) []rest.Route {
	return []rest.Route{
		{
			Method:  http.MethodGet,
			Path:    "/llm-websocket",
			Handler: llmws.LlmWebsocketHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/llm-websocket/:call_id",
			Handler: llmws.LlmWebsocketHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/agents/:agent_id/llm-websocket/:call_id",
			Handler: llmws.LlmWebsocketHandler(serverCtx),
		},
	}
}
