package agent

import (
	"context"
	"errors"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/agentstore"

	"github.com/zeromicro/go-zero/core/logx"
)

type GetAgentLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetAgentLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetAgentLogic {
	return &GetAgentLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// GetAgent 返回补齐默认值后的 Agent 配置，凭证已脱敏
func (l *GetAgentLogic) GetAgent(req *types.AgentRequest) (resp *types.AgentResponse, err error) {
	cfg, err := l.svcCtx.Agents.Load(l.ctx, req.AgentID)
	if errors.Is(err, agentstore.ErrNotFound) {
		return &types.AgentResponse{
			Code:    404,
			Message: err.Error(),
		}, nil
	}
	if err != nil {
		l.Errorf("load agent %s: %v", req.AgentID, err)
		return nil, err
	}

	redacted := cfg.Redacted()
	var temperature float64
	if redacted.Temperature != nil {
		temperature = *redacted.Temperature
	}
	return &types.AgentResponse{
		Code:    0,
		Message: "success",
		Data: &types.AgentInfo{
			ID:              redacted.ID,
			SystemPrompt:    redacted.SystemPrompt,
			Greeting:        redacted.Greeting,
			Provider:        redacted.Provider,
			Model:           redacted.Model,
			Temperature:     temperature,
			MaxTokens:       redacted.MaxTokens,
			ReminderPrompt:  redacted.ReminderPrompt,
			KnowledgeBaseID: redacted.KnowledgeBaseID,
			HangupPhrases:   redacted.HangupPhrases,
			Language:        redacted.Language,
			APIKey:          redacted.APIKey,
		},
	}, nil
}
